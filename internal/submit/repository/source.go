package repository

import (
	"context"
	"fmt"
	"io"
	"strings"

	"ojcore/internal/common/storage"
)

const defaultSourcePrefix = "submissions"

// SourceArchive keeps a copy of submitted source in object storage.
type SourceArchive struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
}

func NewSourceArchive(objectStorage storage.ObjectStorage, bucket, prefix string) (*SourceArchive, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if prefix == "" {
		prefix = defaultSourcePrefix
	}
	return &SourceArchive{storage: objectStorage, bucket: bucket, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

// Key returns the object key used for a submission's source.
func (a *SourceArchive) Key(submissionID string) string {
	return fmt.Sprintf("%s/%s/source.code", a.prefix, submissionID)
}

// Put uploads source and returns its object key.
func (a *SourceArchive) Put(ctx context.Context, submissionID, source string) (string, error) {
	key := a.Key(submissionID)
	reader := strings.NewReader(source)
	if err := a.storage.PutObject(ctx, a.bucket, key, reader, reader.Size(), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return key, nil
}

// Get downloads the source stored under key.
func (a *SourceArchive) Get(ctx context.Context, key string) (string, error) {
	body, err := a.storage.GetObject(ctx, a.bucket, key)
	if err != nil {
		return "", err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
