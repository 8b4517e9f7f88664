package repository

import (
	"encoding/json"
	"fmt"
	"sync"

	"ojcore/internal/judge/runner"

	"github.com/klauspost/compress/zstd"
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func initCodec() {
	encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if codecErr != nil {
		return
	}
	decoder, codecErr = zstd.NewReader(nil)
}

// EncodeResults serializes per-case results for the results column.
func EncodeResults(results []runner.CaseResult) ([]byte, error) {
	codecOnce.Do(initCodec)
	if codecErr != nil {
		return nil, codecErr
	}
	if results == nil {
		results = []runner.CaseResult{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encode case results: %w", err)
	}
	return encoder.EncodeAll(payload, nil), nil
}

// DecodeResults reverses EncodeResults. An empty blob yields no results.
func DecodeResults(data []byte) ([]runner.CaseResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	codecOnce.Do(initCodec)
	if codecErr != nil {
		return nil, codecErr
	}
	payload, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress case results: %w", err)
	}
	var results []runner.CaseResult
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, fmt.Errorf("decode case results: %w", err)
	}
	return results, nil
}
