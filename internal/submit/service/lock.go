package service

import (
	"context"
	"sync"
	"time"

	"ojcore/internal/common/cache"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	lockKeyPrefix  = "submit:lock:"
	defaultLockTTL = 5 * time.Minute
)

// evaluationLocks excludes concurrent evaluations of one submission. It uses
// the shared cache when one is configured and a process-local set otherwise.
type evaluationLocks struct {
	cache   cache.LockOps
	ttl     time.Duration
	timeout time.Duration

	mu    sync.Mutex
	local map[string]struct{}
}

func newEvaluationLocks(lockOps cache.LockOps, ttl, timeout time.Duration) *evaluationLocks {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &evaluationLocks{
		cache:   lockOps,
		ttl:     ttl,
		timeout: timeout,
		local:   make(map[string]struct{}),
	}
}

// acquire returns SubmissionInProgress when another evaluation holds the lock.
func (l *evaluationLocks) acquire(ctx context.Context, submissionID string) (func(), error) {
	if l.cache == nil {
		return l.acquireLocal(submissionID)
	}

	key := lockKeyPrefix + submissionID
	token := uuid.NewString()
	ctxCache := withTimeout(ctx, l.timeout)
	defer ctxCache.cancel()
	ok, err := l.cache.TryLock(ctxCache.ctx, key, token, l.ttl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LockFailed, "acquire evaluation lock failed")
	}
	if !ok {
		return nil, appErr.New(appErr.SubmissionInProgress)
	}
	return func() {
		ctxRelease, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		released, err := l.cache.Unlock(ctxRelease, key, token)
		if err != nil {
			logger.Warn(ctx, "release evaluation lock failed", zap.String("submission_id", submissionID), zap.Error(err))
			return
		}
		if !released {
			logger.Warn(ctx, "evaluation lock expired before release", zap.String("submission_id", submissionID))
		}
	}, nil
}

func (l *evaluationLocks) acquireLocal(submissionID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.local[submissionID]; held {
		return nil, appErr.New(appErr.SubmissionInProgress)
	}
	l.local[submissionID] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.local, submissionID)
		l.mu.Unlock()
	}, nil
}
