package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"ojcore/internal/common/cache"
)

const sessionKeyPrefix = "session:user:"

// Session is one login of a user. It is stored as a field of the per-user
// session hash, keyed by Hash.
type Session struct {
	Hash                string    `json:"hash"`
	ExpiresAt           time.Time `json:"expires_at"`
	InactivityExpiresAt time.Time `json:"inactivity_expires_at"`
	LastTouchedAt       time.Time `json:"last_touched_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// ValidAt reports whether neither the absolute nor the inactivity expiry has passed.
func (s *Session) ValidAt(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt) && now.Before(s.InactivityExpiresAt)
}

type SessionRepository interface {
	// Save writes the session and extends the hash lifetime to at least keyTTL.
	Save(ctx context.Context, userID int64, session *Session, keyTTL time.Duration) error
	// Update rewrites a session only while it still exists and reports
	// whether it did, so a concurrently revoked session is never restored.
	Update(ctx context.Context, userID int64, session *Session, keyTTL time.Duration) (bool, error)
	Get(ctx context.Context, userID int64, hash string) (*Session, error)
	// List returns the user's sessions ordered by creation time, oldest first.
	// Unreadable entries come back with zero expiries so callers prune them.
	List(ctx context.Context, userID int64) ([]*Session, error)
	// Delete reports how many of the given sessions were actually removed.
	Delete(ctx context.Context, userID int64, hashes ...string) (int64, error)
	DeleteAll(ctx context.Context, userID int64) error
}

type sessionCache interface {
	cache.BasicOps
	cache.HashOps
}

type RedisSessionRepository struct {
	cache sessionCache
}

func NewSessionRepository(cacheClient sessionCache) SessionRepository {
	return &RedisSessionRepository{cache: cacheClient}
}

func (r *RedisSessionRepository) Save(ctx context.Context, userID int64, session *Session, keyTTL time.Duration) error {
	if session == nil || session.Hash == "" {
		return errors.New("session is empty")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	key := sessionKey(userID)
	if err := r.cache.HSet(ctx, key, session.Hash, string(payload)); err != nil {
		return err
	}
	return extendTTL(ctx, r.cache, key, keyTTL)
}

func (r *RedisSessionRepository) Update(ctx context.Context, userID int64, session *Session, keyTTL time.Duration) (bool, error) {
	if session == nil || session.Hash == "" {
		return false, errors.New("session is empty")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return false, err
	}
	key := sessionKey(userID)
	updated, err := r.cache.HSetIfExists(ctx, key, session.Hash, string(payload))
	if err != nil || !updated {
		return false, err
	}
	return true, extendTTL(ctx, r.cache, key, keyTTL)
}

func (r *RedisSessionRepository) Get(ctx context.Context, userID int64, hash string) (*Session, error) {
	if hash == "" {
		return nil, ErrSessionNotFound
	}
	data, err := r.cache.HGet(ctx, sessionKey(userID), hash)
	if err != nil {
		return nil, err
	}
	if data == "" {
		return nil, ErrSessionNotFound
	}
	return decodeSession(hash, data), nil
}

func (r *RedisSessionRepository) List(ctx context.Context, userID int64) ([]*Session, error) {
	fields, err := r.cache.HGetAll(ctx, sessionKey(userID))
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(fields))
	for hash, data := range fields {
		sessions = append(sessions, decodeSession(hash, data))
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].Hash < sessions[j].Hash
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, userID int64, hashes ...string) (int64, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	return r.cache.HDel(ctx, sessionKey(userID), hashes...)
}

func (r *RedisSessionRepository) DeleteAll(ctx context.Context, userID int64) error {
	return r.cache.Del(ctx, sessionKey(userID))
}

func decodeSession(hash, data string) *Session {
	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return &Session{Hash: hash}
	}
	// The field name is authoritative.
	session.Hash = hash
	return &session
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, userID)
}
