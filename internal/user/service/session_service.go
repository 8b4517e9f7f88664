package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"ojcore/internal/user/repository"
	pkgerrors "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultInactivityTTL = 24 * time.Hour
	defaultMaxSessions   = 5
	defaultTouchInterval = 60 * time.Second
	defaultCacheTimeout  = 2 * time.Second
	defaultJWTIssuer     = "ojcore"
)

// SessionConfig holds configuration for SessionService.
type SessionConfig struct {
	Sessions      repository.SessionRepository
	JWTSecret     []byte
	JWTIssuer     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	InactivityTTL time.Duration
	MaxSessions   int
	TouchInterval time.Duration
	CacheTimeout  time.Duration
	Now           func() time.Time
}

// TokenPair is the result of issuing a session.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionHash      string
}

// TouchResult reports the session state after a touch.
// Touched is false when the call fell inside the minimum touch interval.
type TouchResult struct {
	Session *repository.Session
	Touched bool
}

// RefreshGrant identifies the user whose refresh token was consumed.
type RefreshGrant struct {
	UserID      int64
	Role        string
	SessionHash string
}

// Principal is the authenticated caller behind an access token.
type Principal struct {
	UserID      int64
	Role        string
	SessionHash string
}

// SessionService manages per-user sessions and the tokens bound to them.
type SessionService struct {
	sessions      repository.SessionRepository
	signer        tokenSigner
	accessTTL     time.Duration
	refreshTTL    time.Duration
	inactivityTTL time.Duration
	maxSessions   int
	touchInterval time.Duration
	cacheTimeout  time.Duration
	now           func() time.Time
}

func NewSessionService(cfg SessionConfig) (*SessionService, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session repository is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTokenTTL
	}
	if cfg.InactivityTTL <= 0 {
		cfg.InactivityTTL = defaultInactivityTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.TouchInterval < 0 {
		cfg.TouchInterval = 0
	} else if cfg.TouchInterval == 0 {
		cfg.TouchInterval = defaultTouchInterval
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = defaultCacheTimeout
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = defaultJWTIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionService{
		sessions:      cfg.Sessions,
		signer:        tokenSigner{secret: cfg.JWTSecret, issuer: cfg.JWTIssuer, now: cfg.Now},
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		inactivityTTL: cfg.InactivityTTL,
		maxSessions:   cfg.MaxSessions,
		touchInterval: cfg.TouchInterval,
		cacheTimeout:  cfg.CacheTimeout,
		now:           cfg.Now,
	}, nil
}

// Issue opens a new session for user and signs its token pair.
// Expired sessions are pruned first and the oldest live sessions are evicted
// so the user never holds more than the configured maximum.
func (s *SessionService) Issue(ctx context.Context, user *repository.User) (*TokenPair, error) {
	if user == nil || user.ID <= 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("user is required")
	}
	ctxCache := withTimeout(ctx, s.cacheTimeout)
	defer ctxCache.cancel()

	now := s.now()
	live, err := s.liveSessions(ctxCache.ctx, user.ID, now)
	if err != nil {
		return nil, err
	}

	hash, err := newSessionHash()
	if err != nil {
		return nil, err
	}
	session := &repository.Session{
		Hash:                hash,
		ExpiresAt:           now.Add(s.refreshTTL),
		InactivityExpiresAt: now.Add(s.inactivityTTL),
		LastTouchedAt:       now,
		CreatedAt:           now,
	}
	if err := s.sessions.Save(ctxCache.ctx, user.ID, session, s.refreshTTL); err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("save session failed: %w", err), pkgerrors.CacheError)
	}

	if excess := len(live) + 1 - s.maxSessions; excess > 0 {
		evicted := make([]string, 0, excess)
		for _, old := range live[:excess] {
			evicted = append(evicted, old.Hash)
		}
		if _, err := s.sessions.Delete(ctxCache.ctx, user.ID, evicted...); err != nil {
			return nil, pkgerrors.Wrap(fmt.Errorf("evict sessions failed: %w", err), pkgerrors.CacheError)
		}
		logger.Info(ctx, "evicted oldest sessions", zap.Int64("user_id", user.ID), zap.Int("count", len(evicted)))
	}

	accessExp := now.Add(s.accessTTL)
	accessToken, err := s.signer.sign(user.ID, string(user.Role), hash, tokenTypeAccess, now, accessExp)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.signer.sign(user.ID, string(user.Role), hash, tokenTypeRefresh, now, session.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: session.ExpiresAt,
		SessionHash:      hash,
	}, nil
}

// Touch slides the inactivity expiry of a live session. It returns nil when
// the session is absent or expired; expired sessions are removed.
func (s *SessionService) Touch(ctx context.Context, userID int64, sessionHash string, force bool) (*TouchResult, error) {
	ctxCache := withTimeout(ctx, s.cacheTimeout)
	defer ctxCache.cancel()

	now := s.now()
	session, err := s.loadLive(ctxCache.ctx, userID, sessionHash, now)
	if err != nil || session == nil {
		return nil, err
	}
	if !force && now.Sub(session.LastTouchedAt) < s.touchInterval {
		return &TouchResult{Session: session, Touched: false}, nil
	}

	session.LastTouchedAt = now
	session.InactivityExpiresAt = now.Add(s.inactivityTTL)
	updated, err := s.sessions.Update(ctxCache.ctx, userID, session, session.ExpiresAt.Sub(now))
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("touch session failed: %w", err), pkgerrors.CacheError)
	}
	if !updated {
		// Consumed or revoked since it was read.
		return nil, nil
	}
	return &TouchResult{Session: session, Touched: true}, nil
}

// GetMeta returns the live session or nil.
func (s *SessionService) GetMeta(ctx context.Context, userID int64, sessionHash string) (*repository.Session, error) {
	ctxCache := withTimeout(ctx, s.cacheTimeout)
	defer ctxCache.cancel()
	return s.loadLive(ctxCache.ctx, userID, sessionHash, s.now())
}

// ConsumeRefresh redeems a refresh token exactly once.
// A well-formed token whose session is gone is treated as reuse.
func (s *SessionService) ConsumeRefresh(ctx context.Context, refreshToken string) (*RefreshGrant, error) {
	claims, userID, err := s.signer.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	ctxCache := withTimeout(ctx, s.cacheTimeout)
	defer ctxCache.cancel()

	session, err := s.sessions.Get(ctxCache.ctx, userID, claims.SessionID)
	if err != nil {
		if stderrors.Is(err, repository.ErrSessionNotFound) {
			logger.Warn(ctx, "refresh token reused", zap.Int64("user_id", userID))
			return nil, pkgerrors.New(pkgerrors.RefreshTokenReused)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get session failed: %w", err), pkgerrors.CacheError)
	}
	if !session.ValidAt(s.now()) {
		s.prune(ctxCache.ctx, userID, session.Hash)
		return nil, pkgerrors.New(pkgerrors.TokenExpired)
	}

	removed, err := s.sessions.Delete(ctxCache.ctx, userID, session.Hash)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("consume session failed: %w", err), pkgerrors.CacheError)
	}
	if removed == 0 {
		logger.Warn(ctx, "refresh token consumed concurrently", zap.Int64("user_id", userID))
		return nil, pkgerrors.New(pkgerrors.RefreshTokenReused)
	}
	return &RefreshGrant{UserID: userID, Role: claims.Role, SessionHash: session.Hash}, nil
}

// Revoke ends the session a refresh token belongs to. Revoking an already
// ended or expired session is not an error.
func (s *SessionService) Revoke(ctx context.Context, refreshToken string) error {
	claims, userID, err := s.signer.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.TokenExpired) {
			return nil
		}
		return err
	}
	ctxCache := withTimeout(ctx, s.cacheTimeout)
	defer ctxCache.cancel()

	if _, err := s.sessions.Delete(ctxCache.ctx, userID, claims.SessionID); err != nil {
		return pkgerrors.Wrap(fmt.Errorf("revoke session failed: %w", err), pkgerrors.CacheError)
	}
	return nil
}

// RevokeAll ends every session of the user.
func (s *SessionService) RevokeAll(ctx context.Context, userID int64) error {
	ctxCache := withTimeout(ctx, s.cacheTimeout)
	defer ctxCache.cancel()

	if err := s.sessions.DeleteAll(ctxCache.ctx, userID); err != nil {
		return pkgerrors.Wrap(fmt.Errorf("revoke sessions failed: %w", err), pkgerrors.CacheError)
	}
	return nil
}

// Authenticate verifies an access token and keeps its session alive.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, userID, err := s.signer.parse(accessToken, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	result, err := s.Touch(ctx, userID, claims.SessionID, false)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, pkgerrors.New(pkgerrors.SessionNotFound)
	}
	return &Principal{UserID: userID, Role: claims.Role, SessionHash: claims.SessionID}, nil
}

// liveSessions lists the user's sessions oldest first, pruning expired ones.
func (s *SessionService) liveSessions(ctx context.Context, userID int64, now time.Time) ([]*repository.Session, error) {
	all, err := s.sessions.List(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("list sessions failed: %w", err), pkgerrors.CacheError)
	}
	live := make([]*repository.Session, 0, len(all))
	var expired []string
	for _, session := range all {
		if session.ValidAt(now) {
			live = append(live, session)
		} else {
			expired = append(expired, session.Hash)
		}
	}
	s.prune(ctx, userID, expired...)
	return live, nil
}

func (s *SessionService) loadLive(ctx context.Context, userID int64, sessionHash string, now time.Time) (*repository.Session, error) {
	session, err := s.sessions.Get(ctx, userID, sessionHash)
	if err != nil {
		if stderrors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get session failed: %w", err), pkgerrors.CacheError)
	}
	if !session.ValidAt(now) {
		s.prune(ctx, userID, session.Hash)
		return nil, nil
	}
	return session, nil
}

// prune is best effort; a failed delete leaves an entry that is still
// treated as absent on every read.
func (s *SessionService) prune(ctx context.Context, userID int64, hashes ...string) {
	if len(hashes) == 0 {
		return
	}
	if _, err := s.sessions.Delete(ctx, userID, hashes...); err != nil {
		logger.Warn(ctx, "prune expired sessions failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
