package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
	"ojcore/internal/user/repository"
	pkgerrors "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultLoginFailTTL    = 15 * time.Minute
	defaultLoginFailLimit  = 5

	loginFailKeyPrefix = "login:fail:"
)

// AuthServiceConfig holds configuration for AuthService.
type AuthServiceConfig struct {
	LoginFailTTL   time.Duration
	LoginFailLimit int
	BcryptCost     int
}

// AuthService handles user authentication flows.
type AuthService struct {
	dbProvider     db.Provider
	users          repository.UserRepository
	sessions       *SessionService
	loginFailCache cache.BasicOps
	config         AuthServiceConfig
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	provider db.Provider,
	users repository.UserRepository,
	sessions *SessionService,
	loginFailCache cache.BasicOps,
	cfg AuthServiceConfig,
) *AuthService {
	if cfg.LoginFailTTL == 0 {
		cfg.LoginFailTTL = defaultLoginFailTTL
	}
	if cfg.LoginFailLimit == 0 {
		cfg.LoginFailLimit = defaultLoginFailLimit
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	return &AuthService{
		dbProvider:     provider,
		users:          users,
		sessions:       sessions,
		loginFailCache: loginFailCache,
		config:         cfg,
	}
}

// LoginInput represents input for user login.
type LoginInput struct {
	Username string
	Password string
	IP       string
}

// RefreshInput represents input for token refresh.
type RefreshInput struct {
	RefreshToken string
}

// LogoutInput represents input for logout.
type LogoutInput struct {
	RefreshToken string
}

// ChangePasswordInput represents input for a password change.
type ChangePasswordInput struct {
	UserID      int64
	OldPassword string
	NewPassword string
}

// UserInfo represents basic user info for auth responses.
type UserInfo struct {
	ID       int64
	Username string
	Role     repository.UserRole
}

// AuthResult represents the result of auth operations.
type AuthResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             UserInfo
}

// Login verifies credentials and issues tokens.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	if err := validateUsername(input.Username); err != nil {
		return AuthResult{}, err
	}
	if err := validateLoginPassword(input.Password); err != nil {
		return AuthResult{}, err
	}

	if err := s.checkLoginLimit(ctx, input.Username, input.IP); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.GetByUsername(ctx, nil, input.Username)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			s.recordLoginFailure(ctx, input.Username, input.IP)
			return AuthResult{}, pkgerrors.New(pkgerrors.InvalidCredentials)
		}
		return AuthResult{}, pkgerrors.Wrap(fmt.Errorf("get user failed: %w", err), pkgerrors.DatabaseError)
	}

	if err := checkUserStatus(user); err != nil {
		return AuthResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.recordLoginFailure(ctx, input.Username, input.IP)
		return AuthResult{}, pkgerrors.New(pkgerrors.InvalidCredentials)
	}

	s.clearLoginFailure(ctx, input.Username, input.IP)

	result, err := s.issueTokens(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	logger.Info(ctx, "user logged in", zap.Int64("user_id", user.ID))
	return result, nil
}

// Refresh redeems a refresh token and issues a new pair on a new session.
func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (AuthResult, error) {
	grant, err := s.sessions.ConsumeRefresh(ctx, input.RefreshToken)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.getUserByID(ctx, nil, grant.UserID)
	if err != nil {
		return AuthResult{}, err
	}
	if err := checkUserStatus(user); err != nil {
		return AuthResult{}, err
	}
	return s.issueTokens(ctx, user)
}

// Logout revokes the session of a refresh token.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) error {
	return s.sessions.Revoke(ctx, input.RefreshToken)
}

// LogoutAll revokes every session of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID int64) error {
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}
	logger.Info(ctx, "all sessions revoked", zap.Int64("user_id", userID))
	return nil
}

// ChangePassword replaces the password and ends every session of the user.
func (s *AuthService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	if err := validateLoginPassword(input.OldPassword); err != nil {
		return err
	}
	if err := validatePassword(input.NewPassword); err != nil {
		return err
	}
	if input.OldPassword == input.NewPassword {
		return pkgerrors.New(pkgerrors.InvalidPassword).WithMessage("new password must differ from the old one")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), s.config.BcryptCost)
	if err != nil {
		return pkgerrors.Wrap(fmt.Errorf("hash password failed: %w", err), pkgerrors.InternalServerError)
	}

	err = s.withTransaction(ctx, func(tx db.Transaction) error {
		user, err := s.getUserByID(ctx, tx, input.UserID)
		if err != nil {
			return err
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.OldPassword)); err != nil {
			return pkgerrors.New(pkgerrors.PasswordIncorrect)
		}
		if err := s.users.UpdatePassword(ctx, tx, user.ID, string(passwordHash)); err != nil {
			if stderrors.Is(err, repository.ErrUserNotFound) {
				return pkgerrors.New(pkgerrors.UserNotFound)
			}
			return pkgerrors.Wrap(fmt.Errorf("update password failed: %w", err), pkgerrors.DatabaseError)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.sessions.RevokeAll(ctx, input.UserID); err != nil {
		return err
	}
	logger.Info(ctx, "password changed", zap.Int64("user_id", input.UserID))
	return nil
}

// CurrentSession returns the live session behind an authenticated request.
func (s *AuthService) CurrentSession(ctx context.Context, userID int64, sessionHash string) (*repository.Session, error) {
	session, err := s.sessions.GetMeta(ctx, userID, sessionHash)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.SessionNotFound)
	}
	return session, nil
}

func (s *AuthService) withTransaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	database, err := db.CurrentDatabase(s.dbProvider)
	if err != nil || !db.SupportsTransactions(s.dbProvider) {
		return fn(nil)
	}
	if err := database.Transaction(ctx, fn); err != nil {
		if _, ok := pkgerrors.As(err); ok {
			return err
		}
		return pkgerrors.Wrap(fmt.Errorf("transaction failed: %w", err), pkgerrors.TransactionFailed)
	}
	return nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *repository.User) (AuthResult, error) {
	pair, err := s.sessions.Issue(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User: UserInfo{
			ID:       user.ID,
			Username: user.Username,
			Role:     user.Role,
		},
	}, nil
}

func (s *AuthService) getUserByID(ctx context.Context, tx db.Transaction, userID int64) (*repository.User, error) {
	user, err := s.users.GetByID(ctx, tx, userID)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			return nil, pkgerrors.New(pkgerrors.UserNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get user failed: %w", err), pkgerrors.DatabaseError)
	}
	return user, nil
}

func checkUserStatus(user *repository.User) error {
	switch user.Status {
	case repository.UserStatusBanned:
		return pkgerrors.New(pkgerrors.AccountSuspended)
	case repository.UserStatusPendingVerify:
		return pkgerrors.New(pkgerrors.AccountNotActivated)
	}
	return nil
}

func (s *AuthService) checkLoginLimit(ctx context.Context, username, ip string) error {
	if s.loginFailCache == nil {
		return nil
	}
	value, err := s.loginFailCache.Get(ctx, loginFailKey(username, ip))
	if err != nil {
		logger.Warn(ctx, "read login failures failed", zap.Error(err))
		return nil
	}
	if value == "" {
		return nil
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	if count >= s.config.LoginFailLimit {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage("too many failed login attempts")
	}
	return nil
}

func (s *AuthService) recordLoginFailure(ctx context.Context, username, ip string) {
	if s.loginFailCache == nil {
		return
	}
	key := loginFailKey(username, ip)
	count, err := s.loginFailCache.Incr(ctx, key)
	if err != nil {
		logger.Warn(ctx, "record login failure failed", zap.Error(err))
		return
	}
	if count == 1 {
		_ = s.loginFailCache.Expire(ctx, key, s.config.LoginFailTTL)
	}
}

func (s *AuthService) clearLoginFailure(ctx context.Context, username, ip string) {
	if s.loginFailCache == nil {
		return
	}
	_ = s.loginFailCache.Del(ctx, loginFailKey(username, ip))
}

func loginFailKey(username, ip string) string {
	return loginFailKeyPrefix + username + ":" + ip
}
