package service

import (
	"context"
	"testing"

	"ojcore/internal/common/db"
	"ojcore/internal/user/repository"
	pkgerrors "ojcore/pkg/errors"

	"golang.org/x/crypto/bcrypt"
)

type fakeUserRepo struct {
	byID map[int64]*repository.User
}

func newFakeUserRepo(users ...*repository.User) *fakeUserRepo {
	repo := &fakeUserRepo{byID: make(map[int64]*repository.User)}
	for _, u := range users {
		copied := *u
		repo.byID[u.ID] = &copied
	}
	return repo
}

func (r *fakeUserRepo) GetByID(ctx context.Context, tx db.Transaction, id int64) (*repository.User, error) {
	user, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, tx db.Transaction, username string) (*repository.User, error) {
	for _, user := range r.byID {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepo) UpdatePassword(ctx context.Context, tx db.Transaction, userID int64, newHash string) error {
	user, ok := r.byID[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.PasswordHash = newHash
	return nil
}

const testPassword = "secret123"

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hash)
}

type authHarness struct {
	*sessionHarness
	users *fakeUserRepo
	auth  *AuthService
}

func newAuthHarness(t *testing.T) *authHarness {
	t.Helper()
	sh := newSessionHarness(t, 5)
	users := newFakeUserRepo(
		&repository.User{ID: 1, Username: "alice", PasswordHash: mustHash(t, testPassword), Role: repository.UserRoleUser, Status: repository.UserStatusActive},
		&repository.User{ID: 2, Username: "banned", PasswordHash: mustHash(t, testPassword), Role: repository.UserRoleUser, Status: repository.UserStatusBanned},
		&repository.User{ID: 3, Username: "pending", PasswordHash: mustHash(t, testPassword), Role: repository.UserRoleUser, Status: repository.UserStatusPendingVerify},
	)
	auth := NewAuthService(nil, users, sh.service, sh.cache, AuthServiceConfig{LoginFailLimit: 3, BcryptCost: bcrypt.MinCost})
	return &authHarness{sessionHarness: sh, users: users, auth: auth}
}

func TestAuthService_Login(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		want     pkgerrors.ErrorCode
	}{
		{name: "success", username: "alice", password: testPassword, want: pkgerrors.Success},
		{name: "wrong password", username: "alice", password: "wrongpass1", want: pkgerrors.InvalidCredentials},
		{name: "unknown user", username: "nobody", password: testPassword, want: pkgerrors.InvalidCredentials},
		{name: "banned", username: "banned", password: testPassword, want: pkgerrors.AccountSuspended},
		{name: "pending", username: "pending", password: testPassword, want: pkgerrors.AccountNotActivated},
		{name: "bad username", username: "1x", password: testPassword, want: pkgerrors.InvalidUsername},
		{name: "short password", username: "alice", password: "short", want: pkgerrors.PasswordTooWeak},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAuthHarness(t)
			result, err := h.auth.Login(context.Background(), LoginInput{Username: tt.username, Password: tt.password, IP: "10.0.0.1"})
			if got := pkgerrors.GetCode(err); got != tt.want {
				t.Fatalf("code = %v, want %v (err %v)", got, tt.want, err)
			}
			if tt.want == pkgerrors.Success {
				if result.AccessToken == "" || result.RefreshToken == "" || result.User.ID != 1 {
					t.Fatalf("unexpected result: %+v", result)
				}
				if n := h.sessionCount(t, 1); n != 1 {
					t.Fatalf("expected one session, got %d", n)
				}
			}
		})
	}
}

func TestAuthService_LoginFailureLimit(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.auth.Login(ctx, LoginInput{Username: "alice", Password: "wrongpass1", IP: "10.0.0.1"})
		if !pkgerrors.Is(err, pkgerrors.InvalidCredentials) {
			t.Fatalf("attempt %d: expected InvalidCredentials, got %v", i, err)
		}
	}
	_, err := h.auth.Login(ctx, LoginInput{Username: "alice", Password: testPassword, IP: "10.0.0.1"})
	if !pkgerrors.Is(err, pkgerrors.TooManyRequests) {
		t.Fatalf("expected TooManyRequests, got %v", err)
	}
	if _, err := h.auth.Login(ctx, LoginInput{Username: "alice", Password: testPassword, IP: "10.0.0.2"}); err != nil {
		t.Fatalf("other address should not be limited: %v", err)
	}
}

func TestAuthService_RefreshRotatesSession(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	first, err := h.auth.Login(ctx, LoginInput{Username: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, err := h.auth.Refresh(ctx, RefreshInput{RefreshToken: first.RefreshToken})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh should issue a new token")
	}
	if n := h.sessionCount(t, 1); n != 1 {
		t.Fatalf("old session should be consumed, %d sessions", n)
	}
	if _, err := h.auth.Refresh(ctx, RefreshInput{RefreshToken: first.RefreshToken}); !pkgerrors.Is(err, pkgerrors.RefreshTokenReused) {
		t.Fatalf("expected RefreshTokenReused, got %v", err)
	}

	h.users.byID[1].Status = repository.UserStatusBanned
	if _, err := h.auth.Refresh(ctx, RefreshInput{RefreshToken: second.RefreshToken}); !pkgerrors.Is(err, pkgerrors.AccountSuspended) {
		t.Fatalf("expected AccountSuspended, got %v", err)
	}
}

func TestAuthService_LogoutAndSession(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	result, err := h.auth.Login(ctx, LoginInput{Username: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	principal, err := h.service.Authenticate(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	session, err := h.auth.CurrentSession(ctx, principal.UserID, principal.SessionHash)
	if err != nil || session.Hash != principal.SessionHash {
		t.Fatalf("CurrentSession = %+v, %v", session, err)
	}

	if err := h.auth.Logout(ctx, LogoutInput{RefreshToken: result.RefreshToken}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := h.auth.CurrentSession(ctx, principal.UserID, principal.SessionHash); !pkgerrors.Is(err, pkgerrors.SessionNotFound) {
		t.Fatalf("expected SessionNotFound, got %v", err)
	}
	if err := h.auth.Logout(ctx, LogoutInput{RefreshToken: "garbage"}); !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("expected TokenInvalid, got %v", err)
	}
}

func TestAuthService_ChangePasswordRevokesAll(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.auth.Login(ctx, LoginInput{Username: "alice", Password: testPassword}); err != nil {
			t.Fatalf("Login: %v", err)
		}
	}
	if n := h.sessionCount(t, 1); n != 2 {
		t.Fatalf("expected 2 sessions, got %d", n)
	}

	err := h.auth.ChangePassword(ctx, ChangePasswordInput{UserID: 1, OldPassword: "wrongpass1", NewPassword: "newsecret9"})
	if !pkgerrors.Is(err, pkgerrors.PasswordIncorrect) {
		t.Fatalf("expected PasswordIncorrect, got %v", err)
	}
	if n := h.sessionCount(t, 1); n != 2 {
		t.Fatalf("failed change must keep sessions, got %d", n)
	}

	if err := h.auth.ChangePassword(ctx, ChangePasswordInput{UserID: 1, OldPassword: testPassword, NewPassword: "newsecret9"}); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if n := h.sessionCount(t, 1); n != 0 {
		t.Fatalf("expected all sessions revoked, got %d", n)
	}
	if _, err := h.auth.Login(ctx, LoginInput{Username: "alice", Password: "newsecret9"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	err = h.auth.ChangePassword(ctx, ChangePasswordInput{UserID: 1, OldPassword: "newsecret9", NewPassword: "nodigits"})
	if !pkgerrors.Is(err, pkgerrors.PasswordTooWeak) {
		t.Fatalf("expected PasswordTooWeak, got %v", err)
	}
}
