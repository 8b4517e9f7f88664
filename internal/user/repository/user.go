package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
)

type UserStatus string

const (
	UserStatusActive        UserStatus = "active"
	UserStatusBanned        UserStatus = "banned"
	UserStatusPendingVerify UserStatus = "pending_verify"
)

type UserRole string

const (
	UserRoleGuest          UserRole = "guest"
	UserRoleUser           UserRole = "user"
	UserRoleProblemSetter  UserRole = "problem_setter"
	UserRoleContestManager UserRole = "contest_manager"
	UserRoleAdmin          UserRole = "admin"
	UserRoleSuperAdmin     UserRole = "super_admin"
)

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         UserRole
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, id int64) (*User, error)
	GetByUsername(ctx context.Context, tx db.Transaction, username string) (*User, error)
	UpdatePassword(ctx context.Context, tx db.Transaction, userID int64, newHash string) error
}

type MySQLUserRepository struct {
	db       db.Database
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewUserRepository(database db.Database, cacheClient cache.BasicOps) UserRepository {
	return NewUserRepositoryWithTTL(database, cacheClient, defaultUserCacheTTL, defaultUserCacheEmptyTTL)
}

func NewUserRepositoryWithTTL(database db.Database, cacheClient cache.BasicOps, ttl, emptyTTL time.Duration) UserRepository {
	if ttl <= 0 {
		ttl = defaultUserCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultUserCacheEmptyTTL
	}
	return &MySQLUserRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const (
	userColumns = "id, username, password_hash, role, status, created_at, updated_at"

	userInfoKeyPrefix     = "user:info:"
	userUsernameKeyPrefix = "user:username:"

	defaultUserCacheTTL      = 30 * time.Minute
	defaultUserCacheEmptyTTL = 5 * time.Minute
)

func (r *MySQLUserRepository) GetByID(ctx context.Context, tx db.Transaction, id int64) (*User, error) {
	if r.cache == nil || tx != nil {
		return r.getFromDB(ctx, tx, "id", id)
	}
	return r.cached(ctx, userInfoKey(id), func(ctx context.Context) (*User, error) {
		return r.getFromDB(ctx, nil, "id", id)
	})
}

func (r *MySQLUserRepository) GetByUsername(ctx context.Context, tx db.Transaction, username string) (*User, error) {
	if r.cache == nil || tx != nil {
		return r.getFromDB(ctx, tx, "username", username)
	}
	return r.cached(ctx, userUsernameKey(username), func(ctx context.Context) (*User, error) {
		return r.getFromDB(ctx, nil, "username", username)
	})
}

func (r *MySQLUserRepository) UpdatePassword(ctx context.Context, tx db.Transaction, userID int64, newHash string) error {
	user, err := r.getFromDB(ctx, tx, "id", userID)
	if err != nil {
		return err
	}
	query := "UPDATE users SET password_hash = ?, updated_at = NOW(3) WHERE id = ?"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, newHash, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	r.deleteCache(ctx, user)
	return nil
}

func (r *MySQLUserRepository) cached(ctx context.Context, key string, load func(ctx context.Context) (*User, error)) (*User, error) {
	user, err := cache.GetWithCached[*User](
		ctx,
		r.cache,
		key,
		r.ttl,
		r.emptyTTL,
		func(user *User) bool { return user == nil },
		marshalUser,
		unmarshalUser,
		func(ctx context.Context) (*User, error) {
			user, err := load(ctx)
			if errors.Is(err, ErrUserNotFound) {
				return nil, nil
			}
			return user, err
		},
	)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// column is always one of the fixed lookup columns above.
func (r *MySQLUserRepository) getFromDB(ctx context.Context, tx db.Transaction, column string, value interface{}) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE " + column + " = ?"
	user, err := scanUser(db.GetQuerier(r.db, tx).QueryRow(ctx, query, value))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *MySQLUserRepository) deleteCache(ctx context.Context, user *User) {
	if r.cache == nil || user == nil {
		return
	}
	_ = r.cache.Del(ctx, userInfoKey(user.ID), userUsernameKey(user.Username))
}

func userInfoKey(id int64) string {
	return fmt.Sprintf("%s%d", userInfoKeyPrefix, id)
}

func userUsernameKey(username string) string {
	return userUsernameKeyPrefix + username
}

func marshalUser(user *User) string {
	payload, err := json.Marshal(user)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalUser(data string) (*User, error) {
	if data == "" {
		return nil, nil
	}
	var user User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func scanUser(scanner db.Scanner) (*User, error) {
	var user User
	err := scanner.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
