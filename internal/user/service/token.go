package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	pkgerrors "ojcore/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type tokenClaims struct {
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type tokenSigner struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func (s tokenSigner) sign(userID int64, role, sessionHash, tokenType string, issuedAt, expiresAt time.Time) (string, error) {
	claims := tokenClaims{
		Role:      role,
		SessionID: sessionHash,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", pkgerrors.Wrap(fmt.Errorf("sign %s token failed: %w", tokenType, err), pkgerrors.TokenGenerationFailed)
	}
	return signed, nil
}

// parse verifies signature, issuer and token type. An expired token yields
// TokenExpired; anything else wrong with it yields TokenInvalid.
func (s tokenSigner) parse(raw, expectedType string) (*tokenClaims, int64, error) {
	if raw == "" || len(s.secret) == 0 {
		return nil, 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, 0, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return nil, 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != expectedType || claims.SessionID == "" {
		return nil, 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims, userID, nil
}

// newSessionHash returns the sha256 hex of a fresh random session id.
func newSessionHash() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", pkgerrors.Wrap(fmt.Errorf("generate session id failed: %w", err), pkgerrors.TokenGenerationFailed)
	}
	return hashToken(hex.EncodeToString(randomBytes)), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
