package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ojcore/internal/common/cache"
	pkgerrors "ojcore/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func fakeAuth(ctx context.Context, token string) (Identity, error) {
	switch token {
	case "user-token":
		return Identity{UserID: 1, Role: "user", SessionHash: "s1"}, nil
	case "admin-token":
		return Identity{UserID: 2, Role: "admin", SessionHash: "s2"}, nil
	case "expired":
		return Identity{}, pkgerrors.New(pkgerrors.TokenExpired)
	}
	return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", AuthMiddleware(fakeAuth), func(c *gin.Context) {
		id, _ := GetIdentity(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id.UserID})
	})
	router.GET("/admin", AuthMiddleware(fakeAuth), RequireRoles("admin", "super_admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{name: "missing header", path: "/me", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/me", header: "Basic user-token", status: http.StatusUnauthorized},
		{name: "invalid token", path: "/me", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "expired token", path: "/me", header: "Bearer expired", status: http.StatusUnauthorized},
		{name: "valid token", path: "/me", header: "Bearer user-token", status: http.StatusOK},
		{name: "lowercase scheme", path: "/me", header: "bearer user-token", status: http.StatusOK},
		{name: "role denied", path: "/admin", header: "Bearer user-token", status: http.StatusForbidden},
		{name: "role allowed", path: "/admin", header: "Bearer admin-token", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestIPRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	router := gin.New()
	router.POST("/login", IPRateLimit(NewRateLimiter(c, time.Second), "login", 2, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	mr.FastForward(time.Minute + time.Second)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("window should have reset, got %d", w.Code)
	}
}

func TestRateLimiterWithoutCacheAllows(t *testing.T) {
	var limiter *RateLimiter
	if err := limiter.Allow(context.Background(), "k", 1, time.Minute); err != nil {
		t.Fatalf("nil limiter should allow: %v", err)
	}
}
