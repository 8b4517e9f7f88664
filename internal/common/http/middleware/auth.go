package middleware

import (
	"context"
	"strings"

	pkgerrors "ojcore/pkg/errors"
	"ojcore/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AuthFunc resolves a bearer token into the caller identity.
type AuthFunc func(ctx context.Context, token string) (Identity, error)

// AuthMiddleware rejects requests without a valid bearer access token and
// attaches the caller identity to the rest.
func AuthMiddleware(authenticate AuthFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticate == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "missing bearer token")
			return
		}
		identity, err := authenticate(c.Request.Context(), token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		SetIdentity(c, identity)
		c.Next()
	}
}

// RequireRoles lets through only callers whose role is listed.
// It must run after AuthMiddleware.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "authentication required")
			return
		}
		if !hasRole(identity.Role, roles) {
			response.AbortWithErrorCode(c, pkgerrors.PermissionDenied, "insufficient role")
			return
		}
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
