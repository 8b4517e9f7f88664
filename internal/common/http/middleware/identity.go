package middleware

import (
	"context"

	"ojcore/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID      int64
	Role        string
	SessionHash string
}

// SetIdentity stores the caller on both the gin context and the request context,
// so handlers and log lines see the same user.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(string(contextkey.UserID), id.UserID)
	c.Set(string(contextkey.UserRole), id.Role)
	c.Set(string(contextkey.SessionID), id.SessionHash)

	ctx := context.WithValue(c.Request.Context(), contextkey.UserID, id.UserID)
	ctx = context.WithValue(ctx, contextkey.UserRole, id.Role)
	ctx = context.WithValue(ctx, contextkey.SessionID, id.SessionHash)
	c.Request = c.Request.WithContext(ctx)
}

// GetIdentity returns the caller set by an auth middleware.
func GetIdentity(c *gin.Context) (Identity, bool) {
	userID, ok := c.Get(string(contextkey.UserID))
	if !ok {
		return Identity{}, false
	}
	id, ok := userID.(int64)
	if !ok {
		return Identity{}, false
	}
	return Identity{
		UserID:      id,
		Role:        c.GetString(string(contextkey.UserRole)),
		SessionHash: c.GetString(string(contextkey.SessionID)),
	}, true
}
