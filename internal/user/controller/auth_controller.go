package controller

import (
	"context"
	"strings"
	"time"

	"ojcore/internal/common/http/middleware"
	"ojcore/internal/user/repository"
	"ojcore/internal/user/service"
	pkgerrors "ojcore/pkg/errors"
	"ojcore/pkg/utils/response"
	"ojcore/pkg/utils/validate"

	"github.com/gin-gonic/gin"
)

// AuthAPI is the authentication surface used by the HTTP layer.
type AuthAPI interface {
	Login(ctx context.Context, input service.LoginInput) (service.AuthResult, error)
	Refresh(ctx context.Context, input service.RefreshInput) (service.AuthResult, error)
	Logout(ctx context.Context, input service.LogoutInput) error
	LogoutAll(ctx context.Context, userID int64) error
	ChangePassword(ctx context.Context, input service.ChangePasswordInput) error
	CurrentSession(ctx context.Context, userID int64, sessionHash string) (*repository.Session, error)
}

// AuthController handles auth-related HTTP endpoints.
type AuthController struct {
	authService AuthAPI
}

// NewAuthController creates a new AuthController.
func NewAuthController(authService AuthAPI) *AuthController {
	return &AuthController{authService: authService}
}

// NewAuthFunc adapts the session service for the auth middleware.
func NewAuthFunc(sessions *service.SessionService) middleware.AuthFunc {
	return func(ctx context.Context, token string) (middleware.Identity, error) {
		principal, err := sessions.Authenticate(ctx, token)
		if err != nil {
			return middleware.Identity{}, err
		}
		return middleware.Identity{
			UserID:      principal.UserID,
			Role:        principal.Role,
			SessionHash: principal.SessionHash,
		}, nil
	}
}

// Login handles user login.
func (h *AuthController) Login(c *gin.Context) {
	var req LoginRequest
	if err := validate.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		IP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, toAuthResponse(result))
}

// Refresh handles token refresh.
func (h *AuthController) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := validate.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), service.RefreshInput{
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, toAuthResponse(result))
}

// Logout handles refresh token revocation.
func (h *AuthController) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := validate.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), service.LogoutInput{
		RefreshToken: req.RefreshToken,
	}); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "Logout success", nil)
}

// LogoutAll ends every session of the caller.
func (h *AuthController) LogoutAll(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	if err := h.authService.LogoutAll(c.Request.Context(), identity.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Logout success", nil)
}

// ChangePassword replaces the caller's password.
func (h *AuthController) ChangePassword(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	var req ChangePasswordRequest
	if err := validate.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.authService.ChangePassword(c.Request.Context(), service.ChangePasswordInput{
		UserID:      identity.UserID,
		OldPassword: req.OldPassword,
		NewPassword: req.NewPassword,
	}); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Password changed", nil)
}

// Session returns metadata of the caller's current session.
func (h *AuthController) Session(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	session, err := h.authService.CurrentSession(c.Request.Context(), identity.UserID, identity.SessionHash)
	if err != nil {
		response.Error(c, err)
		return
	}
	if session == nil {
		response.Error(c, pkgerrors.New(pkgerrors.SessionNotFound))
		return
	}
	response.Success(c, SessionResponse{
		UserID:              identity.UserID,
		Role:                identity.Role,
		CreatedAt:           session.CreatedAt,
		LastTouchedAt:       session.LastTouchedAt,
		ExpiresAt:           session.ExpiresAt,
		InactivityExpiresAt: session.InactivityExpiresAt,
	})
}

// LoginRequest defines login payload.
type LoginRequest struct {
	Username string `json:"username" binding:"required,max=32"`
	Password string `json:"password" binding:"required,max=128"`
}

// RefreshRequest defines refresh payload.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// LogoutRequest defines logout payload.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ChangePasswordRequest defines password change payload.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=128"`
}

// AuthResponse defines auth response payload.
type AuthResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	User             UserInfo  `json:"user"`
}

// UserInfo defines basic user info payload.
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type SessionResponse struct {
	UserID              int64     `json:"user_id"`
	Role                string    `json:"role"`
	CreatedAt           time.Time `json:"created_at"`
	LastTouchedAt       time.Time `json:"last_touched_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	InactivityExpiresAt time.Time `json:"inactivity_expires_at"`
}

func toAuthResponse(result service.AuthResult) AuthResponse {
	return AuthResponse{
		AccessToken:      result.AccessToken,
		RefreshToken:     result.RefreshToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshExpiresAt: result.RefreshExpiresAt,
		User: UserInfo{
			ID:       result.User.ID,
			Username: result.User.Username,
			Role:     string(result.User.Role),
		},
	}
}
