package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkwell/inkwell-auth/internal/domain"
	"github.com/inkwell/inkwell-auth/internal/http/middleware"
	"github.com/inkwell/inkwell-auth/internal/service"
)

// AuthHandler exposes the token lifecycle endpoints.
type AuthHandler struct {
	Auth *service.AuthService
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

// Login validates credentials and returns a single-use exchange code. Access
// and refresh tokens are never issued directly from a password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		ClientID string `json:"client_id" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c)
		return
	}

	code, err := h.Auth.Login(c.Request.Context(), req.ClientID, req.Email, req.Password)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"code": code}})
}

// ExchangeCode redeems an exchange code for the initial access/refresh pair.
func (h *AuthHandler) ExchangeCode(c *gin.Context) {
	var req struct {
		Code         string `json:"code" binding:"required"`
		ClientSecret string `json:"client_secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c)
		return
	}

	pair, err := h.Auth.ExchangeCode(c.Request.Context(), req.Code, req.ClientSecret)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": pair})
}

// Refresh rotates a refresh token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c)
		return
	}

	pair, err := h.Auth.Rotate(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": pair})
}

// Logout revokes the session lineage of a valid refresh token.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c)
		return
	}

	if err := h.Auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Register creates a new user account.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c)
		return
	}

	user, err := h.Auth.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "registration_failed", "error_description": "Could not create the account."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"id": user.ID, "email": user.Email}})
}

// ForgotPassword requests a reset passcode by mail. The response is the same
// whether or not the account exists.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c)
		return
	}

	if err := h.Auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "An OTP has been sent to your email. Please check your inbox."})
}

// VerifyOTP trades a mailed passcode for a reset token.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
		OTP   string `json:"otp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c)
		return
	}

	resetToken, err := h.Auth.VerifyOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"reset_password_token": resetToken}})
}

// ResetPassword sets a new password and revokes every session of the user.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		ResetPasswordToken string `json:"reset_password_token" binding:"required"`
		Password           string `json:"password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c)
		return
	}

	if err := h.Auth.ResetPassword(c.Request.Context(), req.ResetPasswordToken, req.Password); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// ChangePassword updates the authenticated caller's password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}

	var req struct {
		Password string `json:"password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c)
		return
	}

	if err := h.Auth.ChangePassword(c.Request.Context(), principal.UserID, req.Password); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Me returns the authenticated caller's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}

	user, err := h.Auth.GetUser(c.Request.Context(), principal.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
	}})
}

func respondInvalidRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid data."})
}

// respondAuthError maps domain sentinels onto the wire taxonomy. Nothing
// beyond the typed failure ever reaches the caller.
func respondAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "error_description": "Invalid credentials."})
	case errors.Is(err, domain.ErrInvalidClientSecret):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client_secret", "error_description": "Invalid client secret."})
	case errors.Is(err, domain.ErrInvalidOrExpiredCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_or_expired_code", "error_description": "Invalid or expired code. Please login again."})
	case errors.Is(err, domain.ErrTokenReuseDetected):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token_reuse_detected", "error_description": "Token reuse detected. Please login again."})
	case errors.Is(err, domain.ErrInvalidOrExpiredToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_or_expired_token", "error_description": "Invalid or expired token."})
	case errors.Is(err, domain.ErrInvalidTokens):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tokens", "error_description": "Invalid tokens."})
	case errors.Is(err, domain.ErrInvalidResetToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reset_token", "error_description": "Invalid or expired reset password token."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Something went wrong."})
	}
}
