package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inkwell/inkwell-auth/internal/service"
)

const principalKey = "principal"

// Auth validates the Authorization header and attaches the resolved
// principal. Resolution is a pure token check; no storage is consulted.
type Auth struct {
	AuthService *service.AuthService
}

// RequireAccessToken ensures the request carries a valid bearer access token.
func (m *Auth) RequireAccessToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}

	principal, err := m.AuthService.VerifyAccessToken(parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}

	c.Set(principalKey, principal)
	c.Next()
}

// GetPrincipal exposes the authenticated caller to handlers.
func GetPrincipal(c *gin.Context) (service.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return service.Principal{}, false
	}
	principal, ok := value.(service.Principal)
	return principal, ok
}
