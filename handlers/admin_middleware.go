package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/services"
)

type AdminAuthMiddleware struct {
	auth *services.AdminAuthService
	log  *logger.Logger
}

func NewAdminAuthMiddleware(auth *services.AdminAuthService, log *logger.Logger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{auth: auth, log: logger.OrNop(log)}
}

// RequireAdmin accepts an X-API-Key header or an admin bearer token.
func (m *AdminAuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.auth.Enabled() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "admin authentication is not configured"})
			c.Abort()
			return
		}

		if key := c.GetHeader("X-API-Key"); key != "" {
			if err := m.auth.ValidateAPIKey(key); err != nil {
				m.log.Warn("admin api key rejected", "path", c.FullPath(), "client_ip", c.ClientIP())
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				c.Abort()
				return
			}
			c.Set("user_id", db.SystemActorAPI)
			c.Set("user_role", "admin")
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			c.Abort()
			return
		}

		token, err := m.auth.ExtractTokenFromHeader(authHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		claims, err := m.auth.ValidateToken(token)
		if err != nil {
			m.log.Warn("admin token rejected", "path", c.FullPath(), "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("user_id", claims.Subject)
		c.Set("user_email", claims.Email)
		c.Set("user_role", claims.Role)
		c.Next()
	}
}
