package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/pkg/dto"
)

const (
	apiKeyHeader = "X-API-Key"
	userHeader   = "X-User-ID"
	userKey      = "visage.user_id"
)

// APIKeyMiddleware validates the API key from the X-API-Key header.
// If apiKey is empty, authentication is disabled.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(apiKeyHeader)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing API key"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{Error: "invalid API key"})
			return
		}

		c.Next()
	}
}

// UserScopeMiddleware requires the X-User-ID header. Every gallery read and
// write of the request is scoped to that user.
func UserScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(userHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: "missing " + userHeader + " header"})
			return
		}
		if len(userID) > 128 {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: userHeader + " too long"})
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

// UserID returns the user set by UserScopeMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(userKey)
}
