package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/reelspace/core/internal/pkg/jwt"
	"github.com/reelspace/core/internal/pkg/response"
)

const ContextKeyUserID = "user_id"

// Auth returns a middleware that enforces JWT authentication.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := ValidateToken(extractToken(c))
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// OptionalAuth sets the user ID if a valid token is present, but does not block the request.
func OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, err := ValidateToken(extractToken(c)); err == nil && userID != "" {
			c.Set(ContextKeyUserID, userID)
		}
		c.Next()
	}
}

// ValidateToken validates a JWT and returns the authenticated user id.
func ValidateToken(rawToken string) (string, error) {
	token := NormalizeToken(rawToken)
	if token == "" {
		return "", errors.New("token is required")
	}
	claims, err := jwt.Parse(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// NormalizeToken strips an optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}

// UserID returns the authenticated user id set by Auth/OptionalAuth.
func UserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// IsAuthenticated reports whether the request carries a verified identity.
func IsAuthenticated(c *gin.Context) bool {
	return UserID(c) != ""
}

func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		return auth
	}
	return c.Query("token")
}
