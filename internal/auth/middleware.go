package auth

import (
	"net/http"
	"strings"

	"sevenscore/internal/config"
	"sevenscore/pkg/token"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware creates a gin middleware that requires a valid session token.
// The anonymous user ID from the token is stored in the context as "userID".
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromRequest(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid session token"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

// OptionalAuthMiddleware inspects for a token and sets the userID if present and valid,
// but does not fail if the token is missing or invalid.
func OptionalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, ok := userIDFromRequest(c); ok {
			c.Set("userID", userID)
		}
		c.Next()
	}
}

func userIDFromRequest(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	tokenString := ""
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}
	if tokenString == "" {
		// The websocket endpoint cannot set headers from a browser client.
		tokenString = c.Query("token")
	}
	if tokenString == "" {
		return "", false
	}

	userID, err := token.Parse(tokenString, config.AppConfig.JWTSecret)
	if err != nil {
		return "", false
	}
	return userID, true
}
