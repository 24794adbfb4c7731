package handler

import (
	"net/http"

	"sevenscore/internal/config"
	"sevenscore/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SessionResponse carries a freshly minted anonymous session.
type SessionResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// AnonymousSession godoc
// @Summary      Start an anonymous session
// @Description  Issues a session token for a new anonymous user. No credentials required.
// @Tags         auth
// @Produce      json
// @Success      201  {object}  SessionResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /auth/anonymous [post]
func AnonymousSession(c *gin.Context) {
	userID := uuid.NewString()

	signed, err := token.Generate(userID, config.AppConfig.JWTSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, SessionResponse{Token: signed, UserID: userID})
}
