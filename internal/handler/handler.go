package handler

import (
	"errors"
	"net/http"

	"sevenscore/internal/game"

	"github.com/gin-gonic/gin"
)

// Games is the service behind every handler. Wired once in main.
var Games *game.Service

// Init injects the game service used by the handlers.
func Init(s *game.Service) {
	Games = s
}

// ErrorResponse represents a generic error response.
type ErrorResponse struct {
	Error string `json:"error" example:"An error message"`
}

// respondServiceError maps service errors to HTTP statuses. The error text is
// passed through untouched; clients surface it verbatim.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, game.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, game.ErrNotHost):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, game.ErrNotMember), errors.Is(err, game.ErrGameStarted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
