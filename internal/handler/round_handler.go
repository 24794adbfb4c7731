package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// region --- DTOs ---

// SubmitScoreInput is one submitted hand.
type SubmitScoreInput struct {
	Score      int  `json:"score" binding:"min=0"`
	Flip7Bonus bool `json:"flip7_bonus"`
}

// endregion

// CreateRound godoc
// @Summary      Start the next round
// @Description  Ends the current round and opens the next one.
// @Tags         rounds
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Game ID"
// @Success      201 {object} game.RoundInfo
// @Failure      404 {object} ErrorResponse "Game not found"
// @Router       /games/{id}/rounds [post]
func CreateRound(c *gin.Context) {
	round, err := Games.CreateRound(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, round)
}

// GetCurrentRound godoc
// @Summary      Get the current round
// @Tags         rounds
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Game ID"
// @Success      200 {object} game.RoundInfo
// @Failure      404 {object} ErrorResponse "No round yet"
// @Router       /games/{id}/rounds/current [get]
func GetCurrentRound(c *gin.Context) {
	round, err := Games.GetCurrentRound(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, round)
}

// SubmitScore godoc
// @Summary      Submit a hand score
// @Description  Records the caller's score for the round; resubmitting replaces it.
// @Tags         rounds
// @Accept       json
// @Security     BearerAuth
// @Param        id path string true "Round ID"
// @Param        input body SubmitScoreInput true "Hand score"
// @Success      204 "submitted"
// @Failure      404 {object} ErrorResponse "Round not found"
// @Failure      409 {object} ErrorResponse "Caller is not in this game"
// @Router       /rounds/{id}/scores [post]
func SubmitScore(c *gin.Context) {
	userID := c.GetString("userID")

	var input SubmitScoreInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := Games.SubmitScore(userID, c.Param("id"), input.Score, input.Flip7Bonus); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListRoundScores godoc
// @Summary      List submitted scores for a round
// @Tags         rounds
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Round ID"
// @Success      200 {array} models.RoundScore
// @Router       /rounds/{id}/scores [get]
func ListRoundScores(c *gin.Context) {
	scores, err := Games.ListRoundScores(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, scores)
}
