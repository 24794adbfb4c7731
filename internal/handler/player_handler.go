package handler

import (
	"net/http"

	"sevenscore/internal/models"

	"github.com/gin-gonic/gin"
)

// region --- DTOs ---

// PlayerResponse is the view of a player the clients render.
type PlayerResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Avatar    *string `json:"avatar"`
	Color     *string `json:"color"`
	SeatOrder int     `json:"seat_order"`
}

func newPlayerResponse(p models.Player) PlayerResponse {
	return PlayerResponse{
		ID:        p.ID,
		Name:      p.Name,
		Status:    string(p.Status),
		Avatar:    p.Avatar,
		Color:     p.Color,
		SeatOrder: p.SeatOrder,
	}
}

// UpdatePlayerInput patches a player's status or profile. Fields left nil are
// untouched.
type UpdatePlayerInput struct {
	Status *string `json:"status" binding:"omitempty,oneof=active busted frozen stayed left"`
	Name   *string `json:"name" binding:"omitempty,max=64"`
	Avatar *string `json:"avatar"`
	Color  *string `json:"color"`
}

// endregion

// ListPlayers godoc
// @Summary      List the players of a game
// @Description  Players in seat order.
// @Tags         players
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Game ID"
// @Success      200 {array} PlayerResponse
// @Router       /games/{id}/players [get]
func ListPlayers(c *gin.Context) {
	players, err := Games.ListPlayers(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response := make([]PlayerResponse, 0, len(players))
	for _, p := range players {
		response = append(response, newPlayerResponse(p))
	}

	c.JSON(http.StatusOK, response)
}

// GetOwnPlayer godoc
// @Summary      Get the caller's player in a game
// @Description  Lets a client with lost or stale local identity recover its seat.
// @Tags         players
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Game ID"
// @Success      200 {object} PlayerResponse
// @Failure      404 {object} ErrorResponse "Caller has no seat in this game"
// @Router       /games/{id}/players/me [get]
func GetOwnPlayer(c *gin.Context) {
	userID := c.GetString("userID")

	player, err := Games.GetPlayerByUser(c.Param("id"), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPlayerResponse(*player))
}

// UpdatePlayer godoc
// @Summary      Update a player
// @Description  Patches status (bust/freeze/stay/active) or profile fields.
// @Tags         players
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Player ID"
// @Param        input body UpdatePlayerInput true "Fields to update"
// @Success      200 {object} PlayerResponse
// @Failure      404 {object} ErrorResponse "Player not found"
// @Router       /players/{id} [patch]
func UpdatePlayer(c *gin.Context) {
	var input UpdatePlayerInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	playerID := c.Param("id")
	var player *models.Player
	var err error

	if input.Status != nil {
		player, err = Games.SetPlayerStatus(playerID, models.PlayerStatus(*input.Status))
	} else if input.Name != nil || input.Avatar != nil || input.Color != nil {
		player, err = Games.SetPlayerProfile(playerID, input.Name, input.Avatar, input.Color)
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPlayerResponse(*player))
}

// ResetPlayers godoc
// @Summary      Reset player statuses
// @Description  Puts every player who has not left back to active, between rounds.
// @Tags         players
// @Security     BearerAuth
// @Param        id path string true "Game ID"
// @Success      204 "reset"
// @Router       /games/{id}/players/reset [post]
func ResetPlayers(c *gin.Context) {
	if err := Games.ResetPlayerStatuses(c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
