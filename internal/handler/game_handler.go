package handler

import (
	"net/http"
	"strings"

	"sevenscore/internal/models"

	"github.com/gin-gonic/gin"
)

// region --- DTOs ---

// CreateGameInput defines the profile of the player opening the game.
type CreateGameInput struct {
	Name   string  `json:"name" binding:"required,max=64" example:"Ada"`
	Avatar *string `json:"avatar" example:"🦊"`
	Color  *string `json:"color" example:"rose"`
}

// JoinGameInput defines the structure for joining a lobby by code.
type JoinGameInput struct {
	Code   string  `json:"code" binding:"required" example:"KQ4Z"`
	Name   string  `json:"name" binding:"required,max=64" example:"Grace"`
	Avatar *string `json:"avatar"`
	Color  *string `json:"color"`
}

// JoinGameResponse identifies the caller's seat in the joined game.
type JoinGameResponse struct {
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
}

// GameResponse is the cached slice of a game row clients track.
type GameResponse struct {
	ID           string  `json:"id"`
	Code         string  `json:"code"`
	Status       string  `json:"status"`
	HostPlayerID *string `json:"host_player_id"`
}

func newGameResponse(g *models.Game) GameResponse {
	return GameResponse{
		ID:           g.ID,
		Code:         g.Code,
		Status:       string(g.Status),
		HostPlayerID: g.HostPlayerID,
	}
}

// CanAdvanceResponse reports whether the current round is fully submitted.
type CanAdvanceResponse struct {
	CanAdvance bool `json:"can_advance"`
	Missing    int  `json:"missing"`
}

// endregion

// CreateGame godoc
// @Summary      Create a game
// @Description  Opens a new lobby with the caller seated as host and returns the share code.
// @Tags         games
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body CreateGameInput true "Host profile"
// @Success      201  {object}  game.CreatedGame
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /games [post]
func CreateGame(c *gin.Context) {
	userID := c.GetString("userID")

	var input CreateGameInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := Games.CreateGame(userID, input.Name, input.Avatar, input.Color)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// JoinGame godoc
// @Summary      Join a game by code
// @Description  Seats the caller in the lobby. Rejoining returns the existing seat.
// @Tags         games
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body JoinGameInput true "Join info"
// @Success      200  {object}  JoinGameResponse
// @Failure      404  {object}  ErrorResponse "Game not found"
// @Failure      409  {object}  ErrorResponse "Game already started"
// @Router       /games/join [post]
func JoinGame(c *gin.Context) {
	userID := c.GetString("userID")

	var input JoinGameInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gameID, playerID, err := Games.JoinGame(userID, strings.ToUpper(input.Code), input.Name, input.Avatar, input.Color)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, JoinGameResponse{GameID: gameID, PlayerID: playerID})
}

// GetGameByCode godoc
// @Summary      Resolve a game code
// @Tags         games
// @Produce      json
// @Security     BearerAuth
// @Param        code path string true "Share code"
// @Success      200 {object} GameResponse
// @Failure      404 {object} ErrorResponse "Game not found"
// @Router       /games/by-code/{code} [get]
func GetGameByCode(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))

	g, err := Games.GetGameByCode(code)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newGameResponse(g))
}

// GetGame godoc
// @Summary      Get a game by ID
// @Description  Returns the slice of game state clients cache: status and host.
// @Tags         games
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Game ID"
// @Success      200 {object} GameResponse
// @Failure      404 {object} ErrorResponse "Game not found"
// @Router       /games/{id} [get]
func GetGame(c *gin.Context) {
	g, err := Games.GetGame(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newGameResponse(g))
}

// StartGame godoc
// @Summary      Start a game
// @Description  Moves the lobby to active. Host only.
// @Tags         games
// @Security     BearerAuth
// @Param        id path string true "Game ID"
// @Success      204 "started"
// @Failure      403 {object} ErrorResponse "Only the host can do that"
// @Failure      409 {object} ErrorResponse "Game already started"
// @Router       /games/{id}/start [post]
func StartGame(c *gin.Context) {
	userID := c.GetString("userID")

	if err := Games.StartGame(userID, c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CreateRematch godoc
// @Summary      Create a rematch game
// @Description  Opens a fresh lobby with the same players and host. Host only.
// @Tags         games
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Game ID"
// @Success      201 {object} game.RematchGame
// @Failure      403 {object} ErrorResponse "Only the host can do that"
// @Router       /games/{id}/rematch [post]
func CreateRematch(c *gin.Context) {
	userID := c.GetString("userID")

	rematch, err := Games.CreateRematchGame(userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rematch)
}

// GetGameTotals godoc
// @Summary      Get running totals
// @Tags         games
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Game ID"
// @Success      200 {array} models.TotalRow
// @Router       /games/{id}/totals [get]
func GetGameTotals(c *gin.Context) {
	totals, err := Games.GetGameTotals(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, totals)
}

// CanAdvanceRound godoc
// @Summary      Check whether the round can advance
// @Description  True once every player still in contention has submitted.
// @Tags         games
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Game ID"
// @Success      200 {object} CanAdvanceResponse
// @Router       /games/{id}/can-advance [get]
func CanAdvanceRound(c *gin.Context) {
	gameID := c.Param("id")

	ok, err := Games.CanAdvanceRound(gameID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	missing, err := Games.MissingSubmissions(gameID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, CanAdvanceResponse{CanAdvance: ok, Missing: missing})
}
