// Package flipclient is the client core of the 7 Score companion: it holds
// the reconciled view of one game session, keeps it converged against the
// backend through realtime events and polling, and exposes the intent calls
// the presentation layer triggers.
package flipclient

import (
	"errors"

	"sevenscore/pkg/realtime"
)

// TargetScore is the running total at which the game is won.
const TargetScore = 200

// ErrNotFound marks zero-row lookups: an unknown game code, a round that does
// not exist yet. It is an expected branch, not a failure.
var ErrNotFound = errors.New("not found")

// ErrNeedsJoin is returned by Start when no seat in the game could be
// recovered for this user; the caller should run the join flow.
var ErrNeedsJoin = errors.New("join required")

// Player statuses, matching the backend enum.
const (
	StatusActive = "active"
	StatusBusted = "busted"
	StatusFrozen = "frozen"
	StatusStayed = "stayed"
	StatusLeft   = "left"
)

// Game statuses, matching the backend enum.
const (
	GameLobby    = "lobby"
	GameActive   = "active"
	GameFinished = "finished"
)

// GameMeta is the slice of the game row the client caches.
type GameMeta struct {
	ID           string  `json:"id"`
	Code         string  `json:"code"`
	Status       string  `json:"status"`
	HostPlayerID *string `json:"host_player_id"`
}

// Player is the rendered view of one participant.
type Player struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Status string  `json:"status"`
	Avatar *string `json:"avatar"`
	Color  *string `json:"color"`
}

// RoundInfo identifies the current round.
type RoundInfo struct {
	RoundID    string `json:"round_id"`
	RoundIndex int    `json:"round_index"`
}

// RoundScore is one submitted hand.
type RoundScore struct {
	PlayerID   string `json:"player_id"`
	Score      int    `json:"score"`
	Flip7Bonus bool   `json:"flip7_bonus"`
}

// TotalScore is one player's running total.
type TotalScore struct {
	PlayerID   string `json:"player_id"`
	Name       string `json:"name"`
	TotalScore int    `json:"total_score"`
}

// CreatedGame is the result of creating a game.
type CreatedGame struct {
	Code     string `json:"code"`
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
}

// RematchInfo is the result of creating a rematch.
type RematchInfo struct {
	Code   string `json:"code"`
	GameID string `json:"game_id"`
}

// Backend is the query/RPC surface the reconciler consumes. The HTTP client
// implements it; tests substitute a fake.
type Backend interface {
	GetGameByCode(code string) (*GameMeta, error)
	GetGame(gameID string) (*GameMeta, error)
	ListPlayers(gameID string) ([]Player, error)
	GetOwnPlayer(gameID string) (*Player, error)
	GetCurrentRound(gameID string) (*RoundInfo, error)
	ListRoundScores(roundID string) ([]RoundScore, error)
	CanAdvance(gameID string) (bool, error)
	GetTotals(gameID string) ([]TotalScore, error)

	CreateGame(name string, avatar, color *string) (*CreatedGame, error)
	JoinGame(code, name string, avatar, color *string) (gameID, playerID string, err error)
	StartGame(gameID string) error
	CreateRound(gameID string) (*RoundInfo, error)
	SubmitScore(roundID string, score int, flip7Bonus bool) error
	CreateRematch(gameID string) (*RematchInfo, error)
	UpdatePlayerStatus(playerID, status string) error
	UpdatePlayerProfile(playerID, name string, avatar, color *string) error
	ResetPlayers(gameID string) error
}

// Channel is the realtime surface the reconciler consumes; satisfied by
// *realtime.Manager.
type Channel interface {
	Open(room string, handlers realtime.HandlerSet) error
	Send(event string, payload map[string]any) bool
	Close()
}
