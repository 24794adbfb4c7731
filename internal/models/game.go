package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GameStatus tracks a game through its lifecycle.
type GameStatus string

const (
	GameStatusLobby    GameStatus = "lobby"
	GameStatusActive   GameStatus = "active"
	GameStatusFinished GameStatus = "finished"
)

// Game represents one table of 7 Score, joined via its shareable code.
type Game struct {
	ID           string     `gorm:"type:uuid;primaryKey" json:"id"`
	Code         string     `gorm:"size:8;uniqueIndex;not null" json:"code"`
	Status       GameStatus `gorm:"size:20;not null;default:'lobby'" json:"status"`
	HostPlayerID *string    `gorm:"type:uuid" json:"host_player_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Players []Player `gorm:"foreignKey:GameID" json:"-"`
}

func (g *Game) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}
