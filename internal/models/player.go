package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlayerStatus is the per-round standing of a player, set by the host.
type PlayerStatus string

const (
	PlayerStatusActive PlayerStatus = "active"
	PlayerStatusBusted PlayerStatus = "busted"
	PlayerStatusFrozen PlayerStatus = "frozen"
	PlayerStatusStayed PlayerStatus = "stayed"
	PlayerStatusLeft   PlayerStatus = "left"
)

// Player is one participant in one game. A user joining the same game twice
// gets their existing player row back, so (game_id, user_id) is unique.
type Player struct {
	ID        string       `gorm:"type:uuid;primaryKey" json:"id"`
	GameID    string       `gorm:"type:uuid;not null;index;uniqueIndex:idx_players_game_user" json:"game_id"`
	UserID    string       `gorm:"type:uuid;not null;uniqueIndex:idx_players_game_user" json:"user_id"`
	Name      string       `gorm:"size:64;not null" json:"name"`
	Avatar    *string      `gorm:"size:16" json:"avatar"`
	Color     *string      `gorm:"size:32" json:"color"`
	Status    PlayerStatus `gorm:"size:20;not null;default:'active'" json:"status"`
	SeatOrder int          `gorm:"not null" json:"seat_order"`
	JoinedAt  time.Time    `gorm:"autoCreateTime" json:"joined_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (p *Player) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
