package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Round is one scoring round of a game. RoundIndex is 1-based and monotonic;
// the current round is the one with the highest index.
type Round struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	GameID     string     `gorm:"type:uuid;not null;index" json:"game_id"`
	RoundIndex int        `gorm:"not null" json:"round_index"`
	StartedAt  time.Time  `gorm:"autoCreateTime" json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
}

func (r *Round) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// RoundScore is one player's submitted hand for one round, at most one row
// per (round, player).
type RoundScore struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	RoundID     string    `gorm:"type:uuid;not null;uniqueIndex:idx_round_scores_round_player" json:"round_id"`
	PlayerID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_round_scores_round_player" json:"player_id"`
	Score       int       `gorm:"not null" json:"score"`
	Flip7Bonus  bool      `gorm:"not null;default:false" json:"flip7_bonus"`
	Busted      bool      `gorm:"not null;default:false" json:"busted"`
	SubmittedAt time.Time `gorm:"autoCreateTime" json:"submitted_at"`
}

func (s *RoundScore) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// TotalRow is the per-player running total, computed server-side.
// It mirrors the shape of the game_totals aggregate.
type TotalRow struct {
	PlayerID        string       `json:"player_id"`
	Name            string       `json:"name"`
	Status          PlayerStatus `json:"status"`
	TotalScore      int          `json:"total_score"`
	RoundsSubmitted int          `json:"rounds_submitted"`
}
