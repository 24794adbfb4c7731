package game

import (
	"errors"
	"time"

	"sevenscore/internal/models"
	"sevenscore/pkg/realtime"

	"gorm.io/gorm"
)

// RoundInfo identifies the current round of a game.
type RoundInfo struct {
	RoundID    string `json:"round_id"`
	RoundIndex int    `json:"round_index"`
}

// CreateRound ends the current round and opens the next one.
func (s *Service) CreateRound(gameID string) (*RoundInfo, error) {
	var result RoundInfo
	var changes changeLog

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var game models.Game
		if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var last models.Round
		nextIndex := 1
		err := tx.Where("game_id = ?", gameID).Order("round_index desc").First(&last).Error
		switch {
		case err == nil:
			nextIndex = last.RoundIndex + 1
			now := time.Now()
			if err := tx.Model(&models.Round{}).Where("id = ?", last.ID).
				Update("ended_at", now).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// First round of the game.
		default:
			return err
		}

		round := models.Round{GameID: gameID, RoundIndex: nextIndex}
		if err := tx.Create(&round).Error; err != nil {
			return err
		}

		result = RoundInfo{RoundID: round.ID, RoundIndex: round.RoundIndex}
		changes.add("rounds", realtime.EventInsert, round, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(&changes)
	return &result, nil
}

// GetCurrentRound returns the most recent round of a game, ErrNotFound when
// none has been created yet.
func (s *Service) GetCurrentRound(gameID string) (*RoundInfo, error) {
	var round models.Round
	err := s.db.Where("game_id = ?", gameID).Order("round_index desc").First(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &RoundInfo{RoundID: round.ID, RoundIndex: round.RoundIndex}, nil
}

// SubmitScore records the caller's hand for a round, one row per player per
// round. Resubmitting replaces the earlier hand.
func (s *Service) SubmitScore(userID, roundID string, score int, flip7Bonus bool) error {
	var changes changeLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var round models.Round
		if err := tx.First(&round, "id = ?", roundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var player models.Player
		err := tx.Where("game_id = ? AND user_id = ?", round.GameID, userID).First(&player).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotMember
			}
			return err
		}

		var existing models.RoundScore
		err = tx.Where("round_id = ? AND player_id = ?", roundID, player.ID).First(&existing).Error
		switch {
		case err == nil:
			old := existing
			existing.Score = score
			existing.Flip7Bonus = flip7Bonus
			existing.Busted = player.Status == models.PlayerStatusBusted
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			changes.add("round_scores", realtime.EventUpdate, existing, old)
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := models.RoundScore{
				RoundID:    roundID,
				PlayerID:   player.ID,
				Score:      score,
				Flip7Bonus: flip7Bonus,
				Busted:     player.Status == models.PlayerStatusBusted,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			changes.add("round_scores", realtime.EventInsert, row, nil)
		default:
			return err
		}

		return s.maybeFinishGame(tx, &changes, round.GameID)
	})
	if err != nil {
		return err
	}
	s.flush(&changes)
	return nil
}

// ListRoundScores returns every submitted hand for a round.
func (s *Service) ListRoundScores(roundID string) ([]models.RoundScore, error) {
	var scores []models.RoundScore
	if err := s.db.Where("round_id = ?", roundID).Find(&scores).Error; err != nil {
		return nil, err
	}
	return scores, nil
}

// GetGameTotals sums each player's submitted scores across all rounds of the
// game, highest first.
func (s *Service) GetGameTotals(gameID string) ([]models.TotalRow, error) {
	return s.totalsTx(s.db, gameID)
}

// MissingSubmissions counts the players still expected to submit for the
// current round: everyone not left and not busted who has no score row yet.
func (s *Service) MissingSubmissions(gameID string) (int, error) {
	return s.missingSubmissions(s.db, gameID)
}

// CanAdvanceRound reports whether every expected player has submitted for the
// current round. False while the round has no scores at all.
func (s *Service) CanAdvanceRound(gameID string) (bool, error) {
	return s.canAdvance(s.db, gameID)
}

func (s *Service) missingSubmissions(tx *gorm.DB, gameID string) (int, error) {
	current, err := s.currentRound(tx, gameID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var players []models.Player
	if err := tx.Where("game_id = ?", gameID).Find(&players).Error; err != nil {
		return 0, err
	}
	var scores []models.RoundScore
	if err := tx.Where("round_id = ?", current.ID).Find(&scores).Error; err != nil {
		return 0, err
	}

	submitted := make(map[string]struct{}, len(scores))
	for _, row := range scores {
		submitted[row.PlayerID] = struct{}{}
	}

	missing := 0
	for _, p := range players {
		if p.Status == models.PlayerStatusLeft || p.Status == models.PlayerStatusBusted {
			continue
		}
		if _, ok := submitted[p.ID]; !ok {
			missing++
		}
	}
	return missing, nil
}

func (s *Service) canAdvance(tx *gorm.DB, gameID string) (bool, error) {
	current, err := s.currentRound(tx, gameID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	var count int64
	if err := tx.Model(&models.RoundScore{}).Where("round_id = ?", current.ID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}

	missing, err := s.missingSubmissions(tx, gameID)
	if err != nil {
		return false, err
	}
	return missing == 0, nil
}

func (s *Service) currentRound(tx *gorm.DB, gameID string) (*models.Round, error) {
	var round models.Round
	err := tx.Where("game_id = ?", gameID).Order("round_index desc").First(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &round, nil
}

// maybeFinishGame closes the game once the round is fully submitted and a
// total has crossed the target.
func (s *Service) maybeFinishGame(tx *gorm.DB, changes *changeLog, gameID string) error {
	done, err := s.canAdvance(tx, gameID)
	if err != nil || !done {
		return err
	}

	totals, err := s.totalsTx(tx, gameID)
	if err != nil {
		return err
	}
	won := false
	for _, row := range totals {
		if row.TotalScore >= TargetScore {
			won = true
			break
		}
	}
	if !won {
		return nil
	}

	var game models.Game
	if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
		return err
	}
	if game.Status == models.GameStatusFinished {
		return nil
	}
	old := game
	game.Status = models.GameStatusFinished
	if err := tx.Model(&models.Game{}).Where("id = ?", gameID).
		Update("status", models.GameStatusFinished).Error; err != nil {
		return err
	}
	changes.add("games", realtime.EventUpdate, game, old)
	return nil
}

func (s *Service) totalsTx(tx *gorm.DB, gameID string) ([]models.TotalRow, error) {
	var rows []models.TotalRow
	err := tx.Table("players").
		Select("players.id AS player_id, players.name, players.status, "+
			"COALESCE(SUM(round_scores.score), 0) AS total_score, "+
			"COUNT(round_scores.id) AS rounds_submitted").
		Joins("LEFT JOIN round_scores ON round_scores.player_id = players.id").
		Where("players.game_id = ?", gameID).
		Group("players.id, players.name, players.status").
		Order("total_score DESC").
		Scan(&rows).Error
	return rows, err
}
