package game

import (
	"errors"

	"sevenscore/internal/models"
	"sevenscore/pkg/realtime"

	"gorm.io/gorm"
)

// ListPlayers returns the players of a game in seat order.
func (s *Service) ListPlayers(gameID string) ([]models.Player, error) {
	var players []models.Player
	if err := s.db.Where("game_id = ?", gameID).Order("seat_order asc").Find(&players).Error; err != nil {
		return nil, err
	}
	return players, nil
}

// GetPlayerByUser finds the caller's player row in a game. Used by rejoining
// clients whose stored identity went missing or stale.
func (s *Service) GetPlayerByUser(gameID, userID string) (*models.Player, error) {
	var player models.Player
	err := s.db.Where("game_id = ? AND user_id = ?", gameID, userID).First(&player).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &player, nil
}

// SetPlayerStatus applies a host-driven status change (bust, freeze, stay,
// back to active) to one player.
func (s *Service) SetPlayerStatus(playerID string, status models.PlayerStatus) (*models.Player, error) {
	var player models.Player
	var changes changeLog

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&player, "id = ?", playerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		old := player
		player.Status = status
		if err := tx.Model(&models.Player{}).Where("id = ?", playerID).
			Update("status", status).Error; err != nil {
			return err
		}

		changes.add("players", realtime.EventUpdate, player, old)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(&changes)
	return &player, nil
}

// SetPlayerProfile updates a player's display name, avatar and color. Nil
// fields are left as they are, so a client can patch just the avatar.
func (s *Service) SetPlayerProfile(playerID string, name, avatar, color *string) (*models.Player, error) {
	var player models.Player
	var changes changeLog

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&player, "id = ?", playerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		old := player
		updates := map[string]any{}
		if name != nil {
			player.Name = *name
			updates["name"] = *name
		}
		if avatar != nil {
			player.Avatar = avatar
			updates["avatar"] = avatar
		}
		if color != nil {
			player.Color = color
			updates["color"] = color
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.Player{}).Where("id = ?", playerID).
			Updates(updates).Error; err != nil {
			return err
		}

		changes.add("players", realtime.EventUpdate, player, old)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(&changes)
	return &player, nil
}

// ResetPlayerStatuses puts every player who has not left back to active,
// typically between rounds.
func (s *Service) ResetPlayerStatuses(gameID string) error {
	var changes changeLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var players []models.Player
		if err := tx.Where("game_id = ? AND status <> ? AND status <> ?",
			gameID, models.PlayerStatusLeft, models.PlayerStatusActive).Find(&players).Error; err != nil {
			return err
		}

		for _, p := range players {
			old := p
			p.Status = models.PlayerStatusActive
			if err := tx.Model(&models.Player{}).Where("id = ?", p.ID).
				Update("status", models.PlayerStatusActive).Error; err != nil {
				return err
			}
			changes.add("players", realtime.EventUpdate, p, old)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.flush(&changes)
	return nil
}
