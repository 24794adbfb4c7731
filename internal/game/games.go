package game

import (
	"errors"
	"math/rand"

	"sevenscore/internal/models"
	"sevenscore/pkg/realtime"

	"gorm.io/gorm"
)

// codeAlphabet omits the characters people misread over a shoulder.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const codeLength = 4

// CreatedGame is the result of CreateGame: the share code plus the caller's
// freshly seated host player.
type CreatedGame struct {
	Code     string `json:"code"`
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
}

// RematchGame is the result of CreateRematchGame.
type RematchGame struct {
	Code   string `json:"code"`
	GameID string `json:"game_id"`
}

// CreateGame opens a new lobby with the caller seated first as host.
func (s *Service) CreateGame(userID, name string, avatar, color *string) (*CreatedGame, error) {
	var result CreatedGame
	var changes changeLog

	err := s.db.Transaction(func(tx *gorm.DB) error {
		code, err := generateCode(tx)
		if err != nil {
			return err
		}

		game := models.Game{Code: code, Status: models.GameStatusLobby}
		if err := tx.Create(&game).Error; err != nil {
			return err
		}

		host := models.Player{
			GameID:    game.ID,
			UserID:    userID,
			Name:      name,
			Avatar:    avatar,
			Color:     color,
			Status:    models.PlayerStatusActive,
			SeatOrder: 1,
		}
		if err := tx.Create(&host).Error; err != nil {
			return err
		}

		game.HostPlayerID = &host.ID
		if err := tx.Model(&models.Game{}).Where("id = ?", game.ID).
			Update("host_player_id", host.ID).Error; err != nil {
			return err
		}

		result = CreatedGame{Code: code, GameID: game.ID, PlayerID: host.ID}

		changes.add("games", realtime.EventInsert, game, nil)
		changes.add("players", realtime.EventInsert, host, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(&changes)
	return &result, nil
}

// JoinGame seats a user in the lobby identified by code. A user who already
// has a player in the game gets that player back, so reloads and second tabs
// do not duplicate seats.
func (s *Service) JoinGame(userID, code, name string, avatar, color *string) (gameID, playerID string, err error) {
	var changes changeLog
	err = s.db.Transaction(func(tx *gorm.DB) error {
		game, err := findGameByCode(tx, code)
		if err != nil {
			return err
		}

		var existing models.Player
		err = tx.Where("game_id = ? AND user_id = ?", game.ID, userID).First(&existing).Error
		if err == nil {
			gameID, playerID = game.ID, existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if game.Status != models.GameStatusLobby {
			return ErrGameStarted
		}

		var seats int64
		if err := tx.Model(&models.Player{}).Where("game_id = ?", game.ID).Count(&seats).Error; err != nil {
			return err
		}

		player := models.Player{
			GameID:    game.ID,
			UserID:    userID,
			Name:      name,
			Avatar:    avatar,
			Color:     color,
			Status:    models.PlayerStatusActive,
			SeatOrder: int(seats) + 1,
		}
		if err := tx.Create(&player).Error; err != nil {
			return err
		}

		gameID, playerID = game.ID, player.ID
		changes.add("players", realtime.EventInsert, player, nil)
		return nil
	})
	if err != nil {
		return "", "", err
	}
	s.flush(&changes)
	return gameID, playerID, nil
}

// StartGame moves a lobby to active. Host only.
func (s *Service) StartGame(userID, gameID string) error {
	var changes changeLog
	err := s.db.Transaction(func(tx *gorm.DB) error {
		game, err := s.requireHost(tx, userID, gameID)
		if err != nil {
			return err
		}
		if game.Status != models.GameStatusLobby {
			return ErrGameStarted
		}

		old := *game
		game.Status = models.GameStatusActive
		if err := tx.Model(&models.Game{}).Where("id = ?", game.ID).
			Update("status", models.GameStatusActive).Error; err != nil {
			return err
		}

		changes.add("games", realtime.EventUpdate, game, old)
		return nil
	})
	if err != nil {
		return err
	}
	s.flush(&changes)
	return nil
}

// CreateRematchGame opens a fresh lobby carrying over every player who has
// not left, same seats and profiles, same host.
func (s *Service) CreateRematchGame(userID, gameID string) (*RematchGame, error) {
	var result RematchGame
	var changes changeLog

	err := s.db.Transaction(func(tx *gorm.DB) error {
		game, err := s.requireHost(tx, userID, gameID)
		if err != nil {
			return err
		}

		var players []models.Player
		if err := tx.Where("game_id = ? AND status <> ?", game.ID, models.PlayerStatusLeft).
			Order("seat_order asc").Find(&players).Error; err != nil {
			return err
		}

		code, err := generateCode(tx)
		if err != nil {
			return err
		}
		rematch := models.Game{Code: code, Status: models.GameStatusLobby}
		if err := tx.Create(&rematch).Error; err != nil {
			return err
		}

		var hostID string
		for _, p := range players {
			next := models.Player{
				GameID:    rematch.ID,
				UserID:    p.UserID,
				Name:      p.Name,
				Avatar:    p.Avatar,
				Color:     p.Color,
				Status:    models.PlayerStatusActive,
				SeatOrder: p.SeatOrder,
			}
			if err := tx.Create(&next).Error; err != nil {
				return err
			}
			if p.UserID == userID {
				hostID = next.ID
			}
			changes.add("players", realtime.EventInsert, next, nil)
		}

		rematch.HostPlayerID = &hostID
		if err := tx.Model(&models.Game{}).Where("id = ?", rematch.ID).
			Update("host_player_id", hostID).Error; err != nil {
			return err
		}

		result = RematchGame{Code: code, GameID: rematch.ID}
		changes.add("games", realtime.EventInsert, rematch, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(&changes)
	return &result, nil
}

// GetGameByCode resolves a share code. Zero rows is the normal "no such game
// yet" branch, reported as ErrNotFound.
func (s *Service) GetGameByCode(code string) (*models.Game, error) {
	return findGameByCode(s.db, code)
}

// GetGame fetches one game row by id.
func (s *Service) GetGame(gameID string) (*models.Game, error) {
	var game models.Game
	if err := s.db.First(&game, "id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &game, nil
}

func findGameByCode(tx *gorm.DB, code string) (*models.Game, error) {
	var game models.Game
	if err := tx.Where("code = ?", code).First(&game).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &game, nil
}

// requireHost loads the game and verifies the caller owns the host seat.
func (s *Service) requireHost(tx *gorm.DB, userID, gameID string) (*models.Game, error) {
	var game models.Game
	if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if game.HostPlayerID == nil {
		return nil, ErrNotHost
	}
	var host models.Player
	if err := tx.First(&host, "id = ?", *game.HostPlayerID).Error; err != nil {
		return nil, err
	}
	if host.UserID != userID {
		return nil, ErrNotHost
	}
	return &game, nil
}

// generateCode draws short codes until one is free. Collisions are rare
// enough that a bounded retry is plenty.
func generateCode(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		b := make([]byte, codeLength)
		for i := range b {
			b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
		}
		code := string(b)

		var count int64
		if err := tx.Model(&models.Game{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a game code")
}
