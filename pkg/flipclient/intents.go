package flipclient

import (
	"fmt"

	"go.uber.org/zap"
)

// SubmitSelection scores the selected cards and files the result for the
// current round, then nudges peers to refresh.
func (s *Session) SubmitSelection(cards []string) (ScoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roundID, err := s.requireRoundLocked()
	if err != nil {
		return ScoreResult{}, err
	}
	if s.hasSubmitted {
		return ScoreResult{}, fmt.Errorf("score already submitted for this round")
	}

	result := ScoreSelection(cards)
	if err := s.backend.SubmitScore(roundID, result.Total, result.Flip7Bonus); err != nil {
		return ScoreResult{}, err
	}

	score := result.Total
	s.hasSubmitted = true
	s.submittedScore = &score
	s.submittedBonus = result.Flip7Bonus

	if err := s.refreshRoundStateLocked(roundID); err != nil {
		s.log.Warn("refresh after submit failed", zap.Error(err))
	}
	s.broadcastRoundRefreshLocked(roundID)
	return result, nil
}

// AdvanceRound is the host intent that opens the next round: statuses reset,
// a fresh round row is created, and peers are told to reload.
func (s *Session) AdvanceRound() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isHostLocked() {
		return fmt.Errorf("only the host can advance the round")
	}

	if err := s.backend.ResetPlayers(s.gameID); err != nil {
		return err
	}
	round, err := s.backend.CreateRound(s.gameID)
	if err != nil {
		return err
	}

	s.channel.Send("players_reset", map[string]any{"gameId": s.gameID})
	s.channel.Send("round_started", map[string]any{
		"gameId":  s.gameID,
		"roundId": round.RoundID,
	})

	// Apply locally without waiting for our own notification to come back.
	if err := s.loadCurrentRoundLocked(); err != nil {
		s.log.Warn("round load after advance failed", zap.Error(err))
	}
	return nil
}

// StartGame is the host intent that moves the game out of the lobby and
// deals the first round.
func (s *Session) StartGame() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isHostLocked() {
		return fmt.Errorf("only the host can start the game")
	}
	if err := s.backend.StartGame(s.gameID); err != nil {
		return err
	}
	round, err := s.backend.CreateRound(s.gameID)
	if err != nil {
		return err
	}
	s.gameStatus = GameActive

	s.channel.Send("round_started", map[string]any{
		"gameId":  s.gameID,
		"roundId": round.RoundID,
	})
	if err := s.loadCurrentRoundLocked(); err != nil {
		s.log.Warn("round load after start failed", zap.Error(err))
	}
	return nil
}

// SetPlayerStatus flips one player's table status (bust, freeze, stay, back
// to active). The local view updates immediately and rolls back if the write
// fails; peers get a broadcast so their views flip without waiting for the
// row change to arrive.
func (s *Session) SetPlayerStatus(playerID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := ""
	for _, p := range s.players {
		if p.ID == playerID {
			previous = p.Status
			break
		}
	}
	if previous == "" {
		return fmt.Errorf("unknown player")
	}
	s.setPlayerStatusLocked(playerID, status)

	if err := s.backend.UpdatePlayerStatus(playerID, status); err != nil {
		s.setPlayerStatusLocked(playerID, previous)
		return err
	}

	s.channel.Send("player_status", map[string]any{
		"playerId": playerID,
		"status":   status,
	})
	s.maybeAutoSubmitBustedLocked()
	return nil
}

// SaveProfile updates the caller's display profile and remembers it for the
// next join flow.
func (s *Session) SaveProfile(name string, avatar, color *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playerID == "" {
		return fmt.Errorf("no seat in this game")
	}
	if err := s.backend.UpdatePlayerProfile(s.playerID, name, avatar, color); err != nil {
		return err
	}
	saveJSON(s.store, profileKey, StoredProfile{Name: name, Avatar: avatar, Color: color})
	if s.currentPlayer != nil {
		s.currentPlayer.Name = name
		s.currentPlayer.Avatar = avatar
		s.currentPlayer.Color = color
	}
	return nil
}

// StartRematch is the host intent that spins up the follow-up game with the
// same table, stores the caller's new seat, and announces the code so every
// peer can follow.
func (s *Session) StartRematch() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isHostLocked() {
		return "", fmt.Errorf("only the host can start a rematch")
	}
	rematch, err := s.backend.CreateRematch(s.gameID)
	if err != nil {
		return "", err
	}

	// Seats were copied server-side; resolve ours in the new game so the
	// next session boots straight into it.
	if own, err := s.backend.GetOwnPlayer(rematch.GameID); err == nil {
		saveJSON(s.store, playerKey(rematch.Code), StoredPlayer{
			GameID:   rematch.GameID,
			PlayerID: own.ID,
		})
	} else {
		s.log.Warn("rematch seat lookup failed", zap.Error(err))
	}

	s.channel.Send("rematch", map[string]any{"code": rematch.Code})
	return rematch.Code, nil
}
