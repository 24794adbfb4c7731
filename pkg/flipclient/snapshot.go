package flipclient

// Snapshot is an immutable copy of the session state for rendering. The
// slices are copies; the caller can hold one across frames safely.
type Snapshot struct {
	Code         string
	GameID       string
	GameStatus   string
	PlayerID     string
	HostPlayerID string
	IsHost       bool

	Players       []Player
	CurrentPlayer *Player

	RoundID        string
	RoundIndex     int
	HasSubmitted   bool
	SubmittedScore *int
	SubmittedBonus bool
	RoundScores    []RoundScore
	AllSubmitted   bool
	Totals         []TotalScore
	RoundReady     bool
}

// Snapshot captures the current state under the session lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Code:           s.code,
		GameID:         s.gameID,
		GameStatus:     s.gameStatus,
		PlayerID:       s.playerID,
		HostPlayerID:   s.hostPlayerID,
		IsHost:         s.isHostLocked(),
		RoundID:        s.currentRoundID,
		RoundIndex:     s.roundIndex,
		HasSubmitted:   s.hasSubmitted,
		SubmittedBonus: s.submittedBonus,
		AllSubmitted:   s.allSubmitted,
		RoundReady:     s.roundStateReady,
	}
	if s.submittedScore != nil {
		score := *s.submittedScore
		snap.SubmittedScore = &score
	}
	if s.currentPlayer != nil {
		p := *s.currentPlayer
		snap.CurrentPlayer = &p
	}
	snap.Players = append([]Player(nil), s.players...)
	snap.RoundScores = append([]RoundScore(nil), s.roundScores...)
	snap.Totals = append([]TotalScore(nil), s.totals...)
	return snap
}

// Winner reports the leading player once the game is decided: all scores for
// the round are in and somebody reached the target. The gate on AllSubmitted
// keeps a mid-round total from ending the game early.
func (snap Snapshot) Winner() (*TotalScore, bool) {
	if !snap.AllSubmitted || len(snap.Totals) == 0 {
		return nil, false
	}
	top := snap.Totals[0]
	for _, t := range snap.Totals[1:] {
		if t.TotalScore > top.TotalScore {
			top = t
		}
	}
	if top.TotalScore < TargetScore {
		return nil, false
	}
	return &top, true
}

// GameOver reports whether the game has been decided.
func (snap Snapshot) GameOver() bool {
	if snap.GameStatus == GameFinished {
		return true
	}
	_, over := snap.Winner()
	return over
}
