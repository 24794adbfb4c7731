package flipclient

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sevenscore/pkg/realtime"

	"go.uber.org/zap"
)

// defaultPollInterval drives the settle poll that backs up realtime delivery
// while round state has not converged yet.
const defaultPollInterval = 3 * time.Second

// SessionConfig wires a Session.
type SessionConfig struct {
	Backend Backend
	Channel Channel
	Store   Store
	Logger  *zap.Logger

	// Code is the share code of the game this session tracks.
	Code string

	// OnRematch is invoked when a peer announces a rematch; the new code is
	// where everyone is headed.
	OnRematch func(code string)

	// PollInterval overrides the settle poll cadence, mainly for tests.
	PollInterval time.Duration
}

// Session reconciles one player's view of one game. Query results, row-change
// notifications, broadcasts and poll timers all funnel through its lock, so
// state transitions are serialized the way a single-threaded event loop would
// serialize them.
type Session struct {
	backend   Backend
	channel   Channel
	store     Store
	log       *zap.Logger
	onRematch func(code string)
	pollEvery time.Duration

	mu sync.Mutex

	code         string
	gameID       string
	playerID     string
	hostPlayerID string
	gameStatus   string

	currentPlayer *Player
	players       []Player

	currentRoundID string
	roundIndex     int

	hasSubmitted   bool
	submittedScore *int
	submittedBonus bool

	roundScores         []RoundScore
	allSubmitted        bool
	allSubmittedRoundID string
	totals              []TotalScore
	roundStateReady     bool

	// Per-round idempotency tokens.
	bustedSubmitRound  string
	roundCompleteRound string

	pollTimer *time.Timer
	closed    bool
}

// NewSession creates a Session for one game code. Call Start to bootstrap.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pollEvery := cfg.PollInterval
	if pollEvery <= 0 {
		pollEvery = defaultPollInterval
	}
	return &Session{
		backend:   cfg.Backend,
		channel:   cfg.Channel,
		store:     cfg.Store,
		log:       logger,
		onRematch: cfg.OnRematch,
		pollEvery: pollEvery,
		code:      strings.ToUpper(cfg.Code),
	}
}

// Start resolves the game, recovers the caller's seat, loads the initial
// state and opens the realtime channel. ErrNotFound means no such game;
// ErrNeedsJoin means the game exists but this user has no seat yet.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.backend.GetGameByCode(s.code)
	if err != nil {
		return err
	}
	s.applyGameMetaLocked(meta)

	// Local identity first, then the authoritative lookup; a stale or missing
	// record degrades to the join path, never to a crash.
	if stored, ok := loadJSON[StoredPlayer](s.store, playerKey(s.code)); ok && stored.GameID == s.gameID {
		s.playerID = stored.PlayerID
	}

	own, err := s.backend.GetOwnPlayer(s.gameID)
	switch {
	case err == nil:
		s.playerID = own.ID
		s.currentPlayer = own
		saveJSON(s.store, playerKey(s.code), StoredPlayer{GameID: s.gameID, PlayerID: own.ID})
	case errors.Is(err, ErrNotFound):
		if s.playerID != "" {
			s.log.Info("stored player is stale, dropping it", zap.String("code", s.code))
			s.store.Delete(playerKey(s.code))
			s.playerID = ""
		}
		return ErrNeedsJoin
	default:
		return err
	}

	if err := s.loadPlayersLocked(); err != nil {
		return err
	}
	if err := s.loadCurrentRoundLocked(); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	s.resubscribeLocked()
	s.schedulePollLocked()
	return nil
}

// Join seats the user in the game and finishes the bootstrap Start could not.
func (s *Session) Join(name string, avatar, color *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gameID, playerID, err := s.backend.JoinGame(s.code, name, avatar, color)
	if err != nil {
		return err
	}
	s.gameID = gameID
	s.playerID = playerID

	saveJSON(s.store, playerKey(s.code), StoredPlayer{GameID: gameID, PlayerID: playerID})
	saveJSON(s.store, profileKey, StoredProfile{Name: name, Avatar: avatar, Color: color})

	if err := s.loadPlayersLocked(); err != nil {
		return err
	}
	s.resubscribeLocked()
	s.schedulePollLocked()
	return nil
}

// Profile returns the stored join profile, if any.
func (s *Session) Profile() (StoredProfile, bool) {
	return loadJSON[StoredProfile](s.store, profileKey)
}

// Close tears the session down: the channel is released and in-flight timers
// and callbacks become no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	channel := s.channel
	s.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
}

// LoadPlayers refetches the seat-ordered player list.
func (s *Session) LoadPlayers() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadPlayersLocked()
}

// LoadCurrentRound fetches the most recent round and, when it differs from
// the cached one, runs the round transition.
func (s *Session) LoadCurrentRound() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCurrentRoundLocked()
}

// RefreshRoundState re-derives the per-round view for the given round.
func (s *Session) RefreshRoundState(roundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshRoundStateLocked(roundID)
}

// RefreshGameMeta refetches the cached game row (status, host).
func (s *Session) RefreshGameMeta() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshGameMetaLocked()
}

func (s *Session) loadPlayersLocked() error {
	players, err := s.backend.ListPlayers(s.gameID)
	if err != nil {
		return err
	}
	s.players = players
	for i := range players {
		if players[i].ID == s.playerID {
			p := players[i]
			s.currentPlayer = &p
			break
		}
	}
	return nil
}

func (s *Session) loadCurrentRoundLocked() error {
	if s.gameID == "" {
		return nil
	}
	round, err := s.backend.GetCurrentRound(s.gameID)
	if err != nil {
		return err
	}

	if round.RoundID == s.currentRoundID {
		// Duplicate notification; the transition already ran.
		return nil
	}
	if s.currentRoundID != "" && round.RoundIndex <= s.roundIndex {
		// Rounds only move forward; a lower or equal index is a stale
		// response arriving late.
		s.log.Debug("discarding stale round",
			zap.Int("index", round.RoundIndex), zap.Int("current", s.roundIndex))
		return nil
	}

	s.currentRoundID = round.RoundID
	s.roundIndex = round.RoundIndex
	s.hasSubmitted = false
	s.submittedScore = nil
	s.submittedBonus = false
	s.roundScores = nil
	s.allSubmitted = false
	s.allSubmittedRoundID = ""
	s.roundStateReady = false
	s.bustedSubmitRound = ""
	s.roundCompleteRound = ""

	if err := s.refreshRoundStateLocked(round.RoundID); err != nil {
		return err
	}
	if err := s.loadPlayersLocked(); err != nil {
		return err
	}

	// The round_scores subscription filters on the round id, so the handler
	// set changed and the room has to be reopened.
	s.resubscribeLocked()
	s.schedulePollLocked()
	return nil
}

func (s *Session) refreshRoundStateLocked(roundID string) error {
	if roundID == "" || roundID != s.currentRoundID {
		// A refresh for a round we already left; superseded, not an error.
		return nil
	}

	canAdvance, err := s.backend.CanAdvance(s.gameID)
	if err != nil {
		s.log.Warn("can-advance check failed", zap.Error(err))
		canAdvance = false
	}

	scores, err := s.backend.ListRoundScores(roundID)
	if err != nil {
		return err
	}
	s.roundScores = scores

	for _, row := range scores {
		if row.PlayerID == s.playerID {
			// Discover an earlier submit from another tab or a reload.
			score := row.Score
			s.hasSubmitted = true
			s.submittedScore = &score
			s.submittedBonus = row.Flip7Bonus
			break
		}
	}

	s.applyAllSubmittedLocked(roundID, canAdvance, len(scores))

	totals, err := s.backend.GetTotals(s.gameID)
	if err != nil {
		s.log.Warn("totals fetch failed", zap.Error(err))
	} else {
		s.totals = totals
	}

	s.roundStateReady = true
	s.maybeAutoSubmitBustedLocked()
	return nil
}

// applyAllSubmittedLocked recomputes the all-submitted flag. Once latched for
// a round it never unlatches while that round is current, whatever a later
// recomputation sees.
func (s *Session) applyAllSubmittedLocked(roundID string, canAdvance bool, scoresCount int) {
	if s.allSubmittedRoundID == roundID {
		s.allSubmitted = true
		return
	}

	required := 0
	for _, p := range s.players {
		if p.Status == StatusLeft || p.Status == StatusBusted {
			continue
		}
		required++
	}
	if required == 0 {
		required = len(s.players)
	}

	everyone := scoresCount > 0 && required > 0 && scoresCount >= required
	if canAdvance || everyone {
		s.allSubmitted = true
		s.allSubmittedRoundID = roundID
		s.maybeAnnounceRoundCompleteLocked()
	} else {
		s.allSubmitted = false
	}
}

// maybeAnnounceRoundCompleteLocked lets the host tell the room the round is
// done, once per round. The token guards against double announcements from
// re-runs or a second host tab.
func (s *Session) maybeAnnounceRoundCompleteLocked() {
	if !s.isHostLocked() || !s.allSubmitted || s.currentRoundID == "" {
		return
	}
	if s.roundCompleteRound == s.currentRoundID {
		return
	}
	s.roundCompleteRound = s.currentRoundID
	s.channel.Send("round_complete", map[string]any{"roundId": s.currentRoundID})
}

// maybeAutoSubmitBustedLocked closes the loop for a busted player: they have
// nothing to submit, so once the rest of the table is in, a zero score is
// filed on their behalf, exactly once per round.
func (s *Session) maybeAutoSubmitBustedLocked() {
	if s.currentPlayer == nil || s.currentPlayer.Status != StatusBusted {
		return
	}
	if !s.allSubmitted || s.hasSubmitted || s.currentRoundID == "" {
		return
	}
	if s.bustedSubmitRound == s.currentRoundID {
		return
	}
	s.bustedSubmitRound = s.currentRoundID

	roundID := s.currentRoundID
	if err := s.backend.SubmitScore(roundID, 0, false); err != nil {
		// Allow a retry on the next refresh.
		s.bustedSubmitRound = ""
		s.log.Warn("busted auto-submit failed", zap.Error(err))
		return
	}

	zero := 0
	s.hasSubmitted = true
	s.submittedScore = &zero
	s.submittedBonus = false

	if err := s.refreshRoundStateLocked(roundID); err != nil {
		s.log.Warn("refresh after busted auto-submit failed", zap.Error(err))
	}
	s.broadcastRoundRefreshLocked(roundID)
}

func (s *Session) refreshGameMetaLocked() error {
	meta, err := s.backend.GetGame(s.gameID)
	if err != nil {
		return err
	}
	s.applyGameMetaLocked(meta)
	// The game may have just gone active; if the round pushes get dropped,
	// the settle poll is what finds round 1.
	s.schedulePollLocked()
	return nil
}

func (s *Session) applyGameMetaLocked(meta *GameMeta) {
	s.gameID = meta.ID
	s.gameStatus = meta.Status
	if meta.HostPlayerID != nil {
		s.hostPlayerID = *meta.HostPlayerID
	}
}

func (s *Session) isHostLocked() bool {
	return s.playerID != "" && s.playerID == s.hostPlayerID
}

func (s *Session) broadcastRoundRefreshLocked(roundID string) {
	if roundID == "" || s.gameID == "" {
		return
	}
	s.channel.Send("round_refresh", map[string]any{"roundId": roundID, "gameId": s.gameID})
}

// resubscribeLocked (re)opens the room with the handler set derived from the
// current state. Open replaces listeners wholesale, so repeated calls never
// stack handlers.
func (s *Session) resubscribeLocked() {
	if s.gameID == "" || s.playerID == "" {
		return
	}
	room := "game:" + s.gameID
	if err := s.channel.Open(room, s.handlerSetLocked()); err != nil {
		s.log.Warn("channel open failed", zap.String("room", room), zap.Error(err))
	}
}

// handlerSetLocked is the declarative routing table: which row changes and
// which peer broadcasts move which part of the state.
func (s *Session) handlerSetLocked() realtime.HandlerSet {
	gameID := s.gameID
	roundID := s.currentRoundID

	changes := []realtime.ChangeHandler{
		{
			Filter: realtime.ChangeFilter{
				Table:  "games",
				Event:  realtime.EventUpdate,
				Filter: "id=eq." + gameID,
			},
			OnChange: func(realtime.ChangeEvent) {
				if err := s.RefreshGameMeta(); err != nil {
					s.log.Warn("game meta refresh failed", zap.Error(err))
				}
			},
		},
		{
			Filter: realtime.ChangeFilter{
				Table:  "players",
				Event:  realtime.EventAll,
				Filter: "game_id=eq." + gameID,
			},
			OnChange: func(ev realtime.ChangeEvent) {
				s.onPlayersChange(ev)
			},
		},
		{
			Filter: realtime.ChangeFilter{
				Table:  "rounds",
				Event:  realtime.EventInsert,
				Filter: "game_id=eq." + gameID,
			},
			OnChange: func(realtime.ChangeEvent) {
				if err := s.LoadCurrentRound(); err != nil {
					s.log.Warn("round load failed", zap.Error(err))
				}
			},
		},
	}
	if roundID != "" {
		changes = append(changes, realtime.ChangeHandler{
			Filter: realtime.ChangeFilter{
				Table:  "round_scores",
				Event:  realtime.EventAll,
				Filter: "round_id=eq." + roundID,
			},
			OnChange: func(realtime.ChangeEvent) {
				if err := s.RefreshRoundState(roundID); err != nil {
					s.log.Warn("round state refresh failed", zap.Error(err))
				}
			},
		})
	}

	broadcasts := []realtime.BroadcastHandler{
		{Event: "player_status", OnMessage: s.onPlayerStatusBroadcast},
		{Event: "round_complete", OnMessage: s.onRoundCompleteBroadcast},
		{Event: "round_refresh", OnMessage: s.onRoundRefreshBroadcast},
		{Event: "round_started", OnMessage: func(map[string]any) {
			if err := s.LoadCurrentRound(); err != nil {
				s.log.Warn("round load failed", zap.Error(err))
			}
		}},
		{Event: "players_reset", OnMessage: func(map[string]any) {
			if err := s.LoadPlayers(); err != nil {
				s.log.Warn("player load failed", zap.Error(err))
			}
		}},
		{Event: "rematch", OnMessage: s.onRematchBroadcast},
	}

	return realtime.HandlerSet{
		Changes:    changes,
		Broadcasts: broadcasts,
		OnSubscribed: func() {
			s.onSubscribed()
		},
		OnError: func(status string) {
			// Reconnect is already scheduled; the user sees staleness at
			// worst, never a failure screen.
			s.log.Warn("realtime issue, resubscribing", zap.String("status", status))
		},
	}
}

// onSubscribed refetches the most recent state: events missed while the
// channel was down are not replayed, the refetch is the recovery.
func (s *Session) onSubscribed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.log.Info("channel subscribed", zap.String("game", s.gameID))
	if err := s.loadCurrentRoundLocked(); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("round load after subscribe failed", zap.Error(err))
	}
	if s.currentRoundID != "" {
		if err := s.refreshRoundStateLocked(s.currentRoundID); err != nil {
			s.log.Warn("round state refresh after subscribe failed", zap.Error(err))
		}
	}
}

func (s *Session) onPlayersChange(ev realtime.ChangeEvent) {
	if ev.Event == realtime.EventUpdate && ev.New != nil {
		s.mu.Lock()
		if !s.closed {
			s.patchPlayerRowLocked(ev.New)
		}
		s.mu.Unlock()
	}
	if err := s.LoadPlayers(); err != nil {
		s.log.Warn("player load failed", zap.Error(err))
	}
}

// patchPlayerRowLocked applies the row carried by the notification ahead of
// the confirming list fetch.
func (s *Session) patchPlayerRowLocked(row map[string]any) {
	id, _ := row["id"].(string)
	if id == "" {
		return
	}
	status, _ := row["status"].(string)
	name, _ := row["name"].(string)
	for i := range s.players {
		if s.players[i].ID != id {
			continue
		}
		if status != "" {
			s.players[i].Status = status
		}
		if name != "" {
			s.players[i].Name = name
		}
	}
	if s.currentPlayer != nil && s.currentPlayer.ID == id && status != "" {
		s.currentPlayer.Status = status
	}
}

func (s *Session) onPlayerStatusBroadcast(payload map[string]any) {
	playerID, _ := payload["playerId"].(string)
	status, _ := payload["status"].(string)
	if playerID == "" || status == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.setPlayerStatusLocked(playerID, status)
	s.maybeAutoSubmitBustedLocked()
}

func (s *Session) onRoundCompleteBroadcast(payload map[string]any) {
	roundID, _ := payload["roundId"].(string)
	if roundID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || roundID != s.currentRoundID {
		return
	}
	// A peer saw the round finish; latch even if our own subscription missed
	// the underlying row change.
	s.allSubmitted = true
	s.allSubmittedRoundID = roundID
	s.maybeAutoSubmitBustedLocked()
}

func (s *Session) onRoundRefreshBroadcast(payload map[string]any) {
	if gameID, ok := payload["gameId"].(string); ok && gameID != "" {
		s.mu.Lock()
		mine := gameID == s.gameID
		s.mu.Unlock()
		if !mine {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	roundID, _ := payload["roundId"].(string)
	if roundID == "" {
		roundID = s.currentRoundID
	}
	if roundID == "" {
		return
	}
	if err := s.refreshRoundStateLocked(roundID); err != nil {
		s.log.Warn("round state refresh failed", zap.Error(err))
	}
}

func (s *Session) onRematchBroadcast(payload map[string]any) {
	code, _ := payload["code"].(string)
	if code == "" {
		return
	}
	s.mu.Lock()
	cb := s.onRematch
	closed := s.closed
	s.mu.Unlock()
	if closed || cb == nil {
		return
	}
	cb(code)
}

// schedulePollLocked arms the settle poll: while round state has not
// converged, the backend is polled on a short interval as a backstop for
// missed pushes. The timer disarms itself once the state settles.
func (s *Session) schedulePollLocked() {
	if s.closed || s.pollTimer != nil {
		return
	}
	if s.roundStateReady || s.gameStatus != GameActive {
		return
	}
	s.pollTimer = time.AfterFunc(s.pollEvery, s.pollTick)
}

func (s *Session) pollTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollTimer = nil
	if s.closed || s.roundStateReady {
		return
	}

	if err := s.loadCurrentRoundLocked(); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("settle poll round load failed", zap.Error(err))
	}
	if !s.roundStateReady && s.currentRoundID != "" {
		if err := s.refreshRoundStateLocked(s.currentRoundID); err != nil {
			s.log.Warn("settle poll refresh failed", zap.Error(err))
		}
	}
	s.schedulePollLocked()
}

func (s *Session) setPlayerStatusLocked(playerID, status string) {
	for i := range s.players {
		if s.players[i].ID == playerID {
			s.players[i].Status = status
		}
	}
	if s.currentPlayer != nil && s.currentPlayer.ID == playerID {
		s.currentPlayer.Status = status
	}
}

// BroadcastMessage is the passthrough for presentation-triggered peer
// notifications.
func (s *Session) BroadcastMessage(event string, payload map[string]any) bool {
	return s.channel.Send(event, payload)
}

// requireRound returns the current round id or an error when none is active.
func (s *Session) requireRoundLocked() (string, error) {
	if s.currentRoundID == "" {
		return "", fmt.Errorf("no active round")
	}
	return s.currentRoundID, nil
}
