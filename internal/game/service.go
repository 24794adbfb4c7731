// Package game owns the authoritative game logic: lobby membership, round
// lifecycle, score submission and totals. Everything here runs inside
// transactions and publishes the row changes it commits, so connected clients
// converge without polling.
package game

import (
	"encoding/json"
	"errors"

	"sevenscore/pkg/realtime"

	"gorm.io/gorm"
)

// TargetScore is the running total at which the game is won.
const TargetScore = 200

var (
	// ErrNotFound marks zero-row lookups; handlers turn it into a 404 branch.
	ErrNotFound = errors.New("not found")
	// ErrNotHost is returned for host-only operations called by a guest.
	ErrNotHost = errors.New("only the host can do that")
	// ErrNotMember is returned when the caller has no player in the game.
	ErrNotMember = errors.New("you are not in this game")
	// ErrGameStarted is returned when joining a game that already left the lobby.
	ErrGameStarted = errors.New("game already started")
)

// Notifier receives the row-change events committed by game operations.
// The realtime hub implements it; tests record the events.
type Notifier interface {
	PublishChange(ev realtime.ChangeEvent)
}

type noopNotifier struct{}

func (noopNotifier) PublishChange(realtime.ChangeEvent) {}

// Service executes the remote procedures of the score tracker.
type Service struct {
	db       *gorm.DB
	notifier Notifier
}

// NewService creates a Service over the given connection. A nil notifier
// disables change publication.
func NewService(db *gorm.DB, notifier Notifier) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{db: db, notifier: notifier}
}

// changeLog buffers the row changes a transaction intends to publish. Events
// only go out via flush after the commit succeeds, so a rolled-back
// transaction never leaks rows that were never written.
type changeLog struct {
	events []realtime.ChangeEvent
}

func (l *changeLog) add(table, event string, newRow, oldRow any) {
	l.events = append(l.events, realtime.ChangeEvent{
		Table: table,
		Event: event,
		New:   rowMap(newRow),
		Old:   rowMap(oldRow),
	})
}

func (s *Service) flush(l *changeLog) {
	for _, ev := range l.events {
		s.notifier.PublishChange(ev)
	}
}

// rowMap flattens a model into the generic row shape change events carry.
func rowMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
