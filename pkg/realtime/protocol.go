// Package realtime implements the channel layer shared by the server and the
// client: a room-scoped subscription carrying row-change notifications,
// peer broadcasts and ephemeral presence events over a single websocket.
package realtime

import (
	"fmt"
	"strings"
)

// Frame types exchanged over a channel socket.
const (
	FrameSubscribe = "subscribe"
	FrameSystem    = "system"
	FrameChange    = "postgres_changes"
	FrameBroadcast = "broadcast"
	FramePresence  = "presence"
	FrameHeartbeat = "heartbeat"
)

// Subscription statuses reported in system frames.
const (
	StatusSubscribed   = "SUBSCRIBED"
	StatusClosed       = "CLOSED"
	StatusChannelError = "CHANNEL_ERROR"
	StatusTimedOut     = "TIMED_OUT"
)

// Row-change event types. EventAll subscribes to every type.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventAll    = "*"
)

// ChangeFilter selects row-change events by table, event type and an optional
// equality predicate on one column, written "column=eq.value".
type ChangeFilter struct {
	Table  string `json:"table"`
	Event  string `json:"event"`
	Filter string `json:"filter,omitempty"`
}

// ChangeEvent describes an insert/update/delete on one backend row.
type ChangeEvent struct {
	Table string         `json:"table"`
	Event string         `json:"event"`
	New   map[string]any `json:"new,omitempty"`
	Old   map[string]any `json:"old,omitempty"`
}

// PresenceInfo is the optional ephemeral presence announcement for a room.
type PresenceInfo struct {
	Key     string         `json:"key"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Frame is the single wire envelope. Which fields are set depends on Type.
type Frame struct {
	Type string `json:"type"`

	// subscribe
	Room      string         `json:"room,omitempty"`
	Postgres  []ChangeFilter `json:"postgres,omitempty"`
	Broadcast []string       `json:"broadcast,omitempty"`
	Presence  *PresenceInfo  `json:"presence,omitempty"`

	// system
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	// postgres_changes
	Change *ChangeEvent `json:"change,omitempty"`

	// broadcast and presence events
	Event   string         `json:"event,omitempty"`
	Key     string         `json:"key,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Matches reports whether ev satisfies the filter. Delete events are matched
// against the old row since the new one is gone.
func (f ChangeFilter) Matches(ev ChangeEvent) bool {
	if f.Table != ev.Table {
		return false
	}
	if f.Event != EventAll && f.Event != ev.Event {
		return false
	}
	if f.Filter == "" {
		return true
	}
	column, want, ok := parseEqFilter(f.Filter)
	if !ok {
		return false
	}
	row := ev.New
	if ev.Event == EventDelete {
		row = ev.Old
	}
	got, present := row[column]
	if !present {
		return false
	}
	return fmt.Sprint(got) == want
}

// parseEqFilter splits "column=eq.value" into its parts.
func parseEqFilter(s string) (column, value string, ok bool) {
	column, rest, found := strings.Cut(s, "=eq.")
	if !found || column == "" {
		return "", "", false
	}
	return column, rest, true
}
