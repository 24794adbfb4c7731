package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// DefaultReconnectDelay is the base wait between reconnect attempts. A little
// jitter is added so tabs sharing a room do not stampede the server together.
const DefaultReconnectDelay = 750 * time.Millisecond

const reconnectJitter = 250 * time.Millisecond

// State is the lifecycle of the room subscription.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Conn is the minimal transport surface the manager needs. The production
// implementation wraps a websocket; tests script a fake.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Dialer opens a transport connection to the channel endpoint.
type Dialer func(ctx context.Context, url string) (Conn, error)

// ChangeHandler couples a row-change filter with its callback.
type ChangeHandler struct {
	Filter   ChangeFilter
	OnChange func(ev ChangeEvent)
}

// BroadcastHandler couples an application event name with its callback.
type BroadcastHandler struct {
	Event     string
	OnMessage func(payload map[string]any)
}

// HandlerSet is the declarative set of listeners for one room. Opening a room
// with a new set replaces the previous one wholesale.
type HandlerSet struct {
	Changes    []ChangeHandler
	Broadcasts []BroadcastHandler

	// Presence, when set, is announced to the room on subscribe.
	Presence *PresenceInfo
	// OnPresence receives join/leave events from other members.
	OnPresence func(event, key string, payload map[string]any)

	// OnSubscribed fires each time the channel reaches subscribed, including
	// after a reconnect.
	OnSubscribed func()
	// OnError fires when an established subscription drops or a connect
	// attempt fails. Reconnection is already scheduled when it runs.
	OnError func(status string)
}

// Config wires a Manager.
type Config struct {
	// URL of the websocket channel endpoint.
	URL string
	// Token is the session token appended to the dial URL.
	Token string
	// Dial defaults to the websocket dialer.
	Dial Dialer
	// ReconnectDelay defaults to DefaultReconnectDelay.
	ReconnectDelay time.Duration
	// Fallback, when set, delivers broadcasts over a non-realtime path while
	// the channel is not subscribed.
	Fallback func(room, event string, payload map[string]any) error

	Logger *zap.Logger
}

// Manager owns at most one live subscription for one room and keeps it alive
// across transient failures without caller involvement.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	room       string
	handlers   HandlerSet
	state      State
	conn       Conn
	generation int
	reconnect  *time.Timer
	closed     bool
}

// NewManager creates a Manager. Open must be called to subscribe.
func NewManager(cfg Config) *Manager {
	if cfg.Dial == nil {
		cfg.Dial = WebsocketDialer()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, log: logger, state: StateDisconnected}
}

// State returns the current subscription state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open establishes (or re-establishes) the subscription for a room. Handlers
// are registered before the subscribe call goes out, so nothing delivered
// after the ack can be missed. Calling Open on an already open manager
// replaces the handler set and resubscribes; it never stacks listeners.
func (m *Manager) Open(room string, handlers HandlerSet) error {
	if room == "" {
		return errors.New("realtime: empty room key")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("realtime: manager closed")
	}
	m.generation++
	gen := m.generation
	m.room = room
	m.handlers = handlers
	m.stopReconnectLocked()
	if m.conn != nil {
		_ = m.conn.Close("resubscribing")
		m.conn = nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	go m.connect(gen)
	return nil
}

// Close tears the subscription down for good: the pending reconnect (if any)
// is cancelled and no callback fires afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	m.stopReconnectLocked()
	conn := m.conn
	m.conn = nil
	m.state = StateClosed
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close("bye")
	}
}

// Send delivers a broadcast to the room, best effort. Subscribed: straight
// over the socket. Not subscribed: over the fallback path when one is
// configured. The return value only says whether delivery was attempted.
func (m *Manager) Send(event string, payload map[string]any) bool {
	if payload == nil {
		payload = map[string]any{}
	}

	m.mu.Lock()
	conn := m.conn
	subscribed := m.state == StateSubscribed
	room := m.room
	m.mu.Unlock()

	if subscribed && conn != nil {
		frame, err := json.Marshal(Frame{Type: FrameBroadcast, Event: event, Payload: payload})
		if err != nil {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = conn.Write(ctx, frame)
		cancel()
		if err != nil {
			m.log.Warn("broadcast write failed", zap.String("event", event), zap.Error(err))
			return false
		}
		return true
	}

	if m.cfg.Fallback != nil && room != "" {
		if err := m.cfg.Fallback(room, event, payload); err != nil {
			m.log.Warn("broadcast fallback failed", zap.String("event", event), zap.Error(err))
			return false
		}
		m.log.Debug("broadcast sent via fallback", zap.String("event", event))
		return true
	}

	return false
}

// connect runs one subscribe attempt and then the read loop. It exits when
// the connection drops (scheduling a reconnect) or when gen goes stale.
func (m *Manager) connect(gen int) {
	ctx := context.Background()

	m.mu.Lock()
	if m.stale(gen) {
		m.mu.Unlock()
		return
	}
	room := m.room
	presence := m.handlers.Presence
	filters := make([]ChangeFilter, 0, len(m.handlers.Changes))
	for _, h := range m.handlers.Changes {
		filters = append(filters, h.Filter)
	}
	events := make([]string, 0, len(m.handlers.Broadcasts))
	for _, h := range m.handlers.Broadcasts {
		events = append(events, h.Event)
	}
	m.mu.Unlock()

	conn, err := m.cfg.Dial(ctx, m.dialURL())
	if err != nil {
		m.log.Warn("channel dial failed", zap.String("room", room), zap.Error(err))
		m.disconnected(gen, StatusChannelError, false)
		return
	}

	sub := Frame{
		Type:      FrameSubscribe,
		Room:      room,
		Postgres:  filters,
		Broadcast: events,
		Presence:  presence,
	}
	frame, err := json.Marshal(sub)
	if err != nil {
		_ = conn.Close("encode error")
		m.disconnected(gen, StatusChannelError, false)
		return
	}
	if err := conn.Write(ctx, frame); err != nil {
		_ = conn.Close("subscribe failed")
		m.log.Warn("subscribe write failed", zap.String("room", room), zap.Error(err))
		m.disconnected(gen, StatusChannelError, false)
		return
	}

	m.mu.Lock()
	if m.stale(gen) {
		m.mu.Unlock()
		_ = conn.Close("superseded")
		return
	}
	m.conn = conn
	m.mu.Unlock()

	subscribed := false
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			status := StatusClosed
			if subscribed {
				m.log.Warn("channel dropped", zap.String("room", room), zap.Error(err))
			} else {
				status = StatusChannelError
				m.log.Warn("channel failed before subscribe ack", zap.String("room", room), zap.Error(err))
			}
			m.disconnected(gen, status, subscribed)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			m.log.Warn("undecodable frame dropped", zap.String("room", room), zap.Error(err))
			continue
		}

		switch f.Type {
		case FrameSystem:
			switch f.Status {
			case StatusSubscribed:
				subscribed = true
				cb := m.markSubscribed(gen)
				if cb != nil {
					cb()
				}
			case StatusClosed, StatusChannelError, StatusTimedOut:
				m.log.Warn("channel reported failure", zap.String("room", room), zap.String("status", f.Status))
				_ = conn.Close("server status")
				m.disconnected(gen, f.Status, subscribed)
				return
			}
		case FrameHeartbeat:
			// Keepalive only.
		case FrameChange:
			if f.Change != nil {
				m.dispatchChange(gen, *f.Change)
			}
		case FrameBroadcast:
			m.dispatchBroadcast(gen, f.Event, f.Payload)
		case FramePresence:
			m.dispatchPresence(gen, f.Event, f.Key, f.Payload)
		default:
			m.log.Debug("unknown frame type dropped", zap.String("type", f.Type))
		}
	}
}

// markSubscribed flips the state and returns the OnSubscribed callback to run
// outside the lock, or nil if the attempt went stale.
func (m *Manager) markSubscribed(gen int) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stale(gen) {
		return nil
	}
	m.state = StateSubscribed
	return m.handlers.OnSubscribed
}

// disconnected records the drop and schedules exactly one reconnect. A clean
// CLOSED on a channel that never subscribed (deliberate teardown) reports no
// error; everything else signals OnError first.
func (m *Manager) disconnected(gen int, status string, wasSubscribed bool) {
	m.mu.Lock()
	if m.stale(gen) {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateReconnecting
	onError := m.handlers.OnError
	delay := m.cfg.ReconnectDelay + time.Duration(rand.Int63n(int64(reconnectJitter)))
	if m.reconnect == nil {
		m.reconnect = time.AfterFunc(delay, func() {
			m.mu.Lock()
			m.reconnect = nil
			if m.stale(gen) {
				m.mu.Unlock()
				return
			}
			m.state = StateConnecting
			m.mu.Unlock()
			m.connect(gen)
		})
	}
	m.mu.Unlock()

	if onError != nil && (status != StatusClosed || wasSubscribed) {
		onError(status)
	}
}

func (m *Manager) dispatchChange(gen int, ev ChangeEvent) {
	m.mu.Lock()
	if m.stale(gen) {
		m.mu.Unlock()
		return
	}
	matched := make([]func(ChangeEvent), 0, 2)
	for _, h := range m.handlers.Changes {
		if h.OnChange != nil && h.Filter.Matches(ev) {
			matched = append(matched, h.OnChange)
		}
	}
	m.mu.Unlock()

	if len(matched) == 0 {
		m.log.Debug("change event had no listener",
			zap.String("table", ev.Table), zap.String("event", ev.Event))
	}
	for _, cb := range matched {
		cb(ev)
	}
}

func (m *Manager) dispatchBroadcast(gen int, event string, payload map[string]any) {
	m.mu.Lock()
	if m.stale(gen) {
		m.mu.Unlock()
		return
	}
	matched := make([]func(map[string]any), 0, 1)
	for _, h := range m.handlers.Broadcasts {
		if h.OnMessage != nil && h.Event == event {
			matched = append(matched, h.OnMessage)
		}
	}
	m.mu.Unlock()

	if len(matched) == 0 {
		m.log.Debug("broadcast had no listener", zap.String("event", event))
	}
	for _, cb := range matched {
		cb(payload)
	}
}

func (m *Manager) dispatchPresence(gen int, event, key string, payload map[string]any) {
	m.mu.Lock()
	if m.stale(gen) {
		m.mu.Unlock()
		return
	}
	cb := m.handlers.OnPresence
	m.mu.Unlock()

	if cb != nil {
		cb(event, key, payload)
	}
}

// stale reports whether this goroutine lost the subscription to a newer Open
// or to Close. Callers must hold m.mu.
func (m *Manager) stale(gen int) bool {
	return m.closed || gen != m.generation
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) dialURL() string {
	if m.cfg.Token == "" {
		return m.cfg.URL
	}
	sep := "?"
	for _, r := range m.cfg.URL {
		if r == '?' {
			sep = "&"
			break
		}
	}
	return m.cfg.URL + sep + "token=" + m.cfg.Token
}

// websocketConn adapts coder/websocket to the Conn interface.
type websocketConn struct {
	conn *websocket.Conn
}

func (w *websocketConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *websocketConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *websocketConn) Close(reason string) error {
	return w.conn.Close(websocket.StatusNormalClosure, reason)
}

// WebsocketDialer returns the production Dialer.
func WebsocketDialer() Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		conn, _, err := websocket.Dial(dctx, url, nil)
		if err != nil {
			return nil, err
		}
		return &websocketConn{conn: conn}, nil
	}
}
