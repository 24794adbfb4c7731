package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	in chan []byte

	mu     sync.Mutex
	writes [][]byte

	dropOnce sync.Once
	dropped  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), dropped: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.dropped:
		return nil, errors.New("connection lost")
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.dropped:
		return errors.New("connection lost")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.drop()
	return nil
}

func (c *fakeConn) drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}

func (c *fakeConn) serve(f Frame) {
	data, _ := json.Marshal(f)
	c.in <- data
}

func (c *fakeConn) ack() {
	c.serve(Frame{Type: FrameSystem, Status: StatusSubscribed})
}

func (c *fakeConn) writtenFrames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := make([]Frame, 0, len(c.writes))
	for _, raw := range c.writes {
		var f Frame
		if json.Unmarshal(raw, &f) == nil {
			frames = append(frames, f)
		}
	}
	return frames
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  bool
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestManager(dialer *fakeDialer) *Manager {
	return NewManager(Config{
		URL:            "ws://test/realtime",
		Dial:           dialer.dial,
		ReconnectDelay: 5 * time.Millisecond,
	})
}

func TestOpenSubscribesAndFiresCallback(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)
	defer m.Close()

	subscribed := make(chan struct{}, 4)
	require.NoError(t, m.Open("game:g1", HandlerSet{
		OnSubscribed: func() { subscribed <- struct{}{} },
	}))

	waitFor(t, func() bool { return dialer.count() == 1 }, "dial never happened")
	conn := dialer.conn(0)
	waitFor(t, func() bool { return len(conn.writtenFrames()) == 1 }, "subscribe frame never sent")

	sub := conn.writtenFrames()[0]
	assert.Equal(t, FrameSubscribe, sub.Type)
	assert.Equal(t, "game:g1", sub.Room)

	conn.ack()
	select {
	case <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnSubscribed never fired")
	}
	assert.Equal(t, StateSubscribed, m.State())
}

func TestBroadcastAndChangeDispatch(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)
	defer m.Close()

	broadcasts := make(chan map[string]any, 4)
	changes := make(chan ChangeEvent, 4)
	require.NoError(t, m.Open("game:g1", HandlerSet{
		Changes: []ChangeHandler{{
			Filter:   ChangeFilter{Table: "players", Event: EventAll, Filter: "game_id=eq.g1"},
			OnChange: func(ev ChangeEvent) { changes <- ev },
		}},
		Broadcasts: []BroadcastHandler{{
			Event:     "round_refresh",
			OnMessage: func(p map[string]any) { broadcasts <- p },
		}},
	}))

	waitFor(t, func() bool { return dialer.count() == 1 }, "dial never happened")
	conn := dialer.conn(0)
	conn.ack()

	conn.serve(Frame{Type: FrameBroadcast, Event: "round_refresh", Payload: map[string]any{"roundId": "r1"}})
	select {
	case p := <-broadcasts:
		assert.Equal(t, "r1", p["roundId"])
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never dispatched")
	}

	// Unregistered events are dropped silently.
	conn.serve(Frame{Type: FrameBroadcast, Event: "unrelated", Payload: map[string]any{}})

	conn.serve(Frame{Type: FrameChange, Change: &ChangeEvent{
		Table: "players", Event: EventUpdate,
		New: map[string]any{"game_id": "g1", "id": "p2", "status": "stayed"},
	}})
	select {
	case ev := <-changes:
		assert.Equal(t, "stayed", ev.New["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("change never dispatched")
	}

	// A row for another game fails the filter and must not reach the handler.
	conn.serve(Frame{Type: FrameChange, Change: &ChangeEvent{
		Table: "players", Event: EventUpdate,
		New: map[string]any{"game_id": "other", "id": "p9"},
	}})
	conn.serve(Frame{Type: FrameHeartbeat})
	select {
	case ev := <-changes:
		t.Fatalf("filtered change dispatched: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectAfterDropWithoutStackingHandlers(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)
	defer m.Close()

	fired := make(chan string, 16)
	errs := make(chan string, 16)
	require.NoError(t, m.Open("game:g1", HandlerSet{
		Broadcasts: []BroadcastHandler{{
			Event:     "ping",
			OnMessage: func(map[string]any) { fired <- "ping" },
		}},
		OnError: func(status string) { errs <- status },
	}))

	waitFor(t, func() bool { return dialer.count() == 1 }, "first dial never happened")
	dialer.conn(0).ack()
	waitFor(t, func() bool { return m.State() == StateSubscribed }, "never subscribed")

	dialer.conn(0).drop()
	waitFor(t, func() bool { return dialer.count() == 2 }, "never reconnected")
	select {
	case status := <-errs:
		assert.Equal(t, StatusClosed, status)
	case <-time.After(2 * time.Second):
		t.Fatal("OnError never fired for the drop")
	}

	conn := dialer.conn(1)
	conn.ack()
	waitFor(t, func() bool { return m.State() == StateSubscribed }, "never resubscribed")

	// One registration survived the reconnect, not two.
	conn.serve(Frame{Type: FrameBroadcast, Event: "ping", Payload: map[string]any{}})
	<-fired
	select {
	case <-fired:
		t.Fatal("handler fired twice for one broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOpenReplacesHandlers(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)
	defer m.Close()

	old := make(chan struct{}, 4)
	require.NoError(t, m.Open("game:g1", HandlerSet{
		Broadcasts: []BroadcastHandler{{Event: "ping", OnMessage: func(map[string]any) { old <- struct{}{} }}},
	}))
	waitFor(t, func() bool { return dialer.count() == 1 }, "first dial never happened")
	dialer.conn(0).ack()

	replacement := make(chan struct{}, 4)
	require.NoError(t, m.Open("game:g1", HandlerSet{
		Broadcasts: []BroadcastHandler{{Event: "ping", OnMessage: func(map[string]any) { replacement <- struct{}{} }}},
	}))
	waitFor(t, func() bool { return dialer.count() == 2 }, "reopen never dialed")
	conn := dialer.conn(1)
	conn.ack()
	waitFor(t, func() bool { return m.State() == StateSubscribed }, "never resubscribed")

	conn.serve(Frame{Type: FrameBroadcast, Event: "ping", Payload: map[string]any{}})
	select {
	case <-replacement:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement handler never fired")
	}
	select {
	case <-old:
		t.Fatal("stale handler fired after replacement")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseCancelsReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)

	require.NoError(t, m.Open("game:g1", HandlerSet{}))
	waitFor(t, func() bool { return dialer.count() == 1 }, "dial never happened")
	dialer.conn(0).ack()
	waitFor(t, func() bool { return m.State() == StateSubscribed }, "never subscribed")

	m.Close()
	dialer.conn(0).drop()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, dialer.count())
	assert.Equal(t, StateClosed, m.State())
}

func TestSendUsesSocketWhenSubscribed(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)
	defer m.Close()

	require.NoError(t, m.Open("game:g1", HandlerSet{}))
	waitFor(t, func() bool { return dialer.count() == 1 }, "dial never happened")
	conn := dialer.conn(0)
	conn.ack()
	waitFor(t, func() bool { return m.State() == StateSubscribed }, "never subscribed")

	require.True(t, m.Send("round_refresh", map[string]any{"roundId": "r1"}))
	waitFor(t, func() bool { return len(conn.writtenFrames()) == 2 }, "broadcast never written")

	frames := conn.writtenFrames()
	sent := frames[len(frames)-1]
	assert.Equal(t, FrameBroadcast, sent.Type)
	assert.Equal(t, "round_refresh", sent.Event)
	assert.Equal(t, "r1", sent.Payload["roundId"])
}

func TestSendFallsBackWhenNotSubscribed(t *testing.T) {
	dialer := &fakeDialer{fail: true}

	type delivery struct {
		room, event string
	}
	deliveries := make(chan delivery, 4)
	m := NewManager(Config{
		URL:            "ws://test/realtime",
		Dial:           dialer.dial,
		ReconnectDelay: time.Hour,
		Fallback: func(room, event string, payload map[string]any) error {
			deliveries <- delivery{room, event}
			return nil
		},
	})
	defer m.Close()

	require.NoError(t, m.Open("game:g1", HandlerSet{}))
	waitFor(t, func() bool { return m.State() != StateConnecting }, "connect attempt never settled")

	require.True(t, m.Send("round_refresh", map[string]any{"roundId": "r1"}))
	select {
	case d := <-deliveries:
		assert.Equal(t, delivery{"game:g1", "round_refresh"}, d)
	case <-time.After(2 * time.Second):
		t.Fatal("fallback never invoked")
	}
}

func TestSendWithoutFallbackReportsFailure(t *testing.T) {
	m := NewManager(Config{
		URL:            "ws://test/realtime",
		Dial:           (&fakeDialer{fail: true}).dial,
		ReconnectDelay: time.Hour,
	})
	defer m.Close()

	require.NoError(t, m.Open("game:g1", HandlerSet{}))
	assert.False(t, m.Send("round_refresh", nil))
}

func TestServerClosedBeforeAckIsQuiet(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)
	defer m.Close()

	errs := make(chan string, 4)
	require.NoError(t, m.Open("game:g1", HandlerSet{
		OnError: func(status string) { errs <- status },
	}))
	waitFor(t, func() bool { return dialer.count() == 1 }, "dial never happened")

	// A CLOSED status on a channel that never subscribed is a deliberate
	// teardown, not an error worth surfacing.
	dialer.conn(0).serve(Frame{Type: FrameSystem, Status: StatusClosed})
	waitFor(t, func() bool { return dialer.count() == 2 }, "never reconnected")

	select {
	case status := <-errs:
		t.Fatalf("OnError fired with %q for a pre-subscribe CLOSED", status)
	default:
	}
}

func TestChangeFilterMatching(t *testing.T) {
	filter := ChangeFilter{Table: "round_scores", Event: EventAll, Filter: "round_id=eq.r1"}

	assert.True(t, filter.Matches(ChangeEvent{
		Table: "round_scores", Event: EventInsert,
		New: map[string]any{"round_id": "r1"},
	}))
	assert.False(t, filter.Matches(ChangeEvent{
		Table: "round_scores", Event: EventInsert,
		New: map[string]any{"round_id": "r2"},
	}))
	assert.False(t, filter.Matches(ChangeEvent{
		Table: "rounds", Event: EventInsert,
		New: map[string]any{"round_id": "r1"},
	}))

	// Deletes carry only the old row.
	assert.True(t, filter.Matches(ChangeEvent{
		Table: "round_scores", Event: EventDelete,
		Old: map[string]any{"round_id": "r1"},
	}))

	exact := ChangeFilter{Table: "games", Event: EventUpdate}
	assert.True(t, exact.Matches(ChangeEvent{Table: "games", Event: EventUpdate}))
	assert.False(t, exact.Matches(ChangeEvent{Table: "games", Event: EventInsert}))
}
