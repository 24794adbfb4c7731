package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sevenscore/internal/hub"
	"sevenscore/pkg/realtime"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialSocket(t *testing.T, ctx context.Context, url string, sub realtime.Frame) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })

	raw, err := json.Marshal(sub)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, raw))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ack realtime.Frame
	require.NoError(t, json.Unmarshal(data, &ack))
	require.Equal(t, realtime.FrameSystem, ack.Type)
	require.Equal(t, realtime.StatusSubscribed, ack.Status)
	return conn
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame realtime.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestRealtimeSocketDeliversChangesAndBroadcasts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", RealtimeSocket)
	server := httptest.NewServer(router)
	defer server.Close()

	url := strings.Replace(server.URL, "http://", "ws://", 1) + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	watcher := dialSocket(t, ctx, url, realtime.Frame{
		Type: realtime.FrameSubscribe,
		Room: "game:ws-test",
		Postgres: []realtime.ChangeFilter{
			{Table: "players", Event: realtime.EventAll, Filter: "game_id=eq.ws-test"},
		},
		Broadcast: []string{"round_refresh"},
	})
	sender := dialSocket(t, ctx, url, realtime.Frame{
		Type:      realtime.FrameSubscribe,
		Room:      "game:ws-test",
		Broadcast: []string{"round_refresh"},
	})

	hub.GlobalHub.PublishChange(realtime.ChangeEvent{
		Table: "players",
		Event: realtime.EventUpdate,
		New:   map[string]any{"game_id": "ws-test", "id": "p1", "status": "stayed"},
	})

	frame := readFrame(t, ctx, watcher)
	require.Equal(t, realtime.FrameChange, frame.Type)
	require.NotNil(t, frame.Change)
	assert.Equal(t, "stayed", frame.Change.New["status"])

	// A peer broadcast comes back to the watcher but not to its sender.
	raw, err := json.Marshal(realtime.Frame{
		Type:    realtime.FrameBroadcast,
		Event:   "round_refresh",
		Payload: map[string]any{"roundId": "r1"},
	})
	require.NoError(t, err)
	require.NoError(t, sender.Write(ctx, websocket.MessageText, raw))

	frame = readFrame(t, ctx, watcher)
	assert.Equal(t, realtime.FrameBroadcast, frame.Type)
	assert.Equal(t, "r1", frame.Payload["roundId"])
}

func TestRealtimeSocketRejectsNonSubscribeFirstFrame(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", RealtimeSocket)
	server := httptest.NewServer(router)
	defer server.Close()

	url := strings.Replace(server.URL, "http://", "ws://", 1) + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"broadcast","event":"x"}`)))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame realtime.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, realtime.StatusChannelError, frame.Status)
}
