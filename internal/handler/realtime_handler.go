package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"sevenscore/internal/hub"
	"sevenscore/pkg/realtime"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

const (
	subscribeTimeout  = 10 * time.Second
	writeTimeout      = 3 * time.Second
	heartbeatInterval = 25 * time.Second
)

// region --- DTOs ---

// BroadcastInput is the HTTP fallback for peers that are not subscribed yet.
type BroadcastInput struct {
	Room    string         `json:"room" binding:"required"`
	Event   string         `json:"event" binding:"required"`
	Payload map[string]any `json:"payload"`
}

// endregion

// RealtimeSocket upgrades to a websocket, reads one subscribe frame, and then
// pumps change/broadcast/presence frames until either side hangs up.
func RealtimeSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// The session token in the first frame is the auth boundary; the
		// browser clients connect cross-origin in development.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx := c.Request.Context()

	subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	_, data, err := conn.Read(subCtx)
	cancel()
	if err != nil {
		return
	}

	var sub realtime.Frame
	if err := json.Unmarshal(data, &sub); err != nil || sub.Type != realtime.FrameSubscribe || sub.Room == "" {
		writeFrame(ctx, conn, realtime.Frame{
			Type:   realtime.FrameSystem,
			Status: realtime.StatusChannelError,
			Reason: "expected a subscribe frame",
		})
		return
	}

	client := hub.GlobalHub.Subscribe(sub.Room, hub.Subscription{
		Filters:  sub.Postgres,
		Events:   sub.Broadcast,
		Presence: sub.Presence,
	})
	defer hub.GlobalHub.Unsubscribe(client)

	if err := writeFrame(ctx, conn, realtime.Frame{Type: realtime.FrameSystem, Status: realtime.StatusSubscribed}); err != nil {
		return
	}

	// Writer goroutine: drains the hub and keeps the socket warm.
	writeCtx, writeCancel := context.WithCancel(ctx)
	defer writeCancel()
	go func() {
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()
		for {
			select {
			case <-writeCtx.Done():
				return
			case frame, ok := <-client.Out():
				if !ok {
					return
				}
				wctx, wcancel := context.WithTimeout(writeCtx, writeTimeout)
				err := conn.Write(wctx, websocket.MessageText, frame)
				wcancel()
				if err != nil {
					return
				}
			case <-heartbeat.C:
				wctx, wcancel := context.WithTimeout(writeCtx, writeTimeout)
				err := conn.Write(wctx, websocket.MessageText, heartbeatFrame)
				wcancel()
				if err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: the only client-originated frames are broadcasts.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		var frame realtime.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("realtime: bad frame from %s: %v", sub.Room, err)
			continue
		}
		if frame.Type != realtime.FrameBroadcast || frame.Event == "" {
			continue
		}
		hub.GlobalHub.Broadcast(sub.Room, frame.Event, frame.Payload, client)
	}
}

var heartbeatFrame = mustMarshal(realtime.Frame{Type: realtime.FrameHeartbeat})

func mustMarshal(f realtime.Frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		panic(err)
	}
	return b
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame realtime.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

// BroadcastFallback godoc
// @Summary      Deliver a broadcast over HTTP
// @Description  Fallback for clients whose realtime channel is still connecting.
// @Tags         realtime
// @Accept       json
// @Security     BearerAuth
// @Param        input body BroadcastInput true "Broadcast"
// @Success      202 "accepted"
// @Failure      400 {object} ErrorResponse
// @Router       /realtime/broadcast [post]
func BroadcastFallback(c *gin.Context) {
	var input BroadcastInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hub.GlobalHub.Broadcast(input.Room, input.Event, input.Payload, nil)
	c.Status(http.StatusAccepted)
}
