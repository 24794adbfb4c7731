package hub

import (
	"encoding/json"
	"log"
	"sync"

	"sevenscore/pkg/realtime"
)

// Subscription is the declarative handler set a client registers for a room.
type Subscription struct {
	Filters  []realtime.ChangeFilter
	Events   []string
	Presence *realtime.PresenceInfo
}

// Client represents a single subscribed connection. The websocket handler
// drains Out and writes each frame to the socket.
type Client struct {
	room     string
	filters  []realtime.ChangeFilter
	events   map[string]struct{}
	presence *realtime.PresenceInfo
	out      chan []byte
}

// Out is the stream of pre-encoded frames for this client.
func (c *Client) Out() <-chan []byte { return c.out }

// Room returns the room key this client is subscribed to.
func (c *Client) Room() string { return c.room }

// Hub manages all rooms and their subscribed clients. Row-change events are
// routed by filter across all rooms (the store has one change feed); broadcasts
// and presence are room-scoped.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
}

// GlobalHub is the singleton instance of our Hub.
var GlobalHub = NewHub()

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
	}
}

// Subscribe registers a new client. Presence, when announced, is pushed to the
// other members of the room as a join event.
func (h *Hub) Subscribe(room string, sub Subscription) *Client {
	client := &Client{
		room:     room,
		filters:  sub.Filters,
		events:   make(map[string]struct{}, len(sub.Events)),
		presence: sub.Presence,
		out:      make(chan []byte, 32),
	}
	for _, event := range sub.Events {
		client.events[event] = struct{}{}
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	if sub.Presence != nil {
		h.sendPresence(room, "join", sub.Presence, client)
	}
	return client
}

// Unsubscribe removes a client and closes its outbound channel.
func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	h.mu.Unlock()

	close(client.out)
	if client.presence != nil {
		h.sendPresence(client.room, "leave", client.presence, client)
	}
}

// PublishChange delivers a row-change event to every client whose filter
// matches, whatever room they sit in.
func (h *Hub) PublishChange(ev realtime.ChangeEvent) {
	frame, err := json.Marshal(realtime.Frame{Type: realtime.FrameChange, Change: &ev})
	if err != nil {
		log.Printf("hub: encode change event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		for _, filter := range client.filters {
			if filter.Matches(ev) {
				client.send(frame)
				break
			}
		}
	}
}

// Broadcast relays an application event to the members of a room that
// registered for it. The sender, if given, is skipped: broadcasts are
// peer-to-peer, the sender already knows what it sent.
func (h *Hub) Broadcast(room, event string, payload map[string]any, sender *Client) {
	frame, err := json.Marshal(realtime.Frame{
		Type:    realtime.FrameBroadcast,
		Event:   event,
		Payload: payload,
	})
	if err != nil {
		log.Printf("hub: encode broadcast %q: %v", event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client == sender || client.room != room {
			continue
		}
		if _, ok := client.events[event]; !ok {
			continue
		}
		client.send(frame)
	}
}

func (h *Hub) sendPresence(room, event string, info *realtime.PresenceInfo, sender *Client) {
	frame, err := json.Marshal(realtime.Frame{
		Type:    realtime.FramePresence,
		Event:   event,
		Key:     info.Key,
		Payload: info.Payload,
	})
	if err != nil {
		log.Printf("hub: encode presence: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client == sender || client.room != room {
			continue
		}
		client.send(frame)
	}
}

// send is non-blocking: a slow client loses frames rather than stalling the
// hub, and recovers via the reconciler's refetch-on-poll path.
func (c *Client) send(frame []byte) {
	select {
	case c.out <- frame:
	default:
	}
}
