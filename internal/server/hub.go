package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/livescribe/internal/session"
)

// Publisher forwards room broadcasts to other server instances.
type Publisher interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

// Hub fans events out to the connections joined to a session's room.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]map[string]struct{}
	rooms   map[string]map[chan []byte]struct{}
	relay   Publisher
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan []byte]map[string]struct{}),
		rooms:   make(map[string]map[chan []byte]struct{}),
	}
}

// UseRelay makes every broadcast also go to p. Must be called before serving.
func (h *Hub) UseRelay(p Publisher) {
	h.mu.Lock()
	h.relay = p
	h.mu.Unlock()
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = make(map[string]struct{})
	h.mu.Unlock()
	return ch
}

// Join adds ch to room. Joining twice is a no-op.
func (h *Hub) Join(ch chan []byte, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.clients[ch]
	if !ok {
		return
	}
	joined[room] = struct{}{}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[chan []byte]struct{})
		h.rooms[room] = members
	}
	members[ch] = struct{}{}
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.clients[ch]
	if !ok {
		return
	}
	for room := range joined {
		members := h.rooms[room]
		delete(members, ch)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.clients, ch)
	close(ch)
}

// Members reports how many local connections are in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast delivers msg to local members of room and forwards it to the
// relay, if any.
func (h *Hub) Broadcast(room string, msg []byte) {
	h.Deliver(room, msg)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Publish(context.Background(), room, msg); err != nil {
		slog.Warn("hub: relay publish failed", "room", room, "error", err)
	}
}

// Deliver sends msg to local members only. Slow members miss messages
// rather than block the sender, except session-complete, which replaces the
// oldest message still queued for that member.
func (h *Hub) Deliver(room string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.rooms[room] {
		if trySend(ch, msg) {
			continue
		}
		if isTerminal(msg) && evictAndSend(ch, msg) {
			slog.Warn("hub: evicted queued message for slow client", "room", room)
			continue
		}
		slog.Warn("hub: dropping message for slow client", "room", room)
	}
}

func trySend(ch chan []byte, msg []byte) bool {
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

// evictAndSend must run with the hub lock held so ch cannot be closed.
func evictAndSend(ch chan []byte, msg []byte) bool {
	for range 3 {
		select {
		case <-ch:
		default:
		}
		if trySend(ch, msg) {
			return true
		}
	}
	return false
}

func isTerminal(msg []byte) bool {
	var head struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(msg, &head) == nil && head.Type == session.EventSessionComplete
}

func (h *Hub) BroadcastStatus(sessionID, status string) {
	h.broadcastEvent(sessionID, StatusUpdateEvent{
		Event:     newEvent(session.EventStatusUpdate, time.Now().UTC()),
		SessionID: sessionID,
		Status:    status,
	})
}

func (h *Hub) BroadcastTranscript(sessionID string, sequence int, transcript string) {
	h.broadcastEvent(sessionID, TranscriptUpdateEvent{
		Event:      newEvent(session.EventTranscriptUpdate, time.Now().UTC()),
		SessionID:  sessionID,
		Sequence:   sequence,
		Transcript: transcript,
	})
}

func (h *Hub) BroadcastComplete(sessionID, transcript, summary string) {
	h.broadcastEvent(sessionID, SessionCompleteEvent{
		Event:      newEvent(session.EventSessionComplete, time.Now().UTC()),
		SessionID:  sessionID,
		Transcript: transcript,
		Summary:    summary,
	})
}

func (h *Hub) broadcastEvent(room string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("hub: event marshal failed", "error", err)
		return
	}
	h.Broadcast(room, payload)
}

// SendTo delivers msg to a single subscriber. It is a no-op once ch has
// been unsubscribed.
func (h *Hub) SendTo(ch chan []byte, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[ch]; !ok {
		return false
	}
	return trySend(ch, msg)
}

// CloseAll unsubscribes every connection, which makes their writers send a
// close frame.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	channels := make([]chan []byte, 0, len(h.clients))
	for ch := range h.clients {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		h.Unsubscribe(ch)
	}
}
