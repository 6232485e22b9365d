package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sjawhar/livescribe/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20
)

// Dispatcher handles one decoded inbound command.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn session.Conn, cmd session.Command)
}

// ChunkData is audio sent either as a base64 string or as an array of byte
// values.
type ChunkData []byte

func (c *ChunkData) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = nil
		return nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("decode chunk_data: %w", err)
		}
		*c = decoded
		return nil
	}

	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return errors.New("chunk_data must be a base64 string or a byte array")
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("chunk_data value %d out of byte range", v)
		}
		out[i] = byte(v)
	}
	*c = out
	return nil
}

type inboundMessage struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id"`
	Sequence    *int      `json:"sequence"`
	ChunkData   ChunkData `json:"chunk_data"`
	Transcript  string    `json:"transcript"`
	AudioSource string    `json:"audio_source"`
	Duration    float64   `json:"duration"`
}

func decodeCommand(data []byte) (session.Command, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return session.Command{}, err
	}
	if msg.Type == "" {
		return session.Command{}, errors.New("missing type")
	}

	cmd := session.Command{
		Type:        msg.Type,
		SessionID:   msg.SessionID,
		Audio:       msg.ChunkData,
		Transcript:  msg.Transcript,
		AudioSource: session.ParseAudioSource(msg.AudioSource),
		Duration:    msg.Duration,
	}
	switch msg.Type {
	case session.EventAudioChunk, session.EventTranscriptChunk:
		if msg.Sequence == nil {
			return session.Command{}, errors.New("missing sequence")
		}
	}
	if msg.Sequence != nil {
		cmd.Sequence = *msg.Sequence
	}
	return cmd, nil
}

// client is one websocket connection as seen by the dispatcher.
type client struct {
	id   string
	hub  *Hub
	send chan []byte
}

func (c *client) Join(sessionID string) {
	c.hub.Join(c.send, sessionID)
}

func (c *client) SendStatus(sessionID, status string) {
	c.sendEvent(StatusUpdateEvent{
		Event:     newEvent(session.EventStatusUpdate, time.Now().UTC()),
		SessionID: sessionID,
		Status:    status,
	})
}

func (c *client) SendError(message string) {
	c.sendEvent(ErrorEvent{
		Event:   newEvent(session.EventError, time.Now().UTC()),
		Message: message,
	})
}

func (c *client) sendEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	c.hub.SendTo(c.send, payload)
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
}

func registerWSRoute(mux *http.ServeMux, hub *Hub, dispatcher Dispatcher, allowedOrigins []string) {
	upgrader := newUpgrader(allowedOrigins)

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}

		c := &client{id: uuid.NewString(), hub: hub, send: hub.Subscribe()}
		c.sendEvent(ConnectionEvent{
			Event:        newEvent("connection", time.Now().UTC()),
			ConnectionID: c.id,
			Connected:    true,
		})

		go writePump(conn, c.send)
		readPump(context.WithoutCancel(r.Context()), conn, c, dispatcher)
		hub.Unsubscribe(c.send)
	})
}

// readPump decodes inbound messages in arrival order. Leaving a room never
// changes session state.
func readPump(ctx context.Context, conn *websocket.Conn, c *client, dispatcher Dispatcher) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws read error (%s): %v", c.id, err)
			}
			return
		}

		cmd, err := decodeCommand(data)
		if err != nil {
			c.SendError(session.MsgInvalidMessage)
			continue
		}
		dispatcher.Dispatch(ctx, c, cmd)
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
