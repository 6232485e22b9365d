package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type StatusUpdateEvent struct {
	Event
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type TranscriptUpdateEvent struct {
	Event
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	Transcript string `json:"transcript"`
}

type SessionCompleteEvent struct {
	Event
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
	Summary    string `json:"summary"`
}

// ErrorEvent is only ever sent to the connection that caused it.
type ErrorEvent struct {
	Event
	Message string `json:"message"`
}

type ConnectionEvent struct {
	Event
	ConnectionID string `json:"connection_id"`
	Connected    bool   `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
