package session

import (
	"context"
	"strings"
	"time"

	"github.com/sjawhar/livescribe/internal/storage"
)

// AudioSource identifies where a session's audio comes from.
type AudioSource string

const (
	SourceMicrophone AudioSource = "microphone"
	SourceTab        AudioSource = "tab"
)

// ParseAudioSource maps a client value to an AudioSource. Unknown values
// fall back to the microphone.
func ParseAudioSource(raw string) AudioSource {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "tab", "tab-share", "tab_share", "tabshare":
		return SourceTab
	default:
		return SourceMicrophone
	}
}

// Chunk is one ordered unit of session input held in the rolling buffer.
type Chunk struct {
	Sequence   int
	Audio      []byte
	Transcript string
	ReceivedAt time.Time
}

type Store interface {
	GetSession(id string) (storage.Session, error)
	UpdateSession(id string, update storage.SessionUpdate) error
	SaveChunk(sessionID string, sequence int, audioData []byte, transcript *string) error
	UpdateChunkTranscript(sessionID string, sequence int, transcript string) error
	GetOrderedTranscripts(sessionID string) ([]string, error)
}

// Transcriber converts one audio chunk to text. It reports failure as an
// empty string.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, continuation bool) string
}

type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

type EventBroadcaster interface {
	BroadcastStatus(sessionID, status string)
	BroadcastTranscript(sessionID string, sequence int, transcript string)
	BroadcastComplete(sessionID, transcript, summary string)
}

// Archiver exports a completed session. It runs after completion has been
// broadcast and never affects the session's status.
type Archiver interface {
	Archive(ctx context.Context, sessionID string) error
}
