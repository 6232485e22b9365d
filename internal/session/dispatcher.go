package session

import (
	"context"
	"log/slog"
)

// Inbound event names.
const (
	EventStartRecording  = "start-recording"
	EventAudioChunk      = "audio-chunk"
	EventTranscriptChunk = "transcript-chunk"
	EventPauseRecording  = "pause-recording"
	EventResumeRecording = "resume-recording"
	EventStopRecording   = "stop-recording"
	EventJoinSession     = "join-session"
)

// Outbound event names.
const (
	EventStatusUpdate     = "status-update"
	EventTranscriptUpdate = "transcript-update"
	EventSessionComplete  = "session-complete"
	EventError            = "error"
)

const (
	MsgInvalidMessage  = "Invalid message"
	MsgSessionNotFound = "Session not found"
)

var failureMessages = map[string]string{
	EventStartRecording:  "Failed to start recording",
	EventAudioChunk:      "Failed to process audio chunk",
	EventTranscriptChunk: "Failed to process transcript chunk",
	EventPauseRecording:  "Failed to pause recording",
	EventResumeRecording: "Failed to resume recording",
	EventStopRecording:   "Failed to stop recording",
}

// Command is one decoded inbound event.
type Command struct {
	Type        string
	SessionID   string
	Sequence    int
	Audio       []byte
	Transcript  string
	AudioSource AudioSource
	Duration    float64
}

// Conn is the originating connection of a command. Errors go to it alone.
type Conn interface {
	Join(sessionID string)
	SendStatus(sessionID, status string)
	SendError(message string)
}

// Dispatcher routes inbound commands to the coordinator.
type Dispatcher struct {
	coord *Coordinator
}

func NewDispatcher(coord *Coordinator) *Dispatcher {
	return &Dispatcher{coord: coord}
}

// Dispatch handles cmd. It never returns an error: failures are reported to
// conn with a generic message and the channel stays open.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, cmd Command) {
	if cmd.SessionID == "" {
		slog.Debug("session: command without session id", "type", cmd.Type)
		conn.SendError(MsgInvalidMessage)
		return
	}

	var err error
	switch cmd.Type {
	case EventJoinSession:
		conn.Join(cmd.SessionID)
		status, err := d.coord.Status(cmd.SessionID)
		if err != nil {
			slog.Debug("session: join failed", "session_id", cmd.SessionID, "error", err)
			conn.SendError(MsgSessionNotFound)
			return
		}
		conn.SendStatus(cmd.SessionID, status)
		return
	case EventStartRecording:
		conn.Join(cmd.SessionID)
		err = d.coord.Start(ctx, cmd.SessionID, cmd.AudioSource)
	case EventAudioChunk:
		conn.Join(cmd.SessionID)
		err = d.coord.IngestAudio(ctx, cmd.SessionID, cmd.Sequence, cmd.Audio)
	case EventTranscriptChunk:
		conn.Join(cmd.SessionID)
		err = d.coord.IngestText(ctx, cmd.SessionID, cmd.Sequence, cmd.Transcript)
	case EventPauseRecording:
		err = d.coord.Pause(ctx, cmd.SessionID)
	case EventResumeRecording:
		err = d.coord.Resume(ctx, cmd.SessionID)
	case EventStopRecording:
		conn.Join(cmd.SessionID)
		finalizeCtx := context.WithoutCancel(ctx)
		d.coord.background(func() {
			if err := d.coord.Finalize(finalizeCtx, cmd.SessionID, cmd.Transcript, cmd.Duration); err != nil {
				conn.SendError(failureMessages[EventStopRecording])
			}
		})
		return
	default:
		slog.Warn("session: unknown event", "type", cmd.Type, "session_id", cmd.SessionID)
		conn.SendError(MsgInvalidMessage)
		return
	}

	if err != nil {
		conn.SendError(failureMessages[cmd.Type])
	}
}
