package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjawhar/livescribe/internal/metrics"
	"github.com/sjawhar/livescribe/internal/storage"
)

type Options struct {
	BufferSize int
	Validator  *Validator
	// FinalizeDrain bounds how long finalization waits for in-flight
	// transcriptions before aggregating. Zero disables the wait.
	FinalizeDrain time.Duration
	Archiver      Archiver
	Metrics       *metrics.Collector
	Now           func() time.Time
}

// Coordinator owns the per-session lifecycle: it accepts chunks, fans them
// out to transcription, and finalizes sessions into a transcript and summary.
type Coordinator struct {
	store       Store
	transcriber Transcriber
	summarizer  Summarizer
	hub         EventBroadcaster
	archiver    Archiver
	metrics     *metrics.Collector

	registry  *Registry
	validator *Validator
	work      *inflight
	drain     time.Duration
	now       func() time.Time
}

func NewCoordinator(store Store, transcriber Transcriber, summarizer Summarizer, hub EventBroadcaster, opts Options) *Coordinator {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Validator == nil {
		opts.Validator = NewValidator(nil)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Coordinator{
		store:       store,
		transcriber: transcriber,
		summarizer:  summarizer,
		hub:         hub,
		archiver:    opts.Archiver,
		metrics:     opts.Metrics,
		registry:    NewRegistry(opts.BufferSize),
		validator:   opts.Validator,
		work:        newInflight(),
		drain:       opts.FinalizeDrain,
		now:         opts.Now,
	}
}

// ActiveSessions reports how many sessions are recording or paused.
func (c *Coordinator) ActiveSessions() int {
	return c.registry.ActiveCount()
}

// Recent returns the rolling buffer of a live session, oldest first.
func (c *Coordinator) Recent(sessionID string) []Chunk {
	return c.registry.Recent(sessionID)
}

// Status returns the current status of a session, preferring live state.
func (c *Coordinator) Status(sessionID string) (string, error) {
	if status, ok := c.registry.Status(sessionID); ok {
		return status, nil
	}
	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		return "", fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return sess.Status, nil
}

// Wait blocks until background transcriptions and finalizations finish or
// ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	return c.work.waitAll(ctx)
}

// Start moves an idle (or previously failed) session to recording.
func (c *Coordinator) Start(ctx context.Context, sessionID string, source AudioSource) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}

	status, err := c.resolve(sessionID)
	if err != nil {
		return fmt.Errorf("start session %s: %w", sessionID, err)
	}
	if status != storage.StatusIdle && status != storage.StatusError {
		slog.Info("session: ignoring start", "session_id", sessionID, "status", status)
		return nil
	}

	if !c.registry.Activate(sessionID, source) {
		slog.Info("session: ignoring start, already active", "session_id", sessionID)
		return nil
	}

	recording := storage.StatusRecording
	src := string(source)
	if err := c.store.UpdateSession(sessionID, storage.SessionUpdate{Status: &recording, AudioSource: &src}); err != nil {
		return c.fail(sessionID, "start", err)
	}

	c.broadcastStatus(sessionID, storage.StatusRecording)
	return nil
}

// Pause moves a recording session to paused. Chunks still arriving while
// paused are accepted.
func (c *Coordinator) Pause(ctx context.Context, sessionID string) error {
	return c.move(sessionID, "pause", storage.StatusPaused, storage.StatusRecording)
}

// Resume moves a paused session back to recording.
func (c *Coordinator) Resume(ctx context.Context, sessionID string) error {
	return c.move(sessionID, "resume", storage.StatusRecording, storage.StatusPaused)
}

func (c *Coordinator) move(sessionID, op, to, from string) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}
	if _, err := c.resolve(sessionID); err != nil {
		return fmt.Errorf("%s session %s: %w", op, sessionID, err)
	}

	prev, ok := c.registry.Transition(sessionID, to, from)
	if !ok {
		slog.Info("session: ignoring transition", "op", op, "session_id", sessionID, "status", prev)
		return nil
	}

	if err := c.store.UpdateSession(sessionID, storage.SessionUpdate{Status: &to}); err != nil {
		return c.fail(sessionID, op, err)
	}

	c.broadcastStatus(sessionID, to)
	return nil
}

// IngestAudio validates, buffers, and persists one audio chunk, then hands it
// to transcription in the background. Invalid chunks are dropped silently.
func (c *Coordinator) IngestAudio(ctx context.Context, sessionID string, sequence int, data []byte) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}
	if sequence < 0 {
		slog.Debug("session: dropping chunk", "session_id", sessionID, "sequence", sequence, "error", ErrInvalidSequence)
		c.metrics.ChunkRejected("bad_sequence")
		return nil
	}

	if _, err := c.resolve(sessionID); err != nil && !errors.Is(err, ErrUnknownSession) {
		slog.Warn("session: resolve before chunk failed", "session_id", sessionID, "error", err)
	}
	source, ok := c.registry.Source(sessionID)
	if !ok {
		source = SourceTab
	}
	if err := c.validator.Validate(source, data); err != nil {
		slog.Debug("session: dropping chunk", "session_id", sessionID, "sequence", sequence, "error", err)
		c.metrics.ChunkRejected(rejectReason(err))
		return nil
	}

	c.registry.Push(sessionID, Chunk{Sequence: sequence, Audio: data, ReceivedAt: c.now()})

	if err := c.store.SaveChunk(sessionID, sequence, data, nil); err != nil {
		return c.chunkFailed(sessionID, "save chunk", err)
	}
	c.metrics.ChunkAccepted("audio")

	if c.transcriber == nil {
		return nil
	}

	c.work.add(sessionID)
	go func() {
		defer c.work.done(sessionID)
		c.transcribe(context.WithoutCancel(ctx), sessionID, sequence, data)
	}()
	return nil
}

func (c *Coordinator) transcribe(ctx context.Context, sessionID string, sequence int, data []byte) {
	started := time.Now()
	text := strings.TrimSpace(c.transcriber.Transcribe(ctx, data, sequence > 0))
	elapsed := time.Since(started)

	if text == "" {
		c.metrics.Transcription("empty", elapsed)
		return
	}

	if err := c.store.UpdateChunkTranscript(sessionID, sequence, text); err != nil {
		slog.Error("session: persist transcript failed", "session_id", sessionID, "sequence", sequence, "error", err)
		c.metrics.Transcription("persist_error", elapsed)
		return
	}
	c.metrics.Transcription("ok", elapsed)

	if c.hub != nil {
		c.hub.BroadcastTranscript(sessionID, sequence, text)
	}
}

// IngestText records a transcript produced on the client for one chunk.
func (c *Coordinator) IngestText(ctx context.Context, sessionID string, sequence int, text string) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}
	text = strings.TrimSpace(text)
	if text == "" || sequence < 0 {
		return nil
	}

	if _, err := c.resolve(sessionID); err != nil && !errors.Is(err, ErrUnknownSession) {
		slog.Warn("session: resolve before chunk failed", "session_id", sessionID, "error", err)
	}
	c.registry.Push(sessionID, Chunk{Sequence: sequence, Transcript: text, ReceivedAt: c.now()})

	if err := c.store.SaveChunk(sessionID, sequence, nil, &text); err != nil {
		return c.chunkFailed(sessionID, "save transcript chunk", err)
	}
	c.metrics.ChunkAccepted("text")

	if c.hub != nil {
		c.hub.BroadcastTranscript(sessionID, sequence, text)
	}
	return nil
}

// resolve returns the session's status, re-registering sessions the store
// still reports as recording or paused.
func (c *Coordinator) resolve(sessionID string) (string, error) {
	if status, ok := c.registry.Status(sessionID); ok {
		return status, nil
	}

	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrUnknownSession
		}
		return "", err
	}

	if sess.Status == storage.StatusRecording || sess.Status == storage.StatusPaused {
		c.registry.Restore(sessionID, sess.Status, ParseAudioSource(sess.AudioSource))
		if status, ok := c.registry.Status(sessionID); ok {
			return status, nil
		}
	}
	return sess.Status, nil
}

// fail marks a session as errored after a persistence failure. The returned
// error is reported to the caller only.
func (c *Coordinator) fail(sessionID, op string, cause error) error {
	slog.Error("session: operation failed", "op", op, "session_id", sessionID, "error", cause)

	c.registry.Release(sessionID)
	status := storage.StatusError
	if err := c.store.UpdateSession(sessionID, storage.SessionUpdate{Status: &status}); err != nil {
		slog.Error("session: mark error failed", "session_id", sessionID, "error", err)
	}

	return fmt.Errorf("%s session %s: %w: %w", op, sessionID, ErrStoreFailure, cause)
}

// chunkFailed escalates a chunk persistence failure only while the session is
// recording or paused. Chunks arriving during or after finalization, or for
// sessions this process does not track, are best-effort: the failure is
// logged and the session is left untouched.
func (c *Coordinator) chunkFailed(sessionID, op string, cause error) error {
	if !c.registry.ReleaseActive(sessionID) {
		slog.Warn("session: late chunk not persisted", "op", op, "session_id", sessionID, "error", cause)
		return fmt.Errorf("%s session %s: %w: %w", op, sessionID, ErrStoreFailure, cause)
	}
	return c.fail(sessionID, op, cause)
}

func (c *Coordinator) broadcastStatus(sessionID, status string) {
	if c.hub != nil {
		c.hub.BroadcastStatus(sessionID, status)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrChunkTooSmall):
		return "too_small"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	default:
		return "invalid"
	}
}
