package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sjawhar/livescribe/internal/storage"
)

const (
	// NoTranscriptSummary is stored when there is too little text to
	// summarize.
	NoTranscriptSummary = "No transcript available to summarize."

	minSummaryChars   = 10
	fallbackExcerpt   = 500
	fallbackSummaryHd = "## Summary\n\nTranscript: "
)

// Finalize aggregates a session's transcript, produces a summary, and marks
// the session completed. A session already processing or completed is left
// alone, so repeated stops are no-ops.
func (c *Coordinator) Finalize(ctx context.Context, sessionID, clientTranscript string, duration float64) (err error) {
	if sessionID == "" {
		return ErrMissingSessionID
	}

	status, known := c.registry.Status(sessionID)
	if !known {
		sess, err := c.store.GetSession(sessionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("stop session %s: %w", sessionID, ErrUnknownSession)
			}
			return c.fail(sessionID, "stop", err)
		}
		status = sess.Status
	}
	if status == storage.StatusProcessing || status == storage.StatusCompleted {
		slog.Info("session: ignoring stop", "session_id", sessionID, "status", status)
		return nil
	}
	if !c.registry.BeginFinalize(sessionID) {
		slog.Info("session: ignoring stop, already finalizing", "session_id", sessionID)
		return nil
	}

	completed := false
	defer func() {
		if r := recover(); r != nil {
			if completed {
				slog.Error("session: panic after completion", "session_id", sessionID, "panic", r)
				return
			}
			c.metrics.Finalization("error")
			err = c.fail(sessionID, "stop", fmt.Errorf("panic: %v", r))
		}
	}()

	processing := storage.StatusProcessing
	if err := c.store.UpdateSession(sessionID, storage.SessionUpdate{Status: &processing}); err != nil {
		c.metrics.Finalization("error")
		return c.fail(sessionID, "stop", err)
	}
	c.broadcastStatus(sessionID, storage.StatusProcessing)

	if c.drain > 0 {
		drainCtx, cancel := context.WithTimeout(ctx, c.drain)
		if !c.work.wait(drainCtx, sessionID) {
			slog.Warn("session: finalizing with transcriptions in flight", "session_id", sessionID, "pending", c.work.pending(sessionID))
		}
		cancel()
	}

	texts, err := c.store.GetOrderedTranscripts(sessionID)
	if err != nil {
		c.metrics.Finalization("error")
		return c.fail(sessionID, "stop", err)
	}

	transcript := JoinTranscripts(texts)
	if transcript == "" {
		transcript = strings.TrimSpace(clientTranscript)
	}

	summary := c.summarize(ctx, sessionID, transcript)

	if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		duration = 0
	}
	status = storage.StatusCompleted
	completedAt := c.now()
	if err := c.store.UpdateSession(sessionID, storage.SessionUpdate{
		Status:      &status,
		Transcript:  &transcript,
		Summary:     &summary,
		Duration:    &duration,
		CompletedAt: &completedAt,
	}); err != nil {
		c.metrics.Finalization("error")
		return c.fail(sessionID, "stop", err)
	}
	completed = true

	c.registry.Release(sessionID)
	c.metrics.Finalization("completed")

	if c.hub != nil {
		c.hub.BroadcastComplete(sessionID, transcript, summary)
	}

	if c.archiver != nil {
		c.background(func() {
			if err := c.archiver.Archive(context.WithoutCancel(ctx), sessionID); err != nil {
				slog.Warn("session: archive failed", "session_id", sessionID, "error", err)
			}
		})
	}
	return nil
}

func (c *Coordinator) summarize(ctx context.Context, sessionID, transcript string) string {
	if nonSpaceLen(transcript) < minSummaryChars {
		return NoTranscriptSummary
	}
	if c.summarizer == nil {
		return FallbackSummary(transcript)
	}

	summary, err := c.callSummarizer(ctx, transcript)
	if err == nil && strings.TrimSpace(summary) != "" {
		return summary
	}

	slog.Warn("session: summarization failed, using transcript excerpt", "session_id", sessionID, "error", err)
	c.metrics.SummaryFallback()
	return FallbackSummary(transcript)
}

func (c *Coordinator) callSummarizer(ctx context.Context, transcript string) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("summarizer panic: %v", r)
		}
	}()
	return c.summarizer.Summarize(ctx, transcript)
}

// background runs fn as tracked work that Wait joins.
func (c *Coordinator) background(fn func()) {
	c.work.wg.Add(1)
	go func() {
		defer c.work.wg.Done()
		fn()
	}()
}

// JoinTranscripts joins the non-empty texts, in order, with single spaces.
func JoinTranscripts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// FallbackSummary is used when the summarization service is unavailable. It
// quotes the first 500 characters of the transcript.
func FallbackSummary(transcript string) string {
	if utf8.RuneCountInString(transcript) <= fallbackExcerpt {
		return fallbackSummaryHd + transcript
	}
	runes := []rune(transcript)
	return fallbackSummaryHd + string(runes[:fallbackExcerpt]) + "..."
}

func nonSpaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
