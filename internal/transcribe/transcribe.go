package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjawhar/livescribe/internal/audio"
	"github.com/sjawhar/livescribe/internal/llm"
)

const (
	firstChunkPrompt   = "Transcribe this audio accurately. If multiple speakers are present, identify them as Speaker 1, Speaker 2, etc."
	continuationPrompt = "Continue transcribing this audio. Maintain speaker context from the previous segment. If multiple speakers are present, identify them as Speaker 1, Speaker 2, etc."
)

// Prompt returns the instruction sent with a chunk.
func Prompt(continuation bool) string {
	if continuation {
		return continuationPrompt
	}
	return firstChunkPrompt
}

type Request struct {
	Audio        []byte
	Format       audio.Format
	Continuation bool
}

// Backend is one speech-to-text provider. Unlike Service it reports errors.
type Backend interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// NewBackend builds a backend from a "provider/model" name such as
// "gemini/gemini-2.0-flash", "openai/whisper-1" or "deepgram/nova-2".
func NewBackend(model, apiKey string, opts ...llm.Option) (Backend, error) {
	provider, name, err := llm.ParseModel(model)
	if err != nil {
		return nil, err
	}

	if provider == "deepgram" {
		return newDeepgramBackend(apiKey, name, "")
	}

	client, err := llm.NewClient(provider, apiKey, name, opts...)
	if err != nil {
		return nil, err
	}
	at, ok := client.(llm.AudioTranscriber)
	if !ok {
		return nil, fmt.Errorf("transcription provider %q: %w", provider, llm.ErrAudioUnsupported)
	}
	return &llmBackend{client: at}, nil
}

type llmBackend struct {
	client llm.AudioTranscriber
}

func (b *llmBackend) Transcribe(ctx context.Context, req Request) (string, error) {
	return b.client.TranscribeAudio(ctx, llm.Audio{MIMEType: req.Format.MIMEType(), Data: req.Audio}, Prompt(req.Continuation))
}

// Service adapts a Backend to the coordinator: each call is bounded by a
// timeout and any failure, panic included, yields an empty transcript.
type Service struct {
	name    string
	backend Backend
	timeout time.Duration
}

func NewService(name string, backend Backend, timeout time.Duration) *Service {
	return &Service{name: name, backend: backend, timeout: timeout}
}

func (s *Service) Transcribe(ctx context.Context, data []byte, continuation bool) (text string) {
	if s == nil || s.backend == nil || len(data) == 0 {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("transcribe: backend panic", "provider", s.name, "panic", r)
			text = ""
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	format := audio.Sniff(data)
	if format == audio.FormatUnknown {
		format = audio.FormatWebM
	}

	out, err := s.backend.Transcribe(ctx, Request{Audio: data, Format: format, Continuation: continuation})
	if err != nil {
		slog.Warn("transcribe: chunk failed", "provider", s.name, "bytes", len(data), "error", err)
		return ""
	}
	return strings.TrimSpace(out)
}
