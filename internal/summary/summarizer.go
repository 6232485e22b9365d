package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjawhar/livescribe/internal/config"
	"github.com/sjawhar/livescribe/internal/llm"
)

type ClientFactory func(provider, model string) (llm.Client, error)

// Summarizer turns a finished transcript into a Markdown summary using one
// of the configured presets.
type Summarizer struct {
	cfg     config.Summarization
	factory ClientFactory
	router  *Router
	timeout time.Duration
	sleep   func(time.Duration)
	now     func() time.Time
}

func New(cfg config.Summarization, timeout time.Duration, factory ClientFactory) *Summarizer {
	if len(cfg.Presets) == 0 {
		cfg.Presets = map[string]config.Preset{"default": config.DefaultPreset()}
	}
	var router *Router
	if len(cfg.Presets) > 1 {
		router = NewRouter(cfg, factory)
	}
	return &Summarizer{
		cfg:     cfg,
		factory: factory,
		router:  router,
		timeout: timeout,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// Summarize picks a preset and produces a summary. The whole call, retries
// included, is bounded by the configured timeout.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	presetName, err := s.selectPreset(ctx, transcript)
	if err != nil {
		return "", fmt.Errorf("select preset: %w", err)
	}
	slog.Info("summary: generating", "preset", presetName, "words", len(strings.Fields(transcript)))
	return s.SummarizeWithPreset(ctx, transcript, presetName)
}

func (s *Summarizer) SummarizeWithPreset(ctx context.Context, transcript, presetName string) (string, error) {
	preset, ok := s.cfg.Presets[presetName]
	if !ok {
		return "", fmt.Errorf("unknown preset %q", presetName)
	}

	modelStr := preset.Model
	if modelStr == "" {
		modelStr = s.cfg.Model
	}

	provider, model, err := llm.ParseModel(modelStr)
	if err != nil {
		return "", err
	}

	client, err := s.factory(provider, model)
	if err != nil {
		return "", fmt.Errorf("create llm client: %w", err)
	}

	date := s.now().UTC().Format("2006-01-02")
	userContent := strings.ReplaceAll(preset.UserTemplate, "{{transcript}}", transcript)
	userContent = strings.ReplaceAll(userContent, "{{date}}", date)

	messages := []llm.Message{
		{Role: "system", Content: preset.SystemPrompt},
		{Role: "user", Content: userContent},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := range backoff {
		result, err := client.Complete(ctx, messages)
		if err == nil {
			return strings.TrimSpace(result), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(backoff)-1 {
			slog.Warn("summary: retrying", "attempt", attempt+1, "error", err)
			s.sleep(backoff[attempt])
		}
	}
	return "", fmt.Errorf("summarize failed after retries: %w", lastErr)
}

func (s *Summarizer) selectPreset(ctx context.Context, transcript string) (string, error) {
	if s.router == nil {
		for name := range s.cfg.Presets {
			return name, nil
		}
		return "default", nil
	}
	return s.router.SelectPreset(ctx, transcript)
}

func (s *Summarizer) Presets() map[string]config.Preset {
	return s.cfg.Presets
}
