package summary

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/sjawhar/livescribe/internal/config"
	"github.com/sjawhar/livescribe/internal/llm"
)

// Router asks an LLM which preset fits a transcript best.
type Router struct {
	cfg     config.Summarization
	factory ClientFactory
}

func NewRouter(cfg config.Summarization, factory ClientFactory) *Router {
	return &Router{cfg: cfg, factory: factory}
}

// SampleTranscript keeps the opening, middle, and closing words of a long
// transcript so preset selection stays cheap.
func SampleTranscript(transcript string, firstN, midN, lastN int) string {
	words := strings.Fields(transcript)
	total := len(words)

	if total <= firstN+midN+lastN {
		return transcript
	}

	first := strings.Join(words[:firstN], " ")
	midStart := (total - midN) / 2
	mid := strings.Join(words[midStart:midStart+midN], " ")
	last := strings.Join(words[total-lastN:], " ")

	return first + "\n\n[...]\n\n" + mid + "\n\n[...]\n\n" + last
}

// SelectPreset never fails: any problem reaching the model or parsing its
// answer falls back to the default preset.
func (r *Router) SelectPreset(ctx context.Context, transcript string) (string, error) {
	provider, model, err := llm.ParseModel(r.cfg.Model)
	if err != nil {
		return r.fallback("parse model failed", err), nil
	}

	client, err := r.factory(provider, model)
	if err != nil {
		return r.fallback("create client failed", err), nil
	}

	result, err := client.Complete(ctx, []llm.Message{{Role: "user", Content: r.prompt(transcript)}})
	if err != nil {
		return r.fallback("llm complete failed", err), nil
	}

	chosen := strings.Trim(strings.TrimSpace(result), "`\"'.")
	if _, ok := r.cfg.Presets[chosen]; ok {
		return chosen, nil
	}
	lowered := strings.ToLower(chosen)
	if _, ok := r.cfg.Presets[lowered]; ok {
		return lowered, nil
	}

	return r.fallback("chosen preset not found", fmt.Errorf("%q", chosen)), nil
}

func (r *Router) prompt(transcript string) string {
	var presetList strings.Builder
	for _, name := range r.names() {
		fmt.Fprintf(&presetList, "- %s: %s\n", name, r.cfg.Presets[name].Description)
	}

	return fmt.Sprintf(`Given this meeting transcript excerpt, choose the single best summarization preset.

Transcript excerpt:
%s

Available presets:
%s
Reply with ONLY the preset name, nothing else.`, SampleTranscript(transcript, 300, 200, 200), presetList.String())
}

func (r *Router) names() []string {
	names := make([]string, 0, len(r.cfg.Presets))
	for name := range r.cfg.Presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Router) fallback(reason string, err error) string {
	slog.Warn("summary: falling back to default preset", "reason", reason, "error", err)
	if _, ok := r.cfg.Presets["default"]; ok {
		return "default"
	}
	return r.names()[0]
}
