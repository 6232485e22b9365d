package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrAudioUnsupported is returned when a provider cannot take audio input.
var ErrAudioUnsupported = errors.New("provider does not accept audio input")

// Audio is an inline audio attachment.
type Audio struct {
	MIMEType string
	Data     []byte
}

type Message struct {
	Role    string
	Content string
	// Audio, when set on a user message, is sent ahead of Content.
	Audio *Audio
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// AudioTranscriber is implemented by clients that can turn audio into text.
type AudioTranscriber interface {
	TranscribeAudio(ctx context.Context, audio Audio, prompt string) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL   string
	maxTokens int64
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithMaxTokens caps the response length for providers that require it.
func WithMaxTokens(n int64) Option {
	return func(o *clientOptions) {
		o.maxTokens = n
	}
}

func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{maxTokens: 4096}
	for _, opt := range opts {
		opt(o)
	}

	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%s: api key is required", provider)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

func hasAudio(messages []Message) bool {
	for _, m := range messages {
		if m.Audio != nil {
			return true
		}
	}
	return false
}
