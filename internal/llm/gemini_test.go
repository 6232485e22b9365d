package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestConvertGeminiMessages(t *testing.T) {
	webm := &Audio{MIMEType: "audio/webm", Data: []byte{0x1A, 0x45, 0xDF, 0xA3}}

	tests := []struct {
		name       string
		in         []Message
		wantSystem string
		check      func(t *testing.T, contents []*genai.Content)
	}{
		{
			name: "summary conversation",
			in: []Message{
				{Role: "system", Content: "You summarize meeting transcripts."},
				{Role: "user", Content: "Transcript: kickoff"},
				{Role: "assistant", Content: "## Key Discussion Points"},
			},
			wantSystem: "You summarize meeting transcripts.",
			check: func(t *testing.T, contents []*genai.Content) {
				if len(contents) != 2 || contents[0].Role != "user" || contents[1].Role != "model" {
					t.Fatalf("expected user then model turns, got %#v", contents)
				}
				if contents[1].Parts[0].Text != "## Key Discussion Points" {
					t.Fatalf("unexpected model text %q", contents[1].Parts[0].Text)
				}
			},
		},
		{
			name: "audio precedes prompt",
			in:   []Message{{Role: "user", Content: "Transcribe this audio accurately.", Audio: webm}},
			check: func(t *testing.T, contents []*genai.Content) {
				if len(contents) != 1 || len(contents[0].Parts) != 2 {
					t.Fatalf("expected one message with two parts, got %#v", contents)
				}
				blob := contents[0].Parts[0].InlineData
				if blob == nil || blob.MIMEType != "audio/webm" || len(blob.Data) != 4 {
					t.Fatalf("expected inline audio first, got %#v", contents[0].Parts[0])
				}
				if contents[0].Parts[1].Text != "Transcribe this audio accurately." {
					t.Fatalf("expected prompt after audio, got %#v", contents[0].Parts[1])
				}
			},
		},
		{
			name: "audio without prompt",
			in:   []Message{{Role: "user", Audio: webm}},
			check: func(t *testing.T, contents []*genai.Content) {
				if len(contents[0].Parts) != 1 || contents[0].Parts[0].InlineData == nil {
					t.Fatalf("expected audio-only part, got %#v", contents[0].Parts)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, contents := convertGeminiMessages(tt.in)
			if tt.wantSystem == "" {
				if system != nil {
					t.Fatalf("expected no system instruction, got %#v", system)
				}
			} else if system == nil || system.Parts[0].Text != tt.wantSystem {
				t.Fatalf("unexpected system instruction %#v", system)
			}
			tt.check(t, contents)
		})
	}
}

// geminiStub answers generateContent with a single candidate holding text
// and hands each decoded request to inspect.
func geminiStub(t *testing.T, text string, inspect func(parts []map[string]any)) *geminiClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "gemini-test:generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req struct {
			Contents []struct {
				Parts []map[string]any `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil && len(req.Contents) > 0 {
			inspect(req.Contents[0].Parts)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}},
				"finishReason": "STOP",
			}},
		})
	}))
	t.Cleanup(server.Close)

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}
	return client
}

func TestGeminiCompleteEmptyResult(t *testing.T) {
	client := geminiStub(t, "", nil)

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hello"}})
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected empty response error, got %v", err)
	}
}

func TestGeminiCompleteRequiresUserMessage(t *testing.T) {
	client := geminiStub(t, "unused", nil)

	_, err := client.Complete(context.Background(), []Message{{Role: "system", Content: "only system"}})
	if err == nil || !strings.Contains(err.Error(), "no user message") {
		t.Fatalf("expected missing user message error, got %v", err)
	}
}

func TestGeminiTranscribeAudio(t *testing.T) {
	client := geminiStub(t, " Speaker 1: hello there ", func(parts []map[string]any) {
		if len(parts) != 2 {
			t.Errorf("expected audio and prompt parts, got %v", parts)
			return
		}
		inline, _ := parts[0]["inlineData"].(map[string]any)
		if inline == nil || inline["mimeType"] != "audio/webm" {
			t.Errorf("expected inline webm audio, got %v", parts[0])
		}
		if parts[1]["text"] != "continue" {
			t.Errorf("expected prompt text, got %v", parts[1])
		}
	})

	got, err := client.TranscribeAudio(context.Background(), Audio{MIMEType: "audio/webm", Data: []byte{0x1A, 0x45, 0xDF, 0xA3}}, "continue")
	if err != nil {
		t.Fatalf("TranscribeAudio failed: %v", err)
	}
	if got != "Speaker 1: hello there" {
		t.Fatalf("expected trimmed transcript, got %q", got)
	}
}
