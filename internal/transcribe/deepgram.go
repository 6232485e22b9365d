package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

var deepgramInit sync.Once

type deepgramResult struct {
	transcript string
	words      []Word
}

// deepgramBackend sends each chunk to the pre-recorded endpoint with
// diarization so speakers can be labeled like the other providers do.
type deepgramBackend struct {
	model      string
	fromStream func(ctx context.Context, data []byte, opts *interfaces.PreRecordedTranscriptionOptions) (deepgramResult, error)
}

func newDeepgramBackend(apiKey, model, host string) (*deepgramBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("deepgram: api key is required")
	}
	if model == "" {
		model = "nova-2"
	}

	deepgramInit.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	dg := api.New(client.NewREST(apiKey, &interfaces.ClientOptions{Host: host}))

	return &deepgramBackend{
		model: model,
		fromStream: func(ctx context.Context, data []byte, opts *interfaces.PreRecordedTranscriptionOptions) (deepgramResult, error) {
			res, err := dg.FromStream(ctx, bytes.NewReader(data), opts)
			if err != nil {
				return deepgramResult{}, err
			}
			if res == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
				return deepgramResult{}, nil
			}

			alt := res.Results.Channels[0].Alternatives[0]
			out := deepgramResult{transcript: alt.Transcript, words: make([]Word, 0, len(alt.Words))}
			for _, w := range alt.Words {
				out.words = append(out.words, Word{
					Speaker:        w.Speaker,
					PunctuatedWord: w.PunctuatedWord,
					Start:          w.Start,
					End:            w.End,
				})
			}
			return out, nil
		},
	}, nil
}

func (d *deepgramBackend) Transcribe(ctx context.Context, req Request) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deepgram: panic: %v", r)
		}
	}()

	res, err := d.fromStream(ctx, req.Audio, &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Language:    "en-US",
		Diarize:     true,
		Punctuate:   true,
		SmartFormat: true,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram transcription: %w", err)
	}

	return deepgramText(res), nil
}

func deepgramText(res deepgramResult) string {
	if text := FormatSpeakers(GroupWordsBySpeaker(res.words)); text != "" {
		return text
	}
	return strings.TrimSpace(res.transcript)
}
