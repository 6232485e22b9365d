package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/livescribe/internal/archive"
	"github.com/sjawhar/livescribe/internal/audio"
	"github.com/sjawhar/livescribe/internal/config"
	"github.com/sjawhar/livescribe/internal/gdrive"
	"github.com/sjawhar/livescribe/internal/llm"
	"github.com/sjawhar/livescribe/internal/metrics"
	"github.com/sjawhar/livescribe/internal/relay"
	"github.com/sjawhar/livescribe/internal/server"
	"github.com/sjawhar/livescribe/internal/session"
	"github.com/sjawhar/livescribe/internal/storage"
	"github.com/sjawhar/livescribe/internal/summary"
	"github.com/sjawhar/livescribe/internal/transcribe"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", envOrDefault(config.EnvPrefix+"CONFIG", "livescribe.yaml"), "path to YAML config file")
	flag.Parse()

	log.Println("livescribe: starting")

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	if err := run(cfg, warnings); err != nil {
		log.Fatalf("livescribe: %v", err)
	}
	log.Println("livescribe: stopped")
}

func run(cfg config.Config, warnings []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	collector := metrics.New()
	hub := server.NewHub()

	var uploader archive.Uploader
	if cfg.GDriveFolderID != "" {
		syncer, err := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			log.Printf("warning: gdrive sync disabled: %v", err)
		} else {
			uploader = syncer
		}
	}

	coord := session.NewCoordinator(store, newTranscriber(cfg), newSummarizer(cfg), hub, session.Options{
		BufferSize:    cfg.BufferSize,
		Validator:     session.NewValidator(policies(cfg.Validation)),
		FinalizeDrain: cfg.ParsedFinalizeDrain(),
		Archiver:      archive.New(store, storage.NewWriter(cfg.ExportDir), uploader),
		Metrics:       collector,
	})
	collector.TrackActiveSessions(coord.ActiveSessions)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RedisURL != "" {
		rdb, err := relay.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("warning: redis relay disabled: %v", err)
		} else {
			defer func() { _ = rdb.Close() }()
			r := relay.New(rdb, relay.DefaultChannel)
			hub.UseRelay(r)
			g.Go(func() error {
				r.Listen(gctx, hub.Deliver)
				return nil
			})
		}
	}

	g.Go(func() error {
		return server.Serve(gctx, cfg.Addr, server.Options{
			Hub:            hub,
			Store:          store,
			Dispatcher:     session.NewDispatcher(coord),
			AllowedOrigins: cfg.AllowedOrigins,
			Status: server.StatusHooks{
				ActiveSessions: coord.ActiveSessions,
				Warnings:       func() []string { return warnings },
			},
			Metrics: collector.Handler(),
		})
	})

	err = g.Wait()
	log.Println("livescribe: shutting down")

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if werr := coord.Wait(waitCtx); werr != nil {
		log.Printf("warning: background work still running: %v", werr)
	}
	return err
}

// newTranscriber returns nil when transcription is not configured, in which
// case audio chunks are stored without text.
func newTranscriber(cfg config.Config) session.Transcriber {
	provider, _, err := llm.ParseModel(cfg.Transcription.Model)
	if err != nil {
		return nil
	}
	backend, err := transcribe.NewBackend(cfg.Transcription.Model, cfg.APIKey(provider))
	if err != nil {
		log.Printf("warning: transcription disabled: %v", err)
		return nil
	}
	log.Printf("transcription via %s", cfg.Transcription.Model)
	return transcribe.NewService(cfg.Transcription.Model, backend, cfg.ParsedTranscriptionTimeout())
}

// newSummarizer returns nil when no summarization key is set; finalization
// then uses the transcript excerpt.
func newSummarizer(cfg config.Config) session.Summarizer {
	provider, _, err := llm.ParseModel(cfg.Summarization.Model)
	if err != nil || cfg.APIKey(provider) == "" {
		return nil
	}
	return summary.New(cfg.Summarization, cfg.ParsedSummarizationTimeout(), func(provider, model string) (llm.Client, error) {
		return llm.NewClient(provider, cfg.APIKey(provider), model)
	})
}

func policies(raw map[string]config.SourcePolicy) map[session.AudioSource]session.Policy {
	out := make(map[session.AudioSource]session.Policy, len(raw))
	for name, p := range raw {
		if name != string(session.SourceMicrophone) && name != string(session.SourceTab) {
			continue
		}
		policy := session.Policy{
			MinBytes:         p.MinBytes,
			RequireSignature: p.SignatureRequired(),
		}
		for _, f := range p.Formats {
			format, err := audio.ParseFormat(f)
			if err != nil {
				log.Printf("warning: validation %s: %v", name, err)
				continue
			}
			policy.Formats = append(policy.Formats, format)
		}
		out[session.AudioSource(name)] = policy
	}
	return out
}

func envOrDefault(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
