// Package relay mirrors session room broadcasts across server instances
// through Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "livescribe:events"

const (
	minRetry = time.Second
	maxRetry = 30 * time.Second
)

// Envelope is one room broadcast on the wire.
type Envelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

type Relay struct {
	client  *redis.Client
	channel string
	origin  string
}

// New returns a relay on channel. Each relay gets its own origin id so it
// can skip its own messages.
func New(client *redis.Client, channel string) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, origin: uuid.NewString()}
}

// Dial parses a redis:// URL and verifies the server is reachable.
func Dial(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Relay) Origin() string {
	return r.origin
}

func (r *Relay) Publish(ctx context.Context, room string, payload []byte) error {
	msg, err := r.encode(room, payload)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

func (r *Relay) encode(room string, payload []byte) (string, error) {
	b, err := json.Marshal(Envelope{Origin: r.origin, Room: room, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

// Run delivers envelopes published by other instances until ctx ends.
func (r *Relay) Run(ctx context.Context, deliver func(room string, payload []byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	slog.Info("relay: subscribed", "channel", r.channel, "origin", r.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload, deliver)
		}
	}
}

// Listen runs the subscriber until ctx ends. A lost or failed subscription is
// logged and retried with backoff, so Redis outages never stop the caller.
func (r *Relay) Listen(ctx context.Context, deliver func(room string, payload []byte)) {
	listen(ctx, r.Run, deliver, minRetry)
}

func listen(ctx context.Context, run func(context.Context, func(string, []byte)) error, deliver func(string, []byte), retry time.Duration) {
	delay := retry
	for {
		started := time.Now()
		err := run(ctx, deliver)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > maxRetry {
			delay = retry
		}
		slog.Warn("relay: subscription lost, retrying", "error", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = min(delay*2, maxRetry)
	}
}

func (r *Relay) handle(raw string, deliver func(room string, payload []byte)) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		slog.Warn("relay: dropping malformed envelope", "error", err)
		return
	}
	if env.Origin == r.origin || env.Room == "" {
		return
	}
	deliver(env.Room, env.Payload)
}
