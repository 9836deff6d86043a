package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"stackstatus/internal/models"
	"stackstatus/internal/observability"
)

const maxAttempts = 5

// Relay publishes monitor snapshots to a Redis channel. A Relay without a
// client drops everything.
type Relay struct {
	client  *redis.Client
	channel string
	backoff time.Duration
}

// New connects to redisURL. An empty URL yields a disabled relay.
func New(ctx context.Context, redisURL, channel string) (*Relay, error) {
	if redisURL == "" {
		return &Relay{channel: channel}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Relay{client: client, channel: channel, backoff: 100 * time.Millisecond}, nil
}

// Enabled reports whether snapshots actually leave the process.
func (r *Relay) Enabled() bool {
	return r.client != nil
}

// Publish sends one snapshot, retrying with exponential backoff and jitter.
func (r *Relay) Publish(ctx context.Context, snap models.Snapshot) error {
	if r.client == nil {
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	backoff := r.backoff
	for attempt := 1; ; attempt++ {
		err = r.client.Publish(ctx, r.channel, b).Err()
		if err == nil {
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("publish after %d attempts: %w", maxAttempts, err)
		}

		jitter := time.Duration(rand.Intn(200)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
	}
}

// Run forwards every snapshot from updates until the channel closes or ctx ends.
func (r *Relay) Run(ctx context.Context, updates <-chan models.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := r.Publish(ctx, snap); err != nil {
				observability.Error("relay.publish_failed", map[string]interface{}{"channel": r.channel}, err)
			}
		}
	}
}

// Close releases the Redis connection.
func (r *Relay) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
