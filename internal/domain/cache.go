package domain

import (
	"context"
	"time"
)

// RateLimiter throttles stake submissions per identity.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under a sliding
	// window of limit requests per window. Allowed requests are counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is a single durable bus message.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes engine events (stakes placed, events settled) to
// ephemeral pub/sub channels and durable ordered streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// PriceCache stores the latest oracle price per feed reference.
type PriceCache interface {
	SetPrice(ctx context.Context, feedRef string, value int64, exponent int32, publishedAt time.Time) error
	// GetPrice returns ErrNotFound when no price is cached for the feed.
	GetPrice(ctx context.Context, feedRef string) (value int64, exponent int32, publishedAt time.Time, err error)
}

// LockManager provides coarse distributed locks, used to guard the settler
// loop so only one instance runs a batch at a time.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when the
	// lock is already taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
