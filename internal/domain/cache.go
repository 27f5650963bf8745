package domain

import (
	"context"
	"time"
)

// StatusStore holds the singleton streaming status record.
type StatusStore interface {
	Get(ctx context.Context) (StreamingStatus, error)
	Set(ctx context.Context, status StreamingStatus) error
	Delete(ctx context.Context) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventBus publishes position lifecycle events for other consumers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
