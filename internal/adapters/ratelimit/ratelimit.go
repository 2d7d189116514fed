// Package ratelimit provides a Redis-backed fixed-window rate limiter shared
// by all worker processes. It caps how many jobs may start per window across
// the whole fleet, not per process.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindow counts job starts in Redis under a key derived from the
// current window. Redis being unreachable must not stall the pipeline, so
// limiter errors fail open: the start is allowed and a warning is logged.
type FixedWindow struct {
	client redis.UniversalClient
	key    string
	limit  int
	window time.Duration
	logger *slog.Logger
}

// Options configure a FixedWindow limiter.
type Options struct {
	Client redis.UniversalClient
	// KeyPrefix namespaces the counter keys, e.g. "quietcut:jobstarts".
	KeyPrefix string
	// Limit is the maximum number of starts per window.
	Limit int
	// Window is the length of each fixed window.
	Window time.Duration
	Logger *slog.Logger
}

// New creates a FixedWindow limiter.
func New(opts Options) (*FixedWindow, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	if opts.Window <= 0 {
		return nil, errors.New("window must be positive")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "quietcut:jobstarts"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FixedWindow{
		client: opts.Client,
		key:    prefix,
		limit:  opts.Limit,
		window: opts.Window,
		logger: logger.With("component", "ratelimit"),
	}, nil
}

// Allow reports whether another job start fits in the current window.
func (l *FixedWindow) Allow(ctx context.Context) (bool, error) {
	window := time.Now().UnixNano() / int64(l.window)
	key := fmt.Sprintf("%s:%d", l.key, window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// Expire after two windows so stale counters clean themselves up even if
	// the clock skews across workers.
	pipe.Expire(ctx, key, 2*l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.WarnContext(ctx, "rate limiter unavailable, failing open", "error", err)
		return true, nil
	}

	return incr.Val() <= int64(l.limit), nil
}
