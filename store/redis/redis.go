// Package redis implements store.Store on Redis. Config blobs live in
// string keys as JSON, the enabled set in a Redis Set. Transient failures
// are retried with capped exponential backoff.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/latchkit/latch/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

const defaultPrefix = "latch"

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix changes the key namespace. Defaults to "latch".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithMaxRetries sets how many times a failed command is retried.
func WithMaxRetries(n uint64) Option {
	return func(s *Store) { s.maxRetries = n }
}

// Store is the Redis backend. The caller owns the client lifecycle.
type Store struct {
	client     redis.Cmdable
	logger     *slog.Logger
	prefix     string
	maxRetries uint64
}

// New creates a Redis-backed store.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:     client,
		logger:     slog.Default(),
		prefix:     defaultPrefix,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// GetConfig reads the JSON blob for name, returning an empty map if
// absent.
func (s *Store) GetConfig(ctx context.Context, name string) (map[string]any, error) {
	var cfg map[string]any
	err := s.retry(ctx, func() error {
		raw, err := s.client.Get(ctx, s.configKey(name)).Bytes()
		if errors.Is(err, redis.Nil) {
			cfg = map[string]any{}
			return nil
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return backoff.Permanent(fmt.Errorf("decode config %s: %w", name, err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: get config %s: %w", name, err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// SetConfig writes the JSON blob for name.
func (s *Store) SetConfig(ctx context.Context, name string, cfg map[string]any) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("redis: encode config %s: %w", name, err)
	}
	err = s.retry(ctx, func() error {
		return s.client.Set(ctx, s.configKey(name), raw, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: set config %s: %w", name, err)
	}
	return nil
}

// EnabledSet returns the members of the enabled set.
func (s *Store) EnabledSet(ctx context.Context) ([]string, error) {
	var names []string
	err := s.retry(ctx, func() error {
		var err error
		names, err = s.client.SMembers(ctx, s.enabledKey()).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis: read enabled set: %w", err)
	}
	return names, nil
}

// SaveEnabledSet atomically replaces the enabled set.
func (s *Store) SaveEnabledSet(ctx context.Context, names []string) error {
	err := s.retry(ctx, func() error {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.enabledKey())
		if len(names) > 0 {
			members := make([]any, len(names))
			for i, n := range names {
				members[i] = n
			}
			pipe.SAdd(ctx, s.enabledKey(), members...)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("redis: save enabled set: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the client.
func (s *Store) Close() error { return nil }

func (s *Store) configKey(name string) string {
	return s.prefix + ":config:" + name
}

func (s *Store) enabledKey() string {
	return s.prefix + ":enabled"
}

// retry runs op with capped exponential backoff. Context cancellation
// stops the retries.
func (s *Store) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx))
}
