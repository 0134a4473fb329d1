// Package postgres implements store.Store on PostgreSQL via pgx. Config
// blobs live in a single jsonb key-value table, the enabled set in its
// own table, replaced transactionally at save.
//
// Usage:
//
//	pool, _ := pgxpool.New(ctx, dsn)
//	s := pgstore.New(pool)
//	if err := s.Migrate(ctx); err != nil { ... }
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/latchkit/latch/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS latch_config (
	name text PRIMARY KEY,
	blob jsonb NOT NULL DEFAULT '{}'::jsonb
);
CREATE TABLE IF NOT EXISTS latch_enabled (
	name text PRIMARY KEY
);
`

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the PostgreSQL backend.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Postgres-backed store over an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// GetConfig reads the blob for name, returning an empty map if absent.
func (s *Store) GetConfig(ctx context.Context, name string) (map[string]any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT blob FROM latch_config WHERE name = $1`, name,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get config %s: %w", name, err)
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("postgres: decode config %s: %w", name, err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// SetConfig upserts the blob for name.
func (s *Store) SetConfig(ctx context.Context, name string, cfg map[string]any) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: encode config %s: %w", name, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO latch_config (name, blob) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET blob = EXCLUDED.blob`,
		name, raw,
	)
	if err != nil {
		return fmt.Errorf("postgres: set config %s: %w", name, err)
	}
	return nil
}

// EnabledSet returns the persisted enabled names.
func (s *Store) EnabledSet(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM latch_enabled ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: read enabled set: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("postgres: read enabled set: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read enabled set: %w", err)
	}
	return names, nil
}

// SaveEnabledSet replaces the enabled set in one transaction.
func (s *Store) SaveEnabledSet(ctx context.Context, names []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save enabled set: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM latch_enabled`); err != nil {
		return fmt.Errorf("postgres: save enabled set: %w", err)
	}
	for _, n := range names {
		if _, err := tx.Exec(ctx,
			`INSERT INTO latch_enabled (name) VALUES ($1)`, n,
		); err != nil {
			return fmt.Errorf("postgres: save enabled set: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save enabled set: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
