// Package audit implements a durable EventPublisher backed by Postgres,
// standing in for the plain structured log line when operators need to
// answer "when was version N of model M retired" after the fact.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/toydogcat/model-server/internal/registry"
)

// Config configures the Postgres-backed audit sink.
type Config struct {
	DSN             string
	PingTimeout     time.Duration
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * time.Second
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	return c
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS lifecycle_events (
	id          uuid PRIMARY KEY,
	occurred_at timestamptz NOT NULL,
	name        text NOT NULL,
	model_name  text NOT NULL,
	fields      jsonb NOT NULL
)`

// Publisher persists every registry.Event as a row, keyed by a fresh UUID
// correlation id, so a lifecycle transition can be traced independently of
// whatever structured log line accompanied it.
type Publisher struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres, ensures the audit table exists, and returns a
// Publisher ready to be handed to registry.WithEventPublisher. Callers must
// call Close on shutdown.
func Open(ctx context.Context, cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if cfg.DSN == "" {
		return nil, fmt.Errorf("audit: DSN is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit: parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}

	return &Publisher{pool: pool}, nil
}

// Publish satisfies registry.EventPublisher. Failures are logged, never
// returned or panicked, matching the interface's synchronous, best-effort
// contract; a database outage must not take down a lifecycle operation.
func (p *Publisher) Publish(e registry.Event) {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		log.Error().Err(err).Str("event", e.Name).Msg("audit: marshal fields")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = p.pool.Exec(ctx,
		`INSERT INTO lifecycle_events (id, occurred_at, name, model_name, fields) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), time.Now().UTC(), e.Name, e.ModelName, fields)
	if err != nil {
		log.Error().Err(err).Str("event", e.Name).Str("model", e.ModelName).Msg("audit: insert failed")
	}
}

// Close releases the underlying connection pool.
func (p *Publisher) Close() {
	p.pool.Close()
}

var _ registry.EventPublisher = (*Publisher)(nil)
