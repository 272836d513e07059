package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Webhook bursts and dashboard actions share the pool
	config.MaxConns = 30
	config.MinConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate creates the schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		// gen_random_uuid() on PostgreSQL < 13
		`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,

		// Profiles mirror users of the identity provider
		`CREATE TABLE IF NOT EXISTS profiles (
			id UUID PRIMARY KEY,
			email TEXT,
			bio TEXT CHECK (char_length(bio) <= 500),
			discord_webhook_url TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		);`,

		// API keys: only the hash is stored, the prefix is the lookup index
		`CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL,
			key_prefix VARCHAR(16) NOT NULL,
			key_hash CHAR(64) NOT NULL,
			name VARCHAR(50) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ,
			last_used_at TIMESTAMPTZ
		);`,

		// Sliding counters per (user, resource)
		`CREATE TABLE IF NOT EXISTS rate_limit_usage (
			user_id UUID NOT NULL,
			resource_type TEXT NOT NULL,
			count_hourly INT NOT NULL DEFAULT 0,
			count_daily INT NOT NULL DEFAULT 0,
			last_reset_hour TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			last_reset_date TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, resource_type)
		);`,

		`CREATE TABLE IF NOT EXISTS leads (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL,
			tweet_id VARCHAR(30) NOT NULL,
			tweet_text TEXT NOT NULL,
			tweet_author VARCHAR(15) NOT NULL,
			status TEXT NOT NULL DEFAULT 'Found'
				CHECK (status IN ('Found', 'Contacted', 'Negotiating', 'Won', 'Lost')),
			spam_score DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (spam_score BETWEEN 0 AND 100),
			estimated_value DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (estimated_value BETWEEN 0 AND 1000000),
			source TEXT NOT NULL DEFAULT 'webhook',
			source_metadata JSONB,
			version BIGINT NOT NULL DEFAULT 1,
			contacted_at TIMESTAMPTZ,
			negotiating_at TIMESTAMPTZ,
			won_at TIMESTAMPTZ,
			lost_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_by UUID,
			deleted_at TIMESTAMPTZ,
			UNIQUE (user_id, tweet_id)
		);`,

		// Append-mostly ledger of ingestion attempts
		`CREATE TABLE IF NOT EXISTS webhook_events (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			request_id TEXT NOT NULL,
			user_id UUID,
			api_key_id UUID,
			payload JSONB NOT NULL,
			ip_address TEXT,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			processed_at TIMESTAMPTZ,
			lead_id UUID,
			error_message TEXT,
			failure_kind TEXT,
			retry_count INT NOT NULL DEFAULT 0,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		`CREATE TABLE IF NOT EXISTS api_usage_logs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL,
			request_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			method TEXT NOT NULL,
			status_code INT NOT NULL,
			model TEXT,
			prompt_tokens INT,
			completion_tokens INT,
			total_tokens INT,
			estimated_cost NUMERIC(12, 6),
			success BOOLEAN,
			error_type TEXT,
			latency_ms BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// Create indexes
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_leads_user_status ON leads(user_id, status) WHERE deleted_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_user ON webhook_events(user_id, received_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_replay ON webhook_events(received_at)
			WHERE processed = false AND failure_kind = 'lead_upsert';`,
		`CREATE INDEX IF NOT EXISTS idx_api_usage_logs_user_time ON api_usage_logs(user_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_usage_updated ON rate_limit_usage(updated_at);`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nQuery: %s", err, migration)
		}
	}

	return nil
}
