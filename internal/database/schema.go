package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS connections (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		config JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS endpoints (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		description TEXT,
		target_url TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT 'ANY',
		require_api_key BOOLEAN NOT NULL DEFAULT true,
		rate_limit INTEGER NOT NULL DEFAULT 100,
		request_transform JSONB,
		response_transform JSONB,
		headers JSONB,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		connection_id UUID REFERENCES connections(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		endpoint_id UUID REFERENCES endpoints(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		last_used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS request_logs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		endpoint_id UUID REFERENCES endpoints(id) ON DELETE SET NULL,
		slug TEXT NOT NULL,
		api_key_id UUID REFERENCES api_keys(id) ON DELETE SET NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		headers JSONB,
		body JSONB,
		query JSONB,
		status_code INTEGER NOT NULL,
		response_time_ms INTEGER NOT NULL,
		response_body JSONB,
		ip_address TEXT,
		user_agent TEXT,
		admitted BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_endpoint ON api_keys (endpoint_id) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_request_logs_endpoint_created ON request_logs (endpoint_id, created_at)`,
}

// Migrate creates the gateway tables and indexes when they are missing
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("couldn't apply schema: %w", err)
		}
	}
	return nil
}
