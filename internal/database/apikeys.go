package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/yourusername/endpoint-gateway/internal/models"
)

const apiKeyColumns = `id, user_id, endpoint_id, name, key_hash, is_active, last_used_at, created_at`

func scanAPIKey(row rowScanner) (models.APIKey, error) {
	var (
		key        models.APIKey
		endpointID uuid.NullUUID
		lastUsed   sql.NullTime
	)
	err := row.Scan(
		&key.ID,
		&key.UserID,
		&endpointID,
		&key.Name,
		&key.KeyHash,
		&key.IsActive,
		&lastUsed,
		&key.CreatedAt,
	)
	if err != nil {
		return key, err
	}
	if endpointID.Valid {
		key.EndpointID = &endpointID.UUID
	}
	if lastUsed.Valid {
		key.LastUsedAt = &lastUsed.Time
	}
	return key, nil
}

// ListActiveKeysForEndpoint returns active keys scoped to the endpoint, then
// active global keys, each group oldest first.
func (db *DB) ListActiveKeysForEndpoint(ctx context.Context, endpointID uuid.UUID) ([]models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE is_active = true AND (endpoint_id = $1 OR endpoint_id IS NULL)
		ORDER BY (endpoint_id IS NULL), created_at, id
	`

	rows, err := db.conn.QueryContext(ctx, query, endpointID)
	if err != nil {
		return nil, fmt.Errorf("couldn't load API keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("couldn't load API keys: %w", err)
	}

	return keys, nil
}

// TouchAPIKeyLastUsed stamps the key with the current time
func (db *DB) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`

	if _, err := db.conn.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("couldn't update API key: %w", err)
	}
	return nil
}

func insertAPIKey(ctx context.Context, q queryer, apiKey *models.APIKey) error {
	query := `
		INSERT INTO api_keys (user_id, endpoint_id, name, key_hash, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := q.QueryRowContext(ctx, query,
		apiKey.UserID,
		apiKey.EndpointID,
		apiKey.Name,
		apiKey.KeyHash,
		apiKey.IsActive,
	).Scan(&apiKey.ID, &apiKey.CreatedAt)

	if err != nil {
		return fmt.Errorf("couldn't create API key: %w", err)
	}
	return nil
}

// CreateAPIKey stores apiKey, whose KeyHash must already be set
func (db *DB) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	return insertAPIKey(ctx, db.conn, apiKey)
}

// ListAPIKeys returns every key, newest first
func (db *DB) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		ORDER BY created_at DESC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("couldn't list API keys: %w", err)
	}
	defer rows.Close()

	apiKeys := []models.APIKey{}
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		apiKeys = append(apiKeys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("couldn't list API keys: %w", err)
	}

	return apiKeys, nil
}

func (db *DB) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM api_keys WHERE id = $1`

	result, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("couldn't delete API key: %w", err)
	}
	return checkAffected(result)
}

// ToggleAPIKey flips is_active and returns the new value
func (db *DB) ToggleAPIKey(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE api_keys SET is_active = NOT is_active WHERE id = $1 RETURNING is_active`

	var active bool
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&active)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("couldn't toggle API key: %w", err)
	}
	return active, nil
}
