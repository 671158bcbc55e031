package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/endpoint-gateway/internal/models"
)

const endpointColumns = `
	e.id, e.user_id, e.name, e.slug, COALESCE(e.description, ''), e.target_url, e.method,
	e.require_api_key, e.rate_limit, e.request_transform, e.response_transform, e.headers,
	e.status, e.connection_id, e.created_at, e.updated_at,
	c.id, c.user_id, c.name, c.type, c.config, c.created_at`

const endpointFrom = `
	FROM endpoints e
	LEFT JOIN connections c ON c.id = e.connection_id`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEndpoint reads endpointColumns plus any extra destinations
func scanEndpoint(row rowScanner, extra ...any) (*models.Endpoint, error) {
	var (
		ep                  models.Endpoint
		reqTx, respTx, hdrs []byte
		connectionID        uuid.NullUUID
		connID, connUser    uuid.NullUUID
		connName, connType  sql.NullString
		connConfig          []byte
		connCreated         sql.NullTime
	)

	dest := []any{
		&ep.ID, &ep.UserID, &ep.Name, &ep.Slug, &ep.Description, &ep.TargetURL, &ep.Method,
		&ep.RequireAPIKey, &ep.RateLimit, &reqTx, &respTx, &hdrs,
		&ep.Status, &connectionID, &ep.CreatedAt, &ep.UpdatedAt,
		&connID, &connUser, &connName, &connType, &connConfig, &connCreated,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	ep.RequestTransform = nullableJSON(reqTx)
	ep.ResponseTransform = nullableJSON(respTx)
	if len(hdrs) > 0 && string(hdrs) != "null" {
		if err := json.Unmarshal(hdrs, &ep.Headers); err != nil {
			return nil, fmt.Errorf("couldn't decode headers of endpoint %s: %w", ep.ID, err)
		}
	}
	if connectionID.Valid {
		ep.ConnectionID = &connectionID.UUID
	}
	if connID.Valid {
		ep.Connection = &models.Connection{
			ID:        connID.UUID,
			UserID:    connUser.UUID,
			Name:      connName.String,
			Type:      models.ConnectionType(connType.String),
			Config:    nullableJSON(connConfig),
			CreatedAt: connCreated.Time,
		}
	}
	return &ep, nil
}

func nullableJSON(b []byte) json.RawMessage {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return json.RawMessage(b)
}

// FindActiveEndpointBySlug returns nil, nil when no ACTIVE endpoint has the slug
func (db *DB) FindActiveEndpointBySlug(ctx context.Context, slug string) (*models.Endpoint, error) {
	query := `SELECT` + endpointColumns + endpointFrom + `
		WHERE e.slug = $1 AND e.status = 'ACTIVE'`

	ep, err := scanEndpoint(db.conn.QueryRowContext(ctx, query, slug))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return ep, nil
}

// GetEndpointByID returns the endpoint in any status, or nil, nil
func (db *DB) GetEndpointByID(ctx context.Context, id uuid.UUID) (*models.Endpoint, error) {
	query := `SELECT` + endpointColumns + endpointFrom + `
		WHERE e.id = $1`

	ep, err := scanEndpoint(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return ep, nil
}

// ListEndpoints lists endpoints, newest first, optionally filtered by status
func (db *DB) ListEndpoints(ctx context.Context, status models.EndpointStatus) ([]models.EndpointSummary, error) {
	query := `SELECT` + endpointColumns + `,
		(SELECT COUNT(*) FROM request_logs r WHERE r.endpoint_id = e.id)` + endpointFrom + `
		WHERE ($1 = '' OR e.status = $1)
		ORDER BY e.created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("couldn't list endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []models.EndpointSummary{}
	for rows.Next() {
		var total int64
		ep, err := scanEndpoint(rows, &total)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		endpoints = append(endpoints, models.EndpointSummary{Endpoint: *ep, TotalRequests: total})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("couldn't list endpoints: %w", err)
	}

	return endpoints, nil
}

func insertEndpoint(ctx context.Context, q queryer, ep *models.Endpoint) error {
	var headers any
	if len(ep.Headers) > 0 {
		b, err := json.Marshal(ep.Headers)
		if err != nil {
			return fmt.Errorf("couldn't encode headers: %w", err)
		}
		headers = string(b)
	}

	query := `
		INSERT INTO endpoints (user_id, name, slug, description, target_url, method, require_api_key,
			rate_limit, request_transform, response_transform, headers, status, connection_id)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11::jsonb, $12, $13)
		RETURNING id, created_at, updated_at
	`

	err := q.QueryRowContext(ctx, query,
		ep.UserID,
		ep.Name,
		ep.Slug,
		ep.Description,
		ep.TargetURL,
		ep.Method,
		ep.RequireAPIKey,
		ep.RateLimit,
		jsonArg(ep.RequestTransform),
		jsonArg(ep.ResponseTransform),
		headers,
		ep.Status,
		ep.ConnectionID,
	).Scan(&ep.ID, &ep.CreatedAt, &ep.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrSlugTaken
	}
	if err != nil {
		return fmt.Errorf("couldn't create endpoint: %w", err)
	}
	return nil
}

// CreateEndpoint inserts ep and fills in its ID and timestamps
func (db *DB) CreateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	return insertEndpoint(ctx, db.conn, ep)
}

// CreateEndpointWithKey inserts ep and its first API key in one transaction.
// key.EndpointID is set to the new endpoint.
func (db *DB) CreateEndpointWithKey(ctx context.Context, ep *models.Endpoint, key *models.APIKey) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("couldn't begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertEndpoint(ctx, tx, ep); err != nil {
		return err
	}
	key.EndpointID = &ep.ID
	if err := insertAPIKey(ctx, tx, key); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("couldn't commit endpoint: %w", err)
	}
	return nil
}

// UpdateEndpointStatus sets the status and returns the endpoint slug
func (db *DB) UpdateEndpointStatus(ctx context.Context, id uuid.UUID, status models.EndpointStatus) (string, error) {
	query := `UPDATE endpoints SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING slug`

	var slug string
	err := db.conn.QueryRowContext(ctx, query, id, status).Scan(&slug)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("couldn't update endpoint status: %w", err)
	}
	return slug, nil
}

// EndpointStats summarises the request log of one endpoint as of now
func (db *DB) EndpointStats(ctx context.Context, id uuid.UUID, now time.Time) (*models.EndpointStats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= $2),
			COUNT(*) FILTER (WHERE created_at >= $3),
			COALESCE(AVG(response_time_ms), 0)
		FROM request_logs
		WHERE endpoint_id = $1
	`

	stats := &models.EndpointStats{}
	err := db.conn.QueryRowContext(ctx, query, id, now.Add(-24*time.Hour), now.Add(-7*24*time.Hour)).Scan(
		&stats.TotalRequests,
		&stats.Last24Hours,
		&stats.Last7Days,
		&stats.AvgResponseTimeMs,
	)
	if err != nil {
		return nil, fmt.Errorf("couldn't load endpoint stats: %w", err)
	}
	return stats, nil
}
