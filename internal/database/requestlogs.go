package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/endpoint-gateway/internal/models"
)

// AppendRequestLog inserts one audit row
func (db *DB) AppendRequestLog(ctx context.Context, log *models.RequestLog) error {
	query := `
		INSERT INTO request_logs (endpoint_id, slug, api_key_id, method, path, headers, body, query,
			status_code, response_time_ms, response_body, ip_address, user_agent, admitted)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb, $9, $10, $11::jsonb, $12, $13, $14)
		RETURNING id, created_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		log.EndpointID,
		log.Slug,
		log.APIKeyID,
		log.Method,
		log.Path,
		jsonArg(log.Headers),
		jsonArg(log.Body),
		jsonArg(log.Query),
		log.StatusCode,
		log.ResponseTimeMs,
		jsonArg(log.ResponseBody),
		log.IPAddress,
		log.UserAgent,
		log.Admitted,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return fmt.Errorf("couldn't log request: %w", err)
	}

	return nil
}

// CountAdmittedSince counts admitted requests for the endpoint at or after since
func (db *DB) CountAdmittedSince(ctx context.Context, endpointID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM request_logs
		WHERE endpoint_id = $1 AND admitted = true AND created_at >= $2
	`

	var count int
	if err := db.conn.QueryRowContext(ctx, query, endpointID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("couldn't count requests: %w", err)
	}
	return count, nil
}
