package database

import (
	"context"
	"fmt"

	"github.com/yourusername/endpoint-gateway/internal/models"
)

// CreateConnection stores conn and fills in its ID and creation time
func (db *DB) CreateConnection(ctx context.Context, conn *models.Connection) error {
	query := `
		INSERT INTO connections (user_id, name, type, config)
		VALUES ($1, $2, $3, COALESCE($4::jsonb, '{}'::jsonb))
		RETURNING id, created_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		conn.UserID,
		conn.Name,
		conn.Type,
		jsonArg(conn.Config),
	).Scan(&conn.ID, &conn.CreatedAt)

	if err != nil {
		return fmt.Errorf("couldn't create connection: %w", err)
	}
	return nil
}
