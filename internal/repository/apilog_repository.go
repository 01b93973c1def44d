package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgraph/mailgraph/internal/database"
	"github.com/mailgraph/mailgraph/internal/model"
)

// APILogRepository handles provider API log persistence
type APILogRepository struct {
	db *database.Postgres
}

// NewAPILogRepository creates a new APILogRepository
func NewAPILogRepository(db *database.Postgres) *APILogRepository {
	return &APILogRepository{db: db}
}

// Add records a new log entry for a config
func (r *APILogRepository) Add(ctx context.Context, configID, level, message string) error {
	query := `
		INSERT INTO graph_api_logs (config_id, level, message, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, configID, level, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add api log: %w", err)
	}
	return nil
}

// List retrieves the most recent log entries for a config
func (r *APILogRepository) List(ctx context.Context, configID string, limit int) ([]*model.APILog, error) {
	query := `
		SELECT id, config_id, level, message, created_at
		FROM graph_api_logs
		WHERE config_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list api logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.APILog
	for rows.Next() {
		var entry model.APILog
		if err := rows.Scan(&entry.ID, &entry.ConfigID, &entry.Level, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api log: %w", err)
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

// Clear removes all log entries for a config
func (r *APILogRepository) Clear(ctx context.Context, configID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM graph_api_logs WHERE config_id = $1`, configID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear api logs: %w", err)
	}
	return result.RowsAffected()
}
