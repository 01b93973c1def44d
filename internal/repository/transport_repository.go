package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mailgraph/mailgraph/internal/database"
	"github.com/mailgraph/mailgraph/internal/model"
)

// TransportRepository handles transport config persistence
type TransportRepository struct {
	db *database.Postgres
}

// NewTransportRepository creates a new TransportRepository
func NewTransportRepository(db *database.Postgres) *TransportRepository {
	return &TransportRepository{db: db}
}

const transportColumns = `
	id, name, client_id, client_secret, tenant_id, sender_email,
	access_token, refresh_token, token_expiry, use_graph_api,
	fallback_to_smtp, sequence, created_at, updated_at
`

func scanTransport(row interface{ Scan(...interface{}) error }) (*model.TransportConfig, error) {
	var cfg model.TransportConfig
	err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.ClientID,
		&cfg.ClientSecret,
		&cfg.TenantID,
		&cfg.SenderEmail,
		&cfg.AccessToken,
		&cfg.RefreshToken,
		&cfg.TokenExpiry,
		&cfg.UseGraphAPI,
		&cfg.FallbackToSMTP,
		&cfg.Sequence,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Create stores a new transport config
func (r *TransportRepository) Create(ctx context.Context, cfg *model.TransportConfig) error {
	query := `
		INSERT INTO mail_transport_configs (
			id, name, client_id, client_secret, tenant_id, sender_email,
			access_token, refresh_token, token_expiry, use_graph_api,
			fallback_to_smtp, sequence, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		cfg.ID,
		cfg.Name,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.TenantID,
		cfg.SenderEmail,
		cfg.AccessToken,
		cfg.RefreshToken,
		cfg.TokenExpiry,
		cfg.UseGraphAPI,
		cfg.FallbackToSMTP,
		cfg.Sequence,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transport config: %w", err)
	}
	return nil
}

// GetByID retrieves a transport config by ID
func (r *TransportRepository) GetByID(ctx context.Context, id string) (*model.TransportConfig, error) {
	query := `SELECT ` + transportColumns + ` FROM mail_transport_configs WHERE id = $1`
	cfg, err := scanTransport(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transport config: %w", err)
	}
	return cfg, nil
}

// List retrieves all transport configs ordered by sequence
func (r *TransportRepository) List(ctx context.Context) ([]*model.TransportConfig, error) {
	query := `SELECT ` + transportColumns + ` FROM mail_transport_configs ORDER BY sequence, created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list transport configs: %w", err)
	}
	defer rows.Close()

	var configs []*model.TransportConfig
	for rows.Next() {
		cfg, err := scanTransport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transport config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// FirstGraphEnabled returns the first Graph-enabled config in sequence order.
// It backs the assignment of messages that carry no transport of their own.
func (r *TransportRepository) FirstGraphEnabled(ctx context.Context) (*model.TransportConfig, error) {
	query := `
		SELECT ` + transportColumns + `
		FROM mail_transport_configs
		WHERE use_graph_api = TRUE
		ORDER BY sequence, created_at
		LIMIT 1
	`
	cfg, err := scanTransport(r.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get graph-enabled config: %w", err)
	}
	return cfg, nil
}

// UpdateTokens overwrites the stored token fields. Writes are whole-field
// overwrites; concurrent refreshes race safely because any installed token is
// valid at the time of use (last writer wins).
func (r *TransportRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	query := `
		UPDATE mail_transport_configs
		SET access_token = $1, refresh_token = $2, token_expiry = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, expiry, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSenderEmail fills in the sender mailbox, used by the authorization
// callback when the profile lookup resolves the mailbox address.
func (r *TransportRepository) UpdateSenderEmail(ctx context.Context, id, senderEmail string) error {
	query := `UPDATE mail_transport_configs SET sender_email = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, senderEmail, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update sender email: %w", err)
	}
	return nil
}

// Update stores mutable config fields (credentials and flags, not tokens)
func (r *TransportRepository) Update(ctx context.Context, cfg *model.TransportConfig) error {
	query := `
		UPDATE mail_transport_configs
		SET name = $1, client_id = $2, client_secret = $3, tenant_id = $4,
		    sender_email = $5, use_graph_api = $6, fallback_to_smtp = $7,
		    sequence = $8, updated_at = $9
		WHERE id = $10
	`
	result, err := r.db.ExecContext(ctx, query,
		cfg.Name,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.TenantID,
		cfg.SenderEmail,
		cfg.UseGraphAPI,
		cfg.FallbackToSMTP,
		cfg.Sequence,
		time.Now(),
		cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transport config: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a transport config
func (r *TransportRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM mail_transport_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transport config: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
