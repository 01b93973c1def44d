package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mailgraph/mailgraph/internal/database"
	"github.com/mailgraph/mailgraph/internal/model"
)

// MessageRepository handles outbound message persistence
type MessageRepository struct {
	db *database.Postgres
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *database.Postgres) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `
	id, transport_id, from_address, to_addresses, cc_addresses, bcc_addresses,
	subject, body, body_html, state, graph_attempted, failure_reason,
	sent_at, created_at, updated_at
`

func scanMessage(row interface{ Scan(...interface{}) error }) (*model.Message, error) {
	var (
		msg           model.Message
		failureReason sql.NullString
	)
	err := row.Scan(
		&msg.ID,
		&msg.TransportID,
		&msg.From,
		pq.Array(&msg.To),
		pq.Array(&msg.Cc),
		pq.Array(&msg.Bcc),
		&msg.Subject,
		&msg.Body,
		&msg.BodyHTML,
		&msg.State,
		&msg.GraphAttempted,
		&failureReason,
		&msg.SentAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.FailureReason = failureReason.String
	return &msg, nil
}

// Create stores a new message and its attachments
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	query := `
		INSERT INTO mail_messages (
			id, transport_id, from_address, to_addresses, cc_addresses, bcc_addresses,
			subject, body, body_html, state, graph_attempted, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.TransportID,
		msg.From,
		pq.Array(msg.To),
		pq.Array(msg.Cc),
		pq.Array(msg.Bcc),
		msg.Subject,
		msg.Body,
		msg.BodyHTML,
		msg.State,
		msg.GraphAttempted,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	for _, att := range msg.Attachments {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO mail_message_attachments (message_id, name, mime_type, content)
			VALUES ($1, $2, $3, $4)
		`, msg.ID, att.Name, att.MimeType, att.Content)
		if err != nil {
			return fmt.Errorf("failed to create attachment: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a message with its attachments
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM mail_messages WHERE id = $1`
	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if err := r.loadAttachments(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListQueued retrieves queued messages oldest-first, capped at limit
func (r *MessageRepository) ListQueued(ctx context.Context, limit int) ([]*model.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM mail_messages
		WHERE state = $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, model.StateQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued messages: %w", err)
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, msg := range messages {
		if err := r.loadAttachments(ctx, msg); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (r *MessageRepository) loadAttachments(ctx context.Context, msg *model.Message) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, mime_type, content
		FROM mail_message_attachments
		WHERE message_id = $1
		ORDER BY id
	`, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to load attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var att model.Attachment
		if err := rows.Scan(&att.Name, &att.MimeType, &att.Content); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return rows.Err()
}

// AssignTransport links a message to a transport config
func (r *MessageRepository) AssignTransport(ctx context.Context, id, transportID string) error {
	query := `UPDATE mail_messages SET transport_id = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, transportID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to assign transport: %w", err)
	}
	return nil
}

// MarkGraphAttempted sets the single-shot Graph attempt flag. The dispatcher
// persists this before the attempt so that a crash mid-send leaves the message
// non-retryable instead of risking a duplicate send.
func (r *MessageRepository) MarkGraphAttempted(ctx context.Context, id string) error {
	query := `UPDATE mail_messages SET graph_attempted = TRUE, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark graph attempted: %w", err)
	}
	return nil
}

// MarkSent transitions a message to the sent state
func (r *MessageRepository) MarkSent(ctx context.Context, id string) error {
	now := time.Now()
	query := `
		UPDATE mail_messages
		SET state = $1, failure_reason = NULL, sent_at = $2, updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, model.StateSent, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}
	return nil
}

// MarkFailed transitions a message to the failed state with a diagnostic reason
func (r *MessageRepository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE mail_messages
		SET state = $1, failure_reason = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, model.StateFailed, reason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	return nil
}

// ResetForResend requeues a non-sent message and clears its Graph attempt
// flag, permitting exactly one more Graph API attempt. Sent messages are left
// untouched.
func (r *MessageRepository) ResetForResend(ctx context.Context, id string) error {
	query := `
		UPDATE mail_messages
		SET state = $1, graph_attempted = FALSE, failure_reason = NULL, updated_at = $2
		WHERE id = $3 AND state != $4
	`
	result, err := r.db.ExecContext(ctx, query, model.StateQueued, time.Now(), id, model.StateSent)
	if err != nil {
		return fmt.Errorf("failed to reset message for resend: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
