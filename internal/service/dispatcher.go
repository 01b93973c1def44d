package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/logger"
	"github.com/mailgraph/mailgraph/internal/model"
	"github.com/mailgraph/mailgraph/internal/repository"
	"github.com/mailgraph/mailgraph/internal/smtp"
)

// Common service errors
var (
	ErrNoRecipient    = errors.New("No recipient specified")
	ErrMessageSent    = errors.New("message already sent")
	ErrNoTransport    = errors.New("no transport configuration available")
	ErrGraphExhausted = errors.New("graph delivery already attempted")
)

// TransportStore is the subset of the transport repository the dispatcher needs
type TransportStore interface {
	GetByID(ctx context.Context, id string) (*model.TransportConfig, error)
	FirstGraphEnabled(ctx context.Context) (*model.TransportConfig, error)
}

// MessageStore is the subset of the message repository the dispatcher needs
type MessageStore interface {
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListQueued(ctx context.Context, limit int) ([]*model.Message, error)
	AssignTransport(ctx context.Context, id, transportID string) error
	MarkGraphAttempted(ctx context.Context, id string) error
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	ResetForResend(ctx context.Context, id string) error
}

// APILogStore records per-config delivery events for the admin log view
type APILogStore interface {
	Add(ctx context.Context, configID, level, message string) error
}

// TokenProvider yields a usable bearer token for a transport config
type TokenProvider interface {
	EnsureValidToken(ctx context.Context, cfg *model.TransportConfig) (string, error)
}

// GraphSender posts a message through the Graph API
type GraphSender interface {
	Send(ctx context.Context, token string, cfg *model.TransportConfig, msg *model.Message) (string, []string, error)
}

// Dispatcher routes queued messages to the Graph API or the SMTP relay.
// Each message is handled and committed independently so one bad message
// never blocks the rest of a batch.
type Dispatcher struct {
	transports TransportStore
	messages   MessageStore
	apiLogs    APILogStore
	tokens     TokenProvider
	graph      GraphSender
	smtp       smtp.Sender
	batchSize  int
	log        *logger.Logger
}

// NewDispatcher creates a message dispatcher
func NewDispatcher(
	transports TransportStore,
	messages MessageStore,
	apiLogs APILogStore,
	tokens TokenProvider,
	graphClient GraphSender,
	smtpSender smtp.Sender,
	cfg config.QueueConfig,
	log *logger.Logger,
) *Dispatcher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Dispatcher{
		transports: transports,
		messages:   messages,
		apiLogs:    apiLogs,
		tokens:     tokens,
		graph:      graphClient,
		smtp:       smtpSender,
		batchSize:  batchSize,
		log:        log.WithComponent("dispatcher"),
	}
}

// ProcessQueue claims one batch of queued messages, oldest first, and
// dispatches each of them. Returns the number of messages that reached the
// sent state.
func (d *Dispatcher) ProcessQueue(ctx context.Context) (int, error) {
	batch, err := d.messages.ListQueued(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list queued messages: %w", err)
	}
	return d.Send(ctx, batch), nil
}

// Send dispatches the given messages one by one. Failures are recorded on
// the failing message and never abort the batch.
func (d *Dispatcher) Send(ctx context.Context, msgs []*model.Message) int {
	var sent int
	for _, msg := range msgs {
		if err := d.dispatch(ctx, msg); err != nil {
			d.log.WithMessageID(msg.ID).Error().Err(err).Msg("message dispatch failed")
			continue
		}
		sent++
	}
	return sent
}

// dispatch makes the single routing decision for one message and commits
// every state transition as it happens.
func (d *Dispatcher) dispatch(ctx context.Context, msg *model.Message) error {
	if msg.State == model.StateSent {
		return nil
	}

	// Recipient check comes before any transport or network work.
	if !msg.HasRecipients() {
		if err := d.messages.MarkFailed(ctx, msg.ID, ErrNoRecipient.Error()); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return ErrNoRecipient
	}

	cfg, err := d.resolveTransport(ctx, msg)
	if err != nil && !errors.Is(err, ErrNoTransport) {
		return err
	}

	if cfg != nil && cfg.UseGraphAPI {
		if !msg.GraphAttempted {
			return d.sendViaGraph(ctx, cfg, msg)
		}
		// The one Graph attempt is spent; only the relay remains, and only
		// when the transport permits it.
		if !cfg.FallbackToSMTP {
			if err := d.messages.MarkFailed(ctx, msg.ID, ErrGraphExhausted.Error()); err != nil {
				return fmt.Errorf("mark failed: %w", err)
			}
			msg.State = model.StateFailed
			return ErrGraphExhausted
		}
	}

	return d.sendViaSMTP(ctx, msg, "")
}

// resolveTransport returns the transport config for a message, assigning the
// first Graph-enabled config to unassigned messages. ErrNoTransport means the
// message proceeds without a Graph transport.
func (d *Dispatcher) resolveTransport(ctx context.Context, msg *model.Message) (*model.TransportConfig, error) {
	if msg.TransportID != nil {
		cfg, err := d.transports.GetByID(ctx, *msg.TransportID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNoTransport
			}
			return nil, fmt.Errorf("load transport %s: %w", *msg.TransportID, err)
		}
		return cfg, nil
	}

	cfg, err := d.transports.FirstGraphEnabled(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoTransport
		}
		return nil, fmt.Errorf("find graph transport: %w", err)
	}
	if err := d.messages.AssignTransport(ctx, msg.ID, cfg.ID); err != nil {
		return nil, fmt.Errorf("assign transport: %w", err)
	}
	msg.TransportID = &cfg.ID
	return cfg, nil
}

// sendViaGraph performs the one permitted Graph attempt for a message. The
// attempted flag is committed before any network traffic so a crash mid-send
// can never produce a duplicate delivery.
func (d *Dispatcher) sendViaGraph(ctx context.Context, cfg *model.TransportConfig, msg *model.Message) error {
	if err := d.messages.MarkGraphAttempted(ctx, msg.ID); err != nil {
		return fmt.Errorf("mark graph attempted: %w", err)
	}
	msg.GraphAttempted = true

	token, err := d.tokens.EnsureValidToken(ctx, cfg)
	if err != nil {
		return d.handleGraphFailure(ctx, cfg, msg, fmt.Errorf("acquire token: %w", err))
	}

	providerID, skipped, err := d.graph.Send(ctx, token, cfg, msg)
	if err != nil {
		return d.handleGraphFailure(ctx, cfg, msg, err)
	}

	for _, name := range skipped {
		d.logEvent(ctx, cfg.ID, model.LogLevelWarning,
			fmt.Sprintf("attachment %q skipped for message %s", name, msg.ID))
	}

	if err := d.messages.MarkSent(ctx, msg.ID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	msg.State = model.StateSent
	now := time.Now()
	msg.SentAt = &now

	d.logEvent(ctx, cfg.ID, model.LogLevelInfo,
		fmt.Sprintf("message %s delivered via Graph API, provider id %s", msg.ID, providerID))
	d.log.Info().Str("message_id", msg.ID).Str("provider_id", providerID).Msg("message sent via graph")
	return nil
}

// handleGraphFailure records the failure and routes the message to the SMTP
// relay when the transport allows falling back.
func (d *Dispatcher) handleGraphFailure(ctx context.Context, cfg *model.TransportConfig, msg *model.Message, sendErr error) error {
	d.logEvent(ctx, cfg.ID, model.LogLevelError,
		fmt.Sprintf("graph delivery of message %s failed: %v", msg.ID, sendErr))

	if cfg.FallbackToSMTP {
		d.log.Warn().Err(sendErr).Str("message_id", msg.ID).Msg("graph send failed, falling back to smtp")
		return d.sendViaSMTP(ctx, msg, sendErr.Error())
	}

	if err := d.messages.MarkFailed(ctx, msg.ID, sendErr.Error()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	msg.State = model.StateFailed
	return sendErr
}

// sendViaSMTP delivers through the relay. graphFailure carries the upstream
// Graph error when this is a fallback so a relay failure reports both causes.
func (d *Dispatcher) sendViaSMTP(ctx context.Context, msg *model.Message, graphFailure string) error {
	if d.smtp == nil {
		reason := "no SMTP relay configured"
		if graphFailure != "" {
			reason = fmt.Sprintf("%s; %s", graphFailure, reason)
		}
		if err := d.messages.MarkFailed(ctx, msg.ID, reason); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		msg.State = model.StateFailed
		return errors.New(reason)
	}

	if err := d.smtp.Send(ctx, msg); err != nil {
		reason := err.Error()
		if graphFailure != "" {
			reason = fmt.Sprintf("%s; smtp fallback failed: %s", graphFailure, reason)
		}
		if mErr := d.messages.MarkFailed(ctx, msg.ID, reason); mErr != nil {
			return fmt.Errorf("mark failed: %w", mErr)
		}
		msg.State = model.StateFailed
		return err
	}

	if err := d.messages.MarkSent(ctx, msg.ID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	msg.State = model.StateSent
	now := time.Now()
	msg.SentAt = &now
	d.log.Info().Str("message_id", msg.ID).Msg("message sent via smtp")
	return nil
}

// Resend clears delivery bookkeeping on the given messages and dispatches
// them again. Messages already in the sent state are left untouched and
// reported back to the caller.
func (d *Dispatcher) Resend(ctx context.Context, ids []string) (sent int, skipped []string, err error) {
	var batch []*model.Message
	for _, id := range ids {
		if err := d.messages.ResetForResend(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				skipped = append(skipped, id)
				continue
			}
			return sent, skipped, fmt.Errorf("reset message %s: %w", id, err)
		}
		msg, err := d.messages.GetByID(ctx, id)
		if err != nil {
			return sent, skipped, fmt.Errorf("load message %s: %w", id, err)
		}
		batch = append(batch, msg)
	}
	sent = d.Send(ctx, batch)
	return sent, skipped, nil
}

func (d *Dispatcher) logEvent(ctx context.Context, configID, level, message string) {
	if d.apiLogs == nil {
		return
	}
	if err := d.apiLogs.Add(ctx, configID, level, message); err != nil {
		d.log.Warn().Err(err).Msg("failed to record api log entry")
	}
}
