package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mailgraph/mailgraph/internal/model"
	"github.com/mailgraph/mailgraph/internal/repository"
)

// SubmitMessageRequest is the queue submission payload. Attachment content
// is base64 in transit, handled by encoding/json for []byte fields.
type SubmitMessageRequest struct {
	TransportID *string             `json:"transport_id,omitempty"`
	From        string              `json:"from"`
	To          []string            `json:"to"`
	Cc          []string            `json:"cc,omitempty"`
	Bcc         []string            `json:"bcc,omitempty"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	BodyHTML    bool                `json:"body_html"`
	Attachments []AttachmentRequest `json:"attachments,omitempty"`
	// Immediate dispatches synchronously instead of waiting for the next
	// queue scan.
	Immediate bool `json:"immediate,omitempty"`
}

type AttachmentRequest struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Content  []byte `json:"content"`
}

// SubmitMessage enqueues an outbound message. Messages with no recipients
// are accepted and fail at dispatch time, mirroring how the queue treats
// them everywhere else.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req SubmitMessageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	now := time.Now()
	msg := &model.Message{
		ID:          uuid.New().String(),
		TransportID: req.TransportID,
		From:        req.From,
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		Subject:     req.Subject,
		Body:        req.Body,
		BodyHTML:    req.BodyHTML,
		State:       model.StateQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, att := range req.Attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{
			Name:     att.Name,
			MimeType: att.MimeType,
			Content:  att.Content,
		})
	}

	if err := h.messageRepo.Create(r.Context(), msg); err != nil {
		h.log.Error().Err(err).Msg("failed to enqueue message")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to enqueue message")
		return
	}

	if req.Immediate {
		h.dispatcher.Send(r.Context(), []*model.Message{msg})
		// Re-read so the response reflects the committed state.
		if fresh, err := h.messageRepo.GetByID(r.Context(), msg.ID); err == nil {
			msg = fresh
		}
	}

	writeJSON(w, http.StatusCreated, msg)
}

// GetMessage returns one message with its delivery state
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msg, err := h.messageRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		h.log.Error().Err(err).Str("message_id", id).Msg("failed to load message")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load message")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// ProcessQueue triggers one queue scan immediately instead of waiting for
// the background ticker.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	sent, err := h.dispatcher.ProcessQueue(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("queue processing failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "queue processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

// ResendMessage clears the delivery bookkeeping on a message and dispatches
// it again. Messages already sent are left alone.
func (h *Handler) ResendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sent, skipped, err := h.dispatcher.Resend(r.Context(), []string{id})
	if err != nil {
		h.log.Error().Err(err).Str("message_id", id).Msg("resend failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "resend failed")
		return
	}
	if len(skipped) > 0 {
		writeError(w, http.StatusConflict, "not_resendable", "message is already sent or does not exist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}
