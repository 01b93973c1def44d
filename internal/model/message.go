package model

import (
	"time"
)

// MessageState is the delivery state of an outbound message
type MessageState string

const (
	StateQueued MessageState = "queued"
	StateSent   MessageState = "sent"
	StateFailed MessageState = "failed"
)

// Message represents one queued outbound email
type Message struct {
	ID string `json:"id"`
	// TransportID links the message to a transport config; nil means the
	// dispatcher picks the first Graph-enabled config.
	TransportID *string      `json:"transportId,omitempty"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Cc          []string     `json:"cc,omitempty"`
	Bcc         []string     `json:"bcc,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	BodyHTML    bool         `json:"bodyHtml"`
	Attachments []Attachment `json:"attachments,omitempty"`
	State       MessageState `json:"state"`
	// GraphAttempted is set once a Graph API send has been tried for this
	// message, regardless of outcome. It forbids any further Graph attempt
	// until an operator explicitly resets it via manual resend.
	GraphAttempted bool       `json:"graphAttempted"`
	FailureReason  string     `json:"failureReason,omitempty"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Attachment is a raw attachment blob carried by a message
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Content  []byte `json:"content"`
}

// HasRecipients reports whether the message addresses anyone at all.
// Cc/Bcc-only messages are deliverable; a message with no recipients is not.
func (m *Message) HasRecipients() bool {
	return len(m.To) > 0 || len(m.Cc) > 0 || len(m.Bcc) > 0
}

// ContentType returns the Graph body content type tag for the message
func (m *Message) ContentType() string {
	if m.BodyHTML {
		return "HTML"
	}
	return "Text"
}
