package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/logger"
	"github.com/mailgraph/mailgraph/internal/model"
)

func TestNewRelaySenderAuth(t *testing.T) {
	log := logger.New("error", "json")

	open := NewRelaySender(config.SMTPConfig{Host: "relay.example.com", Port: 25}, log)
	assert.Nil(t, open.auth, "no credentials means an unauthenticated session")

	authed := NewRelaySender(config.SMTPConfig{
		Host:     "relay.example.com",
		Port:     587,
		User:     "relay-user",
		Password: "relay-pass",
	}, log)
	assert.NotNil(t, authed.auth)
}

func TestStripAngle(t *testing.T) {
	assert.Equal(t, "user@example.com", stripAngle("user@example.com"))
	assert.Equal(t, "user@example.com", stripAngle("Name <user@example.com>"))
}

func TestBuildMIME_PlainBody(t *testing.T) {
	msg := &model.Message{
		To:      []string{"rcpt@example.com"},
		Subject: "hello",
		Body:    "plain text body",
	}

	data := string(buildMIME("sender@example.com", msg))

	assert.Contains(t, data, "From: sender@example.com\r\n")
	assert.Contains(t, data, "To: rcpt@example.com\r\n")
	assert.Contains(t, data, "Content-Type: text/plain; charset=utf-8")
	assert.Contains(t, data, "plain text body")
	assert.NotContains(t, data, "multipart/mixed")
}

func TestBuildMIME_HTMLWithAttachment(t *testing.T) {
	msg := &model.Message{
		To:       []string{"rcpt@example.com"},
		Cc:       []string{"cc@example.com"},
		Subject:  "hello",
		Body:     "<p>hi</p>",
		BodyHTML: true,
		Attachments: []model.Attachment{
			{Name: "a.txt", MimeType: "text/plain", Content: []byte("attachment body")},
			{Name: "empty.bin", Content: nil},
		},
	}

	data := string(buildMIME("sender@example.com", msg))

	assert.Contains(t, data, "Cc: cc@example.com\r\n")
	assert.Contains(t, data, "multipart/mixed")
	assert.Contains(t, data, "Content-Type: text/html; charset=utf-8")
	assert.Contains(t, data, `filename="a.txt"`)
	assert.Contains(t, data, "Content-Transfer-Encoding: base64")
	assert.NotContains(t, data, "empty.bin", "empty attachments are dropped")
}
