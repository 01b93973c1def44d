package smtp

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/logger"
	"github.com/mailgraph/mailgraph/internal/model"
)

// Sender delivers a message over a conventional mail relay. Used when a
// transport has Graph disabled or as the fallback path after a Graph attempt.
type Sender interface {
	Send(ctx context.Context, msg *model.Message) error
}

// RelaySender submits messages to the configured SMTP relay
type RelaySender struct {
	addr string
	auth smtp.Auth
	from string
	log  *logger.Logger
}

func NewRelaySender(cfg config.SMTPConfig, log *logger.Logger) *RelaySender {
	s := &RelaySender{
		addr: cfg.Addr(),
		from: cfg.From,
		log:  log.WithComponent("smtp_sender"),
	}
	// An empty user means an open relay; the session then runs unauthenticated.
	if cfg.User != "" {
		s.auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return s
}

// Send builds a MIME message and hands it to the relay. The context deadline
// is honored by running the SMTP session in a goroutine; net/smtp has no
// native context support.
func (s *RelaySender) Send(ctx context.Context, msg *model.Message) error {
	if !msg.HasRecipients() {
		return fmt.Errorf("no recipients")
	}

	from := s.from
	if msg.From != "" {
		from = msg.From
	}
	if from == "" {
		return fmt.Errorf("no sender address configured")
	}

	var rcpts []string
	rcpts = append(rcpts, msg.To...)
	rcpts = append(rcpts, msg.Cc...)
	rcpts = append(rcpts, msg.Bcc...)

	data := buildMIME(from, msg)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.addr, s.auth, stripAngle(from), rcpts, data)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp relay %s: %w", s.addr, err)
		}
		s.log.Info().Str("message_id", msg.ID).Str("relay", s.addr).Msg("message relayed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stripAngle(addr string) string {
	addr = strings.TrimSpace(addr)
	if open := strings.Index(addr, "<"); open >= 0 {
		if end := strings.Index(addr[open:], ">"); end > 0 {
			return strings.TrimSpace(addr[open+1 : open+end])
		}
	}
	return addr
}

// buildMIME renders the message as RFC 5322 text, multipart/mixed when
// attachments are present.
func buildMIME(from string, msg *model.Message) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	if len(msg.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")

	bodyType := "text/plain"
	if msg.BodyHTML {
		bodyType = "text/html"
	}

	if len(msg.Attachments) == 0 {
		fmt.Fprintf(&buf, "Content-Type: %s; charset=utf-8\r\n\r\n", bodyType)
		buf.WriteString(msg.Body)
		return buf.Bytes()
	}

	boundary := fmt.Sprintf("=_mail_%d", time.Now().UnixNano())
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: %s; charset=utf-8\r\n\r\n", bodyType)
	buf.WriteString(msg.Body)
	buf.WriteString("\r\n")

	for _, att := range msg.Attachments {
		if len(att.Content) == 0 {
			continue
		}
		mimeType := att.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", mimeType)
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n", att.Name)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		writeBase64Wrapped(&buf, att.Content)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes()
}

func writeBase64Wrapped(buf *bytes.Buffer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
}
