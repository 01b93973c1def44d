package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/logger"
	"github.com/mailgraph/mailgraph/internal/model"
)

// MaxAttachmentBytes is the cumulative attachment budget per message, a
// Microsoft Graph hard limit. It counts raw content bytes before base64
// expansion. Attachments beyond the remaining budget are skipped
// individually, never the whole message.
const MaxAttachmentBytes = 35 * 1024 * 1024

// Client posts outbound messages to the Microsoft Graph sendMail endpoint
type Client struct {
	apiBaseURL string
	client     *http.Client
	log        *logger.Logger
}

// NewClient creates a Graph mail client. Every call is bounded by the
// configured request timeout so a stalled provider surfaces as a timeout
// error instead of hanging a mail-processing worker.
func NewClient(cfg config.GraphConfig, log *logger.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiBaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		log:        log.WithComponent("graph_client"),
	}
}

// sendMailRequest is the Graph sendMail payload
type sendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

type graphMessage struct {
	Subject       string           `json:"subject"`
	Body          messageBody      `json:"body"`
	ToRecipients  []recipient      `json:"toRecipients"`
	CcRecipients  []recipient      `json:"ccRecipients,omitempty"`
	BccRecipients []recipient      `json:"bccRecipients,omitempty"`
	From          *recipient       `json:"from,omitempty"`
	Attachments   []fileAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// Send posts the message via the Graph API using the given bearer token.
// It returns the provider request id (or the message's own id when the
// provider echoes none) and the names of any attachments skipped for size or
// encoding reasons.
func (c *Client) Send(ctx context.Context, token string, cfg *model.TransportConfig, msg *model.Message) (string, []string, error) {
	if token == "" {
		return "", nil, &AuthError{Body: "no access token available"}
	}

	sender := resolveSender(cfg, msg)
	if sender == "" {
		return "", nil, &ConfigError{Reason: "sender email is not defined"}
	}

	payload, skipped := buildPayload(sender, msg)
	log := c.log.WithMessageID(msg.ID)
	for _, name := range skipped {
		log.Warn().Str("attachment", name).Msg("attachment skipped")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", skipped, &SendError{Err: fmt.Errorf("marshal payload: %w", err)}
	}

	sendURL := fmt.Sprintf("%s/users/%s/sendMail", c.apiBaseURL, sender)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(body))
	if err != nil {
		return "", skipped, &SendError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", skipped, &SendError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return "", skipped, &SendError{Status: resp.StatusCode, Body: string(respBody)}
	}

	providerID := resp.Header.Get("x-ms-request-id")
	if providerID == "" {
		providerID = msg.ID
	}
	return providerID, skipped, nil
}

// TestConnection sends a minimal self-addressed message without saving it to
// the sent folder, verifying credentials, consent and mailbox in one call.
func (c *Client) TestConnection(ctx context.Context, token string, cfg *model.TransportConfig) error {
	if cfg.SenderEmail == "" {
		return &ConfigError{Reason: "sender email is not defined"}
	}

	payload := sendMailRequest{
		Message: graphMessage{
			Subject: "Test Connection",
			Body: messageBody{
				ContentType: "Text",
				Content:     "This is a test message to verify the Microsoft Graph API connection.",
			},
			ToRecipients: []recipient{{EmailAddress: emailAddress{Address: cfg.SenderEmail}}},
		},
		SaveToSentItems: false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &SendError{Err: err}
	}

	sendURL := fmt.Sprintf("%s/users/%s/sendMail", c.apiBaseURL, cfg.SenderEmail)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(body))
	if err != nil {
		return &SendError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &SendError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return &SendError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// profileResponse is the subset of the Graph /me payload used here
type profileResponse struct {
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Profile resolves the mailbox address of the token's user via /me. Used
// during authorization to autofill the sender email; falls back to the
// user principal name when the mail attribute is unset.
func (c *Client) Profile(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+"/me", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return "", fmt.Errorf("profile request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("decode profile: %w", err)
	}
	if profile.Mail != "" {
		return profile.Mail, nil
	}
	return profile.UserPrincipalName, nil
}

// resolveSender picks the mailbox the send is issued from: the config's
// sender email when set, else the message From header with any display name
// stripped.
func resolveSender(cfg *model.TransportConfig, msg *model.Message) string {
	if cfg.SenderEmail != "" {
		return cfg.SenderEmail
	}
	return StripDisplayName(msg.From)
}

// StripDisplayName reduces "Name <user@host>" to "user@host". Graph recipient
// objects are address-only.
func StripDisplayName(addr string) string {
	addr = strings.TrimSpace(addr)
	if open := strings.Index(addr, "<"); open >= 0 {
		if close := strings.Index(addr[open:], ">"); close > 0 {
			return strings.TrimSpace(addr[open+1 : open+close])
		}
	}
	return addr
}

func toRecipients(addrs []string) []recipient {
	var out []recipient
	for _, addr := range addrs {
		addr = StripDisplayName(addr)
		if addr == "" {
			continue
		}
		out = append(out, recipient{EmailAddress: emailAddress{Address: addr}})
	}
	return out
}

// buildPayload maps a message to the Graph sendMail shape, applying the
// cumulative attachment budget. Returns the payload and the names of skipped
// attachments.
func buildPayload(sender string, msg *model.Message) (sendMailRequest, []string) {
	payload := sendMailRequest{
		Message: graphMessage{
			Subject: msg.Subject,
			Body: messageBody{
				ContentType: msg.ContentType(),
				Content:     msg.Body,
			},
			ToRecipients:  toRecipients(msg.To),
			CcRecipients:  toRecipients(msg.Cc),
			BccRecipients: toRecipients(msg.Bcc),
			From:          &recipient{EmailAddress: emailAddress{Address: sender}},
		},
		SaveToSentItems: true,
	}

	var skipped []string
	var total int
	for _, att := range msg.Attachments {
		if len(att.Content) == 0 {
			skipped = append(skipped, att.Name+" (error)")
			continue
		}
		if total+len(att.Content) > MaxAttachmentBytes {
			skipped = append(skipped, att.Name)
			continue
		}
		mimeType := att.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		payload.Message.Attachments = append(payload.Message.Attachments, fileAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Name,
			ContentType:  mimeType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
		total += len(att.Content)
	}

	return payload, skipped
}
