package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/logger"
	"github.com/mailgraph/mailgraph/internal/model"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(config.GraphConfig{
		APIBaseURL:     baseURL,
		RequestTimeout: 5 * time.Second,
	}, logger.New("error", "json"))
}

func testMessage() *model.Message {
	return &model.Message{
		ID:       "msg-1",
		From:     "Sender Name <sender@example.com>",
		To:       []string{"Alice <alice@example.com>", "bob@example.com"},
		Cc:       []string{"carol@example.com"},
		Subject:  "Quarterly report",
		Body:     "<p>Attached.</p>",
		BodyHTML: true,
	}
}

func TestSend_PayloadShape(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/users/box@example.com/sendMail", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("x-ms-request-id", "req-abc")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	cfg := &model.TransportConfig{ID: "cfg-1", SenderEmail: "box@example.com"}
	msg := testMessage()
	msg.Attachments = []model.Attachment{
		{Name: "report.pdf", MimeType: "application/pdf", Content: []byte("pdf-bytes")},
	}

	providerID, skipped, err := client.Send(context.Background(), "tok", cfg, msg)
	require.NoError(t, err)
	assert.Equal(t, "req-abc", providerID)
	assert.Empty(t, skipped)

	assert.Equal(t, true, captured["saveToSentItems"])

	message := captured["message"].(map[string]interface{})
	assert.Equal(t, "Quarterly report", message["subject"])

	body := message["body"].(map[string]interface{})
	assert.Equal(t, "HTML", body["contentType"])
	assert.Equal(t, "<p>Attached.</p>", body["content"])

	to := message["toRecipients"].([]interface{})
	require.Len(t, to, 2)
	first := to[0].(map[string]interface{})["emailAddress"].(map[string]interface{})
	assert.Equal(t, "alice@example.com", first["address"], "display names are stripped")

	from := message["from"].(map[string]interface{})["emailAddress"].(map[string]interface{})
	assert.Equal(t, "box@example.com", from["address"])

	atts := message["attachments"].([]interface{})
	require.Len(t, atts, 1)
	att := atts[0].(map[string]interface{})
	assert.Equal(t, "#microsoft.graph.fileAttachment", att["@odata.type"])
	assert.Equal(t, "report.pdf", att["name"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("pdf-bytes")), att["contentBytes"])
}

func TestSend_SenderFallsBackToFromHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/sender@example.com/sendMail", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	cfg := &model.TransportConfig{ID: "cfg-1"}

	_, _, err := client.Send(context.Background(), "tok", cfg, testMessage())
	require.NoError(t, err)
}

func TestSend_NoSenderIsConfigError(t *testing.T) {
	client := testClient(t, "http://unused.invalid")
	cfg := &model.TransportConfig{ID: "cfg-1"}
	msg := testMessage()
	msg.From = ""

	_, _, err := client.Send(context.Background(), "tok", cfg, msg)
	assert.True(t, IsConfigError(err))
}

func TestSend_EmptyToken(t *testing.T) {
	client := testClient(t, "http://unused.invalid")
	cfg := &model.TransportConfig{ID: "cfg-1", SenderEmail: "box@example.com"}

	_, _, err := client.Send(context.Background(), "", cfg, testMessage())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestSend_ProviderIDFallsBackToMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	cfg := &model.TransportConfig{ID: "cfg-1", SenderEmail: "box@example.com"}

	providerID, _, err := client.Send(context.Background(), "tok", cfg, testMessage())
	require.NoError(t, err)
	assert.Equal(t, "msg-1", providerID)
}

func TestSend_RejectionCarriesProviderBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"code":"MailboxBusy"}}`))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	cfg := &model.TransportConfig{ID: "cfg-1", SenderEmail: "box@example.com"}

	_, _, err := client.Send(context.Background(), "tok", cfg, testMessage())
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, http.StatusServiceUnavailable, sendErr.Status)
	assert.Contains(t, sendErr.Body, "MailboxBusy")
}

func TestSend_AttachmentBudget(t *testing.T) {
	var captured sendMailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	cfg := &model.TransportConfig{ID: "cfg-1", SenderEmail: "box@example.com"}

	big := bytes.Repeat([]byte("a"), 20*1024*1024)
	msg := testMessage()
	msg.Attachments = []model.Attachment{
		{Name: "first.bin", MimeType: "application/octet-stream", Content: big},
		// Would push the running total past the cap, skipped individually.
		{Name: "second.bin", MimeType: "application/octet-stream", Content: big},
		{Name: "broken.bin", MimeType: "application/octet-stream", Content: nil},
		// Still fits in the remaining budget.
		{Name: "small.txt", MimeType: "text/plain", Content: []byte("ok")},
	}

	_, skipped, err := client.Send(context.Background(), "tok", cfg, msg)
	require.NoError(t, err)

	assert.Equal(t, []string{"second.bin", "broken.bin (error)"}, skipped)
	require.Len(t, captured.Message.Attachments, 2)
	assert.Equal(t, "first.bin", captured.Message.Attachments[0].Name)
	assert.Equal(t, "small.txt", captured.Message.Attachments[1].Name)
}

func TestTestConnection(t *testing.T) {
	var captured sendMailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	cfg := &model.TransportConfig{ID: "cfg-1", SenderEmail: "box@example.com"}

	require.NoError(t, client.TestConnection(context.Background(), "tok", cfg))
	assert.False(t, captured.SaveToSentItems, "probe message must not land in the sent folder")
	require.Len(t, captured.Message.ToRecipients, 1)
	assert.Equal(t, "box@example.com", captured.Message.ToRecipients[0].EmailAddress.Address)
}

func TestProfile(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]string
		expected string
	}{
		{
			name:     "mail attribute set",
			payload:  map[string]string{"mail": "user@example.com", "userPrincipalName": "user@tenant.onmicrosoft.com"},
			expected: "user@example.com",
		},
		{
			name:     "fallback to principal name",
			payload:  map[string]string{"userPrincipalName": "user@tenant.onmicrosoft.com"},
			expected: "user@tenant.onmicrosoft.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/me", r.URL.Path)
				json.NewEncoder(w).Encode(tt.payload)
			}))
			defer srv.Close()

			mailbox, err := testClient(t, srv.URL).Profile(context.Background(), "tok")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, mailbox)
		})
	}
}

func TestStripDisplayName(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"user@example.com", "user@example.com"},
		{"Name <user@example.com>", "user@example.com"},
		{"  <user@example.com>  ", "user@example.com"},
		{"Broken <user@example.com", "Broken <user@example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, StripDisplayName(tt.in))
	}
}
