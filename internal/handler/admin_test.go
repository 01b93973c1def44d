package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mailgraph/mailgraph/internal/graph"
)

func TestTestFailureStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "rejected token",
			err:        &graph.SendError{Status: http.StatusUnauthorized, Body: "InvalidAuthenticationToken"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name:       "throttled",
			err:        &graph.SendError{Status: http.StatusTooManyRequests, Body: "ApplicationThrottled"},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "rate_limited",
		},
		{
			name:       "provider outage",
			err:        &graph.SendError{Status: http.StatusServiceUnavailable, Body: "MailboxBusy"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "provider_unavailable",
		},
		{
			name:       "plain rejection",
			err:        &graph.SendError{Status: http.StatusBadRequest, Body: "ErrorInvalidRecipients"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "send_error",
		},
		{
			name:       "transport failure",
			err:        errors.New("context deadline exceeded"),
			wantStatus: http.StatusBadGateway,
			wantCode:   "send_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := testFailureStatus(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}
