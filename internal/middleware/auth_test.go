package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/logger"
)

func adminFixture(apiKey string) http.Handler {
	cfg := &config.Config{}
	cfg.Admin.APIKey = apiKey
	mw := New(nil, logger.New("error", "json"), cfg)
	return mw.AdminKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAdminKey(t *testing.T) {
	handler := adminFixture("secret-key")

	tests := []struct {
		name     string
		header   string
		value    string
		expected int
	}{
		{"valid key header", "X-API-Key", "secret-key", http.StatusOK},
		{"valid bearer token", "Authorization", "Bearer secret-key", http.StatusOK},
		{"wrong key", "X-API-Key", "wrong", http.StatusUnauthorized},
		{"missing key", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/transports", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}

func TestAdminKey_EmptyKeyDisablesEndpoints(t *testing.T) {
	handler := adminFixture("")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transports", nil)
	req.Header.Set("X-API-Key", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
