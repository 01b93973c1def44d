package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/logger"
	"github.com/mailgraph/mailgraph/internal/model"
)

type fakeTokenStore struct {
	mu           sync.Mutex
	calls        int
	accessToken  string
	refreshToken string
	expiry       time.Time
	err          error
}

func (s *fakeTokenStore) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	s.expiry = expiry
	return s.err
}

func testTokenManager(t *testing.T, baseURL string) (*TokenManager, *fakeTokenStore) {
	t.Helper()
	store := &fakeTokenStore{}
	log := logger.New("error", "json")
	tm := NewTokenManager(store, config.GraphConfig{
		LoginBaseURL:   baseURL,
		RequestTimeout: 5 * time.Second,
	}, log)
	return tm, store
}

func transportWithTokens(expiry time.Time) *model.TransportConfig {
	return &model.TransportConfig{
		ID:           "cfg-1",
		Name:         "primary",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TenantID:     "tenant-id",
		AccessToken:  "cached-token",
		RefreshToken: "refresh-token",
		TokenExpiry:  &expiry,
	}
}

func TestEnsureValidToken_CachedTokenOutsideMargin(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	tm, store := testTokenManager(t, srv.URL)
	cfg := transportWithTokens(time.Now().Add(time.Hour))

	token, err := tm.EnsureValidToken(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "cached-token", token)
	assert.Equal(t, 0, hits, "valid token must not trigger network traffic")
	assert.Equal(t, 0, store.calls)
}

func TestEnsureValidToken_TokenInsideMarginIsRefreshed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
		assert.Equal(t, "refresh-token", r.PostFormValue("refresh_token"))
		assert.Equal(t, "client-id", r.PostFormValue("client_id"))
		assert.Equal(t, "client-secret", r.PostFormValue("client_secret"))
		assert.Contains(t, r.PostFormValue("scope"), "Mail.Send")
		assert.Contains(t, r.PostFormValue("scope"), "offline_access")
		assert.Equal(t, "/tenant-id/oauth2/v2.0/token", r.URL.Path)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "fresh-token",
			"refresh_token": "fresh-refresh",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	tm, store := testTokenManager(t, srv.URL)
	// Two minutes to expiry is inside the five-minute safety margin.
	cfg := transportWithTokens(time.Now().Add(2 * time.Minute))

	before := time.Now()
	token, err := tm.EnsureValidToken(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, "fresh-token", cfg.AccessToken)
	assert.Equal(t, "fresh-refresh", cfg.RefreshToken)

	require.NotNil(t, cfg.TokenExpiry)
	assert.WithinDuration(t, before.Add(time.Hour), *cfg.TokenExpiry, 5*time.Second)

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, "fresh-token", store.accessToken)
	assert.Equal(t, "fresh-refresh", store.refreshToken)
}

func TestEnsureValidToken_RefreshTokenPreservedWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fresh-token",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	tm, store := testTokenManager(t, srv.URL)
	cfg := transportWithTokens(time.Time{})

	_, err := tm.EnsureValidToken(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "refresh-token", cfg.RefreshToken, "omitted refresh token keeps the stored one")
	assert.Equal(t, "refresh-token", store.refreshToken)
}

func TestEnsureValidToken_DefaultExpiryWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fresh-token",
		}) // no expires_in
	}))
	defer srv.Close()

	tm, _ := testTokenManager(t, srv.URL)
	cfg := transportWithTokens(time.Time{})

	before := time.Now()
	_, err := tm.EnsureValidToken(context.Background(), cfg)
	require.NoError(t, err)

	require.NotNil(t, cfg.TokenExpiry)
	assert.WithinDuration(t, before.Add(time.Hour), *cfg.TokenExpiry, 5*time.Second)
}

func TestEnsureValidToken_FallsBackToClientCredentials(t *testing.T) {
	var grants []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		grant := r.PostFormValue("grant_type")
		grants = append(grants, grant)

		if grant == "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		assert.Equal(t, "https://graph.microsoft.com/.default", r.PostFormValue("scope"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "app-token",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	tm, store := testTokenManager(t, srv.URL)
	cfg := transportWithTokens(time.Time{})

	token, err := tm.EnsureValidToken(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "app-token", token)
	assert.Equal(t, []string{"refresh_token", "client_credentials"}, grants)
	assert.Equal(t, 1, store.calls)
	// A failed refresh grant must not clear the stored refresh token.
	assert.Equal(t, "refresh-token", cfg.RefreshToken)
}

func TestEnsureValidToken_BothGrantsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client","error_description":"AADSTS7000215"}`))
	}))
	defer srv.Close()

	tm, store := testTokenManager(t, srv.URL)
	cfg := transportWithTokens(time.Time{})

	_, err := tm.EnsureValidToken(context.Background(), cfg)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Contains(t, authErr.Body, "AADSTS7000215", "provider body must surface verbatim")
	assert.Equal(t, 0, store.calls)
}

func TestEnsureValidToken_NoCredentials(t *testing.T) {
	tm, _ := testTokenManager(t, "http://unused.invalid")
	cfg := &model.TransportConfig{ID: "cfg-1", Name: "empty"}

	_, err := tm.EnsureValidToken(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestEnsureValidToken_NoRefreshTokenUsesClientCredentials(t *testing.T) {
	var grants []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		grants = append(grants, r.PostFormValue("grant_type"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "app-token",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	tm, _ := testTokenManager(t, srv.URL)
	cfg := transportWithTokens(time.Time{})
	cfg.RefreshToken = ""

	token, err := tm.EnsureValidToken(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "app-token", token)
	assert.Equal(t, []string{"client_credentials"}, grants)
}

func TestEnsureValidToken_EmptyAccessTokenInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"expires_in": 3600})
	}))
	defer srv.Close()

	tm, _ := testTokenManager(t, srv.URL)
	cfg := transportWithTokens(time.Time{})
	cfg.RefreshToken = ""

	_, err := tm.EnsureValidToken(context.Background(), cfg)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}
