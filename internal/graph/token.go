package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/logger"
	"github.com/mailgraph/mailgraph/internal/model"
)

// OAuth scopes for the Microsoft identity platform
const (
	// DelegatedScope is requested on the refresh-token and authorization-code
	// grants. offline_access keeps refresh tokens flowing.
	DelegatedScope = "https://graph.microsoft.com/Mail.Send offline_access"
	// AppScope is requested on the client-credentials grant
	AppScope = "https://graph.microsoft.com/.default"
)

// defaultExpiresIn applies when the provider omits expires_in
const defaultExpiresIn = 3600

// TokenStore persists refreshed tokens. Token replacement is a total
// overwrite, so concurrent refreshes are safe without locking.
type TokenStore interface {
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
}

// tokenResponse is the identity platform token endpoint response
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// TokenManager guarantees a valid bearer token for a transport config,
// refreshing against the identity platform when the stored one is expired or
// within the safety margin of expiring.
type TokenManager struct {
	store        TokenStore
	loginBaseURL string
	client       *http.Client
	log          *logger.Logger
	now          func() time.Time
}

// NewTokenManager creates a TokenManager
func NewTokenManager(store TokenStore, cfg config.GraphConfig, log *logger.Logger) *TokenManager {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TokenManager{
		store:        store,
		loginBaseURL: strings.TrimRight(cfg.LoginBaseURL, "/"),
		client:       &http.Client{Timeout: timeout},
		log:          log.WithComponent("token_manager"),
		now:          time.Now,
	}
}

// EnsureValidToken returns a bearer token for the config, refreshing it first
// when the cached one expires within the safety margin. The config's token
// fields are updated in place on refresh so callers see the installed token.
func (tm *TokenManager) EnsureValidToken(ctx context.Context, cfg *model.TransportConfig) (string, error) {
	if cfg.TokenValid(tm.now()) {
		return cfg.AccessToken, nil
	}

	if !cfg.HasCredentials() {
		return "", &ConfigError{Reason: "client ID, client secret and tenant ID are required"}
	}

	log := tm.log.WithConfigID(cfg.ID)
	log.Info().Msg("access token expired or missing, refreshing")

	var resp *tokenResponse
	var err error
	if cfg.RefreshToken != "" {
		resp, err = tm.requestToken(ctx, cfg, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {cfg.ClientID},
			"client_secret": {cfg.ClientSecret},
			"refresh_token": {cfg.RefreshToken},
			"scope":         {DelegatedScope},
		})
		if ae := (*AuthError)(nil); errors.As(err, &ae) && ae.Status != 0 {
			// A rejected refresh token is not terminal: degrade once to the
			// app-only grant before giving up. Transport-level failures
			// (timeouts) are not retried against a second grant.
			log.Warn().Err(err).Msg("refresh-token grant rejected, falling back to client credentials")
			resp, err = tm.clientCredentials(ctx, cfg)
		}
	} else {
		resp, err = tm.clientCredentials(ctx, cfg)
	}
	if err != nil {
		return "", err
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	expiry := tm.now().Add(time.Duration(expiresIn) * time.Second)

	cfg.AccessToken = resp.AccessToken
	cfg.TokenExpiry = &expiry
	// The provider omits refresh_token to signal "keep using the old one";
	// the stored value is only ever replaced, never cleared.
	if resp.RefreshToken != "" {
		cfg.RefreshToken = resp.RefreshToken
	}

	if err := tm.store.UpdateTokens(ctx, cfg.ID, cfg.AccessToken, cfg.RefreshToken, expiry); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	log.Info().Time("expiry", expiry).Msg("access token refreshed")
	return cfg.AccessToken, nil
}

func (tm *TokenManager) clientCredentials(ctx context.Context, cfg *model.TransportConfig) (*tokenResponse, error) {
	return tm.requestToken(ctx, cfg, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {cfg.ClientID},
		"client_secret": {cfg.ClientSecret},
		"scope":         {AppScope},
	})
}

func (tm *TokenManager) requestToken(ctx context.Context, cfg *model.TransportConfig, form url.Values) (*tokenResponse, error) {
	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", tm.loginBaseURL, cfg.TenantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, &AuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &AuthError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return nil, &AuthError{Status: resp.StatusCode, Body: "no access token in response"}
	}
	return &tr, nil
}
