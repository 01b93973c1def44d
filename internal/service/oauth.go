package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/graph"
	"github.com/mailgraph/mailgraph/internal/logger"
	"github.com/mailgraph/mailgraph/internal/model"
	"github.com/mailgraph/mailgraph/internal/repository"
)

var (
	ErrConfigNotFound   = errors.New("transport configuration not found")
	ErrIncompleteConfig = errors.New("transport configuration is missing client credentials")
	ErrMissingAuthCode  = errors.New("authorization response carries no code")
	ErrMissingState     = errors.New("authorization response carries no state")
)

// ProviderError carries the error the identity provider returned on the
// callback, verbatim, so operators see exactly what Azure reported.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization failed: %s", e.Code)
}

// TokenWriter persists tokens and the autodetected sender mailbox
type TokenWriter interface {
	GetByID(ctx context.Context, id string) (*model.TransportConfig, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
	UpdateSenderEmail(ctx context.Context, id, senderEmail string) error
}

// ProfileReader resolves the mailbox behind an access token
type ProfileReader interface {
	Profile(ctx context.Context, token string) (string, error)
}

// OAuthService drives the interactive three-legged authorization flow that
// obtains the initial refresh token for a transport config.
type OAuthService struct {
	transports      TokenWriter
	profiles        ProfileReader
	loginBaseURL    string
	redirectURI     string
	exchangeTimeout time.Duration
	httpClient      *http.Client
	log             *logger.Logger
}

// NewOAuthService creates the authorization flow service
func NewOAuthService(transports TokenWriter, profiles ProfileReader, cfg *config.Config, log *logger.Logger) *OAuthService {
	timeout := cfg.Graph.ExchangeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OAuthService{
		transports:      transports,
		profiles:        profiles,
		loginBaseURL:    strings.TrimRight(cfg.Graph.LoginBaseURL, "/"),
		redirectURI:     cfg.Server.RedirectURI(),
		exchangeTimeout: timeout,
		httpClient:      &http.Client{Timeout: timeout},
		log:             log.WithComponent("oauth_service"),
	}
}

// oauthConfig builds the x/oauth2 config for one transport. The redirect URI
// must byte-for-byte match the one registered in Azure or the exchange is
// rejected.
func (s *OAuthService) oauthConfig(cfg *model.TransportConfig) *oauth2.Config {
	base := fmt.Sprintf("%s/%s/oauth2/v2.0", s.loginBaseURL, cfg.TenantID)
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  s.redirectURI,
		Scopes:       strings.Fields(graph.DelegatedScope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + "/authorize",
			TokenURL: base + "/token",
		},
	}
}

// StartAuthorization returns the provider authorize URL for the given
// transport config. The config id travels as the state parameter and comes
// back on the callback to identify which config the tokens belong to.
func (s *OAuthService) StartAuthorization(ctx context.Context, configID string) (string, error) {
	cfg, err := s.transports.GetByID(ctx, configID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrConfigNotFound
		}
		return "", fmt.Errorf("load transport config: %w", err)
	}
	if !cfg.HasCredentials() {
		return "", ErrIncompleteConfig
	}

	authURL := s.oauthConfig(cfg).AuthCodeURL(cfg.ID,
		oauth2.SetAuthURLParam("response_mode", "query"),
	)
	s.log.Info().Str("config_id", cfg.ID).Msg("authorization started")
	return authURL, nil
}

// CallbackParams is the query-string payload of the provider redirect
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// HandleCallback finishes the authorization flow: it exchanges the code,
// persists the token set on the config identified by the state parameter and
// autofills the sender mailbox from the user's profile when it is unset.
func (s *OAuthService) HandleCallback(ctx context.Context, params CallbackParams) (*model.TransportConfig, error) {
	if params.Error != "" {
		return nil, &ProviderError{Code: params.Error, Description: params.ErrorDescription}
	}
	if params.State == "" {
		return nil, ErrMissingState
	}
	if params.Code == "" {
		return nil, ErrMissingAuthCode
	}

	cfg, err := s.transports.GetByID(ctx, params.State)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("load transport config: %w", err)
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.exchangeTimeout)
	defer cancel()
	exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, s.httpClient)

	token, err := s.oauthConfig(cfg).Exchange(exchangeCtx, params.Code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		// The provider may omit the refresh token on re-consent; keep the
		// one already on file.
		refreshToken = cfg.RefreshToken
	}
	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}

	if err := s.transports.UpdateTokens(ctx, cfg.ID, token.AccessToken, refreshToken, expiry); err != nil {
		return nil, fmt.Errorf("persist tokens: %w", err)
	}
	cfg.AccessToken = token.AccessToken
	cfg.RefreshToken = refreshToken
	cfg.TokenExpiry = &expiry

	if cfg.SenderEmail == "" && s.profiles != nil {
		if mailbox, err := s.profiles.Profile(ctx, token.AccessToken); err != nil {
			s.log.Warn().Err(err).Str("config_id", cfg.ID).Msg("sender autofill failed")
		} else if mailbox != "" {
			if err := s.transports.UpdateSenderEmail(ctx, cfg.ID, mailbox); err != nil {
				s.log.Warn().Err(err).Str("config_id", cfg.ID).Msg("persist sender email failed")
			} else {
				cfg.SenderEmail = mailbox
			}
		}
	}

	s.log.Info().Str("config_id", cfg.ID).Time("token_expiry", expiry).Msg("authorization completed")
	return cfg, nil
}
