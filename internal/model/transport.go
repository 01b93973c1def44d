package model

import (
	"time"
)

// TokenExpiryMargin is the safety margin under which a stored access token is
// treated as already expired. Borderline tokens must be refreshed before use.
const TokenExpiryMargin = 5 * time.Minute

// TransportConfig represents one configured outbound mail channel. A channel
// carries the Azure app credentials plus the OAuth tokens obtained either via
// the client-credentials grant or the interactive authorization flow.
type TransportConfig struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	ClientID     string     `json:"clientId"`
	ClientSecret string     `json:"-"`
	TenantID     string     `json:"tenantId"`
	SenderEmail  string     `json:"senderEmail"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"tokenExpiry,omitempty"`
	UseGraphAPI  bool       `json:"useGraphApi"`
	// FallbackToSMTP degrades a failed Graph send to the SMTP transport
	// instead of leaving the message failed.
	FallbackToSMTP bool `json:"fallbackToSmtp"`
	// Sequence orders configs when an unassigned message needs one.
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasCredentials reports whether the Azure app credentials are complete.
func (c *TransportConfig) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.TenantID != ""
}

// TokenValid reports whether the stored access token can still be used.
// A token is only trustworthy while its expiry is at least TokenExpiryMargin
// in the future.
func (c *TransportConfig) TokenValid(now time.Time) bool {
	if c.AccessToken == "" || c.TokenExpiry == nil {
		return false
	}
	return c.TokenExpiry.After(now.Add(TokenExpiryMargin))
}
