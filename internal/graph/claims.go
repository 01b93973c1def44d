package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is the subset of access-token claims surfaced on the status
// endpoint. Decoded without signature verification: the token was issued to
// us, the claims are informational only and never used for authorization
// decisions.
type TokenInfo struct {
	AppID     string    `json:"app_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// DecodeTokenInfo parses the stored Graph access token without verifying its
// signature and extracts identifying claims.
func DecodeTokenInfo(accessToken string) (*TokenInfo, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	info := &TokenInfo{}
	if appID, ok := claims["appid"].(string); ok {
		info.AppID = appID
	}
	if tenant, ok := claims["tid"].(string); ok {
		info.TenantID = tenant
	}
	if scp, ok := claims["scp"].(string); ok && scp != "" {
		info.Scopes = strings.Fields(scp)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}
