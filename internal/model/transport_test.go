package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransportConfig_HasCredentials(t *testing.T) {
	cfg := TransportConfig{ClientID: "a", ClientSecret: "b", TenantID: "c"}
	assert.True(t, cfg.HasCredentials())

	for _, strip := range []func(*TransportConfig){
		func(c *TransportConfig) { c.ClientID = "" },
		func(c *TransportConfig) { c.ClientSecret = "" },
		func(c *TransportConfig) { c.TenantID = "" },
	} {
		partial := cfg
		strip(&partial)
		assert.False(t, partial.HasCredentials())
	}
}

func TestTransportConfig_TokenValid(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		token  string
		expiry *time.Time
		valid  bool
	}{
		{"no token", "", timePtr(now.Add(time.Hour)), false},
		{"no expiry", "tok", nil, false},
		{"well before expiry", "tok", timePtr(now.Add(time.Hour)), true},
		{"inside safety margin", "tok", timePtr(now.Add(4 * time.Minute)), false},
		{"exactly at margin", "tok", timePtr(now.Add(TokenExpiryMargin)), false},
		{"just outside margin", "tok", timePtr(now.Add(TokenExpiryMargin + time.Second)), true},
		{"already expired", "tok", timePtr(now.Add(-time.Minute)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := TransportConfig{AccessToken: tt.token, TokenExpiry: tt.expiry}
			assert.Equal(t, tt.valid, cfg.TokenValid(now))
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }
