package graph

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-only"))
	require.NoError(t, err)
	return signed
}

func TestDecodeTokenInfo(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := unsignedToken(t, jwt.MapClaims{
		"appid": "app-123",
		"tid":   "tenant-456",
		"scp":   "Mail.Send User.Read",
		"exp":   exp.Unix(),
	})

	info, err := DecodeTokenInfo(raw)
	require.NoError(t, err)

	assert.Equal(t, "app-123", info.AppID)
	assert.Equal(t, "tenant-456", info.TenantID)
	assert.Equal(t, []string{"Mail.Send", "User.Read"}, info.Scopes)
	assert.True(t, exp.Equal(info.ExpiresAt))
}

func TestDecodeTokenInfo_MissingClaims(t *testing.T) {
	raw := unsignedToken(t, jwt.MapClaims{})

	info, err := DecodeTokenInfo(raw)
	require.NoError(t, err)
	assert.Empty(t, info.AppID)
	assert.Empty(t, info.Scopes)
	assert.True(t, info.ExpiresAt.IsZero())
}

func TestDecodeTokenInfo_NotAJWT(t *testing.T) {
	_, err := DecodeTokenInfo("opaque-token-value")
	assert.Error(t, err)
}
