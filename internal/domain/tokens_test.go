package domain

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokens_UsesJWTExpiry(t *testing.T) {
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "usr-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("any-secret"))
	require.NoError(t, err)

	now := exp.Add(-time.Hour)
	tokens := NewTokens(signed, "refresh", now, DefaultAccessTTL)

	assert.Equal(t, exp, tokens.ExpiresAt)
	assert.Equal(t, "refresh", tokens.RefreshToken)
	assert.False(t, tokens.Expired(now))
	assert.True(t, tokens.Expired(exp))
}

func TestNewTokens_OpaqueTokenFallsBackToTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokens("opaque-token", "", now, DefaultAccessTTL)

	assert.Equal(t, now.Add(7*24*time.Hour), tokens.ExpiresAt)
	assert.Empty(t, tokens.RefreshToken)
}

func TestTokens_ZeroExpiryNeverExpires(t *testing.T) {
	assert.False(t, Tokens{AccessToken: "x"}.Expired(time.Now()))
}
