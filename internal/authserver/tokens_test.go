package authserver

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssuer(now func() time.Time) *TokenIssuer {
	return NewTokenIssuer("test-secret-0123456789abcdef0123", "estatedesk-auth", 15*time.Minute, 24*time.Hour, now)
}

func TestTokenIssuer_AccessRoundTrip(t *testing.T) {
	issuer := testIssuer(nil)
	u := &User{ID: "u-1", Email: "agent@estatedesk.io", Role: "owner", OrganizationID: "org-1"}

	token, err := issuer.Access(u)
	require.NoError(t, err)

	claims, err := issuer.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "agent@estatedesk.io", claims.Email)
	assert.Equal(t, "owner", claims.Role)
	assert.Equal(t, "org-1", claims.OrganizationID)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenIssuer_RefreshRoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	issuer := testIssuer(func() time.Time { return now })

	token, id, expires, err := issuer.Refresh("u-1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), expires)

	claims, err := issuer.ParseRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.ID)
	assert.Equal(t, "u-1", claims.Subject)
}

func TestTokenIssuer_TokenKindsAreNotInterchangeable(t *testing.T) {
	issuer := testIssuer(nil)

	access, err := issuer.Access(&User{ID: "u-1"})
	require.NoError(t, err)
	refresh, _, _, err := issuer.Refresh("u-1")
	require.NoError(t, err)

	_, err = issuer.ParseRefresh(access)
	assert.Error(t, err)
	_, err = issuer.ParseAccess(refresh)
	assert.Error(t, err)
}

func TestTokenIssuer_Expiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	issuer := testIssuer(func() time.Time { return now })

	token, err := issuer.Access(&User{ID: "u-1"})
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = issuer.ParseAccess(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenIssuer_RejectsForeignTokens(t *testing.T) {
	issuer := testIssuer(nil)

	other := NewTokenIssuer("another-secret-0123456789abcdef01", "estatedesk-auth", time.Minute, time.Hour, nil)
	forged, err := other.Access(&User{ID: "u-1"})
	require.NoError(t, err)
	_, err = issuer.ParseAccess(forged)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	wrongIssuer := NewTokenIssuer("test-secret-0123456789abcdef0123", "someone-else", time.Minute, time.Hour, nil)
	token, err := wrongIssuer.Access(&User{ID: "u-1"})
	require.NoError(t, err)
	_, err = issuer.ParseAccess(token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u-1", "iss": "estatedesk-auth"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.ParseAccess(none)
	assert.Error(t, err)
}
