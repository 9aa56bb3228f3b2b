package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential store entry names and their default lifetimes.
const (
	AccessTokenKey  = "accessToken"
	RefreshTokenKey = "refreshToken"

	DefaultAccessTTL  = 7 * 24 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Tokens is the credential set of an authenticated session. RefreshToken is
// empty when the backend keeps it in an http-only cookie.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the access token is past its expiry at now.
func (t Tokens) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// NewTokens builds Tokens with an expiry taken from the access token's exp
// claim when it is a JWT, or now+fallbackTTL otherwise. The signature is not
// verified: the client only needs a hint, the backend remains the authority.
func NewTokens(accessToken, refreshToken string, now time.Time, fallbackTTL time.Duration) Tokens {
	return Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExpiry(accessToken, now, fallbackTTL),
	}
}

func accessExpiry(accessToken string, now time.Time, fallbackTTL time.Duration) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time.UTC()
	}
	return now.Add(fallbackTTL).UTC()
}
