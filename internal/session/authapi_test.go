package session

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
	"github.com/utafrali/EstateDesk/pkg/httpclient"
)

func newTestAuthAPI(baseURL string) *authAPI {
	cfg := httpclient.DefaultConfig()
	cfg.MaxRetries = 0
	return newAuthAPI(baseURL, httpclient.New(cfg), func() time.Time {
		return time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	})
}

func TestAuthAPI_Login_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		message  string
	}{
		{
			name:     "wrong password",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"code":"INVALID_CREDENTIALS","message":"Invalid email or password"}}`,
			sentinel: apperrors.ErrInvalidCredentials,
			message:  "Invalid email or password",
		},
		{
			name:     "flat message",
			status:   http.StatusBadRequest,
			body:     `{"message":"Email not verified"}`,
			sentinel: apperrors.ErrInvalidCredentials,
			message:  "Email not verified",
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"code":"RATE_LIMITED","message":"slow down"}}`,
			sentinel: apperrors.ErrRateLimited,
			message:  "slow down",
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     `upstream down`,
			sentinel: apperrors.ErrNetwork,
			message:  "the server could not be reached, try again",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAuthAPI(newRawServer(t, tt.status, tt.body))

			_, err := api.login(t.Context(), "agent@estatedesk.io", "pw")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}
}

func TestAuthAPI_DecodesEnvelopedResponse(t *testing.T) {
	api := newTestAuthAPI(newRawServer(t, http.StatusOK,
		`{"data":{"user":{"id":"u-1","organization":"org-9"},"accessToken":"opaque","refreshToken":"r"}}`))

	res, err := api.refresh(t.Context(), "r")
	require.NoError(t, err)
	assert.Equal(t, "u-1", res.User.ID)
	assert.Equal(t, "org-9", res.User.OrganizationID)
	assert.Equal(t, "opaque", res.Tokens.AccessToken)
	assert.Equal(t, "r", res.Tokens.RefreshToken)
	assert.Equal(t, time.Date(2026, 1, 17, 9, 0, 0, 0, time.UTC), res.Tokens.ExpiresAt)
}

func TestAuthAPI_MissingAccessToken(t *testing.T) {
	api := newTestAuthAPI(newRawServer(t, http.StatusOK, `{"user":{"id":"u-1"}}`))

	_, err := api.refresh(t.Context(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accessToken")
}

func TestAuthAPI_ConflictingUserIDs(t *testing.T) {
	api := newTestAuthAPI(newRawServer(t, http.StatusOK,
		`{"user":{"id":"a","_id":"b"},"accessToken":"t"}`))

	_, err := api.login(t.Context(), "x@y.z", "pw")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestAuthAPI_RefreshRejected(t *testing.T) {
	api := newTestAuthAPI(newRawServer(t, http.StatusUnauthorized,
		`{"error":{"code":"INVALID_REFRESH_TOKEN","message":"refresh token expired"}}`))

	_, err := api.refresh(t.Context(), "r")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}
