package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/EstateDesk/internal/authstate"
	"github.com/utafrali/EstateDesk/internal/credential"
	"github.com/utafrali/EstateDesk/internal/domain"
	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
	"github.com/utafrali/EstateDesk/pkg/logger"
)

// ============================================================================
// Login / Signup
// ============================================================================

func TestManager_Login_PublishesAndPersists(t *testing.T) {
	b := newFakeBackend(t)
	m, store := newTestManager(t, b)

	var notified []authstate.State
	m.State().Subscribe(func(s authstate.State) { notified = append(notified, s) })

	user, err := m.Login(t.Context(), "agent@estatedesk.io", "s3cret")
	require.NoError(t, err)

	assert.Equal(t, "65f0c0ffee", user.ID)
	assert.Equal(t, "org-1", user.OrganizationID)

	s := m.State().State()
	require.NotNil(t, s.User)
	require.NotNil(t, s.Tokens)
	assert.False(t, s.IsLoading)
	assert.Equal(t, "65f0c0ffee", s.User.ID)

	access, ok := storedToken(t, store, domain.AccessTokenKey)
	require.True(t, ok)
	assert.Equal(t, s.Tokens.AccessToken, access)
	refresh, ok := storedToken(t, store, domain.RefreshTokenKey)
	require.True(t, ok)
	assert.Equal(t, "refresh-1", refresh)

	require.Len(t, notified, 1)
	assert.Equal(t, authstate.StatusAuthenticated, notified[0].Status())
}

func TestManager_Login_InvalidCredentials(t *testing.T) {
	b := newFakeBackend(t)
	b.configure(func(k *backendKnobs) {
		k.loginStatus = http.StatusUnauthorized
		k.loginMessage = "Email not verified"
	})
	m, store := newTestManager(t, b)

	_, err := m.Login(t.Context(), "agent@estatedesk.io", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidCredentials))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Email not verified", appErr.Message)

	assert.Equal(t, int32(0), b.refreshCalls.Load(), "a 401 from login never triggers a refresh")
	assert.Equal(t, authstate.StatusUnknown, m.State().State().Status(), "state is untouched")
	_, ok := storedToken(t, store, domain.AccessTokenKey)
	assert.False(t, ok)
}

func TestManager_Login_NetworkError(t *testing.T) {
	b := newFakeBackend(t)
	m, _ := newTestManager(t, b)
	b.srv.Close()

	_, err := m.Login(t.Context(), "agent@estatedesk.io", "s3cret")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNetwork))
	assert.True(t, m.State().State().IsLoading, "network failures do not change state")
}

func TestManager_Login_MalformedResponse(t *testing.T) {
	srv := newRawServer(t, http.StatusOK, `{"user":{"email":"no-id@estatedesk.io"},"accessToken":"a"}`)
	m, err := New(Config{BaseURL: srv}, credential.NewMemoryStore(nil), logger.Discard())
	require.NoError(t, err)

	_, err = m.Login(t.Context(), "x@y.z", "pw")
	require.Error(t, err)
	assert.False(t, m.State().State().Authenticated())
}

func TestManager_Login_ReplacesPreviousRefreshToken(t *testing.T) {
	b := newFakeBackend(t)
	m, store := newTestManager(t, b)
	require.NoError(t, store.Set(t.Context(), domain.RefreshTokenKey, "stale-refresh", time.Hour))

	b.configure(func(k *backendKnobs) { k.cookieRefresh = true })
	_, err := m.Login(t.Context(), "agent@estatedesk.io", "s3cret")
	require.NoError(t, err)

	_, ok := storedToken(t, store, domain.RefreshTokenKey)
	assert.False(t, ok, "a new session without a body refresh token drops the old one")
}

func TestManager_Signup_IndividualDropsCompany(t *testing.T) {
	b := newFakeBackend(t)
	m, _ := newTestManager(t, b)

	_, err := m.Signup(t.Context(), domain.SignupInput{
		FirstName:   "Ana",
		LastName:    "Silva",
		Email:       "ana@example.com",
		Password:    "s3cret-pass",
		AccountType: "individual",
		Company:     "Acme",
	})
	require.NoError(t, err)

	signups := b.recorded("signup")
	require.Len(t, signups, 1)
	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(signups[0].Body), &sent))
	assert.NotContains(t, sent, "company")
	assert.NotContains(t, sent, "phoneNumber")
	assert.Equal(t, "individual", sent["accountType"])
	assert.True(t, m.State().State().Authenticated())
}

func TestManager_Signup_OrganizationSendsCompany(t *testing.T) {
	b := newFakeBackend(t)
	m, _ := newTestManager(t, b)

	_, err := m.Signup(t.Context(), domain.SignupInput{
		Email:       "ops@acme.io",
		Password:    "pw",
		AccountType: "organization",
		Company:     "Acme Realty",
	})
	require.NoError(t, err)

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(b.recorded("signup")[0].Body), &sent))
	assert.Equal(t, "Acme Realty", sent["company"])
}

// ============================================================================
// Logout
// ============================================================================

func TestManager_Logout_ClearsEverything(t *testing.T) {
	tests := []struct {
		name   string
		status int
		down   bool
	}{
		{name: "rpc succeeds"},
		{name: "rpc returns 500", status: http.StatusInternalServerError},
		{name: "backend unreachable", down: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend(t)
			b.configure(func(k *backendKnobs) { k.logoutStatus = tt.status })
			m, store := newTestManager(t, b)

			_, err := m.Login(t.Context(), "agent@estatedesk.io", "s3cret")
			require.NoError(t, err)
			if tt.down {
				b.srv.Close()
			}

			m.Logout(t.Context())

			_, ok := storedToken(t, store, domain.AccessTokenKey)
			assert.False(t, ok)
			_, ok = storedToken(t, store, domain.RefreshTokenKey)
			assert.False(t, ok)

			s := m.State().State()
			assert.Nil(t, s.User)
			assert.Nil(t, s.Tokens)
			assert.False(t, s.IsLoading)
		})
	}
}

func TestManager_Logout_SendsBearer(t *testing.T) {
	b := newFakeBackend(t)
	m, _ := newTestManager(t, b)

	_, err := m.Login(t.Context(), "agent@estatedesk.io", "s3cret")
	require.NoError(t, err)
	m.Logout(t.Context())

	require.Equal(t, int32(1), b.logoutCalls.Load())
	assert.Equal(t, "Bearer access-1", b.recorded("logout")[0].Authorization)
}

func TestManager_Logout_CanceledContextStillClears(t *testing.T) {
	b := newFakeBackend(t)
	m, store := newTestManager(t, b)
	_, err := m.Login(t.Context(), "agent@estatedesk.io", "s3cret")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	m.Logout(ctx)

	_, ok := storedToken(t, store, domain.AccessTokenKey)
	assert.False(t, ok)
	assert.Equal(t, authstate.StatusLoggedOut, m.State().State().Status())
}

// ============================================================================
// Bootstrap
// ============================================================================

func TestManager_Bootstrap_NoStoredToken(t *testing.T) {
	b := newFakeBackend(t)
	m, _ := newTestManager(t, b)

	s := m.Bootstrap(t.Context())

	assert.Equal(t, authstate.StatusLoggedOut, s.Status())
	assert.False(t, s.IsLoading)
	assert.Equal(t, int32(0), b.refreshCalls.Load())
}

func TestManager_Bootstrap_InvalidStoredToken(t *testing.T) {
	b := newFakeBackend(t)
	b.configure(func(k *backendKnobs) { k.refreshStatus = http.StatusUnauthorized })
	m, store := newTestManager(t, b)
	require.NoError(t, store.Set(t.Context(), domain.AccessTokenKey, "expired-token", time.Hour))
	require.NoError(t, store.Set(t.Context(), domain.RefreshTokenKey, "revoked", time.Hour))

	s := m.Bootstrap(t.Context())

	assert.Equal(t, authstate.StatusLoggedOut, s.Status())
	assert.False(t, s.IsLoading)
	assert.Nil(t, s.User)
	_, ok := storedToken(t, store, domain.AccessTokenKey)
	assert.False(t, ok)
	_, ok = storedToken(t, store, domain.RefreshTokenKey)
	assert.False(t, ok)
}

func TestManager_Bootstrap_BackendDown(t *testing.T) {
	b := newFakeBackend(t)
	m, store := newTestManager(t, b)
	require.NoError(t, store.Set(t.Context(), domain.AccessTokenKey, "token", time.Hour))
	b.srv.Close()

	s := m.Bootstrap(t.Context())
	assert.Equal(t, authstate.StatusLoggedOut, s.Status())
	assert.False(t, s.IsLoading)
}

func TestManager_Bootstrap_ValidSession(t *testing.T) {
	b := newFakeBackend(t)
	m, store := newTestManager(t, b)
	require.NoError(t, store.Set(t.Context(), domain.AccessTokenKey, "access-0", time.Hour))
	require.NoError(t, store.Set(t.Context(), domain.RefreshTokenKey, "refresh-0", time.Hour))

	s := m.Bootstrap(t.Context())

	require.Equal(t, authstate.StatusAuthenticated, s.Status())
	assert.False(t, s.IsLoading)
	assert.Equal(t, "access-1", s.Tokens.AccessToken)

	access, _ := storedToken(t, store, domain.AccessTokenKey)
	assert.Equal(t, "access-1", access)
	assert.JSONEq(t, `{"refreshToken":"refresh-0"}`, b.recorded("refresh")[0].Body)
}

func TestManager_Bootstrap_CanceledContext(t *testing.T) {
	b := newFakeBackend(t)
	gate := make(chan struct{})
	b.configure(func(k *backendKnobs) { k.refreshGate = gate })
	m, store := newTestManager(t, b)
	require.NoError(t, store.Set(t.Context(), domain.AccessTokenKey, "access-0", time.Hour))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	s := m.Bootstrap(ctx)
	close(gate)

	assert.Equal(t, authstate.StatusLoggedOut, s.Status())
	assert.False(t, s.IsLoading)

	// The detached refresh completes but cannot resurrect the reset session.
	assert.Eventually(t, func() bool { return b.refreshCalls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, authstate.StatusLoggedOut, m.State().State().Status())
}

// ============================================================================
// ManualRefresh
// ============================================================================

func TestManager_ManualRefresh(t *testing.T) {
	b := newFakeBackend(t)
	m, store := newTestManager(t, b)
	_, err := m.Login(t.Context(), "agent@estatedesk.io", "s3cret")
	require.NoError(t, err)

	tokens, err := m.ManualRefresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tokens.AccessToken)
	assert.Equal(t, "refresh-2", tokens.RefreshToken)

	access, _ := storedToken(t, store, domain.AccessTokenKey)
	assert.Equal(t, "access-2", access)
	assert.Equal(t, "access-2", m.State().State().Tokens.AccessToken)
}

func TestManager_ManualRefresh_FailureSignsOut(t *testing.T) {
	b := newFakeBackend(t)
	var signedOut atomic.Int32
	m, store := newTestManager(t, b, func(c *Config) {
		c.OnSignedOut = func() { signedOut.Add(1) }
	})
	_, err := m.Login(t.Context(), "agent@estatedesk.io", "s3cret")
	require.NoError(t, err)

	b.configure(func(k *backendKnobs) { k.refreshStatus = http.StatusUnauthorized })
	_, err = m.ManualRefresh(t.Context())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSessionExpired))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "please sign in again", appErr.Message)

	assert.Equal(t, authstate.StatusLoggedOut, m.State().State().Status())
	_, ok := storedToken(t, store, domain.AccessTokenKey)
	assert.False(t, ok)
	assert.Equal(t, int32(1), signedOut.Load())
}

func TestManager_CookieManagedRefreshToken(t *testing.T) {
	b := newFakeBackend(t)
	b.configure(func(k *backendKnobs) { k.cookieRefresh = true })
	m, store := newTestManager(t, b)

	_, err := m.Login(t.Context(), "agent@estatedesk.io", "s3cret")
	require.NoError(t, err)
	_, ok := storedToken(t, store, domain.RefreshTokenKey)
	assert.False(t, ok, "an http-only refresh token is invisible to the client")

	tokens, err := m.ManualRefresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tokens.AccessToken)
	assert.JSONEq(t, `{}`, b.recorded("refresh")[0].Body)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, credential.NewMemoryStore(nil), logger.Discard())
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://localhost"}, nil, logger.Discard())
	assert.Error(t, err)
}
