package authserver_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/EstateDesk/internal/apiclient"
	"github.com/utafrali/EstateDesk/internal/authserver"
	"github.com/utafrali/EstateDesk/internal/authstate"
	"github.com/utafrali/EstateDesk/internal/credential"
	"github.com/utafrali/EstateDesk/internal/domain"
	"github.com/utafrali/EstateDesk/internal/session"
	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
	"github.com/utafrali/EstateDesk/pkg/logger"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock   *clock
	store   *credential.MemoryStore
	manager *session.Manager
	api     *apiclient.Client
}

func newHarness(t *testing.T, cookieOnly bool) *harness {
	t.Helper()

	c := &clock{now: time.Now()}
	cfg := authserver.DefaultConfig()
	cfg.Secret = "integration-secret-0123456789abcd"
	cfg.BcryptCost = bcrypt.MinCost
	cfg.RateLimitRPS = 0
	cfg.CookieOnly = cookieOnly
	cfg.Now = c.Now

	srv := httptest.NewServer(authserver.New(cfg, logger.Discard()).Handler(t.Context()))
	t.Cleanup(srv.Close)

	store := credential.NewMemoryStore(nil)
	m, err := session.New(session.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, store, logger.Discard())
	require.NoError(t, err)

	return &harness{
		clock:   c,
		store:   store,
		manager: m,
		api:     apiclient.NewSessionClient(srv.URL+"/api/v1", m, 5*time.Second, logger.Discard()),
	}
}

func (h *harness) leads(ctx context.Context) ([]authserver.Lead, error) {
	var out []authserver.Lead
	err := h.api.Get(ctx, "/leads", nil, &out)
	return out, err
}

var agent = domain.SignupInput{
	FirstName:   "Ana",
	LastName:    "Lima",
	Email:       "ana@acme.io",
	Password:    "s3cret-pass",
	AccountType: domain.AccountTypeOrganization,
	Company:     "Acme Realty",
}

func TestSession_SignupLoginAndCall(t *testing.T) {
	h := newHarness(t, false)
	ctx := t.Context()

	user, err := h.manager.Signup(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, "ana@acme.io", user.Email)
	assert.Equal(t, "owner", user.Role)
	assert.NotEmpty(t, user.OrganizationID)

	state := h.manager.State().State()
	assert.Equal(t, authstate.StatusAuthenticated, state.Status())

	refresh, ok, err := h.store.Get(ctx, domain.RefreshTokenKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, refresh)

	leads, err := h.leads(ctx)
	require.NoError(t, err)
	assert.Len(t, leads, 3)

	h.manager.Logout(ctx)
	assert.Equal(t, authstate.StatusLoggedOut, h.manager.State().State().Status())

	_, err = h.leads(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrSessionExpired), "got %v", err)

	_, err = h.manager.Login(ctx, "ana@acme.io", "wrong-pass")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidCredentials))

	_, err = h.manager.Login(ctx, "ana@acme.io", "s3cret-pass")
	require.NoError(t, err)
	_, err = h.leads(ctx)
	assert.NoError(t, err)
}

func TestSession_ExpiredAccessTokenIsRefreshedTransparently(t *testing.T) {
	for _, cookieOnly := range []bool{false, true} {
		name := "body"
		if cookieOnly {
			name = "cookie"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, cookieOnly)
			ctx := t.Context()

			_, err := h.manager.Signup(ctx, agent)
			require.NoError(t, err)
			before, _, err := h.store.Get(ctx, domain.AccessTokenKey)
			require.NoError(t, err)

			if cookieOnly {
				_, ok, err := h.store.Get(ctx, domain.RefreshTokenKey)
				require.NoError(t, err)
				assert.False(t, ok, "refresh token lives only in the cookie")
			}

			h.clock.Advance(20 * time.Minute)

			var wg sync.WaitGroup
			errs := make([]error, 5)
			for i := range errs {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = h.leads(ctx)
				}()
			}
			wg.Wait()
			for _, err := range errs {
				assert.NoError(t, err)
			}

			after, _, err := h.store.Get(ctx, domain.AccessTokenKey)
			require.NoError(t, err)
			assert.NotEqual(t, before, after)
			assert.Equal(t, authstate.StatusAuthenticated, h.manager.State().State().Status())
		})
	}
}

func TestSession_RefreshTokenExpiryLogsOut(t *testing.T) {
	h := newHarness(t, false)
	ctx := t.Context()

	_, err := h.manager.Signup(ctx, agent)
	require.NoError(t, err)

	h.clock.Advance(31 * 24 * time.Hour)

	_, err = h.leads(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrSessionExpired), "got %v", err)
	assert.Equal(t, authstate.StatusLoggedOut, h.manager.State().State().Status())

	_, ok, err := h.store.Get(ctx, domain.AccessTokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_BootstrapRevalidatesStoredSession(t *testing.T) {
	h := newHarness(t, false)
	ctx := t.Context()

	_, err := h.manager.Signup(ctx, agent)
	require.NoError(t, err)

	state := h.manager.Bootstrap(ctx)
	assert.False(t, state.IsLoading)
	require.True(t, state.Authenticated())
	assert.Equal(t, "ana@acme.io", state.User.Email)

	tokens, err := h.manager.ManualRefresh(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.True(t, tokens.ExpiresAt.After(h.clock.Now()))
}
