// Package session manages the signed-in session: login, signup, logout,
// startup bootstrap and transparent token refresh for every backend call.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/utafrali/EstateDesk/internal/authstate"
	"github.com/utafrali/EstateDesk/internal/credential"
	"github.com/utafrali/EstateDesk/internal/domain"
	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
	"github.com/utafrali/EstateDesk/pkg/httpclient"
	"github.com/utafrali/EstateDesk/pkg/logger"
)

// Config configures a Manager.
type Config struct {
	// BaseURL is the backend API root, e.g. https://api.estatedesk.io/api/v1.
	BaseURL string

	// Timeout bounds each HTTP exchange, including auth RPCs.
	Timeout time.Duration

	// BaseTransport sends the prepared requests. Defaults to a pooled
	// httpclient transport.
	BaseTransport http.RoundTripper

	// Jar holds server-managed cookies such as an http-only refresh token.
	// Defaults to an in-memory jar; use credential.NewJar to keep them
	// across restarts. A jar with a Clear(ctx) error method is emptied
	// whenever the session is reset.
	Jar http.CookieJar

	// Publisher receives state changes. A new one is created when nil.
	Publisher *authstate.Publisher

	// OnSignedOut runs when a refresh failure ends an authenticated session,
	// typically to send the user back to the sign-in screen. It must not
	// call back into the Manager synchronously.
	OnSignedOut func()

	// Now is the clock used for token expiry. Defaults to time.Now.
	Now func() time.Time
}

// Manager is the only entry point for session operations. Build one per
// process and share it; its refresh coordination only covers requests made
// through it.
type Manager struct {
	api         *authAPI
	coordinator *Coordinator
	transport   *Transport
	store       credential.Store
	publisher   *authstate.Publisher
	client      *http.Client
	logger      *slog.Logger
}

// New wires a Manager around store.
func New(cfg Config, store credential.Store, log *slog.Logger) (*Manager, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("session: base URL is required")
	}
	if store == nil {
		return nil, errors.New("session: credential store is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = httpclient.DefaultConfig().Timeout
	}
	if cfg.BaseTransport == nil {
		cfg.BaseTransport = httpclient.NewTransport(httpclient.DefaultConfig().MaxConnsPerHost)
	}
	if cfg.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		cfg.Jar = jar
	}
	if cfg.Publisher == nil {
		cfg.Publisher = authstate.NewPublisher()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	transport := newTransport(cfg.BaseTransport, store, log)

	authClient := httpclient.New(httpclient.Config{
		Timeout:    cfg.Timeout,
		MaxRetries: 0,
		Transport:  transport,
		Jar:        cfg.Jar,
	})
	api := newAuthAPI(cfg.BaseURL, authClient, cfg.Now)

	coordinator := newCoordinator(api, store, cfg.Publisher, cfg.Jar, log, cfg.OnSignedOut)
	transport.refresher = coordinator

	return &Manager{
		api:         api,
		coordinator: coordinator,
		transport:   transport,
		store:       store,
		publisher:   cfg.Publisher,
		client: &http.Client{
			Transport: transport,
			Jar:       cfg.Jar,
			Timeout:   cfg.Timeout,
		},
		logger: log,
	}, nil
}

// Login signs in with email and password. A rejection returns an error
// matching ErrInvalidCredentials with the backend's message; a transport
// failure returns ErrNetwork and leaves the state untouched.
func (m *Manager) Login(ctx context.Context, email, password string) (domain.User, error) {
	res, err := m.api.login(ctx, email, password)
	if err != nil {
		m.log(ctx).Info("login failed", slog.String("error", err.Error()))
		return domain.User{}, err
	}
	return m.start(ctx, res)
}

// Signup creates an account and signs in with it. Company is forwarded only
// for organization accounts.
func (m *Manager) Signup(ctx context.Context, in domain.SignupInput) (domain.User, error) {
	res, err := m.api.signup(ctx, domain.NormalizeSignup(in))
	if err != nil {
		m.log(ctx).Info("signup failed", slog.String("error", err.Error()))
		return domain.User{}, err
	}
	return m.start(ctx, res)
}

func (m *Manager) start(ctx context.Context, res authResult) (domain.User, error) {
	if err := m.coordinator.establish(ctx, res); err != nil {
		return domain.User{}, apperrors.Internal(err)
	}
	m.log(ctx).Info("signed in",
		slog.String("user_id", res.User.ID),
		slog.String("access_token", logger.Redact(res.Tokens.AccessToken)),
	)
	return res.User, nil
}

// Logout ends the session. The logout RPC is best effort: whatever it
// returns, both credentials are erased and LoggedOut is published.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.api.logout(ctx); err != nil {
		m.log(ctx).Warn("logout rpc failed, clearing local session anyway", slog.String("error", err.Error()))
	}
	m.coordinator.reset(ctx)
	m.log(ctx).Info("signed out")
}

// Bootstrap reconciles stored credentials with the backend at startup. A
// stored access token is validated with a refresh; anything short of a
// successful refresh ends in LoggedOut. The returned state is never loading.
func (m *Manager) Bootstrap(ctx context.Context) authstate.State {
	m.publisher.SetLoading(true)

	_, ok, err := m.store.Get(ctx, domain.AccessTokenKey)
	if err != nil {
		m.log(ctx).Warn("read stored session", slog.String("error", err.Error()))
	}
	if err != nil || !ok {
		m.coordinator.reset(ctx)
		return m.publisher.State()
	}

	if _, err := m.coordinator.Refresh(ctx); err != nil {
		m.log(ctx).Info("stored session is no longer valid", slog.String("error", err.Error()))
		if !errors.Is(err, apperrors.ErrSessionExpired) {
			m.coordinator.reset(ctx)
		}
	}
	return m.publisher.State()
}

// ManualRefresh renews the session explicitly, e.g. before a sensitive
// action. It coalesces with any refresh already in flight and fails with
// ErrSessionExpired after logging out.
func (m *Manager) ManualRefresh(ctx context.Context) (domain.Tokens, error) {
	return m.coordinator.Refresh(ctx)
}

// State returns the read-only auth state.
func (m *Manager) State() authstate.Reader {
	return m.publisher
}

// HTTPClient returns a client whose requests carry the session token and
// recover from expired tokens transparently.
func (m *Manager) HTTPClient() *http.Client {
	return m.client
}

// Transport returns the session round tripper for callers that build their
// own http.Client.
func (m *Manager) Transport() http.RoundTripper {
	return m.transport
}

func (m *Manager) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, m.logger)
}
