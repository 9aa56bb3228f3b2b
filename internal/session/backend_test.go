package session

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utafrali/EstateDesk/internal/credential"
	"github.com/utafrali/EstateDesk/pkg/logger"
)

const backendUser = `{"_id":"65f0c0ffee","email":"agent@estatedesk.io","firstName":"Ana","lastName":"Silva","role":"agent","organization":{"_id":"org-1","name":"Acme Realty"}}`

// backendKnobs script the fake backend's behaviour.
type backendKnobs struct {
	loginStatus        int
	loginMessage       string
	refreshStatus      int
	refreshGate        chan struct{}
	logoutStatus       int
	alwaysUnauthorized bool
	cookieRefresh      bool
	onLeadsRejected    func()
}

// fakeBackend is a scripted /auth + /api/v1/leads server. Access tokens are
// "access-<n>"; only the most recently issued one is accepted.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	knobs    backendKnobs
	issued   int
	valid    string
	requests map[string][]recorded

	refreshCalls atomic.Int32
	leadsCalls   atomic.Int32
	logoutCalls  atomic.Int32
}

type recorded struct {
	Body          string
	Authorization string
	Correlation   string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{t: t, requests: make(map[string][]recorded)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", b.login)
	mux.HandleFunc("POST /auth/signup", b.signup)
	mux.HandleFunc("POST /auth/refresh", b.refresh)
	mux.HandleFunc("POST /auth/logout", b.logout)
	mux.HandleFunc("/api/v1/leads", b.leads)

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) URL() string { return b.srv.URL }

func (b *fakeBackend) configure(fn func(k *backendKnobs)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.knobs)
}

// record stores the request and returns the settings in effect for it.
func (b *fakeBackend) record(name string, r *http.Request) backendKnobs {
	data, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests[name] = append(b.requests[name], recorded{
		Body:          string(data),
		Authorization: r.Header.Get("Authorization"),
		Correlation:   r.Header.Get("X-Correlation-ID"),
	})
	return b.knobs
}

func (b *fakeBackend) recorded(name string) []recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recorded(nil), b.requests[name]...)
}

// issue mints the next access token and makes it the only valid one.
func (b *fakeBackend) issue() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issued++
	b.valid = fmt.Sprintf("access-%d", b.issued)
	return b.valid
}

func (b *fakeBackend) validToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.valid
}

func (b *fakeBackend) writeSession(w http.ResponseWriter, k backendKnobs, status int) {
	access := b.issue()
	refresh := "refresh-" + strings.TrimPrefix(access, "access-")

	body := map[string]any{
		"user":        json.RawMessage(backendUser),
		"accessToken": access,
	}
	if k.cookieRefresh {
		http.SetCookie(w, &http.Cookie{Name: "refreshToken", Value: refresh, Path: "/auth", HttpOnly: true})
	} else {
		body["refreshToken"] = refresh
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeBackendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (b *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	k := b.record("login", r)
	if k.loginStatus != 0 {
		writeBackendError(w, k.loginStatus, "INVALID_CREDENTIALS", k.loginMessage)
		return
	}
	b.writeSession(w, k, http.StatusOK)
}

func (b *fakeBackend) signup(w http.ResponseWriter, r *http.Request) {
	k := b.record("signup", r)
	b.writeSession(w, k, http.StatusCreated)
}

func (b *fakeBackend) refresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)
	k := b.record("refresh", r)

	if k.refreshGate != nil {
		select {
		case <-k.refreshGate:
		case <-time.After(5 * time.Second):
			b.t.Error("refresh gate never opened")
		}
	}
	if k.refreshStatus != 0 {
		writeBackendError(w, k.refreshStatus, "INVALID_REFRESH_TOKEN", "refresh token expired")
		return
	}
	if k.cookieRefresh {
		if c, err := r.Cookie("refreshToken"); err != nil || c.Value == "" {
			writeBackendError(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "missing refresh cookie")
			return
		}
	}
	b.writeSession(w, k, http.StatusOK)
}

func (b *fakeBackend) logout(w http.ResponseWriter, r *http.Request) {
	b.logoutCalls.Add(1)
	k := b.record("logout", r)
	if k.logoutStatus != 0 {
		writeBackendError(w, k.logoutStatus, "INTERNAL_ERROR", "logout exploded")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// leads accepts only the most recently issued access token.
func (b *fakeBackend) leads(w http.ResponseWriter, r *http.Request) {
	b.leadsCalls.Add(1)
	k := b.record("leads", r)

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if k.alwaysUnauthorized || token == "" || token != b.validToken() {
		writeBackendError(w, http.StatusUnauthorized, "UNAUTHORIZED", "token expired")
		if k.onLeadsRejected != nil {
			k.onLeadsRejected()
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"data":[{"id":"lead-1"}],"token":%q}`, token)
}

// newRawServer answers every request with status and body.
func newRawServer(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// newTestManager builds a Manager against b with an in-memory store.
func newTestManager(t *testing.T, b *fakeBackend, mutate ...func(*Config)) (*Manager, *credential.MemoryStore) {
	t.Helper()
	store := credential.NewMemoryStore(nil)
	cfg := Config{BaseURL: b.URL(), Timeout: 5 * time.Second}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := New(cfg, store, logger.Discard())
	require.NoError(t, err)
	return m, store
}

func storedToken(t *testing.T, s credential.Store, name string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(t.Context(), name)
	require.NoError(t, err)
	return v, ok
}

func getLeads(t *testing.T, m *Manager, url string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url+"/api/v1/leads", http.NoBody)
	require.NoError(t, err)
	resp, err := m.HTTPClient().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}
