package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/utafrali/EstateDesk/internal/domain"
	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
	"github.com/utafrali/EstateDesk/pkg/httpclient"
	"github.com/utafrali/EstateDesk/pkg/httputil"
	"github.com/utafrali/EstateDesk/pkg/validator"
)

// Auth endpoint paths, relative to the API base URL.
const (
	LoginPath   = "/auth/login"
	SignupPath  = "/auth/signup"
	RefreshPath = "/auth/refresh"
	LogoutPath  = "/auth/logout"
)

// maxAuthBody bounds a successful auth response.
const maxAuthBody = 1 << 20

// isAuthEndpoint reports whether path is one of the session RPCs, which the
// transport must never answer with a refresh.
func isAuthEndpoint(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, p := range [...]string{LoginPath, SignupPath, RefreshPath, LogoutPath} {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

type authResponse struct {
	User         json.RawMessage `json:"user" validate:"required"`
	AccessToken  string          `json:"accessToken" validate:"required"`
	RefreshToken string          `json:"refreshToken"`
}

type authResult struct {
	User   domain.User
	Tokens domain.Tokens
}

// authAPI speaks the backend's /auth surface. It never retries.
type authAPI struct {
	baseURL string
	doer    httpclient.Doer
	now     func() time.Time
}

func newAuthAPI(baseURL string, doer httpclient.Doer, now func() time.Time) *authAPI {
	return &authAPI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		doer:    doer,
		now:     now,
	}
}

func (a *authAPI) login(ctx context.Context, email, password string) (authResult, error) {
	body := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: strings.TrimSpace(email), Password: password}

	resp, err := a.post(ctx, LoginPath, body)
	if err != nil {
		return authResult{}, err
	}
	if resp.StatusCode >= 300 {
		return authResult{}, rejection(resp)
	}
	return a.decode(resp)
}

func (a *authAPI) signup(ctx context.Context, payload domain.SignupPayload) (authResult, error) {
	resp, err := a.post(ctx, SignupPath, payload)
	if err != nil {
		return authResult{}, err
	}
	if resp.StatusCode >= 300 {
		return authResult{}, rejection(resp)
	}
	return a.decode(resp)
}

// refresh sends {"refreshToken": ...} when the client holds one and {}
// otherwise, leaving the cookie jar to supply an http-only cookie.
func (a *authAPI) refresh(ctx context.Context, refreshToken string) (authResult, error) {
	body := struct {
		RefreshToken string `json:"refreshToken,omitempty"`
	}{RefreshToken: refreshToken}

	resp, err := a.post(ctx, RefreshPath, body)
	if err != nil {
		return authResult{}, err
	}
	if resp.StatusCode >= 300 {
		return authResult{}, httpclient.ParseResponseError(resp)
	}
	return a.decode(resp)
}

func (a *authAPI) logout(ctx context.Context) error {
	resp, err := a.post(ctx, LogoutPath, struct{}{})
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxAuthBody))
	return resp.Body.Close()
}

func (a *authAPI) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return a.doer.Do(ctx, req)
}

// decode reads a 2xx auth response: {user, accessToken, refreshToken?},
// optionally wrapped in a {"data": ...} envelope.
func (a *authAPI) decode(resp *http.Response) (authResult, error) {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthBody))
	if err != nil {
		return authResult{}, apperrors.Network(fmt.Errorf("read auth response: %w", err))
	}
	raw = httputil.UnwrapData(raw)

	var body authResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return authResult{}, apperrors.Network(fmt.Errorf("decode auth response: %w", err))
	}
	if err := validator.Validate(body); err != nil {
		return authResult{}, apperrors.Network(fmt.Errorf("auth response: %w", err))
	}

	user, err := domain.NormalizeUser(body.User)
	if err != nil {
		return authResult{}, apperrors.Network(fmt.Errorf("auth response user: %w", err))
	}

	return authResult{
		User:   user,
		Tokens: domain.NewTokens(body.AccessToken, body.RefreshToken, a.now(), domain.DefaultAccessTTL),
	}, nil
}

// rejection maps a non-2xx login/signup response. 4xx other than 429 is a
// credential rejection carrying the backend's message; everything else is
// reported as a network-class failure the user can retry.
func rejection(resp *http.Response) error {
	appErr := httpclient.ParseResponseError(resp)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return appErr
	case httpclient.IsClientError(resp.StatusCode):
		return apperrors.InvalidCredentials(resp.StatusCode, appErr.Message)
	default:
		return apperrors.Network(appErr)
	}
}
