// Package apiclient is the JSON client for the EstateDesk REST API. It sits
// on top of the session transport, so every call carries the current access
// token and survives one token rotation.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/utafrali/EstateDesk/internal/authstate"
	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
	"github.com/utafrali/EstateDesk/pkg/httpclient"
	"github.com/utafrali/EstateDesk/pkg/httputil"
)

const maxResponseBody = 8 << 20

// BreakerName labels the API circuit breaker in logs and metrics.
const BreakerName = "estatedesk-api"

// Session is the part of the session manager the client needs.
type Session interface {
	Transport() http.RoundTripper
	State() authstate.Reader
}

// Client calls the API through a circuit breaker.
type Client struct {
	baseURL string
	doer    httpclient.Doer
	state   authstate.Reader
	logger  *slog.Logger
}

// New wraps doer, normally a CircuitBreakerClient over a Client whose
// transport is the session pipeline.
func New(baseURL string, doer httpclient.Doer, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		doer:    doer,
		logger:  logger,
	}
}

// NewSessionClient builds the usual stack: a retrying client over the
// session transport, guarded by a breaker.
func NewSessionClient(baseURL string, s Session, timeout time.Duration, logger *slog.Logger) *Client {
	cfg := httpclient.DefaultConfig()
	cfg.Transport = s.Transport()
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	breaker := httpclient.NewCircuitBreakerClient(httpclient.New(cfg), httpclient.DefaultCircuitBreakerConfig(BreakerName), logger)
	c := New(baseURL, breaker, logger)
	c.state = s.State()
	return c
}

// Get fetches path and decodes the (optionally enveloped) body into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post sends in as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

// Put sends in as JSON and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPut, path, in, out)
}

// Delete removes the resource at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, classify(err))
	}

	if resp.StatusCode >= 300 {
		appErr := httpclient.ParseResponseError(resp)
		// The transport already tried a refresh. Only when that refresh
		// ended the session is the 401 an expiry; a request rejected with a
		// fresh token is an authorization failure.
		if resp.StatusCode == http.StatusUnauthorized && (c.state == nil || !c.state.State().Authenticated()) {
			return apperrors.SessionExpired(appErr)
		}
		return fmt.Errorf("%s %s: %w", method, path, appErr)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return apperrors.Network(fmt.Errorf("read %s %s: %w", method, path, err))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(httputil.UnwrapData(raw), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// classify maps breaker outcomes onto the error taxonomy.
func classify(err error) error {
	var serverErr *httpclient.ServerError
	switch {
	case errors.As(err, &serverErr):
		return &apperrors.AppError{
			Code:    "SERVER_ERROR",
			Message: strings.TrimSpace(serverErr.Body),
			Status:  serverErr.StatusCode,
			Err:     fmt.Errorf("%w: %w", apperrors.ErrServiceUnavail, err),
		}
	case errors.Is(err, httpclient.ErrCircuitOpen), errors.Is(err, httpclient.ErrTooManyRequests):
		return &apperrors.AppError{
			Code:    "SERVICE_UNAVAILABLE",
			Message: "the API is temporarily unavailable, try again shortly",
			Status:  http.StatusServiceUnavailable,
			Err:     fmt.Errorf("%w: %w", apperrors.ErrServiceUnavail, err),
		}
	default:
		return err
	}
}
