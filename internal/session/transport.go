package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/utafrali/EstateDesk/internal/credential"
	"github.com/utafrali/EstateDesk/internal/domain"
	"github.com/utafrali/EstateDesk/pkg/logger"
)

// CorrelationHeader carries the request correlation id.
const CorrelationHeader = "X-Correlation-ID"

// maxRejectedBody bounds how much of a 401 body is kept for the caller
// while a refresh runs.
const maxRejectedBody = 1 << 20

type refresher interface {
	RefreshIfStale(ctx context.Context, staleToken string) (domain.Tokens, error)
}

// Transport is the http.RoundTripper every backend client goes through. It
// attaches the stored access token and, when a non-auth request comes back
// 401, refreshes the session and re-sends the request exactly once.
type Transport struct {
	base      http.RoundTripper
	store     credential.Store
	refresher refresher
	logger    *slog.Logger
}

var _ http.RoundTripper = (*Transport)(nil)

func newTransport(base http.RoundTripper, store credential.Store, log *slog.Logger) *Transport {
	return &Transport{base: base, store: store, logger: log}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	body, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	correlationID := req.Header.Get(CorrelationHeader)
	if correlationID == "" {
		correlationID = logger.CorrelationIDFromContext(ctx)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	token := t.accessToken(ctx)
	first, err := t.prepare(req, correlationID, token, body)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || t.refresher == nil || isAuthEndpoint(req.URL.Path) {
		return resp, err
	}

	log := logger.WithContext(logger.WithCorrelationID(ctx, correlationID), t.logger)
	rejected := keepBody(resp)

	tokens, err := t.refresher.RefreshIfStale(ctx, token)
	if err != nil {
		requestRetries.WithLabelValues(retryNoRefresh).Inc()
		log.Info("request unauthorized and refresh failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return rejected, nil
	}
	_ = rejected.Body.Close()

	second, err := t.prepare(req, correlationID, tokens.AccessToken, body)
	if err != nil {
		return nil, err
	}
	resp, err = t.base.RoundTrip(second)
	switch {
	case err != nil:
		requestRetries.WithLabelValues(retryError).Inc()
	case resp.StatusCode == http.StatusUnauthorized:
		requestRetries.WithLabelValues(retryUnauthorized).Inc()
		log.Warn("request still unauthorized after refresh",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
		)
	default:
		requestRetries.WithLabelValues(retryOK).Inc()
	}
	return resp, err
}

func (t *Transport) accessToken(ctx context.Context) string {
	token, ok, err := t.store.Get(ctx, domain.AccessTokenKey)
	if err != nil {
		logger.WithContext(ctx, t.logger).Warn("read access token", slog.String("error", err.Error()))
		return ""
	}
	if !ok {
		return ""
	}
	return token
}

// prepare clones req for one attempt. The caller's request is never
// modified.
func (t *Transport) prepare(req *http.Request, correlationID, token string, body func() (io.ReadCloser, error)) (*http.Request, error) {
	out := req.Clone(req.Context())
	if body != nil {
		rc, err := body()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = rc
	}

	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	out.Header.Set(CorrelationHeader, correlationID)
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(out.Header))
	return out, nil
}

// replayableBody returns a factory yielding a fresh copy of the request
// body for each attempt, or nil for bodiless requests. Bodies without
// GetBody are read into memory once.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

// keepBody buffers a response body so it can still be returned after the
// connection has been released.
func keepBody(resp *http.Response) *http.Response {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRejectedBody))
	_ = resp.Body.Close()
	if err != nil {
		data = nil
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	return resp
}
