package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/EstateDesk/internal/authstate"
	"github.com/utafrali/EstateDesk/internal/credential"
	"github.com/utafrali/EstateDesk/internal/domain"
	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
	"github.com/utafrali/EstateDesk/pkg/logger"
)

const tracerName = "github.com/utafrali/EstateDesk/internal/session"

// errSessionReplaced is the cause reported when a refresh finished after the
// session it was renewing had been logged out or replaced by a new login.
var errSessionReplaced = errors.New("session changed while refresh was in flight")

type cookieClearer interface {
	Clear(ctx context.Context) error
}

// Coordinator performs refresh RPCs and owns every write to the credential
// store and publisher. Concurrent Refresh calls share one RPC.
type Coordinator struct {
	api       *authAPI
	store     credential.Store
	publisher *authstate.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	onExpired func()

	// cookies is the jar when it can forget server-managed cookies, so a
	// reset also drops a refresh cookie it persisted.
	cookies cookieClearer

	flight singleflight.Group

	// mu serializes commits. gen is bumped by every login and reset so a
	// refresh started for an older session cannot overwrite a newer one.
	mu  sync.Mutex
	gen uint64
}

func newCoordinator(api *authAPI, store credential.Store, publisher *authstate.Publisher, jar http.CookieJar, log *slog.Logger, onExpired func()) *Coordinator {
	c := &Coordinator{
		api:       api,
		store:     store,
		publisher: publisher,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
		onExpired: onExpired,
	}
	if cl, ok := jar.(cookieClearer); ok {
		c.cookies = cl
	}
	return c
}

// Refresh renews the access token. While one refresh is in flight, further
// callers wait for its result instead of issuing their own RPC.
//
// The RPC runs detached from ctx: a caller whose ctx ends stops waiting and
// gets ctx.Err(), but the refresh itself runs to completion.
//
// On failure the session has been logged out and the error wraps
// ErrSessionExpired.
func (c *Coordinator) Refresh(ctx context.Context) (domain.Tokens, error) {
	return c.do(ctx, "", false)
}

// RefreshIfStale refreshes on behalf of a request that was rejected while
// carrying staleToken. If the stored access token has already moved on, a
// sibling refresh won the race and its token is returned without an RPC.
func (c *Coordinator) RefreshIfStale(ctx context.Context, staleToken string) (domain.Tokens, error) {
	return c.do(ctx, staleToken, true)
}

// do runs one flight. The rotation check happens inside the flight so it
// cannot interleave with another flight's commit.
func (c *Coordinator) do(ctx context.Context, staleToken string, skipIfRotated bool) (domain.Tokens, error) {
	led := false
	ch := c.flight.DoChan("refresh", func() (any, error) {
		led = true
		detached := context.WithoutCancel(ctx)
		if skipIfRotated {
			if tokens, ok := c.rotated(detached, staleToken); ok {
				refreshSkipped.Inc()
				return tokens, nil
			}
		}
		return c.refresh(detached)
	})

	select {
	case res := <-ch:
		// led is written before the result is sent, so reading it here is safe.
		if !led {
			refreshCoalesced.Inc()
		}
		if res.Err != nil {
			return domain.Tokens{}, res.Err
		}
		return res.Val.(domain.Tokens), nil
	case <-ctx.Done():
		return domain.Tokens{}, ctx.Err()
	}
}

// rotated returns the stored session tokens when they no longer match
// staleToken.
func (c *Coordinator) rotated(ctx context.Context, staleToken string) (domain.Tokens, bool) {
	current, ok, err := c.store.Get(ctx, domain.AccessTokenKey)
	if err != nil {
		c.log(ctx).Warn("read access token before refresh", slog.String("error", err.Error()))
		return domain.Tokens{}, false
	}
	if !ok || current == staleToken {
		return domain.Tokens{}, false
	}
	if s := c.publisher.State(); s.Tokens != nil && s.Tokens.AccessToken == current {
		return *s.Tokens, true
	}
	return domain.NewTokens(current, "", c.api.now(), domain.DefaultAccessTTL), true
}

func (c *Coordinator) refresh(ctx context.Context) (tokens domain.Tokens, err error) {
	ctx, span := c.tracer.Start(ctx, "session.refresh")
	start := time.Now()
	defer func() {
		refreshDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			refreshTotal.WithLabelValues(resultFailure).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "refresh failed")
		} else {
			refreshTotal.WithLabelValues(resultSuccess).Inc()
		}
		span.End()
	}()

	gen := c.generation()
	log := c.log(ctx)

	refreshToken, _, storeErr := c.store.Get(ctx, domain.RefreshTokenKey)
	if storeErr != nil {
		log.Warn("read refresh token", slog.String("error", storeErr.Error()))
	}
	span.SetAttributes(attribute.Bool("session.refresh_token_in_body", refreshToken != ""))

	res, err := c.api.refresh(ctx, refreshToken)
	if err != nil {
		log.Info("refresh rejected, signing out", slog.String("error", err.Error()))
		c.expire(ctx, gen)
		return domain.Tokens{}, apperrors.SessionExpired(err)
	}
	if res.Tokens.RefreshToken == "" {
		res.Tokens.RefreshToken = refreshToken
	}

	committed, err := c.commit(ctx, gen, res, false)
	if err != nil {
		log.Error("persist refreshed tokens", slog.String("error", err.Error()))
		c.expire(ctx, gen)
		return domain.Tokens{}, apperrors.SessionExpired(err)
	}
	if !committed {
		log.Info("discarding refresh result for a replaced session")
		return domain.Tokens{}, apperrors.SessionExpired(errSessionReplaced)
	}

	log.Debug("session refreshed",
		slog.String("user_id", res.User.ID),
		slog.String("access_token", logger.Redact(res.Tokens.AccessToken)),
		slog.Time("expires_at", res.Tokens.ExpiresAt),
	)
	return res.Tokens, nil
}

// establish starts a new session from a login or signup response,
// invalidating any refresh still in flight for the previous one.
func (c *Coordinator) establish(ctx context.Context, res authResult) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if _, err := c.commit(ctx, gen, res, true); err != nil {
		c.reset(ctx)
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// commit persists tokens then publishes Authenticated, provided no login or
// reset happened since gen was read. fresh marks a new session, whose
// missing refresh token must not inherit the previous session's.
func (c *Coordinator) commit(ctx context.Context, gen uint64, res authResult, fresh bool) (bool, error) {
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false, nil
	}

	if err := c.store.Set(ctx, domain.AccessTokenKey, res.Tokens.AccessToken, domain.DefaultAccessTTL); err != nil {
		return false, err
	}
	switch {
	case res.Tokens.RefreshToken != "":
		if err := c.store.Set(ctx, domain.RefreshTokenKey, res.Tokens.RefreshToken, domain.DefaultRefreshTTL); err != nil {
			return false, err
		}
	case fresh:
		if err := c.store.Erase(ctx, domain.RefreshTokenKey); err != nil {
			return false, err
		}
	}

	c.publisher.SetAuthenticated(res.User, res.Tokens)
	return true, nil
}

// expire logs out after a failed refresh and fires the signed-out hook when
// an authenticated session was lost. A session replaced meanwhile is kept.
func (c *Coordinator) expire(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	wasAuthenticated := c.publisher.State().Authenticated()
	c.resetLocked(ctx)
	c.mu.Unlock()

	if wasAuthenticated && c.onExpired != nil {
		c.onExpired()
	}
}

// reset erases both credentials and publishes LoggedOut.
func (c *Coordinator) reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(ctx)
}

func (c *Coordinator) resetLocked(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	c.gen++

	for _, name := range [...]string{domain.AccessTokenKey, domain.RefreshTokenKey} {
		if err := c.store.Erase(ctx, name); err != nil {
			c.log(ctx).Error("erase credential", slog.String("name", name), slog.String("error", err.Error()))
		}
	}
	if c.cookies != nil {
		if err := c.cookies.Clear(ctx); err != nil {
			c.log(ctx).Error("clear cookies", slog.String("error", err.Error()))
		}
	}
	c.publisher.SetLoggedOut()
}

func (c *Coordinator) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Coordinator) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, c.logger)
}
