package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/EstateDesk/internal/authserver"
	"github.com/utafrali/EstateDesk/internal/config"
	"github.com/utafrali/EstateDesk/pkg/tracing"
)

// Authstub runs the reference auth backend.
type Authstub struct {
	logger         *slog.Logger
	server         *authserver.Server
	httpServer     *http.Server
	tracerShutdown tracing.Shutdown
}

// NewAuthstub builds the server. ctx bounds background work such as rate
// limiter cleanup and should live as long as the process.
func NewAuthstub(ctx context.Context, cfg *config.Authstub, logger *slog.Logger) (*Authstub, error) {
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(initCtx, cfg.Tracing(authserver.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	srv := authserver.New(authserver.Config{
		Issuer:         cfg.JWTIssuer,
		Secret:         cfg.JWTSecret,
		AccessTTL:      cfg.JWTAccessExpiry,
		RefreshTTL:     cfg.JWTRefreshExpiry,
		CookieOnly:     cfg.CookieOnly,
		CookieSecure:   cfg.CookieSecure,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		CORSOrigins:    cfg.CORSAllowedOrigins,
	}, logger)

	return &Authstub{
		logger: logger,
		server: srv,
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           srv.Handler(ctx),
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
		tracerShutdown: tracerShutdown,
	}, nil
}

// Server exposes the auth server, e.g. for seeding accounts.
func (a *Authstub) Server() *authserver.Server {
	return a.server
}

// Run serves until ctx is canceled, then shuts down.
func (a *Authstub) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}
	return a.Shutdown()
}

// Shutdown drains in-flight requests, then flushes spans.
func (a *Authstub) Shutdown() error {
	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer tracerCancel()
	if err := a.tracerShutdown(tracerCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("authstub stopped")
	return errors.Join(errs...)
}
