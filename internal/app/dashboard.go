// Package app wires the EstateDesk binaries together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/EstateDesk/internal/apiclient"
	"github.com/utafrali/EstateDesk/internal/audit"
	"github.com/utafrali/EstateDesk/internal/authstate"
	"github.com/utafrali/EstateDesk/internal/config"
	"github.com/utafrali/EstateDesk/internal/credential"
	"github.com/utafrali/EstateDesk/internal/session"
	"github.com/utafrali/EstateDesk/pkg/health"
	pkgkafka "github.com/utafrali/EstateDesk/pkg/kafka"
	"github.com/utafrali/EstateDesk/pkg/tracing"
)

// DashboardService names the client in logs, spans and audit events.
const DashboardService = "estatedesk-dashboard"

// Option overrides a dependency NewDashboard would otherwise build from
// configuration.
type Option func(*options)

type options struct {
	store     credential.Store
	publisher audit.Publisher
}

// WithCredentialStore uses store instead of opening CREDENTIAL_STORE.
func WithCredentialStore(store credential.Store) Option {
	return func(o *options) { o.store = store }
}

// WithAuditPublisher sends session events to pub instead of Kafka.
func WithAuditPublisher(pub audit.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

// Dashboard is the wired session client.
type Dashboard struct {
	cfg     *config.Dashboard
	logger  *slog.Logger
	session *session.Manager
	api     *apiclient.Client
	health  *health.Handler

	recorder    *audit.Recorder
	detachAudit func()
	producer    *pkgkafka.Producer

	metricsServer  *http.Server
	closeStore     func()
	tracerShutdown tracing.Shutdown
}

// NewDashboard opens the credential store and builds the session stack.
func NewDashboard(ctx context.Context, cfg *config.Dashboard, logger *slog.Logger, opts ...Option) (*Dashboard, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(initCtx, cfg.Tracing(DashboardService))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	d := &Dashboard{
		cfg:            cfg,
		logger:         logger,
		health:         health.NewHandler(),
		closeStore:     func() {},
		tracerShutdown: tracerShutdown,
	}

	store := o.store
	if store == nil {
		h, err := openStore(initCtx, cfg, logger)
		if err != nil {
			_ = tracerShutdown(context.Background())
			return nil, err
		}
		store, d.closeStore = h.store, h.close
		if h.check != nil {
			d.health.RegisterCritical("credential_store", h.check)
		}
	}

	jar, err := credential.NewJar(initCtx, store, nil, logger)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("open cookie jar: %w", err)
	}

	publisher := authstate.NewPublisher()
	d.session, err = session.New(session.Config{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.Timeout,
		Jar:       jar,
		Publisher: publisher,
		OnSignedOut: func() {
			logger.Warn("session expired, sign in again")
		},
	}, store, logger)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("create session manager: %w", err)
	}
	d.api = apiclient.NewSessionClient(cfg.APIURL(), d.session, cfg.Timeout, logger)

	pub := o.publisher
	if pub == nil && len(cfg.KafkaBrokers) > 0 {
		d.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		d.health.RegisterNonCritical("kafka", d.producer.Ping)
		pub = d.producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	if pub != nil {
		d.recorder = audit.NewRecorder(pub, audit.Config{Topic: cfg.AuditTopic, Source: DashboardService}, logger)
		d.detachAudit = d.recorder.Attach(publisher)
	}

	if cfg.MetricsAddr != "" {
		d.metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           d.metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return d, nil
}

// Session returns the session manager.
func (d *Dashboard) Session() *session.Manager {
	return d.session
}

// API returns the session-aware API client.
func (d *Dashboard) API() *apiclient.Client {
	return d.api
}

// Run executes task alongside the background workers (audit delivery,
// metrics endpoint). Workers stop when task returns; a worker failure
// cancels the context task runs with.
func (d *Dashboard) Run(ctx context.Context, task func(context.Context) error) error {
	workCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(workCtx)

	if d.recorder != nil {
		g.Go(func() error { return d.recorder.Run(gctx) })
	}
	if d.metricsServer != nil {
		g.Go(func() error {
			d.logger.Info("starting metrics server", slog.String("addr", d.metricsServer.Addr))
			if err := d.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return d.metricsServer.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		defer stop()
		return task(gctx)
	})

	return g.Wait()
}

// Shutdown releases every resource in reverse order of acquisition.
func (d *Dashboard) Shutdown() error {
	d.logger.Debug("shutting down dashboard")

	var errs []error
	if d.detachAudit != nil {
		d.detachAudit()
	}
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
		}
	}
	d.closeStore()

	tracerCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.tracerShutdown(tracerCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func (d *Dashboard) release() {
	d.closeStore()
	_ = d.tracerShutdown(context.Background())
}

func (d *Dashboard) metricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health/live", d.health.LivenessHandler())
	r.Get("/health/ready", d.health.ReadinessHandler())
	return r
}
