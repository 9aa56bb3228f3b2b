// Package authserver is a reference implementation of the EstateDesk auth
// API: login, signup, refresh and logout, plus one protected resource. It
// backs local development and the session integration tests.
package authserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/EstateDesk/pkg/health"
	"github.com/utafrali/EstateDesk/pkg/httputil"
	"github.com/utafrali/EstateDesk/pkg/middleware"
)

// ServiceName labels metrics and spans.
const ServiceName = "authstub"

// Config tunes the server.
type Config struct {
	Issuer     string
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// CookieOnly omits the refresh token from response bodies, leaving
	// the http-only cookie as its only carrier.
	CookieOnly   bool
	CookieSecure bool

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string

	BcryptCost int
	Now        func() time.Time
}

// DefaultConfig returns development settings.
func DefaultConfig() Config {
	return Config{
		Issuer:         "estatedesk-auth",
		Secret:         "change-this-to-a-secure-secret",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     30 * 24 * time.Hour,
		RateLimitRPS:   5,
		RateLimitBurst: 10,
		CORSOrigins:    []string{"*"},
	}
}

// Server holds the accounts and token issuer behind the HTTP API.
type Server struct {
	cfg    Config
	users  *UserStore
	tokens *TokenIssuer
	health *health.Handler
	logger *slog.Logger
	now    func() time.Time
}

// New creates a server with an empty account store.
func New(cfg Config, logger *slog.Logger) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		cfg:    cfg,
		users:  NewUserStore(cfg.BcryptCost, cfg.Now),
		tokens: NewTokenIssuer(cfg.Secret, cfg.Issuer, cfg.AccessTTL, cfg.RefreshTTL, cfg.Now),
		health: health.NewHandler(),
		logger: logger,
		now:    cfg.Now,
	}
}

// Users exposes the account store, e.g. for seeding.
func (s *Server) Users() *UserStore {
	return s.users
}

// Health exposes the readiness registry.
func (s *Server) Health() *health.Handler {
	return s.health
}

// Handler builds the router. ctx bounds background work such as the rate
// limiter's visitor cleanup.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.RequestLogging(s.logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.PrometheusMetrics(ServiceName))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowCredentials: true,
	}))

	r.Get("/health/live", s.health.LivenessHandler())
	r.Get("/health/ready", s.health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		if s.cfg.RateLimitRPS > 0 {
			r.Use(middleware.RateLimit(ctx, s.cfg.RateLimitRPS, s.cfg.RateLimitBurst, s.logger))
		}
		r.Use(middleware.RequestLogger(s.logger))
		r.Use(contentTypeJSON)

		r.Post("/login", s.login)
		r.Post("/signup", s.signup)
		r.Post("/refresh", s.refresh)
		r.Post("/logout", s.logout)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(s.validate))
		r.Use(middleware.RequestLogger(s.logger))

		r.Get("/leads", s.listLeads)
	})

	return r
}

func (s *Server) validate(token string) (*middleware.Claims, error) {
	claims, err := s.tokens.ParseAccess(token)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{
		UserID:         claims.Subject,
		Email:          claims.Email,
		Role:           claims.Role,
		OrganizationID: claims.OrganizationID,
	}, nil
}

// contentTypeJSON rejects request bodies that are not JSON.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != 0 && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
				Error: &httputil.ErrorResponse{
					Code:    "UNSUPPORTED_MEDIA_TYPE",
					Message: "Content-Type must be application/json",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
