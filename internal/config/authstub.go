package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/EstateDesk/pkg/config"
	"github.com/utafrali/EstateDesk/pkg/tracing"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Authstub configures the reference auth backend.
type Authstub struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort    int    `env:"AUTH_HTTP_PORT" envDefault:"8080"`

	// JWT
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"estatedesk-auth"`
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"720h"`

	// Refresh cookie
	CookieOnly   bool `env:"REFRESH_COOKIE_ONLY" envDefault:"false"`
	CookieSecure bool `env:"REFRESH_COOKIE_SECURE" envDefault:"false"`

	// Rate limiting on /auth
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing
	TracingEnabled  bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TraceSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// LoadAuthstub reads the auth backend configuration from the environment.
func LoadAuthstub() (*Authstub, error) {
	if err := pkgconfig.LoadDotenv(); err != nil {
		return nil, err
	}
	cfg := &Authstub{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load authstub config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Authstub) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.JWTAccessExpiry <= 0 || c.JWTRefreshExpiry <= c.JWTAccessExpiry {
		return fmt.Errorf("JWT expiries must satisfy 0 < access (%s) < refresh (%s)", c.JWTAccessExpiry, c.JWTRefreshExpiry)
	}

	// Outside development, require an explicitly set, strong JWT secret.
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
		if !c.CookieSecure {
			return fmt.Errorf("REFRESH_COOKIE_SECURE must be enabled in %q mode", c.Environment)
		}
	}
	return nil
}

// Addr is the listen address.
func (c *Authstub) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// Tracing returns the tracer settings for serviceName.
func (c *Authstub) Tracing(serviceName string) tracing.Config {
	tc := tracing.DefaultConfig(serviceName)
	tc.Environment = c.Environment
	tc.Enabled = c.TracingEnabled
	tc.Endpoint = c.OTLPEndpoint
	tc.SampleRate = c.TraceSampleRate
	return tc
}
