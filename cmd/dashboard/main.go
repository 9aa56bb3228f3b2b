// Command dashboard is a terminal client for the EstateDesk API. It keeps
// the signed-in session in the configured credential store between runs.
//
//	dashboard login -email ana@acme.io
//	dashboard get /leads
//	dashboard logout
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/EstateDesk/internal/app"
	"github.com/utafrali/EstateDesk/internal/config"
	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
	"github.com/utafrali/EstateDesk/pkg/logger"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			fmt.Fprintln(os.Stderr, appErr.Message)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(stderr)
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	cfg, err := config.LoadDashboard()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewWithWriter(app.DashboardService, cfg.LogLevel, stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := app.NewDashboard(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize dashboard: %w", err)
	}
	defer func() {
		if err := d.Shutdown(); err != nil {
			log.Warn("shutdown", slog.String("error", err.Error()))
		}
	}()

	return d.Run(ctx, func(ctx context.Context) error {
		return cmd.run(ctx, &env{dashboard: d, out: stdout, errOut: stderr}, args[1:])
	})
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, apperrors.ErrInvalidCredentials), errors.Is(err, apperrors.ErrSessionExpired), errors.Is(err, errSignedOut):
		return 3
	case errors.Is(err, apperrors.ErrNetwork), errors.Is(err, apperrors.ErrServiceUnavail):
		return 4
	default:
		return 1
	}
}
