package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utafrali/EstateDesk/internal/config"
	"github.com/utafrali/EstateDesk/internal/credential"
	"github.com/utafrali/EstateDesk/pkg/database"
	"github.com/utafrali/EstateDesk/pkg/health"
)

// storeHandle is an opened credential store with its readiness check and
// release function.
type storeHandle struct {
	store credential.Store
	check health.Checker
	close func()
}

func openStore(ctx context.Context, cfg *config.Dashboard, logger *slog.Logger) (*storeHandle, error) {
	switch cfg.CredentialStore {
	case config.StoreMemory:
		return &storeHandle{store: credential.NewMemoryStore(nil), close: func() {}}, nil

	case config.StoreFile:
		path, err := credentialPath(cfg.CredentialFile, cfg.Namespace)
		if err != nil {
			return nil, err
		}
		logger.Info("using file credential store", slog.String("path", path))
		return &storeHandle{store: credential.NewFileStore(path, nil), close: func() {}}, nil

	case config.StoreRedis:
		client, err := database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr), slog.Int("db", cfg.RedisDB))
		return &storeHandle{
			store: credential.NewRedisStore(client, cfg.Namespace),
			check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
			close: func() { _ = client.Close() },
		}, nil

	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store := credential.NewPostgresStore(pool, cfg.Namespace, nil)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		collector := database.NewPoolStatsCollector(pool, "credential")
		if err := prometheus.Register(collector); err != nil {
			logger.Warn("register pool metrics", slog.String("error", err.Error()))
		}
		logger.Info("connected to PostgreSQL")
		return &storeHandle{
			store: store,
			check: pool.Ping,
			close: func() {
				prometheus.Unregister(collector)
				pool.Close()
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown credential store %q", cfg.CredentialStore)
	}
}

// credentialPath resolves a relative credential file under the user's home
// directory, one file per namespace.
func credentialPath(file, namespace string) (string, error) {
	if namespace != "" && namespace != "default" {
		ext := filepath.Ext(file)
		file = file[:len(file)-len(ext)] + "." + namespace + ext
	}
	if filepath.IsAbs(file) {
		return file, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve credential file: %w", err)
	}
	return filepath.Join(home, file), nil
}
