package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/EstateDesk/pkg/database"
)

// DBTX is the subset of pgxpool.Pool used by PostgresStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	schemaSQL = `
		CREATE TABLE IF NOT EXISTS session_credentials (
			namespace  TEXT NOT NULL,
			name       TEXT NOT NULL,
			value      TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, name)
		)`

	upsertSQL = `
		INSERT INTO session_credentials (namespace, name, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, name)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`

	selectSQL = `
		SELECT value FROM session_credentials
		WHERE namespace = $1 AND name = $2 AND (expires_at IS NULL OR expires_at > $3)`

	deleteSQL = `DELETE FROM session_credentials WHERE namespace = $1 AND name = $2`
)

// PostgresStore keeps entries in the session_credentials table. Expired
// rows are filtered on read and overwritten on the next write.
type PostgresStore struct {
	db        DBTX
	namespace string
	now       Clock
}

// NewPostgresStore creates a store scoped to namespace. A nil clock uses
// time.Now.
func NewPostgresStore(db DBTX, namespace string, now Clock) *PostgresStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresStore{db: db, namespace: namespace, now: now}
}

// EnsureSchema creates the credentials table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) (err error) {
	ctx, end := database.TraceQuery(ctx, "credential.schema", schemaSQL)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create session_credentials: %w", err)
	}
	return nil
}

func (s *PostgresStore) Set(ctx context.Context, name, value string, ttl time.Duration) (err error) {
	ctx, end := database.TraceQuery(ctx, "credential.set", upsertSQL)
	defer func() { end(err) }()

	now := s.now().UTC()
	var expiresAt *time.Time
	if exp := expiryFor(now, ttl); !exp.IsZero() {
		expiresAt = &exp
	}

	if _, err = s.db.Exec(ctx, upsertSQL, s.namespace, name, value, expiresAt, now); err != nil {
		return fmt.Errorf("upsert credential %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (_ string, _ bool, err error) {
	ctx, end := database.TraceQuery(ctx, "credential.get", selectSQL)
	defer func() { end(err) }()

	var value string
	err = s.db.QueryRow(ctx, selectSQL, s.namespace, name, s.now().UTC()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select credential %s: %w", name, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Erase(ctx context.Context, name string) (err error) {
	ctx, end := database.TraceQuery(ctx, "credential.erase", deleteSQL)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, deleteSQL, s.namespace, name); err != nil {
		return fmt.Errorf("delete credential %s: %w", name, err)
	}
	return nil
}
