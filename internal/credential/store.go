// Package credential persists the session's bearer credentials with
// per-entry expiry. Every backend is safe for concurrent use.
package credential

import (
	"context"
	"time"
)

// Store is durable, name-keyed storage for session credentials.
type Store interface {
	// Set writes value under name, replacing any previous entry. The entry
	// expires after ttl; a non-positive ttl never expires.
	Set(ctx context.Context, name, value string, ttl time.Duration) error

	// Get returns the value stored under name. ok is false when the entry
	// is absent or expired.
	Get(ctx context.Context, name string) (value string, ok bool, err error)

	// Erase removes name. Erasing a missing entry is not an error.
	Erase(ctx context.Context, name string) error
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
