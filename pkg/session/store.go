package session

import (
	"context"
	"errors"
	"time"
)

// Common errors for storage operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("session store is closed")
)

// Store abstracts keyed session persistence. Implementations must be safe
// for concurrent use and must provide per-key writer exclusion via Lock so
// concurrent turns against the same session cannot lose updates.
//
// An in-memory implementation is only correct when all session traffic is
// pinned to a single process; replicated deployments must use a shared
// backend such as Redis.
type Store interface {
	// Put creates or replaces a session.
	Put(ctx context.Context, s *Session) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// ListExpired returns the IDs of sessions whose expiry has passed at now.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)

	// Lock acquires the per-session writer lock, blocking until it is held
	// or ctx is done. The returned function releases the lock.
	Lock(ctx context.Context, sessionID string) (release func(), err error)

	// Close releases any resources held by the store.
	Close() error
}
