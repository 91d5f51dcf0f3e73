package voice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/voicereg-dev/voicereg/pkg/session"
)

// ErrSessionNotFound is returned when no session exists for an ID.
var ErrSessionNotFound = session.ErrSessionNotFound

// ErrSessionExpired is returned when a session's inactivity window has
// passed. Distinct from not-found so callers can offer a restart.
var ErrSessionExpired = errors.New("voice session expired")

// NotCompleteError is returned by Finalize when required fields are still
// missing.
type NotCompleteError struct {
	// Missing lists the unsatisfied required field names in collection order.
	Missing []string
}

func (e *NotCompleteError) Error() string {
	return fmt.Sprintf("session not complete, missing: %s", strings.Join(e.Missing, ", "))
}

// PersistenceError wraps a gateway failure during Finalize. The session is
// kept so the operation can be retried.
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist session %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
