// Package session holds the voice-session aggregate and its storage
// contract. A session is owned by the store for its whole lifetime; the
// engine fetches, mutates and puts it back per request and keeps no
// long-lived reference.
package session

import (
	"time"
)

// Status is the session lifecycle state. Transitions are monotonic:
// active -> completed | expired | cancelled, and no transition leaves a
// terminal state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// FieldObservation is the current best-known value for one profile field.
// Later extractions overwrite earlier ones wholesale (last-write-wins per
// field, never merged).
type FieldObservation struct {
	// FieldName keys into the schema registry.
	FieldName string `json:"field_name"`
	// Value is typed per the field definition (string, int or []string).
	Value any `json:"value"`
	// Confidence is the extractor's score in [0,1].
	Confidence float64 `json:"confidence"`
	// SourceTurn is the turn number that produced or last updated this value.
	SourceTurn int `json:"source_turn"`
}

// ConversationTurn is one user-transcript/AI-reply exchange. Turns are
// append-only and immutable once written.
type ConversationTurn struct {
	// TurnNumber is 1-indexed and strictly increasing with no gaps.
	TurnNumber     int       `json:"turn_number"`
	UserTranscript string    `json:"user_transcript"`
	AIResponse     string    `json:"ai_response"`
	Timestamp      time.Time `json:"timestamp"`
}

// Session is the aggregate root for one onboarding conversation.
type Session struct {
	// ID is an opaque unguessable token; treat it as a capability.
	ID       string `json:"id"`
	Language string `json:"language"`
	Status   Status `json:"status"`
	// Observations maps field name to its current observation. Keys are
	// always present in the schema registry.
	Observations map[string]FieldObservation `json:"observations"`
	// Turns is the ordered, append-only conversation history.
	Turns     []ConversationTurn `json:"turns"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	// ExpiresAt is UpdatedAt plus the inactivity window, recomputed on
	// every successful turn.
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the inactivity window has passed at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// NextTurn returns the turn number the next exchange will carry.
func (s *Session) NextTurn() int {
	return len(s.Turns) + 1
}

// Touch advances the activity timestamps, extending the expiry window.
func (s *Session) Touch(now time.Time, window time.Duration) {
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(window)
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate stored state without going through Put.
func (s *Session) Clone() *Session {
	out := *s
	out.Observations = make(map[string]FieldObservation, len(s.Observations))
	for k, v := range s.Observations {
		out.Observations[k] = v
	}
	out.Turns = make([]ConversationTurn, len(s.Turns))
	copy(out.Turns, s.Turns)
	return &out
}
