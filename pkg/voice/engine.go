// Package voice implements the conversational onboarding engine. The
// engine is stateless across requests: each operation loads a session
// from the store under a per-session lock, mutates it, and writes it
// back, so any number of engine instances can share one store.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/voicereg-dev/voicereg/pkg/extract"
	"github.com/voicereg-dev/voicereg/pkg/gateway"
	"github.com/voicereg-dev/voicereg/pkg/observability"
	"github.com/voicereg-dev/voicereg/pkg/prompts"
	"github.com/voicereg-dev/voicereg/pkg/schema"
	"github.com/voicereg-dev/voicereg/pkg/session"
)

const (
	// DefaultWindow is the inactivity window after which a session expires.
	DefaultWindow = 30 * time.Minute

	// DefaultSweepBatch caps how many sessions one sweep evicts.
	DefaultSweepBatch = 100

	fallbackReply = "I'm having trouble understanding. Could you please repeat that?"
)

// Extractor produces field proposals and a reply from a transcript.
// Satisfied by *extract.Extractor.
type Extractor interface {
	Extract(ctx context.Context, sess *session.Session, transcript string) (*extract.Result, error)
}

// Config holds engine tunables.
type Config struct {
	// Window is the inactivity window. Zero means DefaultWindow.
	Window time.Duration

	// SweepBatch caps evictions per sweep. Zero means DefaultSweepBatch.
	SweepBatch int

	// Clock overrides the time source. Nil means time.Now.
	Clock func() time.Time
}

// Engine drives voice onboarding sessions.
type Engine struct {
	store      session.Store
	extractor  Extractor
	registry   *schema.Registry
	prompts    *prompts.Manager
	gateway    gateway.Gateway
	window     time.Duration
	sweepBatch int
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewEngine creates an engine.
func NewEngine(store session.Store, ex Extractor, registry *schema.Registry,
	pm *prompts.Manager, gw gateway.Gateway, cfg Config, logger *slog.Logger) *Engine {

	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultSweepBatch
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:      store,
		extractor:  ex,
		registry:   registry,
		prompts:    pm,
		gateway:    gw,
		window:     cfg.Window,
		sweepBatch: cfg.SweepBatch,
		now:        cfg.Clock,
		logger:     logger,
		tracer:     otel.Tracer("voicereg/voice"),
	}
}

// Start creates a new active session and returns the greeting snapshot.
func (e *Engine) Start(ctx context.Context, language string) (*Snapshot, error) {
	if language == "" {
		language = "en"
	}

	now := e.now().UTC()
	sess := &session.Session{
		ID:           "voice_" + uuid.NewString(),
		Language:     language,
		Status:       session.StatusActive,
		Observations: make(map[string]session.FieldObservation),
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(e.window),
	}

	if err := e.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	observability.RecordSessionStarted(language)
	e.logger.Info("session started", "session_id", sess.ID, "language", language)

	greeting := e.prompts.GetDefault(prompts.PathGreeting, "Hello! Let's get you registered.")
	return buildSnapshot(sess, e.registry, greeting), nil
}

// Chat processes one user transcript. An extraction failure degrades
// softly: the turn is still recorded with a fallback reply, observations
// stay untouched, and no error reaches the caller.
func (e *Engine) Chat(ctx context.Context, sessionID, transcript string) (*Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "voice.Chat")
	defer span.End()
	wallStart := time.Now()

	release, err := e.store.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer release()

	sess, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive && sess.Status != session.StatusCompleted {
		return nil, ErrSessionExpired
	}
	if sess.ExpiredAt(e.now()) {
		return nil, ErrSessionExpired
	}

	now := e.now().UTC()
	turnNo := sess.NextTurn()

	result, extractErr := e.extractor.Extract(ctx, sess, transcript)
	if extractErr != nil {
		observability.RecordExtractionFailure()
		e.logger.Warn("extraction failed",
			"session_id", sessionID, "turn", turnNo, "error", extractErr)

		fallback := e.prompts.GetDefault(prompts.PathFallback, fallbackReply)
		sess.Turns = append(sess.Turns, session.ConversationTurn{
			TurnNumber:     turnNo,
			UserTranscript: transcript,
			AIResponse:     fallback,
			Timestamp:      now,
		})
		sess.Touch(now, e.window)

		if err := e.store.Put(ctx, sess); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}

		observability.RecordTurn("fallback", time.Since(wallStart), 0)
		return buildSnapshot(sess, e.registry, fallback), nil
	}

	for name, prop := range result.Proposals {
		sess.Observations[name] = session.FieldObservation{
			FieldName:  name,
			Value:      prop.Value,
			Confidence: prop.Confidence,
			SourceTurn: turnNo,
		}
	}

	reply := result.Reply
	if sess.Status == session.StatusActive && len(e.missingRequired(sess)) == 0 {
		sess.Status = session.StatusCompleted
		reply = e.completionReply(sess)
		observability.RecordSessionFinished("completed")
		e.logger.Info("session completed", "session_id", sessionID, "turns", turnNo)
	}

	sess.Turns = append(sess.Turns, session.ConversationTurn{
		TurnNumber:     turnNo,
		UserTranscript: transcript,
		AIResponse:     reply,
		Timestamp:      now,
	})
	sess.Touch(now, e.window)

	if err := e.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	observability.RecordTurn("ok", time.Since(wallStart), len(result.Proposals))
	e.logger.Info("turn processed",
		"session_id", sessionID, "turn", turnNo, "new_fields", len(result.Proposals))

	return buildSnapshot(sess, e.registry, reply), nil
}

// Status returns the current session snapshot. A stale session is marked
// expired as a side effect; the snapshot reports the expired status
// rather than failing.
func (e *Engine) Status(ctx context.Context, sessionID string) (*Snapshot, error) {
	release, err := e.store.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer release()

	sess, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(sess, e.registry, ""), nil
}

// Finalize hands a completed session's profile to the gateway and, on
// success, removes the session. A gateway failure keeps the session so
// the call can be retried.
func (e *Engine) Finalize(ctx context.Context, sessionID string) (*gateway.DoctorProfile, error) {
	ctx, span := e.tracer.Start(ctx, "voice.Finalize")
	defer span.End()

	release, err := e.store.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer release()

	sess, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == session.StatusExpired || sess.ExpiredAt(e.now()) {
		return nil, ErrSessionExpired
	}

	if missing := e.missingRequired(sess); len(missing) > 0 {
		observability.RecordFinalize("not_complete")
		return nil, &NotCompleteError{Missing: missing}
	}

	profile := buildProfile(sess, e.now().UTC())
	if err := e.gateway.CreateDoctor(ctx, profile); err != nil {
		observability.RecordFinalize("gateway_error")
		e.logger.Error("profile handoff failed", "session_id", sessionID, "error", err)
		return nil, &PersistenceError{SessionID: sessionID, Err: err}
	}

	if err := e.store.Delete(ctx, sessionID); err != nil {
		e.logger.Warn("session cleanup failed", "session_id", sessionID, "error", err)
	}

	observability.RecordFinalize("ok")
	observability.RecordSessionFinished("finalized")
	e.logger.Info("session finalized", "session_id", sessionID)

	return &profile, nil
}

// Cancel deletes a session unconditionally. Cancelling an unknown or
// already-cancelled session is a no-op.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	release, err := e.store.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	defer release()

	_, err = e.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	observability.RecordSessionFinished("cancelled")
	e.logger.Info("session cancelled", "session_id", sessionID)
	return nil
}

// SweepExpired evicts sessions whose inactivity window has passed,
// returning how many were removed. At most the configured batch size is
// evicted per call.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	wallStart := time.Now()
	now := e.now()

	ids, err := e.store.ListExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	if len(ids) > e.sweepBatch {
		ids = ids[:e.sweepBatch]
	}

	evicted := 0
	for _, id := range ids {
		if err := e.evict(ctx, id, now); err != nil {
			e.logger.Warn("sweep eviction failed", "session_id", id, "error", err)
			continue
		}
		evicted++
	}

	observability.RecordSweep(evicted, time.Since(wallStart))
	if evicted > 0 {
		e.logger.Info("expired sessions swept", "evicted", evicted)
	}
	return evicted, nil
}

func (e *Engine) evict(ctx context.Context, id string, now time.Time) error {
	release, err := e.store.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	sess, err := e.store.Get(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	// Re-check under the lock: a concurrent turn may have extended it.
	if !sess.ExpiredAt(now) {
		return nil
	}

	if sess.Status == session.StatusActive {
		observability.RecordSessionFinished("expired")
	}
	return e.store.Delete(ctx, id)
}

// load fetches a session and applies the lazy expiry transition. Callers
// must hold the session lock.
func (e *Engine) load(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.Status == session.StatusActive && sess.ExpiredAt(e.now()) {
		sess.Status = session.StatusExpired
		if err := e.store.Put(ctx, sess); err != nil {
			return nil, fmt.Errorf("mark expired: %w", err)
		}
		observability.RecordSessionFinished("expired")
		e.logger.Info("session expired", "session_id", sessionID)
	}

	return sess, nil
}

// missingRequired returns the unsatisfied required field names in
// collection order.
func (e *Engine) missingRequired(sess *session.Session) []string {
	var missing []string
	for _, def := range e.registry.Required() {
		obs, ok := sess.Observations[def.Name]
		if !ok || def.Empty(obs.Value) {
			missing = append(missing, def.Name)
		}
	}
	return missing
}

func (e *Engine) completionReply(sess *session.Session) string {
	name := ""
	if obs, ok := sess.Observations["full_name"]; ok {
		if s, ok := obs.Value.(string); ok {
			_, first, _ := splitFullName(s)
			name = first
			if name == "" {
				name = s
			}
		}
	}

	reply, err := e.prompts.Format(prompts.PathCompletion, map[string]string{
		"doctor_name": name,
	})
	if err != nil {
		return "Thank you! I have everything I need."
	}
	return reply
}
