// Package extract turns a raw speech transcript into field proposals by
// asking a language model for structured output. The extractor is
// stateless: everything it needs about the conversation arrives in the
// session it is handed, and nothing is retained between calls.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/voicereg-dev/voicereg/internal/llm/provider"
	"github.com/voicereg-dev/voicereg/pkg/prompts"
	"github.com/voicereg-dev/voicereg/pkg/schema"
	"github.com/voicereg-dev/voicereg/pkg/session"
)

const (
	defaultTemperature = 0.3
	defaultThreshold   = 0.5

	// Confidence assumed for a proposal when the model names a field but
	// omits a score for it.
	defaultConfidence = 0.8
)

// Proposal is a candidate value for a single field, already coerced to the
// field's value type.
type Proposal struct {
	Value      any
	Confidence float64
}

// Result is the outcome of one extraction call.
type Result struct {
	// Proposals maps field names to accepted candidate values. Only
	// registry-known fields that passed coercion and the confidence
	// threshold appear here.
	Proposals map[string]Proposal

	// Reply is the model's conversational response for this turn.
	Reply string
}

// ExtractionError wraps any failure between the transcript going out and a
// usable result coming back.
type ExtractionError struct {
	Op  string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Config controls extraction behavior.
type Config struct {
	// Model passed through to the provider. Empty uses the provider default.
	Model string

	// Temperature for extraction calls.
	Temperature float64

	// ConfidenceThreshold below which proposals are discarded.
	ConfidenceThreshold float64

	// RequestsPerSecond caps upstream calls. Zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
}

// Extractor asks a provider for structured field extraction.
type Extractor struct {
	provider  provider.Provider
	registry  *schema.Registry
	prompts   *prompts.Manager
	cfg       Config
	limiter   *rate.Limiter
	threshold float64
	tracer    trace.Tracer
}

// New creates an extractor.
func New(p provider.Provider, registry *schema.Registry, pm *prompts.Manager, cfg Config) *Extractor {
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	threshold := cfg.ConfidenceThreshold
	if threshold == 0 {
		threshold = defaultThreshold
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Extractor{
		provider:  p,
		registry:  registry,
		prompts:   pm,
		cfg:       cfg,
		limiter:   limiter,
		threshold: threshold,
		tracer:    otel.Tracer("voicereg/extract"),
	}
}

// responseSchema describes the JSON shape requested from the model.
var responseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"extracted_fields": {"type": "object"},
		"confidence": {"type": "object"},
		"response_text": {"type": "string"}
	},
	"required": ["extracted_fields", "response_text"]
}`)

type wireResult struct {
	ExtractedFields map[string]any     `json:"extracted_fields"`
	Confidence      map[string]float64 `json:"confidence"`
	ResponseText    string             `json:"response_text"`
}

// Extract runs one structured extraction over the new transcript in the
// context of the session's history and collected observations.
func (e *Extractor) Extract(ctx context.Context, sess *session.Session, transcript string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "extract.Extract")
	defer span.End()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &ExtractionError{Op: "rate limit", Err: err}
		}
	}

	messages, err := e.buildMessages(sess, transcript)
	if err != nil {
		return nil, &ExtractionError{Op: "prompt", Err: err}
	}

	resp, err := e.provider.CreateStructured(ctx, provider.StructuredRequest{
		CompletionRequest: provider.CompletionRequest{
			Messages:    messages,
			Model:       e.cfg.Model,
			Temperature: e.cfg.Temperature,
		},
		ResponseSchema: responseSchema,
	})
	if err != nil {
		return nil, &ExtractionError{Op: "call", Err: err}
	}

	var wire wireResult
	if err := json.Unmarshal(resp.Data, &wire); err != nil {
		return nil, &ExtractionError{Op: "decode", Err: err}
	}
	if wire.ResponseText == "" {
		return nil, &ExtractionError{Op: "decode", Err: fmt.Errorf("response_text missing")}
	}

	return &Result{
		Proposals: e.filterProposals(wire),
		Reply:     wire.ResponseText,
	}, nil
}

// filterProposals keeps only registry-known fields whose values survive
// type coercion and whose confidence clears the threshold.
func (e *Extractor) filterProposals(wire wireResult) map[string]Proposal {
	proposals := make(map[string]Proposal, len(wire.ExtractedFields))

	for name, raw := range wire.ExtractedFields {
		def, err := e.registry.Get(name)
		if err != nil {
			continue
		}

		confidence := defaultConfidence
		if c, ok := wire.Confidence[name]; ok {
			confidence = c
		}
		if confidence < e.threshold {
			continue
		}

		value, err := def.Coerce(raw)
		if err != nil {
			continue
		}
		if def.Empty(value) {
			continue
		}

		proposals[name] = Proposal{Value: value, Confidence: confidence}
	}

	return proposals
}

func (e *Extractor) buildMessages(sess *session.Session, transcript string) ([]provider.Message, error) {
	system, err := e.prompts.Get(prompts.PathSystem)
	if err != nil {
		return nil, err
	}

	messages := make([]provider.Message, 0, 2*len(sess.Turns)+2)
	messages = append(messages, provider.Message{Role: "system", Content: system})

	for _, turn := range sess.Turns {
		messages = append(messages,
			provider.Message{Role: "user", Content: turn.UserTranscript},
			provider.Message{Role: "assistant", Content: turn.AIResponse},
		)
	}

	turnMsg, err := e.prompts.Format(prompts.PathTurnTemplate, map[string]string{
		"missing_fields": e.missingFields(sess),
		"collected_data": e.collectedData(sess),
		"user_message":   transcript,
	})
	if err != nil {
		return nil, err
	}
	messages = append(messages, provider.Message{Role: "user", Content: turnMsg})

	return messages, nil
}

func (e *Extractor) missingFields(sess *session.Session) string {
	var missing []string
	for _, def := range e.registry.Fields() {
		obs, ok := sess.Observations[def.Name]
		if ok && !def.Empty(obs.Value) {
			continue
		}
		missing = append(missing, def.Name)
	}
	if len(missing) == 0 {
		return "none"
	}
	return strings.Join(missing, ", ")
}

// collectedData renders the observations as JSON; json.Marshal sorts map
// keys, so the prompt text is deterministic across calls.
func (e *Extractor) collectedData(sess *session.Session) string {
	if len(sess.Observations) == 0 {
		return "{}"
	}

	collected := make(map[string]any, len(sess.Observations))
	for name, obs := range sess.Observations {
		collected[name] = obs.Value
	}

	data, err := json.Marshal(collected)
	if err != nil {
		return "{}"
	}
	return string(data)
}
