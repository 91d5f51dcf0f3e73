package voice

import (
	"time"

	"github.com/voicereg-dev/voicereg/pkg/schema"
	"github.com/voicereg-dev/voicereg/pkg/session"
)

// FieldStatus reports the collection state of one schema field.
type FieldStatus struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Required    bool    `json:"required"`
	Collected   bool    `json:"collected"`
	Value       any     `json:"value,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// Snapshot is the caller-facing view of a session after an operation. It
// is a value copy; mutating it never affects stored state.
type Snapshot struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`

	// Reply is the conversational text for this operation: the greeting
	// on Start, the AI (or fallback) response on Chat, empty on Status.
	Reply string `json:"reply,omitempty"`

	// FieldsCollected counts satisfied required fields out of FieldsTotal.
	FieldsCollected int `json:"fields_collected"`
	FieldsTotal     int `json:"fields_total"`

	// Fields lists every schema field in collection order.
	Fields []FieldStatus `json:"fields"`

	// Data maps collected field names to their values.
	Data map[string]any `json:"data"`

	// Complete is true once every required field has a usable value.
	Complete bool `json:"complete"`

	// TurnNumber is the number of exchanges so far (0 before the first).
	TurnNumber int `json:"turn_number"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func buildSnapshot(sess *session.Session, registry *schema.Registry, reply string) *Snapshot {
	fields := make([]FieldStatus, 0, len(registry.Fields()))
	data := make(map[string]any, len(sess.Observations))

	collected := 0
	for _, def := range registry.Fields() {
		fs := FieldStatus{
			Name:        def.Name,
			DisplayName: def.DisplayName,
			Required:    def.Required,
		}
		if obs, ok := sess.Observations[def.Name]; ok && !def.Empty(obs.Value) {
			fs.Collected = true
			fs.Value = obs.Value
			fs.Confidence = obs.Confidence
			data[def.Name] = obs.Value
			if def.Required {
				collected++
			}
		}
		fields = append(fields, fs)
	}

	total := registry.RequiredCount()
	return &Snapshot{
		SessionID:       sess.ID,
		Status:          sess.Status,
		Reply:           reply,
		FieldsCollected: collected,
		FieldsTotal:     total,
		Fields:          fields,
		Data:            data,
		Complete:        collected == total,
		TurnNumber:      len(sess.Turns),
		CreatedAt:       sess.CreatedAt,
		UpdatedAt:       sess.UpdatedAt,
		ExpiresAt:       sess.ExpiresAt,
	}
}
