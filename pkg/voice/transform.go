package voice

import (
	"strings"
	"time"

	"github.com/voicereg-dev/voicereg/pkg/gateway"
	"github.com/voicereg-dev/voicereg/pkg/session"
)

var titlePrefixes = map[string]bool{
	"dr":    true,
	"dr.":   true,
	"prof":  true,
	"prof.": true,
}

// splitFullName parses a spoken full name into title, first and last
// parts. "Dr. Asha Rao" becomes ("Dr.", "Asha", "Rao"); names without a
// recognized title keep an empty title.
func splitFullName(fullName string) (title, first, last string) {
	parts := strings.Fields(strings.TrimSpace(fullName))
	if len(parts) == 0 {
		return "", "", ""
	}

	if titlePrefixes[strings.ToLower(parts[0])] {
		title = parts[0]
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return title, "", ""
	}

	first = parts[0]
	last = strings.Join(parts[1:], " ")
	return title, first, last
}

// buildProfile converts a completed session into the gateway handoff
// shape, deriving name parts from the collected full name.
func buildProfile(sess *session.Session, now time.Time) gateway.DoctorProfile {
	fields := make(map[string]any, len(sess.Observations)+3)
	confidence := make(map[string]float64, len(sess.Observations))

	for name, obs := range sess.Observations {
		fields[name] = obs.Value
		confidence[name] = obs.Confidence
	}

	if fullName, ok := fields["full_name"].(string); ok {
		title, first, last := splitFullName(fullName)
		if title != "" {
			fields["title"] = title
		}
		fields["first_name"] = first
		fields["last_name"] = last
	}

	return gateway.DoctorProfile{
		Fields:      fields,
		Confidence:  confidence,
		SessionID:   sess.ID,
		CollectedAt: now,
	}
}
