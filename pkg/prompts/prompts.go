// Package prompts manages the conversational text the engine shows users
// and the instructions it sends to the language model. Prompts ship with
// built-in defaults and can be overridden from a YAML file so copy changes
// never require a rebuild.
package prompts

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known prompt paths.
const (
	PathGreeting     = "voice_onboarding.greeting"
	PathSystem       = "voice_onboarding.system_prompt"
	PathFallback     = "voice_onboarding.errors.ai_error"
	PathCompletion   = "voice_onboarding.completion_message"
	PathTurnTemplate = "voice_onboarding.turn_template"
)

var defaults = map[string]any{
	"voice_onboarding": map[string]any{
		"greeting": "Hello! I'm here to help you complete your doctor registration. " +
			"Let's start with your full name. What should I call you?",
		"system_prompt": "You are a registration assistant collecting a doctor's profile " +
			"over a voice conversation. From each user message, extract values for the " +
			"requested fields. Respond ONLY with a JSON object of the form " +
			`{"extracted_fields": {<field_name>: <value>}, "confidence": {<field_name>: <0.0-1.0>}, ` +
			`"response_text": "<your next conversational reply>"}. ` +
			"Never re-ask for fields that are already collected. Ask for one missing field " +
			"at a time, in the order given. Keep replies short and natural for speech.",
		"turn_template": "Fields still needed (in order): {missing_fields}\n" +
			"Already collected: {collected_data}\n" +
			"User said: {user_message}",
		"completion_message": "Thank you, {doctor_name}! I have everything I need. " +
			"Your registration details are ready for review.",
		"errors": map[string]any{
			"ai_error": "I'm having trouble understanding. Could you please repeat that?",
		},
	},
}

// Manager resolves prompt strings by dot-notation path.
type Manager struct {
	prompts map[string]any
}

// NewManager returns a manager backed by the built-in defaults.
func NewManager() *Manager {
	return &Manager{prompts: defaults}
}

// Load reads prompt overrides from a YAML file. Paths absent from the
// file fall back to the built-in defaults.
func Load(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}

	var overrides map[string]any
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompts file: %w", err)
	}

	return &Manager{prompts: merge(defaults, overrides)}, nil
}

// Get returns the prompt at a dot-notation path.
func (m *Manager) Get(path string) (string, error) {
	var value any = m.prompts
	for _, key := range strings.Split(path, ".") {
		node, ok := value.(map[string]any)
		if !ok {
			return "", fmt.Errorf("prompt not found: %s", path)
		}
		value, ok = node[key]
		if !ok {
			return "", fmt.Errorf("prompt not found: %s", path)
		}
	}

	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("prompt path %s is not a string", path)
	}
	return s, nil
}

// GetDefault returns the prompt at path, or fallback if it is missing.
func (m *Manager) GetDefault(path, fallback string) string {
	s, err := m.Get(path)
	if err != nil {
		return fallback
	}
	return s
}

// Format returns the prompt at path with {name} placeholders substituted.
func (m *Manager) Format(path string, vars map[string]string) (string, error) {
	template, err := m.Get(path)
	if err != nil {
		return "", err
	}
	for name, val := range vars {
		template = strings.ReplaceAll(template, "{"+name+"}", val)
	}
	return template, nil
}

func merge(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		ov, ovOK := v.(map[string]any)
		bv, bvOK := out[k].(map[string]any)
		if ovOK && bvOK {
			out[k] = merge(bv, ov)
			continue
		}
		out[k] = v
	}
	return out
}
