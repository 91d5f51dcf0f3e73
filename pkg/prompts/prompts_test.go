package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	m := NewManager()

	greeting, err := m.Get(PathGreeting)
	if err != nil {
		t.Fatalf("Get(greeting) error = %v", err)
	}
	if greeting == "" {
		t.Error("greeting is empty")
	}

	if _, err := m.Get("voice_onboarding.nope"); err == nil {
		t.Error("expected error for unknown path")
	}

	if got := m.GetDefault("voice_onboarding.nope", "fallback"); got != "fallback" {
		t.Errorf("GetDefault = %q, want fallback", got)
	}
}

func TestFormat(t *testing.T) {
	m := NewManager()

	msg, err := m.Format(PathCompletion, map[string]string{"doctor_name": "Dr. Smith"})
	if err != nil {
		t.Fatalf("Format error = %v", err)
	}
	if !strings.Contains(msg, "Dr. Smith") {
		t.Errorf("formatted message missing substitution: %q", msg)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")

	doc := `voice_onboarding:
  greeting: "Namaste! Let's register your practice."
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}

	greeting, _ := m.Get(PathGreeting)
	if greeting != "Namaste! Let's register your practice." {
		t.Errorf("override not applied: %q", greeting)
	}

	// Untouched paths keep their defaults.
	if _, err := m.Get(PathFallback); err != nil {
		t.Errorf("default lost after override: %v", err)
	}
}
