// Package gateway hands finished onboarding profiles to the registration
// backend. The engine treats this boundary as retryable: a failed handoff
// leaves the session intact so finalize can be attempted again.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DoctorProfile is the completed output of a voice onboarding session.
type DoctorProfile struct {
	// Fields maps schema field names to their coerced values, plus the
	// derived name parts (title, first_name, last_name).
	Fields map[string]any `json:"fields"`

	// Confidence carries the per-field extraction confidence scores.
	Confidence map[string]float64 `json:"confidence"`

	// SessionID identifies the session the profile was collected in.
	SessionID string `json:"session_id"`

	// CollectedAt is when the session completed.
	CollectedAt time.Time `json:"collected_at"`
}

// Gateway persists completed doctor profiles.
type Gateway interface {
	CreateDoctor(ctx context.Context, profile DoctorProfile) error
}

// HTTPGateway posts profiles as JSON to the registration API.
type HTTPGateway struct {
	url    string
	client *http.Client
}

// NewHTTPGateway creates a gateway posting to url.
func NewHTTPGateway(url string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// CreateDoctor posts the profile. Any non-2xx response is an error.
func (g *HTTPGateway) CreateDoctor(ctx context.Context, profile DoctorProfile) error {
	body, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("post profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("registration API returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// Recorder is a test double that records created profiles and can be
// primed to fail.
type Recorder struct {
	mu       sync.Mutex
	Profiles []DoctorProfile
	Err      error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// CreateDoctor records the profile, or returns the primed error.
func (r *Recorder) CreateDoctor(ctx context.Context, profile DoctorProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Profiles = append(r.Profiles, profile)
	return nil
}

// Created returns a copy of the recorded profiles.
func (r *Recorder) Created() []DoctorProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DoctorProfile, len(r.Profiles))
	copy(out, r.Profiles)
	return out
}
