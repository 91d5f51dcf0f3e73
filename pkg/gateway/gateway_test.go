package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testProfile() DoctorProfile {
	return DoctorProfile{
		Fields: map[string]any{
			"full_name":  "Dr. Asha Rao",
			"title":      "Dr.",
			"first_name": "Asha",
			"last_name":  "Rao",
			"email":      "asha@example.com",
		},
		Confidence:  map[string]float64{"full_name": 0.95},
		SessionID:   "voice_abc",
		CollectedAt: time.Now().UTC(),
	}
}

func TestHTTPGateway_CreateDoctor(t *testing.T) {
	var got DoctorProfile
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL, 5*time.Second)
	if err := g.CreateDoctor(context.Background(), testProfile()); err != nil {
		t.Fatalf("CreateDoctor failed: %v", err)
	}

	if got.SessionID != "voice_abc" {
		t.Errorf("SessionID = %q", got.SessionID)
	}
	if got.Fields["first_name"] != "Asha" {
		t.Errorf("Fields = %+v", got.Fields)
	}
}

func TestHTTPGateway_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duplicate registration number", http.StatusConflict)
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL, 5*time.Second)
	if err := g.CreateDoctor(context.Background(), testProfile()); err == nil {
		t.Fatal("expected error for 409 response")
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	if err := r.CreateDoctor(ctx, testProfile()); err != nil {
		t.Fatalf("CreateDoctor failed: %v", err)
	}
	if len(r.Created()) != 1 {
		t.Fatalf("Created = %d profiles, want 1", len(r.Created()))
	}

	r.Err = context.DeadlineExceeded
	if err := r.CreateDoctor(ctx, testProfile()); err == nil {
		t.Fatal("expected primed error")
	}
	if len(r.Created()) != 1 {
		t.Error("failed create was recorded")
	}
}
