package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func geminiOK(text string) string {
	resp := map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     10,
			"candidatesTokenCount": 5,
			"totalTokenCount":      15,
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestGeminiProvider_CreateCompletion(t *testing.T) {
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geminiOK("Hello, doctor!")))
	}))
	defer server.Close()

	p := NewGeminiProvider("test-key", server.URL)

	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: "You are an onboarding assistant."},
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello"},
			{Role: "user", Content: "My name is Asha"},
		},
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("CreateCompletion failed: %v", err)
	}

	if resp.Content != "Hello, doctor!" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}

	// System messages move to systemInstruction, assistant becomes model.
	if gotReq.SystemInstruction == nil {
		t.Fatal("system message was not lifted into systemInstruction")
	}
	if len(gotReq.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(gotReq.Contents))
	}
	if gotReq.Contents[1].Role != "model" {
		t.Errorf("assistant role mapped to %q, want model", gotReq.Contents[1].Role)
	}
}

func TestGeminiProvider_CreateStructured(t *testing.T) {
	fenced := "```json\n{\"extracted_fields\": {\"full_name\": \"Asha Rao\"}}\n```"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.GenerationConfig == nil || req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Error("structured request did not set responseMimeType")
		}
		_, _ = w.Write([]byte(geminiOK(fenced)))
	}))
	defer server.Close()

	p := NewGeminiProvider("test-key", server.URL)

	resp, err := p.CreateStructured(context.Background(), StructuredRequest{
		CompletionRequest: CompletionRequest{
			Messages: []Message{{Role: "user", Content: "My name is Asha Rao"}},
		},
	})
	if err != nil {
		t.Fatalf("CreateStructured failed: %v", err)
	}

	var parsed struct {
		ExtractedFields map[string]string `json:"extracted_fields"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		t.Fatalf("Data is not valid JSON: %v", err)
	}
	if parsed.ExtractedFields["full_name"] != "Asha Rao" {
		t.Errorf("extracted_fields = %+v", parsed.ExtractedFields)
	}
}

func TestGeminiProvider_MalformedOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(geminiOK("I could not produce JSON, sorry.")))
	}))
	defer server.Close()

	p := NewGeminiProvider("test-key", server.URL)

	_, err := p.CreateStructured(context.Background(), StructuredRequest{
		CompletionRequest: CompletionRequest{
			Messages: []Message{{Role: "user", Content: "hi"}},
		},
	})

	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if pErr.Code != ErrorCodeMalformedOutput {
		t.Errorf("Code = %s, want %s", pErr.Code, ErrorCodeMalformedOutput)
	}
	if pErr.IsRetryable {
		t.Error("malformed output should not be retryable")
	}
}

func TestGeminiProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": {"code": 503, "message": "overloaded", "status": "UNAVAILABLE"}}`))
			return
		}
		_, _ = w.Write([]byte(geminiOK("recovered")))
	}))
	defer server.Close()

	p := NewGeminiProvider("test-key", server.URL)

	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateCompletion failed after retry: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q", resp.Content)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGeminiProvider_AuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "bad key", "status": "PERMISSION_DENIED"}}`))
	}))
	defer server.Close()

	p := NewGeminiProvider("bad-key", server.URL)

	_, err := p.CreateCompletion(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if pErr.Code != ErrorCodeAuthentication {
		t.Errorf("Code = %s, want %s", pErr.Code, ErrorCodeAuthentication)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
	}
}

func TestStripJSONFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"whitespace", "  \n{\"a\": 1}\n  ", `{"a": 1}`},
		{"fence no newline", "```json{\"a\": 1}```", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripJSONFences(tt.in); got != tt.want {
				t.Errorf("StripJSONFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
