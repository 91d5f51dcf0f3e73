package provider

import (
	"context"
	"errors"
	"testing"
)

func TestFactoryRegistry(t *testing.T) {
	RegisterFactory("test-fake", func(config map[string]any) (Provider, error) {
		return NewMockProvider(), nil
	})

	p, err := New("test-fake", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.Name() != "mock" {
		t.Errorf("Name = %q", p.Name())
	}

	if _, err := New("never-registered", nil); err == nil {
		t.Error("expected error for unregistered provider")
	}

	found := false
	for _, name := range Names() {
		if name == "test-fake" {
			found = true
		}
	}
	if !found {
		t.Errorf("Names() = %v, missing test-fake", Names())
	}
}

func TestMockProvider_ReplaysQueue(t *testing.T) {
	m := NewMockProvider()
	m.QueueStructured(&StructuredResponse{Data: []byte(`{"n": 1}`)})
	m.QueueStructured(&StructuredResponse{Data: []byte(`{"n": 2}`)})

	ctx := context.Background()
	req := StructuredRequest{CompletionRequest: CompletionRequest{Model: "m"}}

	first, _ := m.CreateStructured(ctx, req)
	second, _ := m.CreateStructured(ctx, req)
	third, _ := m.CreateStructured(ctx, req)

	if string(first.Data) != `{"n": 1}` || string(second.Data) != `{"n": 2}` {
		t.Errorf("queue replayed out of order: %s, %s", first.Data, second.Data)
	}
	// Exhausted queues replay the last element.
	if string(third.Data) != `{"n": 2}` {
		t.Errorf("exhausted queue returned %s", third.Data)
	}
	if len(m.StructuredRequests) != 3 {
		t.Errorf("recorded %d requests, want 3", len(m.StructuredRequests))
	}
}

func TestMockProvider_ErrorsFirst(t *testing.T) {
	m := NewMockProvider()
	wantErr := NewProviderError("mock", ErrorCodeServerError, "boom", nil)
	m.QueueError(wantErr)
	m.QueueStructured(&StructuredResponse{Data: []byte(`{}`)})

	ctx := context.Background()
	req := StructuredRequest{}

	if _, err := m.CreateStructured(ctx, req); !errors.Is(err, wantErr) {
		t.Errorf("first call error = %v, want queued error", err)
	}
	if _, err := m.CreateStructured(ctx, req); err != nil {
		t.Errorf("second call error = %v, want nil", err)
	}
}

func TestProviderError_Retryability(t *testing.T) {
	retryable := []string{ErrorCodeRateLimit, ErrorCodeServerError, ErrorCodeTimeout}
	for _, code := range retryable {
		if !NewProviderError("p", code, "m", nil).IsRetryable {
			t.Errorf("%s should be retryable", code)
		}
	}
	terminal := []string{ErrorCodeAuthentication, ErrorCodeInvalidRequest, ErrorCodeMalformedOutput, ErrorCodeModelNotFound}
	for _, code := range terminal {
		if NewProviderError("p", code, "m", nil).IsRetryable {
			t.Errorf("%s should not be retryable", code)
		}
	}
}
