package provider

import (
	"context"
	"sync"
)

// MockProvider is a test double that replays queued responses and
// records the requests it receives.
type MockProvider struct {
	mu sync.Mutex

	// Queued results, consumed in order. When a queue is exhausted the
	// last element is replayed.
	CompletionResponses []*CompletionResponse
	StructuredResponses []*StructuredResponse
	Errors              []error

	// Recorded calls.
	CompletionRequests []CompletionRequest
	StructuredRequests []StructuredRequest

	completionIdx int
	structuredIdx int
	errorIdx      int
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name returns the provider name.
func (m *MockProvider) Name() string {
	return "mock"
}

// QueueCompletion appends a completion response to replay.
func (m *MockProvider) QueueCompletion(resp *CompletionResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompletionResponses = append(m.CompletionResponses, resp)
}

// QueueStructured appends a structured response to replay.
func (m *MockProvider) QueueStructured(resp *StructuredResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StructuredResponses = append(m.StructuredResponses, resp)
}

// QueueError appends an error to return before any queued responses.
func (m *MockProvider) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, err)
}

// CreateCompletion replays the next queued completion response.
func (m *MockProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CompletionRequests = append(m.CompletionRequests, req)

	if err := m.nextError(); err != nil {
		return nil, err
	}
	if len(m.CompletionResponses) == 0 {
		return &CompletionResponse{Content: "mock response", FinishReason: "stop"}, nil
	}

	resp := m.CompletionResponses[m.completionIdx]
	if m.completionIdx < len(m.CompletionResponses)-1 {
		m.completionIdx++
	}
	return resp, nil
}

// CreateStructured replays the next queued structured response.
func (m *MockProvider) CreateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StructuredRequests = append(m.StructuredRequests, req)

	if err := m.nextError(); err != nil {
		return nil, err
	}
	if len(m.StructuredResponses) == 0 {
		return &StructuredResponse{
			Data:               []byte(`{}`),
			CompletionResponse: CompletionResponse{Content: "{}", FinishReason: "stop"},
		}, nil
	}

	resp := m.StructuredResponses[m.structuredIdx]
	if m.structuredIdx < len(m.StructuredResponses)-1 {
		m.structuredIdx++
	}
	return resp, nil
}

func (m *MockProvider) nextError() error {
	if m.errorIdx >= len(m.Errors) {
		return nil
	}
	err := m.Errors[m.errorIdx]
	m.errorIdx++
	return err
}
