package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicereg-dev/voicereg/internal/llm/provider"
	"github.com/voicereg-dev/voicereg/pkg/prompts"
	"github.com/voicereg-dev/voicereg/pkg/schema"
	"github.com/voicereg-dev/voicereg/pkg/session"
)

func newTestExtractor(t *testing.T, mock *provider.MockProvider) *Extractor {
	t.Helper()
	return New(mock, schema.DefaultRegistry(), prompts.NewManager(), Config{})
}

func activeSession(id string) *session.Session {
	now := time.Now().UTC()
	return &session.Session{
		ID:           id,
		Language:     "en",
		Status:       session.StatusActive,
		Observations: map[string]session.FieldObservation{},
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(30 * time.Minute),
	}
}

func TestExtract_AcceptsAndNormalizesProposals(t *testing.T) {
	mock := provider.NewMockProvider()
	mock.QueueStructured(&provider.StructuredResponse{
		Data: []byte(`{
			"extracted_fields": {
				"full_name": "  Dr. Asha Rao ",
				"years_of_experience": "about 15 years",
				"email": "ASHA@Example.COM",
				"languages": "English, Hindi",
				"favorite_color": "blue",
				"phone_number": "+91 98765 43210"
			},
			"confidence": {
				"full_name": 0.95,
				"years_of_experience": 0.9,
				"email": 0.85,
				"languages": 0.7,
				"phone_number": 0.3
			},
			"response_text": "Great, what is your specialization?"
		}`),
	})

	ex := newTestExtractor(t, mock)
	res, err := ex.Extract(context.Background(), activeSession("voice_1"), "my details...")
	require.NoError(t, err)

	assert.Equal(t, "Great, what is your specialization?", res.Reply)

	// Unknown fields and below-threshold confidences are dropped.
	assert.NotContains(t, res.Proposals, "favorite_color")
	assert.NotContains(t, res.Proposals, "phone_number")

	assert.Equal(t, "Dr. Asha Rao", res.Proposals["full_name"].Value)
	assert.Equal(t, 15, res.Proposals["years_of_experience"].Value)
	assert.Equal(t, "asha@example.com", res.Proposals["email"].Value)
	assert.Equal(t, []string{"English", "Hindi"}, res.Proposals["languages"].Value)
}

func TestExtract_DefaultsConfidence(t *testing.T) {
	mock := provider.NewMockProvider()
	mock.QueueStructured(&provider.StructuredResponse{
		Data: []byte(`{
			"extracted_fields": {"full_name": "Asha Rao"},
			"response_text": "Thanks!"
		}`),
	})

	ex := newTestExtractor(t, mock)
	res, err := ex.Extract(context.Background(), activeSession("voice_1"), "Asha Rao")
	require.NoError(t, err)

	require.Contains(t, res.Proposals, "full_name")
	assert.InDelta(t, 0.8, res.Proposals["full_name"].Confidence, 1e-9)
}

func TestExtract_DiscardsUncoercibleValues(t *testing.T) {
	mock := provider.NewMockProvider()
	mock.QueueStructured(&provider.StructuredResponse{
		Data: []byte(`{
			"extracted_fields": {
				"years_of_experience": "a long time",
				"email": "not-an-email"
			},
			"confidence": {"years_of_experience": 0.9, "email": 0.9},
			"response_text": "Hmm."
		}`),
	})

	ex := newTestExtractor(t, mock)
	res, err := ex.Extract(context.Background(), activeSession("voice_1"), "...")
	require.NoError(t, err)

	assert.Empty(t, res.Proposals)
	assert.Equal(t, "Hmm.", res.Reply)
}

func TestExtract_ProviderFailure(t *testing.T) {
	mock := provider.NewMockProvider()
	mock.QueueError(provider.NewProviderError("mock", provider.ErrorCodeServerError, "down", nil))

	ex := newTestExtractor(t, mock)
	_, err := ex.Extract(context.Background(), activeSession("voice_1"), "hello")

	var exErr *ExtractionError
	require.ErrorAs(t, err, &exErr)

	var pErr *provider.ProviderError
	assert.ErrorAs(t, err, &pErr)
}

func TestExtract_MissingReplyIsError(t *testing.T) {
	mock := provider.NewMockProvider()
	mock.QueueStructured(&provider.StructuredResponse{
		Data: []byte(`{"extracted_fields": {}}`),
	})

	ex := newTestExtractor(t, mock)
	_, err := ex.Extract(context.Background(), activeSession("voice_1"), "hello")

	var exErr *ExtractionError
	assert.ErrorAs(t, err, &exErr)
}

func TestExtract_BuildsConversationContext(t *testing.T) {
	mock := provider.NewMockProvider()
	mock.QueueStructured(&provider.StructuredResponse{
		Data: []byte(`{"extracted_fields": {}, "response_text": "ok"}`),
	})

	sess := activeSession("voice_ctx")
	sess.Observations["full_name"] = session.FieldObservation{
		FieldName: "full_name", Value: "Asha Rao", Confidence: 0.9, SourceTurn: 1,
	}
	sess.Observations["email"] = session.FieldObservation{
		FieldName: "email", Value: "asha@example.com", Confidence: 0.85, SourceTurn: 1,
	}
	sess.Turns = []session.ConversationTurn{
		{TurnNumber: 1, UserTranscript: "I'm Asha Rao", AIResponse: "Nice to meet you."},
	}

	ex := newTestExtractor(t, mock)
	_, err := ex.Extract(context.Background(), sess, "I am a cardiologist")
	require.NoError(t, err)

	require.Len(t, mock.StructuredRequests, 1)
	msgs := mock.StructuredRequests[0].Messages
	require.Len(t, msgs, 4)

	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "I'm Asha Rao", msgs[1].Content)
	assert.Equal(t, "assistant", msgs[2].Role)

	// The final turn message carries missing fields, collected data, and
	// the new transcript.
	last := msgs[3]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Content, "primary_specialization")
	assert.NotContains(t, last.Content, "missing_fields")
	// Collected data is rendered with sorted keys, keeping the prompt
	// deterministic across calls.
	assert.Contains(t, last.Content, `{"email":"asha@example.com","full_name":"Asha Rao"}`)
	assert.Contains(t, last.Content, "I am a cardiologist")
}

func TestExtract_RateLimiterHonorsContext(t *testing.T) {
	mock := provider.NewMockProvider()
	ex := New(mock, schema.DefaultRegistry(), prompts.NewManager(), Config{
		RequestsPerSecond: 0.001, // effectively never refills
		Burst:             1,
	})

	// First call consumes the burst.
	mock.QueueStructured(&provider.StructuredResponse{
		Data: []byte(`{"extracted_fields": {}, "response_text": "ok"}`),
	})
	_, err := ex.Extract(context.Background(), activeSession("voice_rl"), "one")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = ex.Extract(ctx, activeSession("voice_rl"), "two")

	var exErr *ExtractionError
	require.ErrorAs(t, err, &exErr)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || exErr.Op == "rate limit")
}
