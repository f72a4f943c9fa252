package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	reply string
	err   error
	req   openai.ChatCompletionRequest
	calls int
}

func (s *stubCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	s.req = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: s.reply}}},
	}, nil
}

func TestClassifyNormalizesReply(t *testing.T) {
	stub := &stubCompleter{reply: "  Call_Back_Later\n"}
	c := NewClassifierWithClient(stub, "", 0)

	label := c.Classify(context.Background(), "Customer asked to be called back next week")
	assert.Equal(t, domain.OutcomeCallBackLater, label)

	assert.Equal(t, defaultModel, stub.req.Model)
	assert.InDelta(t, 0.1, stub.req.Temperature, 1e-6)
	require.Len(t, stub.req.Messages, 2)
	assert.Contains(t, stub.req.Messages[0].Content, "call_back_later")
	assert.Contains(t, stub.req.Messages[1].Content, "called back next week")
}

func TestClassifyFallsBackToNeutral(t *testing.T) {
	tests := []struct {
		name string
		stub *stubCompleter
	}{
		{"api error", &stubCompleter{err: errors.New("429 too many requests")}},
		{"off-list label", &stubCompleter{reply: "very interested"}},
		{"empty reply", &stubCompleter{reply: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fallbacks int
			c := NewClassifierWithClient(tt.stub, "gpt-4o-mini", time.Second)
			c.OnResult(func(label domain.OutcomeLabel, fallback bool) {
				if fallback {
					fallbacks++
				}
			})
			assert.Equal(t, domain.OutcomeNeutral, c.Classify(context.Background(), "Customer hung up."))
			assert.Equal(t, 1, fallbacks)
		})
	}
}

func TestClassifyEmptySummarySkipsModel(t *testing.T) {
	stub := &stubCompleter{reply: "highly_interested"}
	c := NewClassifierWithClient(stub, "", 0)

	assert.Equal(t, domain.OutcomeNeutral, c.Classify(context.Background(), "   "))
	assert.Zero(t, stub.calls)
}

func TestClassifyAlwaysReturnsKnownLabel(t *testing.T) {
	known := map[domain.OutcomeLabel]bool{}
	for _, l := range domain.OutcomeLabels() {
		known[l] = true
	}

	for _, reply := range []string{"do_not_call", "DO NOT CALL", "maybe?", "unqualified.", "appointment", "<label>"} {
		c := NewClassifierWithClient(&stubCompleter{reply: reply}, "", 0)
		assert.True(t, known[c.Classify(context.Background(), "summary")], reply)
	}
}

func TestClassifyTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewOpenAIClassifier(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Timeout: 50 * time.Millisecond})

	start := time.Now()
	assert.Equal(t, domain.OutcomeNeutral, c.Classify(context.Background(), "Customer booked a demo."))
	assert.Less(t, time.Since(start), time.Second)
}

func TestClassifyAgainstOpenAIWireFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID: "chatcmpl-1",
			Choices: []openai.ChatCompletionChoice{
				{Index: 0, Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "appointment_scheduled"}},
			},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClassifier(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
	assert.Equal(t, domain.OutcomeAppointmentScheduled, c.Classify(context.Background(), "Demo booked for Tuesday."))
}
