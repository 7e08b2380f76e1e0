package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/leadchat/internal/retry"
	"github.com/leadchat/pkg/models"
)

type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.options)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.reply == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func text(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.Len(t, m.Parts, 1)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func testRequest() Request {
	return Request{
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "Do you ship abroad?"},
			{Role: models.RoleAssistant, Content: "Yes."},
			{Role: models.RoleUser, Content: "How much?"},
		},
		PageURL:   "https://example.com/shipping",
		PageTitle: "Shipping",
	}
}

func TestLLMRelay_PrependsContext(t *testing.T) {
	model := &fakeModel{reply: "About $10."}
	r := NewLLMRelay(model, Options{
		Provider:       ProviderOpenAI,
		ModelConfig:    ModelConfig{Model: "codestral-latest", Temperature: 0.7},
		BrandName:      "Acme",
		WebsiteContext: "We sell anvils.",
	})

	reply, err := r.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "About $10.", reply)

	require.Len(t, model.messages, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t,
		"You are a helpful assistant for Acme. Website context: We sell anvils. Current page: https://example.com/shipping. "+
			"Respond based on this context and be helpful to website visitors. Keep responses concise and friendly.",
		text(t, model.messages[0]))
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.messages[2].Role)
	assert.Equal(t, "How much?", text(t, model.messages[3]))

	assert.Equal(t, 0.7, model.options.Temperature)
	assert.Equal(t, "codestral-latest", model.options.Model)
}

func TestLLMRelay_Failures(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		req   Request
	}{
		{"model error", &fakeModel{err: errors.New("503 service unavailable")}, testRequest()},
		{"empty choices", &fakeModel{}, testRequest()},
		{"whitespace reply", &fakeModel{reply: "   "}, testRequest()},
		{"no messages", &fakeModel{reply: "hi"}, Request{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLLMRelay(tt.model, Options{}).Complete(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrRelayFailed)
		})
	}
}

func TestNewModel_UnsupportedProvider(t *testing.T) {
	_, err := NewModel(context.Background(), Options{Provider: "mystery"})
	assert.Error(t, err)
}

func TestHTTPClient(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ChatPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{Success: true, Reply: "hello back"})
	}))
	defer server.Close()

	reply, err := NewHTTPClient(server.URL, time.Second).Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hello back", reply)
	assert.Equal(t, "https://example.com/shipping", got.PageURL)
	assert.Len(t, got.Messages, 3)
}

func TestHTTPClient_NonSuccessShapes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `{"success":false,"error":"API returned status 500"}`},
		{"success false", http.StatusOK, `{"success":false,"error":"API key not configured"}`},
		{"malformed body", http.StatusOK, `<html>oops</html>`},
		{"missing reply", http.StatusOK, `{"success":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPClient(server.URL, time.Second).Complete(context.Background(), testRequest())
			assert.ErrorIs(t, err, ErrRelayFailed)
		})
	}
}

func TestResilient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	flaky := Func(func(ctx context.Context, req Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", failure("relay returned status 503: Service Unavailable")
		}
		return "finally", nil
	})

	cfg := retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	reply, err := NewResilient(flaky, cfg).Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "finally", reply)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResilient_StopsOnPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	broken := Func(func(ctx context.Context, req Request) (string, error) {
		calls.Add(1)
		return "", failure("invalid API response format")
	})

	cfg := retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	_, err := NewResilient(broken, cfg).Complete(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrRelayFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResilientHTTPClient_RetriesOnlyRateLimits(t *testing.T) {
	tests := []struct {
		name   string
		status int
		calls  int32
	}{
		{"server exhausted its retries", http.StatusBadGateway, 1},
		{"server unavailable", http.StatusServiceUnavailable, 1},
		{"rate limited", http.StatusTooManyRequests, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(Response{Success: false, Error: "AI service unavailable"})
			}))
			defer server.Close()

			cfg := retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
			_, err := NewResilient(NewHTTPClient(server.URL, time.Second), cfg).Complete(context.Background(), testRequest())
			assert.ErrorIs(t, err, ErrRelayFailed)
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}
