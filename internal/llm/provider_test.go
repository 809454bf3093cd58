package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emovoice/internal/domain"
)

func testRequest() domain.LLMRequest {
	return domain.LLMRequest{
		Model:       "test-model",
		System:      "be kind",
		Messages:    []domain.Message{{Role: "user", Content: "hello"}},
		MaxTokens:   300,
		Temperature: 0.7,
	}
}

func TestOpenAIProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		assert.Equal(t, 300, body.MaxTokens)
		require.NotNil(t, body.Temperature)
		assert.InDelta(t, 0.7, *body.Temperature, 1e-9)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, openAIMessage{Role: "system", Content: "be kind"}, body.Messages[0])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  hi there \n"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.Client(), srv.URL+"/", "sk-test")
	out, err := p.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hi there", out.Content)
	assert.Equal(t, "openai", p.Name())
}

func TestOpenAIProviderErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http status", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`},
		{name: "api error", status: http.StatusOK, body: `{"error":{"message":"bad model"}}`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "bad json", status: http.StatusOK, body: `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewOpenAIProvider(srv.Client(), srv.URL, "k").Complete(context.Background(), testRequest())
			assert.Error(t, err)
		})
	}
}

func TestClaudeProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body claudeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be kind", body.System)
		assert.Equal(t, 300, body.MaxTokens)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "hello", body.Messages[0].Content[0].Text)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}`))
	}))
	defer srv.Close()

	out, err := NewClaudeProvider(srv.Client(), srv.URL, "ak-test").Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", out.Content)
}

func TestOllamaProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var body ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Prompt)
		assert.Equal(t, "be kind", body.System)
		assert.False(t, body.Stream)
		assert.Equal(t, 300, body.Options.NumPredict)

		_, _ = w.Write([]byte(`{"response":"local reply","done":true}`))
	}))
	defer srv.Close()

	out, err := NewOllamaProvider(srv.Client(), srv.URL).Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "local reply", out.Content)
}

func TestNewProvidersOrder(t *testing.T) {
	assert.Empty(t, NewProviders(Config{}))

	got := NewProviders(Config{
		OpenAIAPIKey:    "sk",
		OllamaBaseURL:   "http://localhost:11434",
		AnthropicAPIKey: "ak",
	})
	require.Len(t, got, 3)
	assert.Equal(t, "openai", got[0].Provider.Name())
	assert.Equal(t, "gpt-4o-mini", got[0].Model)
	assert.Equal(t, "ollama", got[1].Provider.Name())
	assert.Equal(t, "llama3.2", got[1].Model)
	assert.Equal(t, "claude", got[2].Provider.Name())

	only := NewProviders(Config{AnthropicAPIKey: "ak", AnthropicModel: "claude-x"})
	require.Len(t, only, 1)
	assert.Equal(t, "claude-x", only[0].Model)
}
