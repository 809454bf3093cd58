package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"emovoice/internal/domain"
)

type Provider interface {
	Name() string
	Complete(ctx context.Context, req domain.LLMRequest) (domain.LLMResponse, error)
}

type Config struct {
	OpenAIBaseURL    string
	OpenAIAPIKey     string
	OpenAIModel      string
	OllamaBaseURL    string
	OllamaModel      string
	AnthropicBaseURL string
	AnthropicAPIKey  string
	AnthropicModel   string
	Timeout          time.Duration
}

// Configured pairs a provider with the model it should be asked for.
type Configured struct {
	Provider Provider
	Model    string
}

// NewProviders returns every configured provider in failover order:
// OpenAI, then a local Ollama, then Claude.
func NewProviders(cfg Config) []Configured {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	var out []Configured
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		out = append(out, Configured{
			Provider: NewOpenAIProvider(client, defaultString(cfg.OpenAIBaseURL, "https://api.openai.com/v1"), cfg.OpenAIAPIKey),
			Model:    defaultString(cfg.OpenAIModel, "gpt-4o-mini"),
		})
	}
	if strings.TrimSpace(cfg.OllamaBaseURL) != "" {
		out = append(out, Configured{
			Provider: NewOllamaProvider(client, cfg.OllamaBaseURL),
			Model:    defaultString(cfg.OllamaModel, "llama3.2"),
		})
	}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		out = append(out, Configured{
			Provider: NewClaudeProvider(client, defaultString(cfg.AnthropicBaseURL, "https://api.anthropic.com"), cfg.AnthropicAPIKey),
			Model:    defaultString(cfg.AnthropicModel, "claude-3-5-haiku-latest"),
		})
	}
	return out
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		return s[:512] + "..."
	}
	return s
}
