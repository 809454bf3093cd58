package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"emovoice/internal/domain"
)

// OllamaProvider talks to a local Ollama server through /api/generate.
// Conversation turns are flattened into a single prompt.
type OllamaProvider struct {
	client  *http.Client
	baseURL string
}

func NewOllamaProvider(client *http.Client, baseURL string) *OllamaProvider {
	return &OllamaProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (p *OllamaProvider) Complete(ctx context.Context, req domain.LLMRequest) (domain.LLMResponse, error) {
	var prompt strings.Builder
	for i, m := range req.Messages {
		if i > 0 {
			prompt.WriteString("\n\n")
		}
		if len(req.Messages) > 1 {
			prompt.WriteString(m.Role)
			prompt.WriteString(": ")
		}
		prompt.WriteString(m.Content)
	}

	buf, err := json.Marshal(ollamaRequest{
		Model:  req.Model,
		Prompt: prompt.String(),
		System: req.System,
		Stream: false,
		Options: ollamaOptions{
			NumPredict:  req.MaxTokens,
			Temperature: req.Temperature,
		},
	})
	if err != nil {
		return domain.LLMResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(buf))
	if err != nil {
		return domain.LLMResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.LLMResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return domain.LLMResponse{}, fmt.Errorf("ollama status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.LLMResponse{}, err
	}
	if parsed.Error != "" {
		return domain.LLMResponse{}, fmt.Errorf("ollama error: %s", parsed.Error)
	}
	content := strings.TrimSpace(parsed.Response)
	if content == "" {
		return domain.LLMResponse{}, fmt.Errorf("empty ollama response")
	}
	return domain.LLMResponse{Content: content}, nil
}
