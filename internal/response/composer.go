package response

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"emovoice/internal/domain"
	"emovoice/internal/llm"
)

const (
	defaultMaxTokens   = 300
	defaultTemperature = 0.7
)

type Config struct {
	MaxTokens   int
	Temperature float64
}

// Reply is composed text plus where it came from.
type Reply struct {
	Text     string
	Provider string
	Fallback bool
}

// Composer asks each configured LLM provider in turn for an empathetic
// reply and falls back to a static per-emotion text.
type Composer struct {
	providers   []llm.Configured
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

func NewComposer(providers []llm.Configured, cfg Config, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	return &Composer{
		providers:   providers,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

// NewContext builds the prompt context from the fused result and the chosen
// suggestion (nil when the suggestion was skipped).
func (c *Composer) NewContext(transcript string, fused domain.FusedEmotionResult, suggestion *domain.WellnessSuggestion, suggestionText string) domain.ResponseContext {
	return domain.ResponseContext{
		Transcript:         transcript,
		PrimaryEmotion:     fused.PrimaryEmotion,
		Confidence:         fused.Confidence,
		Intensity:          fused.Intensity,
		IntensityLevel:     fused.IntensityLevel,
		KeyPhrases:         append([]string(nil), fused.KeyPhrases...),
		RequiresCrisis:     fused.RequiresCrisisResponse,
		WellnessSuggestion: suggestion,
		SuggestionText:     suggestionText,
	}
}

func (c *Composer) Compose(ctx context.Context, rc domain.ResponseContext) string {
	return c.ComposeReply(ctx, rc).Text
}

// ComposeReply never fails: when no provider answers, the static fallback
// for the context is returned with Fallback set.
func (c *Composer) ComposeReply(ctx context.Context, rc domain.ResponseContext) Reply {
	req := domain.LLMRequest{
		System:      SystemPrompt(rc),
		Messages:    []domain.Message{{Role: "user", Content: UserPrompt(rc)}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	for _, p := range c.providers {
		if ctx.Err() != nil {
			break
		}
		req.Model = p.Model
		start := time.Now()
		resp, err := p.Provider.Complete(ctx, req)
		if err != nil {
			c.logger.Warn("response generation failed", "provider", p.Provider.Name(), "error", err)
			continue
		}
		text := strings.TrimSpace(resp.Content)
		if text == "" {
			c.logger.Warn("response generation returned empty text", "provider", p.Provider.Name())
			continue
		}
		c.logger.Info("response generated",
			"provider", p.Provider.Name(),
			"model", p.Model,
			"chars", len(text),
			"cost_ms", time.Since(start).Milliseconds(),
		)
		return Reply{Text: text, Provider: p.Provider.Name()}
	}

	c.logger.Warn("using fallback response", "emotion", rc.PrimaryEmotion, "crisis", rc.RequiresCrisis)
	return Reply{Text: Fallback(rc), Provider: "fallback", Fallback: true}
}
