package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"emovoice/internal/domain"
	"emovoice/internal/llm"
)

const textEmotionPrompt = `Analyze the emotional content of this text from someone expressing their feelings.

Text: %q

Respond ONLY with a JSON object (no markdown, no explanation):
{
    "primary_emotion": "one of: sadness, anger, fear, anxiety, joy, confusion, frustration, neutral",
    "confidence": 0.0 to 1.0,
    "all_emotions": {
        "sadness": 0.0 to 1.0,
        "anger": 0.0 to 1.0,
        "fear": 0.0 to 1.0,
        "anxiety": 0.0 to 1.0,
        "joy": 0.0 to 1.0,
        "neutral": 0.0 to 1.0
    },
    "sentiment": "positive, negative, or neutral",
    "key_phrases": ["phrase1", "phrase2"]
}

Focus on emotional indicators, not just keywords. Consider context and implied feelings.`

var codeFence = regexp.MustCompile("```(?:json)?\\n?")

type llmEmotionReply struct {
	PrimaryEmotion string             `json:"primary_emotion"`
	Confidence     *float64           `json:"confidence"`
	AllEmotions    map[string]float64 `json:"all_emotions"`
	Sentiment      string             `json:"sentiment"`
	KeyPhrases     []string           `json:"key_phrases"`
}

// LLMTextEstimator asks a chat model for a JSON emotion breakdown. Providers
// are tried in order.
type LLMTextEstimator struct {
	providers []llm.Configured
	logger    *slog.Logger
}

func NewLLMTextEstimator(providers []llm.Configured, logger *slog.Logger) *LLMTextEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMTextEstimator{providers: providers, logger: logger}
}

func (e *LLMTextEstimator) Name() string { return "llm" }

func (e *LLMTextEstimator) Enabled() bool {
	return e != nil && len(e.providers) > 0
}

func (e *LLMTextEstimator) Estimate(ctx context.Context, text string) (domain.EmotionEstimate, error) {
	if !e.Enabled() {
		return domain.EmotionEstimate{}, fmt.Errorf("%w: no llm provider configured", domain.ErrBackendUnavailable)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		out := domain.NeutralTextEstimate()
		out.Source = e.Name()
		return out, nil
	}

	var errs []error
	for _, p := range e.providers {
		resp, err := p.Provider.Complete(ctx, domain.LLMRequest{
			Model:       p.Model,
			Messages:    []domain.Message{{Role: "user", Content: fmt.Sprintf(textEmotionPrompt, text)}},
			MaxTokens:   500,
			Temperature: 0.3,
		})
		if err == nil {
			var out domain.EmotionEstimate
			out, err = parseLLMEmotion(resp.Content)
			if err == nil {
				out.Source = e.Name() + ":" + p.Provider.Name()
				e.logger.Debug("llm emotion analysis", "provider", p.Provider.Name(), "primary", out.PrimaryEmotion, "confidence", out.Confidence)
				return out, nil
			}
		}
		e.logger.Warn("llm emotion analysis failed", "provider", p.Provider.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Provider.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return domain.EmotionEstimate{}, errors.Join(errs...)
}

func parseLLMEmotion(content string) (domain.EmotionEstimate, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = codeFence.ReplaceAllString(content, "")
		content = strings.TrimSpace(strings.ReplaceAll(content, "```", ""))
	}

	var reply llmEmotionReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return domain.EmotionEstimate{}, fmt.Errorf("decode llm emotion json: %w", err)
	}

	scores := reply.AllEmotions
	if len(scores) == 0 {
		scores = map[string]float64{domain.LabelNeutral: 0.5}
	}
	for k, v := range scores {
		scores[k] = clamp(v, 0, 1)
	}
	dist := domain.NormalizeDistribution(scores)

	primary := domain.NormalizeLabel(reply.PrimaryEmotion)
	if primary == "" {
		primary, _ = domain.TopLabel(dist)
	}
	confidence := 0.5
	if reply.Confidence != nil {
		confidence = clamp(*reply.Confidence, 0, 1)
	}
	phrases := reply.KeyPhrases
	if phrases == nil {
		phrases = []string{}
	}
	return domain.EmotionEstimate{
		PrimaryEmotion: primary,
		Confidence:     confidence,
		Distribution:   dist,
		Intensity:      clamp(1-dist[domain.LabelNeutral], 0, 1),
		KeyPhrases:     phrases,
	}, nil
}
