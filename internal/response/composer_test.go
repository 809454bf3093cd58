package response

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emovoice/internal/domain"
	"emovoice/internal/llm"
)

type stubProvider struct {
	name    string
	content string
	err     error
	calls   int
	last    domain.LLMRequest
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(_ context.Context, req domain.LLMRequest) (domain.LLMResponse, error) {
	s.calls++
	s.last = req
	return domain.LLMResponse{Content: s.content}, s.err
}

func sadContext() domain.ResponseContext {
	return domain.ResponseContext{
		Transcript:     "I feel so alone lately",
		PrimaryEmotion: domain.LabelSadness,
		Confidence:     0.61,
		Intensity:      0.55,
		IntensityLevel: domain.LevelModerate,
		KeyPhrases:     []string{"so alone"},
		WellnessSuggestion: &domain.WellnessSuggestion{
			Key:      "self_compassion",
			Title:    "Self-Compassion Moment",
			Duration: "3 minutes",
		},
		SuggestionText: "If it feels right, you might try Self-Compassion Moment (3 minutes).",
	}
}

func TestComposeFailover(t *testing.T) {
	first := &stubProvider{name: "openai", err: errors.New("rate limited")}
	empty := &stubProvider{name: "ollama", content: "   "}
	last := &stubProvider{name: "claude", content: " That sounds really lonely. "}

	c := NewComposer([]llm.Configured{
		{Provider: first, Model: "gpt-4o-mini"},
		{Provider: empty, Model: "llama3.2"},
		{Provider: last, Model: "haiku"},
	}, Config{}, nil)

	reply := c.ComposeReply(context.Background(), sadContext())
	assert.Equal(t, "That sounds really lonely.", reply.Text)
	assert.Equal(t, "claude", reply.Provider)
	assert.False(t, reply.Fallback)

	assert.Equal(t, "haiku", last.last.Model)
	assert.Equal(t, 300, last.last.MaxTokens)
	assert.InDelta(t, 0.7, last.last.Temperature, 1e-9)
	assert.Contains(t, last.last.System, "sadness or emotional heaviness")
	assert.Contains(t, last.last.System, "Suggest only ONE activity")
	assert.NotContains(t, last.last.System, "intense emotional pain")
	require.Len(t, last.last.Messages, 1)
	assert.Contains(t, last.last.Messages[0].Content, `"I feel so alone lately"`)
	assert.Contains(t, last.last.Messages[0].Content, "Self-Compassion Moment")
}

func TestComposeFallbackTable(t *testing.T) {
	c := NewComposer(nil, Config{}, nil)
	cases := []struct {
		emotion string
		want    string
	}{
		{emotion: domain.LabelSadness, want: "It's okay to feel this sadness."},
		{emotion: "sad", want: "It's okay to feel this sadness."},
		{emotion: domain.LabelAnger, want: "Those feelings are valid."},
		{emotion: domain.LabelFear, want: "You're safe in this moment."},
		{emotion: domain.LabelAnxiety, want: "That anxious feeling is hard to carry."},
		{emotion: domain.LabelFrustration, want: "feeling stuck and frustrated"},
		{emotion: "happy", want: "positive energy"},
		{emotion: domain.LabelConfusion, want: "I'm here to listen"},
		{emotion: "boredom", want: "I'm here to listen"},
	}
	for _, tc := range cases {
		t.Run(tc.emotion, func(t *testing.T) {
			reply := c.ComposeReply(context.Background(), domain.ResponseContext{
				PrimaryEmotion: tc.emotion,
				IntensityLevel: domain.LevelMild,
			})
			assert.True(t, reply.Fallback)
			assert.Contains(t, reply.Text, tc.want)
		})
	}
}

func TestComposeCrisis(t *testing.T) {
	p := &stubProvider{name: "openai", err: errors.New("down")}
	c := NewComposer([]llm.Configured{{Provider: p}}, Config{}, nil)

	rc := sadContext()
	rc.RequiresCrisis = true
	got := c.Compose(context.Background(), rc)
	assert.Contains(t, got, "you don't have to carry this alone")
	assert.Contains(t, p.last.System, "intense emotional pain")
	assert.NotContains(t, p.last.System, "Suggest only ONE activity")
	assert.NotContains(t, p.last.Messages[0].Content, "Suggested activity")

	rc.RequiresCrisis = false
	rc.IntensityLevel = domain.LevelCrisis
	assert.Equal(t, crisisFallback, c.Compose(context.Background(), rc))
}

func TestComposeCancelledContextSkipsProviders(t *testing.T) {
	p := &stubProvider{name: "openai", content: "hello"}
	c := NewComposer([]llm.Configured{{Provider: p}}, Config{MaxTokens: 100, Temperature: 0.2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply := c.ComposeReply(ctx, sadContext())
	assert.True(t, reply.Fallback)
	assert.Equal(t, 0, p.calls)
}

func TestNewContext(t *testing.T) {
	fused := domain.FusedEmotionResult{
		PrimaryEmotion:         domain.LabelFear,
		Confidence:             0.5,
		Intensity:              0.9,
		IntensityLevel:         domain.LevelCrisis,
		KeyPhrases:             []string{"scared"},
		RequiresCrisisResponse: true,
	}
	rc := NewComposer(nil, Config{}, nil).NewContext("help", fused, nil, "")
	assert.Equal(t, "help", rc.Transcript)
	assert.Equal(t, domain.LabelFear, rc.PrimaryEmotion)
	assert.Equal(t, domain.LevelCrisis, rc.IntensityLevel)
	assert.True(t, rc.RequiresCrisis)
	assert.Nil(t, rc.WellnessSuggestion)

	rc.KeyPhrases[0] = "changed"
	assert.Equal(t, "scared", fused.KeyPhrases[0])
}
