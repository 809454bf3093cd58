package safety

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emovoice/internal/domain"
)

func newTestScreen(t *testing.T) *Screen {
	t.Helper()
	s, err := NewScreen(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func fusedAt(intensity float64, level domain.IntensityLevel) domain.FusedEmotionResult {
	return domain.FusedEmotionResult{
		PrimaryEmotion: domain.LabelNeutral,
		Intensity:      intensity,
		IntensityLevel: level,
	}
}

func TestCheckCrisisTypes(t *testing.T) {
	s := newTestScreen(t)

	cases := []struct {
		name  string
		text  string
		fused domain.FusedEmotionResult
		want  domain.CrisisType
	}{
		{
			name:  "self harm at low intensity",
			text:  "I want to end my life",
			fused: fusedAt(0.1, domain.LevelLow),
			want:  domain.CrisisSelfHarm,
		},
		{
			name:  "self harm beats hopelessness",
			text:  "Everything is hopeless and I want to kill myself",
			fused: fusedAt(0.9, domain.LevelCrisis),
			want:  domain.CrisisSelfHarm,
		},
		{
			name:  "typographic apostrophe",
			text:  "I don’t want to live like this",
			fused: fusedAt(0.2, domain.LevelLow),
			want:  domain.CrisisSelfHarm,
		},
		{
			name:  "hopelessness with high intensity",
			text:  "I feel worthless",
			fused: fusedAt(0.72, domain.LevelHigh),
			want:  domain.CrisisHopelessness,
		},
		{
			name:  "hopelessness phrase below high falls through to keywords",
			text:  "it feels hopeless",
			fused: fusedAt(0.4, domain.LevelMild),
			want:  domain.CrisisKeywords,
		},
		{
			name:  "crisis keyword",
			text:  "I can't go on like this",
			fused: fusedAt(0.2, domain.LevelLow),
			want:  domain.CrisisKeywords,
		},
		{
			name: "fused flag only",
			text: "I had a long day",
			fused: domain.FusedEmotionResult{
				Intensity:              0.88,
				IntensityLevel:         domain.LevelCrisis,
				RequiresCrisisResponse: true,
			},
			want: domain.CrisisExtremeDistress,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := s.Check(tc.text, tc.fused)
			require.True(t, v.IsCrisis)
			assert.Equal(t, tc.want, v.CrisisType)
			assert.Equal(t, domain.ActionCrisisResponse, v.RecommendedAction)
			assert.True(t, v.ShouldSkipSuggestion)
			assert.Equal(t, priorityMessages[tc.want], v.PriorityMessage)
			assert.NotEmpty(t, v.Resources)
			assert.LessOrEqual(t, len(v.Resources), 3)
		})
	}
}

func TestCheckSelfHarmScenario(t *testing.T) {
	s := newTestScreen(t)
	v := s.Check("I want to end my life", fusedAt(0.05, domain.LevelLow))

	assert.Equal(t, domain.CrisisSelfHarm, v.CrisisType)
	assert.True(t, v.ShouldSkipSuggestion)
	assert.NotEmpty(t, v.PriorityMessage)
	assert.Equal(t, []string{
		"US: 988 Suicide & Crisis Lifeline: Call or text 988",
		"UK: Samaritans: 116 123",
		"India: iCall: 9152987821 | Vandrevala Foundation: 1860-2662-345",
	}, v.Resources)
}

func TestCheckHighDistressWithoutCrisis(t *testing.T) {
	s := newTestScreen(t)

	cases := []struct {
		name  string
		text  string
		fused domain.FusedEmotionResult
	}{
		{name: "high level", text: "work was a lot today", fused: fusedAt(0.75, domain.LevelHigh)},
		{name: "extreme distress phrase", text: "I'm falling apart", fused: fusedAt(0.3, domain.LevelMild)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := s.Check(tc.text, tc.fused)
			assert.False(t, v.IsCrisis)
			assert.True(t, v.IsHighDistress)
			assert.Equal(t, domain.ActionComfortFirst, v.RecommendedAction)
			assert.True(t, v.ShouldSkipSuggestion)
			assert.Empty(t, v.PriorityMessage)
			assert.Empty(t, v.Resources)
		})
	}
}

func TestCheckNormal(t *testing.T) {
	s := newTestScreen(t)
	for _, text := range []string{"", "I went to the store and bought milk"} {
		v := s.Check(text, fusedAt(0.2, domain.LevelLow))
		assert.Equal(t, domain.SafetyVerdict{RecommendedAction: domain.ActionNormal}, v, "text=%q", text)
	}
}

func TestNewScreenValidatesThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HighThreshold = 0
	_, err := NewScreen(cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}

func TestNewScreenFormatsResources(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxResources = 5
	cfg.Resources = []Resource{
		{Region: "", Text: "Local clinic: 555-0100"},
		{Region: "EU", Text: "  "},
		{Region: "EU", Text: "116 123"},
	}
	s, err := NewScreen(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Local clinic: 555-0100", "EU: 116 123"}, s.Resources())
}

func TestResourceText(t *testing.T) {
	assert.Equal(t, "", ResourceText(nil))

	got := ResourceText([]string{"one", "two", "three", "four"})
	assert.Equal(t, "\n\nIf you need support right now:\n• one\n• two\n• three\n", got)
	assert.False(t, strings.Contains(got, "four"))
}
