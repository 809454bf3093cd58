package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emovoice/internal/config"
	"emovoice/internal/domain"
	"emovoice/internal/logging"
	"emovoice/internal/wellness"
)

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		catalogEmotion, catalogLevel, catalogCount = "", "moderate", 3
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCatalogListsActivities(t *testing.T) {
	out := runRoot(t, "catalog", "--log-level", "error")
	assert.Contains(t, out, "box_breathing")
	assert.Contains(t, out, "activities")
}

func TestCatalogPreview(t *testing.T) {
	out := runRoot(t, "catalog", "--emotion", "sad", "--level", "high", "--count", "2", "--log-level", "error")
	assert.Contains(t, out, "something gentle that might help")
	assert.Equal(t, 2, strings.Count(out, "If you'd like"))
}

func TestCatalogPreviewSkipsAtCrisis(t *testing.T) {
	out := runRoot(t, "catalog", "--emotion", "fear", "--level", "crisis", "--log-level", "error")
	assert.Contains(t, out, "suggestions are skipped")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, domain.PipelineResult{
		RunID:      "run-1",
		Transcript: "I feel a bit low today",
		Fused: domain.FusedEmotionResult{
			PrimaryEmotion: domain.LabelSadness,
			IntensityLevel: domain.LevelModerate,
		},
		Safety:             domain.SafetyVerdict{RecommendedAction: domain.ActionNormal},
		WellnessSuggestion: &domain.WellnessSuggestion{Title: "Journaling", Duration: "10 min"},
		Degraded:           []string{"voice_emotion"},
		Reply:              "I'm sorry it's a heavy day.",
		LatencyMS:          1500,
	})
	out := buf.String()
	assert.Contains(t, out, "run-1 (1.5s)")
	assert.Contains(t, out, "suggestion: Journaling (10 min)")
	assert.Contains(t, out, "degraded:   voice_emotion")
	assert.True(t, strings.HasSuffix(out, "I'm sorry it's a heavy day.\n"))
}

func TestSourceLists(t *testing.T) {
	var cfg config.ServerConfig
	assert.Len(t, voiceEstimators(cfg), 1)
	assert.Empty(t, transcribers(cfg))
	assert.Len(t, textEstimators(cfg, nil, logging.Discard()), 1)

	cfg.Emotion.VoiceModelURL = "http://voice"
	cfg.Emotion.ServiceURL = "http://emotion"
	cfg.ASR.ServiceURL = "http://asr"
	cfg.ASR.WSBridgeURL = "ws://bridge"
	cfg.ASR.Whisper = true
	cfg.LLM.OpenAIAPIKey = "sk-test"
	assert.Len(t, voiceEstimators(cfg), 2)
	assert.Len(t, transcribers(cfg), 3)
	assert.Len(t, textEstimators(cfg, buildProviders(cfg), logging.Discard()), 2)

	cfg.LLM.TextEmotion = true
	assert.Len(t, textEstimators(cfg, buildProviders(cfg), logging.Discard()), 3)
}

func TestBuildSelectorDefaultCatalog(t *testing.T) {
	sel, err := buildSelector(config.ServerConfig{}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, wellness.DefaultCatalog().Len(), sel.Catalog().Len())
}
