package wellness

import (
	"strings"

	"emovoice/internal/domain"
)

func QueryFromFused(f domain.FusedEmotionResult) domain.EmotionQuery {
	return domain.EmotionQuery{
		PrimaryEmotion: domain.NormalizeLabel(f.PrimaryEmotion),
		IntensityLevel: levelOrModerate(f.IntensityLevel),
		RequiresCrisis: f.RequiresCrisisResponse,
	}
}

// QueryFromResult builds a query from a finished run. A crisis safety
// verdict marks the query as requiring crisis handling even when the fused
// flag was not set.
func QueryFromResult(r domain.PipelineResult) domain.EmotionQuery {
	q := QueryFromFused(r.Fused)
	q.RequiresCrisis = q.RequiresCrisis || r.Safety.IsCrisis
	return q
}

// QueryFromLabel builds a query from loose strings such as HTTP query params.
// Unknown levels are treated as moderate.
func QueryFromLabel(label, level string) domain.EmotionQuery {
	emotion := domain.NormalizeLabel(label)
	if emotion == "" {
		emotion = domain.LabelNeutral
	}
	return domain.EmotionQuery{
		PrimaryEmotion: emotion,
		IntensityLevel: ParseLevel(level),
	}
}

func ParseLevel(level string) domain.IntensityLevel {
	switch l := domain.IntensityLevel(strings.ToLower(strings.TrimSpace(level))); l {
	case domain.LevelLow, domain.LevelMild, domain.LevelModerate, domain.LevelHigh, domain.LevelCrisis:
		return l
	default:
		return domain.LevelModerate
	}
}

func levelOrModerate(l domain.IntensityLevel) domain.IntensityLevel {
	if l == "" {
		return domain.LevelModerate
	}
	return l
}
