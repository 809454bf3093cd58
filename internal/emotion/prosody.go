package emotion

import (
	"context"
	"fmt"

	"emovoice/internal/audio"
	"emovoice/internal/domain"
)

// ProsodyEstimator classifies a clip from its energy, pitch, zero-crossing
// rate and spectral centroid. It needs no model and is the last voice
// backend in the cascade.
type ProsodyEstimator struct{}

func NewProsodyEstimator() *ProsodyEstimator {
	return &ProsodyEstimator{}
}

func (p *ProsodyEstimator) Name() string { return "prosody" }

func (p *ProsodyEstimator) Estimate(ctx context.Context, audioPath string) (domain.EmotionEstimate, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmotionEstimate{}, err
	}
	clip, err := audio.LoadWAV(audioPath)
	if err != nil {
		return domain.EmotionEstimate{}, fmt.Errorf("prosody load: %w", err)
	}
	return p.Classify(audio.ExtractFeatures(clip)), nil
}

// Classify scores the four prosody classes and maps them onto the emotion
// vocabulary.
func (p *ProsodyEstimator) Classify(f audio.Features) domain.EmotionEstimate {
	scores := map[string]float64{
		"angry":   0,
		"happy":   0,
		"sad":     0,
		"neutral": 0.25,
	}

	// loud, high and fast
	if f.EnergyMean > 0.15 && f.PitchMean > 180 && f.ZCRMean > 0.08 {
		scores["angry"] += 0.4
	}
	// energetic, varied and bright
	if f.EnergyMean > 0.1 && f.PitchStd > 40 && f.CentroidMean > 2500 {
		scores["happy"] += 0.4
	}
	// quiet, low and slow
	if f.EnergyMean < 0.08 && f.PitchMean < 140 && f.ZCRMean < 0.05 {
		scores["sad"] += 0.4
	}
	if f.EnergyMean >= 0.08 && f.EnergyMean <= 0.15 && f.PitchMean >= 130 && f.PitchMean <= 180 {
		scores["neutral"] += 0.3
	}

	out, ok := estimateFromScores(scores, p.Name())
	if !ok {
		out = domain.NeutralVoiceEstimate()
		out.Source = p.Name()
	}
	return out
}
