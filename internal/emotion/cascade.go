package emotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"emovoice/internal/domain"
)

// TextEstimator scores a transcript.
type TextEstimator interface {
	Name() string
	Estimate(ctx context.Context, text string) (domain.EmotionEstimate, error)
}

// VoiceEstimator scores the cleaned audio clip at path.
type VoiceEstimator interface {
	Name() string
	Estimate(ctx context.Context, audioPath string) (domain.EmotionEstimate, error)
}

// Minimum confidence a voice backend must report before its result is used.
const minVoiceConfidence = 0.1

// VoiceCascade tries each estimator in order and returns the first
// acceptable result. Results that are too weak or that collapse onto
// neutral are treated as failures so a later backend gets a chance.
type VoiceCascade struct {
	estimators []VoiceEstimator
	logger     *slog.Logger
}

func NewVoiceCascade(logger *slog.Logger, estimators ...VoiceEstimator) *VoiceCascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceCascade{estimators: estimators, logger: logger}
}

func (c *VoiceCascade) Name() string { return "voice-cascade" }

func (c *VoiceCascade) Estimate(ctx context.Context, audioPath string) (domain.EmotionEstimate, error) {
	var errs []error
	for _, est := range c.estimators {
		if err := ctx.Err(); err != nil {
			return domain.EmotionEstimate{}, err
		}
		out, err := est.Estimate(ctx, audioPath)
		if err != nil {
			c.logger.Warn("voice estimator failed", "estimator", est.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", est.Name(), err))
			continue
		}
		if !acceptableVoice(out) {
			c.logger.Debug("voice estimator result rejected",
				"estimator", est.Name(),
				"primary", out.PrimaryEmotion,
				"confidence", out.Confidence,
			)
			errs = append(errs, fmt.Errorf("%s: result rejected", est.Name()))
			continue
		}
		if out.Source == "" {
			out.Source = est.Name()
		}
		return out, nil
	}
	return domain.EmotionEstimate{}, fmt.Errorf("%w: %w", domain.ErrAllBackendsFailed, errors.Join(errs...))
}

func acceptableVoice(e domain.EmotionEstimate) bool {
	if len(e.Distribution) == 0 || e.Confidence <= minVoiceConfidence {
		return false
	}
	return !(e.PrimaryEmotion == domain.LabelNeutral && e.Confidence >= 0.99)
}

// TextCascade tries each estimator in order; the first success wins.
type TextCascade struct {
	estimators []TextEstimator
	logger     *slog.Logger
}

func NewTextCascade(logger *slog.Logger, estimators ...TextEstimator) *TextCascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextCascade{estimators: estimators, logger: logger}
}

func (c *TextCascade) Name() string { return "text-cascade" }

func (c *TextCascade) Estimate(ctx context.Context, text string) (domain.EmotionEstimate, error) {
	var errs []error
	for _, est := range c.estimators {
		if err := ctx.Err(); err != nil {
			return domain.EmotionEstimate{}, err
		}
		out, err := est.Estimate(ctx, text)
		if err == nil && len(out.Distribution) == 0 {
			err = errors.New("empty distribution")
		}
		if err != nil {
			c.logger.Warn("text estimator failed", "estimator", est.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", est.Name(), err))
			continue
		}
		if out.Source == "" {
			out.Source = est.Name()
		}
		return out, nil
	}
	return domain.EmotionEstimate{}, fmt.Errorf("%w: %w", domain.ErrAllBackendsFailed, errors.Join(errs...))
}

// estimateFromScores builds an estimate from raw label scores: labels are
// normalized, scores are scaled to sum to 1 and core labels are backfilled.
func estimateFromScores(scores map[string]float64, source string) (domain.EmotionEstimate, bool) {
	dist := domain.NormalizeDistribution(scores)
	var total float64
	for k, v := range dist {
		if v < 0 {
			dist[k] = 0
			continue
		}
		total += v
	}
	if total <= 0 {
		return domain.EmotionEstimate{}, false
	}
	for k, v := range dist {
		dist[k] = v / total
	}
	primary, top := domain.TopLabel(dist)
	return domain.EmotionEstimate{
		PrimaryEmotion: primary,
		Confidence:     top,
		Distribution:   dist,
		Intensity:      clamp(1-dist[domain.LabelNeutral], 0, 1),
		Source:         source,
	}, true
}
