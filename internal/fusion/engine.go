package fusion

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"emovoice/internal/domain"
)

type Thresholds struct {
	Mild     float64
	Moderate float64
	High     float64
	Crisis   float64
}

// IntensityWeights splits intensity between the distress score, the
// distance from neutral and the voice channel's own intensity.
type IntensityWeights struct {
	Distress float64
	Neutral  float64
	Voice    float64
}

type Config struct {
	VoiceWeight      float64
	TextWeight       float64
	Thresholds       Thresholds
	IntensityWeights IntensityWeights
	CrisisKeywords   []string
}

var distressWeights = []struct {
	label  string
	weight float64
}{
	{label: domain.LabelSadness, weight: 1.5},
	{label: domain.LabelFear, weight: 1.5},
	{label: domain.LabelAnxiety, weight: 1.4},
	{label: domain.LabelAnger, weight: 1.2},
	{label: domain.LabelFrustration, weight: 1.1},
}

var DefaultCrisisKeywords = []string{
	"suicide", "kill myself", "end it all", "don't want to live",
	"hurt myself", "self harm", "no point", "give up",
	"hopeless", "can't go on", "want to die", "ending my life",
}

func DefaultConfig() Config {
	return Config{
		VoiceWeight: 0.65,
		TextWeight:  0.35,
		Thresholds: Thresholds{
			Mild:     0.30,
			Moderate: 0.50,
			High:     0.70,
			Crisis:   0.85,
		},
		IntensityWeights: IntensityWeights{
			Distress: 0.4,
			Neutral:  0.3,
			Voice:    0.3,
		},
		CrisisKeywords: append([]string(nil), DefaultCrisisKeywords...),
	}
}

// Engine merges the voice and text estimates. Fuse is safe for concurrent
// use; AdjustWeights takes the write lock.
type Engine struct {
	mu          sync.RWMutex
	voiceWeight float64
	textWeight  float64

	thresholds       Thresholds
	intensityWeights IntensityWeights
	crisisKeywords   []string
	logger           *slog.Logger
}

func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := validateThresholds(cfg.Thresholds); err != nil {
		return nil, err
	}
	iw := cfg.IntensityWeights
	if iw.Distress < 0 || iw.Neutral < 0 || iw.Voice < 0 || iw.Distress+iw.Neutral+iw.Voice <= 0 {
		return nil, fmt.Errorf("%w: intensity weights must be non-negative with a positive sum", domain.ErrInvalidConfig)
	}
	voiceW, textW, err := normalizeWeights(cfg.VoiceWeight, cfg.TextWeight)
	if err != nil {
		return nil, err
	}

	keywords := make([]string, 0, len(cfg.CrisisKeywords))
	for _, k := range cfg.CrisisKeywords {
		k = domain.FoldText(strings.TrimSpace(k))
		if k != "" {
			keywords = append(keywords, k)
		}
	}

	return &Engine{
		voiceWeight:      voiceW,
		textWeight:       textW,
		thresholds:       cfg.Thresholds,
		intensityWeights: iw,
		crisisKeywords:   keywords,
		logger:           logger,
	}, nil
}

func validateThresholds(t Thresholds) error {
	steps := []float64{0, t.Mild, t.Moderate, t.High, t.Crisis}
	for i := 1; i < len(steps); i++ {
		if math.IsNaN(steps[i]) || steps[i] <= steps[i-1] {
			return fmt.Errorf("%w: intensity thresholds must be strictly ascending (mild=%.3f moderate=%.3f high=%.3f crisis=%.3f)",
				domain.ErrInvalidConfig, t.Mild, t.Moderate, t.High, t.Crisis)
		}
	}
	if t.Crisis > 1 {
		return fmt.Errorf("%w: crisis threshold %.3f exceeds 1", domain.ErrInvalidConfig, t.Crisis)
	}
	return nil
}

func normalizeWeights(voice, text float64) (float64, float64, error) {
	if voice < 0 || text < 0 || math.IsNaN(voice) || math.IsNaN(text) {
		return 0, 0, fmt.Errorf("%w: fusion weights must be non-negative", domain.ErrInvalidConfig)
	}
	total := voice + text
	if total <= 0 {
		return 0, 0, fmt.Errorf("%w: fusion weights must have a positive sum", domain.ErrInvalidConfig)
	}
	return voice / total, text / total, nil
}

// Weights returns the current, normalized voice and text weights.
func (e *Engine) Weights() (voice, text float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.voiceWeight, e.textWeight
}

// AdjustWeights replaces either weight (nil keeps the current value) and
// renormalizes both to sum to 1.
func (e *Engine) AdjustWeights(voice, text *float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, t := e.voiceWeight, e.textWeight
	if voice != nil {
		v = *voice
	}
	if text != nil {
		t = *text
	}
	nv, nt, err := normalizeWeights(v, t)
	if err != nil {
		return err
	}
	e.voiceWeight, e.textWeight = nv, nt
	e.logger.Info("fusion weights adjusted", "voice_weight", nv, "text_weight", nt)
	return nil
}

func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

func (e *Engine) Fuse(voice, text *domain.EmotionEstimate) (domain.FusedEmotionResult, error) {
	if voice == nil || text == nil {
		return domain.FusedEmotionResult{}, fmt.Errorf("%w: both voice and text estimates are required", domain.ErrInvalidInput)
	}
	if err := checkDistribution("voice", voice.Distribution); err != nil {
		return domain.FusedEmotionResult{}, err
	}
	if err := checkDistribution("text", text.Distribution); err != nil {
		return domain.FusedEmotionResult{}, err
	}

	voiceW, textW := e.Weights()

	fused := make(domain.Distribution, len(voice.Distribution)+len(text.Distribution))
	for _, label := range domain.OrderedLabels(voice.Distribution, text.Distribution) {
		fused[label] = voiceW*voice.Distribution[label] + textW*text.Distribution[label]
	}
	domain.BackfillCore(fused)

	primary, confidence := domain.TopLabel(fused)
	intensity := e.intensity(fused, voice.Intensity)
	keyPhrases := append([]string(nil), text.KeyPhrases...)

	return domain.FusedEmotionResult{
		PrimaryEmotion:         primary,
		Confidence:             confidence,
		Distribution:           fused,
		Intensity:              intensity,
		IntensityLevel:         e.Level(intensity),
		VoiceContribution:      voice.Distribution.Clone(),
		TextContribution:       text.Distribution.Clone(),
		KeyPhrases:             keyPhrases,
		RequiresCrisisResponse: e.requiresCrisis(intensity, keyPhrases, fused),
	}, nil
}

func checkDistribution(name string, d domain.Distribution) error {
	if len(d) == 0 {
		return fmt.Errorf("%w: %s distribution is empty", domain.ErrInvalidInput, name)
	}
	for label, score := range d {
		if score < 0 || math.IsNaN(score) || math.IsInf(score, 0) {
			return fmt.Errorf("%w: %s score for %q is %v", domain.ErrInvalidInput, name, label, score)
		}
	}
	return nil
}

func (e *Engine) intensity(fused domain.Distribution, voiceIntensity float64) float64 {
	var distress, weightSum float64
	for _, dw := range distressWeights {
		distress += fused[dw.label] * dw.weight
		weightSum += dw.weight
	}
	neutralFactor := 1 - fused[domain.LabelNeutral]
	iw := e.intensityWeights
	v := iw.Distress*(distress/weightSum) + iw.Neutral*neutralFactor + iw.Voice*clamp(voiceIntensity, 0, 1)
	return clamp(v, 0, 1)
}

// Level maps intensity onto the five-step scale.
func (e *Engine) Level(intensity float64) domain.IntensityLevel {
	t := e.thresholds
	switch {
	case intensity >= t.Crisis:
		return domain.LevelCrisis
	case intensity >= t.High:
		return domain.LevelHigh
	case intensity >= t.Moderate:
		return domain.LevelModerate
	case intensity >= t.Mild:
		return domain.LevelMild
	default:
		return domain.LevelLow
	}
}

func (e *Engine) requiresCrisis(intensity float64, keyPhrases []string, fused domain.Distribution) bool {
	if intensity >= e.thresholds.Crisis {
		return true
	}
	joined := domain.FoldText(strings.Join(keyPhrases, " "))
	if joined != "" {
		for _, k := range e.crisisKeywords {
			if strings.Contains(joined, k) {
				e.logger.Warn("crisis keyword in key phrases", "keyword", k)
				return true
			}
		}
	}
	return fused[domain.LabelSadness] > 0.6 &&
		fused[domain.LabelFear] > 0.4 &&
		intensity > e.thresholds.High
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
