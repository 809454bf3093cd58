package safety

import (
	"fmt"
	"log/slog"
	"strings"

	"emovoice/internal/domain"
	"emovoice/internal/fusion"
)

// Resource is one entry of the crisis resource table, rendered as "Region: Text".
type Resource struct {
	Region string `mapstructure:"region" yaml:"region" json:"region"`
	Text   string `mapstructure:"text" yaml:"text" json:"text"`
}

type Config struct {
	// HighThreshold gates the hopelessness family on fused intensity.
	HighThreshold  float64
	CrisisKeywords []string
	Resources      []Resource
	MaxResources   int
}

var (
	selfHarmPhrases = []string{
		"hurt myself", "harm myself", "cut myself",
		"end my life", "end it all", "kill myself",
		"don't want to live", "better off dead",
		"no reason to live", "give up on life",
	}
	hopelessnessPhrases = []string{
		"no hope", "hopeless", "nothing matters",
		"no point", "worthless", "burden",
		"nobody cares", "alone forever", "give up",
	}
	extremeDistressPhrases = []string{
		"can't take it", "breaking down", "falling apart",
		"losing my mind", "can't cope", "drowning",
		"crushing me", "suffocating",
	}
)

var priorityMessages = map[domain.CrisisType]string{
	domain.CrisisSelfHarm: "I hear that you're in a lot of pain right now. " +
		"You don't have to go through this alone. " +
		"Please consider reaching out to someone who can help, like " +
		"a trusted friend, a family member or a crisis helpline.",
	domain.CrisisHopelessness: "I can hear how heavy everything feels right now. " +
		"These feelings are real, and they matter. " +
		"But please know that support is available, " +
		"and talking to someone can help.",
	domain.CrisisKeywords: "What you're going through sounds really difficult. " +
		"I want you to know that you matter, and help is available. " +
		"Please consider talking to someone you trust or a counselor.",
	domain.CrisisExtremeDistress: "I can hear how overwhelmed you're feeling. " +
		"That's an incredibly hard place to be. " +
		"You don't have to face this alone. " +
		"Reaching out to someone can really help.",
}

func DefaultResources() []Resource {
	return []Resource{
		{Region: "US", Text: "988 Suicide & Crisis Lifeline: Call or text 988"},
		{Region: "UK", Text: "Samaritans: 116 123"},
		{Region: "India", Text: "iCall: 9152987821 | Vandrevala Foundation: 1860-2662-345"},
		{Region: "International", Text: "Find your local helpline at findahelpline.com"},
	}
}

func DefaultConfig() Config {
	return Config{
		HighThreshold:  fusion.DefaultConfig().Thresholds.High,
		CrisisKeywords: append([]string(nil), fusion.DefaultCrisisKeywords...),
		Resources:      DefaultResources(),
		MaxResources:   3,
	}
}

// Screen classifies a transcript plus fused result into a SafetyVerdict.
// It holds only immutable tables and is safe for concurrent use.
type Screen struct {
	highThreshold  float64
	crisisKeywords []string
	resources      []string
	logger         *slog.Logger
}

func NewScreen(cfg Config, logger *slog.Logger) (*Screen, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HighThreshold <= 0 || cfg.HighThreshold > 1 {
		return nil, fmt.Errorf("%w: safety high threshold %.3f outside (0,1]", domain.ErrInvalidConfig, cfg.HighThreshold)
	}
	limit := cfg.MaxResources
	if limit <= 0 {
		limit = 3
	}

	keywords := make([]string, 0, len(cfg.CrisisKeywords))
	for _, k := range cfg.CrisisKeywords {
		if k = domain.FoldText(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	resources := make([]string, 0, limit)
	for _, r := range cfg.Resources {
		if len(resources) == limit {
			break
		}
		region, text := strings.TrimSpace(r.Region), strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		if region == "" {
			resources = append(resources, text)
			continue
		}
		resources = append(resources, region+": "+text)
	}

	return &Screen{
		highThreshold:  cfg.HighThreshold,
		crisisKeywords: keywords,
		resources:      resources,
		logger:         logger,
	}, nil
}

// Check evaluates the phrase families in fixed priority order. The first
// match fixes the crisis type, so self-harm language is never reported as a
// softer category.
func (s *Screen) Check(text string, fused domain.FusedEmotionResult) domain.SafetyVerdict {
	folded := domain.FoldText(text)

	var crisis domain.CrisisType
	switch {
	case containsAny(folded, selfHarmPhrases):
		crisis = domain.CrisisSelfHarm
		s.logger.Warn("safety: self-harm indicators detected")
	case fused.Intensity >= s.highThreshold && containsAny(folded, hopelessnessPhrases):
		crisis = domain.CrisisHopelessness
		s.logger.Warn("safety: hopelessness with high intensity detected", "intensity", fused.Intensity)
	case containsAny(folded, s.crisisKeywords):
		crisis = domain.CrisisKeywords
		s.logger.Warn("safety: crisis keywords detected")
	case fused.RequiresCrisisResponse:
		crisis = domain.CrisisExtremeDistress
		s.logger.Warn("safety: extreme emotional distress detected", "intensity", fused.Intensity)
	}

	highDistress := fused.IntensityLevel.Elevated() || containsAny(folded, extremeDistressPhrases)

	switch {
	case crisis != domain.CrisisNone:
		return domain.SafetyVerdict{
			IsCrisis:             true,
			IsHighDistress:       highDistress,
			CrisisType:           crisis,
			RecommendedAction:    domain.ActionCrisisResponse,
			ShouldSkipSuggestion: true,
			PriorityMessage:      priorityMessages[crisis],
			Resources:            append([]string(nil), s.resources...),
		}
	case highDistress:
		return domain.SafetyVerdict{
			IsHighDistress:       true,
			RecommendedAction:    domain.ActionComfortFirst,
			ShouldSkipSuggestion: true,
		}
	default:
		return domain.SafetyVerdict{RecommendedAction: domain.ActionNormal}
	}
}

// Resources returns the formatted resource lines a crisis verdict carries.
func (s *Screen) Resources() []string {
	return append([]string(nil), s.resources...)
}

// ResourceText renders resources as the block appended to crisis replies.
func ResourceText(resources []string) string {
	if len(resources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nIf you need support right now:\n")
	for i, r := range resources {
		if i == 3 {
			break
		}
		b.WriteString("• ")
		b.WriteString(r)
		b.WriteString("\n")
	}
	return b.String()
}

func containsAny(text string, phrases []string) bool {
	if text == "" {
		return false
	}
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
