package wellness

import (
	"fmt"
	"log/slog"
	"strings"

	"emovoice/internal/domain"
)

type Config struct {
	// EmotionModules is the single-suggestion table: candidate activity keys
	// per emotion label, most preferred first.
	EmotionModules map[string][]string
	// ActivityMap is the wider table used for multi-suggestion cards.
	ActivityMap map[string][]string
	// CalmingModules are preferred at high or crisis level, and lead
	// AllSuggestions there.
	CalmingModules []string
	Fallbacks      []string
	DefaultKey     string
}

func DefaultConfig() Config {
	return Config{
		EmotionModules: map[string][]string{
			domain.LabelSadness:     {"guided_meditation", "journaling", "self_compassion", "breathing"},
			domain.LabelAnger:       {"breathing", "grounding", "yoga", "body_scan"},
			domain.LabelAnxiety:     {"mindfulness", "body_scan", "reassurance", "grounding"},
			domain.LabelFear:        {"safety_grounding", "calming_exercises", "reassurance", "breathing"},
			domain.LabelFrustration: {"breathing", "grounding", "reflection", "yoga"},
			domain.LabelConfusion:   {"reflection", "mindfulness", "journaling"},
			domain.LabelJoy:         {"gratitude", "mindfulness", "reflection"},
			domain.LabelNeutral:     {"general_wellness", "reflection", "mindfulness"},
		},
		ActivityMap: map[string][]string{
			domain.LabelSadness: {
				"guided_meditation", "self_compassion", "positive_affirmation",
				"nature_visualization", "journaling", "emotional_release", "color_breathing",
			},
			domain.LabelAnger: {
				"breathing", "box_breathing", "cold_water_reset", "grounding",
				"movement_break", "yoga", "body_scan",
			},
			domain.LabelJoy: {
				"gratitude", "mindfulness", "reflection", "nature_visualization", "journaling", "yoga",
			},
			domain.LabelNeutral: {
				"general_wellness", "reflection", "mindfulness", "gratitude", "breathing", "nature_visualization",
			},
			domain.LabelFear: {
				"safety_grounding", "reassurance", "breathing", "grounding", "calming_exercises", "body_scan",
			},
			domain.LabelAnxiety: {
				"box_breathing", "grounding", "reassurance", "safety_grounding", "mindfulness", "body_scan",
			},
		},
		CalmingModules: []string{"breathing", "grounding", "safety_grounding", "reassurance"},
		Fallbacks:      []string{"breathing", "mindfulness", "grounding", "gratitude"},
		DefaultKey:     "breathing",
	}
}

// Selector picks activities from a Catalog. Selection is a pure function of
// the query, so identical queries always yield identical suggestions.
type Selector struct {
	catalog *Catalog
	cfg     Config
	logger  *slog.Logger
}

func NewSelector(catalog *Catalog, cfg Config, logger *slog.Logger) (*Selector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if !catalog.Has(cfg.DefaultKey) {
		return nil, fmt.Errorf("%w: default wellness activity %q not in catalog", domain.ErrInvalidConfig, cfg.DefaultKey)
	}
	if len(cfg.EmotionModules[domain.LabelNeutral]) == 0 {
		return nil, fmt.Errorf("%w: wellness table needs a neutral entry", domain.ErrInvalidConfig)
	}

	normalized := Config{
		EmotionModules: normalizeTable(cfg.EmotionModules),
		ActivityMap:    normalizeTable(cfg.ActivityMap),
		CalmingModules: cfg.CalmingModules,
		Fallbacks:      cfg.Fallbacks,
		DefaultKey:     cfg.DefaultKey,
	}

	for label, keys := range normalized.EmotionModules {
		for _, k := range keys {
			if !catalog.Has(k) {
				logger.Warn("wellness table references unknown activity", "emotion", label, "activity", k)
			}
		}
	}
	for label, keys := range normalized.ActivityMap {
		for _, k := range keys {
			if !catalog.Has(k) {
				logger.Warn("wellness activity map references unknown activity", "emotion", label, "activity", k)
			}
		}
	}

	return &Selector{catalog: catalog, cfg: normalized, logger: logger}, nil
}

func normalizeTable(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for label, keys := range in {
		key := domain.NormalizeLabel(label)
		if key == "" {
			continue
		}
		if _, exists := out[key]; exists {
			continue
		}
		out[key] = append([]string(nil), keys...)
	}
	return out
}

func (s *Selector) Catalog() *Catalog {
	return s.catalog
}

func (s *Selector) modulesFor(label string) []string {
	if keys, ok := s.cfg.EmotionModules[domain.NormalizeLabel(label)]; ok && len(keys) > 0 {
		return keys
	}
	return s.cfg.EmotionModules[domain.LabelNeutral]
}

// activitiesFor returns the multi-suggestion candidates. Labels missing from
// the activity map use their single-suggestion list followed by neutral's.
func (s *Selector) activitiesFor(label string) []string {
	label = domain.NormalizeLabel(label)
	if keys, ok := s.cfg.ActivityMap[label]; ok && len(keys) > 0 {
		return keys
	}
	neutral := s.cfg.ActivityMap[domain.LabelNeutral]
	if len(neutral) == 0 {
		neutral = s.cfg.EmotionModules[domain.LabelNeutral]
	}
	if label == domain.LabelNeutral {
		return neutral
	}
	single, ok := s.cfg.EmotionModules[label]
	if !ok {
		return neutral
	}
	out := make([]string, 0, len(single)+len(neutral))
	out = append(out, single...)
	return append(out, neutral...)
}

// Suggestion returns exactly one activity for the query.
func (s *Selector) Suggestion(q domain.EmotionQuery) domain.WellnessSuggestion {
	available := s.modulesFor(q.PrimaryEmotion)

	if q.IntensityLevel.Elevated() {
		for _, calm := range s.cfg.CalmingModules {
			if contains(available, calm) {
				if a, ok := s.catalog.Get(calm); ok {
					return a
				}
				return s.defaultActivity()
			}
		}
	}
	for _, key := range available {
		if a, ok := s.catalog.Get(key); ok {
			return a
		}
	}
	return s.defaultActivity()
}

func (s *Selector) defaultActivity() domain.WellnessSuggestion {
	a, _ := s.catalog.Get(s.cfg.DefaultKey)
	return a
}

// AllSuggestions returns up to count distinct activities: calming activities
// first when the level is high or crisis, then the emotion's own list, then
// general fallbacks.
func (s *Selector) AllSuggestions(q domain.EmotionQuery, count int) []domain.WellnessSuggestion {
	if count <= 0 {
		return nil
	}
	out := make([]domain.WellnessSuggestion, 0, count)
	seen := make(map[string]struct{}, count)
	add := func(key string) {
		if len(out) >= count {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		a, ok := s.catalog.Get(key)
		if !ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}

	if q.IntensityLevel.Elevated() {
		for _, key := range s.cfg.CalmingModules {
			add(key)
		}
	}
	for _, key := range s.activitiesFor(q.PrimaryEmotion) {
		add(key)
	}
	for _, key := range s.cfg.Fallbacks {
		add(key)
	}
	if len(out) < count {
		for _, key := range s.catalog.Keys() {
			add(key)
		}
	}
	return out
}

// SuggestionText phrases a suggestion as an invitation rather than an instruction.
func (s *Selector) SuggestionText(a domain.WellnessSuggestion, q domain.EmotionQuery) string {
	return SuggestionText(a, q.IntensityLevel)
}

func SuggestionText(a domain.WellnessSuggestion, level domain.IntensityLevel) string {
	var intro string
	switch {
	case level.Elevated():
		intro = "If you'd like, there's something gentle that might help"
	case level == domain.LevelModerate:
		intro = "If it feels right, you might try"
	default:
		intro = "You might find it helpful to try"
	}

	var b strings.Builder
	b.WriteString(intro)
	b.WriteString(": ")
	b.WriteString(strings.ToLower(a.Title))
	b.WriteString(". ")
	b.WriteString(a.Description)
	b.WriteString(" ")
	if len(a.Instructions) > 0 {
		b.WriteString("You could start by ")
		b.WriteString(strings.ToLower(a.Instructions[0]))
		b.WriteString(".")
	}
	return b.String()
}

// ShouldSkip reports whether suggestions should give way to comfort only.
func ShouldSkip(q domain.EmotionQuery) bool {
	return q.RequiresCrisis || q.IntensityLevel == domain.LevelCrisis
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
