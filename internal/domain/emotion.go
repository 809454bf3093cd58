package domain

import (
	"sort"
	"strings"
)

const (
	LabelSadness     = "sadness"
	LabelAnger       = "anger"
	LabelFear        = "fear"
	LabelAnxiety     = "anxiety"
	LabelJoy         = "joy"
	LabelNeutral     = "neutral"
	LabelConfusion   = "confusion"
	LabelFrustration = "frustration"
)

// CoreLabels must be present in every estimator distribution.
var CoreLabels = []string{
	LabelSadness, LabelAnger, LabelFear, LabelAnxiety, LabelJoy, LabelNeutral,
}

// Vocabulary is the full label set in tie-break order.
var Vocabulary = []string{
	LabelSadness, LabelAnger, LabelFear, LabelAnxiety, LabelJoy, LabelNeutral,
	LabelConfusion, LabelFrustration,
}

var labelAliases = map[string]string{
	"sad":        LabelSadness,
	"angry":      LabelAnger,
	"happy":      LabelJoy,
	"happiness":  LabelJoy,
	"fearful":    LabelFear,
	"scared":     LabelFear,
	"anxious":    LabelAnxiety,
	"confused":   LabelConfusion,
	"frustrated": LabelFrustration,
	"calm":       LabelNeutral,
}

var vocabularyRank = func() map[string]int {
	out := make(map[string]int, len(Vocabulary))
	for i, l := range Vocabulary {
		out[l] = i
	}
	return out
}()

// NormalizeLabel lower-cases a label and folds known aliases onto the vocabulary.
// Unknown labels are returned lower-cased so extras survive fusion.
func NormalizeLabel(label string) string {
	key := strings.TrimSpace(strings.ToLower(label))
	if key == "" {
		return ""
	}
	if aliased, ok := labelAliases[key]; ok {
		return aliased
	}
	return key
}

// IsVocabulary reports whether label belongs to the fixed vocabulary.
func IsVocabulary(label string) bool {
	_, ok := vocabularyRank[label]
	return ok
}

// OrderedLabels returns the keys of the given distributions in tie-break
// order: vocabulary labels first, then extras sorted lexically.
func OrderedLabels(dists ...Distribution) []string {
	seen := make(map[string]struct{})
	var extras []string
	for _, d := range dists {
		for k := range d {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			if !IsVocabulary(k) {
				extras = append(extras, k)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for _, l := range Vocabulary {
		if _, ok := seen[l]; ok {
			out = append(out, l)
		}
	}
	sort.Strings(extras)
	return append(out, extras...)
}

// TopLabel returns the argmax of the distribution. Earlier labels in
// OrderedLabels win ties.
func TopLabel(d Distribution) (string, float64) {
	labels := OrderedLabels(d)
	if len(labels) == 0 {
		return LabelNeutral, 0
	}
	top := labels[0]
	topScore := d[top]
	for _, k := range labels[1:] {
		if d[k] > topScore {
			top = k
			topScore = d[k]
		}
	}
	return top, topScore
}

// BackfillCore sets every missing core label to 0.
func BackfillCore(d Distribution) Distribution {
	if d == nil {
		d = Distribution{}
	}
	for _, l := range CoreLabels {
		if _, ok := d[l]; !ok {
			d[l] = 0
		}
	}
	return d
}

// NormalizeDistribution folds aliases, sums duplicates and backfills core labels.
func NormalizeDistribution(in map[string]float64) Distribution {
	out := make(Distribution, len(in)+len(CoreLabels))
	for k, v := range in {
		key := NormalizeLabel(k)
		if key == "" {
			continue
		}
		out[key] += v
	}
	return BackfillCore(out)
}

// NeutralVoiceEstimate is the estimate used when every voice backend failed.
func NeutralVoiceEstimate() EmotionEstimate {
	return EmotionEstimate{
		PrimaryEmotion: LabelNeutral,
		Confidence:     0.5,
		Distribution: BackfillCore(Distribution{
			LabelAnger:   0.1,
			LabelJoy:     0.1,
			LabelSadness: 0.1,
			LabelNeutral: 0.7,
		}),
		Intensity: 0.3,
		Source:    "default",
	}
}

// NeutralTextEstimate is the estimate used for empty or unanalysable text.
func NeutralTextEstimate() EmotionEstimate {
	return EmotionEstimate{
		PrimaryEmotion: LabelNeutral,
		Confidence:     0.3,
		Distribution:   BackfillCore(Distribution{LabelNeutral: 0.5}),
		KeyPhrases:     []string{},
		Source:         "default",
	}
}
