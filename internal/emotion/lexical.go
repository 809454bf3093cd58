package emotion

import (
	"context"
	"math"
	"regexp"
	"strings"

	"emovoice/internal/domain"
)

const (
	Schema = "distribution"
	Engine = "go-lexical-v2"
)

var emotionKeywords = []struct {
	emotion  string
	keywords []string
}{
	{emotion: domain.LabelSadness, keywords: []string{
		"sad", "depressed", "unhappy", "crying", "tears", "grief",
		"lonely", "alone", "hopeless", "empty", "loss", "hurt",
		"pain", "suffering", "miserable", "devastated",
	}},
	{emotion: domain.LabelAnger, keywords: []string{
		"angry", "furious", "mad", "annoyed", "frustrated", "irritated",
		"hate", "resent", "bitter", "rage", "upset", "livid",
	}},
	{emotion: domain.LabelFear, keywords: []string{
		"afraid", "scared", "terrified", "frightened", "panic",
		"worried", "nervous", "anxious", "dread", "terror",
	}},
	{emotion: domain.LabelAnxiety, keywords: []string{
		"anxious", "stressed", "overwhelmed", "worried", "tense",
		"restless", "uneasy", "nervous", "pressure", "can't cope",
	}},
	{emotion: domain.LabelJoy, keywords: []string{
		"happy", "joyful", "excited", "grateful", "thankful",
		"blessed", "content", "peaceful", "relieved", "hopeful",
	}},
	{emotion: domain.LabelConfusion, keywords: []string{
		"confused", "lost", "uncertain", "don't know", "unclear",
		"puzzled", "bewildered", "unsure",
	}},
	{emotion: domain.LabelFrustration, keywords: []string{
		"frustrated", "stuck", "blocked", "impossible", "give up",
		"can't do", "failing", "struggle",
	}},
}

var (
	intensifiers = []string{"very", "really", "so", "extremely", "incredibly", "terribly", "absolutely", "completely"}
	diminishers  = []string{"a bit", "slightly", "somewhat", "a little", "kind of", "sort of"}
	negations    = map[string]struct{}{
		"not": {}, "never": {}, "no": {}, "don't": {}, "doesn't": {}, "didn't": {},
		"won't": {}, "wouldn't": {}, "can't": {}, "couldn't": {}, "isn't": {}, "aren't": {},
	}

	feelPattern = regexp.MustCompile(`\bi(?: feel| am|'m) (\w+(?:\s+\w+)?)`)
	soPattern   = regexp.MustCompile(`\bso (\w+)`)
	wordPattern = regexp.MustCompile(`[\w']+`)
)

const (
	intensifierBoost = 1.3
	diminisherBoost  = 0.7
	negationWindow   = 3
	maxKeyPhrases    = 5
)

type keywordMatcher struct {
	emotion string
	keyword string
	re      *regexp.Regexp
}

var matchers = func() []keywordMatcher {
	var out []keywordMatcher
	for _, group := range emotionKeywords {
		for _, kw := range group.keywords {
			out = append(out, keywordMatcher{
				emotion: group.emotion,
				keyword: kw,
				re:      phraseRegexp(kw),
			})
		}
	}
	return out
}()

func phraseRegexp(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
}

var (
	intensifierRes = compileAll(intensifiers)
	diminisherRes  = compileAll(diminishers)
)

func compileAll(phrases []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, phraseRegexp(p))
	}
	return out
}

// LexicalAnalyzer scores text against keyword lists. It never fails and is
// the baseline text estimator.
type LexicalAnalyzer struct{}

func NewLexicalAnalyzer() *LexicalAnalyzer {
	return &LexicalAnalyzer{}
}

func (a *LexicalAnalyzer) Name() string { return "lexical" }

func (a *LexicalAnalyzer) Estimate(_ context.Context, text string) (domain.EmotionEstimate, error) {
	return a.Analyze(text), nil
}

// Labels lists the labels the analyzer can emit.
func Labels() []string {
	return append([]string(nil), domain.Vocabulary...)
}

func (a *LexicalAnalyzer) Analyze(text string) domain.EmotionEstimate {
	t := domain.FoldText(strings.TrimSpace(text))
	if t == "" {
		out := domain.NeutralTextEstimate()
		out.Source = a.Name()
		return out
	}

	boost := modifierBoost(t)
	length := float64(len(t))
	raw := make(map[string]float64, len(emotionKeywords))
	flips := make(map[string]float64, 2)

	for _, m := range matchers {
		loc := m.re.FindStringIndex(t)
		if loc == nil {
			continue
		}
		if negated(t[:loc[0]]) {
			switch m.emotion {
			case domain.LabelJoy:
				flips[domain.LabelSadness] += 0.3
			case domain.LabelSadness, domain.LabelAnger, domain.LabelFear, domain.LabelAnxiety:
				flips[domain.LabelNeutral] += 0.2
			}
			continue
		}
		weight := 1 - (float64(loc[0])/math.Max(length, 1))*0.3
		raw[m.emotion] += weight * boost
	}

	scores := make(domain.Distribution, len(domain.Vocabulary))
	for emotion, v := range flips {
		scores[emotion] = v
	}
	for emotion, v := range raw {
		if v > 0 {
			scores[emotion] = math.Min(1, v/2.5)
		}
	}
	for _, l := range domain.CoreLabels {
		if _, ok := scores[l]; !ok {
			scores[l] = 0.05
		}
	}
	if _, top := domain.TopLabel(scores); top < 0.15 {
		scores[domain.LabelNeutral] = 0.5
	}

	primary, top := domain.TopLabel(scores)
	return domain.EmotionEstimate{
		PrimaryEmotion: primary,
		Confidence:     math.Min(0.9, top*1.2),
		Distribution:   scores,
		Intensity:      clamp(1-scores[domain.LabelNeutral], 0, 1),
		KeyPhrases:     KeyPhrases(t),
		Source:         a.Name(),
	}
}

// modifierBoost returns the diminisher factor if any diminisher is present,
// otherwise the intensifier factor if any intensifier is present, else 1.
func modifierBoost(t string) float64 {
	for _, re := range diminisherRes {
		if re.MatchString(t) {
			return diminisherBoost
		}
	}
	for _, re := range intensifierRes {
		if re.MatchString(t) {
			return intensifierBoost
		}
	}
	return 1
}

// negated reports whether one of the last few words before a match is a
// negation word.
func negated(prefix string) bool {
	words := wordPattern.FindAllString(prefix, -1)
	start := len(words) - negationWindow
	if start < 0 {
		start = 0
	}
	for _, w := range words[start:] {
		if _, ok := negations[w]; ok {
			return true
		}
	}
	return false
}

// KeyPhrases extracts "I feel/am ..." and "so ..." phrases, deduplicated in
// order of appearance.
func KeyPhrases(text string) []string {
	t := domain.FoldText(text)
	var candidates []string
	for i, m := range feelPattern.FindAllStringSubmatch(t, -1) {
		if i == 3 {
			break
		}
		candidates = append(candidates, m[1])
	}
	for i, m := range soPattern.FindAllStringSubmatch(t, -1) {
		if i == 2 {
			break
		}
		candidates = append(candidates, m[1])
	}

	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if len(out) == maxKeyPhrases {
			break
		}
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
