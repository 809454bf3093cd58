package domain

import "time"

// Distribution maps an emotion label to a non-negative score.
type Distribution map[string]float64

// Clone returns a copy so callers can retain inputs without sharing the map.
func (d Distribution) Clone() Distribution {
	if d == nil {
		return nil
	}
	out := make(Distribution, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

type EmotionEstimate struct {
	PrimaryEmotion string       `json:"primary_emotion"`
	Confidence     float64      `json:"confidence"`
	Distribution   Distribution `json:"distribution"`
	Intensity      float64      `json:"intensity"`
	KeyPhrases     []string     `json:"key_phrases,omitempty"`
	Source         string       `json:"source,omitempty"`
}

type IntensityLevel string

const (
	LevelLow      IntensityLevel = "low"
	LevelMild     IntensityLevel = "mild"
	LevelModerate IntensityLevel = "moderate"
	LevelHigh     IntensityLevel = "high"
	LevelCrisis   IntensityLevel = "crisis"
)

// Elevated reports whether the level calls for calming, comfort-first handling.
func (l IntensityLevel) Elevated() bool {
	return l == LevelHigh || l == LevelCrisis
}

type FusedEmotionResult struct {
	PrimaryEmotion         string         `json:"primary_emotion"`
	Confidence             float64        `json:"confidence"`
	Distribution           Distribution   `json:"distribution"`
	Intensity              float64        `json:"intensity"`
	IntensityLevel         IntensityLevel `json:"intensity_level"`
	VoiceContribution      Distribution   `json:"voice_contribution"`
	TextContribution       Distribution   `json:"text_contribution"`
	KeyPhrases             []string       `json:"key_phrases,omitempty"`
	RequiresCrisisResponse bool           `json:"requires_crisis_response"`
}

type CrisisType string

const (
	CrisisNone            CrisisType = ""
	CrisisSelfHarm        CrisisType = "self_harm"
	CrisisHopelessness    CrisisType = "hopelessness"
	CrisisKeywords        CrisisType = "crisis_keywords"
	CrisisExtremeDistress CrisisType = "extreme_distress"
)

const (
	ActionCrisisResponse = "crisis_response"
	ActionComfortFirst   = "comfort_first"
	ActionNormal         = "normal"
)

type SafetyVerdict struct {
	IsCrisis             bool       `json:"is_crisis"`
	IsHighDistress       bool       `json:"is_high_distress"`
	CrisisType           CrisisType `json:"crisis_type,omitempty"`
	RecommendedAction    string     `json:"recommended_action"`
	ShouldSkipSuggestion bool       `json:"should_skip_suggestion"`
	PriorityMessage      string     `json:"priority_message,omitempty"`
	Resources            []string   `json:"resources,omitempty"`
}

// WellnessModule is the activity family a catalog entry belongs to.
type WellnessModule string

const (
	ModuleBreathing       WellnessModule = "breathing"
	ModuleGrounding       WellnessModule = "grounding"
	ModuleYoga            WellnessModule = "yoga"
	ModuleMeditation      WellnessModule = "guided_meditation"
	ModuleJournaling      WellnessModule = "journaling"
	ModuleSelfCompassion  WellnessModule = "self_compassion"
	ModuleMindfulness     WellnessModule = "mindfulness"
	ModuleBodyScan        WellnessModule = "body_scan"
	ModuleReassurance     WellnessModule = "reassurance"
	ModuleSafetyGrounding WellnessModule = "safety_grounding"
	ModuleCalming         WellnessModule = "calming_exercises"
	ModuleReflection      WellnessModule = "reflection"
	ModuleGratitude       WellnessModule = "gratitude"
	ModuleRest            WellnessModule = "rest"
	ModuleGeneralWellness WellnessModule = "general_wellness"
)

type WellnessSuggestion struct {
	Key          string         `json:"key" yaml:"key"`
	Module       WellnessModule `json:"module" yaml:"module"`
	Title        string         `json:"title" yaml:"title"`
	Description  string         `json:"description" yaml:"description"`
	Duration     string         `json:"duration" yaml:"duration"`
	Instructions []string       `json:"instructions" yaml:"instructions"`
	Tone         string         `json:"tone" yaml:"tone"`
}

// EmotionQuery is the minimal shape the wellness selector needs.
type EmotionQuery struct {
	PrimaryEmotion string         `json:"primary_emotion"`
	IntensityLevel IntensityLevel `json:"intensity_level"`
	RequiresCrisis bool           `json:"requires_crisis"`
}

type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	Text     string              `json:"text"`
	Language string              `json:"language"`
	Segments []TranscriptSegment `json:"segments,omitempty"`
	Source   string              `json:"source,omitempty"`
}

type ResponseContext struct {
	Transcript         string
	PrimaryEmotion     string
	Confidence         float64
	Intensity          float64
	IntensityLevel     IntensityLevel
	KeyPhrases         []string
	RequiresCrisis     bool
	WellnessSuggestion *WellnessSuggestion
	SuggestionText     string
}

type PipelineResult struct {
	RunID              string              `json:"run_id"`
	OriginalAudioPath  string              `json:"original_audio_path,omitempty"`
	ProcessedAudioPath string              `json:"processed_audio_path,omitempty"`
	Transcript         string              `json:"transcript"`
	Language           string              `json:"language"`
	VoiceEstimate      EmotionEstimate     `json:"voice_estimate"`
	TextEstimate       EmotionEstimate     `json:"text_estimate"`
	Fused              FusedEmotionResult  `json:"fused"`
	Safety             SafetyVerdict       `json:"safety"`
	WellnessSuggestion *WellnessSuggestion `json:"wellness_suggestion,omitempty"`
	Reply              string              `json:"reply"`
	ReplyAudioPath     string              `json:"reply_audio_path,omitempty"`
	Degraded           []string            `json:"degraded,omitempty"`
	StartedAt          time.Time           `json:"started_at"`
	LatencyMS          int64               `json:"latency_ms"`
}

type Message struct {
	Role    string
	Content string
}

type LLMRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type LLMResponse struct {
	Content string
}
