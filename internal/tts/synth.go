package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"emovoice/internal/domain"
)

// Synthesizer turns reply text into an audio file. An empty path with a nil
// error means no audio was produced, which callers treat as a valid outcome.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, emotion string) (string, error)
}

// VoiceSettings shape delivery per emotion.
type VoiceSettings struct {
	Speed  float64 `json:"speed"`
	Pitch  float64 `json:"pitch"`
	Warmth string  `json:"warmth"`
}

var voiceSettings = map[string]VoiceSettings{
	domain.LabelSadness:     {Speed: 0.85, Pitch: 0.95, Warmth: "high"},
	domain.LabelAnger:       {Speed: 0.90, Pitch: 1.0, Warmth: "medium"},
	domain.LabelAnxiety:     {Speed: 0.88, Pitch: 0.98, Warmth: "high"},
	domain.LabelFear:        {Speed: 0.82, Pitch: 0.95, Warmth: "very_high"},
	domain.LabelFrustration: {Speed: 0.88, Pitch: 1.0, Warmth: "medium"},
	domain.LabelNeutral:     {Speed: 0.92, Pitch: 1.0, Warmth: "medium"},
	domain.LabelJoy:         {Speed: 0.95, Pitch: 1.02, Warmth: "medium"},
	domain.LabelConfusion:   {Speed: 0.90, Pitch: 1.0, Warmth: "medium"},
}

// SettingsFor returns the settings for an emotion label, neutral when the
// label is unknown.
func SettingsFor(emotion string) VoiceSettings {
	if s, ok := voiceSettings[domain.NormalizeLabel(emotion)]; ok {
		return s
	}
	return voiceSettings[domain.LabelNeutral]
}

// Nop never produces audio.
type Nop struct{}

func (Nop) Synthesize(context.Context, string, string) (string, error) { return "", nil }

type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Voice     string
	OutputDir string
	Timeout   time.Duration
}

// OpenAISynthesizer calls /audio/speech and writes mp3 files to OutputDir.
type OpenAISynthesizer struct {
	baseURL   string
	apiKey    string
	model     string
	voice     string
	outputDir string
	http      *http.Client
	logger    *slog.Logger
}

func NewOpenAISynthesizer(cfg OpenAIConfig, logger *slog.Logger) (*OpenAISynthesizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: openai api key is required for speech synthesis", domain.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		cfg.OutputDir = filepath.Join(os.TempDir(), "emovoice_tts")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tts output dir: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "tts-1"
	}
	voice := strings.TrimSpace(cfg.Voice)
	if voice == "" {
		voice = "nova"
	}
	return &OpenAISynthesizer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		model:     model,
		voice:     voice,
		outputDir: cfg.OutputDir,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}, nil
}

func (s *OpenAISynthesizer) OutputDir() string { return s.outputDir }

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// Synthesize writes tts_<emotion>_<millis>_<id>.mp3. Empty text yields no
// file and no error.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, emotion string) (string, error) {
	text = CleanForTTS(text)
	if text == "" {
		return "", nil
	}
	label := domain.NormalizeLabel(emotion)
	if label == "" {
		label = domain.LabelNeutral
	}
	settings := SettingsFor(label)

	body, _ := json.Marshal(speechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: "mp3",
		Speed:          settings.Speed,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("tts status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("tts returned empty audio")
	}

	name := fmt.Sprintf("tts_%s_%d_%s.mp3", label, time.Now().UnixMilli(), uuid.NewString()[:8])
	path := filepath.Join(s.outputDir, name)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("write tts audio: %w", err)
	}
	s.logger.Debug("reply audio written", "path", path, "bytes", len(audio), "speed", settings.Speed)
	return path, nil
}
