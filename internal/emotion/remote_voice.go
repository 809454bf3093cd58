package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"emovoice/internal/domain"
)

// Short class names used by common speech-emotion checkpoints.
var speechModelLabels = map[string]string{
	"ang":         domain.LabelAnger,
	"hap":         domain.LabelJoy,
	"exc":         domain.LabelJoy,
	"sad":         domain.LabelSadness,
	"neu":         domain.LabelNeutral,
	"fea":         domain.LabelFear,
	"fearful":     domain.LabelFear,
	"calm":        domain.LabelNeutral,
	"distress":    domain.LabelSadness,
	"disgust":     domain.LabelAnger,
	"annoyance":   domain.LabelAnger,
	"contentment": domain.LabelJoy,
	"relief":      domain.LabelJoy,
}

type voiceScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type voicePrediction struct {
	Emotions        []voiceScore `json:"emotions"`
	DominantEmotion string       `json:"dominant_emotion"`
}

// RemoteVoiceEstimator uploads the clip to a speech-emotion model service
// and maps its class scores onto the vocabulary.
type RemoteVoiceEstimator struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewRemoteVoiceEstimator(baseURL, apiKey string, timeout time.Duration) *RemoteVoiceEstimator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteVoiceEstimator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http:    &http.Client{Timeout: timeout},
	}
}

func (r *RemoteVoiceEstimator) Enabled() bool {
	return r != nil && r.baseURL != ""
}

func (r *RemoteVoiceEstimator) Name() string { return "voice-model" }

func (r *RemoteVoiceEstimator) Estimate(ctx context.Context, audioPath string) (domain.EmotionEstimate, error) {
	if !r.Enabled() {
		return domain.EmotionEstimate{}, fmt.Errorf("%w: voice model service is not configured", domain.ErrBackendUnavailable)
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return domain.EmotionEstimate{}, fmt.Errorf("create form file: %w", err)
	}
	fd, err := os.Open(audioPath)
	if err != nil {
		return domain.EmotionEstimate{}, fmt.Errorf("open %s: %w", audioPath, err)
	}
	defer fd.Close()
	if _, err = io.Copy(fw, fd); err != nil {
		return domain.EmotionEstimate{}, fmt.Errorf("copy audio: %w", err)
	}
	if err = w.Close(); err != nil {
		return domain.EmotionEstimate{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/predict", &b)
	if err != nil {
		return domain.EmotionEstimate{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return domain.EmotionEstimate{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.EmotionEstimate{}, fmt.Errorf("voice model status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pred voicePrediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return domain.EmotionEstimate{}, fmt.Errorf("voice model decode: %w", err)
	}

	scores := make(map[string]float64, len(pred.Emotions))
	for _, s := range pred.Emotions {
		label := strings.ToLower(strings.TrimSpace(s.Label))
		if mapped, ok := speechModelLabels[label]; ok {
			label = mapped
		}
		// several model classes can fold onto one label; keep the strongest
		if s.Score > scores[label] {
			scores[label] = s.Score
		}
	}
	out, ok := estimateFromScores(scores, r.Name())
	if !ok {
		return domain.EmotionEstimate{}, fmt.Errorf("voice model returned no usable scores")
	}
	return out, nil
}
