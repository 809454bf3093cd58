package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"emovoice/internal/domain"
)

// AnalyzeResponse is the body served by emotion-server's analyze endpoint.
type AnalyzeResponse struct {
	PrimaryEmotion string             `json:"primary_emotion"`
	Confidence     float64            `json:"confidence"`
	Distribution   map[string]float64 `json:"distribution"`
	Intensity      float64            `json:"intensity"`
	KeyPhrases     []string           `json:"key_phrases"`
	Engine         string             `json:"engine,omitempty"`
	LatencyMS      float64            `json:"latency_ms"`
}

// Client is a TextEstimator backed by a remote emotion-server.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

func (c *Client) Name() string { return "emotion-service" }

func (c *Client) Estimate(ctx context.Context, text string) (domain.EmotionEstimate, error) {
	if !c.Enabled() {
		return domain.EmotionEstimate{}, fmt.Errorf("%w: emotion service is not configured", domain.ErrBackendUnavailable)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		out := domain.NeutralTextEstimate()
		out.Source = c.Name()
		return out, nil
	}

	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/emotion/analyze", bytes.NewReader(body))
	if err != nil {
		return domain.EmotionEstimate{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.EmotionEstimate{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return domain.EmotionEstimate{}, fmt.Errorf("emotion service status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out AnalyzeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return domain.EmotionEstimate{}, err
	}
	if len(out.Distribution) == 0 {
		return domain.EmotionEstimate{}, fmt.Errorf("emotion service returned no distribution")
	}
	dist := domain.NormalizeDistribution(out.Distribution)
	primary := domain.NormalizeLabel(out.PrimaryEmotion)
	if primary == "" {
		primary, _ = domain.TopLabel(dist)
	}
	return domain.EmotionEstimate{
		PrimaryEmotion: primary,
		Confidence:     clamp(out.Confidence, 0, 1),
		Distribution:   dist,
		Intensity:      clamp(out.Intensity, 0, 1),
		KeyPhrases:     out.KeyPhrases,
		Source:         c.Name(),
	}, nil
}
