package transcribe

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

type asrSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type asrResponse struct {
	Text     string       `json:"text"`
	Segments []asrSegment `json:"segments"`
	Language string       `json:"language"`
}

// HTTPClient posts the clip to a self-hosted ASR service's /transcribe
// endpoint and reads back segments and the detected language.
type HTTPClient struct {
	baseURL  string
	language string
	c        *http.Client
}

func NewHTTPClient(baseURL, language string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		language: strings.TrimSpace(language),
		c:        &http.Client{Timeout: timeout},
	}
}

func (h *HTTPClient) Enabled() bool {
	return h != nil && h.baseURL != ""
}

func (h *HTTPClient) Name() string { return "asr-service" }

func (h *HTTPClient) Transcribe(ctx context.Context, audioPath string) (domain.Transcript, error) {
	if !h.Enabled() {
		return domain.Transcript{}, fmt.Errorf("%w: asr service is not configured", domain.ErrBackendUnavailable)
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("create form file: %w", err)
	}
	fd, err := os.Open(audioPath)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("open %s: %w", audioPath, err)
	}
	defer fd.Close()

	if _, err = io.Copy(fw, fd); err != nil {
		return domain.Transcript{}, fmt.Errorf("copy audio: %w", err)
	}
	if h.language != "" {
		if err = w.WriteField("language", h.language); err != nil {
			return domain.Transcript{}, fmt.Errorf("write language field: %w", err)
		}
	}
	if err = w.Close(); err != nil {
		return domain.Transcript{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/transcribe", &b)
	if err != nil {
		return domain.Transcript{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.c.Do(req)
	if err != nil {
		return domain.Transcript{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		const maxErr = 4096
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErr))
		return domain.Transcript{}, fmt.Errorf("asr status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out asrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Transcript{}, fmt.Errorf("asr decode: %w", err)
	}
	return toTranscript(out.Text, out.Language, out.Segments, h.Name()), nil
}

func toTranscript(text, language string, segs []asrSegment, source string) domain.Transcript {
	out := domain.Transcript{
		Text:     strings.TrimSpace(text),
		Language: language,
		Source:   source,
	}
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		seg := strings.TrimSpace(s.Text)
		if seg == "" {
			continue
		}
		out.Segments = append(out.Segments, domain.TranscriptSegment{Start: s.Start, End: s.End, Text: seg})
		parts = append(parts, seg)
	}
	if out.Text == "" {
		out.Text = strings.Join(parts, " ")
	}
	return out
}
