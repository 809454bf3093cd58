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

// OpenAIWhisper uses the hosted /audio/transcriptions endpoint.
type OpenAIWhisper struct {
	baseURL  string
	apiKey   string
	model    string
	language string
	c        *http.Client
}

func NewOpenAIWhisper(baseURL, apiKey, model, language string, timeout time.Duration) *OpenAIWhisper {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(model) == "" {
		model = "whisper-1"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIWhisper{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:   strings.TrimSpace(apiKey),
		model:    model,
		language: strings.TrimSpace(language),
		c:        &http.Client{Timeout: timeout},
	}
}

func (o *OpenAIWhisper) Enabled() bool {
	return o != nil && o.apiKey != ""
}

func (o *OpenAIWhisper) Name() string { return "openai-whisper" }

func (o *OpenAIWhisper) Transcribe(ctx context.Context, audioPath string) (domain.Transcript, error) {
	if !o.Enabled() {
		return domain.Transcript{}, fmt.Errorf("%w: openai api key is not configured", domain.ErrBackendUnavailable)
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
	fields := map[string]string{
		"model":           o.model,
		"response_format": "verbose_json",
	}
	if o.language != "" {
		fields["language"] = o.language
	}
	for k, v := range fields {
		if err = w.WriteField(k, v); err != nil {
			return domain.Transcript{}, fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err = w.Close(); err != nil {
		return domain.Transcript{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/audio/transcriptions", &b)
	if err != nil {
		return domain.Transcript{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.c.Do(req)
	if err != nil {
		return domain.Transcript{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return domain.Transcript{}, fmt.Errorf("whisper status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out asrResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.Transcript{}, fmt.Errorf("whisper decode: %w", err)
	}
	return toTranscript(out.Text, out.Language, out.Segments, o.Name()), nil
}
