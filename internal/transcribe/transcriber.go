package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"emovoice/internal/domain"
)

// Placeholder is the transcript text used when no backend produced one.
const Placeholder = "[transcription unavailable]"

type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) (domain.Transcript, error)
}

// PlaceholderTranscript is returned by Cascade when every backend failed.
func PlaceholderTranscript() domain.Transcript {
	return domain.Transcript{Text: Placeholder, Language: "unknown", Source: "placeholder"}
}

// IsPlaceholder reports whether text is the placeholder, so downstream
// stages can skip text analysis.
func IsPlaceholder(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), Placeholder)
}

// Cascade asks each backend in turn. An empty transcript from a backend is
// a valid result (silence); only errors move on to the next backend.
type Cascade struct {
	backends []Transcriber
	logger   *slog.Logger
}

func NewCascade(logger *slog.Logger, backends ...Transcriber) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{backends: backends, logger: logger}
}

func (c *Cascade) Name() string { return "transcribe-cascade" }

func (c *Cascade) Transcribe(ctx context.Context, audioPath string) (domain.Transcript, error) {
	var errs []error
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return PlaceholderTranscript(), err
		}
		out, err := b.Transcribe(ctx, audioPath)
		if err != nil {
			c.logger.Warn("transcriber failed", "transcriber", b.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		out.Text = CleanText(out.Text)
		if out.Language == "" {
			out.Language = "unknown"
		}
		if out.Source == "" {
			out.Source = b.Name()
		}
		return out, nil
	}
	return PlaceholderTranscript(), fmt.Errorf("%w: %w", domain.ErrAllBackendsFailed, errors.Join(errs...))
}

var annotation = regexp.MustCompile(`\[(?i:music|applause|laughter|noise|silence|inaudible|blank_audio)\]|\((?i:music|applause|laughter|noise|silence|inaudible)\)`)

// CleanText drops bracketed sound annotations, collapses whitespace,
// capitalises the first letter and ends the text with punctuation.
func CleanText(text string) string {
	text = annotation.ReplaceAllString(text, " ")
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	if c := text[0]; c >= 'a' && c <= 'z' {
		text = string(c-'a'+'A') + text[1:]
	}
	if !strings.ContainsAny(text[len(text)-1:], ".!?") {
		text += "."
	}
	return text
}
