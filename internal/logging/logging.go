package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

type Options struct {
	Level  string
	Format string // auto, text, json
	Output io.Writer
	// ShowSpeech disables masking of transcript and reply attributes.
	ShowSpeech bool
}

// New builds the process logger. Output defaults to stderr; "auto" picks
// text on a terminal and JSON otherwise.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		handler = slog.NewJSONHandler(opts.Output, hopts)
	case "text":
		handler = slog.NewTextHandler(opts.Output, hopts)
	default:
		if isTerminal(opts.Output) {
			handler = slog.NewTextHandler(opts.Output, hopts)
		} else {
			handler = slog.NewJSONHandler(opts.Output, hopts)
		}
	}
	return slog.New(NewRedactingHandler(handler, !opts.ShowSpeech))
}

// Discard is a logger for tests and quiet commands.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}
