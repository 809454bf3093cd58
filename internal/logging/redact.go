package logging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// speechKeys carry what the user said or what we said back.
var speechKeys = map[string]bool{
	"transcript":  true,
	"text":        true,
	"reply":       true,
	"key_phrases": true,
}

var secretKeys = map[string]bool{
	"api_key":       true,
	"apikey":        true,
	"password":      true,
	"authorization": true,
	"dsn":           true,
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{40,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),
	regexp.MustCompile(`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/\s]+:)[^@\s]+@`),
}

// RedactString masks API keys, bearer tokens and DSN passwords in s.
func RedactString(s string) string {
	for _, p := range secretPatterns {
		if p.NumSubexp() > 0 {
			s = p.ReplaceAllString(s, "${1}"+redacted+"@")
			continue
		}
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

// RedactingHandler masks secrets everywhere and, when speech masking is on,
// replaces transcript and reply attributes with their length.
type RedactingHandler struct {
	handler    slog.Handler
	maskSpeech bool
}

func NewRedactingHandler(h slog.Handler, maskSpeech bool) *RedactingHandler {
	return &RedactingHandler{handler: h, maskSpeech: maskSpeech}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, RedactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.handler.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.redactAttr(a)
	}
	return &RedactingHandler{handler: h.handler.WithAttrs(clean), maskSpeech: h.maskSpeech}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{handler: h.handler.WithGroup(name), maskSpeech: h.maskSpeech}
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	key := strings.ToLower(a.Key)

	if secretKeys[key] {
		return slog.String(a.Key, redacted)
	}
	if h.maskSpeech && speechKeys[key] {
		return slog.String(a.Key, maskedLength(a.Value))
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, RedactString(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		clean := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			clean[i] = h.redactAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, RedactString(err.Error()))
		}
	}
	return a
}

func maskedLength(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return fmt.Sprintf("[%d chars]", len([]rune(v.String())))
	case slog.KindAny:
		if items, ok := v.Any().([]string); ok {
			return fmt.Sprintf("[%d items]", len(items))
		}
	}
	return redacted
}
