package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	return out
}

func TestNewMasksSpeechAndSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "debug", Format: "json", Output: &buf})

	logger.Info("pipeline done",
		"transcript", "I feel so alone",
		"key_phrases", []string{"so alone", "alone"},
		"api_key", "anything",
		"error", errors.New("call failed: Bearer abcdefghijklmnopqrstuvwxyz123"),
		"primary_emotion", "sadness",
	)

	line := decodeLine(t, &buf)
	assert.Equal(t, "[15 chars]", line["transcript"])
	assert.Equal(t, "[2 items]", line["key_phrases"])
	assert.Equal(t, redacted, line["api_key"])
	assert.Equal(t, "call failed: "+redacted, line["error"])
	assert.Equal(t, "sadness", line["primary_emotion"])
}

func TestShowSpeechKeepsTranscript(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "json", Output: &buf, ShowSpeech: true})
	logger.Info("debug run", "reply", "Take a slow breath.")
	assert.Equal(t, "Take a slow breath.", decodeLine(t, &buf)["reply"])
}

func TestRedactingHandlerWithAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil), true)).
		With("dsn", "postgres://u:p@h/db").
		WithGroup("run")
	logger.Info("saved", "text", "hello")

	line := decodeLine(t, &buf)
	assert.Equal(t, redacted, line["dsn"])
	group, ok := line["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[5 chars]", group["text"])
}

func TestRedactString(t *testing.T) {
	assert.Equal(t, "key "+redacted, RedactString("key sk-abcdefghijklmnopqrstuvwx"))
	assert.Equal(t, "dial postgres://emovoice:"+redacted+"@db:5432/emovoice",
		RedactString("dial postgres://emovoice:hunter2@db:5432/emovoice"))
	assert.Equal(t, "nothing secret", RedactString("nothing secret"))
}

func TestLevels(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))

	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Format: "text", Output: &buf})
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.True(t, strings.Contains(out, "shown"))
}
