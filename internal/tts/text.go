package tts

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

var ttsReplacer = strings.NewReplacer(
	"“", "",
	"”", "",
	`"`, "",
	"‘", "'",
	"’", "'",
	"—", "-",
	"–", "-",
	"…", "...",
	"**", "",
	"__", "",
	"`", "",
	"#", "",
)

// CleanForTTS strips quotes and markdown emphasis, folds typographic
// punctuation and collapses whitespace.
func CleanForTTS(text string) string {
	text = ttsReplacer.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// Truncate shortens text to at most limit runes, ending with "...".
func Truncate(text string, limit int) string {
	const suffix = "..."
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	if limit <= len(suffix) {
		return string([]rune(text)[:limit])
	}
	return string([]rune(text)[:limit-len(suffix)]) + suffix
}

// FormatDuration renders "45.0s", "1m 30s" or "2m".
func FormatDuration(d time.Duration) string {
	seconds := d.Seconds()
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	minutes := int(seconds / 60)
	rest := math.Mod(seconds, 60)
	if rest > 0 {
		return fmt.Sprintf("%dm %.0fs", minutes, rest)
	}
	return fmt.Sprintf("%dm", minutes)
}
