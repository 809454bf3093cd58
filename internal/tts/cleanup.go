package tts

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupOld removes tts_*.mp3 and tts_*.wav files in dir whose modification
// time is older than maxAge. It returns the number of files removed.
func CleanupOld(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "tts_") {
			continue
		}
		if ext := filepath.Ext(name); ext != ".mp3" && ext != ".wav" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// RunCleanup sweeps dir every interval until ctx is done.
func RunCleanup(ctx context.Context, dir string, maxAge, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval < time.Minute {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	sweep := func(now time.Time) {
		n, err := CleanupOld(dir, maxAge, now)
		if err != nil {
			logger.Warn("tts cleanup failed", "dir", dir, "error", err)
			return
		}
		if n > 0 {
			logger.Debug("tts cleanup removed files", "dir", dir, "count", n)
		}
	}
	sweep(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("tts cleanup started", "dir", dir, "interval", interval, "max_age", maxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case tickAt := <-ticker.C:
			sweep(tickAt)
		}
	}
}
