package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"emovoice/internal/config"
	"emovoice/internal/domain"
	"emovoice/internal/emotion"
	"emovoice/internal/logging"
)

type analyzeRequest struct {
	Text string `json:"text"`
}

type normalizeRequest struct {
	Emotion string `json:"emotion"`
}

func main() {
	cfg, err := config.LoadEmotionServerConfig()
	if err != nil {
		logging.New(logging.Options{}).Error("load config failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	analyzer := emotion.NewLexicalAnalyzer()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(analyzer, cfg.MaxBodyBytes),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("emotion server started", "addr", cfg.HTTPAddr, "schema", emotion.Schema, "engine", emotion.Engine)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

func newRouter(analyzer *emotion.LexicalAnalyzer, maxBody int64) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"schema": emotion.Schema,
			"engine": emotion.Engine,
			"labels": emotion.Labels(),
		})
	})
	r.Post("/v1/emotion/analyze", func(w http.ResponseWriter, req *http.Request) {
		var in analyzeRequest
		if err := decodeJSONBody(req, maxBody, &in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		in.Text = strings.TrimSpace(in.Text)
		if in.Text == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "text is required"})
			return
		}

		start := time.Now()
		out := analyzer.Analyze(in.Text)
		writeJSON(w, http.StatusOK, toAnalyzeResponse(out, time.Since(start)))
	})
	r.Post("/v1/emotion/normalize", func(w http.ResponseWriter, req *http.Request) {
		var in normalizeRequest
		if err := decodeJSONBody(req, maxBody, &in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if strings.TrimSpace(in.Emotion) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "emotion is required"})
			return
		}
		label := domain.NormalizeLabel(in.Emotion)
		writeJSON(w, http.StatusOK, map[string]any{
			"input":   in.Emotion,
			"emotion": label,
			"known":   domain.IsVocabulary(label),
		})
	})
	return r
}

func toAnalyzeResponse(out domain.EmotionEstimate, cost time.Duration) emotion.AnalyzeResponse {
	dist := make(map[string]float64, len(out.Distribution))
	for label, score := range out.Distribution {
		dist[label] = score
	}
	return emotion.AnalyzeResponse{
		PrimaryEmotion: out.PrimaryEmotion,
		Confidence:     out.Confidence,
		Distribution:   dist,
		Intensity:      out.Intensity,
		KeyPhrases:     out.KeyPhrases,
		Engine:         emotion.Engine,
		LatencyMS:      roundMillis(cost),
	}
}

func decodeJSONBody(req *http.Request, maxBytes int64, out any) error {
	defer req.Body.Close()
	data, err := io.ReadAll(io.LimitReader(req.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return fmt.Errorf("request body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid json: multiple JSON values")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func roundMillis(d time.Duration) float64 {
	ms := float64(d.Microseconds()) / 1000.0
	return math.Round(ms*1000) / 1000
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
