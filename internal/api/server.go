package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"emovoice/internal/db"
	"emovoice/internal/domain"
	"emovoice/internal/wellness"
)

type Processor interface {
	Process(ctx context.Context, audioPath string) (domain.PipelineResult, error)
}

type RunStore interface {
	RecentRuns(ctx context.Context, f db.RunFilter) ([]domain.PipelineResult, error)
	GetRun(ctx context.Context, runID string) (domain.PipelineResult, error)
	EmotionCounts(ctx context.Context, since time.Time) ([]db.EmotionCount, error)
}

type DeviceLister interface {
	OnlineDevices() []string
}

// Exporter instruments requests and serves /metrics.
type Exporter interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

type Config struct {
	MaxUploadBytes int64
	// UploadDir receives multipart uploads for the duration of a run. JSON
	// requests may only name files inside it.
	UploadDir string
	// AudioDir is where synthesized replies are served from.
	AudioDir       string
	ProcessTimeout time.Duration
	// Metrics is optional.
	Metrics Exporter
}

type Server struct {
	cfg      Config
	proc     Processor
	selector *wellness.Selector
	store    RunStore
	devices  DeviceLister
	logger   *slog.Logger
}

// NewServer wires the HTTP surface. store and devices may be nil; run
// history routes then answer 503.
func NewServer(cfg Config, proc Processor, selector *wellness.Selector, store RunStore, devices DeviceLister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 2 * time.Minute
	}
	return &Server{
		cfg:      cfg,
		proc:     proc,
		selector: selector,
		store:    store,
		devices:  devices,
		logger:   logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.cfg.Metrics != nil {
		r.Use(s.cfg.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/process", s.handleProcess)
		r.Get("/wellness/catalog", s.handleCatalog)
		r.Get("/wellness/suggestions", s.handleSuggestions)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/stats", s.handleRunStats)
		r.Get("/runs/{runID}", s.handleRun)
		r.Get("/audio/{name}", s.handleAudio)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		s.logger.Debug("http request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(req.Context()),
			"ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"ok":         true,
		"store":      s.store != nil,
		"activities": s.selector.Catalog().Len(),
	}
	if s.devices != nil {
		body["devices_online"] = len(s.devices.OnlineDevices())
	}
	writeJSON(w, http.StatusOK, body)
}

type processRequest struct {
	AudioPath string `json:"audio_path"`
}

func (s *Server) handleProcess(w http.ResponseWriter, req *http.Request) {
	path, cleanup, err := s.audioFromRequest(w, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(req.Context(), s.cfg.ProcessTimeout)
	defer cancel()

	result, err := s.proc.Process(ctx, path)
	if errors.Is(err, domain.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		s.logger.Error("process failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, publicResult(result))
}

// publicResult hides the server's filesystem layout. Reply audio is
// addressed by file name under /v1/audio.
func publicResult(r domain.PipelineResult) domain.PipelineResult {
	r.OriginalAudioPath = ""
	r.ProcessedAudioPath = ""
	if r.ReplyAudioPath != "" {
		r.ReplyAudioPath = filepath.Base(r.ReplyAudioPath)
	}
	return r
}

// audioFromRequest accepts a multipart "audio" file or a JSON body naming a
// file in the upload directory. Uploaded files are removed by the returned
// cleanup.
func (s *Server) audioFromRequest(w http.ResponseWriter, req *http.Request) (string, func(), error) {
	nop := func() {}
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		req.Body = http.MaxBytesReader(w, req.Body, s.cfg.MaxUploadBytes)
		if err := req.ParseMultipartForm(8 << 20); err != nil {
			return "", nop, fmt.Errorf("invalid multipart body: %w", err)
		}
		file, header, err := req.FormFile("audio")
		if err != nil {
			return "", nop, errors.New("audio file field is required")
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if ext == "" {
			ext = ".wav"
		}
		tmp, err := os.CreateTemp(s.cfg.UploadDir, "upload_*"+ext)
		if err != nil {
			return "", nop, fmt.Errorf("store upload: %w", err)
		}
		cleanup := func() { _ = os.Remove(tmp.Name()) }
		if _, err := io.Copy(tmp, file); err != nil {
			tmp.Close()
			cleanup()
			return "", nop, fmt.Errorf("store upload: %w", err)
		}
		if err := tmp.Close(); err != nil {
			cleanup()
			return "", nop, fmt.Errorf("store upload: %w", err)
		}
		return tmp.Name(), cleanup, nil
	}

	var in processRequest
	if err := decodeJSONBody(req, 64<<10, &in); err != nil {
		return "", nop, err
	}
	in.AudioPath = strings.TrimSpace(in.AudioPath)
	if in.AudioPath == "" {
		return "", nop, errors.New("audio_path is required")
	}
	path, err := s.uploadPath(in.AudioPath)
	if err != nil {
		return "", nop, err
	}
	return path, nop, nil
}

// uploadPath resolves raw against UploadDir and rejects anything outside it,
// including symlinks that point elsewhere.
func (s *Server) uploadPath(raw string) (string, error) {
	root, err := filepath.Abs(s.cfg.UploadDir)
	if err != nil {
		return "", fmt.Errorf("resolve upload dir: %w", err)
	}
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	if !within(root, path) {
		return "", fmt.Errorf("%w: audio_path must be inside the upload directory", domain.ErrInvalidInput)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}
	if real, err := filepath.EvalSymlinks(path); err == nil && !within(realRoot, real) {
		return "", fmt.Errorf("%w: audio_path must be inside the upload directory", domain.ErrInvalidInput)
	}
	return path, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	all := s.selector.Catalog().All()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(all),
		"activities": all,
	})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	count, err := intParam(q.Get("count"), 3, 1, 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("count: %w", err))
		return
	}
	query := wellness.QueryFromLabel(q.Get("emotion"), q.Get("level"))
	items := s.selector.AllSuggestions(query, count)

	texts := make([]string, len(items))
	for i, a := range items {
		texts[i] = s.selector.SuggestionText(a, query)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"emotion":         query.PrimaryEmotion,
		"intensity_level": query.IntensityLevel,
		"skip":            wellness.ShouldSkip(query),
		"suggestions":     items,
		"texts":           texts,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, req *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "run history is not configured"})
		return
	}
	q := req.URL.Query()
	limit, err := intParam(q.Get("limit"), 20, 1, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
		return
	}
	crisisOnly, _ := strconv.ParseBool(q.Get("crisis"))

	runs, err := s.store.RecentRuns(req.Context(), db.RunFilter{
		Limit:      limit,
		Emotion:    q.Get("emotion"),
		CrisisOnly: crisisOnly,
	})
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for i := range runs {
		runs[i] = publicResult(runs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(runs), "runs": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, req *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "run history is not configured"})
		return
	}
	run, err := s.store.GetRun(req.Context(), chi.URLParam(req, "runID"))
	if errors.Is(err, db.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.logger.Error("get run failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, publicResult(run))
}

func (s *Server) handleRunStats(w http.ResponseWriter, req *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "run history is not configured"})
		return
	}
	window := 24 * time.Hour
	if v := req.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "window must be a positive duration"})
			return
		}
		window = d
	}
	since := time.Now().Add(-window).UTC()
	counts, err := s.store.EmotionCounts(req.Context(), since)
	if err != nil {
		s.logger.Error("run stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": since, "emotions": counts})
}

func (s *Server) handleAudio(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "name")
	if s.cfg.AudioDir == "" || !servableAudio(name) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	path := filepath.Join(s.cfg.AudioDir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	if strings.HasSuffix(name, ".mp3") {
		w.Header().Set("Content-Type", "audio/mpeg")
	} else {
		w.Header().Set("Content-Type", "audio/wav")
	}
	http.ServeFile(w, req, path)
}

// servableAudio allows only bare tts_* reply file names.
func servableAudio(name string) bool {
	if name == "" || filepath.Base(name) != name || strings.Contains(name, "..") {
		return false
	}
	if !strings.HasPrefix(name, "tts_") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".mp3" || ext == ".wav"
}

func intParam(raw string, def, lo, hi int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("must be between %d and %d", lo, hi)
	}
	return n, nil
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
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
