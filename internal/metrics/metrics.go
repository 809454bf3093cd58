package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emovoice/internal/domain"
)

// Metrics holds the pipeline and HTTP collectors. It is also a run sink.
type Metrics struct {
	gatherer prometheus.Gatherer

	Runs            *prometheus.CounterVec
	DegradedStages  *prometheus.CounterVec
	CrisisRuns      *prometheus.CounterVec
	Suggestions     *prometheus.CounterVec
	RunLatency      prometheus.Histogram
	FusedIntensity  prometheus.Histogram
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emovoice_runs_total",
				Help: "Pipeline runs by fused emotion and intensity level",
			},
			[]string{"emotion", "level"},
		),
		DegradedStages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emovoice_degraded_stages_total",
				Help: "Pipeline stages that fell back to a default",
			},
			[]string{"stage"},
		),
		CrisisRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emovoice_crisis_runs_total",
				Help: "Runs flagged as crisis by crisis type",
			},
			[]string{"type"},
		),
		Suggestions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emovoice_suggestions_total",
				Help: "Wellness activities suggested",
			},
			[]string{"activity"},
		),
		RunLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "emovoice_run_latency_seconds",
				Help:    "End-to-end pipeline latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
		),
		FusedIntensity: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "emovoice_fused_intensity",
				Help:    "Fused emotional intensity",
				Buckets: []float64{0.3, 0.5, 0.7, 0.85, 1},
			},
		),
		RequestCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emovoice_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "emovoice_http_request_duration_seconds",
				Help: "HTTP request duration in seconds",
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) RecordRun(_ context.Context, r domain.PipelineResult) error {
	m.Runs.WithLabelValues(r.Fused.PrimaryEmotion, string(r.Fused.IntensityLevel)).Inc()
	for _, stage := range r.Degraded {
		m.DegradedStages.WithLabelValues(stage).Inc()
	}
	if r.Safety.IsCrisis {
		m.CrisisRuns.WithLabelValues(string(r.Safety.CrisisType)).Inc()
	}
	if r.WellnessSuggestion != nil {
		m.Suggestions.WithLabelValues(r.WellnessSuggestion.Key).Inc()
	}
	m.RunLatency.Observe(float64(r.LatencyMS) / 1000)
	m.FusedIntensity.Observe(r.Fused.Intensity)
	return nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests by chi route pattern so path ids stay out of
// label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rc := chi.RouteContext(req.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCount.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
