// Package metrics exposes Prometheus collectors for the intake API and the
// submission pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	submissionsTotal       *prometheus.CounterVec
	adapterResultsTotal    *prometheus.CounterVec
	adapterDurationSeconds *prometheus.HistogramVec
	synthesisAttemptsTotal *prometheus.CounterVec
	tokenResolutionsTotal  *prometheus.CounterVec
	intakeOutcomesTotal    *prometheus.CounterVec
	httpRequestsTotal      *prometheus.CounterVec
	httpDurationSeconds    *prometheus.HistogramVec
	inFlightSubmissions    prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	once.Do(func() {
		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsprofile_submissions_total",
				Help: "Submissions that reached a final pipeline outcome, labeled by status.",
			},
			[]string{"status"},
		)

		adapterResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsprofile_adapter_results_total",
				Help: "Data source adapter results, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		adapterDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsprofile_adapter_duration_seconds",
				Help:    "Data source adapter latency, labeled by source.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"source"},
		)

		synthesisAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsprofile_synthesis_attempts_total",
				Help: "Model synthesis attempts, labeled by result.",
			},
			[]string{"result"},
		)

		tokenResolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsprofile_token_resolutions_total",
				Help: "Access token lookups, labeled by resolution.",
			},
			[]string{"resolution"},
		)

		intakeOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsprofile_intake_outcomes_total",
				Help: "Intake decisions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsprofile_http_requests_total",
				Help: "HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsprofile_http_request_duration_seconds",
				Help:    "HTTP request latency, labeled by method and route.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)

		inFlightSubmissions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "opsprofile_in_flight_submissions",
				Help: "Submissions currently being processed by this instance.",
			},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission counts a final pipeline outcome.
func ObserveSubmission(status string) {
	Init()
	submissionsTotal.WithLabelValues(status).Inc()
}

// ObserveAdapter records one adapter run. result is "ok", "no_data",
// "error", "timeout" or "circuit_open".
func ObserveAdapter(source, result string, d time.Duration) {
	Init()
	adapterResultsTotal.WithLabelValues(source, result).Inc()
	adapterDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveSynthesisAttempt counts one model call by result.
func ObserveSynthesisAttempt(result string) {
	Init()
	synthesisAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveTokenResolution counts one token lookup by resolution kind.
func ObserveTokenResolution(resolution string) {
	Init()
	tokenResolutionsTotal.WithLabelValues(resolution).Inc()
}

// ObserveIntake counts an intake decision.
func ObserveIntake(outcome string) {
	Init()
	intakeOutcomesTotal.WithLabelValues(outcome).Inc()
}

// IncInFlight marks a submission as started on this instance.
func IncInFlight() {
	Init()
	inFlightSubmissions.Inc()
}

// DecInFlight marks a submission as finished on this instance.
func DecInFlight() {
	Init()
	inFlightSubmissions.Dec()
}

// Middleware records request count and latency by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}
