// Package metrics exposes Prometheus collectors for the ingestion pipeline
// and the HTTP API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineRunsTotal          *prometheus.CounterVec
	pipelineStageSeconds       *prometheus.HistogramVec
	crawlAttemptsTotal         *prometheus.CounterVec
	rawHTMLDedupTotal          *prometheus.CounterVec
	qualityRejectionsTotal     prometheus.Counter
	generativeRequestsTotal    *prometheus.CounterVec
	modelFallbacksTotal        *prometheus.CounterVec
	embeddingsTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	jobRetriesTotal            prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiddenspot_pipeline_runs_total",
				Help: "Pipeline runs by terminal status and error type.",
			},
			[]string{"status", "error_type"},
		)

		pipelineStageSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hiddenspot_pipeline_stage_seconds",
				Help:    "Duration of pipeline stages.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage", "status"},
		)

		crawlAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiddenspot_crawl_attempts_total",
				Help: "Crawl attempts by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		rawHTMLDedupTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiddenspot_raw_html_writes_total",
				Help: "Raw HTML persistence decisions (saved or deduplicated).",
			},
			[]string{"result"},
		)

		qualityRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hiddenspot_quality_rejections_total",
				Help: "Review batches rejected by the quality gate.",
			},
		)

		generativeRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiddenspot_generative_requests_total",
				Help: "Generative requests by phase (map/reduce), model and outcome.",
			},
			[]string{"phase", "model", "outcome"},
		)

		modelFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiddenspot_model_fallbacks_total",
				Help: "Model switches after the configured model was rejected.",
			},
			[]string{"kind", "from", "to"},
		)

		embeddingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiddenspot_embeddings_total",
				Help: "Store document embeddings by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hiddenspot_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		jobRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hiddenspot_job_retries_total",
				Help: "Jobs re-enqueued after a retryable failure.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hiddenspot_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname. It returns "unknown" if the
// URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun counts a terminal pipeline outcome.
func ObserveRun(status, errorType string) {
	Init()
	pipelineRunsTotal.WithLabelValues(status, errorType).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage, status string, d time.Duration) {
	Init()
	pipelineStageSeconds.WithLabelValues(stage, status).Observe(d.Seconds())
}

// ObserveCrawlAttempt counts one crawler invocation.
func ObserveCrawlAttempt(rawURL, outcome string) {
	Init()
	crawlAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveRawHTMLWrite counts a saved or deduplicated raw page.
func ObserveRawHTMLWrite(saved bool) {
	Init()
	result := "deduplicated"
	if saved {
		result = "saved"
	}
	rawHTMLDedupTotal.WithLabelValues(result).Inc()
}

// ObserveQualityRejection counts a quality gate failure.
func ObserveQualityRejection() {
	Init()
	qualityRejectionsTotal.Inc()
}

// ObserveGenerative counts a generative request.
func ObserveGenerative(phase, model, outcome string) {
	Init()
	generativeRequestsTotal.WithLabelValues(phase, model, outcome).Inc()
}

// ObserveModelFallback counts a permanent model switch.
func ObserveModelFallback(kind, from, to string) {
	Init()
	modelFallbacksTotal.WithLabelValues(kind, from, to).Inc()
}

// ObserveEmbedding counts an embedding attempt.
func ObserveEmbedding(outcome string) {
	Init()
	embeddingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveJobRetry counts a re-enqueued job.
func ObserveJobRetry() {
	Init()
	jobRetriesTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
