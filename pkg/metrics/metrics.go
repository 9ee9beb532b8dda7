// Package metrics exposes the Prometheus collectors of the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Yinkun-Cheng/RAG/pkg/jobs"
)

var (
	indexOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_index_operations_total",
		Help: "Index synchronization operations by operation, backend and result",
	}, []string{"op", "backend", "result"})

	indexOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rag_index_operation_duration_seconds",
		Help:    "Index synchronization latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"op"})

	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_lifecycle_transitions_total",
		Help: "Artifact status transitions by kind, target status and result",
	}, []string{"kind", "to", "result"})

	searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_search_requests_total",
		Help: "Hybrid searches by result",
	}, []string{"result"})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_search_duration_seconds",
		Help:    "Hybrid search latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	reasoningCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_reasoning_calls_total",
		Help: "Reasoning service calls by result (ok, error, fallback)",
	}, []string{"result"})

	impactReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_impact_reports_total",
		Help: "Impact analyses by overall level",
	}, []string{"level"})

	deindexJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_deindex_jobs_total",
		Help: "Finished deindex job attempts by outcome",
	}, []string{"state"})

	deindexJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_deindex_job_duration_seconds",
		Help:    "Deindex job attempt latency",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_http_requests_total",
		Help: "HTTP requests by method, route pattern and status code",
	}, []string{"method", "route", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rag_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveIndexOp records one external index call.
func ObserveIndexOp(op, backend string, err error, d time.Duration) {
	indexOps.WithLabelValues(op, backend, result(err)).Inc()
	indexOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveTransition records a status transition attempt.
func ObserveTransition(kind, to string, err error) {
	transitions.WithLabelValues(kind, to, result(err)).Inc()
}

// ObserveSearch records one hybrid search.
func ObserveSearch(err error, d time.Duration) {
	searches.WithLabelValues(result(err)).Inc()
	searchDuration.Observe(d.Seconds())
}

// ObserveReasoning records a reasoning call outcome.
func ObserveReasoning(outcome string) {
	reasoningCalls.WithLabelValues(outcome).Inc()
}

// ObserveImpactReport records a finished impact analysis.
func ObserveImpactReport(level string) {
	impactReports.WithLabelValues(level).Inc()
}

// JobObserver feeds deindex worker outcomes into Prometheus.
type JobObserver struct{}

// JobFinished implements jobs.Observer.
func (JobObserver) JobFinished(state jobs.JobState, d time.Duration) {
	deindexJobs.WithLabelValues(string(state)).Inc()
	deindexJobDuration.Observe(d.Seconds())
}

// Middleware records request counts and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
