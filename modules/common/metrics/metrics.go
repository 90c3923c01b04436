// Package metrics holds the Prometheus collectors for HTTP traffic and the
// fitting pipeline.
//
// HTTP labels use the registered mux route template, never the raw URL, so
// /api/fitting/generations/{id} stays one series.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Generations counts terminal outcomes by status (completed/failed) and
	// failure kind ("" on success).
	Generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitting_generations_total",
			Help: "Generation attempts by terminal status and failure kind.",
		},
		[]string{"status", "kind"},
	)

	// SynthesisAttempts counts provider calls made by the synthesis stage.
	SynthesisAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitting_synthesis_attempts_total",
			Help: "Primary image synthesis provider calls by outcome.",
		},
		[]string{"outcome"},
	)

	// Edits counts post-processing edits by kind and outcome.
	Edits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitting_edits_total",
			Help: "Post-processing edits by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// SettlementFailures counts non-critical settlement writes that failed.
	SettlementFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitting_settlement_failures_total",
			Help: "Settlement side effects that failed without aborting the attempt.",
		},
		[]string{"step"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitting_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	ReapedGenerations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fitting_reaped_generations_total",
			Help: "Generations stuck in processing that were marked failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpReqs, httpLat, httpInflight,
		Generations, SynthesisAttempts, Edits, SettlementFailures, StageDuration, ReapedGenerations,
	)
}

// ObserveStage - defer metrics.ObserveStage("synthesis")() 형태로 사용
func ObserveStage(stage string) func() {
	start := time.Now()
	return func() {
		StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware - mux 라우터용 HTTP 계측
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := RoutePath(r)
		httpReqs.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpLat.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RoutePath - 매칭된 route template, 없으면 raw path
func RoutePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
