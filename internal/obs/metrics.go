package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raha_session_transitions_total",
			Help: "Auth state transitions broadcast by the session manager.",
		},
		[]string{"phase"},
	)

	StorageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raha_storage_failures_total",
			Help: "Device storage operations that failed and degraded to a no-op.",
		},
		[]string{"namespace", "op"},
	)

	AuditEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raha_audit_entries_total",
			Help: "Audit log entries recorded.",
		},
		[]string{"severity", "resolved"},
	)

	AnalyticsEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raha_analytics_events_total",
			Help: "Analytics events appended to the local event log.",
		},
		[]string{"type"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raha_build_info",
			Help: "Version and commit of the running daemon; always 1.",
		},
		[]string{"version", "commit"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			SessionTransitions, StorageFailures, AuditEntries, AnalyticsEvents,
			buildInfo,
		)
	})
}

// InitBuildInfo publishes raha_build_info for the running binary.
func InitBuildInfo(version, commit string) {
	Init()
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in known routes so metric labels stay bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "notes":
		return "/v1/notes/:id"
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "users":
		return "/v1/admin/users/:id/" + parts[4]
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "notes" && parts[4] == "status":
		return "/v1/admin/notes/:id/status"
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
