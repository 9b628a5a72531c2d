// Package metrics exposes Prometheus collectors for the mini app host.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the host's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "miniapp_host",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miniapp_host",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "miniapp_host",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	capabilityCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miniapp_host",
			Subsystem: "bridge",
			Name:      "capability_calls_total",
			Help:      "Capability calls by method and outcome code.",
		},
		[]string{"method", "outcome"},
	)

	capabilityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "miniapp_host",
			Subsystem: "bridge",
			Name:      "capability_duration_seconds",
			Help:      "Duration of capability calls, including time spent awaiting confirmation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"method"},
	)

	confirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miniapp_host",
			Subsystem: "bridge",
			Name:      "confirmations_total",
			Help:      "User confirmation prompts by kind and decision.",
		},
		[]string{"kind", "approved"},
	)

	droppedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miniapp_host",
			Subsystem: "transport",
			Name:      "dropped_messages_total",
			Help:      "Inbound or outbound messages dropped by the transport.",
		},
		[]string{"reason"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "miniapp_host",
			Subsystem: "bridge",
			Name:      "active_sessions",
			Help:      "Embedded content sessions currently open.",
		},
	)

	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miniapp_host",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Chain provider RPC calls by method and success.",
		},
		[]string{"method", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		capabilityCalls,
		capabilityDuration,
		confirmations,
		droppedMessages,
		activeSessions,
		providerCalls,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordCapabilityCall records a completed capability call. outcome is "ok"
// or the bridge error code.
func RecordCapabilityCall(method, outcome string, duration time.Duration) {
	if method == "" {
		method = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	capabilityCalls.WithLabelValues(method, outcome).Inc()
	capabilityDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordConfirmation records the decision on a confirmation prompt.
func RecordConfirmation(kind string, approved bool) {
	confirmations.WithLabelValues(kind, strconv.FormatBool(approved)).Inc()
}

// RecordDroppedMessage counts a message the transport discarded.
func RecordDroppedMessage(reason string) {
	droppedMessages.WithLabelValues(reason).Inc()
}

// SessionOpened increments the active session gauge.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { activeSessions.Dec() }

// RecordProviderCall records a chain RPC call.
func RecordProviderCall(method string, success bool) {
	providerCalls.WithLabelValues(method, strconv.FormatBool(success)).Inc()
}

// Hijack lets websocket upgrades pass through the status recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	// /v1/sessions/{id}/... collapses the session id
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "sessions" {
		parts[2] = ":id"
	}
	if len(parts) > 4 {
		parts = parts[:4]
	}
	return "/" + strings.Join(parts, "/")
}
