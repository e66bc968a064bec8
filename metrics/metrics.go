// Package metrics provides Prometheus metrics for the chat core.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can run without a registry.
type Metrics struct {
	APIRequestsTotal   *prometheus.CounterVec
	APIRetriesTotal    prometheus.Counter
	APIRequestDuration prometheus.Histogram

	StreamChunksTotal        prometheus.Counter
	StreamFramesSkippedTotal prometheus.Counter

	PluginHookFailuresTotal *prometheus.CounterVec

	PersistenceFailuresTotal *prometheus.CounterVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.APIRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwrap_api_requests_total",
			Help: "Total number of Model API attempts by outcome",
		},
		[]string{"status"},
	)

	m.APIRetriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwrap_api_retries_total",
			Help: "Total number of Model API retries",
		},
	)

	m.APIRequestDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatwrap_api_request_duration_seconds",
			Help:    "Duration of Model API attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.StreamChunksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwrap_stream_chunks_total",
			Help: "Total number of text deltas delivered from streams",
		},
	)

	m.StreamFramesSkippedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwrap_stream_frames_skipped_total",
			Help: "Total number of malformed SSE frames skipped",
		},
	)

	m.PluginHookFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwrap_plugin_hook_failures_total",
			Help: "Total number of plugin hook failures",
		},
		[]string{"plugin", "hook"},
	)

	m.PersistenceFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwrap_persistence_failures_total",
			Help: "Total number of failed storage operations",
		},
		[]string{"op"},
	)

	return m
}

// RecordAttempt records one Model API attempt. status is the HTTP status code,
// or 0 for a transport failure.
func (m *Metrics) RecordAttempt(status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "network_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.APIRequestsTotal.WithLabelValues(label).Inc()
	m.APIRequestDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.APIRetriesTotal.Inc()
}

func (m *Metrics) RecordChunk() {
	if m == nil {
		return
	}
	m.StreamChunksTotal.Inc()
}

func (m *Metrics) RecordSkippedFrame() {
	if m == nil {
		return
	}
	m.StreamFramesSkippedTotal.Inc()
}

func (m *Metrics) RecordHookFailure(pluginID, hook string) {
	if m == nil {
		return
	}
	m.PluginHookFailuresTotal.WithLabelValues(pluginID, hook).Inc()
}

func (m *Metrics) RecordPersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.PersistenceFailuresTotal.WithLabelValues(op).Inc()
}
