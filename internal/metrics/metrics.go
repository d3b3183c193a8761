// Package metrics exposes Prometheus instruments for the chat and
// extraction pipelines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "laiive_stream_duration_seconds",
		Help:    "Duration of relayed chat streams",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"endpoint", "status"})

	toolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laiive_tool_executions_total",
		Help: "Tool calls executed mid-stream grouped by tool and status",
	}, []string{"tool", "status"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "laiive_tool_duration_seconds",
		Help:    "Duration of tool executions",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"tool"})

	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laiive_rate_limit_rejections_total",
		Help: "Requests denied by the fixed-window rate limiter",
	}, []string{"endpoint"})

	moderationVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laiive_moderation_verdicts_total",
		Help: "Moderation outcomes grouped by check type and verdict",
	}, []string{"check", "verdict"})
)

// ObserveStream records one relayed stream.
func ObserveStream(endpoint, status string, duration time.Duration) {
	streamDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// ObserveToolExecution records one tool call.
func ObserveToolExecution(tool, status string, duration time.Duration) {
	toolExecutions.WithLabelValues(tool, status).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// IncRateLimited counts a denied request.
func IncRateLimited(endpoint string) {
	rateLimitRejections.WithLabelValues(endpoint).Inc()
}

// ObserveModeration counts one moderation verdict.
func ObserveModeration(check, verdict string) {
	moderationVerdicts.WithLabelValues(check, verdict).Inc()
}
