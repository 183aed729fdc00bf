// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

const namespace = "opsloop"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs, partitioned by outcome and action.",
		},
		[]string{"outcome", "action"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "Pipeline run latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	runsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_rejected_total",
			Help:      "Run requests refused by the scheduler, partitioned by reason.",
		},
		[]string{"reason"},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Remote tool invocations, partitioned by service, operation and outcome.",
		},
		[]string{"service", "operation", "outcome"},
	)

	toolCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_seconds",
			Help:      "Remote tool invocation latency including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	toolRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_retries_total",
			Help:      "Retries of remote tool invocations after a transient failure.",
		},
		[]string{"service", "operation"},
	)

	restartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Workload restarts requested by remediation.",
		},
	)
)

// Register attaches OpsLoop collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		runsRejectedTotal,
		toolCallsTotal,
		toolCallDurationSeconds,
		toolRetriesTotal,
		restartsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a finished pipeline run.
func ObserveRun(duration time.Duration, outcome, action string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	if action == "" {
		action = "none"
	}
	runsTotal.WithLabelValues(outcome, action).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// RunRejected counts a refused run request.
func RunRejected(reason string) {
	runsRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveToolCall records one logical tool invocation.
func ObserveToolCall(service, operation, outcome string, duration time.Duration) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	toolCallsTotal.WithLabelValues(service, operation, outcome).Inc()
	toolCallDurationSeconds.WithLabelValues(service).Observe(duration.Seconds())
}

// ToolRetry counts a retry after a transient failure.
func ToolRetry(service, operation string) {
	toolRetriesTotal.WithLabelValues(service, operation).Inc()
}

// RestartRequested counts a restart issued by remediation.
func RestartRequested() {
	restartsTotal.Inc()
}
