// Package metrics defines the process-wide Prometheus collectors for the
// control plane. Names are kept close to a familiar remediation
// vocabulary and repurposed to this domain: an "alert" here is a fused
// incident, an "action" is a dispatched recovery action, an
// "SLM" metric times/counts a scorer-adapter invocation — never an
// LLM call, which has no home in this core — a "webhook request" is an
// inbound reading-batch accepted or rejected by the feature pipeline, and
// a "k8s API call" is an Orchestrator capability call.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsProcessedTotal counts incidents handed to the recovery engine.
	AlertsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alerts_processed_total",
		Help: "Total number of fused incidents processed by the recovery engine.",
	})

	// AlertsFilteredTotal counts incidents suppressed before dispatch, by filter name.
	AlertsFilteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_filtered_total",
		Help: "Total number of incidents filtered out before recovery dispatch.",
	}, []string{"filter"})

	// AlertsInCooldownTotal is the current count of incidents held back by the cooldown ledger.
	AlertsInCooldownTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alerts_in_cooldown_total",
		Help: "Current number of incidents withheld by an active cooldown claim.",
	})

	// ActionsExecutedTotal counts recovery actions dispatched, by action kind.
	ActionsExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actions_executed_total",
		Help: "Total number of recovery actions executed, by action kind.",
	}, []string{"action"})

	// ActionExecutionErrorsTotal counts recovery action failures, by action kind and error type.
	ActionExecutionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "action_execution_errors_total",
		Help: "Total number of recovery action execution failures.",
	}, []string{"action", "error_type"})

	// ActionProcessingDuration times a recovery action's execution.
	ActionProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "action_processing_duration_seconds",
		Help: "Recovery action execution duration in seconds.",
	}, []string{"action"})

	// ConcurrentActionsRunning is the current number of in-flight recovery actions.
	ConcurrentActionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concurrent_actions_running",
		Help: "Current number of recovery actions executing concurrently.",
	})

	// SLMAnalysisDuration times a scorer-adapter invocation.
	SLMAnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "slm_analysis_duration_seconds",
		Help: "Scorer-adapter analysis duration in seconds.",
	})

	// SLMAPICallsTotal counts scorer-adapter invocations, by adapter name.
	SLMAPICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slm_api_calls_total",
		Help: "Total number of scorer-adapter invocations.",
	}, []string{"provider"})

	// SLMAPIErrorsTotal counts scorer-adapter invocation failures.
	SLMAPIErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slm_api_errors_total",
		Help: "Total number of scorer-adapter invocation failures.",
	}, []string{"provider", "error_type"})

	// K8sAPICallsTotal counts Orchestrator capability calls, by operation.
	K8sAPICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "k8s_api_calls_total",
		Help: "Total number of Orchestrator capability calls.",
	}, []string{"operation"})

	// WebhookRequestsTotal counts inbound reading-batch submissions, by outcome.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_requests_total",
		Help: "Total number of inbound reading-batch submissions, by outcome.",
	}, []string{"outcome"})
)

func RecordAlert() {
	AlertsProcessedTotal.Inc()
}

func RecordFilteredAlert(filter string) {
	AlertsFilteredTotal.WithLabelValues(filter).Inc()
}

func SetAlertsInCooldown(n float64) {
	AlertsInCooldownTotal.Set(n)
}

func RecordAction(action string, duration time.Duration) {
	ActionsExecutedTotal.WithLabelValues(action).Inc()
	ActionProcessingDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func RecordActionError(action, errorType string) {
	ActionExecutionErrorsTotal.WithLabelValues(action, errorType).Inc()
}

func IncrementConcurrentActions() {
	ConcurrentActionsRunning.Inc()
}

func DecrementConcurrentActions() {
	ConcurrentActionsRunning.Dec()
}

func RecordSLMAnalysis(duration time.Duration) {
	SLMAnalysisDuration.Observe(duration.Seconds())
}

func RecordSLMAPICall(provider string) {
	SLMAPICallsTotal.WithLabelValues(provider).Inc()
}

func RecordSLMAPIError(provider, errorType string) {
	SLMAPIErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

func RecordK8sAPICall(operation string) {
	K8sAPICallsTotal.WithLabelValues(operation).Inc()
}

func RecordWebhookRequest(outcome string) {
	WebhookRequestsTotal.WithLabelValues(outcome).Inc()
}

// Timer measures elapsed wall-clock time and records it against a metric
// when the caller is done, without requiring a fresh time.Now() at each
// call site.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) RecordAction(action string) {
	RecordAction(action, t.Elapsed())
}

func (t *Timer) RecordSLMAnalysis() {
	RecordSLMAnalysis(t.Elapsed())
}
