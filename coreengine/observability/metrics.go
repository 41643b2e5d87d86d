// Package observability provides Prometheus metrics and OpenTelemetry tracing for lgorch.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// PIPELINE METRICS
// =============================================================================

var (
	pipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lgorch_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"}, // status: success, cancelled
	)

	pipelineDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lgorch_pipeline_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	pipelineLoops = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lgorch_pipeline_loops",
			Help:    "Planner invocations per run",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		},
	)
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lgorch_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "outcome"}, // outcome: success, degraded, skipped
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lgorch_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"stage"},
	)
)

// =============================================================================
// RUNNER METRICS
// =============================================================================

var (
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lgorch_tool_calls_total",
			Help: "Tool results recorded, by tool and outcome",
		},
		[]string{"tool", "outcome"}, // outcome: ok, failed, or the artifacts.error code
	)

	runnerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lgorch_runner_requests_total",
			Help: "HTTP attempts against the tool runner",
		},
		[]string{"endpoint", "status"}, // status: HTTP code or "transport_error"
	)

	runnerRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lgorch_runner_request_duration_seconds",
			Help:    "Tool runner request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		},
		[]string{"endpoint"},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lgorch_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lgorch_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordPipelineRun records a completed or cancelled run.
func RecordPipelineRun(status string, loops int, durationMS int) {
	pipelineRunsTotal.WithLabelValues(status).Inc()
	pipelineDurationSeconds.Observe(float64(durationMS) / 1000.0)
	pipelineLoops.Observe(float64(loops))
}

// RecordStageExecution records one stage invocation.
func RecordStageExecution(stage string, outcome string, durationMS int) {
	stageExecutionsTotal.WithLabelValues(stage, outcome).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
}

// RecordToolResult records the outcome of one tool call.
func RecordToolResult(tool string, outcome string) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordRunnerRequest records one HTTP attempt against the runner.
func RecordRunnerRequest(endpoint string, status string, durationMS int) {
	runnerRequestsTotal.WithLabelValues(endpoint, status).Inc()
	runnerRequestDurationSeconds.WithLabelValues(endpoint).Observe(float64(durationMS) / 1000.0)
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
