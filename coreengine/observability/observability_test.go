package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestRecordPipelineRun(t *testing.T) {
	before := testutil.ToFloat64(pipelineRunsTotal.WithLabelValues("success"))
	RecordPipelineRun("success", 2, 1500)
	after := testutil.ToFloat64(pipelineRunsTotal.WithLabelValues("success"))
	assert.Equal(t, before+1, after)
}

func TestRecordStageExecution(t *testing.T) {
	tests := []struct {
		name    string
		stage   string
		outcome string
	}{
		{"planner success", "planner", "success"},
		{"executor degraded", "executor", "degraded"},
		{"executor skipped", "executor", "skipped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordStageExecution(tt.stage, tt.outcome, 10)
			count := testutil.ToFloat64(stageExecutionsTotal.WithLabelValues(tt.stage, tt.outcome))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestRecordToolResult(t *testing.T) {
	RecordToolResult("list_files", "ok")
	RecordToolResult("exec", "runner_unavailable")
	assert.Greater(t, testutil.ToFloat64(toolCallsTotal.WithLabelValues("list_files", "ok")), 0.0)
	assert.Greater(t, testutil.ToFloat64(toolCallsTotal.WithLabelValues("exec", "runner_unavailable")), 0.0)
}

func TestRecordRunnerRequest(t *testing.T) {
	RecordRunnerRequest("batch_execute", "200", 12)
	RecordRunnerRequest("batch_execute", "transport_error", 0)
	assert.Greater(t, testutil.ToFloat64(runnerRequestsTotal.WithLabelValues("batch_execute", "transport_error")), 0.0)
}

func TestRecordGRPCRequest(t *testing.T) {
	RecordGRPCRequest("/lgorch.v1.OrchestrationService/Run", "OK", 5)
	count := testutil.ToFloat64(grpcRequestsTotal.WithLabelValues("/lgorch.v1.OrchestrationService/Run", "OK"))
	assert.Greater(t, count, 0.0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordPipelineRun("success", 1, 10)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lgorch_pipeline_runs_total")
}

// =============================================================================
// TRACING TESTS
// =============================================================================

func TestInitTracerWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "lgorch-test", "")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
