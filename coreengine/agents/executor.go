package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/tools"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/trace"
)

// ToolRunner executes tool calls against the runner service.
type ToolRunner interface {
	ExecuteBatch(ctx context.Context, calls []envelope.ToolCall) []envelope.ToolResult
	Close() error
}

// RunnerFactory opens a ToolRunner for one executor pass.
type RunnerFactory func(baseURL, apiKey string) (ToolRunner, error)

// NewRunnerFactory returns a factory building tools.Client values from a
// base configuration. BaseURL and APIKey come from the run state.
func NewRunnerFactory(base tools.Config) RunnerFactory {
	return func(baseURL, apiKey string) (ToolRunner, error) {
		cfg := base
		cfg.BaseURL = baseURL
		cfg.APIKey = apiKey
		return tools.NewClient(cfg)
	}
}

// Error codes recorded by the executor.
const (
	ErrorExecutorFailed = "executor_failed"
	ErrorBudgetExceeded = "budget_exceeded"
	ErrorPatchTooLarge  = "patch_too_large"
)

// ToolApplyPatch is the runner tool whose input size is capped by MaxPatchBytes.
const ToolApplyPatch = "apply_patch"

// Executor runs each plan step as one batch and appends the results.
type Executor struct {
	Logger    Logger
	NewRunner RunnerFactory
}

// NewExecutor creates the executor stage.
func NewExecutor(factory RunnerFactory, logger Logger) *Executor {
	return &Executor{
		Logger:    logger.Bind("stage", string(envelope.StageExecute)),
		NewRunner: factory,
	}
}

// Name implements Stage.
func (e *Executor) Name() envelope.Stage { return envelope.StageExecute }

// Run implements Stage.
func (e *Executor) Run(ctx context.Context, s envelope.RunState) StageResult {
	return execute(ctx, envelope.StageExecute, e.Logger, s, e.run, unchanged)
}

func (e *Executor) run(ctx context.Context, in envelope.RunState) (envelope.RunState, map[string]any, error) {
	if in.Control.RunnerDisabled {
		return in, nil, skip("runner_disabled")
	}
	if in.Plan == nil {
		return in, nil, skip("no_plan")
	}
	if err := in.Plan.Validate(); err != nil {
		e.Logger.Warn("executor_invalid_plan", "error", err.Error())
		return in, nil, skip("invalid_plan")
	}

	baseURL := in.Control.RunnerBaseURL
	if baseURL == "" {
		baseURL = tools.DefaultBaseURL
	}
	if err := tools.ValidateBaseURL(baseURL); err != nil {
		e.Logger.Error("executor_invalid_base_url", "url", baseURL)
		return in, nil, &codedError{code: "invalid_base_url", err: err}
	}

	if e.NewRunner == nil {
		return in, nil, &codedError{code: "client_init_failed", err: fmt.Errorf("no runner factory")}
	}
	runner, err := e.NewRunner(baseURL, in.Control.RunnerAPIKey)
	if err != nil {
		e.Logger.Error("executor_client_init_failed", "error", err.Error())
		return in, nil, &codedError{code: "client_init_failed", err: err}
	}
	defer runner.Close()

	budget := newCallBudget(in.Control.MaxToolCallsPerLoop)
	results := in.ToolResults
	if results == nil {
		results = []envelope.ToolResult{}
	}

	for _, step := range in.Plan.Steps {
		if len(step.Tools) == 0 {
			continue
		}

		sendable, oversized := splitPatches(step.Tools, in.Control.MaxPatchBytes)
		calls, overflow := budget.take(sendable)
		if len(calls) > 0 {
			batch, err := safeCall(e.Logger, "executor.step", func() ([]envelope.ToolResult, error) {
				return runStep(ctx, runner, calls)
			})
			if err != nil {
				e.Logger.Error("executor_step_failed", "error", err.Error(), "step_id", step.ID)
				results = append(results, envelope.FailureResult(
					"batch_execute", err.Error(), ErrorExecutorFailed, nil,
				))
			} else {
				results = append(results, batch...)
			}
			in = trace.AppendEvent(in, envelope.EventKindTools, map[string]any{
				"count": len(calls),
				"tools": toolNames(calls),
			})
		}

		for _, call := range oversized {
			e.Logger.Warn("executor_patch_too_large", "step_id", step.ID, "max_patch_bytes", in.Control.MaxPatchBytes)
			results = append(results, envelope.FailureResult(
				call.Tool, fmt.Sprintf("patch exceeds %d bytes", in.Control.MaxPatchBytes), ErrorPatchTooLarge, nil,
			))
		}

		for _, call := range overflow {
			e.Logger.Warn("executor_budget_exceeded", "step_id", step.ID, "tool", call.Tool)
			results = append(results, envelope.FailureResult(
				call.Tool, "tool call budget exceeded for this loop", ErrorBudgetExceeded, nil,
			))
		}
	}

	in.ToolResults = results
	return in, map[string]any{"tool_results": len(results)}, nil
}

// runStep issues one batch and checks positional alignment.
func runStep(ctx context.Context, runner ToolRunner, calls []envelope.ToolCall) ([]envelope.ToolResult, error) {
	prepared := make([]envelope.ToolCall, len(calls))
	for i, call := range calls {
		prepared[i] = envelope.ToolCall{Tool: call.Tool, Input: envelope.DeepCopyMap(call.Input)}
		if prepared[i].Input == nil {
			prepared[i].Input = map[string]any{}
		}
	}

	batch := runner.ExecuteBatch(ctx, prepared)
	if len(batch) != len(prepared) {
		return nil, fmt.Errorf("runner returned %d results for %d calls", len(batch), len(prepared))
	}
	return batch, nil
}

func toolNames(calls []envelope.ToolCall) []any {
	names := make([]any, len(calls))
	for i, call := range calls {
		names[i] = call.Tool
	}
	return names
}

// splitPatches separates apply_patch calls whose encoded input exceeds
// limit bytes. A limit of zero or less is unlimited.
func splitPatches(calls []envelope.ToolCall, limit int) (sendable, oversized []envelope.ToolCall) {
	if limit <= 0 {
		return calls, nil
	}
	for _, call := range calls {
		if call.Tool == ToolApplyPatch && patchSize(call) > limit {
			oversized = append(oversized, call)
			continue
		}
		sendable = append(sendable, call)
	}
	return sendable, oversized
}

// patchSize is the JSON-encoded size of the call input. Unencodable input
// counts as oversized.
func patchSize(call envelope.ToolCall) int {
	raw, err := json.Marshal(call.Input)
	if err != nil {
		return math.MaxInt
	}
	return len(raw)
}

// callBudget caps the calls sent in one executor pass. A limit of zero
// or less is unlimited.
type callBudget struct {
	limit int
	used  int
}

func newCallBudget(limit int) *callBudget {
	return &callBudget{limit: limit}
}

// take splits calls into those within budget and those over it.
func (b *callBudget) take(calls []envelope.ToolCall) (within, overflow []envelope.ToolCall) {
	if b.limit <= 0 {
		b.used += len(calls)
		return calls, nil
	}
	n := b.limit - b.used
	if n < 0 {
		n = 0
	}
	if n > len(calls) {
		n = len(calls)
	}
	b.used += n
	return calls[:n], calls[n:]
}
