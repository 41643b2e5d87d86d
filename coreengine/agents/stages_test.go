package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/testutil"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// INGEST TESTS
// =============================================================================

func TestIngestNormalizesRequest(t *testing.T) {
	// Test request trimming, run id assignment and public field reset.
	s := envelope.New("  fix the login bug \n")
	s.Final = "stale"
	s.Control.RepoRoot = "/repo"
	s.Control.BudgetMaxLoops = 2

	result := NewIngest(NopLogger()).Run(context.Background(), s)
	out := result.State

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "fix the login bug", out.Request)
	assert.Equal(t, envelope.IntentAnalysis, out.Intent)
	assert.Empty(t, out.Final)
	assert.NotNil(t, out.ToolResults)
	assert.Len(t, out.RunID(), 32)
	assert.Equal(t, "/repo", out.Control.RepoRoot)
	assert.Equal(t, 2, out.Control.BudgetMaxLoops)

	events := nodeEvents(out, envelope.StageIngest)
	require.Len(t, events, 2)
	assert.Equal(t, envelope.PhaseStart, events[0].Data["phase"])
	assert.Equal(t, envelope.PhaseEnd, events[1].Data["phase"])
}

func TestIngestKeepsRunID(t *testing.T) {
	// Test an existing run id is never replaced.
	s := envelope.New("x")
	s.Control.RunID = "fixed-id"

	out := NewIngest(NopLogger()).Run(context.Background(), s).State
	assert.Equal(t, "fixed-id", out.RunID())
}

// =============================================================================
// POLICY GATE TESTS
// =============================================================================

func TestPolicyGateMissingConfigIsRestrictive(t *testing.T) {
	// Test a nil snapshot falls back to restrictive guards.
	logger := newRecordingLogger()
	s := envelope.New("x")
	s.Guards = envelope.Guards{AllowNetwork: true}

	result := NewPolicyGate(logger).Run(context.Background(), s)

	assert.Equal(t, envelope.RestrictiveGuards(), result.State.Guards)
	assert.Equal(t, envelope.DefaultMaxLoops, result.State.Budgets.MaxLoops)
	require.NotNil(t, result.State.Budgets.LoopRemaining)
	assert.Equal(t, envelope.DefaultMaxLoops, *result.State.Budgets.LoopRemaining)
	assert.True(t, logger.has("warn", "policy_gate_missing_config"))
}

func TestPolicyGateDecision(t *testing.T) {
	// Test guard flags follow the snapshot.
	cases := []struct {
		networkDefault string
		allow          bool
		warned         bool
	}{
		{"allow", true, false},
		{" ALLOW ", true, false},
		{"deny", false, false},
		{"maybe", false, true},
		{"", false, true},
	}

	for _, tc := range cases {
		logger := newRecordingLogger()
		s := envelope.New("x")
		s.Control.Policy = &envelope.PolicyConfig{NetworkDefault: tc.networkDefault, RequireApprovalForMutations: false}

		out := NewPolicyGate(logger).Run(context.Background(), s).State

		assert.Equal(t, tc.allow, out.Guards.AllowNetwork, tc.networkDefault)
		assert.False(t, out.Guards.RequireApprovalForMutations)
		assert.Equal(t, tc.warned, logger.has("warn", "policy_gate_invalid_network_default"), tc.networkDefault)
	}
}

func TestPolicyGateBudgetsFirstWriterWins(t *testing.T) {
	// Test existing budgets are not overwritten.
	remaining := 1
	s := envelope.New("x")
	s.Control.BudgetMaxLoops = 7
	s.Budgets = envelope.Budgets{MaxLoops: 5, LoopRemaining: &remaining}

	out := NewPolicyGate(NopLogger()).Run(context.Background(), s).State
	assert.Equal(t, 5, out.Budgets.MaxLoops)
	assert.Equal(t, 1, *out.Budgets.LoopRemaining)

	fresh := envelope.New("x")
	fresh.Control.BudgetMaxLoops = 7
	out = NewPolicyGate(NopLogger()).Run(context.Background(), fresh).State
	assert.Equal(t, 7, out.Budgets.MaxLoops)
	assert.Equal(t, 7, *out.Budgets.LoopRemaining)
}

// =============================================================================
// CONTEXT STAGE TESTS
// =============================================================================

type fixedBuilder struct {
	ctx   envelope.RepoContext
	panic bool
	root  string
}

func (b *fixedBuilder) Build(_ context.Context, root string) envelope.RepoContext {
	b.root = root
	if b.panic {
		panic("walk exploded")
	}
	return b.ctx
}

func TestContextStageRecordsTopLevelCount(t *testing.T) {
	// Test the builder output lands in repo_context and the end event.
	builder := &fixedBuilder{ctx: envelope.RepoContext{RepoRoot: "/repo", TopLevel: []string{"a", "b"}}}
	s := envelope.New("x")
	s.Control.RepoRoot = "/repo"

	result := NewContextStage(builder, NopLogger()).Run(context.Background(), s)

	assert.Equal(t, "/repo", builder.root)
	assert.Equal(t, []string{"a", "b"}, result.State.RepoContext.TopLevel)
	assert.Equal(t, 2, lastEnd(result.State, envelope.StageContext)["top_level"])
}

func TestContextStagePanicDegrades(t *testing.T) {
	// Test a failing builder degrades to empty defaults.
	builder := &fixedBuilder{panic: true}
	result := NewContextStage(builder, NopLogger()).Run(context.Background(), envelope.New("x"))

	assert.True(t, result.Degraded())
	assert.Equal(t, ".", result.State.RepoContext.RepoRoot)
	assert.Empty(t, result.State.RepoContext.TopLevel)
	assert.Equal(t, 0, lastEnd(result.State, envelope.StageContext)["top_level"])
}

// =============================================================================
// PLANNER TESTS
// =============================================================================

func TestPlannerProducesPlan(t *testing.T) {
	// Test intent, plan shape and loop accounting.
	s := envelope.New("fix the login bug")
	s.Budgets = envelope.Budgets{MaxLoops: 3}

	result := NewPlanner(NopLogger()).Run(context.Background(), s)
	out := result.State

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, envelope.IntentCodeChange, out.Intent)
	require.NotNil(t, out.Plan)
	require.Len(t, out.Plan.Steps, 1)
	step := out.Plan.Steps[0]
	assert.Equal(t, "step-1", step.ID)
	assert.Equal(t, "Collect repository context.", step.Description)
	require.Len(t, step.Tools, 2)
	assert.Equal(t, "list_files", step.Tools[0].Tool)
	assert.Equal(t, false, step.Tools[0].Input["recursive"])
	assert.Equal(t, "exec", step.Tools[1].Tool)
	assert.Equal(t, "git", step.Tools[1].Input["cmd"])
	assert.Equal(t, "No changes were made.", out.Plan.Rollback)
	assert.Empty(t, out.Plan.Verification)

	assert.Equal(t, 1, out.Budgets.CurrentLoop)
	assert.Equal(t, 2, *out.Budgets.LoopRemaining)

	end := lastEnd(out, envelope.StagePlan)
	assert.Equal(t, 1, end["steps"])
	assert.Equal(t, 1, end["loop"])
}

func TestPlannerReplacesPlanOnRetry(t *testing.T) {
	// Test a second pass replaces the plan and advances the loop.
	planner := NewPlanner(NopLogger())
	s := envelope.New("explain the runner")
	s.Budgets = envelope.Budgets{MaxLoops: 3}

	first := planner.Run(context.Background(), s).State
	first.Plan.Steps[0].Description = "mutated"
	second := planner.Run(context.Background(), first).State

	assert.Equal(t, 2, second.Budgets.CurrentLoop)
	assert.Equal(t, 1, *second.Budgets.LoopRemaining)
	assert.Len(t, second.Plan.Steps, 1)
	assert.Equal(t, "Collect repository context.", second.Plan.Steps[0].Description)
}

func TestPlannerFailureStillCountsLoop(t *testing.T) {
	// Test build errors and panics both fall back and increment exactly once.
	builders := map[string]PlanBuilder{
		"error": func(envelope.Intent, string) (envelope.Plan, error) {
			return envelope.Plan{}, errors.New("no plan")
		},
		"panic": func(envelope.Intent, string) (envelope.Plan, error) {
			panic("planner exploded")
		},
		"invalid": func(envelope.Intent, string) (envelope.Plan, error) {
			return envelope.Plan{Steps: []envelope.PlanStep{{ID: "a"}, {ID: "a"}}}, nil
		},
	}

	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			planner := NewPlanner(NopLogger())
			planner.Build = build
			s := envelope.New("fix it")
			s.Budgets = envelope.Budgets{CurrentLoop: 1, MaxLoops: 3}

			result := planner.Run(context.Background(), s)

			assert.True(t, result.Degraded())
			assert.Error(t, result.Err)
			assert.Equal(t, 2, result.State.Budgets.CurrentLoop)
			assert.Equal(t, 1, *result.State.Budgets.LoopRemaining)
			assert.Equal(t, envelope.IntentAnalysis, result.State.Intent)
			require.NotNil(t, result.State.Plan)
			assert.Empty(t, result.State.Plan.Steps)
			assert.Equal(t, "Plan generation failed.", result.State.Plan.Rollback)
			assert.Equal(t, 0, lastEnd(result.State, envelope.StagePlan)["steps"])
		})
	}
}

func TestStageDoesNotMutateInput(t *testing.T) {
	// Test earlier snapshots stay valid after a stage runs.
	s := envelope.New("fix it")
	s.Budgets = envelope.Budgets{MaxLoops: 3}
	before := len(s.Events())

	out := NewPlanner(NopLogger()).Run(context.Background(), s).State

	assert.Len(t, s.Events(), before)
	assert.Nil(t, s.Plan)
	assert.Equal(t, 0, s.Budgets.CurrentLoop)
	assert.Len(t, out.Events(), before+2)
}

// =============================================================================
// EXECUTOR TESTS
// =============================================================================

func TestExecutorRunsOneBatchPerStep(t *testing.T) {
	// Test batching per step, result ordering and the tools event.
	runner := testutil.NewFakeRunner()
	defer runner.Close()

	s := planned("x")
	s.Control.RunnerBaseURL = runner.URL()
	s.ToolResults = []envelope.ToolResult{{Tool: "earlier", OK: true}}
	s.Plan.Steps = append(s.Plan.Steps,
		envelope.PlanStep{ID: "step-2", Description: "informational"},
		envelope.PlanStep{ID: "step-3", Tools: []envelope.ToolCall{{Tool: "read_file", Input: map[string]any{"path": "go.mod"}}}},
	)

	executor := NewExecutor(NewRunnerFactory(tools.Config{}), NopLogger())
	result := executor.Run(context.Background(), s)
	out := result.State

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, runner.BatchCount())
	assert.Equal(t, 0, runner.ExecuteCount())
	require.Len(t, out.ToolResults, 4)
	assert.Equal(t, "earlier", out.ToolResults[0].Tool)
	assert.Equal(t, "list_files", out.ToolResults[1].Tool)
	assert.Equal(t, "exec", out.ToolResults[2].Tool)
	assert.Equal(t, "read_file", out.ToolResults[3].Tool)
	assert.True(t, out.ToolResults[1].OK)

	var toolEvents []envelope.Event
	for _, e := range out.Events() {
		if e.Kind == envelope.EventKindTools {
			toolEvents = append(toolEvents, e)
		}
	}
	require.Len(t, toolEvents, 2)
	assert.Equal(t, 2, toolEvents[0].Data["count"])
	assert.Equal(t, []any{"list_files", "exec"}, toolEvents[0].Data["tools"])
}

func TestExecutorSkips(t *testing.T) {
	// Test disabled runner and missing or malformed plans make no calls.
	runner := &stubRunner{respond: func(calls []envelope.ToolCall) []envelope.ToolResult { return nil }}
	executor := NewExecutor(stubFactory(runner), NopLogger())

	disabled := planned("x")
	disabled.Control.RunnerDisabled = true
	noPlan := envelope.New("x")
	malformed := planned("x")
	malformed.Plan.Steps = append(malformed.Plan.Steps, malformed.Plan.Steps[0])

	for name, s := range map[string]envelope.RunState{"disabled": disabled, "no_plan": noPlan, "malformed": malformed} {
		result := executor.Run(context.Background(), s)
		assert.Equal(t, OutcomeSkipped, result.Outcome, name)
		assert.Equal(t, len(s.ToolResults), len(result.State.ToolResults), name)
	}
	assert.Empty(t, runner.batches)
}

func TestExecutorInvalidBaseURL(t *testing.T) {
	// Test a bad base url records the error and sends nothing.
	runner := &stubRunner{respond: func(calls []envelope.ToolCall) []envelope.ToolResult { return nil }}
	s := planned("x")
	s.Control.RunnerBaseURL = "ftp://runner"

	result := NewExecutor(stubFactory(runner), NopLogger()).Run(context.Background(), s)

	assert.True(t, result.Degraded())
	assert.Equal(t, "invalid_base_url", lastEnd(result.State, envelope.StageExecute)["error"])
	assert.Empty(t, result.State.ToolResults)
	assert.Empty(t, runner.batches)
}

func TestExecutorFactoryError(t *testing.T) {
	// Test client construction failures degrade without results.
	factory := func(string, string) (ToolRunner, error) { return nil, errors.New("boom") }
	result := NewExecutor(factory, NopLogger()).Run(context.Background(), planned("x"))

	assert.True(t, result.Degraded())
	assert.Equal(t, "client_init_failed", lastEnd(result.State, envelope.StageExecute)["error"])
}

func TestExecutorStepFailureIsIsolated(t *testing.T) {
	// Test a bad step yields one executor_failed result and later steps still run.
	calls := 0
	runner := &stubRunner{respond: func(batch []envelope.ToolCall) []envelope.ToolResult {
		calls++
		switch calls {
		case 1:
			return []envelope.ToolResult{{Tool: batch[0].Tool, OK: true}}
		case 2:
			panic("runner exploded")
		default:
			out := make([]envelope.ToolResult, len(batch))
			for i, c := range batch {
				out[i] = envelope.ToolResult{Tool: c.Tool, OK: true}
			}
			return out
		}
	}}
	logger := newRecordingLogger()
	s := planned("x")
	s.Plan.Steps = append(s.Plan.Steps,
		envelope.PlanStep{ID: "step-2", Tools: []envelope.ToolCall{{Tool: "read_file"}}},
		envelope.PlanStep{ID: "step-3", Tools: []envelope.ToolCall{{Tool: "read_file"}}},
	)

	result := NewExecutor(stubFactory(runner), logger).Run(context.Background(), s)
	out := result.State

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	require.Len(t, out.ToolResults, 3)
	assert.Equal(t, "batch_execute", out.ToolResults[0].Tool)
	assert.Equal(t, ErrorExecutorFailed, out.ToolResults[0].ErrorCode())
	assert.Equal(t, 1, out.ToolResults[0].ExitCode)
	assert.Equal(t, "batch_execute", out.ToolResults[1].Tool)
	assert.Equal(t, "read_file", out.ToolResults[2].Tool)
	assert.True(t, out.ToolResults[2].OK)
	assert.True(t, logger.has("error", "executor_step_failed"))
	assert.True(t, runner.closed)
}

func TestExecutorToolCallBudget(t *testing.T) {
	// Test calls over the per-loop cap are failed locally and never sent.
	runner := testutil.NewFakeRunner()
	defer runner.Close()

	s := planned("x")
	s.Control.RunnerBaseURL = runner.URL()
	s.Control.MaxToolCallsPerLoop = 1

	out := NewExecutor(NewRunnerFactory(tools.Config{}), NopLogger()).Run(context.Background(), s).State

	require.Len(t, out.ToolResults, 2)
	assert.True(t, out.ToolResults[0].OK)
	assert.Equal(t, "exec", out.ToolResults[1].Tool)
	assert.Equal(t, ErrorBudgetExceeded, out.ToolResults[1].ErrorCode())
	require.Len(t, runner.Calls(), 1)
	assert.Equal(t, "list_files", runner.Calls()[0].Tool)
}

func TestExecutorPatchSizeLimit(t *testing.T) {
	// Test oversized apply_patch calls are failed locally and never sent.
	runner := &stubRunner{respond: func(calls []envelope.ToolCall) []envelope.ToolResult {
		out := make([]envelope.ToolResult, len(calls))
		for i, c := range calls {
			out[i] = envelope.ToolResult{Tool: c.Tool, OK: true}
		}
		return out
	}}
	small := envelope.ToolCall{Tool: ToolApplyPatch, Input: map[string]any{
		"changes": []any{map[string]any{"path": "a.txt", "op": "add", "content": "hi"}},
	}}
	large := envelope.ToolCall{Tool: ToolApplyPatch, Input: map[string]any{
		"changes": []any{map[string]any{"path": "b.txt", "op": "add", "content": strings.Repeat("x", 200)}},
	}}

	s := planned("x")
	s.Plan.Steps[0].Tools = append(s.Plan.Steps[0].Tools, small, large)
	s.Control.RunnerBaseURL = "http://runner.test"
	s.Control.MaxPatchBytes = 128
	logger := newRecordingLogger()

	out := NewExecutor(stubFactory(runner), logger).Run(context.Background(), s).State

	require.Len(t, runner.batches, 1)
	sent := runner.batches[0]
	require.Len(t, sent, 3)
	assert.Equal(t, ToolApplyPatch, sent[2].Tool)
	assert.Equal(t, "a.txt", sent[2].Input["changes"].([]any)[0].(map[string]any)["path"])

	require.Len(t, out.ToolResults, 4)
	last := out.ToolResults[3]
	assert.Equal(t, ToolApplyPatch, last.Tool)
	assert.False(t, last.OK)
	assert.Equal(t, ErrorPatchTooLarge, last.ErrorCode())
	assert.True(t, logger.has("warn", "executor_patch_too_large"))
}

func TestSplitPatchesUnlimited(t *testing.T) {
	// Test a zero limit sends every call.
	calls := []envelope.ToolCall{{Tool: ToolApplyPatch, Input: map[string]any{"changes": []any{}}}}
	sendable, oversized := splitPatches(calls, 0)
	assert.Len(t, sendable, 1)
	assert.Empty(t, oversized)
}

func TestExecutorUnreachableRunner(t *testing.T) {
	// Test transport failures surface as per-call runner_unavailable results.
	s := planned("x")
	s.Control.RunnerBaseURL = "http://127.0.0.1:1"
	factory := NewRunnerFactory(tools.Config{MaxAttempts: 1})

	out := NewExecutor(factory, NopLogger()).Run(context.Background(), s).State

	require.Len(t, out.ToolResults, 2)
	for i, tool := range []string{"list_files", "exec"} {
		assert.Equal(t, tool, out.ToolResults[i].Tool)
		assert.False(t, out.ToolResults[i].OK)
		assert.Equal(t, tools.ErrorRunnerUnavailable, out.ToolResults[i].ErrorCode())
	}
}

func TestCallBudgetTake(t *testing.T) {
	// Test budget splitting across steps.
	calls := []envelope.ToolCall{{Tool: "a"}, {Tool: "b"}, {Tool: "c"}}

	unlimited := newCallBudget(0)
	within, overflow := unlimited.take(calls)
	assert.Len(t, within, 3)
	assert.Empty(t, overflow)

	b := newCallBudget(4)
	within, overflow = b.take(calls)
	assert.Len(t, within, 3)
	assert.Empty(t, overflow)
	within, overflow = b.take(calls)
	assert.Len(t, within, 1)
	assert.Len(t, overflow, 2)
	within, overflow = b.take(calls)
	assert.Empty(t, within)
	assert.Len(t, overflow, 3)
}

// =============================================================================
// VERIFIER TESTS
// =============================================================================

func TestVerifierWithoutChecksPasses(t *testing.T) {
	// Test the default report.
	out := NewVerifier(NopLogger()).Run(context.Background(), envelope.New("x")).State

	require.NotNil(t, out.Verification)
	assert.True(t, out.Verification.OK)
	assert.Empty(t, out.Verification.Checks)
	assert.Equal(t, true, lastEnd(out, envelope.StageVerify)["ok"])
}

func TestVerifierConjunction(t *testing.T) {
	// Test ok is the AND of all checks.
	pass := func(context.Context, envelope.RunState) (envelope.VerificationCheck, error) {
		return envelope.VerificationCheck{Name: "pass", OK: true}, nil
	}
	fail := func(context.Context, envelope.RunState) (envelope.VerificationCheck, error) {
		return envelope.VerificationCheck{Name: "fail", OK: false, ExitCode: 1}, nil
	}

	out := NewVerifier(NopLogger(), pass, fail).Run(context.Background(), envelope.New("x")).State

	assert.False(t, out.Verification.OK)
	assert.Len(t, out.Verification.Checks, 2)
	assert.Equal(t, false, lastEnd(out, envelope.StageVerify)["ok"])
}

func TestVerifierFailureDegrades(t *testing.T) {
	// Test check errors and panics yield {ok:false, checks:[]}.
	checks := map[string]Check{
		"error": func(context.Context, envelope.RunState) (envelope.VerificationCheck, error) {
			return envelope.VerificationCheck{}, errors.New("lint crashed")
		},
		"panic": func(context.Context, envelope.RunState) (envelope.VerificationCheck, error) {
			panic("verifier exploded")
		},
	}

	for name, check := range checks {
		result := NewVerifier(NopLogger(), check).Run(context.Background(), envelope.New("x"))
		assert.True(t, result.Degraded(), name)
		assert.False(t, result.State.Verification.OK, name)
		assert.Empty(t, result.State.Verification.Checks, name)
	}
}

// =============================================================================
// REPORTER TESTS
// =============================================================================

func TestRenderFullState(t *testing.T) {
	// Test line order and tool count.
	s := envelope.New("x")
	s.Intent = envelope.IntentCodeChange
	s.RepoContext = envelope.RepoContext{RepoRoot: "/repo", TopLevel: []string{"cmd", "go.mod"}}
	s.ToolResults = []envelope.ToolResult{{Tool: "a"}, {Tool: "b"}}

	assert.Equal(t, "intent: code_change\nrepo_root: /repo\ntop_level: [cmd go.mod]\ntool_calls: 2", Render(s))
}

func TestRenderPlaceholders(t *testing.T) {
	// Test absent fields render as placeholders and no tool line.
	s := envelope.RunState{}
	assert.Equal(t, "intent: <none>\nrepo_root: <none>\ntop_level: <none>", Render(s))
}

func TestReporterOverwritesFinal(t *testing.T) {
	// Test Final is replaced, not appended.
	s := envelope.New("x")
	s.Final = "previous report"

	out := NewReporter(NopLogger()).Run(context.Background(), s).State
	assert.NotContains(t, out.Final, "previous report")
	assert.Contains(t, out.Final, "intent: analysis")
	assert.Len(t, nodeEvents(out, envelope.StageReport), 2)
}
