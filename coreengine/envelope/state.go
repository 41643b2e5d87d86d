package envelope

import (
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/typeutil"
)

// =============================================================================
// TOOL ENVELOPES
// =============================================================================

// ToolCall is a request to run one named tool on the external runner.
// Input is opaque to the core and validated only by the runner.
type ToolCall struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// ToolResult is the fixed envelope returned for every tool call,
// including synthetic failures produced without reaching the runner.
type ToolResult struct {
	Tool      string         `json:"tool"`
	OK        bool           `json:"ok"`
	ExitCode  int            `json:"exit_code"`
	Stdout    string         `json:"stdout"`
	Stderr    string         `json:"stderr"`
	TimingMS  int64          `json:"timing_ms"`
	Artifacts map[string]any `json:"artifacts"`
}

// ErrorCode returns artifacts.error, or "" when absent.
func (r ToolResult) ErrorCode() string {
	return typeutil.StringOr(r.Artifacts, "error", "")
}

// FailureResult builds a synthetic failed result.
// Extra artifacts are merged after the error code.
func FailureResult(tool, stderr, errorCode string, extra map[string]any) ToolResult {
	artifacts := map[string]any{"error": errorCode}
	for k, v := range extra {
		artifacts[k] = v
	}
	return ToolResult{
		Tool:      tool,
		OK:        false,
		ExitCode:  1,
		Stdout:    "",
		Stderr:    stderr,
		TimingMS:  0,
		Artifacts: artifacts,
	}
}

// =============================================================================
// PLAN
// =============================================================================

// PlanStep is one ordered unit of a plan. Tools may be empty.
type PlanStep struct {
	ID              string     `json:"id"`
	Description     string     `json:"description"`
	Tools           []ToolCall `json:"tools"`
	ExpectedOutcome string     `json:"expected_outcome"`
	FilesTouched    []string   `json:"files_touched"`
}

// Plan is the Planner output. It replaces any previous plan wholesale.
type Plan struct {
	Steps        []PlanStep `json:"steps"`
	Verification []ToolCall `json:"verification"`
	Rollback     string     `json:"rollback"`
}

// Validate checks step id uniqueness and tool names.
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Steps))
	for i, step := range p.Steps {
		if strings.TrimSpace(step.ID) == "" {
			return fmt.Errorf("step %d: id is required", i)
		}
		if seen[step.ID] {
			return fmt.Errorf("step %d: duplicate id %q", i, step.ID)
		}
		seen[step.ID] = true
		for j, call := range step.Tools {
			if strings.TrimSpace(call.Tool) == "" {
				return fmt.Errorf("step %q tool %d: tool name is required", step.ID, j)
			}
		}
	}
	return nil
}

// ToolCallCount returns the number of tool calls across all steps.
func (p *Plan) ToolCallCount() int {
	n := 0
	for _, step := range p.Steps {
		n += len(step.Tools)
	}
	return n
}

// =============================================================================
// VERIFICATION
// =============================================================================

// VerificationCheck is a single verifier check.
type VerificationCheck struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Tool     string `json:"tool"`
	ExitCode int    `json:"exit_code"`
	Summary  string `json:"summary"`
}

// VerifierReport is the Verifier output. OK is the conjunction of all checks.
type VerifierReport struct {
	OK     bool                `json:"ok"`
	Checks []VerificationCheck `json:"checks"`
}

// NewVerifierReport derives OK from the checks. No checks means OK.
func NewVerifierReport(checks []VerificationCheck) VerifierReport {
	ok := true
	for _, c := range checks {
		ok = ok && c.OK
	}
	if checks == nil {
		checks = []VerificationCheck{}
	}
	return VerifierReport{OK: ok, Checks: checks}
}

// FailedVerifierReport is the fallback when checks cannot be computed.
func FailedVerifierReport() VerifierReport {
	return VerifierReport{OK: false, Checks: []VerificationCheck{}}
}

// =============================================================================
// CONTEXT, GUARDS, BUDGETS
// =============================================================================

// RepoContext is produced by the context builder and read by the Reporter.
type RepoContext struct {
	RepoRoot string   `json:"repo_root,omitempty"`
	HasPy    bool     `json:"has_py"`
	HasRs    bool     `json:"has_rs"`
	TopLevel []string `json:"top_level"`
	RepoMap  string   `json:"repo_map,omitempty"`

	// Empty outside a git checkout. GitBranch is also empty on a detached HEAD.
	GitBranch string `json:"git_branch,omitempty"`
	GitHead   string `json:"git_head,omitempty"`
}

// Guards are policy-derived flags, set once by the policy gate.
type Guards struct {
	AllowNetwork                bool `json:"allow_network"`
	RequireApprovalForMutations bool `json:"require_approval_for_mutations"`
}

// RestrictiveGuards are used whenever no policy applies.
func RestrictiveGuards() Guards {
	return Guards{AllowNetwork: false, RequireApprovalForMutations: true}
}

// Budgets bound the plan/execute/verify loop.
// MaxLoops of zero means not yet initialized.
type Budgets struct {
	CurrentLoop   int  `json:"current_loop"`
	MaxLoops      int  `json:"max_loops,omitempty"`
	LoopRemaining *int `json:"loop_remaining,omitempty"`
}

// Exhausted returns true when no further planner pass is allowed.
func (b Budgets) Exhausted() bool {
	return b.CurrentLoop >= b.EffectiveMaxLoops()
}

// EffectiveMaxLoops returns MaxLoops, treating an uninitialized value as 1.
func (b Budgets) EffectiveMaxLoops() int {
	if b.MaxLoops < 1 {
		return 1
	}
	return b.MaxLoops
}

// =============================================================================
// TRACE EVENTS
// =============================================================================

// Event is one append-only trace record.
type Event struct {
	TSMs int64          `json:"ts_ms"`
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

// =============================================================================
// CONTROL FIELDS
// =============================================================================

// PolicyConfig is the configuration snapshot consumed by the policy gate.
type PolicyConfig struct {
	NetworkDefault              string `json:"network_default"`
	RequireApprovalForMutations bool   `json:"require_approval_for_mutations"`
}

// Control holds internal fields that never appear in reports.
type Control struct {
	RunID       string  `json:"run_id"`
	TraceEvents []Event `json:"trace_events"`

	RepoRoot       string `json:"repo_root"`
	RunnerBaseURL  string `json:"runner_base_url"`
	RunnerAPIKey   string `json:"-"`
	RunnerDisabled bool   `json:"runner_disabled"`

	// BudgetMaxLoops seeds Budgets.MaxLoops at the gate. Zero means the default.
	BudgetMaxLoops int `json:"budget_max_loops"`
	// MaxToolCallsPerLoop caps calls sent per executor pass. Zero means unlimited.
	MaxToolCallsPerLoop int `json:"max_tool_calls_per_loop"`
	// MaxPatchBytes caps the encoded input of an apply_patch call. Zero means unlimited.
	MaxPatchBytes int `json:"max_patch_bytes"`

	// Policy is nil when no configuration snapshot was supplied.
	Policy *PolicyConfig `json:"policy,omitempty"`

	TraceEnabled bool   `json:"trace_enabled"`
	TraceOutDir  string `json:"trace_out_dir"`
}

// =============================================================================
// RUN STATE
// =============================================================================

// DefaultMaxLoops applies when configuration does not set a budget.
const DefaultMaxLoops = 3

// RunState is the single value threaded through every stage of a run.
type RunState struct {
	Request      string          `json:"request"`
	Intent       Intent          `json:"intent"`
	RepoContext  RepoContext     `json:"repo_context"`
	Plan         *Plan           `json:"plan"`
	ToolResults  []ToolResult    `json:"tool_results"`
	Verification *VerifierReport `json:"verification"`
	Guards       Guards          `json:"guards"`
	Budgets      Budgets         `json:"budgets"`
	Final        string          `json:"final"`

	Control Control `json:"-"`
}

// New creates a run state for a request with default public fields.
func New(request string) RunState {
	return RunState{
		Request:     request,
		Intent:      IntentAnalysis,
		ToolResults: []ToolResult{},
	}
}

// RunID returns the run identifier, or "" before ingest.
func (s RunState) RunID() string {
	return s.Control.RunID
}

// Events returns the trace events. Callers must not modify the slice.
func (s RunState) Events() []Event {
	return s.Control.TraceEvents
}

// Clone returns a deep copy sharing no mutable memory with s.
func (s RunState) Clone() RunState {
	clone := RunState{
		Request: s.Request,
		Intent:  s.Intent,
		Guards:  s.Guards,
		Final:   s.Final,
		Control: Control{
			RunID:               s.Control.RunID,
			RepoRoot:            s.Control.RepoRoot,
			RunnerBaseURL:       s.Control.RunnerBaseURL,
			RunnerAPIKey:        s.Control.RunnerAPIKey,
			RunnerDisabled:      s.Control.RunnerDisabled,
			BudgetMaxLoops:      s.Control.BudgetMaxLoops,
			MaxToolCallsPerLoop: s.Control.MaxToolCallsPerLoop,
			MaxPatchBytes:       s.Control.MaxPatchBytes,
			TraceEnabled:        s.Control.TraceEnabled,
			TraceOutDir:         s.Control.TraceOutDir,
		},
	}

	clone.RepoContext = s.RepoContext
	clone.RepoContext.TopLevel = copyStringSlice(s.RepoContext.TopLevel)

	if s.Plan != nil {
		plan := s.Plan.Clone()
		clone.Plan = &plan
	}
	clone.ToolResults = copyToolResults(s.ToolResults)
	if s.Verification != nil {
		report := VerifierReport{OK: s.Verification.OK}
		if s.Verification.Checks != nil {
			report.Checks = make([]VerificationCheck, len(s.Verification.Checks))
			copy(report.Checks, s.Verification.Checks)
		}
		clone.Verification = &report
	}

	clone.Budgets = Budgets{CurrentLoop: s.Budgets.CurrentLoop, MaxLoops: s.Budgets.MaxLoops}
	if s.Budgets.LoopRemaining != nil {
		remaining := *s.Budgets.LoopRemaining
		clone.Budgets.LoopRemaining = &remaining
	}

	clone.Control.TraceEvents = CopyEvents(s.Control.TraceEvents, 0)
	if s.Control.Policy != nil {
		policy := *s.Control.Policy
		clone.Control.Policy = &policy
	}

	return clone
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	clone := Plan{Rollback: p.Rollback}
	if p.Steps != nil {
		clone.Steps = make([]PlanStep, len(p.Steps))
		for i, step := range p.Steps {
			clone.Steps[i] = PlanStep{
				ID:              step.ID,
				Description:     step.Description,
				Tools:           copyToolCalls(step.Tools),
				ExpectedOutcome: step.ExpectedOutcome,
				FilesTouched:    copyStringSlice(step.FilesTouched),
			}
		}
	}
	clone.Verification = copyToolCalls(p.Verification)
	return clone
}

// CopyEvents copies events into a new slice with room for extra more entries.
func CopyEvents(events []Event, extra int) []Event {
	if events == nil && extra == 0 {
		return nil
	}
	result := make([]Event, len(events), len(events)+extra)
	for i, e := range events {
		result[i] = Event{TSMs: e.TSMs, Kind: e.Kind, Data: DeepCopyMap(e.Data)}
	}
	return result
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func copyStringSlice(s []string) []string {
	if s == nil {
		return nil
	}
	result := make([]string, len(s))
	copy(result, s)
	return result
}

func copyToolCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	result := make([]ToolCall, len(calls))
	for i, c := range calls {
		result[i] = ToolCall{Tool: c.Tool, Input: DeepCopyMap(c.Input)}
	}
	return result
}

func copyToolResults(results []ToolResult) []ToolResult {
	if results == nil {
		return nil
	}
	out := make([]ToolResult, len(results))
	for i, r := range results {
		out[i] = r
		out[i].Artifacts = DeepCopyMap(r.Artifacts)
	}
	return out
}

// DeepCopyMap copies nested maps and slices; other values are shared.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	case []string:
		return copyStringSlice(val)
	default:
		return v
	}
}
