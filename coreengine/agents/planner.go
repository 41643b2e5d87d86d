package agents

import (
	"context"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// PlanBuilder produces a plan for a classified request.
type PlanBuilder func(intent envelope.Intent, request string) (envelope.Plan, error)

// Planner classifies intent, replaces the plan and advances the loop counter.
type Planner struct {
	Logger Logger
	// Build defaults to DefaultPlan.
	Build PlanBuilder
}

// NewPlanner creates the planner stage with the default plan builder.
func NewPlanner(logger Logger) *Planner {
	return &Planner{
		Logger: logger.Bind("stage", string(envelope.StagePlan)),
		Build:  DefaultPlan,
	}
}

// Name implements Stage.
func (p *Planner) Name() envelope.Stage { return envelope.StagePlan }

// Run implements Stage. The loop counter advances by exactly one on
// every invocation, including the fallback path.
func (p *Planner) Run(ctx context.Context, s envelope.RunState) StageResult {
	build := p.Build
	if build == nil {
		build = DefaultPlan
	}

	return execute(ctx, envelope.StagePlan, p.Logger, s,
		func(_ context.Context, in envelope.RunState) (envelope.RunState, map[string]any, error) {
			in.Budgets = advanceLoop(in.Budgets)
			intent := ClassifyIntent(in.Request)

			plan, err := build(intent, in.Request)
			if err != nil {
				return in, nil, err
			}
			if err := plan.Validate(); err != nil {
				return in, nil, err
			}

			in.Intent = intent
			in.Plan = &plan
			p.Logger.Info("planner_planned",
				"intent", string(intent),
				"steps", len(plan.Steps),
				"loop", in.Budgets.CurrentLoop,
			)
			return in, map[string]any{"steps": len(plan.Steps), "loop": in.Budgets.CurrentLoop}, nil
		},
		func(in envelope.RunState, err error) (envelope.RunState, map[string]any) {
			p.Logger.Error("planner_failed", "error", err.Error())
			in.Budgets = advanceLoop(in.Budgets)
			in.Intent = envelope.IntentAnalysis
			in.Plan = &envelope.Plan{
				Steps:        []envelope.PlanStep{},
				Verification: []envelope.ToolCall{},
				Rollback:     "Plan generation failed.",
			}
			return in, map[string]any{"steps": 0, "loop": in.Budgets.CurrentLoop}
		},
	)
}

// advanceLoop increments current_loop and derives loop.remaining.
func advanceLoop(b envelope.Budgets) envelope.Budgets {
	b.CurrentLoop++
	remaining := b.EffectiveMaxLoops() - b.CurrentLoop
	if remaining < 0 {
		remaining = 0
	}
	b.LoopRemaining = &remaining
	return b
}

// DefaultPlan is the fixed context-collection plan: a top-level listing
// and a TODO search through the runner's git command.
func DefaultPlan(_ envelope.Intent, _ string) (envelope.Plan, error) {
	return envelope.Plan{
		Steps: []envelope.PlanStep{{
			ID:          "step-1",
			Description: "Collect repository context.",
			Tools: []envelope.ToolCall{
				{Tool: "list_files", Input: map[string]any{"path": ".", "recursive": false}},
				{Tool: "exec", Input: map[string]any{
					"cmd":  "git",
					"args": []any{"grep", "-n", "-I", "--max-count", "20", "TODO"},
				}},
			},
			ExpectedOutcome: "Top-level repository structure captured.",
			FilesTouched:    []string{},
		}},
		Verification: []envelope.ToolCall{},
		Rollback:     "No changes were made.",
	}, nil
}
