package agents

import (
	"context"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/policy"
)

// PolicyGate derives guards from the policy snapshot and seeds loop budgets.
type PolicyGate struct {
	Logger Logger
}

// NewPolicyGate creates the policy gate stage.
func NewPolicyGate(logger Logger) *PolicyGate {
	return &PolicyGate{Logger: logger.Bind("stage", string(envelope.StageGate))}
}

// Name implements Stage.
func (g *PolicyGate) Name() envelope.Stage { return envelope.StageGate }

// Run implements Stage.
func (g *PolicyGate) Run(ctx context.Context, s envelope.RunState) StageResult {
	return execute(ctx, envelope.StageGate, g.Logger, s,
		func(_ context.Context, in envelope.RunState) (envelope.RunState, map[string]any, error) {
			decision := g.decide(in.Control.Policy)
			in.Guards = envelope.Guards{
				AllowNetwork:                decision.AllowNetwork,
				RequireApprovalForMutations: decision.RequireApprovalForMutations,
			}
			in.Budgets = seedBudgets(in.Budgets, in.Control.BudgetMaxLoops)
			return in, map[string]any{"allow_network": decision.AllowNetwork}, nil
		},
		func(in envelope.RunState, err error) (envelope.RunState, map[string]any) {
			g.Logger.Error("policy_gate_failed", "error", err.Error())
			in.Guards = envelope.RestrictiveGuards()
			in.Budgets = seedBudgets(in.Budgets, in.Control.BudgetMaxLoops)
			return in, map[string]any{"allow_network": false}
		},
	)
}

func (g *PolicyGate) decide(cfg *envelope.PolicyConfig) policy.Decision {
	if cfg == nil {
		g.Logger.Warn("policy_gate_missing_config")
		return policy.Restrictive()
	}
	if !policy.IsRecognizedNetworkDefault(cfg.NetworkDefault) {
		g.Logger.Warn("policy_gate_invalid_network_default", "value", cfg.NetworkDefault)
	}
	return policy.Decide(cfg.NetworkDefault, cfg.RequireApprovalForMutations)
}

// seedBudgets initializes max_loops and loop.remaining without
// overwriting values already present.
func seedBudgets(b envelope.Budgets, configured int) envelope.Budgets {
	maxLoops := configured
	if maxLoops < 1 {
		maxLoops = envelope.DefaultMaxLoops
	}
	if b.LoopRemaining == nil {
		remaining := maxLoops
		b.LoopRemaining = &remaining
	}
	if b.MaxLoops == 0 {
		b.MaxLoops = maxLoops
	}
	return b
}
