package agents

import (
	"context"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// Check computes one verification check from the run state.
type Check func(ctx context.Context, s envelope.RunState) (envelope.VerificationCheck, error)

// Verifier replaces the verification report on every invocation.
// With no checks the report passes.
type Verifier struct {
	Logger Logger
	Checks []Check
}

// NewVerifier creates the verifier stage.
func NewVerifier(logger Logger, checks ...Check) *Verifier {
	return &Verifier{
		Logger: logger.Bind("stage", string(envelope.StageVerify)),
		Checks: checks,
	}
}

// Name implements Stage.
func (v *Verifier) Name() envelope.Stage { return envelope.StageVerify }

// Run implements Stage.
func (v *Verifier) Run(ctx context.Context, s envelope.RunState) StageResult {
	return execute(ctx, envelope.StageVerify, v.Logger, s,
		func(ctx context.Context, in envelope.RunState) (envelope.RunState, map[string]any, error) {
			checks := make([]envelope.VerificationCheck, 0, len(v.Checks))
			for _, check := range v.Checks {
				result, err := check(ctx, in)
				if err != nil {
					return in, nil, err
				}
				checks = append(checks, result)
			}
			report := envelope.NewVerifierReport(checks)
			in.Verification = &report
			return in, map[string]any{"ok": report.OK}, nil
		},
		func(in envelope.RunState, err error) (envelope.RunState, map[string]any) {
			v.Logger.Error("verifier_failed", "error", err.Error())
			report := envelope.FailedVerifierReport()
			in.Verification = &report
			return in, map[string]any{"ok": false}
		},
	)
}
