package agents

import (
	"context"
	"strings"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/trace"
)

// Ingest normalizes the request and resets public fields to their defaults.
// Control fields pass through, and a run id is assigned if absent.
type Ingest struct {
	Logger Logger
}

// NewIngest creates the ingest stage.
func NewIngest(logger Logger) *Ingest {
	return &Ingest{Logger: logger.Bind("stage", string(envelope.StageIngest))}
}

// Name implements Stage.
func (i *Ingest) Name() envelope.Stage { return envelope.StageIngest }

// Run implements Stage.
func (i *Ingest) Run(ctx context.Context, s envelope.RunState) StageResult {
	s = trace.EnsureRunID(s)

	reset := func(in envelope.RunState) envelope.RunState {
		out := envelope.New(strings.TrimSpace(in.Request))
		out.Control = in.Control
		return out
	}

	return execute(ctx, envelope.StageIngest, i.Logger, s,
		func(_ context.Context, in envelope.RunState) (envelope.RunState, map[string]any, error) {
			out := reset(in)
			i.Logger.Info("ingest_accepted", "run_id", out.RunID(), "request_length", len(out.Request))
			return out, nil, nil
		},
		func(in envelope.RunState, _ error) (envelope.RunState, map[string]any) {
			return reset(in), nil
		},
	)
}
