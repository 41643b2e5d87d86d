package agents

import (
	"context"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// ContextBuilder gathers repository facts for a root directory.
// Implementations degrade to empty values instead of failing.
type ContextBuilder interface {
	Build(ctx context.Context, repoRoot string) envelope.RepoContext
}

// ContextStage wraps a ContextBuilder as a pipeline stage.
type ContextStage struct {
	Builder ContextBuilder
	Logger  Logger
}

// NewContextStage creates the context stage.
func NewContextStage(builder ContextBuilder, logger Logger) *ContextStage {
	return &ContextStage{
		Builder: builder,
		Logger:  logger.Bind("stage", string(envelope.StageContext)),
	}
}

// Name implements Stage.
func (c *ContextStage) Name() envelope.Stage { return envelope.StageContext }

// Run implements Stage.
func (c *ContextStage) Run(ctx context.Context, s envelope.RunState) StageResult {
	return execute(ctx, envelope.StageContext, c.Logger, s,
		func(ctx context.Context, in envelope.RunState) (envelope.RunState, map[string]any, error) {
			repoCtx := c.Builder.Build(ctx, repoRoot(in))
			if repoCtx.TopLevel == nil {
				repoCtx.TopLevel = []string{}
			}
			in.RepoContext = repoCtx
			return in, map[string]any{"top_level": len(repoCtx.TopLevel)}, nil
		},
		func(in envelope.RunState, err error) (envelope.RunState, map[string]any) {
			c.Logger.Warn("context_builder_failed", "error", err.Error())
			in.RepoContext = envelope.RepoContext{RepoRoot: repoRoot(in), TopLevel: []string{}}
			return in, map[string]any{"top_level": 0}
		},
	)
}

func repoRoot(s envelope.RunState) string {
	if s.Control.RepoRoot == "" {
		return "."
	}
	return s.Control.RepoRoot
}
