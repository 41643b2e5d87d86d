package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// Placeholder renders absent report fields.
const Placeholder = "<none>"

// Reporter renders the final summary. It overwrites Final on every run.
type Reporter struct {
	Logger Logger
}

// NewReporter creates the reporter stage.
func NewReporter(logger Logger) *Reporter {
	return &Reporter{Logger: logger.Bind("stage", string(envelope.StageReport))}
}

// Name implements Stage.
func (r *Reporter) Name() envelope.Stage { return envelope.StageReport }

// Run implements Stage.
func (r *Reporter) Run(ctx context.Context, s envelope.RunState) StageResult {
	return execute(ctx, envelope.StageReport, r.Logger, s,
		func(_ context.Context, in envelope.RunState) (envelope.RunState, map[string]any, error) {
			in.Final = Render(in)
			return in, nil, nil
		},
		func(in envelope.RunState, err error) (envelope.RunState, map[string]any) {
			r.Logger.Error("reporter_failed", "error", err.Error())
			in.Final = fmt.Sprintf("error: reporter failed: %v", err)
			return in, nil
		},
	)
}

// Render builds the report lines: intent, repo_root, top_level and,
// when any tool ran, tool_calls.
func Render(s envelope.RunState) string {
	intent := string(s.Intent)
	if intent == "" {
		intent = Placeholder
	}
	root := s.RepoContext.RepoRoot
	if root == "" {
		root = Placeholder
	}
	topLevel := Placeholder
	if s.RepoContext.TopLevel != nil {
		topLevel = fmt.Sprintf("%v", s.RepoContext.TopLevel)
	}

	lines := []string{
		"intent: " + intent,
		"repo_root: " + root,
		"top_level: " + topLevel,
	}
	if len(s.ToolResults) > 0 {
		lines = append(lines, fmt.Sprintf("tool_calls: %d", len(s.ToolResults)))
	}
	return strings.Join(lines, "\n")
}
