// Package envelope provides the run state envelope threaded through the pipeline.
//
// The envelope separates public, validated fields (request, intent, plan,
// results, report) from internal control fields (run id, trace events,
// runner endpoint, configuration snapshots). Stages receive an envelope by
// value and return a new one; Clone gives each stage a private copy so
// earlier snapshots stay valid.
package envelope

import (
	"fmt"
	"strings"
)

// Intent is the classified purpose of a request.
type Intent string

const (
	// IntentCodeChange indicates the request asks for a modification.
	IntentCodeChange Intent = "code_change"
	// IntentAnalysis is the default intent.
	IntentAnalysis Intent = "analysis"
	// IntentResearch indicates an information-gathering request.
	IntentResearch Intent = "research"
	// IntentQuestion indicates a question about the code.
	IntentQuestion Intent = "question"
	// IntentDebug indicates a failure investigation.
	IntentDebug Intent = "debug"
	// IntentRefactor is accepted in state and task files but never produced by the classifier.
	IntentRefactor Intent = "refactor"
)

// AllIntents returns every defined intent.
func AllIntents() []Intent {
	return []Intent{
		IntentCodeChange,
		IntentAnalysis,
		IntentResearch,
		IntentQuestion,
		IntentDebug,
		IntentRefactor,
	}
}

// IntentFromString parses an intent, ignoring case and surrounding whitespace.
func IntentFromString(s string) (Intent, error) {
	normalized := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, intent := range AllIntents() {
		if intent == normalized {
			return intent, nil
		}
	}
	return "", fmt.Errorf("invalid intent: %q", s)
}

// Stage identifies a state of the orchestration state machine.
// Values double as node names in trace events and graph exports.
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageGate    Stage = "policy_gate"
	StageContext Stage = "context_builder"
	StagePlan    Stage = "planner"
	StageExecute Stage = "executor"
	StageVerify  Stage = "verifier"
	StageReport  Stage = "reporter"
	// StageDone is terminal; no node runs for it.
	StageDone Stage = "done"
)

// PipelineStages returns the stages in forward order, excluding StageDone.
func PipelineStages() []Stage {
	return []Stage{
		StageIngest,
		StageGate,
		StageContext,
		StagePlan,
		StageExecute,
		StageVerify,
		StageReport,
	}
}

// IsTerminal returns true when no further stage runs.
func (s Stage) IsTerminal() bool {
	return s == StageDone
}

// Event kinds recorded in the trace.
const (
	EventKindNode  = "node"
	EventKindTools = "tools"
)

// Event phases for node events.
const (
	PhaseStart = "start"
	PhaseEnd   = "end"
)
