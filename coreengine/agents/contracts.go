// Package agents provides the pipeline stages and their shared contracts.
//
// Every stage takes a RunState by value and returns a StageResult whose
// State is a new envelope built from the input plus the stage's delta.
// Stages never return errors to the controller: a failure (including a
// recovered panic) is folded into the stage's documented fallback and
// reported as OutcomeDegraded.
package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/observability"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Logger is the interface for logging.
type Logger interface {
	Info(msg string, fields ...any)
	Debug(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Bind(fields ...any) Logger
}

// =============================================================================
// OUTCOMES
// =============================================================================

// Outcome classifies how a stage finished.
type Outcome string

const (
	// OutcomeSuccess indicates the stage produced its normal output.
	OutcomeSuccess Outcome = "success"
	// OutcomeDegraded indicates the stage failed and applied its fallback.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeSkipped indicates the stage had nothing to do.
	OutcomeSkipped Outcome = "skipped"
)

// StageResult is what every stage returns to the controller.
type StageResult struct {
	State   envelope.RunState
	Outcome Outcome
	// Err is the cause of a degraded outcome.
	Err        error
	DurationMS int
}

// Degraded returns true when the stage fell back.
func (r StageResult) Degraded() bool {
	return r.Outcome == OutcomeDegraded
}

// Stage is one node of the orchestration state machine.
type Stage interface {
	Name() envelope.Stage
	Run(ctx context.Context, s envelope.RunState) StageResult
}

// =============================================================================
// STAGE EXECUTION
// =============================================================================

var tracer = otel.Tracer("lgorch/agents")

// stageBody computes the stage delta on a private copy of the state.
// The returned map is merged into the end event.
type stageBody func(ctx context.Context, s envelope.RunState) (envelope.RunState, map[string]any, error)

// stageFallback derives the degraded output from the state the body received.
type stageFallback func(s envelope.RunState, err error) (envelope.RunState, map[string]any)

// skipError short-circuits a body without degrading the stage.
type skipError struct {
	reason string
}

func (e *skipError) Error() string { return "skipped: " + e.reason }

func skip(reason string) error {
	return &skipError{reason: reason}
}

// codedError carries the code recorded as "error" in the end event.
type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return fmt.Sprintf("%s: %v", e.code, e.err) }
func (e *codedError) Unwrap() error { return e.err }

// execute wraps a stage body with trace boundaries, a span, metrics and
// panic recovery.
func execute(
	ctx context.Context,
	name envelope.Stage,
	logger Logger,
	in envelope.RunState,
	body stageBody,
	fallback stageFallback,
) StageResult {
	ctx, span := tracer.Start(ctx, "stage."+string(name),
		oteltrace.WithAttributes(
			attribute.String("lgorch.stage.name", string(name)),
			attribute.String("lgorch.run.id", in.RunID()),
		),
	)
	defer span.End()

	startTime := time.Now()
	logger.Debug(fmt.Sprintf("%s_started", name))

	s := trace.NodeStart(in.Clone(), name)

	out, extra, err := safeRun(logger, name, func() (envelope.RunState, map[string]any, error) {
		return body(ctx, s)
	})

	outcome := OutcomeSuccess
	if err != nil {
		if skipped, ok := err.(*skipError); ok {
			outcome = OutcomeSkipped
			out = s
			extra = map[string]any{"skipped": skipped.reason}
			err = nil
		} else {
			outcome = OutcomeDegraded
			out, extra = fallback(s, err)
			if coded, ok := err.(*codedError); ok {
				if extra == nil {
					extra = map[string]any{}
				}
				extra["error"] = coded.code
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	out = trace.NodeEnd(out, name, extra)

	durationMS := int(time.Since(startTime).Milliseconds())
	span.SetAttributes(
		attribute.String("lgorch.stage.outcome", string(outcome)),
		attribute.Int("duration_ms", durationMS),
	)
	observability.RecordStageExecution(string(name), string(outcome), durationMS)

	if outcome == OutcomeDegraded {
		logger.Warn(fmt.Sprintf("%s_degraded", name), "error", err.Error(), "duration_ms", durationMS)
	} else {
		logger.Debug(fmt.Sprintf("%s_completed", name), "outcome", string(outcome), "duration_ms", durationMS)
	}

	return StageResult{State: out, Outcome: outcome, Err: err, DurationMS: durationMS}
}

// unchanged is the fallback for stages whose degraded output is the input.
func unchanged(s envelope.RunState, _ error) (envelope.RunState, map[string]any) {
	return s, nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (l nopLogger) Bind(...any) Logger { return l }

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}
