// Package runtime provides the orchestration controller.
//
// The controller is an explicit state machine over envelope.Stage values:
//
//	ingest -> policy_gate -> context_builder -> planner -> executor -> verifier
//	verifier -> reporter   when verification passed or the loop budget is spent
//	verifier -> planner    otherwise
//	reporter -> done
//
// Each planner pass advances budgets.current_loop, so a run reaches the
// reporter within max_loops planner invocations.
package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/agents"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/observability"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("lgorch/runtime")

// PersistenceAdapter records completed runs.
type PersistenceAdapter interface {
	SaveRun(ctx context.Context, s envelope.RunState) error
}

// StageOutput is reported after every stage.
type StageOutput struct {
	Stage   envelope.Stage
	Outcome agents.Outcome
	Loop    int
}

// RunOptions configures one run.
type RunOptions struct {
	// OnStage is called after each stage, in order, on the run goroutine.
	OnStage func(StageOutput)
}

// Stages holds one implementation per pipeline node.
type Stages struct {
	Ingest   agents.Stage
	Gate     agents.Stage
	Context  agents.Stage
	Planner  agents.Stage
	Executor agents.Stage
	Verifier agents.Stage
	Reporter agents.Stage
}

// DefaultStages wires the standard stage implementations.
func DefaultStages(builder agents.ContextBuilder, factory agents.RunnerFactory, logger agents.Logger) Stages {
	return Stages{
		Ingest:   agents.NewIngest(logger),
		Gate:     agents.NewPolicyGate(logger),
		Context:  agents.NewContextStage(builder, logger),
		Planner:  agents.NewPlanner(logger),
		Executor: agents.NewExecutor(factory, logger),
		Verifier: agents.NewVerifier(logger),
		Reporter: agents.NewReporter(logger),
	}
}

func (s Stages) byName() map[envelope.Stage]agents.Stage {
	return map[envelope.Stage]agents.Stage{
		envelope.StageIngest:  s.Ingest,
		envelope.StageGate:    s.Gate,
		envelope.StageContext: s.Context,
		envelope.StagePlan:    s.Planner,
		envelope.StageExecute: s.Executor,
		envelope.StageVerify:  s.Verifier,
		envelope.StageReport:  s.Reporter,
	}
}

// Controller runs the pipeline for one request at a time per call.
// It holds no per-run state and is safe for concurrent Run calls.
type Controller struct {
	Logger      agents.Logger
	Persistence PersistenceAdapter

	stages map[envelope.Stage]agents.Stage
}

// NewController validates that every stage is present.
func NewController(stages Stages, logger agents.Logger) (*Controller, error) {
	byName := stages.byName()
	for _, name := range envelope.PipelineStages() {
		if byName[name] == nil {
			return nil, fmt.Errorf("stage %q is not configured", name)
		}
	}
	return &Controller{
		Logger: logger.Bind("component", "controller"),
		stages: byName,
	}, nil
}

// Next returns the stage after current given the state it produced.
func Next(current envelope.Stage, s envelope.RunState) envelope.Stage {
	switch current {
	case envelope.StageIngest:
		return envelope.StageGate
	case envelope.StageGate:
		return envelope.StageContext
	case envelope.StageContext:
		return envelope.StagePlan
	case envelope.StagePlan:
		return envelope.StageExecute
	case envelope.StageExecute:
		return envelope.StageVerify
	case envelope.StageVerify:
		if s.Verification != nil && s.Verification.OK {
			return envelope.StageReport
		}
		if s.Budgets.Exhausted() {
			return envelope.StageReport
		}
		return envelope.StagePlan
	default:
		return envelope.StageDone
	}
}

// Run drives s through the state machine until done. The only error is
// context cancellation, returned with the state reached so far.
func (c *Controller) Run(ctx context.Context, s envelope.RunState, opts RunOptions) (envelope.RunState, error) {
	s = trace.EnsureRunID(s)
	logger := c.Logger.Bind("run_id", s.RunID())

	ctx, span := tracer.Start(ctx, "pipeline.run",
		oteltrace.WithAttributes(attribute.String("lgorch.run.id", s.RunID())),
	)
	defer span.End()

	startTime := time.Now()
	logger.Info("pipeline_started", "request_length", len(s.Request))

	stage := envelope.StageIngest
	for !stage.IsTerminal() {
		if err := ctx.Err(); err != nil {
			logger.Info("pipeline_cancelled", "stage", string(stage), "reason", err.Error())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.RecordPipelineRun("cancelled", s.Budgets.CurrentLoop, int(time.Since(startTime).Milliseconds()))
			return s, err
		}

		result := c.invoke(ctx, logger, stage, s)
		s = result.State
		if result.Degraded() {
			logger.Warn("pipeline_stage_degraded", "stage", string(stage), "error", errString(result.Err))
		}
		if opts.OnStage != nil {
			opts.OnStage(StageOutput{Stage: stage, Outcome: result.Outcome, Loop: s.Budgets.CurrentLoop})
		}

		next := Next(stage, s)
		if stage == envelope.StageVerify && next == envelope.StagePlan {
			logger.Debug("pipeline_retry", "loop", s.Budgets.CurrentLoop, "max_loops", s.Budgets.EffectiveMaxLoops())
		}
		stage = next
	}

	durationMS := int(time.Since(startTime).Milliseconds())
	status := "success"
	if s.Verification == nil || !s.Verification.OK {
		status = "unverified"
	}
	observability.RecordPipelineRun(status, s.Budgets.CurrentLoop, durationMS)
	span.SetAttributes(
		attribute.String("lgorch.run.status", status),
		attribute.Int("lgorch.run.loops", s.Budgets.CurrentLoop),
	)

	logger.Info("pipeline_completed",
		"intent", string(s.Intent),
		"status", status,
		"loops", s.Budgets.CurrentLoop,
		"tool_results", len(s.ToolResults),
		"duration_ms", durationMS,
	)

	c.writeTrace(logger, s)
	c.persist(ctx, logger, s)
	return s, nil
}

// invoke runs one stage. Stages recover their own panics; this guard
// keeps the controller alive for implementations that do not.
func (c *Controller) invoke(ctx context.Context, logger agents.Logger, stage envelope.Stage, s envelope.RunState) (result agents.StageResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic_recovered",
				"stage", string(stage),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			// The loop counter must still advance for the budget to bound retries.
			if stage == envelope.StagePlan {
				s.Budgets.CurrentLoop++
			}
			result = agents.StageResult{
				State:   s,
				Outcome: agents.OutcomeDegraded,
				Err:     fmt.Errorf("panic in %s: %v", stage, r),
			}
		}
	}()
	return c.stages[stage].Run(ctx, s)
}

func (c *Controller) writeTrace(logger agents.Logger, s envelope.RunState) {
	if !s.Control.TraceEnabled {
		return
	}
	path, err := trace.WriteRunTrace(s.Control.RepoRoot, s.Control.TraceOutDir, s)
	if err != nil {
		logger.Warn("trace_write_failed", "error", err.Error())
		return
	}
	logger.Info("trace_written", "path", path)
}

func (c *Controller) persist(ctx context.Context, logger agents.Logger, s envelope.RunState) {
	if c.Persistence == nil {
		return
	}
	if err := c.Persistence.SaveRun(ctx, s); err != nil {
		logger.Warn("state_persist_error", "error", err.Error())
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
