package grpc

import (
	"context"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/config"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/runtime"
)

// Logger interface for the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Pipeline runs one envelope to completion.
type Pipeline interface {
	Run(ctx context.Context, s envelope.RunState, opts runtime.RunOptions) (envelope.RunState, error)
}

// OrchestrationServer implements OrchestrationServiceServer.
// Thread-safe: each call runs an independent envelope.
type OrchestrationServer struct {
	logger   Logger
	pipeline Pipeline
	cfg      *config.Config
}

var _ OrchestrationServiceServer = (*OrchestrationServer)(nil)

// NewOrchestrationServer creates the service. cfg seeds every run's control fields.
func NewOrchestrationServer(logger Logger, pipeline Pipeline, cfg *config.Config) *OrchestrationServer {
	return &OrchestrationServer{
		logger:   logger,
		pipeline: pipeline,
		cfg:      cfg,
	}
}

// =============================================================================
// OrchestrationService Implementation
// =============================================================================

// Run executes one request through the pipeline.
func (s *OrchestrationServer) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := CheckContext(ctx); err != nil {
		return nil, err
	}
	req, err := runRequestFromStruct(in)
	if err != nil {
		return nil, err
	}
	req.Request = strings.TrimSpace(req.Request)
	if err := validateRequired(req.Request, "request"); err != nil {
		return nil, err
	}

	initial := runtime.InitialState(s.cfg, runtime.RunInput{Request: req.Request})

	final, err := s.pipeline.Run(ctx, initial, runtime.RunOptions{})
	if err != nil {
		s.logger.Warn("grpc_run_aborted", "run_id", final.RunID(), "error", err.Error())
		return nil, FromRunError(err)
	}

	out, err := runResponseToStruct(final)
	if err != nil {
		return nil, Internal("encode response", err)
	}
	s.logger.Info("grpc_run_completed",
		"run_id", final.RunID(),
		"intent", string(final.Intent),
		"loops", final.Budgets.CurrentLoop,
	)
	return out, nil
}

// ExportGraph returns the pipeline graph as mermaid text, nodes and edges.
func (s *OrchestrationServer) ExportGraph(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := CheckContext(ctx); err != nil {
		return nil, err
	}
	out, err := graphToStruct()
	if err != nil {
		return nil, Internal("encode graph", err)
	}
	return out, nil
}
