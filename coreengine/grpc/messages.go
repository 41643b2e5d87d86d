package grpc

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/runtime"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/typeutil"
)

// =============================================================================
// RUN MESSAGES
// =============================================================================

// RunRequest is the decoded Run request. Runner endpoint, credentials and
// trace output come from server configuration only.
type RunRequest struct {
	Request string
}

// serverOnlyFields are Run fields a remote caller may not set.
var serverOnlyFields = []string{"runner_base_url", "runner_api_key", "trace"}

// ToolResultSummary is one tool result in a Run response.
type ToolResultSummary struct {
	Tool      string
	OK        bool
	ExitCode  int
	ErrorCode string
	TimingMS  int64
}

// RunResponse is the decoded Run response.
type RunResponse struct {
	RunID       string
	Intent      envelope.Intent
	Final       string
	Loops       int
	Verified    bool
	ToolResults []ToolResultSummary
}

// ToStruct encodes the request.
func (r RunRequest) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"request": r.Request,
	})
}

// runRequestFromStruct decodes a request. Server-only fields are rejected;
// other unknown fields are ignored.
func runRequestFromStruct(s *structpb.Struct) (RunRequest, error) {
	var req RunRequest
	for _, name := range serverOnlyFields {
		if err := rejectField(s, name); err != nil {
			return req, err
		}
	}
	var err error
	if req.Request, err = stringField(s, "request"); err != nil {
		return req, err
	}
	return req, nil
}

// runResponseToStruct encodes the final state of a run.
func runResponseToStruct(s envelope.RunState) (*structpb.Struct, error) {
	results := make([]any, 0, len(s.ToolResults))
	for _, r := range s.ToolResults {
		results = append(results, map[string]any{
			"tool":       r.Tool,
			"ok":         r.OK,
			"exit_code":  r.ExitCode,
			"error_code": r.ErrorCode(),
			"timing_ms":  r.TimingMS,
		})
	}
	return structpb.NewStruct(map[string]any{
		"run_id":       s.RunID(),
		"intent":       string(s.Intent),
		"final":        s.Final,
		"loops":        s.Budgets.CurrentLoop,
		"verified":     s.Verification != nil && s.Verification.OK,
		"tool_results": results,
	})
}

// RunResponseFromStruct decodes a Run response.
func RunResponseFromStruct(s *structpb.Struct) (*RunResponse, error) {
	m := s.AsMap()
	resp := &RunResponse{
		RunID:  typeutil.StringOr(m, "run_id", ""),
		Intent: envelope.Intent(typeutil.StringOr(m, "intent", "")),
		Final:  typeutil.StringOr(m, "final", ""),
	}
	resp.Loops, _ = typeutil.Int(m, "loops")
	resp.Verified, _ = typeutil.Bool(m, "verified")

	if _, present := m["tool_results"]; !present {
		return resp, nil
	}
	entries, ok := typeutil.Objects(m, "tool_results")
	if !ok {
		return nil, fmt.Errorf("tool_results must be a list of objects")
	}
	for _, entry := range entries {
		r := ToolResultSummary{
			Tool:      typeutil.StringOr(entry, "tool", ""),
			ErrorCode: typeutil.StringOr(entry, "error_code", ""),
		}
		r.OK, _ = typeutil.Bool(entry, "ok")
		r.ExitCode, _ = typeutil.Int(entry, "exit_code")
		r.TimingMS, _ = typeutil.Int64(entry, "timing_ms")
		resp.ToolResults = append(resp.ToolResults, r)
	}
	return resp, nil
}

// =============================================================================
// GRAPH MESSAGES
// =============================================================================

func graphToStruct() (*structpb.Struct, error) {
	nodes := make([]any, 0)
	for _, n := range runtime.Nodes() {
		nodes = append(nodes, n)
	}
	edges := make([]any, 0)
	for _, e := range runtime.Edges() {
		edges = append(edges, map[string]any{"from": e.From, "to": e.To, "label": e.Label})
	}
	return structpb.NewStruct(map[string]any{
		"mermaid": runtime.Mermaid(),
		"nodes":   nodes,
		"edges":   edges,
	})
}

// =============================================================================
// FIELD HELPERS
// =============================================================================

func stringField(s *structpb.Struct, name string) (string, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return "", nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue, nil
	case *structpb.Value_NullValue:
		return "", nil
	default:
		return "", InvalidArgument(name, "must be a string")
	}
}

func rejectField(s *structpb.Struct, name string) error {
	v, ok := s.GetFields()[name]
	if !ok {
		return nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil
	}
	return InvalidArgument(name, "is set in server configuration and cannot be overridden")
}
