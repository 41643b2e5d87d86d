// Package trace records run events on the envelope and persists run traces.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// DefaultOutputDir is used when no trace directory is configured.
const DefaultOutputDir = "artifacts/runs"

// NowMS returns the event timestamp in milliseconds. Tests may replace it.
var NowMS = func() int64 {
	return time.Now().UnixMilli()
}

// NewRunID returns a fresh 32-character hex identifier.
func NewRunID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// EnsureRunID assigns a run id only when the current one is empty.
func EnsureRunID(s envelope.RunState) envelope.RunState {
	if s.Control.RunID != "" {
		return s
	}
	s.Control.RunID = NewRunID()
	return s
}

// AppendEvent returns s with one more trace event. The input's event
// slice is never written to, so earlier snapshots keep their length.
func AppendEvent(s envelope.RunState, kind string, data map[string]any) envelope.RunState {
	events := envelope.CopyEvents(s.Control.TraceEvents, 1)
	events = append(events, envelope.Event{
		TSMs: NowMS(),
		Kind: kind,
		Data: envelope.DeepCopyMap(data),
	})
	s.Control.TraceEvents = events
	return s
}

// NodeStart records the start boundary of a stage.
func NodeStart(s envelope.RunState, stage envelope.Stage) envelope.RunState {
	return AppendEvent(s, envelope.EventKindNode, map[string]any{
		"name":  string(stage),
		"phase": envelope.PhaseStart,
	})
}

// NodeEnd records the end boundary of a stage with optional extra data.
func NodeEnd(s envelope.RunState, stage envelope.Stage, extra map[string]any) envelope.RunState {
	data := map[string]any{
		"name":  string(stage),
		"phase": envelope.PhaseEnd,
	}
	for k, v := range extra {
		data[k] = v
	}
	return AppendEvent(s, envelope.EventKindNode, data)
}

// Document is the persisted form of a run.
type Document struct {
	RunID       string                `json:"run_id"`
	Request     string                `json:"request"`
	Intent      envelope.Intent       `json:"intent"`
	Final       string                `json:"final"`
	Events      []envelope.Event      `json:"events"`
	ToolResults []envelope.ToolResult `json:"tool_results"`
}

// Path returns the trace file path for a run id.
func Path(repoRoot, outDir, runID string) string {
	if outDir == "" {
		outDir = DefaultOutputDir
	}
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(repoRoot, outDir)
	}
	return filepath.Join(outDir, fmt.Sprintf("run-%s.json", runID))
}

// WriteRunTrace writes <repoRoot>/<outDir>/run-<run_id>.json and returns its path.
// A state without a run id gets a fresh one for the file name.
func WriteRunTrace(repoRoot, outDir string, s envelope.RunState) (string, error) {
	runID := s.Control.RunID
	if runID == "" {
		runID = NewRunID()
	}

	path := Path(repoRoot, outDir, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create trace dir: %w", err)
	}

	doc := Document{
		RunID:       runID,
		Request:     s.Request,
		Intent:      s.Intent,
		Final:       s.Final,
		Events:      s.Control.TraceEvents,
		ToolResults: s.ToolResults,
	}
	if doc.Events == nil {
		doc.Events = []envelope.Event{}
	}
	if doc.ToolResults == nil {
		doc.ToolResults = []envelope.ToolResult{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write trace: %w", err)
	}
	return path, nil
}

// ReadRunTrace loads a persisted trace document.
func ReadRunTrace(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", path, err)
	}
	return &doc, nil
}
