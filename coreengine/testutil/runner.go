// Package testutil provides a fake tool runner and other shared test helpers.
//
// FakeRunner serves the runner HTTP contract from an httptest server and
// dispatches calls to registered tool handlers, so clients, stages and the
// controller can be exercised end to end without the real service.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// ToolHandler produces the result for one tool call.
type ToolHandler func(input map[string]any) envelope.ToolResult

// ToolDefinition describes a tool served by the fake runner.
type ToolDefinition struct {
	Name        string
	Description string
	RiskLevel   string // "low", "medium", "high"
	Handler     ToolHandler
}

// RecordedCall is one tool call received by the fake runner.
type RecordedCall struct {
	Endpoint string
	Tool     string
	Input    map[string]any
}

// FakeRunner is an in-process runner service.
type FakeRunner struct {
	server *httptest.Server

	mu             sync.Mutex
	tools          map[string]*ToolDefinition
	calls          []RecordedCall
	executeCount   int
	batchCount     int
	forcedStatus   int
	malformedBatch bool
	requiredToken  string
	lastAuth       string
}

// NewFakeRunner starts a fake runner with list_files, read_file, exec and health registered.
func NewFakeRunner() *FakeRunner {
	f := &FakeRunner{tools: make(map[string]*ToolDefinition)}
	for _, def := range defaultTools() {
		_ = f.Register(def)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", f.handleHealth)
	mux.HandleFunc("/v1/capabilities", f.handleCapabilities)
	mux.HandleFunc("/v1/tools/execute", f.handleExecute)
	mux.HandleFunc("/v1/tools/batch_execute", f.handleBatch)
	f.server = httptest.NewServer(mux)
	return f
}

// URL returns the base URL of the fake runner.
func (f *FakeRunner) URL() string {
	return f.server.URL
}

// Close stops the server.
func (f *FakeRunner) Close() {
	f.server.Close()
}

// =============================================================================
// REGISTRY
// =============================================================================

// Register adds or replaces a tool.
func (f *FakeRunner) Register(def *ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler is required for '%s'", def.Name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools[def.Name] = def
	return nil
}

// Has checks if a tool is registered.
func (f *FakeRunner) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tools[name]
	return ok
}

// List returns registered tool names in sorted order.
func (f *FakeRunner) List() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.tools))
	for name := range f.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// BEHAVIOR SWITCHES
// =============================================================================

// WithStatus makes every tool endpoint answer with the given HTTP status.
func (f *FakeRunner) WithStatus(code int) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forcedStatus = code
	return f
}

// WithMalformedBatch makes batch responses omit the results list.
func (f *FakeRunner) WithMalformedBatch() *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.malformedBatch = true
	return f
}

// WithToken requires "Authorization: Bearer <token>" on tool endpoints.
func (f *FakeRunner) WithToken(token string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requiredToken = token
	return f
}

// =============================================================================
// ASSERTION HELPERS
// =============================================================================

// ExecuteCount returns the number of single-call requests received.
func (f *FakeRunner) ExecuteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executeCount
}

// BatchCount returns the number of batch requests received.
func (f *FakeRunner) BatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCount
}

// Calls returns every tool call received, in arrival order.
func (f *FakeRunner) Calls() []RecordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// LastAuthorization returns the last Authorization header seen.
func (f *FakeRunner) LastAuthorization() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

// =============================================================================
// HANDLERS
// =============================================================================

type callPayload struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

func (f *FakeRunner) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (f *FakeRunner) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": f.List()})
}

// admit applies auth and forced status. It returns false when the request was answered.
func (f *FakeRunner) admit(w http.ResponseWriter, r *http.Request) bool {
	f.mu.Lock()
	f.lastAuth = r.Header.Get("Authorization")
	forced := f.forcedStatus
	token := f.requiredToken
	f.mu.Unlock()

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return false
	}
	if forced != 0 {
		writeJSON(w, forced, map[string]any{"error": http.StatusText(forced)})
		return false
	}
	return true
}

func (f *FakeRunner) handleExecute(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.executeCount++
	f.mu.Unlock()
	if !f.admit(w, r) {
		return
	}

	var call callPayload
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, f.dispatch("execute", call))
}

func (f *FakeRunner) handleBatch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.batchCount++
	malformed := f.malformedBatch
	f.mu.Unlock()
	if !f.admit(w, r) {
		return
	}

	var req struct {
		Calls []callPayload `json:"calls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if malformed {
		writeJSON(w, http.StatusOK, map[string]any{"results": "not-a-list"})
		return
	}

	results := make([]envelope.ToolResult, len(req.Calls))
	for i, call := range req.Calls {
		results[i] = f.dispatch("batch_execute", call)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (f *FakeRunner) dispatch(endpoint string, call callPayload) envelope.ToolResult {
	f.mu.Lock()
	f.calls = append(f.calls, RecordedCall{Endpoint: endpoint, Tool: call.Tool, Input: call.Input})
	def, ok := f.tools[call.Tool]
	f.mu.Unlock()

	if !ok {
		return envelope.ToolResult{
			Tool:     call.Tool,
			OK:       false,
			ExitCode: 1,
			Stderr:   fmt.Sprintf("bad request: unknown tool: %s", call.Tool),
		}
	}
	result := def.Handler(call.Input)
	if result.Tool == "" {
		result.Tool = call.Tool
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func defaultTools() []*ToolDefinition {
	ok := func(tool, stdout string) ToolHandler {
		return func(map[string]any) envelope.ToolResult {
			return envelope.ToolResult{Tool: tool, OK: true, Stdout: stdout, Artifacts: map[string]any{}}
		}
	}
	return []*ToolDefinition{
		{Name: "health", RiskLevel: "low", Handler: ok("health", "ok")},
		{Name: "list_files", Description: "List directory entries", RiskLevel: "low", Handler: ok("list_files", `["README.md","cmd"]`)},
		{Name: "read_file", Description: "Read a file", RiskLevel: "low", Handler: ok("read_file", "")},
		{Name: "exec", Description: "Run an allowed command", RiskLevel: "high", Handler: ok("exec", "")},
	}
}
