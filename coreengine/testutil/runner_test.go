// Package testutil tests for FakeRunner
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestFakeRunnerDefaultTools(t *testing.T) {
	// Test default tools mirror the runner's capabilities.
	f := NewFakeRunner()
	defer f.Close()

	assert.Equal(t, []string{"exec", "health", "list_files", "read_file"}, f.List())
	assert.True(t, f.Has("exec"))
	assert.False(t, f.Has("apply_patch"))
}

func TestFakeRunnerRegisterValidation(t *testing.T) {
	// Test registration requires a name and a handler.
	f := NewFakeRunner()
	defer f.Close()

	err := f.Register(&ToolDefinition{Name: ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")

	err = f.Register(&ToolDefinition{Name: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler is required")
}

// =============================================================================
// HTTP CONTRACT TESTS
// =============================================================================

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestFakeRunnerBatchDispatch(t *testing.T) {
	// Test batch results align with calls, including unknown tools.
	f := NewFakeRunner()
	defer f.Close()

	resp := postJSON(t, f.URL()+"/v1/tools/batch_execute", map[string]any{
		"calls": []map[string]any{
			{"tool": "list_files", "input": map[string]any{"path": "."}},
			{"tool": "nope", "input": map[string]any{}},
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Results []envelope.ToolResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Results, 2)
	assert.True(t, out.Results[0].OK)
	assert.Equal(t, "nope", out.Results[1].Tool)
	assert.False(t, out.Results[1].OK)

	assert.Equal(t, 1, f.BatchCount())
	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ".", calls[0].Input["path"])
}

func TestFakeRunnerForcedStatus(t *testing.T) {
	// Test forced status short-circuits tool endpoints.
	f := NewFakeRunner().WithStatus(http.StatusBadGateway)
	defer f.Close()

	resp := postJSON(t, f.URL()+"/v1/tools/execute", map[string]any{"tool": "health"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 1, f.ExecuteCount())
	assert.Empty(t, f.Calls())
}

func TestFakeRunnerToken(t *testing.T) {
	// Test bearer token enforcement.
	f := NewFakeRunner().WithToken("s3cret")
	defer f.Close()

	resp := postJSON(t, f.URL()+"/v1/tools/execute", map[string]any{"tool": "health"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "", f.LastAuthorization())
}
