// Package tools provides the client for the external tool runner service.
//
// The runner executes tools (file listing, patches, commands) on behalf of
// the pipeline. The client never returns errors from tool calls: transport
// failures are retried with bounded exponential backoff, and anything that
// still fails becomes a failure envelope so results stay positionally
// aligned with their calls.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Runner endpoints.
const (
	ExecutePath      = "/v1/tools/execute"
	BatchExecutePath = "/v1/tools/batch_execute"
	HealthPath       = "/healthz"
	CapabilitiesPath = "/v1/capabilities"
)

// Artifact error codes for synthetic failures.
const (
	ErrorRunnerUnavailable = "runner_unavailable"
	ErrorRunnerHTTP        = "runner_http_error"
)

// Defaults for Config.
const (
	DefaultBaseURL     = "http://127.0.0.1:8088"
	DefaultTimeout     = 60 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 200 * time.Millisecond
	DefaultBackoffCap  = 2 * time.Second
)

// maxResponseBytes bounds how much of a runner response is read.
const maxResponseBytes = 32 << 20

var (
	// ErrInvalidBaseURL is returned for base URLs without an http(s) scheme.
	ErrInvalidBaseURL = errors.New("runner base url must start with http:// or https://")
	// ErrMalformedBatch indicates a batch response without a results list.
	ErrMalformedBatch = errors.New("invalid batch response")
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("runner client closed")
)

// Logger is the logging interface used by the client.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// MaxAttempts counts the first try.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64
	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     Logger
}

// ValidateBaseURL checks the http:// or https:// prefix.
func ValidateBaseURL(baseURL string) error {
	if strings.HasPrefix(baseURL, "http://") || strings.HasPrefix(baseURL, "https://") {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
}

// Client talks to the runner over HTTP.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	limiter     *rate.Limiter
	logger      Logger
	closed      atomic.Bool
}

var tracer = otel.Tracer("lgorch/tools")

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if err := ValidateBaseURL(cfg.BaseURL); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		httpClient:  httpClient,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		limiter:     limiter,
		logger:      logger,
	}, nil
}

// BaseURL returns the normalized runner base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

// =============================================================================
// TOOL EXECUTION
// =============================================================================

type executeRequest struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

type batchRequest struct {
	Calls []executeRequest `json:"calls"`
}

type batchResponse struct {
	Results *[]envelope.ToolResult `json:"results"`
}

// ExecuteOne runs a single tool. It always returns a result envelope.
func (c *Client) ExecuteOne(ctx context.Context, tool string, input map[string]any) envelope.ToolResult {
	ctx, span := tracer.Start(ctx, "runner.execute",
		oteltrace.WithAttributes(attribute.String("lgorch.tool.name", tool)),
	)
	defer span.End()

	body, err := json.Marshal(executeRequest{Tool: tool, Input: nonNilInput(input)})
	if err != nil {
		return envelope.FailureResult(tool, err.Error(), ErrorRunnerUnavailable, nil)
	}

	raw, err := c.post(ctx, ExecutePath, "execute", body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return c.failure(tool, err)
	}

	var result envelope.ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return c.failure(tool, &protocolError{err: fmt.Errorf("decode execute response: %w", err), status: http.StatusOK})
	}
	if result.Tool == "" {
		result.Tool = tool
	}
	recordResult(result)
	return result
}

// ExecuteBatch runs calls in one request. The result slice has the same
// length and order as calls; a client-level failure yields one failure
// envelope per call carrying that call's tool name.
func (c *Client) ExecuteBatch(ctx context.Context, calls []envelope.ToolCall) []envelope.ToolResult {
	if len(calls) == 0 {
		return []envelope.ToolResult{}
	}

	ctx, span := tracer.Start(ctx, "runner.batch_execute",
		oteltrace.WithAttributes(attribute.Int("lgorch.tool.count", len(calls))),
	)
	defer span.End()

	req := batchRequest{Calls: make([]executeRequest, len(calls))}
	for i, call := range calls {
		req.Calls[i] = executeRequest{Tool: call.Tool, Input: nonNilInput(call.Input)}
	}

	results, err := c.batch(ctx, req)
	if err == nil && len(results) != len(calls) {
		err = &protocolError{
			err:    fmt.Errorf("%w: %d results for %d calls", ErrMalformedBatch, len(results), len(calls)),
			status: http.StatusOK,
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		out := make([]envelope.ToolResult, len(calls))
		for i, call := range calls {
			out[i] = c.failure(call.Tool, err)
		}
		return out
	}

	for i := range results {
		if results[i].Tool == "" {
			results[i].Tool = calls[i].Tool
		}
		recordResult(results[i])
	}
	return results
}

func (c *Client) batch(ctx context.Context, req batchRequest) ([]envelope.ToolResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}

	raw, err := c.post(ctx, BatchExecutePath, "batch_execute", body)
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Results == nil {
		cause := ErrMalformedBatch
		if err != nil {
			cause = fmt.Errorf("%w: %v", ErrMalformedBatch, err)
		}
		return nil, &protocolError{err: cause, status: http.StatusOK}
	}
	return *resp.Results, nil
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// Health probes GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.get(ctx, HealthPath, "healthz")
	return err
}

// Capabilities returns the tool names advertised by the runner.
func (c *Client) Capabilities(ctx context.Context) ([]string, error) {
	raw, err := c.get(ctx, CapabilitiesPath, "capabilities")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	return resp.Tools, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// protocolError is a non-retryable response-level failure.
type protocolError struct {
	err    error
	status int
}

func (e *protocolError) Error() string { return e.err.Error() }
func (e *protocolError) Unwrap() error { return e.err }

func (c *Client) post(ctx context.Context, path, endpoint string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, endpoint, body)
}

func (c *Client) get(ctx context.Context, path, endpoint string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, endpoint, nil)
}

// do sends one logical request, retrying transport failures only.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		raw, err := c.roundTrip(ctx, method, path, endpoint, body)
		var perr *protocolError
		if errors.As(err, &perr) {
			return nil, backoff.Permanent(err)
		}
		return raw, err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("runner_request_retry",
			"endpoint", endpoint,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err.Error(),
		)
	}

	return backoff.RetryNotifyWithData(op, c.newBackOff(ctx), notify)
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffBase
	b.MaxInterval = c.backoffCap
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}

func (c *Client) roundTrip(ctx context.Context, method, path, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &protocolError{err: fmt.Errorf("build request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	durationMS := int(time.Since(start).Milliseconds())
	if err != nil {
		observability.RecordRunnerRequest(endpoint, "transport_error", durationMS)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	observability.RecordRunnerRequest(endpoint, strconv.Itoa(resp.StatusCode), durationMS)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &protocolError{
			err:    fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, truncate(string(raw), 512)),
			status: resp.StatusCode,
		}
	}

	c.logger.Debug("runner_request_completed",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration_ms", durationMS,
	)
	return raw, nil
}

// failure converts a client error into a failure envelope.
func (c *Client) failure(tool string, err error) envelope.ToolResult {
	var result envelope.ToolResult
	var perr *protocolError
	if errors.As(err, &perr) && perr.status != 0 {
		result = envelope.FailureResult(tool, err.Error(), ErrorRunnerHTTP, map[string]any{"status": perr.status})
	} else {
		result = envelope.FailureResult(tool, err.Error(), ErrorRunnerUnavailable, nil)
	}
	recordResult(result)
	return result
}

func recordResult(r envelope.ToolResult) {
	outcome := "ok"
	if !r.OK {
		outcome = r.ErrorCode()
		if outcome == "" {
			outcome = "failed"
		}
	}
	observability.RecordToolResult(r.Tool, outcome)
}

func nonNilInput(input map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	return input
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
