// Package config loads application configuration.
//
// Configuration comes from <repo_root>/configs/runtime.<profile>.toml with
// LG_-prefixed environment overrides applied on top. Defaults fill any key
// the file leaves out, but the budgets, policy and runner sections must be
// present. A config that fails to load or validate is never partially
// applied.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// BudgetsConfig bounds a run.
type BudgetsConfig struct {
	MaxLoops            int `koanf:"max_loops"`
	MaxToolCallsPerLoop int `koanf:"max_tool_calls_per_loop"`
	MaxPatchBytes       int `koanf:"max_patch_bytes"`
	ToolTimeoutS        int `koanf:"tool_timeout_s"`
}

// PolicyConfig is the raw policy section. NetworkDefault is checked at
// the gate, not here.
type PolicyConfig struct {
	NetworkDefault              string `koanf:"network_default"`
	RequireApprovalForMutations bool   `koanf:"require_approval_for_mutations"`
}

// RunnerConfig locates the tool runner service.
type RunnerConfig struct {
	BaseURL      string  `koanf:"base_url"`
	RootDir      string  `koanf:"root_dir"`
	APIKey       string  `koanf:"api_key"`
	Enabled      bool    `koanf:"enabled"`
	RateLimitRPS float64 `koanf:"rate_limit_rps"`
	MaxAttempts  int     `koanf:"max_attempts"`
}

// TraceConfig controls run trace files and span export.
type TraceConfig struct {
	Enabled   bool   `koanf:"enabled"`
	OutputDir string `koanf:"output_dir"`
	// OTLPEndpoint enables OpenTelemetry export when non-empty.
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// StoreConfig controls the SQLite run index.
type StoreConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `koanf:"level"`
}

// Config is the full application configuration.
type Config struct {
	Profile  string `koanf:"-"`
	RepoRoot string `koanf:"-"`
	// Path is the file the configuration was read from.
	Path string `koanf:"-"`

	Budgets BudgetsConfig `koanf:"budgets"`
	Policy  PolicyConfig  `koanf:"policy"`
	Runner  RunnerConfig  `koanf:"runner"`
	Trace   TraceConfig   `koanf:"trace"`
	Store   StoreConfig   `koanf:"store"`
	Log     LogConfig     `koanf:"log"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Profile: DefaultProfile,
		Budgets: BudgetsConfig{
			MaxLoops:            envelope.DefaultMaxLoops,
			MaxToolCallsPerLoop: 20,
			MaxPatchBytes:       200000,
			ToolTimeoutS:        60,
		},
		Policy: PolicyConfig{
			NetworkDefault:              "deny",
			RequireApprovalForMutations: true,
		},
		Runner: RunnerConfig{
			BaseURL:     "http://127.0.0.1:8088",
			RootDir:     ".",
			Enabled:     true,
			MaxAttempts: 3,
		},
		Trace: TraceConfig{
			OutputDir: "artifacts/runs",
		},
		Store: StoreConfig{
			Path: "artifacts/runs.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks value ranges. All violations are reported together.
func (c *Config) Validate() error {
	var errs []error
	if c.Budgets.MaxLoops < 1 {
		errs = append(errs, fmt.Errorf("budgets.max_loops must be >= 1, got %d", c.Budgets.MaxLoops))
	}
	if c.Budgets.MaxToolCallsPerLoop < 1 {
		errs = append(errs, fmt.Errorf("budgets.max_tool_calls_per_loop must be >= 1, got %d", c.Budgets.MaxToolCallsPerLoop))
	}
	if c.Budgets.MaxPatchBytes < 0 {
		errs = append(errs, fmt.Errorf("budgets.max_patch_bytes must be >= 0, got %d", c.Budgets.MaxPatchBytes))
	}
	if c.Budgets.ToolTimeoutS < 1 {
		errs = append(errs, fmt.Errorf("budgets.tool_timeout_s must be >= 1, got %d", c.Budgets.ToolTimeoutS))
	}
	if c.Runner.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("runner.max_attempts must be >= 1, got %d", c.Runner.MaxAttempts))
	}
	if c.Runner.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("runner.rate_limit_rps must be >= 0, got %v", c.Runner.RateLimitRPS))
	}
	if c.Store.Enabled && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required when store.enabled is true"))
	}
	return errors.Join(errs...)
}

// ToolTimeout is the per-attempt runner HTTP timeout.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Budgets.ToolTimeoutS) * time.Second
}

// PolicySnapshot returns the policy section as the gate consumes it.
func (c *Config) PolicySnapshot() *envelope.PolicyConfig {
	return &envelope.PolicyConfig{
		NetworkDefault:              c.Policy.NetworkDefault,
		RequireApprovalForMutations: c.Policy.RequireApprovalForMutations,
	}
}
