package runtime

import (
	"strings"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/agents"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/config"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/tools"
)

// RunInput carries per-invocation overrides on top of configuration.
type RunInput struct {
	Request string
	// RunnerBaseURL replaces runner.base_url when non-empty.
	RunnerBaseURL string
	// Trace forces trace output on; it never turns configured tracing off.
	Trace bool
	// DisableRunner skips tool execution regardless of runner.enabled.
	DisableRunner bool
}

// InitialState builds the envelope handed to Controller.Run.
func InitialState(cfg *config.Config, in RunInput) envelope.RunState {
	baseURL := cfg.Runner.BaseURL
	if u := strings.TrimSpace(in.RunnerBaseURL); u != "" {
		baseURL = u
	}

	s := envelope.New(in.Request)
	s.Control = envelope.Control{
		RepoRoot:            cfg.RepoRoot,
		RunnerBaseURL:       baseURL,
		RunnerAPIKey:        strings.TrimSpace(cfg.Runner.APIKey),
		RunnerDisabled:      !cfg.Runner.Enabled || in.DisableRunner,
		BudgetMaxLoops:      cfg.Budgets.MaxLoops,
		MaxToolCallsPerLoop: cfg.Budgets.MaxToolCallsPerLoop,
		MaxPatchBytes:       cfg.Budgets.MaxPatchBytes,
		Policy:              cfg.PolicySnapshot(),
		TraceEnabled:        in.Trace || cfg.Trace.Enabled,
		TraceOutDir:         cfg.Trace.OutputDir,
	}
	return s
}

// RunnerFactory builds the executor's runner factory from configuration.
func RunnerFactory(cfg *config.Config, logger tools.Logger) agents.RunnerFactory {
	return agents.NewRunnerFactory(tools.Config{
		Timeout:     cfg.ToolTimeout(),
		MaxAttempts: cfg.Runner.MaxAttempts,
		RateLimit:   cfg.Runner.RateLimitRPS,
		Logger:      logger,
	})
}

// New wires the default stages for cfg.
func New(cfg *config.Config, builder agents.ContextBuilder, logger agents.Logger) (*Controller, error) {
	stages := DefaultStages(builder, RunnerFactory(cfg, logger), logger)
	return NewController(stages, logger)
}
