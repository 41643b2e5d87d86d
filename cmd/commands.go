package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/runtime"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/tools"
)

// =============================================================================
// RUN
// =============================================================================

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		runnerBaseURL string
		traceFlag     bool
	)

	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Run one request through the pipeline and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			c, err := a.controller()
			if err != nil {
				return failure(err)
			}

			initial := runtime.InitialState(a.cfg, runtime.RunInput{
				Request:       args[0],
				RunnerBaseURL: runnerBaseURL,
				Trace:         traceFlag,
			})
			out, err := c.Run(ctx, initial, runtime.RunOptions{})
			if err != nil {
				return failure(err)
			}

			a.logger.Info("run_complete",
				"run_id", out.RunID(),
				"intent", string(out.Intent),
				"runner_enabled", !out.Control.RunnerDisabled,
				"trace_enabled", out.Control.TraceEnabled,
				"tool_results", len(out.ToolResults),
			)

			if _, err := fmt.Fprintln(cmd.OutOrStdout(), out.Final); err != nil {
				return failure(fmt.Errorf("write report: %w", err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runnerBaseURL, "runner-base-url", "", "override runner.base_url")
	cmd.Flags().BoolVar(&traceFlag, "trace", false, "write the run trace regardless of trace.enabled")
	return cmd
}

// =============================================================================
// EXPORT GRAPH
// =============================================================================

func newExportGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-graph",
		Short: "Print the pipeline graph as a mermaid flowchart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := io.WriteString(cmd.OutOrStdout(), runtime.Mermaid()); err != nil {
				return failure(fmt.Errorf("write graph: %w", err))
			}
			return nil
		},
	}
}

// =============================================================================
// RUNNER HEALTH
// =============================================================================

func newRunnerHealthCmd(opts *globalOptions) *cobra.Command {
	var runnerBaseURL string

	cmd := &cobra.Command{
		Use:   "runner-health",
		Short: "Probe the configured tool runner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			baseURL := a.cfg.Runner.BaseURL
			if u := strings.TrimSpace(runnerBaseURL); u != "" {
				baseURL = u
			}
			client, err := tools.NewClient(tools.Config{
				BaseURL:     baseURL,
				APIKey:      a.cfg.Runner.APIKey,
				Timeout:     a.cfg.ToolTimeout(),
				MaxAttempts: a.cfg.Runner.MaxAttempts,
				RateLimit:   a.cfg.Runner.RateLimitRPS,
				Logger:      a.logger,
			})
			if err != nil {
				return configError(err)
			}
			defer client.Close()

			if err := client.Health(ctx); err != nil {
				a.logger.Error("runner_unhealthy", "url", baseURL, "error", err.Error())
				return failure(err)
			}
			names, err := client.Capabilities(ctx)
			if err != nil {
				a.logger.Warn("runner_capabilities_failed", "url", baseURL, "error", err.Error())
				names = nil
			}

			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "runner: ok (%s)\n", baseURL); err != nil {
				return failure(err)
			}
			if len(names) > 0 {
				if _, err := fmt.Fprintf(out, "tools: %s\n", strings.Join(names, ", ")); err != nil {
					return failure(err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runnerBaseURL, "runner-base-url", "", "override runner.base_url")
	return cmd
}
