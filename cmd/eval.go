package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/eval"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/runtime"
)

func newEvalCmd(opts *globalOptions) *cobra.Command {
	var (
		tasksDir    string
		pipeline    bool
		concurrency int
		minAccuracy float64
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score intent classification against labeled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			dir := tasksDir
			if dir == "" {
				dir = filepath.Join(a.cfg.RepoRoot, "eval", "tasks")
			}
			tasks, err := eval.LoadTasks(dir)
			if err != nil {
				a.logger.Error("eval_tasks_invalid", "dir", dir, "error", err.Error())
				return configError(err)
			}

			evalOpts := eval.Options{Concurrency: concurrency}
			if pipeline {
				c, err := a.controller()
				if err != nil {
					return failure(err)
				}
				evalOpts.Pipeline = func(ctx context.Context, request string) (envelope.RunState, error) {
					initial := runtime.InitialState(a.cfg, runtime.RunInput{Request: request, DisableRunner: true})
					return c.Run(ctx, initial, runtime.RunOptions{})
				}
			}

			report, err := eval.Run(ctx, tasks, evalOpts)
			if err != nil {
				return failure(err)
			}
			a.logger.Info("eval_completed", "passed", report.Passed, "total", report.Total, "pipeline", pipeline)

			out := cmd.OutOrStdout()
			for _, r := range report.Results {
				line := formatResult(r)
				if _, err := fmt.Fprintln(out, line); err != nil {
					return failure(err)
				}
			}
			if _, err := fmt.Fprintf(out, "accuracy: %d/%d (%.1f%%)\n", report.Passed, report.Total, report.Accuracy()*100); err != nil {
				return failure(err)
			}

			if report.Accuracy() < minAccuracy {
				return failure(fmt.Errorf("accuracy %.3f below minimum %.3f", report.Accuracy(), minAccuracy))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tasksDir, "tasks", "", "task directory (default <repo-root>/eval/tasks)")
	cmd.Flags().BoolVar(&pipeline, "pipeline", false, "run the full pipeline per task with tool execution disabled")
	cmd.Flags().IntVar(&concurrency, "concurrency", eval.DefaultConcurrency, "tasks evaluated in parallel")
	cmd.Flags().Float64Var(&minAccuracy, "min-accuracy", 0, "fail when accuracy is below this fraction")
	return cmd
}

func formatResult(r eval.Result) string {
	verdict := "PASS"
	if !r.Passed {
		verdict = "FAIL"
	}
	if r.Err != nil {
		return fmt.Sprintf("%s %s expected=%s error=%v", verdict, r.Task.ID, r.Task.ExpectedIntent, r.Err)
	}
	return fmt.Sprintf("%s %s expected=%s got=%s", verdict, r.Task.ID, r.Task.ExpectedIntent, r.Got)
}
