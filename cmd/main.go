// lgorch runs the repository orchestration pipeline.
//
// Usage:
//
//	lgorch run "fix the login bug" --trace
//	lgorch export-graph
//	lgorch eval --tasks eval/tasks
//	lgorch serve --addr :50051 --metrics-addr :9090
//	lgorch runner-health
//	lgorch runs --limit 10
//
// Reports and graphs go to stdout; structured logs go to stderr.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

var version = "dev"

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error { return &exitError{code: exitConfigError, err: err} }
func failure(err error) error     { return &exitError{code: exitFailure, err: err} }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and maps errors to exit codes.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(stderr, "error:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Usage errors from cobra itself.
	return exitConfigError
}

// globalOptions are flags shared by every command.
type globalOptions struct {
	profile  string
	repoRoot string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "lgorch",
		Short:         "Repository orchestration pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.profile, "profile", "", "config profile (default $LG_PROFILE or dev)")
	root.PersistentFlags().StringVar(&opts.repoRoot, "repo-root", "", "repository root (default $LG_REPO_ROOT or nearest configs/ ancestor)")

	root.AddCommand(
		newRunCmd(opts),
		newExportGraphCmd(),
		newEvalCmd(opts),
		newServeCmd(opts),
		newRunnerHealthCmd(opts),
		newRunsCmd(opts),
	)
	return root
}
