package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs from the run index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if a.store == nil {
				return configError(errors.New("run index unavailable: set store.enabled = true"))
			}
			runs, err := a.store.ListRuns(ctx, limit)
			if err != nil {
				return failure(err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tCREATED\tINTENT\tLOOPS\tVERIFIED\tTOOLS\tREQUEST")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%d\t%s\n",
					r.RunID, r.CreatedAt.Format(time.RFC3339), r.Intent, r.Loops, r.Verified, r.ToolResults, r.Request)
			}
			if err := w.Flush(); err != nil {
				return failure(fmt.Errorf("write runs: %w", err))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (0 for all)")
	return cmd
}
