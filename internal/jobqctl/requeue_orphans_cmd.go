package jobqctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRequeueOrphansCmd(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "requeue-orphans",
		Short: "Requeue or fail running jobs whose backend is gone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := e.store.RequeueOrphanedRunningJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d orphaned job(s) processed\n", count)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of running rows to inspect")
	return cmd
}
