package jobqctl

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPurgeCmd(e *env) *cobra.Command {
	var (
		olderThan time.Duration
		batch     int
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished jobs older than a retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			total := 0
			for {
				n, err := e.store.PurgeOldJobs(cmd.Context(), olderThan, batch)
				if err != nil {
					return err
				}
				total += n
				if n < batch {
					break
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) purged\n", total)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention window for finished jobs")
	cmd.Flags().IntVar(&batch, "batch-size", 500, "rows deleted per batch")
	return cmd
}
