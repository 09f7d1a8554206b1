package jobqctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMetricsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print a point-in-time snapshot of queue depth and wait times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := e.store.GetQueueMetrics(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pending:   %d\n", m.PendingCount)
			fmt.Fprintf(out, "running:   %d\n", m.RunningCount)
			fmt.Fprintf(out, "succeeded: %d\n", m.SucceededCount)
			fmt.Fprintf(out, "failed:    %d\n", m.FailedCount)
			fmt.Fprintf(out, "cancelled: %d\n", m.CancelledCount)
			if m.OldestPendingWait != nil {
				fmt.Fprintf(out, "oldest pending wait: %s\n", m.OldestPendingWait.Round(1_000_000))
			}
			if m.AvgPendingWait != nil {
				fmt.Fprintf(out, "avg pending wait:    %s\n", m.AvgPendingWait.Round(1_000_000))
			}
			return nil
		},
	}
}
