package jobqctl

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/jobq/internal/queue"
)

func newEnqueueCmd(e *env) *cobra.Command {
	var (
		account     string
		container   string
		priority    int
		correlation string
		maxRuntime  time.Duration
		scheduledAt string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <query-sql>",
		Short: "Submit a new read-only query job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := queue.EnqueueParams{
				QuerySQL:         args[0],
				StorageAccount:   account,
				StorageContainer: container,
			}
			if cmd.Flags().Changed("priority") {
				params.Priority = &priority
			}
			if correlation != "" {
				params.CorrelationID = &correlation
			}
			if maxRuntime > 0 {
				params.MaxRuntime = &maxRuntime
			}
			if scheduledAt != "" {
				t, err := time.Parse(time.RFC3339, scheduledAt)
				if err != nil {
					return fmt.Errorf("invalid --scheduled-at: %w", err)
				}
				params.ScheduledAt = &t
			}

			jobID, err := e.store.Enqueue(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job_id=%d\n", jobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "storage-account", "", "destination storage account (required)")
	cmd.Flags().StringVar(&container, "storage-container", "", "destination storage container (required)")
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority")
	cmd.Flags().StringVar(&correlation, "correlation-id", "", "caller-supplied correlation id")
	cmd.Flags().DurationVar(&maxRuntime, "max-runtime", 0, "maximum execution time (default: engine default)")
	cmd.Flags().StringVar(&scheduledAt, "scheduled-at", "", "earliest eligible time, RFC3339 (default: now)")
	_ = cmd.MarkFlagRequired("storage-account")
	_ = cmd.MarkFlagRequired("storage-container")

	return cmd
}
