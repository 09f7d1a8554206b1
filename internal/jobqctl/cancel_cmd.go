package jobqctl

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newCancelCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			cancelled, err := e.store.Cancel(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			if cancelled {
				fmt.Fprintf(cmd.OutOrStdout(), "job %d cancelled\n", jobID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "job %d was not pending, no change\n", jobID)
			}
			return nil
		},
	}
}
