package jobqctl

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newKillCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <job-id>",
		Short: "Terminate a running job's backend and mark it cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			signalled, err := e.store.Kill(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			if signalled {
				fmt.Fprintf(cmd.OutOrStdout(), "job %d killed (signal issued)\n", jobID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "job %d: no signal issued (not running, or best-effort termination failed)\n", jobID)
			}
			return nil
		},
	}
}
