package queue

import (
	"context"
	"log/slog"
)

// RunNextJob is the sole worker entry point (§4.5, §6.1). It is idempotent
// and safe to invoke concurrently from any number of workers: the claim
// transaction (T1) and the run transaction (T2) are separate commits so that
// status=running becomes visible to external observers before the
// long-running work begins, bounding the window in which a crashed worker
// looks "pending".
func (s *Store) RunNextJob(ctx context.Context, workerIdentity string) error {
	claim, err := s.ClaimNextJob(ctx, workerIdentity)
	if err != nil {
		return err
	}
	if claim == nil {
		s.logger.Debug("run_next_job: nothing to claim")
		return nil
	}

	s.logger.Info("run_next_job: claimed, entering T2",
		slog.Int64("job_id", claim.JobID), slog.Int("slot_id", claim.SlotID))

	return s.Runner(ctx, claim)
}
