package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

// Notifier is the narrow interface used to publish lifecycle events for
// terminal transitions (SPEC_FULL.md §4.9). It is advisory and
// fire-and-forget: a Notify error is logged and never changes the
// committed job state.
type Notifier interface {
	Notify(ctx context.Context, job *Job) error
}

// noopNotifier is used when no Notifier is configured.
type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, *Job) error { return nil }

var unsafePrefixChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitizePrefix implements the §4.4 step 2 blob-path prefix rule.
func sanitizePrefix(correlationID *string, jobID int64) string {
	var raw string
	if correlationID != nil && *correlationID != "" {
		raw = *correlationID
	} else {
		raw = fmt.Sprintf("%d", jobID)
	}
	return unsafePrefixChar.ReplaceAllString(raw, "_")
}

// clampMaxRuntime implements §4.4 step 3.
func clampMaxRuntime(d time.Duration) time.Duration {
	if d < RunnerMinRuntime {
		return RunnerMinRuntime
	}
	if d > MaxMaxRuntime {
		return MaxMaxRuntime
	}
	return d
}

// backoffFor implements the linear, capped backoff described in §4.4 step 6
// and the Backoff glossary entry: min(n, 10) * 1 minute.
func backoffFor(attemptCount int) time.Duration {
	n := attemptCount
	if n > MaxBackoffAttempts {
		n = MaxBackoffAttempts
	}
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * BackoffUnit
}

// appendDiagnostic appends newDiag to the existing last_error (if any) and
// truncates the result to MaxLastErrorLength characters, keeping the most
// recent text (§4.4 step 6, §7 "append-only... truncated to 4000 chars on
// each write").
func appendDiagnostic(existing *string, newDiag string) string {
	var combined string
	if existing != nil && *existing != "" {
		combined = *existing + "; " + newDiag
	} else {
		combined = newDiag
	}
	if len(combined) > MaxLastErrorLength {
		combined = combined[len(combined)-MaxLastErrorLength:]
	}
	return combined
}

// SetNotifier installs the lifecycle-event notifier used by Runner for the
// succeeded and failed transitions it writes. Defaults to a no-op. The
// maintenance operations (Cancel, Kill, RequeueOrphanedRunningJobs) do not
// publish events.
func (s *Store) SetNotifier(n Notifier) { s.notifier = n }

// SetExecutor installs the query executor used by Runner.
func (s *Store) SetExecutor(e Executor) { s.executor = e }

// Runner implements §4.4: re-locks the claimed row, invokes the executor
// under the per-job deadline, and maps the outcome to the next state. It
// assumes the caller already made status=running visible in a prior
// committed transaction (the claim in ClaimNextJob).
//
// Known sharp edge (carried per SPEC_FULL.md §9 Open Question decision):
// a zero-row export is still treated as success with result_blob_path set,
// even though the executor may not have physically written a blob.
func (s *Store) Runner(ctx context.Context, claim *Claim) (err error) {
	defer claim.releaseSlot(ctx, s.logger, s.cfg.AdvisoryNamespace)

	if s.executor == nil {
		return errors.New("jobq: no executor configured")
	}
	notifier := s.notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}

	// Defensive outer handler: any panic or unexpected error still releases
	// the slot (via the defer above) before propagating/logging (§4.4 step 7).
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("runner panic recovered", slog.Any("recover", r), slog.Int64("job_id", claim.JobID))
			err = fmt.Errorf("jobq: runner panic: %v", r)
		}
	}()

	tx, err := claim.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("jobq: begin runner tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const selectQ = `
		SELECT job_id, query_sql, storage_account, storage_container, result_blob_path,
			scheduled_at, created_at, updated_at, started_at, finished_at,
			priority, correlation_id, status, attempt_count, max_attempts,
			max_runtime, last_error, run_by, backend_pid
		FROM jobs WHERE job_id = $1 FOR UPDATE
	`
	var job Job
	if err := tx.GetContext(ctx, &job, selectQ, claim.JobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("runner: job row disappeared, benign race", slog.Int64("job_id", claim.JobID))
			return nil
		}
		return fmt.Errorf("jobq: relock job row: %w", err)
	}
	if job.Status != StatusRunning {
		s.logger.Warn("runner: job no longer running, benign race", slog.Int64("job_id", claim.JobID), slog.String("status", string(job.Status)))
		return nil
	}

	prefix := sanitizePrefix(job.CorrelationID, job.JobID)
	blobPath := fmt.Sprintf("%s/%d/%s.parquet", prefix, job.JobID, time.Now().UTC().Format("20060102150405"))

	deadline := clampMaxRuntime(job.MaxRuntime)
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	execErr := s.executor.ExecuteReadonlyToBlob(execCtx, job.QuerySQL, job.StorageAccount, job.StorageContainer, blobPath, deadline)
	cancel()

	if execErr == nil {
		const successQ = `
			UPDATE jobs SET
				status = $1, finished_at = now(), result_blob_path = $2,
				last_error = NULL, backend_pid = NULL, updated_at = now()
			WHERE job_id = $3
		`
		if _, err := tx.ExecContext(ctx, successQ, StatusSucceeded, blobPath, job.JobID); err != nil {
			return fmt.Errorf("jobq: mark succeeded: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("jobq: commit success: %w", err)
		}
		committed = true
		job.Status = StatusSucceeded
		job.ResultBlobPath = &blobPath
		s.logger.Info("job succeeded", slog.Int64("job_id", job.JobID), slog.String("blob_path", blobPath))
		notifyTerminal(ctx, notifier, &job, s.logger)
		return nil
	}

	diag := classifyAndFormat(execErr)
	n := job.AttemptCount // already incremented by ClaimNextJob

	if n >= job.MaxAttempts {
		const failQ = `
			UPDATE jobs SET
				status = $1, finished_at = now(), last_error = $2, backend_pid = NULL, updated_at = now()
			WHERE job_id = $3
		`
		newLastError := appendDiagnostic(job.LastError, diag)
		if _, err := tx.ExecContext(ctx, failQ, StatusFailed, newLastError, job.JobID); err != nil {
			return fmt.Errorf("jobq: mark failed: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("jobq: commit failure: %w", err)
		}
		committed = true
		job.Status = StatusFailed
		job.LastError = &newLastError
		s.logger.Warn("job failed, attempts exhausted", slog.Int64("job_id", job.JobID), slog.Int("attempt_count", n))
		notifyTerminal(ctx, notifier, &job, s.logger)
		return nil
	}

	backoff := backoffFor(n)
	const retryQ = `
		UPDATE jobs SET
			status = $1, scheduled_at = now() + $2::interval,
			started_at = NULL, finished_at = NULL, last_error = $3,
			backend_pid = NULL, updated_at = now()
		WHERE job_id = $4
	`
	newLastError := appendDiagnostic(job.LastError, diag)
	if _, err := tx.ExecContext(ctx, retryQ, StatusPending, fmt.Sprintf("%d seconds", int(backoff.Seconds())), newLastError, job.JobID); err != nil {
		return fmt.Errorf("jobq: schedule retry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("jobq: commit retry: %w", err)
	}
	committed = true
	s.logger.Info("job retrying after backoff",
		slog.Int64("job_id", job.JobID), slog.Int("attempt_count", n), slog.Duration("backoff", backoff))
	return nil
}

// classifyAndFormat composes the §4.4 step 6 diagnostic string: an error
// code, message, and any context, truncated to MaxLastErrorLength.
func classifyAndFormat(err error) string {
	code := "transient_execution"
	if errors.Is(err, ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		code = "deadline_exceeded"
	}
	msg := fmt.Sprintf("[%s] %s", code, err.Error())
	if len(msg) > MaxLastErrorLength {
		msg = msg[:MaxLastErrorLength]
	}
	return msg
}

// notifyTerminal publishes the lifecycle event after the job state has been
// committed. It runs on the caller's goroutine, bounded by a 5-second
// timeout, and a notifier failure is only logged: it never affects the
// already-committed job state (SPEC_FULL.md §4.9).
func notifyTerminal(ctx context.Context, n Notifier, job *Job, logger *slog.Logger) {
	notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ctx
	if err := n.Notify(notifyCtx, job); err != nil {
		logger.Warn("lifecycle event notify failed", slog.Int64("job_id", job.JobID), slog.Any("error", err))
	}
}
