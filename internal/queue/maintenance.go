package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Cancel implements §4.6 cancel: a soft cancel that only ever affects
// pending rows. Uses non-blocking lock acquisition so a claim racing with
// cancel fails cleanly instead of blocking.
func (s *Store) Cancel(ctx context.Context, jobID int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("jobq: begin cancel tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const selectQ = `SELECT status FROM jobs WHERE job_id = $1 FOR UPDATE SKIP LOCKED`
	var status Status
	err = tx.GetContext(ctx, &status, selectQ, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		// Either absent, or currently locked by a claim in flight — both
		// cases are a clean "cannot cancel right now" per §4.6.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("jobq: select for cancel: %w", err)
	}
	if status != StatusPending {
		return false, nil
	}

	const updateQ = `
		UPDATE jobs SET status = $1, finished_at = now(), backend_pid = NULL, updated_at = now()
		WHERE job_id = $2
	`
	if _, err := tx.ExecContext(ctx, updateQ, StatusCancelled, jobID); err != nil {
		return false, fmt.Errorf("jobq: cancel update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("jobq: commit cancel: %w", err)
	}
	committed = true
	s.logger.Info("job cancelled", slog.Int64("job_id", jobID))
	return true, nil
}

// ProcessLister is the narrow liveness-check collaborator kill and
// requeue_orphaned_running_jobs use to decide whether a recorded
// backend_pid is still alive, and (for kill) whether the caller has
// permission and the target process plausibly looks like a jobq runner
// (§4.6, §9 design note 5 "Kill pid-reuse hazard").
type ProcessLister interface {
	// IsAlive reports whether pid currently appears in the live process
	// table (for Postgres, pg_stat_activity).
	IsAlive(ctx context.Context, pid int) (bool, error)
	// LooksLikeJobqRunner reports whether pid's current statement text
	// plausibly belongs to this system's runner, guarding against
	// signaling an unrelated process that happens to reuse the pid.
	LooksLikeJobqRunner(ctx context.Context, pid int) (bool, error)
	// CanSignal reports whether the caller's identity has permission to
	// terminate backends.
	CanSignal(ctx context.Context) (bool, error)
	// Terminate best-effort signals pid to stop.
	Terminate(ctx context.Context, pid int) error
}

// pgProcessLister is the default ProcessLister backed by pg_stat_activity.
type pgProcessLister struct {
	db dbHandle
}

type dbHandle interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (p pgProcessLister) IsAlive(ctx context.Context, pid int) (bool, error) {
	var exists bool
	err := p.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM pg_stat_activity WHERE pid = $1)`, pid)
	return exists, err
}

func (p pgProcessLister) LooksLikeJobqRunner(ctx context.Context, pid int) (bool, error) {
	var query string
	err := p.db.GetContext(ctx, &query, `SELECT coalesce(query, '') FROM pg_stat_activity WHERE pid = $1`, pid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// The runner always issues the relock under "FOR UPDATE" against the
	// jobs table (runner.go selectQ) — a crude but effective fingerprint
	// that the backend is plausibly one of ours, not an unrelated reused pid.
	return containsJobsForUpdate(query), nil
}

func containsJobsForUpdate(statementText string) bool {
	return len(statementText) > 0 &&
		(indexOf(statementText, "FROM jobs") >= 0 || indexOf(statementText, "from jobs") >= 0) &&
		(indexOf(statementText, "FOR UPDATE") >= 0 || indexOf(statementText, "for update") >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func (p pgProcessLister) CanSignal(ctx context.Context) (bool, error) {
	var can bool
	err := p.db.GetContext(ctx, &can, `SELECT pg_has_role(current_user, 'pg_signal_backend', 'MEMBER') OR (SELECT rolsuper FROM pg_roles WHERE rolname = current_user)`)
	return can, err
}

func (p pgProcessLister) Terminate(ctx context.Context, pid int) error {
	_, err := p.db.ExecContext(ctx, `SELECT pg_terminate_backend($1)`, pid)
	return err
}

// SetProcessLister overrides the default pg_stat_activity-backed liveness
// checker, primarily for tests.
func (s *Store) SetProcessLister(p ProcessLister) { s.processLister = p }

func (s *Store) procLister() ProcessLister {
	if s.processLister != nil {
		return s.processLister
	}
	return pgProcessLister{db: s.db}
}

// Kill implements §4.6 kill: best-effort, with the mandatory pid-reuse
// guardrails (§9 design note 5). Regardless of whether termination
// succeeded, a still-running row is unconditionally transitioned to
// cancelled.
func (s *Store) Kill(ctx context.Context, jobID int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("jobq: begin kill tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const selectQ = `SELECT status, backend_pid FROM jobs WHERE job_id = $1 FOR UPDATE`
	var row struct {
		Status     Status `db:"status"`
		BackendPID *int   `db:"backend_pid"`
	}
	if err := tx.GetContext(ctx, &row, selectQ, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("jobq: select for kill: %w", err)
	}

	if row.Status != StatusRunning {
		return false, nil
	}

	terminated := false
	lister := s.procLister()

	if row.BackendPID != nil {
		alive, err := lister.IsAlive(ctx, *row.BackendPID)
		if err != nil {
			s.logger.Warn("kill: liveness check failed", slog.Int64("job_id", jobID), slog.Any("error", err))
		}
		if err == nil && alive {
			looksRight, err := lister.LooksLikeJobqRunner(ctx, *row.BackendPID)
			if err != nil {
				s.logger.Warn("kill: fingerprint check failed", slog.Int64("job_id", jobID), slog.Any("error", err))
			}
			if err == nil && looksRight {
				canSignal, err := lister.CanSignal(ctx)
				if err != nil {
					s.logger.Warn("kill: permission check failed", slog.Int64("job_id", jobID), slog.Any("error", err))
				}
				if err == nil && canSignal {
					if err := lister.Terminate(ctx, *row.BackendPID); err != nil {
						s.logger.Warn("kill: terminate failed", slog.Int64("job_id", jobID), slog.Any("error", err))
					} else {
						terminated = true
					}
				} else if err == nil {
					s.logger.Info("kill: signal suppressed, permission denied", slog.Int64("job_id", jobID))
				}
			}
		}
	}

	note := "killed by operator"
	if !terminated {
		note = "kill requested, signal not issued (best-effort)"
	}
	const updateQ = `
		UPDATE jobs SET status = $1, finished_at = now(), last_error = $2, backend_pid = NULL, updated_at = now()
		WHERE job_id = $3
	`
	var row2 struct{ LastError *string `db:"last_error"` }
	_ = s.db.GetContext(ctx, &row2, `SELECT last_error FROM jobs WHERE job_id = $1`, jobID)
	newLastError := appendDiagnostic(row2.LastError, note)
	if _, err := tx.ExecContext(ctx, updateQ, StatusCancelled, newLastError, jobID); err != nil {
		return false, fmt.Errorf("jobq: kill update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("jobq: commit kill: %w", err)
	}
	committed = true

	s.logger.Info("job killed", slog.Int64("job_id", jobID), slog.Bool("signal_issued", terminated))
	return terminated, nil
}

// RequeueOrphanedRunningJobs implements §4.6: detects running jobs whose
// recorded backend is gone and either requeues them with backoff or marks
// them failed if attempts are exhausted.
func (s *Store) RequeueOrphanedRunningJobs(ctx context.Context, limit int) (int, error) {
	const candidatesQ = `
		SELECT job_id FROM jobs
		WHERE status = $1
		ORDER BY job_id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	// A wider transaction scans candidates; each row is re-validated for
	// liveness before acting, since pg_stat_activity membership can change
	// between the scan and the per-row decision.
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("jobq: begin requeue tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var candidates []int64
	if err := tx.SelectContext(ctx, &candidates, candidatesQ, StatusRunning, limit); err != nil {
		return 0, fmt.Errorf("jobq: select running candidates: %w", err)
	}

	lister := s.procLister()
	acted := 0

	for _, jobID := range candidates {
		var row struct {
			BackendPID   *int `db:"backend_pid"`
			AttemptCount int  `db:"attempt_count"`
			MaxAttempts  int  `db:"max_attempts"`
		}
		if err := tx.GetContext(ctx, &row, `SELECT backend_pid, attempt_count, max_attempts FROM jobs WHERE job_id = $1`, jobID); err != nil {
			s.logger.Warn("requeue: refetch failed", slog.Int64("job_id", jobID), slog.Any("error", err))
			continue
		}

		orphaned := row.BackendPID == nil
		if !orphaned {
			alive, err := lister.IsAlive(ctx, *row.BackendPID)
			if err != nil {
				s.logger.Warn("requeue: liveness check failed", slog.Int64("job_id", jobID), slog.Any("error", err))
				continue
			}
			orphaned = !alive
		}
		if !orphaned {
			continue
		}

		// row.AttemptCount already counts this attempt (incremented by
		// ClaimNextJob when the job was claimed); an orphan sweep does not
		// claim the job again, so it must not increment it a second time.
		n := row.AttemptCount
		if n >= row.MaxAttempts {
			const failQ = `
				UPDATE jobs SET status = $1, finished_at = now(),
					last_error = $2, backend_pid = NULL, updated_at = now()
				WHERE job_id = $3
			`
			if _, err := tx.ExecContext(ctx, failQ, StatusFailed, "orphan detected, attempts exhausted", jobID); err != nil {
				s.logger.Warn("requeue: mark failed error", slog.Int64("job_id", jobID), slog.Any("error", err))
				continue
			}
		} else {
			backoff := backoffFor(n)
			const pendingQ = `
				UPDATE jobs SET status = $1, scheduled_at = now() + $2::interval,
					started_at = NULL, finished_at = NULL,
					last_error = $3, backend_pid = NULL, updated_at = now()
				WHERE job_id = $4
			`
			interval := fmt.Sprintf("%d seconds", int(backoff.Seconds()))
			if _, err := tx.ExecContext(ctx, pendingQ, StatusPending, interval, "orphan detected, requeued", jobID); err != nil {
				s.logger.Warn("requeue: requeue error", slog.Int64("job_id", jobID), slog.Any("error", err))
				continue
			}
		}
		acted++
		s.logger.Info("orphan job requeued", slog.Int64("job_id", jobID), slog.Int("attempt_count", n))
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("jobq: commit requeue: %w", err)
	}
	committed = true
	return acted, nil
}

// PurgeOldJobs implements §4.6: a single bounded batch delete of finished
// rows older than the retention window. Callers repeat until the return
// value is zero.
func (s *Store) PurgeOldJobs(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	const q = `
		DELETE FROM jobs
		WHERE job_id IN (
			SELECT job_id FROM jobs
			WHERE finished_at IS NOT NULL AND finished_at < now() - $1::interval
			ORDER BY finished_at ASC
			LIMIT $2
		)
	`
	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	result, err := s.db.ExecContext(ctx, q, interval, limit)
	if err != nil {
		return 0, fmt.Errorf("jobq: purge old jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("jobq: purge rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged finished jobs", slog.Int64("count", n))
	}
	return int(n), nil
}
