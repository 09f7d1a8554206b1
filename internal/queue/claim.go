package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Claim is a held parallelism slot bound to a specific running job (§9
// design note 4: "Advisory slot → job binding"). It pins a single physical
// connection for its entire lifetime so the session-scoped advisory lock
// acquired in ClaimNextJob survives the commit of T1 and is still held when
// Runner opens T2 on the same connection (§4.5, §9 design note 2).
type Claim struct {
	JobID  int64
	SlotID int

	conn     *sqlx.Conn
	released bool
}

// releaseSlot unconditionally releases the advisory lock and returns the
// pinned connection to the pool. Safe to call multiple times; only the
// first call has effect, matching the "double-release is a bug" /
// "not-releasing leaks a slot" contract in §4.4 step 7 by making the
// *caller's* obligation ("call exactly once") cheap to satisfy defensively.
func (c *Claim) releaseSlot(ctx context.Context, logger *slog.Logger, ns int32) {
	if c == nil || c.released {
		return
	}
	c.released = true

	unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1, $2)`, ns, c.SlotID); err != nil {
		logger.Error("failed to release advisory slot",
			slog.Int64("job_id", c.JobID), slog.Int("slot_id", c.SlotID), slog.Any("error", err))
	}
	if err := c.conn.Close(); err != nil {
		logger.Error("failed to close pinned connection", slog.Any("error", err))
	}
	_ = ctx
}

// ClaimNextJob performs §4.3 steps 1-5 as a single sequence: connection
// headroom gate, ascending slot acquisition, skip-locked row selection, and
// the pending→running transition. It returns (nil, nil) when there is
// nothing to claim (empty queue, no headroom, or every slot busy) — this is
// not an error (§8 round-trip property: empty queue is a no-op). The stored
// backend_pid is read via pg_backend_pid() on the pinned connection itself,
// not supplied by the caller — it must identify the Postgres session
// holding the advisory lock for maintenance.go's liveness checks to mean
// anything.
func (s *Store) ClaimNextJob(ctx context.Context, workerIdentity string) (*Claim, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobq: acquire connection: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = conn.Close()
		}
	}()

	free, err := computeFreeConnections(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("jobq: connection headroom check: %w", err)
	}
	if free <= s.cfg.MinFreeConnections {
		return nil, nil
	}

	slotID, acquired, err := acquireSlot(ctx, conn, s.cfg.AdvisoryNamespace, s.cfg.MaxParallelJobs)
	if err != nil {
		return nil, fmt.Errorf("jobq: acquire slot: %w", err)
	}
	if !acquired {
		return nil, nil
	}

	claim := &Claim{JobID: 0, SlotID: slotID, conn: conn}
	defer func() {
		if !ok {
			claim.releaseSlot(ctx, s.logger, s.cfg.AdvisoryNamespace)
		}
	}()

	var backendPID int
	if err := conn.QueryRowxContext(ctx, `SELECT pg_backend_pid()`).Scan(&backendPID); err != nil {
		return nil, fmt.Errorf("jobq: read backend pid: %w", err)
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("jobq: begin claim tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const selectQ = `
		SELECT job_id FROM jobs
		WHERE status = $1 AND scheduled_at <= now() AND attempt_count < max_attempts
		ORDER BY priority DESC, scheduled_at ASC, job_id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`
	var jobID int64
	err = tx.GetContext(ctx, &jobID, selectQ, StatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // releases slot via defer
	}
	if err != nil {
		return nil, fmt.Errorf("jobq: select pending job: %w", err)
	}

	const updateQ = `
		UPDATE jobs SET
			status = $1,
			started_at = now(),
			attempt_count = attempt_count + 1,
			run_by = $2,
			backend_pid = $3,
			updated_at = now()
		WHERE job_id = $4
	`
	if _, err := tx.ExecContext(ctx, updateQ, StatusRunning, workerIdentity, backendPID, jobID); err != nil {
		return nil, fmt.Errorf("jobq: transition to running: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobq: commit claim: %w", err)
	}
	committed = true
	ok = true

	claim.JobID = jobID
	s.logger.Info("job claimed",
		slog.Int64("job_id", jobID), slog.Int("slot_id", slotID),
		slog.String("run_by", workerIdentity), slog.Int("backend_pid", backendPID))

	return claim, nil
}

// computeFreeConnections implements §4.3 step 2.
func computeFreeConnections(ctx context.Context, conn *sqlx.Conn) (int, error) {
	var maxConnections int
	if err := conn.QueryRowxContext(ctx, `SELECT setting::int FROM pg_settings WHERE name = 'max_connections'`).Scan(&maxConnections); err != nil {
		return 0, err
	}
	var active int
	if err := conn.QueryRowxContext(ctx, `SELECT count(*) FROM pg_stat_activity WHERE state = 'active'`).Scan(&active); err != nil {
		return 0, err
	}
	free := maxConnections - active
	if free < 0 {
		free = 0
	}
	return free, nil
}

// acquireSlot implements §4.3 step 3: try slots 1..max in ascending order,
// non-blocking, return the first one acquired.
func acquireSlot(ctx context.Context, conn *sqlx.Conn, ns int32, maxParallelJobs int) (slotID int, acquired bool, err error) {
	for slot := 1; slot <= maxParallelJobs; slot++ {
		var got bool
		if err := conn.QueryRowxContext(ctx, `SELECT pg_try_advisory_lock($1, $2)`, ns, slot).Scan(&got); err != nil {
			return 0, false, err
		}
		if got {
			return slot, true, nil
		}
	}
	return 0, false, nil
}
