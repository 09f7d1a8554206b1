package queue

import (
	"context"
	"fmt"
	"time"
)

// QueueMetrics is the §4.7 metrics projection: a point-in-time snapshot
// derived entirely from the jobs table, suitable for polling into a
// dashboard or /v1/metrics endpoint.
type QueueMetrics struct {
	PendingCount   int            `db:"pending_count" json:"pending_count"`
	RunningCount   int            `db:"running_count" json:"running_count"`
	SucceededCount int            `db:"succeeded_count" json:"succeeded_count"`
	FailedCount    int            `db:"failed_count" json:"failed_count"`
	CancelledCount int            `db:"cancelled_count" json:"cancelled_count"`

	OldestPendingWait *time.Duration `json:"oldest_pending_wait,omitempty"`
	AvgPendingWait     *time.Duration `json:"avg_pending_wait,omitempty"`
}

type statusCountRow struct {
	Status Status `db:"status"`
	Count  int    `db:"count"`
}

// GetQueueMetrics implements §4.7: counts grouped by status, plus the
// pending-wait statistics computed over rows currently eligible to run
// (scheduled_at <= now()), matching the same eligibility predicate the
// claim planner uses.
func (s *Store) GetQueueMetrics(ctx context.Context) (*QueueMetrics, error) {
	const countQ = `SELECT status, count(*) AS count FROM jobs GROUP BY status`
	var rows []statusCountRow
	if err := s.db.SelectContext(ctx, &rows, countQ); err != nil {
		return nil, fmt.Errorf("jobq: metrics status counts: %w", err)
	}

	m := &QueueMetrics{}
	for _, r := range rows {
		switch r.Status {
		case StatusPending:
			m.PendingCount = r.Count
		case StatusRunning:
			m.RunningCount = r.Count
		case StatusSucceeded:
			m.SucceededCount = r.Count
		case StatusFailed:
			m.FailedCount = r.Count
		case StatusCancelled:
			m.CancelledCount = r.Count
		}
	}

	const waitQ = `
		SELECT
			EXTRACT(EPOCH FROM (now() - MIN(scheduled_at)))::float8 AS oldest,
			EXTRACT(EPOCH FROM AVG(now() - scheduled_at))::float8 AS avg
		FROM jobs
		WHERE status = $1 AND scheduled_at <= now()
	`
	var wait struct {
		Oldest *float64 `db:"oldest"`
		Avg    *float64 `db:"avg"`
	}
	if err := s.db.GetContext(ctx, &wait, waitQ, StatusPending); err != nil {
		return nil, fmt.Errorf("jobq: metrics pending wait: %w", err)
	}
	if wait.Oldest != nil {
		d := time.Duration(*wait.Oldest * float64(time.Second))
		m.OldestPendingWait = &d
	}
	if wait.Avg != nil {
		d := time.Duration(*wait.Avg * float64(time.Second))
		m.AvgPendingWait = &d
	}

	return m, nil
}
