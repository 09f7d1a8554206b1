// Package queue implements the durable analytical-export job queue:
// the job store, enqueue admission, the claim planner, the runner,
// the two-phase driver, maintenance operations, and the metrics
// projection.
package queue

import "time"

// Status is the tagged variant of a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is a durable job record, mirroring the `jobs` table row.
type Job struct {
	JobID             int64      `db:"job_id"`
	QuerySQL          string     `db:"query_sql"`
	StorageAccount    string     `db:"storage_account"`
	StorageContainer  string     `db:"storage_container"`
	ResultBlobPath    *string    `db:"result_blob_path"`
	ScheduledAt       time.Time  `db:"scheduled_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	StartedAt         *time.Time `db:"started_at"`
	FinishedAt        *time.Time `db:"finished_at"`
	Priority          int        `db:"priority"`
	CorrelationID     *string    `db:"correlation_id"`
	Status            Status     `db:"status"`
	AttemptCount      int        `db:"attempt_count"`
	MaxAttempts       int        `db:"max_attempts"`
	MaxRuntime        time.Duration `db:"max_runtime"`
	LastError         *string    `db:"last_error"`
	RunBy             *string    `db:"run_by"`
	BackendPID        *int       `db:"backend_pid"`
}

// Terminal reports whether the status is one of the three terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

const (
	// MinPriority and MaxPriority bound the accepted priority range (§3.1).
	MinPriority = -1000
	MaxPriority = 1000

	// MinMaxRuntime and MaxMaxRuntime bound the accepted per-job deadline (§3.1).
	MinMaxRuntime = 0 * time.Second
	MaxMaxRuntime = 24 * time.Hour

	// DefaultMaxRuntime is used when the caller omits max_runtime (§4.2).
	DefaultMaxRuntime = 30 * time.Minute

	// RunnerMinRuntime is the floor the runner clamps max_runtime to (§4.4 step 3).
	RunnerMinRuntime = 1 * time.Second

	// MaxQuerySQLLength is the admission length cap (§4.2).
	MaxQuerySQLLength = 100_000

	// MaxLastErrorLength is the truncation length for diagnostics (§4.4, §7).
	MaxLastErrorLength = 4000

	// MaxBackoffAttempts caps the attempt count used for the linear backoff, so
	// with BackoffUnit the backoff is at most 10 minutes (§4.4, Backoff glossary entry).
	MaxBackoffAttempts = 10
	BackoffUnit        = 1 * time.Minute
)
