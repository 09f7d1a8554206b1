package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// AdvisoryNamespace is the fixed namespace constant for the cluster-global
// slot semaphore (§5, § GLOSSARY "Slot").
const AdvisoryNamespace = int32(0x6a6f_6271) // "jobq" packed into 32 bits

// Config holds the queue engine's operational limits (§4.3 step 1, §4.2).
type Config struct {
	MaxParallelJobs     int
	MinFreeConnections  int
	DefaultMaxAttempts  int
	AdvisoryNamespace   int32
}

// DefaultConfig returns the documented defaults (§4.3 step 1, §4.2).
func DefaultConfig() Config {
	return Config{
		MaxParallelJobs:    4,
		MinFreeConnections: 5,
		DefaultMaxAttempts: 3,
		AdvisoryNamespace:  AdvisoryNamespace,
	}
}

// Clamped returns a copy of cfg with malformed values silently replaced by
// defaults (§4.3 step 1: "Any malformed configuration falls back silently
// to defaults").
func (c Config) Clamped() Config {
	out := c
	d := DefaultConfig()
	if out.MaxParallelJobs < 1 || out.MaxParallelJobs > 10000 {
		out.MaxParallelJobs = d.MaxParallelJobs
	}
	if out.MinFreeConnections < 0 || out.MinFreeConnections > 1000 {
		out.MinFreeConnections = d.MinFreeConnections
	}
	if out.DefaultMaxAttempts < 1 {
		out.DefaultMaxAttempts = d.DefaultMaxAttempts
	}
	if out.AdvisoryNamespace == 0 {
		out.AdvisoryNamespace = d.AdvisoryNamespace
	}
	return out
}

// Store is the durable job store: the sole source of truth for job rows
// (§3.3), plus the operations layered over it.
type Store struct {
	db       *sqlx.DB
	logger   *slog.Logger
	cfg      Config
	executor Executor
	notifier Notifier
	processLister ProcessLister
}

// NewStore wraps an already-connected *sqlx.DB. Connection pool tuning is
// the caller's responsibility (see shared/postgresql.Client).
func NewStore(db *sqlx.DB, logger *slog.Logger, cfg Config) *Store {
	return &Store{db: db, logger: logger, cfg: cfg.Clamped()}
}

// EnqueueParams are the caller-supplied (optional fields as pointers)
// parameters to Enqueue (§4.2).
type EnqueueParams struct {
	QuerySQL         string
	StorageAccount   string
	StorageContainer string
	ScheduledAt      *time.Time
	Priority         *int
	CorrelationID    *string
	MaxRuntime       *time.Duration
}

// Enqueue validates and inserts a new pending job row (§4.2). All
// validation failures are returned wrapped in ErrInvalidArgument.
func (s *Store) Enqueue(ctx context.Context, p EnqueueParams) (int64, error) {
	querySQL := strings.TrimSpace(p.QuerySQL)
	if querySQL == "" {
		return 0, invalidArgument("query_sql must not be empty")
	}
	if len(querySQL) > MaxQuerySQLLength {
		return 0, invalidArgument(fmt.Sprintf("query_sql exceeds %d characters", MaxQuerySQLLength))
	}

	storageAccount := strings.TrimSpace(p.StorageAccount)
	if storageAccount == "" {
		return 0, invalidArgument("storage_account must not be empty")
	}
	storageContainer := strings.TrimSpace(p.StorageContainer)
	if storageContainer == "" {
		return 0, invalidArgument("storage_container must not be empty")
	}

	priority := 0
	if p.Priority != nil {
		priority = *p.Priority
	}
	if priority < MinPriority || priority > MaxPriority {
		return 0, invalidArgument(fmt.Sprintf("priority must be in [%d, %d]", MinPriority, MaxPriority))
	}

	maxRuntime := DefaultMaxRuntime
	if p.MaxRuntime != nil && *p.MaxRuntime != 0 {
		maxRuntime = *p.MaxRuntime
	}
	if maxRuntime <= MinMaxRuntime || maxRuntime > MaxMaxRuntime {
		return 0, invalidArgument("max_runtime must be in (0, 24h]")
	}

	if err := validateReadOnlySQL(querySQL); err != nil {
		return 0, err
	}

	scheduledAt := time.Now().UTC()
	if p.ScheduledAt != nil {
		scheduledAt = p.ScheduledAt.UTC()
	}

	var correlationID interface{}
	if p.CorrelationID != nil && strings.TrimSpace(*p.CorrelationID) != "" {
		correlationID = strings.TrimSpace(*p.CorrelationID)
	}

	const q = `
		INSERT INTO jobs (
			query_sql, storage_account, storage_container, scheduled_at,
			priority, correlation_id, status, attempt_count, max_attempts, max_runtime
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, 0, $8, $9
		)
		RETURNING job_id
	`

	var jobID int64
	err := s.db.GetContext(ctx, &jobID, q,
		querySQL, storageAccount, storageContainer, scheduledAt,
		priority, correlationID, StatusPending, s.cfg.DefaultMaxAttempts, maxRuntime,
	)
	if err != nil {
		return 0, fmt.Errorf("jobq: enqueue insert: %w", err)
	}

	s.logger.Info("job enqueued",
		slog.Int64("job_id", jobID),
		slog.Int("priority", priority),
		slog.Duration("max_runtime", maxRuntime),
	)
	return jobID, nil
}

// GetJob fetches a single job row by id.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*Job, error) {
	const q = `
		SELECT job_id, query_sql, storage_account, storage_container, result_blob_path,
			scheduled_at, created_at, updated_at, started_at, finished_at,
			priority, correlation_id, status, attempt_count, max_attempts,
			max_runtime, last_error, run_by, backend_pid
		FROM jobs WHERE job_id = $1
	`
	var job Job
	if err := s.db.GetContext(ctx, &job, q, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobq: get job: %w", err)
	}
	return &job, nil
}

// ListFilter narrows ListJobs results; zero values are unfiltered.
type ListFilter struct {
	Status   Status
	PageSize int
	// Cursor fields for keyset pagination over (priority desc, scheduled_at, job_id).
	AfterPriority    *int
	AfterScheduledAt *time.Time
	AfterJobID       *int64
}

// ListJobs returns up to filter.PageSize+1 jobs ordered the same way the
// claim planner orders pending rows, for use by the monitoring/API surface.
func (s *Store) ListJobs(ctx context.Context, filter ListFilter) ([]Job, error) {
	query := `
		SELECT job_id, query_sql, storage_account, storage_container, result_blob_path,
			scheduled_at, created_at, updated_at, started_at, finished_at,
			priority, correlation_id, status, attempt_count, max_attempts,
			max_runtime, last_error, run_by, backend_pid
		FROM jobs WHERE 1=1
	`
	var args []interface{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.AfterPriority != nil && filter.AfterScheduledAt != nil && filter.AfterJobID != nil {
		// The cursor tuple must be compared per-column direction, not as a
		// row-wise "<", since the columns don't all sort the same way
		// (priority DESC, scheduled_at/job_id ASC below).
		pIdx, sIdx, jIdx := argIdx, argIdx+1, argIdx+2
		query += fmt.Sprintf(
			" AND (priority < $%d OR (priority = $%d AND (scheduled_at > $%d OR (scheduled_at = $%d AND job_id > $%d))))",
			pIdx, pIdx, sIdx, sIdx, jIdx,
		)
		args = append(args, *filter.AfterPriority, *filter.AfterScheduledAt, *filter.AfterJobID)
		argIdx += 3
	}

	query += " ORDER BY priority DESC, scheduled_at ASC, job_id ASC"

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize+1)

	var jobs []Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("jobq: list jobs: %w", err)
	}
	return jobs, nil
}
