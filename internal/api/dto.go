package api

// EnqueueRequest is the request body for POST /v1/jobs.
type EnqueueRequest struct {
	QuerySQL         string  `json:"query_sql" binding:"required"`
	StorageAccount   string  `json:"storage_account" binding:"required"`
	StorageContainer string  `json:"storage_container" binding:"required"`
	ScheduledAt      *string `json:"scheduled_at,omitempty"`
	Priority         *int    `json:"priority,omitempty"`
	CorrelationID    *string `json:"correlation_id,omitempty"`
	MaxRuntimeMillis *int64  `json:"max_runtime_millis,omitempty"`
}

// EnqueueResponse is the response body for POST /v1/jobs.
type EnqueueResponse struct {
	JobID int64 `json:"job_id"`
}

// JobDTO is the wire representation of a job row.
type JobDTO struct {
	JobID            int64   `json:"job_id"`
	QuerySQL         string  `json:"query_sql"`
	StorageAccount   string  `json:"storage_account"`
	StorageContainer string  `json:"storage_container"`
	ResultBlobPath   *string `json:"result_blob_path,omitempty"`
	ScheduledAt      string  `json:"scheduled_at"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
	StartedAt        *string `json:"started_at,omitempty"`
	FinishedAt       *string `json:"finished_at,omitempty"`
	Priority         int     `json:"priority"`
	CorrelationID    *string `json:"correlation_id,omitempty"`
	Status           string  `json:"status"`
	AttemptCount     int     `json:"attempt_count"`
	MaxAttempts      int     `json:"max_attempts"`
	MaxRuntimeMillis int64   `json:"max_runtime_millis"`
	LastError        *string `json:"last_error,omitempty"`
	RunBy            *string `json:"run_by,omitempty"`
	BackendPID       *int    `json:"backend_pid,omitempty"`
}

// ListJobsResponse is the response body for GET /v1/jobs.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// CancelResponse and KillResponse report whether the operation took effect.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type KillResponse struct {
	SignalIssued bool `json:"signal_issued"`
}

// MetricsResponse mirrors queue.QueueMetrics for the wire.
type MetricsResponse struct {
	PendingCount           int    `json:"pending_count"`
	RunningCount           int    `json:"running_count"`
	SucceededCount         int    `json:"succeeded_count"`
	FailedCount            int    `json:"failed_count"`
	CancelledCount         int    `json:"cancelled_count"`
	OldestPendingWaitSecs  *float64 `json:"oldest_pending_wait_seconds,omitempty"`
	AvgPendingWaitSecs     *float64 `json:"avg_pending_wait_seconds,omitempty"`
}
