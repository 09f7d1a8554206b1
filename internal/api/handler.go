package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobq/internal/queue"
)

// Dependencies holds everything handlers need.
type Dependencies struct {
	Logger *slog.Logger
	Store  *queue.Store
}

// JobHandler serves the queue engine's public HTTP surface (SPEC_FULL.md §6.1).
type JobHandler struct {
	logger *slog.Logger
	store  *queue.Store
}

// NewJobHandler builds a JobHandler.
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{logger: deps.Logger, store: deps.Store}
}

// CreateJob handles POST /v1/jobs.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := queue.EnqueueParams{
		QuerySQL:         req.QuerySQL,
		StorageAccount:   req.StorageAccount,
		StorageContainer: req.StorageContainer,
		Priority:         req.Priority,
		CorrelationID:    req.CorrelationID,
	}
	if req.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_at must be RFC3339"})
			return
		}
		params.ScheduledAt = &t
	}
	if req.MaxRuntimeMillis != nil {
		d := time.Duration(*req.MaxRuntimeMillis) * time.Millisecond
		params.MaxRuntime = &d
	}

	jobID, err := h.store.Enqueue(c.Request.Context(), params)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, EnqueueResponse{JobID: jobID})
}

// GetJob handles GET /v1/jobs/:id.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /v1/jobs.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var filter queue.ListFilter
	if status := c.Query("status"); status != "" {
		filter.Status = queue.Status(status)
	}
	if pageSize := c.Query("page_size"); pageSize != "" {
		n, err := strconv.Atoi(pageSize)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page_size"})
			return
		}
		filter.PageSize = n
	}
	if cursor := c.Query("cursor"); cursor != "" {
		priority, scheduledAt, jobID, err := decodeCursor(cursor)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		filter.AfterPriority = &priority
		filter.AfterScheduledAt = &scheduledAt
		filter.AfterJobID = &jobID
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	hasMore := len(jobs) > pageSize
	if hasMore {
		jobs = jobs[:pageSize]
	}

	dtos := make([]JobDTO, len(jobs))
	for i, j := range jobs {
		dtos[i] = toJobDTO(&j)
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = encodeCursor(last.Priority, last.ScheduledAt, last.JobID)
	}

	c.JSON(http.StatusOK, ListJobsResponse{Jobs: dtos, NextCursor: nextCursor})
}

// CancelJob handles POST /v1/jobs/:id/cancel.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cancelled, err := h.store.Cancel(c.Request.Context(), jobID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, CancelResponse{Cancelled: cancelled})
}

// KillJob handles POST /v1/jobs/:id/kill.
func (h *JobHandler) KillJob(c *gin.Context) {
	jobID, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issued, err := h.store.Kill(c.Request.Context(), jobID)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, KillResponse{SignalIssued: issued})
}

// GetMetrics handles GET /v1/metrics.
func (h *JobHandler) GetMetrics(c *gin.Context) {
	m, err := h.store.GetQueueMetrics(c.Request.Context())
	if err != nil {
		h.respondErr(c, err)
		return
	}

	resp := MetricsResponse{
		PendingCount:   m.PendingCount,
		RunningCount:   m.RunningCount,
		SucceededCount: m.SucceededCount,
		FailedCount:    m.FailedCount,
		CancelledCount: m.CancelledCount,
	}
	if m.OldestPendingWait != nil {
		s := m.OldestPendingWait.Seconds()
		resp.OldestPendingWaitSecs = &s
	}
	if m.AvgPendingWait != nil {
		s := m.AvgPendingWait.Seconds()
		resp.AvgPendingWaitSecs = &s
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, queue.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseJobID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("id must be an integer")
	}
	return id, nil
}

func toJobDTO(j *queue.Job) JobDTO {
	dto := JobDTO{
		JobID:            j.JobID,
		QuerySQL:         j.QuerySQL,
		StorageAccount:   j.StorageAccount,
		StorageContainer: j.StorageContainer,
		ResultBlobPath:   j.ResultBlobPath,
		ScheduledAt:      j.ScheduledAt.Format(time.RFC3339),
		CreatedAt:        j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        j.UpdatedAt.Format(time.RFC3339),
		Priority:         j.Priority,
		CorrelationID:    j.CorrelationID,
		Status:           string(j.Status),
		AttemptCount:     j.AttemptCount,
		MaxAttempts:      j.MaxAttempts,
		MaxRuntimeMillis: j.MaxRuntime.Milliseconds(),
		LastError:        j.LastError,
		RunBy:            j.RunBy,
		BackendPID:       j.BackendPID,
	}
	if j.StartedAt != nil {
		s := j.StartedAt.Format(time.RFC3339)
		dto.StartedAt = &s
	}
	if j.FinishedAt != nil {
		s := j.FinishedAt.Format(time.RFC3339)
		dto.FinishedAt = &s
	}
	return dto
}

// decodeCursor/encodeCursor implement keyset pagination over
// (priority, scheduled_at, job_id), the same ordering the claim planner
// uses for pending rows.
func encodeCursor(priority int, scheduledAt time.Time, jobID int64) string {
	raw := fmt.Sprintf("%d|%d|%d", priority, scheduledAt.UnixNano(), jobID)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (int, time.Time, int64, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, time.Time{}, 0, err
	}
	parts := strings.Split(string(decoded), "|")
	if len(parts) != 3 {
		return 0, time.Time{}, 0, fmt.Errorf("malformed cursor")
	}
	priority, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, time.Time{}, 0, err
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, 0, err
	}
	jobID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, time.Time{}, 0, err
	}
	return priority, time.Unix(0, nanos), jobID, nil
}
