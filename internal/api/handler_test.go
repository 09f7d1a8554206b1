package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobq/internal/queue"
)

func TestEncodeDecodeCursorRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	encoded := encodeCursor(7, now, 42)
	priority, scheduledAt, jobID, err := decodeCursor(encoded)

	require.NoError(t, err)
	assert.Equal(t, 7, priority)
	assert.True(t, now.Equal(scheduledAt))
	assert.Equal(t, int64(42), jobID)
}

func TestDecodeCursor_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "not-base64!!"},
		{name: "wrong field count", cursor: "YWJj"}, // base64("abc"), no pipes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := decodeCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}

func TestToJobDTO(t *testing.T) {
	corr := "corr-1"
	blob := "acct/container/result.parquet"
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	job := &queue.Job{
		JobID:            1,
		QuerySQL:         "SELECT 1",
		StorageAccount:   "acct",
		StorageContainer: "container",
		ResultBlobPath:   &blob,
		ScheduledAt:      started,
		CreatedAt:        started,
		UpdatedAt:        finished,
		StartedAt:        &started,
		FinishedAt:       &finished,
		Priority:         5,
		CorrelationID:    &corr,
		Status:           queue.StatusSucceeded,
		AttemptCount:     1,
		MaxAttempts:      3,
		MaxRuntime:       90 * time.Second,
		LastError:        nil,
	}

	dto := toJobDTO(job)

	assert.Equal(t, int64(1), dto.JobID)
	assert.Equal(t, "succeeded", dto.Status)
	assert.Equal(t, int64(90_000), dto.MaxRuntimeMillis)
	assert.Equal(t, &blob, dto.ResultBlobPath)
	require.NotNil(t, dto.StartedAt)
	require.NotNil(t, dto.FinishedAt)
	assert.Equal(t, started.Format(time.RFC3339), *dto.StartedAt)
}

func TestToJobDTO_UnstartedJob(t *testing.T) {
	job := &queue.Job{
		JobID:            2,
		StorageAccount:   "acct",
		StorageContainer: "container",
		ScheduledAt:      time.Now(),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
		Status:           queue.StatusPending,
		MaxAttempts:      3,
		MaxRuntime:       time.Minute,
	}

	dto := toJobDTO(job)
	assert.Nil(t, dto.StartedAt)
	assert.Nil(t, dto.FinishedAt)
}
