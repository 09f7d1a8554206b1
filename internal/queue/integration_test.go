//go:build integration

// These tests exercise the six concrete end-to-end scenarios from
// spec.md §8 against a real Postgres instance. They are opted out of
// the default `go test ./...` run via the integration build tag since
// they need a live database; point JOBQ_TEST_DATABASE_URL at one to
// run them.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("JOBQ_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("JOBQ_TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db.DB))
	_, err = db.Exec(`TRUNCATE jobs`)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewStore(db, logger, Config{
		MaxParallelJobs:    2,
		MinFreeConnections: 0,
		DefaultMaxAttempts: 3,
		AdvisoryNamespace:  AdvisoryNamespace,
	})
}

// scriptedExecutor fails its first failCount invocations, then succeeds.
// If block is set, it blocks until unblock is closed or ctx is done; none
// of the scenarios below set it.
type scriptedExecutor struct {
	mu        sync.Mutex
	calls     int32
	failCount int
	block     bool
	unblock   chan struct{}
}

func (e *scriptedExecutor) ExecuteReadonlyToBlob(ctx context.Context, querySQL, account, container, blobPath string, deadline time.Duration) error {
	n := atomic.AddInt32(&e.calls, 1)
	if e.block {
		select {
		case <-e.unblock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if int(n) <= e.failCount {
		return fmt.Errorf("scripted failure %d", n)
	}
	return nil
}

func TestScenario1_HappyPath(t *testing.T) {
	s := testStore(t)
	s.SetExecutor(&scriptedExecutor{})

	maxRuntime := 5 * time.Minute
	jobID, err := s.Enqueue(context.Background(), EnqueueParams{
		QuerySQL:         "SELECT 1 AS v",
		StorageAccount:   "acct",
		StorageContainer: "container",
		MaxRuntime:       &maxRuntime,
	})
	require.NoError(t, err)

	require.NoError(t, s.RunNextJob(context.Background(), "test-worker"))

	job, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, job.Status)
	require.NotNil(t, job.ResultBlobPath)
}

func TestScenario2_TransientFailureThenSuccess(t *testing.T) {
	s := testStore(t)
	exec := &scriptedExecutor{failCount: 2}
	s.SetExecutor(exec)

	maxAttempts := 3
	jobID, err := s.Enqueue(context.Background(), EnqueueParams{
		QuerySQL:         "SELECT 1",
		StorageAccount:   "acct",
		StorageContainer: "container",
	})
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE jobs SET max_attempts = $1 WHERE job_id = $2`, maxAttempts, jobID)
	require.NoError(t, err)

	require.NoError(t, s.RunNextJob(context.Background(), "w"))
	job, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, job.Status)
	require.NotNil(t, job.LastError)
	firstErr := *job.LastError

	_, err = s.db.Exec(`UPDATE jobs SET scheduled_at = now() WHERE job_id = $1`, jobID)
	require.NoError(t, err)
	require.NoError(t, s.RunNextJob(context.Background(), "w"))
	job, err = s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, job.Status)
	require.Contains(t, *job.LastError, firstErr)
	require.Contains(t, *job.LastError, "scripted failure 2")

	_, err = s.db.Exec(`UPDATE jobs SET scheduled_at = now() WHERE job_id = $1`, jobID)
	require.NoError(t, err)
	require.NoError(t, s.RunNextJob(context.Background(), "w"))
	job, err = s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, job.Status)
	require.Nil(t, job.LastError)
}

func TestScenario3_AttemptsExhausted(t *testing.T) {
	s := testStore(t)
	s.SetExecutor(&scriptedExecutor{failCount: 1000})

	jobID, err := s.Enqueue(context.Background(), EnqueueParams{
		QuerySQL:         "SELECT 1",
		StorageAccount:   "acct",
		StorageContainer: "container",
	})
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE jobs SET max_attempts = 2 WHERE job_id = $1`, jobID)
	require.NoError(t, err)

	require.NoError(t, s.RunNextJob(context.Background(), "w"))
	_, err = s.db.Exec(`UPDATE jobs SET scheduled_at = now() WHERE job_id = $1`, jobID)
	require.NoError(t, err)
	require.NoError(t, s.RunNextJob(context.Background(), "w"))

	job, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, job.Status)
	require.Equal(t, 2, job.AttemptCount)
	require.Nil(t, job.BackendPID)
}

func TestScenario4_ReadOnlyAdmission(t *testing.T) {
	s := testStore(t)

	_, err := s.Enqueue(context.Background(), EnqueueParams{
		QuerySQL:         "SELECT 1; DROP TABLE t",
		StorageAccount:   "acct",
		StorageContainer: "container",
	})
	require.ErrorIs(t, err, ErrInvalidArgument)

	jobID, err := s.Enqueue(context.Background(), EnqueueParams{
		QuerySQL:         "WITH x AS (SELECT '--comment') SELECT * FROM x",
		StorageAccount:   "acct",
		StorageContainer: "container",
	})
	require.NoError(t, err)
	require.NotZero(t, jobID)
}

func TestScenario5_ParallelismCap(t *testing.T) {
	s := testStore(t)
	s.cfg.MaxParallelJobs = 2
	exec := &scriptedExecutor{}
	s.SetExecutor(exec)

	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(context.Background(), EnqueueParams{
			QuerySQL:         "SELECT 1",
			StorageAccount:   "acct",
			StorageContainer: "container",
		})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.RunNextJob(context.Background(), fmt.Sprintf("w%d", n))
		}(i)
	}
	wg.Wait()

	var succeeded int
	require.NoError(t, s.db.Get(&succeeded, `SELECT count(*) FROM jobs WHERE status = $1`, StatusSucceeded))
	require.Equal(t, 3, succeeded)
}

func TestScenario6_OrphanRecovery(t *testing.T) {
	s := testStore(t)

	jobID, err := s.Enqueue(context.Background(), EnqueueParams{
		QuerySQL:         "SELECT 1",
		StorageAccount:   "acct",
		StorageContainer: "container",
	})
	require.NoError(t, err)

	_, err = s.db.Exec(`
		UPDATE jobs SET status = $1, started_at = now(), backend_pid = 999999999, attempt_count = 1
		WHERE job_id = $2
	`, StatusRunning, jobID)
	require.NoError(t, err)

	n, err := s.RequeueOrphanedRunningJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Contains(t, []Status{StatusPending, StatusFailed}, job.Status)
}
