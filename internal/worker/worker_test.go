package worker

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerIdentity(t *testing.T) {
	host, _ := os.Hostname()

	id0 := workerIdentity("jobq-worker", 0)
	id1 := workerIdentity("jobq-worker", 1)

	assert.True(t, strings.HasPrefix(id0, "jobq-worker-"))
	assert.True(t, strings.HasSuffix(id0, "-0"))
	assert.True(t, strings.HasSuffix(id1, "-1"))
	assert.Contains(t, id0, host)
	assert.NotEqual(t, id0, id1)
}

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(Config{})
	assert.Equal(t, 1, p.cfg.Concurrency)
	assert.NotZero(t, p.cfg.PollInterval)
	assert.Equal(t, "jobq-worker", p.cfg.IdentityPrefix)
}
