package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePrefix(t *testing.T) {
	corr := "order-42"
	unsafe := "a/b c"

	tests := []struct {
		name          string
		correlationID *string
		jobID         int64
		want          string
	}{
		{name: "uses correlation id when set", correlationID: &corr, jobID: 1, want: "order-42"},
		{name: "falls back to job id", correlationID: nil, jobID: 7, want: "7"},
		{name: "empty correlation id falls back to job id", correlationID: new(string), jobID: 9, want: "9"},
		{name: "unsafe characters replaced", correlationID: &unsafe, jobID: 1, want: "a_b_c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizePrefix(tt.correlationID, tt.jobID))
		})
	}
}

func TestClampMaxRuntime(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{name: "below floor clamps up", in: 0, want: RunnerMinRuntime},
		{name: "above ceiling clamps down", in: 25 * time.Hour, want: MaxMaxRuntime},
		{name: "within range is unchanged", in: 5 * time.Minute, want: 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampMaxRuntime(tt.in))
		})
	}
}

func TestBackoffFor(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want time.Duration
	}{
		{name: "zero attempts", n: 0, want: 0},
		{name: "three attempts", n: 3, want: 3 * time.Minute},
		{name: "caps at ten", n: 10, want: 10 * time.Minute},
		{name: "caps past ten", n: 50, want: 10 * time.Minute},
		{name: "negative clamps to zero", n: -1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backoffFor(tt.n))
		})
	}
}

func TestAppendDiagnostic(t *testing.T) {
	t.Run("nil existing", func(t *testing.T) {
		assert.Equal(t, "new", appendDiagnostic(nil, "new"))
	})

	t.Run("appends with separator", func(t *testing.T) {
		existing := "old"
		assert.Equal(t, "old; new", appendDiagnostic(&existing, "new"))
	})

	t.Run("truncates to tail", func(t *testing.T) {
		existing := strings.Repeat("a", MaxLastErrorLength)
		got := appendDiagnostic(&existing, "new-diagnostic")
		assert.Len(t, got, MaxLastErrorLength)
		assert.True(t, strings.HasSuffix(got, "new-diagnostic"))
	})
}

func TestClassifyAndFormat(t *testing.T) {
	t.Run("deadline exceeded", func(t *testing.T) {
		got := classifyAndFormat(context.DeadlineExceeded)
		assert.Contains(t, got, "deadline_exceeded")
	})

	t.Run("other errors are transient", func(t *testing.T) {
		got := classifyAndFormat(errors.New("connection reset"))
		assert.Contains(t, got, "transient_execution")
		assert.Contains(t, got, "connection reset")
	})

	t.Run("truncates long messages", func(t *testing.T) {
		got := classifyAndFormat(errors.New(strings.Repeat("x", MaxLastErrorLength*2)))
		assert.Len(t, got, MaxLastErrorLength)
	})
}
