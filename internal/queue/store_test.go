package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigClamped(t *testing.T) {
	def := DefaultConfig()

	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{name: "defaults pass through unchanged", in: def, want: def},
		{
			name: "malformed max parallel jobs falls back to default",
			in:   Config{MaxParallelJobs: 0, MinFreeConnections: 3, DefaultMaxAttempts: 2, AdvisoryNamespace: 1},
			want: Config{MaxParallelJobs: def.MaxParallelJobs, MinFreeConnections: 3, DefaultMaxAttempts: 2, AdvisoryNamespace: 1},
		},
		{
			name: "negative min free connections falls back to default",
			in:   Config{MaxParallelJobs: 5, MinFreeConnections: -1, DefaultMaxAttempts: 2, AdvisoryNamespace: 1},
			want: Config{MaxParallelJobs: 5, MinFreeConnections: def.MinFreeConnections, DefaultMaxAttempts: 2, AdvisoryNamespace: 1},
		},
		{
			name: "zero max attempts falls back to default",
			in:   Config{MaxParallelJobs: 5, MinFreeConnections: 3, DefaultMaxAttempts: 0, AdvisoryNamespace: 1},
			want: Config{MaxParallelJobs: 5, MinFreeConnections: 3, DefaultMaxAttempts: def.DefaultMaxAttempts, AdvisoryNamespace: 1},
		},
		{
			name: "zero advisory namespace falls back to default",
			in:   Config{MaxParallelJobs: 5, MinFreeConnections: 3, DefaultMaxAttempts: 2, AdvisoryNamespace: 0},
			want: Config{MaxParallelJobs: 5, MinFreeConnections: 3, DefaultMaxAttempts: 2, AdvisoryNamespace: def.AdvisoryNamespace},
		},
		{
			name: "out of range max parallel jobs falls back to default",
			in:   Config{MaxParallelJobs: 20000, MinFreeConnections: 3, DefaultMaxAttempts: 2, AdvisoryNamespace: 1},
			want: Config{MaxParallelJobs: def.MaxParallelJobs, MinFreeConnections: 3, DefaultMaxAttempts: 2, AdvisoryNamespace: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Clamped())
		})
	}
}
