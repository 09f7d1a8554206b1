package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexOf(t *testing.T) {
	tests := []struct {
		name    string
		hay     string
		needle  string
		wantIdx int
	}{
		{name: "found at start", hay: "FROM jobs WHERE x", needle: "FROM jobs", wantIdx: 0},
		{name: "found mid-string", hay: "SELECT * FROM jobs", needle: "FROM jobs", wantIdx: 9},
		{name: "not found", hay: "SELECT * FROM other", needle: "FROM jobs", wantIdx: -1},
		{name: "empty haystack", hay: "", needle: "FROM jobs", wantIdx: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantIdx, indexOf(tt.hay, tt.needle))
		})
	}
}

func TestContainsJobsForUpdate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{name: "uppercase match", text: "SELECT job_id FROM jobs WHERE job_id = $1 FOR UPDATE", want: true},
		{name: "lowercase match", text: "select job_id from jobs where job_id = $1 for update", want: true},
		{name: "unrelated statement", text: "SELECT 1", want: false},
		{name: "empty statement", text: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, containsJobsForUpdate(tt.text))
		})
	}
}
