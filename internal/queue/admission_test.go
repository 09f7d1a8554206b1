package queue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanCopy(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "plain literal is blanked",
			query: `select 'hello world' from t`,
			want:  `select '           ' from t`,
		},
		{
			name:  "doubled quote escape stays inside literal",
			query: `select 'it''s fine' from t`,
			want:  `select '          ' from t`,
		},
		{
			name:  "no literal is unchanged",
			query: `select id from t where id > 1`,
			want:  `select id from t where id > 1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanCopy(tt.query))
		})
	}
}

func TestValidateReadOnlySQL(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantErr   bool
		errSubstr string
	}{
		{name: "plain select", query: "SELECT id FROM t", wantErr: false},
		{name: "with cte", query: "WITH x AS (SELECT 1) SELECT * FROM x", wantErr: false},
		{name: "lowercase select", query: "select id from t", wantErr: false},
		{
			name:      "must start with select or with",
			query:     "DELETE FROM t",
			wantErr:   true,
			errSubstr: "must begin with SELECT or WITH",
		},
		{
			name:      "statement separator rejected",
			query:     "SELECT id FROM t; SELECT 2",
			wantErr:   true,
			errSubstr: "statement separator",
		},
		{
			name:      "line comment rejected",
			query:     "SELECT id FROM t -- comment",
			wantErr:   true,
			errSubstr: "line comment",
		},
		{
			name:      "block comment rejected",
			query:     "SELECT id FROM t /* comment */",
			wantErr:   true,
			errSubstr: "block comment",
		},
		{
			name:      "forbidden keyword rejected",
			query:     "SELECT id FROM t; DROP TABLE t",
			wantErr:   true,
			errSubstr: "statement separator",
		},
		{
			name:      "forbidden keyword alone rejected",
			query:     "SELECT id INTO other FROM t",
			wantErr:   true,
			errSubstr: "disallowed keyword",
		},
		{
			name:    "forbidden keyword inside a string literal is allowed",
			query:   "SELECT id FROM t WHERE name = 'please delete this'",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReadOnlySQL(tt.query)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.errSubstr), "error %q does not contain %q", err.Error(), tt.errSubstr)
				assert.ErrorIs(t, err, ErrInvalidArgument)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
