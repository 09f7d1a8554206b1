package queue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending goose migrations against the Postgres
// jobs database (§3.1, §3.2). Each migration that changes the jobs table
// shape also inserts its own marker row into schema_version (§6.3), a
// plain table distinct from goose's internal bookkeeping so operators can
// query installed schema history without depending on goose internals.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("jobq: goose set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("jobq: goose up: %w", err)
	}
	return nil
}

// Version implements the §3.2/§6.3 "version() reader returning the maximum
// version" against schema_version. Versions are stored zero-padded
// (e.g. "00000001") so that MAX() under plain text ordering agrees with
// numeric ordering.
func Version(ctx context.Context, db *sqlx.DB) (string, error) {
	var version string
	err := db.GetContext(ctx, &version, `SELECT coalesce(MAX(version), '') FROM schema_version`)
	if err != nil {
		return "", fmt.Errorf("jobq: read schema_version: %w", err)
	}
	return version, nil
}
