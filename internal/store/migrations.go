package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		experiment TEXT NOT NULL,
		id         INTEGER NOT NULL,
		status     TEXT NOT NULL DEFAULT 'new',
		resource   TEXT NOT NULL DEFAULT '',
		document   TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (experiment, id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_experiment_status ON jobs(experiment, status)`,

	`CREATE TABLE IF NOT EXISTS hypers (
		experiment TEXT PRIMARY KEY,
		document   TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	// Increment-and-get counters, one row per (experiment, name).
	`CREATE TABLE IF NOT EXISTS counters (
		experiment TEXT NOT NULL,
		name       TEXT NOT NULL,
		value      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (experiment, name)
	)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "hypers",
		column:   "version",
		alterSQL: "ALTER TABLE hypers ADD COLUMN version INTEGER NOT NULL DEFAULT 0",
	},
	{
		table:    "jobs",
		column:   "submit_time",
		alterSQL: "ALTER TABLE jobs ADD COLUMN submit_time REAL",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_jobs_submit_time ON jobs(experiment, submit_time)",
	},
	{
		table:    "jobs",
		column:   "revision",
		alterSQL: "ALTER TABLE jobs ADD COLUMN revision INTEGER NOT NULL DEFAULT 0",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if found {
		return nil
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
