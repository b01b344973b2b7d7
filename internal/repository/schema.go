package repository

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
)

// Table names.
const (
	TableJobs          = "jobs"
	TableReceipts      = "receipts"
	TableCorrections   = "corrections"
	TableModelVersions = "model_versions"
	TableRetrainRuns   = "retrain_runs"
)

// ddl is written once with placeholders for the column types that differ
// between Postgres and SQLite.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		status           TEXT NOT NULL,
		payload          TEXT NOT NULL,
		result           TEXT,
		error            TEXT,
		created_at       {{ts}} NOT NULL,
		started_at       {{ts}},
		completed_at     {{ts}},
		lease_expires_at {{ts}},
		reclaim_count    INTEGER NOT NULL DEFAULT 0,
		worker_id        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_lease ON jobs (status, lease_expires_at)`,
	`CREATE TABLE IF NOT EXISTS receipts (
		id               TEXT PRIMARY KEY,
		job_id           TEXT NOT NULL DEFAULT '',
		merchant_name    TEXT,
		receipt_date     DATE,
		total_amount     {{float}},
		phone            TEXT NOT NULL DEFAULT '',
		items            TEXT NOT NULL DEFAULT '[]',
		raw_text         TEXT NOT NULL DEFAULT '',
		category         TEXT NOT NULL,
		confidence       {{float}} NOT NULL DEFAULT 0,
		field_confidence TEXT NOT NULL DEFAULT '{}',
		model_version    TEXT NOT NULL DEFAULT '',
		corrected        BOOLEAN NOT NULL DEFAULT FALSE,
		processed_at     {{ts}} NOT NULL,
		updated_at       {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_receipts_category ON receipts (category)`,
	`CREATE INDEX IF NOT EXISTS idx_receipts_date ON receipts (receipt_date)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_receipts_job ON receipts (job_id) WHERE job_id <> ''`,
	`CREATE TABLE IF NOT EXISTS corrections (
		id                 TEXT PRIMARY KEY,
		receipt_id         TEXT NOT NULL,
		original_category  TEXT NOT NULL,
		corrected_category TEXT NOT NULL,
		text               TEXT NOT NULL DEFAULT '',
		merchant_name      TEXT NOT NULL DEFAULT '',
		items              TEXT NOT NULL DEFAULT '[]',
		corrected_at       {{ts}} NOT NULL,
		consumed_by_run    TEXT,
		consumed_at        {{ts}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_corrections_unconsumed ON corrections (consumed_by_run)`,
	`CREATE TABLE IF NOT EXISTS model_versions (
		version_id            TEXT PRIMARY KEY,
		created_at            {{ts}} NOT NULL,
		train_accuracy        {{float}} NOT NULL,
		test_accuracy         {{float}} NOT NULL,
		train_sample_count    INTEGER NOT NULL,
		test_sample_count     INTEGER NOT NULL,
		correction_count_used INTEGER NOT NULL,
		kind                  TEXT NOT NULL,
		label_metrics         TEXT NOT NULL DEFAULT '{}',
		artifact_key          TEXT NOT NULL,
		active                BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS retrain_runs (
		id               TEXT PRIMARY KEY,
		state            TEXT NOT NULL,
		reason           TEXT NOT NULL,
		version_id       TEXT,
		error            TEXT,
		correction_count INTEGER NOT NULL DEFAULT 0,
		started_at       {{ts}} NOT NULL,
		finished_at      {{ts}}
	)`,
}

func renderDDL(dialectName, stmt string) string {
	ts, float := "TIMESTAMP", "REAL"
	if dialectName == dialect.Postgres {
		ts, float = "TIMESTAMPTZ", "DOUBLE PRECISION"
	}
	return strings.NewReplacer("{{ts}}", ts, "{{float}}", float).Replace(stmt)
}

// Migrate creates missing tables and indexes. It is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := db.exec(ctx, renderDDL(db.DialectName(), stmt), []any{}); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	db.logger.Info("database schema ready", "dialect", db.DialectName())
	return nil
}
