package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements is the idempotent schema for the record store. The
// sync/classification engine only requires upsert-by-key, a soft-delete
// flag, and timestamp columns from its store; everything else here is
// indexing for the query paths.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS records (
		natural_key       TEXT PRIMARY KEY,
		kind              TEXT NOT NULL DEFAULT 'seller',
		name              TEXT,
		status            TEXT,
		visit_assignee    TEXT,
		staff_assignee    TEXT,
		visit_date        DATE,
		next_contact_date DATE,
		inquiry_date      DATE,
		contact_time      TEXT,
		contact_method    TEXT,
		phone_contact     TEXT,
		price             BIGINT,
		linked_key        TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at        TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_active
		ON records (natural_key) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_records_linked_key
		ON records (linked_key) WHERE deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS deletion_audit (
		id           UUID PRIMARY KEY,
		natural_key  TEXT NOT NULL,
		deleted_at   TIMESTAMPTZ NOT NULL,
		deleted_by   TEXT NOT NULL,
		reason       TEXT NOT NULL,
		recovered_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deletion_audit_key
		ON deletion_audit (natural_key, deleted_at DESC)`,
}

// EnsureSchema applies the schema. Safe to run on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
