package sheetsync

import (
	"time"
)

// Value is one normalized cell. Present distinguishes a column that exists
// in the sheet (possibly with an empty cell, which nulls the store column)
// from a column the sheet does not carry at all (store column untouched).
type Value struct {
	Present bool
	Text    *string
	Date    *time.Time
	Number  *int64
}

// TextValue builds a present text value; nil means present-but-null.
func TextValue(s *string) Value { return Value{Present: true, Text: s} }

// DateValue builds a present date value; nil means present-but-null.
func DateValue(t *time.Time) Value { return Value{Present: true, Date: t} }

// NumberValue builds a present number value; nil means present-but-null.
func NumberValue(n *int64) Value { return Value{Present: true, Number: n} }

// SourceRow is one normalized spreadsheet row. It exists only
// for the duration of a sync pass and is never persisted.
type SourceRow struct {
	NaturalKey string
	RowIndex   int
	Fields     map[CanonicalField]Value
}

// SyncReport summarizes one sync pass. Row- and field-level failures are
// collected here rather than escalated; only a missing required column or
// exhausted source retries abort a pass early.
type SyncReport struct {
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
	RowsTotal  int            `json:"rows_total"`
	Inserted   int            `json:"inserted"`
	Updated    int            `json:"updated"`
	Unchanged  int            `json:"unchanged"`
	Skipped    int            `json:"skipped"`
	Deleted    int            `json:"deleted"`
	Deferred   int            `json:"deferred"`
	Partial    bool           `json:"partial"`
	Errors     []*RowError    `json:"-"`
	Warnings   []FieldWarning `json:"-"`
	ErrorCount int            `json:"error_count"`
	WarnCount  int            `json:"warning_count"`
}

func (r *SyncReport) addError(e *RowError) {
	r.Errors = append(r.Errors, e)
	r.ErrorCount = len(r.Errors)
}

func (r *SyncReport) addWarnings(ws []FieldWarning) {
	r.Warnings = append(r.Warnings, ws...)
	r.WarnCount = len(r.Warnings)
}
