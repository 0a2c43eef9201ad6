package sheetsync

import (
	"fmt"
	"strings"
)

// MappingError means a column the normalizer declares required is absent
// from the sheet's header row. The sync pass aborts before any writes.
type MappingError struct {
	Missing []string
	Header  []string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("required column(s) missing from header: %s", strings.Join(e.Missing, ", "))
}

// ParseError is a per-field normalization failure. It never aborts a row:
// the field degrades to null and the error is reported as a warning.
type ParseError struct {
	Field CanonicalField
	Raw   string
	Hint  string
}

func (e *ParseError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("field %s: cannot parse %q (%s)", e.Field, e.Raw, e.Hint)
	}
	return fmt.Sprintf("field %s: cannot parse %q", e.Field, e.Raw)
}

// RowError is a per-row failure (unusable natural key or a store write
// error). The row is skipped and the pass continues with the rest.
type RowError struct {
	RowIndex   int
	NaturalKey string
	Err        error
}

func (e *RowError) Error() string {
	if e.NaturalKey != "" {
		return fmt.Sprintf("row %d (key %s): %v", e.RowIndex, e.NaturalKey, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.RowIndex, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// FieldWarning records a non-fatal normalization degradation for operator
// visibility. The affected field was written as null.
type FieldWarning struct {
	NaturalKey string
	Field      CanonicalField
	Raw        string
	Message    string
}
