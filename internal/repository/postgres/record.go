package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/crm-sync/internal/domain"
	"github.com/ignite/crm-sync/internal/sheetsync"
)

// ErrNotFound is returned when a natural key matches no record.
var ErrNotFound = errors.New("record not found")

// fieldColumns maps canonical sheet fields to their store columns.
var fieldColumns = map[sheetsync.CanonicalField]string{
	sheetsync.FieldKind:          "kind",
	sheetsync.FieldName:          "name",
	sheetsync.FieldStatus:        "status",
	sheetsync.FieldVisitAssignee: "visit_assignee",
	sheetsync.FieldStaffAssignee: "staff_assignee",
	sheetsync.FieldVisitDate:     "visit_date",
	sheetsync.FieldNextContact:   "next_contact_date",
	sheetsync.FieldInquiryDate:   "inquiry_date",
	sheetsync.FieldContactTime:   "contact_time",
	sheetsync.FieldContactMethod: "contact_method",
	sheetsync.FieldPhoneContact:  "phone_contact",
	sheetsync.FieldPrice:         "price",
	sheetsync.FieldLinkedNo:      "linked_key",
}

// upsertFieldOrder pins a deterministic column order for the generated
// upsert statement so the SQL is stable across passes (and testable).
var upsertFieldOrder = []sheetsync.CanonicalField{
	sheetsync.FieldKind,
	sheetsync.FieldName,
	sheetsync.FieldStatus,
	sheetsync.FieldVisitAssignee,
	sheetsync.FieldStaffAssignee,
	sheetsync.FieldVisitDate,
	sheetsync.FieldNextContact,
	sheetsync.FieldInquiryDate,
	sheetsync.FieldContactTime,
	sheetsync.FieldContactMethod,
	sheetsync.FieldPhoneContact,
	sheetsync.FieldPrice,
	sheetsync.FieldLinkedNo,
}

const recordColumns = `natural_key, kind, name, status, visit_assignee, staff_assignee,
	visit_date, next_contact_date, inquiry_date, contact_time, contact_method,
	phone_contact, price, linked_key, created_at, updated_at, deleted_at`

// RecordRepo implements the sync engine's store contract and the query
// side against PostgreSQL. Date columns are DATE; on scan they are
// rebased to midnight in the reference timezone so "today" comparisons
// are consistent everywhere.
type RecordRepo struct {
	db  *sql.DB
	loc *time.Location
}

func NewRecordRepo(db *sql.DB, loc *time.Location) *RecordRepo {
	if loc == nil {
		loc = time.UTC
	}
	return &RecordRepo{db: db, loc: loc}
}

// Upsert inserts or partially updates one record by natural key. Only the
// fields present in the map are written; everything else is untouched.
// The update carries an IS DISTINCT FROM guard so re-applying an
// unchanged row is a no-op with no updated_at churn. A soft-deleted record
// that reappears in the source is restored (deleted_at cleared).
func (r *RecordRepo) Upsert(ctx context.Context, key string, fields map[sheetsync.CanonicalField]sheetsync.Value, now time.Time) (sheetsync.UpsertOutcome, error) {
	cols := []string{"natural_key"}
	args := []interface{}{key}

	for _, f := range upsertFieldOrder {
		v, ok := fields[f]
		if !ok {
			continue
		}
		cols = append(cols, fieldColumns[f])
		args = append(args, fieldArg(v))
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}

	tsIdx := len(args) + 1
	args = append(args, now)

	var set, distinct []string
	for _, c := range cols[1:] {
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		distinct = append(distinct, fmt.Sprintf("records.%s IS DISTINCT FROM EXCLUDED.%s", c, c))
	}
	set = append(set, "deleted_at = NULL", fmt.Sprintf("updated_at = $%d", tsIdx))
	distinct = append(distinct, "records.deleted_at IS NOT NULL")

	query := fmt.Sprintf(`
		INSERT INTO records (%s, created_at, updated_at)
		VALUES (%s, $%d, $%d)
		ON CONFLICT (natural_key) DO UPDATE SET %s
		WHERE %s
		RETURNING (xmax = 0)`,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		tsIdx, tsIdx,
		strings.Join(set, ", "),
		strings.Join(distinct, " OR "),
	)

	var inserted bool
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&inserted)
	if err == sql.ErrNoRows {
		// Conflict hit but the change guard filtered the update out.
		return sheetsync.OutcomeUnchanged, nil
	}
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", key, err)
	}
	if inserted {
		return sheetsync.OutcomeInserted, nil
	}
	return sheetsync.OutcomeUpdated, nil
}

// FindActiveMissingFrom returns active records whose natural key is not
// in keys, which form the deletion candidates of the current sync pass.
func (r *RecordRepo) FindActiveMissingFrom(ctx context.Context, keys []string) ([]domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE deleted_at IS NULL AND NOT (natural_key = ANY($1))
		ORDER BY natural_key
	`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("find active missing: %w", err)
	}
	defer rows.Close()
	return r.scanRecords(rows)
}

// MarkDeleted soft-deletes an active record. Returns false when the
// record was already deleted; no transition means no audit entry.
func (r *RecordRepo) MarkDeleted(ctx context.Context, key string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET deleted_at = $2, updated_at = $2
		 WHERE natural_key = $1 AND deleted_at IS NULL`,
		key, now,
	)
	if err != nil {
		return false, fmt.Errorf("mark deleted %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AppendAudit writes one deletion audit entry.
func (r *RecordRepo) AppendAudit(ctx context.Context, e domain.DeletionAuditEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deletion_audit (id, natural_key, deleted_at, deleted_by, reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.NaturalKey, e.DeletedAt, e.DeletedBy, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("append audit for %s: %w", e.NaturalKey, err)
	}
	return nil
}

// CountActiveLinks counts active records referencing key through
// linked_key (e.g. a listing still pointing at its seller).
func (r *RecordRepo) CountActiveLinks(ctx context.Context, key string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE linked_key = $1 AND deleted_at IS NULL`,
		key,
	).Scan(&n)
	return n, err
}

// ListActive returns every active record, the classification working set.
func (r *RecordRepo) ListActive(ctx context.Context) ([]domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE deleted_at IS NULL
		ORDER BY natural_key
	`)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()
	return r.scanRecords(rows)
}

// Recover reverses a soft deletion: deleted_at is cleared and the most
// recent unrecovered audit entry for the key gets recovered_at stamped.
// This is the operator-facing path, not something the sync engine calls.
func (r *RecordRepo) Recover(ctx context.Context, key string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET deleted_at = NULL, updated_at = $2
		 WHERE natural_key = $1 AND deleted_at IS NOT NULL`,
		key, now,
	)
	if err != nil {
		return fmt.Errorf("recover %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE deletion_audit SET recovered_at = $2
		WHERE id = (
			SELECT id FROM deletion_audit
			WHERE natural_key = $1 AND recovered_at IS NULL
			ORDER BY deleted_at DESC
			LIMIT 1
		)`, key, now)
	if err != nil {
		return fmt.Errorf("stamp audit recovery for %s: %w", key, err)
	}
	return nil
}

func (r *RecordRepo) scanRecords(rows *sql.Rows) ([]domain.Record, error) {
	var out []domain.Record
	for rows.Next() {
		var rec domain.Record
		var kind string
		var visitDate, nextContact, inquiryDate, deletedAt sql.NullTime
		if err := rows.Scan(
			&rec.NaturalKey, &kind, &rec.Name, &rec.Status,
			&rec.VisitAssignee, &rec.StaffAssignee,
			&visitDate, &nextContact, &inquiryDate,
			&rec.ContactTime, &rec.ContactMethod, &rec.PhoneContact,
			&rec.Price, &rec.LinkedKey,
			&rec.CreatedAt, &rec.UpdatedAt, &deletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Kind = domain.RecordKind(kind)
		rec.VisitDate = r.civil(visitDate)
		rec.NextContact = r.civil(nextContact)
		rec.InquiryDate = r.civil(inquiryDate)
		if deletedAt.Valid {
			t := deletedAt.Time
			rec.DeletedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// civil rebases a scanned DATE to midnight in the reference timezone.
// The driver hands DATE values back anchored in UTC; comparisons against
// a reference-timezone "today" need the same anchor on both sides.
func (r *RecordRepo) civil(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := time.Date(t.Time.Year(), t.Time.Month(), t.Time.Day(), 0, 0, 0, 0, r.loc)
	return &v
}

func fieldArg(v sheetsync.Value) interface{} {
	switch {
	case v.Text != nil:
		return *v.Text
	case v.Date != nil:
		return *v.Date
	case v.Number != nil:
		return *v.Number
	default:
		return nil
	}
}
