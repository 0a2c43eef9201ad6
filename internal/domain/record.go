package domain

import "time"

// RecordKind distinguishes the three business entity types kept in the store.
type RecordKind string

const (
	KindSeller  RecordKind = "seller"
	KindBuyer   RecordKind = "buyer"
	KindListing RecordKind = "listing"
)

// Record is one business entity reconciled against the spreadsheet.
// The natural key is the human-assigned record number; it is immutable
// once assigned and never reused. All date fields carry a calendar date
// at midnight in the reference timezone, no time-of-day component.
type Record struct {
	NaturalKey string
	Kind       RecordKind

	Name          *string
	Status        *string
	VisitAssignee *string
	StaffAssignee *string
	VisitDate     *time.Time
	NextContact   *time.Time
	InquiryDate   *time.Time
	ContactTime   *string
	ContactMethod *string
	PhoneContact  *string
	Price         *int64
	LinkedKey     *string

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Active reports whether the record participates in classification and
// listing. Soft-deleted records are retained for audit and recovery only.
func (r *Record) Active() bool { return r.DeletedAt == nil }

// DeletionAuditEntry records one soft-delete decision. Append-only except
// RecoveredAt, which an operator stamps when reversing the deletion.
type DeletionAuditEntry struct {
	ID          string
	NaturalKey  string
	DeletedAt   time.Time
	DeletedBy   string
	Reason      string
	RecoveredAt *time.Time
}
