package sheetsync

import (
	"strings"

	"golang.org/x/text/width"
)

// CanonicalField is a normalized field name used across all sheet revisions.
type CanonicalField string

const (
	FieldRecordNo      CanonicalField = "record_no"
	FieldKind          CanonicalField = "kind"
	FieldName          CanonicalField = "name"
	FieldStatus        CanonicalField = "status"
	FieldVisitAssignee CanonicalField = "visit_assignee"
	FieldStaffAssignee CanonicalField = "staff_assignee"
	FieldVisitDate     CanonicalField = "visit_date"
	FieldNextContact   CanonicalField = "next_contact_date"
	FieldInquiryDate   CanonicalField = "inquiry_date"
	FieldContactTime   CanonicalField = "contact_time"
	FieldContactMethod CanonicalField = "contact_method"
	FieldPhoneContact  CanonicalField = "phone_contact"
	FieldPrice         CanonicalField = "price"
	FieldLinkedNo      CanonicalField = "linked_no"
	FieldYear          CanonicalField = "year"
)

// columnAliases maps normalized header labels to canonical fields.
// Staff edit the sheet by hand, so the same logical header shows up with
// embedded newlines, full-width characters, or reworded labels across
// revisions. All aliases are stored in normalized form (see NormalizeHeader).
var columnAliases = map[string]CanonicalField{
	// Natural key
	"record no":  FieldRecordNo,
	"record_no":  FieldRecordNo,
	"no":         FieldRecordNo,
	"管理番号":       FieldRecordNo,
	"番号":         FieldRecordNo,

	// Entity kind
	"kind":   FieldKind,
	"type":   FieldKind,
	"種別":     FieldKind,

	// Customer / property name
	"name": FieldName,
	"氏名":   FieldName,
	"名前":   FieldName,
	"物件名":  FieldName,

	// Status text
	"status": FieldStatus,
	"状況":     FieldStatus,
	"ステータス":  FieldStatus,

	// Visit assignee (who takes the scheduled visit)
	"visit assignee": FieldVisitAssignee,
	"訪問担当":           FieldVisitAssignee,
	"訪査担当":           FieldVisitAssignee,

	// Staff assignee (who owns the relationship)
	"assignee": FieldStaffAssignee,
	"staff":    FieldStaffAssignee,
	"担当":       FieldStaffAssignee,
	"担当者":      FieldStaffAssignee,

	// Dates
	"visit date":   FieldVisitDate,
	"訪問日":          FieldVisitDate,
	"next contact": FieldNextContact,
	"次回連絡日":        FieldNextContact,
	"次回電話日":        FieldNextContact,
	"inquiry date": FieldInquiryDate,
	"反響日":          FieldInquiryDate,
	"問合日":          FieldInquiryDate,

	// Contact details
	"contact time":   FieldContactTime,
	"連絡希望時間":         FieldContactTime,
	"contact method": FieldContactMethod,
	"連絡方法":           FieldContactMethod,
	"phone contact":  FieldPhoneContact,
	"電話窓口":           FieldPhoneContact,

	// Money
	"price": FieldPrice,
	"価格":    FieldPrice,
	"金額":    FieldPrice,

	// Cross-record link (e.g. listing -> seller)
	"linked no": FieldLinkedNo,
	"関連番号":      FieldLinkedNo,

	// Companion year for partial M/D dates
	"year": FieldYear,
	"年":    FieldYear,
}

// requiredFields must resolve to a column or the whole pass aborts.
// Only the natural key is structurally required; every other column may be
// absent from a given sheet revision (partial updates leave the store
// columns untouched).
var requiredFields = []CanonicalField{FieldRecordNo}

// fieldTypes declares how the value normalizer treats each field's cells.
var fieldTypes = map[CanonicalField]FieldType{
	FieldRecordNo:      TypeText,
	FieldKind:          TypeText,
	FieldName:          TypeText,
	FieldStatus:        TypeText,
	FieldVisitAssignee: TypeText,
	FieldStaffAssignee: TypeText,
	FieldVisitDate:     TypeDate,
	FieldNextContact:   TypeDate,
	FieldInquiryDate:   TypeDate,
	FieldContactTime:   TypeText,
	FieldContactMethod: TypeText,
	FieldPhoneContact:  TypeText,
	FieldPrice:         TypeMoney,
	FieldLinkedNo:      TypeText,
	FieldYear:          TypeText,
}

// FieldType selects the normalization routine for a canonical field.
type FieldType int

const (
	TypeText FieldType = iota
	TypeDate
	TypeMoney
)

// ColumnMapping is the resolved position -> canonical field index for one
// header row.
type ColumnMapping struct {
	FieldIdx map[CanonicalField]int // canonical field -> column index
	Fields   map[int]CanonicalField // column index -> canonical field
	RawNames []string

	// Unmapped lists headers that matched no alias. Their columns are
	// dropped, since spreadsheets routinely carry extra operational columns,
	// and the loss is reported as a warning, never an error.
	Unmapped []string
}

// NormalizeHeader canonicalizes a raw header label for alias lookup:
// full-width forms folded, whitespace and newline runs collapsed to a
// single space, trimmed, lowercased. The same logical header may appear
// with different embedded line breaks across sheet revisions.
func NormalizeHeader(raw string) string {
	s := width.Fold.String(raw)
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// MapColumns resolves a header row against the alias table.
// A header with no mapping entry is recorded in Unmapped and ignored.
// A missing required column yields a MappingError.
func MapColumns(header []string) (*ColumnMapping, error) {
	m := &ColumnMapping{
		FieldIdx: make(map[CanonicalField]int, len(header)),
		Fields:   make(map[int]CanonicalField, len(header)),
		RawNames: header,
	}

	for i, h := range header {
		normalized := NormalizeHeader(h)
		if normalized == "" {
			continue
		}
		field, ok := columnAliases[normalized]
		if !ok {
			m.Unmapped = append(m.Unmapped, normalized)
			continue
		}
		if _, dup := m.FieldIdx[field]; dup {
			// First occurrence wins; duplicated headers happen when a
			// column is copied during manual sheet edits.
			continue
		}
		m.FieldIdx[field] = i
		m.Fields[i] = field
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := m.FieldIdx[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return nil, &MappingError{Missing: missing, Header: header}
	}

	return m, nil
}
