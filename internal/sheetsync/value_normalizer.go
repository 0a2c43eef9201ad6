package sheetsync

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"
)

// Spreadsheet serial dates count days since 1899-12-30 (serial 25569 is
// 1970-01-01). Bare numbers are only accepted as dates inside a plausible
// multi-decade window so unrelated numeric cells never mis-parse as dates.
const (
	serialUnixOffset = 25569
	serialMin        = 36526 // 2000-01-01
	serialMax        = 54788 // 2049-12-31
)

// nullPlaceholders are cell values that staff use to mean "no value".
// They normalize to null, never to an empty string, so downstream
// emptiness checks are a single nil comparison.
var nullPlaceholders = map[string]bool{
	"":    true,
	"-":   true,
	"ー":   true,
	"―":   true,
	"n/a": true,
	"na":  true,
	"なし":  true,
	"未定":  true,
}

// magnitude suffixes for money cells, largest first so compound values
// like 1億2000万 consume segments in order.
var moneySuffixes = []struct {
	unit string
	mult int64
}{
	{"億", 100_000_000},
	{"万", 10_000},
	{"千", 1_000},
}

// Normalizer converts raw cell text into typed field values. All dates it
// produces are calendar dates at midnight in the reference timezone.
type Normalizer struct {
	loc *time.Location
}

func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// NormalizeRow turns one raw sheet row into a SourceRow. Every field
// failure degrades to null plus a warning; only the natural key is
// load-bearing, and the caller skips the row when it comes back empty.
// refYear supplies the year for partial M/D dates when the sheet carries
// no companion year column.
func (n *Normalizer) NormalizeRow(raw []string, mapping *ColumnMapping, rowIndex, refYear int) (*SourceRow, []FieldWarning) {
	row := &SourceRow{
		RowIndex: rowIndex,
		Fields:   make(map[CanonicalField]Value, len(mapping.FieldIdx)),
	}
	var warnings []FieldWarning

	year := refYear
	if idx, ok := mapping.FieldIdx[FieldYear]; ok {
		if y, err := parseYear(cellAt(raw, idx)); err == nil {
			year = y
		}
	}

	for field, idx := range mapping.FieldIdx {
		if field == FieldYear {
			continue // companion field, never persisted
		}
		cell := cellAt(raw, idx)

		switch fieldTypes[field] {
		case TypeDate:
			d, err := n.ParseDate(cell, year)
			if err != nil {
				warnings = append(warnings, FieldWarning{
					Field: field, Raw: cell, Message: err.Error(),
				})
				row.Fields[field] = DateValue(nil)
				continue
			}
			row.Fields[field] = DateValue(d)
		case TypeMoney:
			v, err := ParseMoney(cell)
			if err != nil {
				warnings = append(warnings, FieldWarning{
					Field: field, Raw: cell, Message: err.Error(),
				})
				row.Fields[field] = NumberValue(nil)
				continue
			}
			row.Fields[field] = NumberValue(v)
		default:
			row.Fields[field] = TextValue(NormalizeText(cell))
		}
	}

	if v, ok := row.Fields[FieldRecordNo]; ok && v.Text != nil {
		row.NaturalKey = *v.Text
		delete(row.Fields, FieldRecordNo) // key column, not a data field
	}
	for i := range warnings {
		warnings[i].NaturalKey = row.NaturalKey
	}
	return row, warnings
}

// NormalizeText trims a cell, folds full-width forms, and maps the
// business "no value" placeholders to nil.
func NormalizeText(raw string) *string {
	s := strings.TrimSpace(width.Fold.String(raw))
	if nullPlaceholders[strings.ToLower(s)] {
		return nil
	}
	return &s
}

// ParseDate accepts, in fixed priority order: YYYY/MM/DD, YYYY-MM-DD,
// a bare spreadsheet serial day count (range-checked), and M/D with the
// supplied year. Empty and placeholder cells yield (nil, nil).
func (n *Normalizer) ParseDate(raw string, year int) (*time.Time, error) {
	s := NormalizeText(raw)
	if s == nil {
		return nil, nil
	}
	v := *s

	if y, m, d, ok := splitDate(v); ok {
		return n.civilDate(y, m, d)
	}

	if serial, err := strconv.Atoi(v); err == nil {
		if serial < serialMin || serial > serialMax {
			return nil, &ParseError{Field: "", Raw: raw, Hint: "day count outside accepted window"}
		}
		t := time.Unix(int64(serial-serialUnixOffset)*86400, 0).UTC()
		return n.civilDate(t.Year(), int(t.Month()), t.Day())
	}

	if m, d, ok := splitPartialDate(v); ok {
		return n.civilDate(year, m, d)
	}

	return nil, &ParseError{Field: "", Raw: raw, Hint: "unrecognized date format"}
}

func (n *Normalizer) civilDate(y, m, d int) (*time.Time, error) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return nil, &ParseError{Raw: fmt.Sprintf("%d/%d/%d", y, m, d), Hint: "out-of-range date"}
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, n.loc)
	// time.Date normalizes overflow (e.g. 2/31 -> 3/2); reject it.
	if int(t.Month()) != m || t.Day() != d {
		return nil, &ParseError{Raw: fmt.Sprintf("%d/%d/%d", y, m, d), Hint: "impossible calendar date"}
	}
	return &t, nil
}

// splitDate parses YYYY/MM/DD or YYYY-MM-DD with or without zero padding.
func splitDate(v string) (y, m, d int, ok bool) {
	sep := "/"
	if strings.Contains(v, "-") {
		sep = "-"
	}
	parts := strings.Split(v, sep)
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	y, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	d, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || y < 1000 {
		return 0, 0, 0, false
	}
	return y, m, d, true
}

// splitPartialDate parses M/D, the year being supplied externally.
func splitPartialDate(v string) (m, d int, ok bool) {
	parts := strings.Split(v, "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	m, err1 := strconv.Atoi(parts[0])
	d, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return m, d, true
}

func parseYear(raw string) (int, error) {
	s := NormalizeText(raw)
	if s == nil {
		return 0, fmt.Errorf("empty year")
	}
	y, err := strconv.Atoi(strings.TrimSuffix(*s, "年"))
	if err != nil || y < 2000 || y > 2049 {
		return 0, fmt.Errorf("implausible year %q", raw)
	}
	return y, nil
}

// ParseMoney parses a currency/quantity cell: grouping separators and a
// trailing currency unit are stripped, magnitude suffixes (千/万/億,
// compoundable as in 1億2000万) multiply. Empty and placeholder cells
// yield (nil, nil); a malformed cell yields an error which the caller
// degrades to null; it must not abort the row.
func ParseMoney(raw string) (*int64, error) {
	s := NormalizeText(raw)
	if s == nil {
		return nil, nil
	}
	v := *s
	v = strings.ReplaceAll(v, ",", "")
	v = strings.ReplaceAll(v, " ", "")
	v = strings.TrimPrefix(v, "¥")
	v = strings.TrimSuffix(v, "円")
	if v == "" {
		return nil, nil
	}

	var total int64
	rest := v
	matched := false
	for _, sfx := range moneySuffixes {
		idx := strings.Index(rest, sfx.unit)
		if idx < 0 {
			continue
		}
		seg := rest[:idx]
		f, err := strconv.ParseFloat(seg, 64)
		if err != nil {
			return nil, &ParseError{Raw: raw, Hint: "malformed magnitude segment"}
		}
		total += int64(f * float64(sfx.mult))
		rest = rest[idx+len(sfx.unit):]
		matched = true
	}
	if rest != "" {
		f, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			if matched {
				return nil, &ParseError{Raw: raw, Hint: "trailing garbage after magnitude suffix"}
			}
			return nil, &ParseError{Raw: raw, Hint: "not a number"}
		}
		total += int64(f)
	}
	return &total, nil
}

func cellAt(row []string, idx int) string {
	// The values API omits trailing empty cells, so a short row still
	// means the column exists with an empty cell.
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
