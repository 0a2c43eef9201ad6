package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/crm-sync/internal/domain"
)

// fakeStore is an in-memory Store for engine and guard tests.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*domain.Record
	fields  map[string]map[CanonicalField]Value
	audits  []domain.DeletionAuditEntry
	links   map[string]int

	failKeys map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[string]*domain.Record),
		fields:   make(map[string]map[CanonicalField]Value),
		links:    make(map[string]int),
		failKeys: make(map[string]bool),
	}
}

func (s *fakeStore) Upsert(ctx context.Context, key string, fields map[CanonicalField]Value, now time.Time) (UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failKeys[key] {
		return 0, fmt.Errorf("synthetic upsert failure for %s", key)
	}

	rec, exists := s.records[key]
	if !exists {
		s.records[key] = &domain.Record{NaturalKey: key, CreatedAt: now, UpdatedAt: now}
		s.fields[key] = cloneFields(fields)
		return OutcomeInserted, nil
	}

	restored := rec.DeletedAt != nil
	changed := restored
	merged := s.fields[key]
	for f, v := range fields {
		if prev, ok := merged[f]; !ok || !valueEqual(prev, v) {
			merged[f] = v
			changed = true
		}
	}
	if !changed {
		return OutcomeUnchanged, nil
	}
	rec.DeletedAt = nil
	rec.UpdatedAt = now
	return OutcomeUpdated, nil
}

func (s *fakeStore) FindActiveMissingFrom(ctx context.Context, keys []string) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	var out []domain.Record
	for k, rec := range s.records {
		if rec.DeletedAt == nil && !seen[k] {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkDeleted(ctx context.Context, key string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.DeletedAt != nil {
		return false, nil
	}
	rec.DeletedAt = &now
	return true, nil
}

func (s *fakeStore) AppendAudit(ctx context.Context, e domain.DeletionAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, e)
	return nil
}

func (s *fakeStore) CountActiveLinks(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[key], nil
}

func (s *fakeStore) active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return ok && rec.DeletedAt == nil
}

func (s *fakeStore) seed(key string, updatedAt time.Time, mutate func(*domain.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &domain.Record{NaturalKey: key, CreatedAt: updatedAt, UpdatedAt: updatedAt}
	if mutate != nil {
		mutate(rec)
	}
	s.records[key] = rec
	s.fields[key] = make(map[CanonicalField]Value)
}

func cloneFields(in map[CanonicalField]Value) map[CanonicalField]Value {
	out := make(map[CanonicalField]Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func valueEqual(a, b Value) bool {
	switch {
	case (a.Text == nil) != (b.Text == nil), (a.Date == nil) != (b.Date == nil), (a.Number == nil) != (b.Number == nil):
		return false
	case a.Text != nil && *a.Text != *b.Text:
		return false
	case a.Date != nil && !a.Date.Equal(*b.Date):
		return false
	case a.Number != nil && *a.Number != *b.Number:
		return false
	}
	return true
}

var testHeader = []string{"管理番号", "氏名", "状況", "次回連絡日", "担当者"}

func testEngine(store Store) *Engine {
	return NewEngine(store, Config{
		Workers: 2,
		Guard: GuardConfig{
			ActiveStatuses: []string{"exclusive", "専任"},
			RecentWindow:   7 * 24 * time.Hour,
		},
	})
}

func TestSyncInsertsAndCounts(t *testing.T) {
	store := newFakeStore()
	e := testEngine(store)

	report, err := e.Sync(context.Background(), testHeader, [][]string{
		{"S-001", "佐藤", "追客中", "2026/09/10", "田中"},
		{"S-002", "鈴木", "", "", ""},
	})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if report.Inserted != 2 || report.Updated != 0 || report.Skipped != 0 {
		t.Errorf("report = %+v, want 2 inserted", report)
	}
	if !store.active("S-001") || !store.active("S-002") {
		t.Error("both rows should be active in the store")
	}
}

func TestSyncIdempotent(t *testing.T) {
	store := newFakeStore()
	e := testEngine(store)
	rows := [][]string{{"S-001", "佐藤", "追客中", "2026/09/10", "田中"}}

	if _, err := e.Sync(context.Background(), testHeader, rows); err != nil {
		t.Fatalf("first Sync() error: %v", err)
	}
	report, err := e.Sync(context.Background(), testHeader, rows)
	if err != nil {
		t.Fatalf("second Sync() error: %v", err)
	}
	if report.Inserted != 0 || report.Updated != 0 || report.Unchanged != 1 {
		t.Errorf("second pass = %+v, want 1 unchanged", report)
	}
}

func TestSyncAbortsOnMissingKeyColumn(t *testing.T) {
	store := newFakeStore()
	e := testEngine(store)

	_, err := e.Sync(context.Background(), []string{"氏名", "状況"}, [][]string{{"佐藤", "追客中"}})
	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("error = %v, want *MappingError", err)
	}
	if len(store.records) != 0 {
		t.Error("no writes may occur when the header has no key column")
	}
}

func TestSyncRowIsolation(t *testing.T) {
	store := newFakeStore()
	store.failKeys["S-002"] = true
	e := testEngine(store)

	report, err := e.Sync(context.Background(), testHeader, [][]string{
		{"S-001", "佐藤", "", "", ""},
		{"S-002", "鈴木", "", "", ""},
		{"S-003", "高橋", "", "", ""},
	})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if report.Inserted != 2 || report.Skipped != 1 || report.ErrorCount != 1 {
		t.Errorf("report = %+v, want 2 inserted / 1 skipped / 1 error", report)
	}
	re := report.Errors[0]
	if re.NaturalKey != "S-002" {
		t.Errorf("RowError key = %q, want S-002", re.NaturalKey)
	}
	if !store.active("S-001") || !store.active("S-003") {
		t.Error("rows around the failed one must still apply")
	}
}

func TestSyncSkipsRowWithoutKey(t *testing.T) {
	store := newFakeStore()
	e := testEngine(store)

	report, err := e.Sync(context.Background(), testHeader, [][]string{
		{"", "名無し", "", "", ""},
		{"S-001", "佐藤", "", "", ""},
	})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if report.Skipped != 1 || report.Inserted != 1 {
		t.Errorf("report = %+v, want 1 skipped / 1 inserted", report)
	}
}

func TestSyncDuplicateKeyLastWins(t *testing.T) {
	store := newFakeStore()
	e := testEngine(store)

	report, err := e.Sync(context.Background(), testHeader, [][]string{
		{"S-001", "佐藤", "", "", ""},
		{"S-001", "佐藤（修正）", "", "", ""},
	})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if report.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", report.Inserted)
	}
	if report.WarnCount == 0 {
		t.Error("duplicate key should produce a warning")
	}
	if name := store.fields["S-001"][FieldName]; name.Text == nil || *name.Text != "佐藤(修正)" {
		t.Errorf("name = %+v, want the later row's value", name)
	}
}

func TestSyncSoftDeletesVanishedRecord(t *testing.T) {
	store := newFakeStore()
	old := time.Now().Add(-30 * 24 * time.Hour)
	store.seed("S-OLD", old, nil)
	e := testEngine(store)

	report, err := e.Sync(context.Background(), testHeader, [][]string{
		{"S-001", "佐藤", "", "", ""},
	})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if report.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", report.Deleted)
	}
	if store.active("S-OLD") {
		t.Error("vanished record should be soft-deleted")
	}
	if len(store.audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(store.audits))
	}
	a := store.audits[0]
	if a.NaturalKey != "S-OLD" || a.ID == "" || a.DeletedBy != "record-sync" {
		t.Errorf("audit entry = %+v", a)
	}
}

func TestSyncDefersGuardedRecords(t *testing.T) {
	store := newFakeStore()
	old := time.Now().Add(-30 * 24 * time.Hour)

	exclusive := "専任媒介"
	store.seed("S-EXCL", old, func(r *domain.Record) { r.Status = &exclusive })
	store.seed("S-FRESH", time.Now().Add(-time.Hour), nil)
	future := time.Now().Add(48 * time.Hour)
	store.seed("S-FUT", old, func(r *domain.Record) { r.NextContact = &future })
	store.seed("S-LINKED", old, nil)
	store.links["S-LINKED"] = 2

	e := testEngine(store)
	report, err := e.Sync(context.Background(), testHeader, [][]string{
		{"S-001", "佐藤", "", "", ""},
	})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if report.Deferred != 4 || report.Deleted != 0 {
		t.Errorf("report = %+v, want 4 deferred / 0 deleted", report)
	}
	for _, k := range []string{"S-EXCL", "S-FRESH", "S-FUT", "S-LINKED"} {
		if !store.active(k) {
			t.Errorf("%s must stay active", k)
		}
	}
	if len(store.audits) != 0 {
		t.Error("deferrals must not write audit entries")
	}
}

func TestSyncRestoresReappearedRecord(t *testing.T) {
	store := newFakeStore()
	old := time.Now().Add(-30 * 24 * time.Hour)
	deleted := time.Now().Add(-2 * 24 * time.Hour)
	store.seed("S-BACK", old, func(r *domain.Record) { r.DeletedAt = &deleted })

	e := testEngine(store)
	report, err := e.Sync(context.Background(), testHeader, [][]string{
		{"S-BACK", "戻り客", "", "", ""},
	})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if report.Updated != 1 {
		t.Errorf("Updated = %d, want 1 (restore counts as a change)", report.Updated)
	}
	if !store.active("S-BACK") {
		t.Error("reappearing record must be restored")
	}
}

func TestSyncCancelledContextIsPartial(t *testing.T) {
	store := newFakeStore()
	e := testEngine(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.Sync(ctx, testHeader, [][]string{{"S-001", "", "", "", ""}})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !report.Partial {
		t.Error("cancelled pass must be reported as partial")
	}
}
