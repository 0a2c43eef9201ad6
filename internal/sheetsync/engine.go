package sheetsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/crm-sync/internal/domain"
	"github.com/ignite/crm-sync/internal/pkg/logger"
)

// UpsertOutcome reports what a store upsert actually did. Unchanged rows
// carry no updated_at churn, which is what makes re-running a pass with an
// unchanged sheet a no-op on the store.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota
	OutcomeUpdated
	OutcomeUnchanged
)

// Store is the contract the engine requires from the record store.
// The store guarantees natural-key uniqueness; everything here is keyed
// by it.
type Store interface {
	// Upsert inserts or partially updates one record. Fields absent from
	// the map are left untouched; present-with-null fields are nulled.
	// updated_at is only stamped when something actually changed.
	Upsert(ctx context.Context, key string, fields map[CanonicalField]Value, now time.Time) (UpsertOutcome, error)
	// FindActiveMissingFrom returns active records whose natural key is
	// not in keys, the deletion candidates of a pass.
	FindActiveMissingFrom(ctx context.Context, keys []string) ([]domain.Record, error)
	// MarkDeleted soft-deletes an active record. Returns false when the
	// record was already deleted (no transition, no audit entry).
	MarkDeleted(ctx context.Context, key string, now time.Time) (bool, error)
	AppendAudit(ctx context.Context, e domain.DeletionAuditEntry) error
	// CountActiveLinks counts active records whose linked_no references key.
	CountActiveLinks(ctx context.Context, key string) (int, error)
}

// Config holds engine tuning. Workers bounds the per-row upsert
// parallelism; rows are independent by natural key.
type Config struct {
	Workers  int
	Location *time.Location
	Guard    GuardConfig
}

// Engine runs one full sync pass: normalize every source row, reconcile it
// against the store, then evaluate deletion candidates. A pass is
// row-isolated: one row's failure never prevents the others from applying.
type Engine struct {
	store Store
	norm  *Normalizer
	guard *Guard
	cfg   Config
}

func NewEngine(store Store, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{
		store: store,
		norm:  NewNormalizer(cfg.Location),
		guard: NewGuard(store, cfg.Guard),
		cfg:   cfg,
	}
}

// Sync applies one pulled sheet snapshot to the store.
// It returns a non-nil report even on early abort so callers can surface
// whatever was committed before the halt.
func (e *Engine) Sync(ctx context.Context, header []string, rawRows [][]string) (*SyncReport, error) {
	start := time.Now().In(e.cfg.Location)
	report := &SyncReport{StartedAt: start}
	defer func() { report.Duration = time.Since(start) }()

	mapping, err := MapColumns(header)
	if err != nil {
		// Required column missing: abort before any writes.
		return report, err
	}
	for _, h := range mapping.Unmapped {
		logger.Warn("unmapped source column dropped", "column", h)
	}

	rows := e.normalizeAll(rawRows, mapping, start.Year(), report)
	report.RowsTotal = len(rawRows)

	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.NaturalKey)
	}

	if err := e.applyRows(ctx, rows, start, report); err != nil {
		report.Partial = true
		return report, err
	}

	// The deletion-candidate scan must observe the store only after every
	// upsert of this pass has committed, so a just-inserted row is never
	// treated as a candidate.
	if err := e.evaluateDeletions(ctx, keys, start, report); err != nil {
		report.Partial = true
		return report, err
	}

	return report, nil
}

// normalizeAll turns raw rows into SourceRows, skipping rows whose natural
// key cannot be normalized and deduplicating repeated keys (last edit
// wins) so the parallel upsert stage only ever sees independent keys.
func (e *Engine) normalizeAll(rawRows [][]string, mapping *ColumnMapping, refYear int, report *SyncReport) []*SourceRow {
	byKey := make(map[string]int)
	var rows []*SourceRow

	for i, raw := range rawRows {
		row, warnings := e.norm.NormalizeRow(raw, mapping, i, refYear)
		report.addWarnings(warnings)

		if row.NaturalKey == "" {
			report.addError(&RowError{RowIndex: i, Err: fmt.Errorf("row has no usable natural key")})
			report.Skipped++
			logger.Warn("row skipped: unusable natural key", "row", i)
			continue
		}

		if prev, dup := byKey[row.NaturalKey]; dup {
			report.addWarnings([]FieldWarning{{
				NaturalKey: row.NaturalKey,
				Field:      FieldRecordNo,
				Message:    fmt.Sprintf("duplicate key, row %d shadowed by row %d", rows[prev].RowIndex, i),
			}})
			rows[prev] = row
			continue
		}
		byKey[row.NaturalKey] = len(rows)
		rows = append(rows, row)
	}
	return rows
}

// applyRows upserts rows through a bounded worker pool. Cancellation is
// checked at row boundaries; rows already applied stay applied.
func (e *Engine) applyRows(ctx context.Context, rows []*SourceRow, now time.Time, report *SyncReport) error {
	jobs := make(chan *SourceRow)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				outcome, err := e.store.Upsert(ctx, row.NaturalKey, row.Fields, now)
				mu.Lock()
				if err != nil {
					report.addError(&RowError{RowIndex: row.RowIndex, NaturalKey: row.NaturalKey, Err: err})
					report.Skipped++
					logger.Error("row upsert failed", "key", row.NaturalKey, "error", err)
				} else {
					switch outcome {
					case OutcomeInserted:
						report.Inserted++
					case OutcomeUpdated:
						report.Updated++
					default:
						report.Unchanged++
					}
				}
				mu.Unlock()
			}
		}()
	}

	var aborted error
feed:
	for _, row := range rows {
		// Cancellation takes priority over a ready worker.
		if ctx.Err() != nil {
			aborted = ctx.Err()
			break feed
		}
		select {
		case <-ctx.Done():
			aborted = ctx.Err()
			break feed
		case jobs <- row:
		}
	}
	close(jobs)
	wg.Wait()
	return aborted
}

// evaluateDeletions runs the deletion guard over every active record the
// pass did not see. Deferrals are informational; only a clean verdict
// soft-deletes and writes an audit entry.
func (e *Engine) evaluateDeletions(ctx context.Context, keys []string, now time.Time, report *SyncReport) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	candidates, err := e.store.FindActiveMissingFrom(ctx, keys)
	if err != nil {
		return fmt.Errorf("scan deletion candidates: %w", err)
	}

	for i := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec := &candidates[i]

		decision, err := e.guard.Evaluate(ctx, rec, now)
		if err != nil {
			report.addError(&RowError{NaturalKey: rec.NaturalKey, Err: err})
			continue
		}

		if !decision.Delete {
			report.Deferred++
			logger.Info("deletion deferred",
				"key", rec.NaturalKey,
				"predicate", decision.Predicate,
				"reason", decision.Reason)
			continue
		}

		transitioned, err := e.store.MarkDeleted(ctx, rec.NaturalKey, now)
		if err != nil {
			report.addError(&RowError{NaturalKey: rec.NaturalKey, Err: err})
			continue
		}
		if !transitioned {
			continue // already deleted by a racing edit, no duplicate audit
		}

		entry := domain.DeletionAuditEntry{
			ID:         uuid.New().String(),
			NaturalKey: rec.NaturalKey,
			DeletedAt:  now,
			DeletedBy:  e.guard.cfg.DeletedBy,
			Reason:     decision.Reason,
		}
		if err := e.store.AppendAudit(ctx, entry); err != nil {
			report.addError(&RowError{NaturalKey: rec.NaturalKey, Err: fmt.Errorf("append audit: %w", err)})
			continue
		}
		report.Deleted++
		logger.Info("record soft-deleted", "key", rec.NaturalKey, "reason", decision.Reason)
	}
	return nil
}
