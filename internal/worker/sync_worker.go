package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/crm-sync/internal/cache"
	"github.com/ignite/crm-sync/internal/pkg/distlock"
	"github.com/ignite/crm-sync/internal/pkg/logger"
	"github.com/ignite/crm-sync/internal/sheets"
	"github.com/ignite/crm-sync/internal/sheetsync"
)

// Fetcher pulls the external table. Satisfied by *sheets.Client.
type Fetcher interface {
	FetchRows(ctx context.Context, sheetID, rangeSpec string) ([]string, [][]string, error)
}

// Config tunes the sync schedule and the quota-retry policy.
type Config struct {
	SheetID     string
	RangeSpec   string
	Interval    time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// SyncWorker drives the sync engine on a fixed interval. Overlapping
// passes are prevented twice over: an in-process guard skips a tick while
// the previous pass runs, and a distributed lock keeps a second host from
// running a pass concurrently. A skipped tick is dropped, never queued.
type SyncWorker struct {
	fetcher Fetcher
	engine  *sheetsync.Engine
	lock    distlock.DistLock
	counts  *cache.CountsCache
	cfg     Config

	running int32

	mu         sync.RWMutex
	lastRunAt  time.Time
	lastReport *sheetsync.SyncReport
	lastErr    error
}

func NewSyncWorker(fetcher Fetcher, engine *sheetsync.Engine, lock distlock.DistLock, counts *cache.CountsCache, cfg Config) *SyncWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	return &SyncWorker{fetcher: fetcher, engine: engine, lock: lock, counts: counts, cfg: cfg}
}

// Start runs the ticker loop until ctx is cancelled. One pass runs
// immediately on startup.
func (w *SyncWorker) Start(ctx context.Context) {
	logger.Info("sync worker starting",
		"interval", w.cfg.Interval, "sheet", w.cfg.SheetID, "range", w.cfg.RangeSpec)

	w.runOnce(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("sync worker stopping")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// ManualTrigger starts one pass immediately. Returns false while a pass
// is already running.
func (w *SyncWorker) ManualTrigger(ctx context.Context) bool {
	if atomic.LoadInt32(&w.running) == 1 {
		return false
	}
	go w.runOnce(ctx)
	return true
}

// IsRunning reports whether a pass is in flight in this process.
func (w *SyncWorker) IsRunning() bool { return atomic.LoadInt32(&w.running) == 1 }

// Status is the worker state exposed on the sync status endpoint.
type Status struct {
	Running    bool                  `json:"running"`
	LastRunAt  *time.Time            `json:"last_run_at,omitempty"`
	LastError  string                `json:"last_error,omitempty"`
	LastReport *sheetsync.SyncReport `json:"last_report,omitempty"`
}

func (w *SyncWorker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := Status{
		Running:    w.IsRunning(),
		LastReport: w.lastReport,
	}
	if !w.lastRunAt.IsZero() {
		t := w.lastRunAt
		s.LastRunAt = &t
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

func (w *SyncWorker) runOnce(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		logger.Debug("sync tick skipped, pass still running")
		return
	}
	defer atomic.StoreInt32(&w.running, 0)

	if w.lock != nil {
		held, err := w.lock.Acquire(ctx)
		if err != nil {
			w.finish(nil, err)
			logger.Error("sync lock acquire failed", "error", err)
			return
		}
		if !held {
			logger.Debug("sync tick skipped, another host holds the lock")
			return
		}
		defer w.lock.Release(ctx)
	}

	report, err := w.pass(ctx)
	w.finish(report, err)

	if report != nil {
		logger.Info("sync pass finished",
			"rows", report.RowsTotal,
			"inserted", report.Inserted,
			"updated", report.Updated,
			"unchanged", report.Unchanged,
			"skipped", report.Skipped,
			"deleted", report.Deleted,
			"deferred", report.Deferred,
			"errors", report.ErrorCount,
			"partial", report.Partial,
			"duration", report.Duration.Round(time.Millisecond))
	}
	if err != nil {
		logger.Error("sync pass failed", "error", err)
		return
	}

	// New store state: dashboards should not wait out the counts TTL.
	if w.counts != nil {
		w.counts.Invalidate(ctx)
	}
}

// pass fetches the source with bounded quota retries, then hands the
// snapshot to the engine.
func (w *SyncWorker) pass(ctx context.Context) (*sheetsync.SyncReport, error) {
	headers, rows, err := w.fetchWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	return w.engine.Sync(ctx, headers, rows)
}

// fetchWithRetry retries the source pull on quota errors with exponential
// backoff. On exhaustion the error propagates and the pass is reported
// failed; rows applied by earlier passes are untouched.
func (w *SyncWorker) fetchWithRetry(ctx context.Context) ([]string, [][]string, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		headers, rows, err := w.fetcher.FetchRows(ctx, w.cfg.SheetID, w.cfg.RangeSpec)
		if err == nil {
			return headers, rows, nil
		}

		var qe *sheets.QuotaError
		if !errors.As(err, &qe) {
			return nil, nil, err
		}
		lastErr = err
		if attempt == w.cfg.MaxAttempts {
			break
		}

		delay := w.cfg.BackoffBase << (attempt - 1)
		if qe.RetryAfter > 0 {
			delay = qe.RetryAfter
		}
		logger.Warn("source quota hit, backing off",
			"attempt", attempt, "max_attempts", w.cfg.MaxAttempts, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, nil, lastErr
}

func (w *SyncWorker) finish(report *sheetsync.SyncReport, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastRunAt = time.Now()
	w.lastReport = report
	w.lastErr = err
}
