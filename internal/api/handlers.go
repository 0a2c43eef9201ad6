package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/crm-sync/internal/cache"
	"github.com/ignite/crm-sync/internal/classify"
	"github.com/ignite/crm-sync/internal/domain"
	"github.com/ignite/crm-sync/internal/pkg/logger"
	"github.com/ignite/crm-sync/internal/repository/postgres"
	"github.com/ignite/crm-sync/internal/worker"
)

const dateLayout = "2006-01-02"

// Handlers holds all HTTP handlers. The counts and list endpoints both go
// through the classifier's single predicate; the API layer never re-derives
// category logic.
type Handlers struct {
	db         *sql.DB
	repo       *postgres.RecordRepo
	classifier *classify.Classifier
	counts     *cache.CountsCache
	syncWorker *worker.SyncWorker
	loc        *time.Location
}

func NewHandlers(db *sql.DB, repo *postgres.RecordRepo, classifier *classify.Classifier, counts *cache.CountsCache, syncWorker *worker.SyncWorker, loc *time.Location) *Handlers {
	if loc == nil {
		loc = time.UTC
	}
	return &Handlers{
		db:         db,
		repo:       repo,
		classifier: classifier,
		counts:     counts,
		syncWorker: syncWorker,
		loc:        loc,
	}
}

// HandleCounts returns per-category, per-assignee counts over the active
// record set. Sync failures never surface here: whatever state the store
// last committed is what gets counted.
func (h *Handlers) HandleCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if cached, ok := h.counts.Get(ctx); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	counts, err := h.computeCounts(ctx)
	if err != nil {
		logger.Error("counts query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "counts unavailable")
		return
	}
	h.counts.Set(ctx, counts)
	respondJSON(w, http.StatusOK, counts)
}

func (h *Handlers) computeCounts(ctx context.Context) (*classify.Counts, error) {
	records, err := h.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return h.classifier.Aggregate(records, classify.Today(h.loc)), nil
}

// HandleRecords returns one page of active records filtered by category and
// assignee, classified with the identical predicate the counts endpoint uses.
func (h *Handlers) HandleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := classify.ListFilter{
		Assignee: q.Get("assignee"),
		Page:     intParam(q.Get("page"), 1),
		PerPage:  intParam(q.Get("per_page"), 50),
	}
	if filter.PerPage > 200 {
		filter.PerPage = 200
	}
	if cat := q.Get("category"); cat != "" {
		if !classify.Valid(cat) {
			respondError(w, http.StatusBadRequest, "unknown category "+cat)
			return
		}
		filter.Category = classify.Category(cat)
	}

	records, err := h.repo.ListActive(r.Context())
	if err != nil {
		logger.Error("records query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "records unavailable")
		return
	}

	today := classify.Today(h.loc)
	page, total := h.classifier.List(records, filter, today)

	out := make([]recordJSON, 0, len(page))
	for i := range page {
		out = append(out, toRecordJSON(&page[i], h.classifier, today))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"records":  out,
		"total":    total,
		"page":     filter.Page,
		"per_page": filter.PerPage,
	})
}

// HandleSyncTrigger kicks off a manual sync pass.
func (h *Handlers) HandleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if h.syncWorker == nil {
		respondError(w, http.StatusServiceUnavailable, "sync worker not initialized")
		return
	}
	if !h.syncWorker.ManualTrigger(context.WithoutCancel(r.Context())) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "already_running"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

// HandleSyncStatus reports the worker's run state and last report.
func (h *Handlers) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.syncWorker == nil {
		respondJSON(w, http.StatusOK, map[string]bool{"initialized": false})
		return
	}
	respondJSON(w, http.StatusOK, h.syncWorker.Status())
}

// HandleRecover reverses a soft deletion for one record. Operator-facing;
// the sync engine restores reappearing records on its own but never through
// this path.
func (h *Handlers) HandleRecover(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing record key")
		return
	}

	err := h.repo.Recover(r.Context(), key, time.Now().In(h.loc))
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no soft-deleted record with key "+key)
		return
	}
	if err != nil {
		logger.Error("record recovery failed", "key", key, "error", err)
		respondError(w, http.StatusInternalServerError, "recovery failed")
		return
	}

	h.counts.Invalidate(r.Context())
	logger.Info("record recovered", "key", key)
	respondJSON(w, http.StatusOK, map[string]string{"status": "recovered", "key": key})
}

// HealthCheck reports store reachability and sync freshness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.db.PingContext(r.Context()); err != nil {
		status = "degraded"
	}

	resp := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
	}
	if h.syncWorker != nil {
		ws := h.syncWorker.Status()
		resp["sync_running"] = ws.Running
		if ws.LastRunAt != nil {
			resp["last_sync_at"] = ws.LastRunAt
			if time.Since(*ws.LastRunAt) > 30*time.Minute {
				resp["status"] = "degraded"
			}
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// recordJSON is the wire shape of one record: civil dates as YYYY-MM-DD and
// the derived category included so list consumers never compute their own.
type recordJSON struct {
	NaturalKey    string  `json:"natural_key"`
	Kind          string  `json:"kind"`
	Name          *string `json:"name"`
	Status        *string `json:"status"`
	VisitAssignee *string `json:"visit_assignee"`
	StaffAssignee *string `json:"staff_assignee"`
	VisitDate     *string `json:"visit_date"`
	NextContact   *string `json:"next_contact_date"`
	InquiryDate   *string `json:"inquiry_date"`
	ContactTime   *string `json:"contact_time"`
	ContactMethod *string `json:"contact_method"`
	PhoneContact  *string `json:"phone_contact"`
	Price         *int64  `json:"price"`
	LinkedKey     *string `json:"linked_key"`
	Category      string  `json:"category"`
	UpdatedAt     string  `json:"updated_at"`
}

func toRecordJSON(rec *domain.Record, c *classify.Classifier, today time.Time) recordJSON {
	return recordJSON{
		NaturalKey:    rec.NaturalKey,
		Kind:          string(rec.Kind),
		Name:          rec.Name,
		Status:        rec.Status,
		VisitAssignee: rec.VisitAssignee,
		StaffAssignee: rec.StaffAssignee,
		VisitDate:     civilString(rec.VisitDate),
		NextContact:   civilString(rec.NextContact),
		InquiryDate:   civilString(rec.InquiryDate),
		ContactTime:   rec.ContactTime,
		ContactMethod: rec.ContactMethod,
		PhoneContact:  rec.PhoneContact,
		Price:         rec.Price,
		LinkedKey:     rec.LinkedKey,
		Category:      string(c.Classify(rec, today)),
		UpdatedAt:     rec.UpdatedAt.Format(time.RFC3339),
	}
}

func civilString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
