package sheetsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/crm-sync/internal/domain"
)

// Blocking predicate names, logged verbatim so operators can see exactly
// why a disappeared record was kept alive.
const (
	PredicateActiveEngagement = "active_engagement"
	PredicateRecentActivity   = "recent_activity"
	PredicateFutureContact    = "future_contact"
	PredicateActiveLinks      = "active_links"
)

// Decision is the guard's verdict for one deletion candidate.
// Defer is informational, not an error: the record stays active and the
// blocking predicate is logged, with no audit entry written.
type Decision struct {
	Delete    bool
	Predicate string
	Reason    string
}

// GuardConfig carries the business policy knobs. The active-engagement
// status set and the recent-activity window are configuration data, not
// structural logic.
type GuardConfig struct {
	// ActiveStatuses are status values that indicate an exclusive or
	// ongoing engagement; such records are never soft-deleted.
	ActiveStatuses []string
	// RecentWindow protects records edited by a human within the window:
	// they are presumed mid-update in the source, not truly removed.
	RecentWindow time.Duration
	// DeletedBy is the system actor id stamped on audit entries.
	DeletedBy string
}

// Guard evaluates safety predicates before a record absent from the latest
// pull may be soft-deleted.
type Guard struct {
	store Store
	cfg   GuardConfig
}

func NewGuard(store Store, cfg GuardConfig) *Guard {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 7 * 24 * time.Hour
	}
	if cfg.DeletedBy == "" {
		cfg.DeletedBy = "record-sync"
	}
	return &Guard{store: store, cfg: cfg}
}

// Evaluate runs the blocking predicates in order. Any hit defers the
// deletion; only a record with no blockers may be soft-deleted.
func (g *Guard) Evaluate(ctx context.Context, rec *domain.Record, now time.Time) (Decision, error) {
	if rec.Status != nil {
		for _, s := range g.cfg.ActiveStatuses {
			if strings.Contains(*rec.Status, s) {
				return Decision{
					Predicate: PredicateActiveEngagement,
					Reason:    fmt.Sprintf("status %q indicates an ongoing engagement", *rec.Status),
				}, nil
			}
		}
	}

	if now.Sub(rec.UpdatedAt) < g.cfg.RecentWindow {
		return Decision{
			Predicate: PredicateRecentActivity,
			Reason:    fmt.Sprintf("updated %s ago, within the %s activity window", now.Sub(rec.UpdatedAt).Round(time.Minute), g.cfg.RecentWindow),
		}, nil
	}

	if futureDate(rec.NextContact, now) || futureDate(rec.VisitDate, now) {
		return Decision{
			Predicate: PredicateFutureContact,
			Reason:    "a scheduled contact or visit date is still in the future",
		}, nil
	}

	links, err := g.store.CountActiveLinks(ctx, rec.NaturalKey)
	if err != nil {
		return Decision{}, fmt.Errorf("count active links for %s: %w", rec.NaturalKey, err)
	}
	if links > 0 {
		return Decision{
			Predicate: PredicateActiveLinks,
			Reason:    fmt.Sprintf("%d active record(s) still reference it", links),
		}, nil
	}

	return Decision{Delete: true, Reason: "absent from source, no blockers"}, nil
}

func futureDate(d *time.Time, now time.Time) bool {
	return d != nil && d.After(now)
}
