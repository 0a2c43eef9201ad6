// Package classify derives a record's lifecycle category from its current
// field values and a fixed "today". The same predicate feeds both the
// dashboard counts and the filtered list views; the two paths must never
// re-derive it independently.
package classify

import (
	"strings"
	"time"

	"github.com/ignite/crm-sync/internal/domain"
)

// Category is a derived, non-persisted lifecycle label. Exactly one
// applies to every active record.
type Category string

const (
	CategoryVisitScheduled  Category = "visit_scheduled"
	CategoryVisitCompleted  Category = "visit_completed"
	CategoryCallAssigned    Category = "call_assigned"
	CategoryCallWithContact Category = "call_with_contact"
	CategoryCallNoContact   Category = "call_no_contact"
	CategoryNone            Category = "none"
)

// Categories lists every category in evaluation order.
var Categories = []Category{
	CategoryVisitScheduled,
	CategoryVisitCompleted,
	CategoryCallAssigned,
	CategoryCallWithContact,
	CategoryCallNoContact,
	CategoryNone,
}

// Valid reports whether s names a known category.
func Valid(s string) bool {
	for _, c := range Categories {
		if string(c) == s {
			return true
		}
	}
	return false
}

// Config carries the business policy inputs. The follow-up markers and
// removed-assignee sentinels are policy data, not structural logic.
type Config struct {
	// FollowUpMarkers are substrings of the status text that indicate the
	// record is in active follow-up and belongs in a call queue.
	FollowUpMarkers []string
	// RemovedSentinels are visit-assignee values that mean "no visit":
	// staff mark a cancelled visit in the sheet instead of clearing the cell.
	RemovedSentinels []string
}

// Classifier evaluates the lifecycle predicates. It is stateless and safe
// for concurrent use and reads no clocks: "today" is always passed in so
// an entire aggregation run shares one snapshot of it.
type Classifier struct {
	cfg Config
}

func New(cfg Config) *Classifier {
	if len(cfg.FollowUpMarkers) == 0 {
		cfg.FollowUpMarkers = []string{"following"}
	}
	if len(cfg.RemovedSentinels) == 0 {
		cfg.RemovedSentinels = []string{"removed"}
	}
	return &Classifier{cfg: cfg}
}

// Today returns midnight of the current day in the reference timezone.
// Callers compute it once per run and reuse it for every record.
func Today(loc *time.Location) time.Time {
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

// Classify maps one record to exactly one category. First match wins; the
// ordering encodes priority because several predicates can hold at once.
func (c *Classifier) Classify(rec *domain.Record, today time.Time) Category {
	if c.visitAssigned(rec) && rec.VisitDate != nil {
		if !rec.VisitDate.Before(today) {
			return CategoryVisitScheduled
		}
		return CategoryVisitCompleted
	}

	if !c.visitAssigned(rec) && c.followUp(rec) && dueBy(rec.NextContact, today) {
		if present(rec.StaffAssignee) {
			return CategoryCallAssigned
		}
		if present(rec.ContactTime) || present(rec.ContactMethod) || present(rec.PhoneContact) {
			return CategoryCallWithContact
		}
		return CategoryCallNoContact
	}

	return CategoryNone
}

// GroupKey returns the assignee initials a record is grouped under for the
// given category: the visit assignee for visit categories, the staff
// assignee for assigned calls, empty otherwise.
func (c *Classifier) GroupKey(rec *domain.Record, cat Category) string {
	switch cat {
	case CategoryVisitScheduled, CategoryVisitCompleted:
		if rec.VisitAssignee != nil {
			return strings.TrimSpace(*rec.VisitAssignee)
		}
	case CategoryCallAssigned:
		if rec.StaffAssignee != nil {
			return strings.TrimSpace(*rec.StaffAssignee)
		}
	}
	return ""
}

// visitAssigned reports whether the visit-assignee field holds a real
// person: non-empty and not one of the removed sentinels.
func (c *Classifier) visitAssigned(rec *domain.Record) bool {
	if rec.VisitAssignee == nil {
		return false
	}
	v := strings.TrimSpace(*rec.VisitAssignee)
	if v == "" {
		return false
	}
	for _, s := range c.cfg.RemovedSentinels {
		if strings.EqualFold(v, s) {
			return false
		}
	}
	return true
}

func (c *Classifier) followUp(rec *domain.Record) bool {
	if rec.Status == nil {
		return false
	}
	for _, m := range c.cfg.FollowUpMarkers {
		if strings.Contains(*rec.Status, m) {
			return true
		}
	}
	return false
}

func dueBy(d *time.Time, today time.Time) bool {
	return d != nil && !d.After(today)
}

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
