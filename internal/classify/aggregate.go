package classify

import (
	"time"

	"github.com/ignite/crm-sync/internal/domain"
)

// CategoryCount is one category's slice of the dashboard: total records
// plus a per-assignee breakdown for assignee-bearing categories.
type CategoryCount struct {
	Total      int            `json:"total"`
	ByAssignee map[string]int `json:"by_assignee,omitempty"`
}

// Counts is the aggregate output for one classification run.
type Counts struct {
	Today      time.Time                   `json:"today"`
	Total      int                         `json:"total"`
	Categories map[Category]*CategoryCount `json:"categories"`
}

// Count returns the number of records in a category, optionally narrowed
// to one assignee.
func (c *Counts) Count(cat Category, assignee string) int {
	cc, ok := c.Categories[cat]
	if !ok {
		return 0
	}
	if assignee == "" {
		return cc.Total
	}
	return cc.ByAssignee[assignee]
}

// ListFilter narrows List output. Page is 1-based.
type ListFilter struct {
	Category Category
	Assignee string
	Page     int
	PerPage  int
}

// Aggregate classifies every active record once and buckets the results.
// It calls the same Classify the list path uses, so counts and lists
// cannot diverge.
func (c *Classifier) Aggregate(records []domain.Record, today time.Time) *Counts {
	out := &Counts{
		Today:      today,
		Categories: make(map[Category]*CategoryCount, len(Categories)),
	}
	for _, cat := range Categories {
		out.Categories[cat] = &CategoryCount{ByAssignee: make(map[string]int)}
	}

	for i := range records {
		rec := &records[i]
		if !rec.Active() {
			continue
		}
		cat := c.Classify(rec, today)
		cc := out.Categories[cat]
		cc.Total++
		out.Total++
		if key := c.GroupKey(rec, cat); key != "" {
			cc.ByAssignee[key]++
		}
	}
	return out
}

// List returns the page of active records matching the filter plus the
// total match count before pagination. The category predicate is the
// identical Classify call used by Aggregate.
func (c *Classifier) List(records []domain.Record, f ListFilter, today time.Time) ([]domain.Record, int) {
	var matched []domain.Record
	for i := range records {
		rec := &records[i]
		if !rec.Active() {
			continue
		}
		cat := c.Classify(rec, today)
		if f.Category != "" && cat != f.Category {
			continue
		}
		if f.Assignee != "" && c.GroupKey(rec, cat) != f.Assignee {
			continue
		}
		matched = append(matched, *rec)
	}

	total := len(matched)
	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= total {
		return []domain.Record{}, total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total
}
