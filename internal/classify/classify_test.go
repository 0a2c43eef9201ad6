package classify

import (
	"testing"
	"time"

	"github.com/ignite/crm-sync/internal/domain"
)

var today = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func strptr(s string) *string       { return &s }
func dayptr(t time.Time) *time.Time { return &t }

func testClassifier() *Classifier {
	return New(Config{
		FollowUpMarkers:  []string{"追客中", "following"},
		RemovedSentinels: []string{"削除", "removed"},
	})
}

func TestClassify(t *testing.T) {
	c := testClassifier()
	tomorrow := today.AddDate(0, 0, 1)
	yesterday := today.AddDate(0, 0, -1)

	tests := []struct {
		name string
		rec  domain.Record
		want Category
	}{
		{
			"visit tomorrow is scheduled",
			domain.Record{VisitAssignee: strptr("田中"), VisitDate: dayptr(tomorrow)},
			CategoryVisitScheduled,
		},
		{
			"visit today is scheduled",
			domain.Record{VisitAssignee: strptr("田中"), VisitDate: dayptr(today)},
			CategoryVisitScheduled,
		},
		{
			"visit yesterday is completed",
			domain.Record{VisitAssignee: strptr("田中"), VisitDate: dayptr(yesterday)},
			CategoryVisitCompleted,
		},
		{
			"assignee without date is not a visit",
			domain.Record{VisitAssignee: strptr("田中")},
			CategoryNone,
		},
		{
			"removed sentinel cancels the visit",
			domain.Record{VisitAssignee: strptr("削除"), VisitDate: dayptr(tomorrow)},
			CategoryNone,
		},
		{
			"due call with staff assignee",
			domain.Record{Status: strptr("追客中"), NextContact: dayptr(today), StaffAssignee: strptr("鈴木")},
			CategoryCallAssigned,
		},
		{
			"overdue call with contact details only",
			domain.Record{Status: strptr("追客中"), NextContact: dayptr(yesterday), ContactTime: strptr("午前中")},
			CategoryCallWithContact,
		},
		{
			"due call with phone contact only",
			domain.Record{Status: strptr("追客中"), NextContact: dayptr(today), PhoneContact: strptr("本人")},
			CategoryCallWithContact,
		},
		{
			"due call with nothing to go on",
			domain.Record{Status: strptr("追客中"), NextContact: dayptr(today)},
			CategoryCallNoContact,
		},
		{
			"future call date is not yet due",
			domain.Record{Status: strptr("追客中"), NextContact: dayptr(tomorrow)},
			CategoryNone,
		},
		{
			"non follow-up status never queues a call",
			domain.Record{Status: strptr("成約"), NextContact: dayptr(yesterday), StaffAssignee: strptr("鈴木")},
			CategoryNone,
		},
		{
			"empty record",
			domain.Record{},
			CategoryNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(&tt.rec, today); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

// A record with both a pending visit and a due call must land in the visit
// category only: predicates are evaluated in priority order and exactly one
// category ever applies.
func TestClassifyExactlyOneCategory(t *testing.T) {
	c := testClassifier()
	rec := domain.Record{
		VisitAssignee: strptr("田中"),
		VisitDate:     dayptr(today.AddDate(0, 0, 2)),
		Status:        strptr("追客中"),
		NextContact:   dayptr(today),
		StaffAssignee: strptr("鈴木"),
	}
	if got := c.Classify(&rec, today); got != CategoryVisitScheduled {
		t.Errorf("Classify() = %s, want %s", got, CategoryVisitScheduled)
	}
}

func TestGroupKey(t *testing.T) {
	c := testClassifier()

	visit := domain.Record{VisitAssignee: strptr(" 田中 "), StaffAssignee: strptr("鈴木")}
	if got := c.GroupKey(&visit, CategoryVisitScheduled); got != "田中" {
		t.Errorf("visit GroupKey = %q, want 田中", got)
	}
	if got := c.GroupKey(&visit, CategoryCallAssigned); got != "鈴木" {
		t.Errorf("call GroupKey = %q, want 鈴木", got)
	}
	if got := c.GroupKey(&visit, CategoryCallNoContact); got != "" {
		t.Errorf("no-contact GroupKey = %q, want empty", got)
	}
}

func TestValid(t *testing.T) {
	for _, cat := range Categories {
		if !Valid(string(cat)) {
			t.Errorf("Valid(%s) = false", cat)
		}
	}
	if Valid("bogus") {
		t.Error("Valid(bogus) = true")
	}
}

func TestToday(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatal(err)
	}
	got := Today(loc)
	if got.Hour() != 0 || got.Minute() != 0 || got.Second() != 0 {
		t.Errorf("Today() = %v, want midnight", got)
	}
	if got.Location() != loc {
		t.Errorf("Today() location = %v", got.Location())
	}
}
