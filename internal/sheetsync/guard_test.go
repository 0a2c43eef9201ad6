package sheetsync

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/crm-sync/internal/domain"
)

func TestGuardPredicateOrder(t *testing.T) {
	store := newFakeStore()
	store.links["S-1"] = 1
	g := NewGuard(store, GuardConfig{ActiveStatuses: []string{"exclusive"}})

	now := time.Now()
	status := "exclusive listing"
	future := now.Add(24 * time.Hour)

	// The record trips every predicate at once; the first one in order wins.
	rec := &domain.Record{
		NaturalKey:  "S-1",
		Status:      &status,
		UpdatedAt:   now.Add(-time.Hour),
		NextContact: &future,
	}

	d, err := g.Evaluate(context.Background(), rec, now)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Delete {
		t.Fatal("guarded record must not be deleted")
	}
	if d.Predicate != PredicateActiveEngagement {
		t.Errorf("Predicate = %q, want %q", d.Predicate, PredicateActiveEngagement)
	}
}

func TestGuardRecentActivityWindow(t *testing.T) {
	store := newFakeStore()
	g := NewGuard(store, GuardConfig{RecentWindow: 7 * 24 * time.Hour})
	now := time.Now()

	rec := &domain.Record{NaturalKey: "S-1", UpdatedAt: now.Add(-3 * 24 * time.Hour)}
	d, err := g.Evaluate(context.Background(), rec, now)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Delete || d.Predicate != PredicateRecentActivity {
		t.Errorf("decision = %+v, want recent_activity deferral", d)
	}

	rec.UpdatedAt = now.Add(-8 * 24 * time.Hour)
	d, err = g.Evaluate(context.Background(), rec, now)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !d.Delete {
		t.Errorf("decision = %+v, want delete once outside the window", d)
	}
}

func TestGuardPastDatesDoNotBlock(t *testing.T) {
	store := newFakeStore()
	g := NewGuard(store, GuardConfig{})
	now := time.Now()
	past := now.Add(-24 * time.Hour)

	rec := &domain.Record{
		NaturalKey:  "S-1",
		UpdatedAt:   now.Add(-30 * 24 * time.Hour),
		NextContact: &past,
		VisitDate:   &past,
	}
	d, err := g.Evaluate(context.Background(), rec, now)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !d.Delete {
		t.Errorf("decision = %+v, past dates must not defer deletion", d)
	}
}

func TestGuardDefaults(t *testing.T) {
	g := NewGuard(newFakeStore(), GuardConfig{})
	if g.cfg.RecentWindow != 7*24*time.Hour {
		t.Errorf("RecentWindow default = %v", g.cfg.RecentWindow)
	}
	if g.cfg.DeletedBy != "record-sync" {
		t.Errorf("DeletedBy default = %q", g.cfg.DeletedBy)
	}
}
