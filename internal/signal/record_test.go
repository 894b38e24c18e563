package signal

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveIsIdempotent(t *testing.T) {
	rec := NewRecord("BTCUSDT", "1h", time.Now())

	if rec.Resolved() {
		t.Error("New record should be pending")
	}
	if !rec.Resolve(OutcomeWin, 2.5, time.Now()) {
		t.Fatal("First resolve should succeed")
	}
	if rec.Resolve(OutcomeLoss, -1.0, time.Now()) {
		t.Error("Second resolve should be ignored")
	}
	if rec.Outcome != OutcomeWin || rec.RealizedReturn != 2.5 {
		t.Errorf("Outcome overwritten: %s %f", rec.Outcome, rec.RealizedReturn)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := NewRecord("ETHUSDT", "4h", time.Now())
	rec.Score = 72.0
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Score != 72.0 {
		t.Errorf("Expected score 72, got %f", got.Score)
	}

	// Mutating the returned copy must not touch the stored record
	got.Score = 0
	again, _ := store.Get(ctx, rec.ID)
	if again.Score != 72.0 {
		t.Error("Store returned a shared pointer instead of a copy")
	}
}

func TestMemoryStoreUnknownID(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("Expected not found error")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Expected NotFoundError, got %T", err)
	}
}

func TestListResolvedFiltersAndOrders(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := NewRecord("BTCUSDT", "1h", base.Add(time.Duration(i)*time.Hour))
		rec.Score = float64(60 + i)
		if i < 3 {
			rec.Resolve(OutcomeWin, 1.0, base.Add(time.Duration(i+1)*time.Hour))
		}
		store.Save(ctx, rec)
	}
	other := NewRecord("ETHUSDT", "1h", base)
	other.Resolve(OutcomeLoss, -1.0, base)
	store.Save(ctx, other)

	resolved, err := store.ListResolved(ctx, "BTCUSDT", "1h", 0)
	if err != nil {
		t.Fatalf("ListResolved failed: %v", err)
	}
	if len(resolved) != 3 {
		t.Fatalf("Expected 3 resolved records, got %d", len(resolved))
	}
	for i := 1; i < len(resolved); i++ {
		if resolved[i].Timestamp.Before(resolved[i-1].Timestamp) {
			t.Error("Resolved records should be oldest first")
		}
	}
}

func TestPruneDropsOldResolved(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	old := NewRecord("BTCUSDT", "1h", base)
	old.Resolve(OutcomeWin, 1.0, base)
	store.Save(ctx, old)

	pendingOld := NewRecord("BTCUSDT", "1h", base)
	store.Save(ctx, pendingOld)

	fresh := NewRecord("BTCUSDT", "1h", base.Add(48*time.Hour))
	fresh.Resolve(OutcomeLoss, -1.0, base.Add(48*time.Hour))
	store.Save(ctx, fresh)

	removed := store.Prune(base.Add(24 * time.Hour))
	if removed != 1 {
		t.Errorf("Expected 1 pruned record, got %d", removed)
	}
	if _, err := store.Get(ctx, pendingOld.ID); err != nil {
		t.Error("Pending records must survive pruning")
	}
	if _, err := store.Get(ctx, fresh.ID); err != nil {
		t.Error("Recent records must survive pruning")
	}
}
