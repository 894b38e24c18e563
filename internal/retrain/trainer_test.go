package retrain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-structure-engine/internal/scoring"
	"market-structure-engine/internal/signal"
)

func seedRecords(t *testing.T, store signal.Store, factors []scoring.Factors, outcomes []signal.Outcome) {
	t.Helper()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range factors {
		rec := signal.NewRecord("BTCUSDT", "1h", base.Add(time.Duration(i)*time.Hour))
		rec.Factors = factors[i]
		ret := 1.0
		if outcomes[i] == signal.OutcomeLoss {
			ret = -1.0
		}
		rec.Resolve(outcomes[i], ret, rec.Timestamp.Add(4*time.Hour))
		if err := store.Save(context.Background(), rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
}

// separableSet interleaves wins with strong structure and momentum against
// losses with weak ones, so a logistic fit separates them cleanly
func separableSet(n int) ([]scoring.Factors, []signal.Outcome) {
	factors := make([]scoring.Factors, n)
	outcomes := make([]signal.Outcome, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			factors[i] = scoring.Factors{StructureConfidence: 0.95, OrderflowImbalance: 0.5, Momentum: 0.9, VolumeRegime: 0.5}
			outcomes[i] = signal.OutcomeWin
		} else {
			factors[i] = scoring.Factors{StructureConfidence: 0.05, OrderflowImbalance: 0.5, Momentum: 0.1, VolumeRegime: 0.5}
			outcomes[i] = signal.OutcomeLoss
		}
	}
	return factors, outcomes
}

func TestRetrainPublishesBlendedTable(t *testing.T) {
	store := signal.NewMemoryStore()
	holder := scoring.NewTableHolder(nil)
	trainer := NewTrainer(store, holder, DefaultConfig(), zerolog.Nop())
	fixedNow := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	trainer.SetClock(func() time.Time { return fixedNow })

	factors, outcomes := separableSet(80)
	seedRecords(t, store, factors, outcomes)

	table, err := trainer.Retrain(context.Background(), "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("Retrain failed: %v", err)
	}
	if table.Source != "retrained" {
		t.Errorf("Expected retrained source, got %s", table.Source)
	}
	if table.Version != 2 {
		t.Errorf("Expected version 2, got %d", table.Version)
	}
	if !table.TrainedAt.Equal(fixedNow) {
		t.Errorf("TrainedAt not stamped: %v", table.TrainedAt)
	}
	if holder.Active() != table {
		t.Error("Active table should be the published one")
	}

	// Blending keeps every weight between baseline and the raw fit, so the
	// total weight mass is preserved
	baseline := scoring.DefaultWeightTable()
	baseTotal := 0.0
	newTotal := 0.0
	for _, f := range []string{scoring.FactorStructure, scoring.FactorOrderflow, scoring.FactorMomentum, scoring.FactorVolume} {
		baseTotal += baseline.Weight(f)
		newTotal += table.Weight(f)
	}
	if diff := newTotal - baseTotal; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("Weight mass changed: baseline %f, retrained %f", baseTotal, newTotal)
	}
}

func TestRetrainRejectsInsufficientSamples(t *testing.T) {
	store := signal.NewMemoryStore()
	holder := scoring.NewTableHolder(nil)
	trainer := NewTrainer(store, holder, DefaultConfig(), zerolog.Nop())

	factors, outcomes := separableSet(10)
	seedRecords(t, store, factors, outcomes)

	before := holder.Active()
	_, err := trainer.Retrain(context.Background(), "BTCUSDT", "1h")
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected RejectedError, got %v", err)
	}
	if rejected.Samples != 10 {
		t.Errorf("Expected 10 samples reported, got %d", rejected.Samples)
	}
	if holder.Active() != before {
		t.Error("Active table must not change on rejection")
	}
}

func TestRetrainRejectsBelowAccuracyFloor(t *testing.T) {
	store := signal.NewMemoryStore()
	holder := scoring.NewTableHolder(nil)
	trainer := NewTrainer(store, holder, DefaultConfig(), zerolog.Nop())

	// Identical features with alternating outcomes carry no signal, so
	// holdout accuracy sits at coin-flip level
	n := 60
	factors := make([]scoring.Factors, n)
	outcomes := make([]signal.Outcome, n)
	for i := 0; i < n; i++ {
		factors[i] = scoring.NeutralFactors()
		if i%2 == 0 {
			outcomes[i] = signal.OutcomeWin
		} else {
			outcomes[i] = signal.OutcomeLoss
		}
	}
	seedRecords(t, store, factors, outcomes)

	before := holder.Active()
	_, err := trainer.Retrain(context.Background(), "BTCUSDT", "1h")
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected RejectedError, got %v", err)
	}
	if holder.Active() != before {
		t.Error("Active table must not change on rejection")
	}
}

func TestRetrainSkipsBreakeven(t *testing.T) {
	store := signal.NewMemoryStore()
	holder := scoring.NewTableHolder(nil)
	cfg := DefaultConfig()
	cfg.MinSamples = 20
	trainer := NewTrainer(store, holder, cfg, zerolog.Nop())

	n := 25
	factors := make([]scoring.Factors, n)
	outcomes := make([]signal.Outcome, n)
	for i := 0; i < n; i++ {
		factors[i] = scoring.NeutralFactors()
		outcomes[i] = signal.OutcomeBreakeven
	}
	seedRecords(t, store, factors, outcomes)

	_, err := trainer.Retrain(context.Background(), "BTCUSDT", "1h")
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected RejectedError, got %v", err)
	}
	if rejected.Samples != 0 {
		t.Errorf("Breakeven records should be excluded, got %d samples", rejected.Samples)
	}
}

func TestRetrainHonorsCancellation(t *testing.T) {
	store := signal.NewMemoryStore()
	holder := scoring.NewTableHolder(nil)
	trainer := NewTrainer(store, holder, DefaultConfig(), zerolog.Nop())

	factors, outcomes := separableSet(80)
	seedRecords(t, store, factors, outcomes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := holder.Active()
	if _, err := trainer.Retrain(ctx, "BTCUSDT", "1h"); err == nil {
		t.Fatal("Expected cancellation error")
	}
	if holder.Active() != before {
		t.Error("Active table must not change on cancellation")
	}
}
