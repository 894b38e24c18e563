package risk

import (
	"math"
	"testing"

	"market-structure-engine/internal/structure"
)

func TestPlanBullishWithAnchor(t *testing.T) {
	planner := NewPlanner(DefaultConfig())

	decision, err := planner.Plan(structure.Bullish, 100, 98, 1.0)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if decision.StopLoss >= 98 {
		t.Errorf("Stop should sit below the anchor, got %f", decision.StopLoss)
	}
	if decision.StopLoss >= decision.Entry {
		t.Error("Bullish stop must be below entry")
	}
	if len(decision.TakeProfits) != 3 {
		t.Fatalf("Expected 3 targets, got %d", len(decision.TakeProfits))
	}
	for i, tp := range decision.TakeProfits {
		if tp <= decision.Entry {
			t.Errorf("Target %d should be above entry: %f", i, tp)
		}
	}
	if math.Abs(decision.RiskReward-1.0) > 1e-9 {
		t.Errorf("First target should be 1R, got %f", decision.RiskReward)
	}
}

func TestPlanBearishWithAnchor(t *testing.T) {
	planner := NewPlanner(DefaultConfig())

	decision, err := planner.Plan(structure.Bearish, 100, 102, 1.0)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if decision.StopLoss <= 102 {
		t.Errorf("Stop should sit above the anchor, got %f", decision.StopLoss)
	}
	for i, tp := range decision.TakeProfits {
		if tp >= decision.Entry {
			t.Errorf("Target %d should be below entry: %f", i, tp)
		}
	}
}

func TestPlanFallbackStopWithoutAnchor(t *testing.T) {
	planner := NewPlanner(DefaultConfig())

	decision, err := planner.Plan(structure.Bullish, 100, 0, 1.0)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if math.Abs(decision.StopLoss-99.0) > 1e-9 {
		t.Errorf("Expected 1%% fallback stop at 99, got %f", decision.StopLoss)
	}
}

func TestRegimeMultiplierScalesSize(t *testing.T) {
	planner := NewPlanner(DefaultConfig())

	stressed, _ := planner.Plan(structure.Bullish, 100, 98, 0.8)
	calm, _ := planner.Plan(structure.Bullish, 100, 98, 1.5)

	if stressed.PositionSizeFraction >= calm.PositionSizeFraction {
		t.Errorf("Stressed size %f should be below calm size %f",
			stressed.PositionSizeFraction, calm.PositionSizeFraction)
	}
	if calm.PositionSizeFraction > DefaultConfig().MaxSizeFraction {
		t.Errorf("Size %f exceeds cap", calm.PositionSizeFraction)
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	planner := NewPlanner(DefaultConfig())

	if _, err := planner.Plan(structure.Bullish, 0, 98, 1.0); err == nil {
		t.Error("Zero entry should fail")
	}
	// Anchor above entry for a bullish plan degrades to the fallback stop
	decision, err := planner.Plan(structure.Bullish, 100, 150, 1.0)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if decision.StopLoss >= decision.Entry {
		t.Error("Fallback stop must still be below entry")
	}
}
