package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-structure-engine/internal/candle"
	"market-structure-engine/internal/circuit"
	"market-structure-engine/internal/execution"
	"market-structure-engine/internal/memory"
	"market-structure-engine/internal/quality"
	"market-structure-engine/internal/regime"
	"market-structure-engine/internal/risk"
	"market-structure-engine/internal/scoring"
	"market-structure-engine/internal/signal"
	"market-structure-engine/internal/structure"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	engine     *Engine
	records    *signal.MemoryStore
	classifier *regime.Classifier
	breakers   *circuit.Manager
	holder     *scoring.TableHolder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gate := quality.NewGate(quality.Config{}, nil)
	gate.SetClock(func() time.Time { return fixedNow })

	env := &testEnv{
		records:    signal.NewMemoryStore(),
		classifier: regime.NewClassifier(regime.Config{}),
		breakers:   circuit.NewManager(circuit.Config{Enabled: true}),
		holder:     scoring.NewTableHolder(nil),
	}
	env.engine = New(Config{}, Deps{
		Gate:       gate,
		Detector:   structure.NewDetector(structure.Config{SwingLookback: 2}),
		Memory:     memory.NewStore(0),
		Holder:     env.holder,
		Classifier: env.classifier,
		Guard:      execution.NewGuard(execution.DefaultLimits(), nil),
		Breakers:   env.breakers,
		Planner:    risk.NewPlanner(risk.DefaultConfig()),
		Records:    env.records,
		Logger:     zerolog.Nop(),
	})
	env.engine.SetClock(func() time.Time { return fixedNow })
	return env
}

// primeRegime seeds enough volatility history that classification lands in
// the normal bucket for any realistic batch volatility
func (env *testEnv) primeRegime(key string) {
	for i := 0; i < 15; i++ {
		env.classifier.Observe(key, 0.0001)
		env.classifier.Observe(key, 10.0)
	}
}

func batchOf(symbol string, rows [][4]float64) candle.Batch {
	base := fixedNow.Add(-time.Duration(len(rows)) * time.Minute)
	candles := make([]candle.Candle, len(rows))
	for i, r := range rows {
		candles[i] = candle.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     r[0],
			High:     r[1],
			Low:      r[2],
			Close:    r[3],
			Volume:   100,
		}
	}
	return candle.Batch{Symbol: symbol, Timeframe: "1m", Candles: candles}
}

// reversalBatch ends in a bullish change of character, giving the
// instrument a bullish bias
func reversalBatch(symbol string) candle.Batch {
	return batchOf(symbol, [][4]float64{
		{106, 107, 104.5, 105},
		{105, 106, 104.2, 104.5},
		{104.5, 105, 104.0, 104.3},
		{104.3, 105.5, 104.4, 105},
		{105, 105.8, 104.6, 104.8},
		{104.8, 104.9, 103.0, 103.5},
		{103.5, 104.2, 103.2, 104.0},
		{104.0, 106.5, 103.8, 106.0},
		{106, 106.2, 105.0, 105.2},
		{105.2, 105.8, 104.8, 105.5},
		{105.5, 106.9, 105.3, 106.75},
	})
}

func goodSnapshot() *execution.Snapshot {
	return &execution.Snapshot{SpreadBps: 5, DepthQuote: 1_000_000}
}

func TestEvaluateEmitsSignal(t *testing.T) {
	env := newTestEnv(t)
	env.primeRegime("BTCUSDT:1m")
	orderflow := 0.9

	rec, err := env.engine.Evaluate(context.Background(), Input{
		Batch:              reversalBatch("BTCUSDT"),
		OrderflowImbalance: &orderflow,
		ExternalAdjustment: 5,
		Market:             goodSnapshot(),
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !rec.Emitted {
		t.Fatalf("Expected emission, blocked with reason %q at score %f", rec.Reason, rec.Score)
	}
	if rec.Score < 60 {
		t.Errorf("Emitted score below base threshold: %f", rec.Score)
	}
	if rec.Risk == nil {
		t.Fatal("Emitted signal must carry a risk decision")
	}
	if rec.Risk.StopLoss >= rec.Risk.Entry {
		t.Error("Bullish stop must be below entry")
	}
	if rec.Outcome != signal.OutcomePending {
		t.Errorf("New signal should be pending, got %s", rec.Outcome)
	}

	stored, err := env.records.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Record not persisted: %v", err)
	}
	if !stored.Emitted {
		t.Error("Persisted record lost emission flag")
	}
}

func TestEvaluateBlocksOnDataQuality(t *testing.T) {
	env := newTestEnv(t)

	batch := reversalBatch("BTCUSDT")
	// Swap two candles so timestamps go backwards
	batch.Candles[3], batch.Candles[4] = batch.Candles[4], batch.Candles[3]

	rec, err := env.engine.Evaluate(context.Background(), Input{Batch: batch, Market: goodSnapshot()})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if rec.Emitted {
		t.Fatal("Corrupt batch must not emit")
	}
	if rec.Reason != ReasonDataQuality {
		t.Errorf("Expected %s, got %s", ReasonDataQuality, rec.Reason)
	}
}

func TestEvaluateStopAnchoredToOrderBlock(t *testing.T) {
	env := newTestEnv(t)
	env.primeRegime("BTCUSDT:1m")
	orderflow := 0.9

	rec, err := env.engine.Evaluate(context.Background(), Input{
		Batch:              reversalBatch("BTCUSDT"),
		OrderflowImbalance: &orderflow,
		ExternalAdjustment: 5,
		Market:             goodSnapshot(),
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if rec.Risk == nil {
		t.Fatal("Emitted signal must carry a risk decision")
	}
	// The bullish order block in reversalBatch bottoms at 105.0; the stop
	// belongs under that boundary, not at the fallback percent distance.
	if rec.Risk.StopLoss >= 105.0 {
		t.Errorf("Stop %f should sit under the order block low 105.0", rec.Risk.StopLoss)
	}
	fallback := rec.Risk.Entry * 0.99
	if rec.Risk.StopLoss >= fallback {
		t.Errorf("Stop %f landed at or above the fallback %f", rec.Risk.StopLoss, fallback)
	}
}

func TestStopAnchorReadsOrderBlockZone(t *testing.T) {
	memCtx := memory.Context{LatestByKind: map[structure.EventKind]structure.Event{
		structure.OrderBlock: {
			Kind:      structure.OrderBlock,
			Direction: structure.Bullish,
			PriceLow:  100,
			PriceHigh: 102,
		},
	}}
	if got := stopAnchor(memCtx, structure.Bullish); got != 100 {
		t.Errorf("Bullish anchor should be the block low 100, got %f", got)
	}

	memCtx.LatestByKind[structure.OrderBlock] = structure.Event{
		Kind:      structure.OrderBlock,
		Direction: structure.Bearish,
		PriceLow:  108,
		PriceHigh: 110,
	}
	if got := stopAnchor(memCtx, structure.Bearish); got != 110 {
		t.Errorf("Bearish anchor should be the block high 110, got %f", got)
	}
}

func TestEvaluateBlocksFailedBatchDespiteCachedPass(t *testing.T) {
	env := newTestEnv(t)
	env.primeRegime("BTCUSDT:1m")
	orderflow := 0.9

	// A passing batch first, so the gate holds a last-good report
	if _, err := env.engine.Evaluate(context.Background(), Input{
		Batch:              reversalBatch("BTCUSDT"),
		OrderflowImbalance: &orderflow,
		ExternalAdjustment: 5,
		Market:             goodSnapshot(),
	}); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	bad := reversalBatch("BTCUSDT")
	bad.Candles[3], bad.Candles[4] = bad.Candles[4], bad.Candles[3]

	rec, err := env.engine.Evaluate(context.Background(), Input{Batch: bad, Market: goodSnapshot()})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if rec.Emitted {
		t.Fatal("Corrupt batch must not emit even with a cached good report")
	}
	if rec.Reason != ReasonDataQuality {
		t.Errorf("Expected %s, got %s", ReasonDataQuality, rec.Reason)
	}
}

func TestEvaluateBlocksWithoutBias(t *testing.T) {
	env := newTestEnv(t)
	env.primeRegime("FLATUSDT:1m")

	rows := make([][4]float64, 11)
	for i := range rows {
		rows[i] = [4]float64{100, 100.1, 99.9, 100}
	}

	rec, err := env.engine.Evaluate(context.Background(), Input{
		Batch:  batchOf("FLATUSDT", rows),
		Market: goodSnapshot(),
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if rec.Reason != ReasonNoBias {
		t.Errorf("Expected %s, got %s", ReasonNoBias, rec.Reason)
	}
}

func TestEvaluateBlocksBelowThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.primeRegime("BTCUSDT:1m")
	orderflow := 0.0

	rec, err := env.engine.Evaluate(context.Background(), Input{
		Batch:              reversalBatch("BTCUSDT"),
		OrderflowImbalance: &orderflow,
		ExternalAdjustment: -15,
		Market:             goodSnapshot(),
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if rec.Emitted {
		t.Fatalf("Score %f should not emit", rec.Score)
	}
	if rec.Reason != ReasonBelowThreshold {
		t.Errorf("Expected %s, got %s", ReasonBelowThreshold, rec.Reason)
	}
}

func TestEvaluateBlocksWhenBreakerOpen(t *testing.T) {
	env := newTestEnv(t)
	env.primeRegime("BTCUSDT:1m")
	orderflow := 0.9

	breaker := env.breakers.ForSymbol("BTCUSDT")
	breaker.RecordOutcome("l1", circuit.OutcomeLoss, -1)
	breaker.RecordOutcome("l2", circuit.OutcomeLoss, -1)
	breaker.RecordOutcome("l3", circuit.OutcomeLoss, -1)

	rec, err := env.engine.Evaluate(context.Background(), Input{
		Batch:              reversalBatch("BTCUSDT"),
		OrderflowImbalance: &orderflow,
		ExternalAdjustment: 5,
		Market:             goodSnapshot(),
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if rec.Reason != ReasonBreakerOpen {
		t.Errorf("Expected %s, got %s", ReasonBreakerOpen, rec.Reason)
	}
}

func TestEvaluateBlocksOnExecutionGuard(t *testing.T) {
	env := newTestEnv(t)
	env.primeRegime("BTCUSDT:1m")
	orderflow := 0.9

	rec, err := env.engine.Evaluate(context.Background(), Input{
		Batch:              reversalBatch("BTCUSDT"),
		OrderflowImbalance: &orderflow,
		ExternalAdjustment: 5,
		Market:             &execution.Snapshot{SpreadBps: 500, DepthQuote: 1_000_000},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if rec.Reason != ReasonExecutionGuard {
		t.Errorf("Expected %s, got %s", ReasonExecutionGuard, rec.Reason)
	}
}

func TestUpdateOutcomeFeedsBreakerOnce(t *testing.T) {
	env := newTestEnv(t)
	env.primeRegime("BTCUSDT:1m")
	orderflow := 0.9

	rec, err := env.engine.Evaluate(context.Background(), Input{
		Batch:              reversalBatch("BTCUSDT"),
		OrderflowImbalance: &orderflow,
		ExternalAdjustment: 5,
		Market:             goodSnapshot(),
	})
	if err != nil || !rec.Emitted {
		t.Fatalf("Expected emission, got rec=%+v err=%v", rec, err)
	}

	if err := env.engine.UpdateOutcome(context.Background(), rec.ID, signal.OutcomeLoss, -1.2); err != nil {
		t.Fatalf("UpdateOutcome failed: %v", err)
	}
	// Duplicate report must be a no-op
	if err := env.engine.UpdateOutcome(context.Background(), rec.ID, signal.OutcomeLoss, -1.2); err != nil {
		t.Fatalf("Duplicate UpdateOutcome failed: %v", err)
	}

	stats := env.breakers.ForSymbol("BTCUSDT").Stats()
	if stats.ConsecutiveLosses != 1 {
		t.Errorf("Expected 1 loss counted, got %d", stats.ConsecutiveLosses)
	}

	stored, _ := env.records.Get(context.Background(), rec.ID)
	if stored.Outcome != signal.OutcomeLoss {
		t.Errorf("Outcome not persisted: %s", stored.Outcome)
	}
}

func TestUpdateOutcomeUnknownID(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.UpdateOutcome(context.Background(), "missing", signal.OutcomeWin, 1.0)
	var nf *signal.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
}
