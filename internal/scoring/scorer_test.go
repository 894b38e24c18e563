package scoring

import (
	"math"
	"testing"
	"time"

	"market-structure-engine/internal/candle"
	"market-structure-engine/internal/memory"
	"market-structure-engine/internal/structure"
)

func TestBaselineScoreScenario(t *testing.T) {
	factors := Factors{
		StructureConfidence: 0.9,
		OrderflowImbalance:  0.8,
		Momentum:            0.7,
		VolumeRegime:        0.6,
		ExternalAdjustment:  5,
	}

	result := Score(factors, DefaultWeightTable())

	// 0.9*40 + 0.8*20 + 0.7*15 + 0.6*10 + 5 = 73.5
	if math.Abs(result.Value-73.5) > 1e-9 {
		t.Errorf("Expected 73.5, got %f", result.Value)
	}
	if result.Tier != TierSharp {
		t.Errorf("Expected sharp tier, got %s", result.Tier)
	}
}

func TestScoreAlwaysBounded(t *testing.T) {
	cases := []Factors{
		{},
		{StructureConfidence: 1, OrderflowImbalance: 1, Momentum: 1, VolumeRegime: 1, ExternalAdjustment: 100},
		{StructureConfidence: -5, OrderflowImbalance: -5, Momentum: -5, VolumeRegime: -5, ExternalAdjustment: -100},
		{StructureConfidence: 2, OrderflowImbalance: 2, Momentum: 2, VolumeRegime: 2, ExternalAdjustment: 15},
		NeutralFactors(),
	}

	for i, f := range cases {
		result := Score(f, DefaultWeightTable())
		if result.Value < 0 || result.Value > 100 {
			t.Errorf("Case %d: score %f out of [0,100]", i, result.Value)
		}
	}
}

func TestExternalAdjustmentClamped(t *testing.T) {
	up := Score(Factors{ExternalAdjustment: 50}, DefaultWeightTable())
	if up.Contributions[FactorExternal] != ExternalAdjustmentBound {
		t.Errorf("Expected external clamp at %f, got %f", ExternalAdjustmentBound, up.Contributions[FactorExternal])
	}

	down := Score(Factors{ExternalAdjustment: -50}, DefaultWeightTable())
	if down.Contributions[FactorExternal] != -ExternalAdjustmentBound {
		t.Errorf("Expected external clamp at %f, got %f", -ExternalAdjustmentBound, down.Contributions[FactorExternal])
	}
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		value float64
		tier  Tier
	}{
		{90, TierExcellent},
		{85, TierExcellent},
		{84.9, TierSharp},
		{70, TierSharp},
		{69.9, TierGood},
		{60, TierGood},
		{59.9, TierWeak},
		{40, TierWeak},
		{39.9, TierPoor},
		{0, TierPoor},
	}

	for _, tc := range cases {
		if got := TierFor(tc.value); got != tc.tier {
			t.Errorf("TierFor(%f) = %s, want %s", tc.value, got, tc.tier)
		}
	}
}

func TestScoreUsesProvidedTableNotBaseline(t *testing.T) {
	table := DefaultWeightTable()
	table.FactorWeights[FactorStructure] = 80
	table.FactorWeights[FactorOrderflow] = 0
	table.FactorWeights[FactorMomentum] = 0
	table.FactorWeights[FactorVolume] = 0

	result := Score(Factors{StructureConfidence: 0.5, OrderflowImbalance: 1}, table)
	if result.Value != 40 {
		t.Errorf("Expected 40 under custom table, got %f", result.Value)
	}
}

func TestTableHolderSwap(t *testing.T) {
	holder := NewTableHolder(nil)

	first := holder.Active()
	if first.Source != "baseline" {
		t.Errorf("Expected baseline startup table, got %s", first.Source)
	}

	replacement := DefaultWeightTable()
	replacement.Version = 2
	replacement.Source = "retrained"

	prev := holder.Swap(replacement)
	if prev != first {
		t.Error("Swap should return the previous table reference")
	}
	if holder.Active().Version != 2 {
		t.Errorf("Expected version 2 active, got %d", holder.Active().Version)
	}
}

func TestStructureConfidenceNoHistory(t *testing.T) {
	ctx := memory.Context{Bias: memory.BiasNeutral}
	if got := StructureConfidence(ctx); got != NeutralFactor {
		t.Errorf("No history should score neutral, got %f", got)
	}
}

func TestStructureConfidenceTracksBreakStrength(t *testing.T) {
	strong := memory.Context{
		HasHistory: true,
		Bias:       memory.BiasBullish,
		LatestByKind: map[structure.EventKind]structure.Event{
			structure.ChangeOfCharacter: {
				Kind: structure.ChangeOfCharacter, Direction: structure.Bullish, Strength: 1.0,
			},
		},
	}
	weak := memory.Context{
		HasHistory: true,
		Bias:       memory.BiasBullish,
		LatestByKind: map[structure.EventKind]structure.Event{
			structure.ChangeOfCharacter: {
				Kind: structure.ChangeOfCharacter, Direction: structure.Bullish, Strength: 0.2,
			},
		},
	}

	if StructureConfidence(strong) <= StructureConfidence(weak) {
		t.Error("Stronger break should score higher structure confidence")
	}
}

func momentumCandles(start, step float64, n int) []candle.Candle {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]candle.Candle, n)
	price := start
	for i := range out {
		out[i] = candle.Candle{OpenTime: base.Add(time.Duration(i) * time.Minute), Open: price, High: price + 1, Low: price - 1, Close: price + step, Volume: 100}
		price += step
	}
	return out
}

func TestMomentumDirection(t *testing.T) {
	up := Momentum(momentumCandles(100, 0.5, 20), 10)
	down := Momentum(momentumCandles(100, -0.5, 20), 10)
	flat := Momentum(momentumCandles(100, 0, 20), 10)

	if up <= 0.5 {
		t.Errorf("Uptrend momentum should exceed 0.5, got %f", up)
	}
	if down >= 0.5 {
		t.Errorf("Downtrend momentum should be below 0.5, got %f", down)
	}
	if math.Abs(flat-0.5) > 1e-9 {
		t.Errorf("Flat momentum should be 0.5, got %f", flat)
	}
}

func TestMomentumInsufficientData(t *testing.T) {
	if got := Momentum(momentumCandles(100, 1, 3), 10); got != NeutralFactor {
		t.Errorf("Short window should be neutral, got %f", got)
	}
}

func TestVolumeRegimeSpike(t *testing.T) {
	candles := momentumCandles(100, 0, 30)
	for i := 25; i < 30; i++ {
		candles[i].Volume = 400
	}

	if got := VolumeRegime(candles, 5); got <= 0.5 {
		t.Errorf("Volume spike should score above 0.5, got %f", got)
	}
}
