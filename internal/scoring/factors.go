package scoring

import (
	"math"

	"market-structure-engine/internal/candle"
	"market-structure-engine/internal/memory"
	"market-structure-engine/internal/structure"
)

// StructureConfidence derives the structure factor from instrument memory:
// the strength of the last significant break, boosted by supporting events
// (aligned order blocks, unfilled gaps, sweeps in the bias direction).
// A key with no history scores neutral.
func StructureConfidence(ctx memory.Context) float64 {
	if !ctx.HasHistory {
		return NeutralFactor
	}

	last, ok := ctx.LastSignificant()
	if !ok {
		return NeutralFactor
	}

	confidence := 0.4 + 0.4*last.Strength

	bias := structure.Direction(ctx.Bias)
	if ob, ok := ctx.LatestByKind[structure.OrderBlock]; ok {
		if ob.Direction == bias && ob.Mitigation != structure.MitigationMitigated {
			confidence += 0.1
		}
	}
	if fvg, ok := ctx.LatestByKind[structure.FairValueGap]; ok {
		if fvg.Direction == bias && fvg.Fill != structure.FillFilled {
			confidence += 0.05
		}
	}
	if sweep, ok := ctx.LatestByKind[structure.LiquiditySweep]; ok {
		if sweep.Direction == bias && sweep.Time.After(last.Time) {
			confidence += 0.05
		}
	}

	return clampUnit(confidence)
}

// Momentum measures directional rate of change over the window tail,
// normalized into [0,1] with 0.5 flat. A ±2% move over the lookback
// saturates the factor.
func Momentum(candles []candle.Candle, lookback int) float64 {
	if lookback <= 0 {
		lookback = 10
	}
	if len(candles) < lookback+1 {
		return NeutralFactor
	}

	first := candles[len(candles)-1-lookback].Close
	last := candles[len(candles)-1].Close
	if first <= 0 {
		return NeutralFactor
	}

	changePercent := (last - first) / first * 100
	return clampUnit(0.5 + changePercent/4.0)
}

// VolumeRegime compares recent volume to the window average: 0.5 at parity,
// saturating at 3x average
func VolumeRegime(candles []candle.Candle, recent int) float64 {
	if recent <= 0 {
		recent = 5
	}
	if len(candles) < recent*2 {
		return NeutralFactor
	}

	total := 0.0
	for _, c := range candles {
		total += c.Volume
	}
	avg := total / float64(len(candles))
	if avg <= 0 {
		return NeutralFactor
	}

	recentTotal := 0.0
	for _, c := range candles[len(candles)-recent:] {
		recentTotal += c.Volume
	}
	ratio := recentTotal / float64(recent) / avg

	// Parity volume maps to 0.5, three times average saturates at 1.0
	return clampUnit(0.25 + 0.25*ratio)
}

// Volatility returns the stdev of close-to-close returns over the window,
// in percent terms. Used by the regime filter's percentile history.
func Volatility(candles []candle.Candle) float64 {
	if len(candles) < 3 {
		return 0
	}

	var returns []float64
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 {
			continue
		}
		returns = append(returns, (candles[i].Close-prev)/prev*100)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance)
}
