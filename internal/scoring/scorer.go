// Package scoring fuses independent evidence factors into one bounded
// confluence score with a recommendation tier.
package scoring

// NeutralFactor is the documented default for any missing [0,1]-scaled
// factor. Missing data must never bias a score downward.
const NeutralFactor = 0.5

// Factors is one snapshot of the evidence feeding a score. All unit factors
// are in [0,1]; ExternalAdjustment is a signed point value clamped to
// ±ExternalAdjustmentBound at scoring time.
type Factors struct {
	StructureConfidence float64 `json:"structure_confidence"`
	OrderflowImbalance  float64 `json:"orderflow_imbalance"`
	Momentum            float64 `json:"momentum"`
	VolumeRegime        float64 `json:"volume_regime"`
	ExternalAdjustment  float64 `json:"external_adjustment"`
}

// NeutralFactors returns a snapshot with every factor at its neutral default
func NeutralFactors() Factors {
	return Factors{
		StructureConfidence: NeutralFactor,
		OrderflowImbalance:  NeutralFactor,
		Momentum:            NeutralFactor,
		VolumeRegime:        NeutralFactor,
	}
}

// Tier buckets a score into a recommendation grade
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierSharp     Tier = "sharp"
	TierGood      Tier = "good"
	TierWeak      Tier = "weak"
	TierPoor      Tier = "poor"
)

// Result is a computed confluence score. It is derived state: recomputed per
// request from current factors and the active table, never stored as truth.
type Result struct {
	Value         float64            `json:"value"` // 0-100
	Tier          Tier               `json:"tier"`
	Contributions map[string]float64 `json:"contributions"`
}

// Score combines factors under the given weight table. Pure and
// deterministic: the table is an explicit argument so callers can score
// against a fixed table in tests, and the function reads no global state.
func Score(factors Factors, table *WeightTable) Result {
	if table == nil {
		table = DefaultWeightTable()
	}

	contributions := map[string]float64{
		FactorStructure: clampUnit(factors.StructureConfidence) * table.Weight(FactorStructure),
		FactorOrderflow: clampUnit(factors.OrderflowImbalance) * table.Weight(FactorOrderflow),
		FactorMomentum:  clampUnit(factors.Momentum) * table.Weight(FactorMomentum),
		FactorVolume:    clampUnit(factors.VolumeRegime) * table.Weight(FactorVolume),
		FactorExternal:  clampSigned(factors.ExternalAdjustment, ExternalAdjustmentBound),
	}

	value := 0.0
	for _, c := range contributions {
		value += c
	}
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}

	return Result{
		Value:         value,
		Tier:          TierFor(value),
		Contributions: contributions,
	}
}

// TierFor maps a score value to its tier
func TierFor(value float64) Tier {
	switch {
	case value >= 85:
		return TierExcellent
	case value >= 70:
		return TierSharp
	case value >= 60:
		return TierGood
	case value >= 40:
		return TierWeak
	default:
		return TierPoor
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSigned(v, bound float64) float64 {
	if v < -bound {
		return -bound
	}
	if v > bound {
		return bound
	}
	return v
}
