package scoring

import (
	"sync/atomic"
	"time"
)

// Factor name constants shared by the scorer, the weight table and the
// retraining pipeline
const (
	FactorStructure = "structure_confidence"
	FactorOrderflow = "orderflow_imbalance"
	FactorMomentum  = "momentum"
	FactorVolume    = "volume_regime"
	FactorExternal  = "external_adjustment"
)

// ExternalAdjustmentBound caps the signed external term at ±15 points
const ExternalAdjustmentBound = 15.0

// BaseThreshold is the default minimum score for signal emission before
// regime adjustment
const BaseThreshold = 60.0

// WeightTable maps factor names to score weights, with optional
// per-instrument emission thresholds. Tables are immutable once published:
// the retrainer builds a new table and swaps the reference, never mutating
// an active one.
type WeightTable struct {
	Version       int                `json:"version"`
	Source        string             `json:"source"` // "baseline" or "retrained"
	TrainedAt     time.Time          `json:"trained_at"`
	FactorWeights map[string]float64 `json:"factor_weights"`
	// Keyed by "SYMBOL:TIMEFRAME"
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
}

// DefaultWeightTable returns the fixed baseline weighting. This table is the
// floor the adaptive retrainer blends against and the startup default when
// nothing is persisted.
func DefaultWeightTable() *WeightTable {
	return &WeightTable{
		Version: 1,
		Source:  "baseline",
		FactorWeights: map[string]float64{
			FactorStructure: 40,
			FactorOrderflow: 20,
			FactorMomentum:  15,
			FactorVolume:    10,
		},
	}
}

// Weight returns the weight for a factor, zero if absent
func (t *WeightTable) Weight(factor string) float64 {
	return t.FactorWeights[factor]
}

// ThresholdFor returns the emission threshold for an instrument key
// ("SYMBOL:TIMEFRAME"), falling back to the base threshold
func (t *WeightTable) ThresholdFor(key string) float64 {
	if v, ok := t.Thresholds[key]; ok {
		return v
	}
	return BaseThreshold
}

// Clone deep-copies a table so a candidate can be built without touching
// the active one
func (t *WeightTable) Clone() *WeightTable {
	out := &WeightTable{
		Version:       t.Version,
		Source:        t.Source,
		TrainedAt:     t.TrainedAt,
		FactorWeights: make(map[string]float64, len(t.FactorWeights)),
	}
	for k, v := range t.FactorWeights {
		out.FactorWeights[k] = v
	}
	if t.Thresholds != nil {
		out.Thresholds = make(map[string]float64, len(t.Thresholds))
		for k, v := range t.Thresholds {
			out.Thresholds[k] = v
		}
	}
	return out
}

// Equal compares factor weights and thresholds of two tables
func (t *WeightTable) Equal(other *WeightTable) bool {
	if other == nil {
		return false
	}
	if len(t.FactorWeights) != len(other.FactorWeights) || len(t.Thresholds) != len(other.Thresholds) {
		return false
	}
	for k, v := range t.FactorWeights {
		if other.FactorWeights[k] != v {
			return false
		}
	}
	for k, v := range t.Thresholds {
		if other.Thresholds[k] != v {
			return false
		}
	}
	return true
}

// TableHolder publishes the active weight table. Readers take an immutable
// reference; Swap publishes a replacement atomically so no reader ever sees
// a partially updated table.
type TableHolder struct {
	active atomic.Pointer[WeightTable]
}

// NewTableHolder starts with the given table, or the baseline when nil
func NewTableHolder(initial *WeightTable) *TableHolder {
	h := &TableHolder{}
	if initial == nil {
		initial = DefaultWeightTable()
	}
	h.active.Store(initial)
	return h
}

// Active returns the current table reference
func (h *TableHolder) Active() *WeightTable {
	return h.active.Load()
}

// Swap atomically publishes a new table and returns the previous one
func (h *TableHolder) Swap(table *WeightTable) *WeightTable {
	return h.active.Swap(table)
}
