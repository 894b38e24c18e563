// Package risk builds the risk decision attached to an emitted signal:
// entry, structural stop, laddered targets and position size fraction.
package risk

import (
	"fmt"

	"market-structure-engine/internal/structure"
)

// Decision is the risk plan for one signal
type Decision struct {
	Entry                float64   `json:"entry"`
	StopLoss             float64   `json:"stop_loss"`
	TakeProfits          []float64 `json:"take_profits"`
	PositionSizeFraction float64   `json:"position_size_fraction"`
	RiskReward           float64   `json:"risk_reward_ratio"`
}

// Config holds risk planning parameters
type Config struct {
	BaseSizeFraction float64   `json:"base_size_fraction"` // Account fraction at 1.0x regime multiplier
	MaxSizeFraction  float64   `json:"max_size_fraction"`
	StopBufferPct    float64   `json:"stop_buffer_pct"`   // Extra distance beyond the structural level
	RewardRatios     []float64 `json:"reward_ratios"`     // Take-profit ladder in R multiples
	FallbackStopPct  float64   `json:"fallback_stop_pct"` // Stop distance with no structural anchor
}

// DefaultConfig returns the standard risk parameters
func DefaultConfig() Config {
	return Config{
		BaseSizeFraction: 0.02,
		MaxSizeFraction:  0.04,
		StopBufferPct:    0.15,
		RewardRatios:     []float64{1.0, 2.0, 3.0},
		FallbackStopPct:  1.0,
	}
}

// Planner converts direction, entry and a structural stop anchor into a
// sized decision
type Planner struct {
	cfg Config
}

// NewPlanner creates a planner, filling zero config values with defaults
func NewPlanner(cfg Config) *Planner {
	def := DefaultConfig()
	if cfg.BaseSizeFraction <= 0 {
		cfg.BaseSizeFraction = def.BaseSizeFraction
	}
	if cfg.MaxSizeFraction <= 0 {
		cfg.MaxSizeFraction = def.MaxSizeFraction
	}
	if cfg.StopBufferPct <= 0 {
		cfg.StopBufferPct = def.StopBufferPct
	}
	if len(cfg.RewardRatios) == 0 {
		cfg.RewardRatios = def.RewardRatios
	}
	if cfg.FallbackStopPct <= 0 {
		cfg.FallbackStopPct = def.FallbackStopPct
	}
	return &Planner{cfg: cfg}
}

// Plan builds a decision. stopAnchor is the structural level protecting the
// trade (e.g. an order block boundary or swept swing); zero means no anchor
// and the fallback percentage stop is used. sizeMultiplier comes from the
// regime filter.
func (p *Planner) Plan(direction structure.Direction, entry, stopAnchor, sizeMultiplier float64) (Decision, error) {
	if entry <= 0 {
		return Decision{}, fmt.Errorf("invalid entry price %f", entry)
	}
	if sizeMultiplier <= 0 {
		sizeMultiplier = 1.0
	}

	stop := p.stopFor(direction, entry, stopAnchor)
	riskPerUnit := entry - stop
	if direction == structure.Bearish {
		riskPerUnit = stop - entry
	}
	if riskPerUnit <= 0 {
		return Decision{}, fmt.Errorf("stop %f on the wrong side of entry %f", stop, entry)
	}

	targets := make([]float64, 0, len(p.cfg.RewardRatios))
	for _, r := range p.cfg.RewardRatios {
		if direction == structure.Bullish {
			targets = append(targets, entry+riskPerUnit*r)
		} else {
			targets = append(targets, entry-riskPerUnit*r)
		}
	}

	size := p.cfg.BaseSizeFraction * sizeMultiplier
	if size > p.cfg.MaxSizeFraction {
		size = p.cfg.MaxSizeFraction
	}

	rr := 0.0
	if len(targets) > 0 {
		first := targets[0] - entry
		if direction == structure.Bearish {
			first = entry - targets[0]
		}
		rr = first / riskPerUnit
	}

	return Decision{
		Entry:                entry,
		StopLoss:             stop,
		TakeProfits:          targets,
		PositionSizeFraction: size,
		RiskReward:           rr,
	}, nil
}

// stopFor places the stop beyond the structural anchor with a buffer, or at
// the fallback percentage distance when no anchor exists
func (p *Planner) stopFor(direction structure.Direction, entry, stopAnchor float64) float64 {
	buffer := 1 + p.cfg.StopBufferPct/100
	if direction == structure.Bullish {
		if stopAnchor > 0 && stopAnchor < entry {
			return stopAnchor / buffer
		}
		return entry * (1 - p.cfg.FallbackStopPct/100)
	}
	if stopAnchor > entry {
		return stopAnchor * buffer
	}
	return entry * (1 + p.cfg.FallbackStopPct/100)
}
