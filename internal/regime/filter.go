// Package regime classifies the prevailing volatility/funding environment
// and adjusts emission thresholds and position sizing accordingly.
package regime

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// VolatilityBucket is the trailing-percentile volatility classification
type VolatilityBucket string

const (
	VolLow    VolatilityBucket = "low"
	VolNormal VolatilityBucket = "normal"
	VolHigh   VolatilityBucket = "high"
)

// State is the classified regime for one instrument at one moment
type State struct {
	Bucket               VolatilityBucket `json:"volatility_bucket"`
	VolatilityPercentile float64          `json:"volatility_percentile"`
	FundingRate          float64          `json:"funding_rate"`
	FundingExtreme       bool             `json:"funding_extreme"`
	SizeMultiplier       float64          `json:"size_multiplier"` // 0.5 to 1.5
}

// UnknownError reports insufficient history to classify volatility. Callers
// must fall back to the most conservative treatment, never the most
// permissive.
type UnknownError struct {
	Key      string
	Samples  int
	Required int
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("regime unknown for %s: %d of %d required volatility samples", e.Key, e.Samples, e.Required)
}

// Config holds regime thresholds
type Config struct {
	Window            int     `json:"window"`              // Trailing volatility observations per key
	MinSamples        int     `json:"min_samples"`         // Below this, classification is unknown
	LowPercentile     float64 `json:"low_percentile"`      // Below -> low bucket
	HighPercentile    float64 `json:"high_percentile"`     // Above -> high bucket
	FundingExtremePct float64 `json:"funding_extreme_pct"` // |funding| beyond this is extreme
	HighVolPenalty    float64 `json:"high_vol_penalty"`    // Added to threshold when stressed
	CalmBonus         float64 `json:"calm_bonus"`          // Subtracted from threshold when calm
}

// DefaultConfig returns the standard regime thresholds
func DefaultConfig() Config {
	return Config{
		Window:            100,
		MinSamples:        20,
		LowPercentile:     33,
		HighPercentile:    67,
		FundingExtremePct: 0.05,
		HighVolPenalty:    10,
		CalmBonus:         5,
	}
}

// Classifier keeps trailing volatility observations per instrument key and
// classifies the current regime against them
type Classifier struct {
	cfg     Config
	mu      sync.Mutex
	history map[string][]float64
}

// NewClassifier creates a classifier, filling zero config values with
// defaults
func NewClassifier(cfg Config) *Classifier {
	if cfg.Window <= 0 {
		cfg.Window = 100
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 20
	}
	if cfg.LowPercentile <= 0 {
		cfg.LowPercentile = 33
	}
	if cfg.HighPercentile <= 0 {
		cfg.HighPercentile = 67
	}
	if cfg.FundingExtremePct <= 0 {
		cfg.FundingExtremePct = 0.05
	}
	if cfg.HighVolPenalty <= 0 {
		cfg.HighVolPenalty = 10
	}
	if cfg.CalmBonus <= 0 {
		cfg.CalmBonus = 5
	}
	return &Classifier{cfg: cfg, history: make(map[string][]float64)}
}

// Observe records a volatility sample for a key, trimming to the window
func (c *Classifier) Observe(key string, volatility float64) {
	if math.IsNaN(volatility) || math.IsInf(volatility, 0) || volatility < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	h := append(c.history[key], volatility)
	if over := len(h) - c.cfg.Window; over > 0 {
		h = h[over:]
	}
	c.history[key] = h
}

// Classify buckets the latest observed volatility for a key against its
// trailing history and combines it with the funding rate. With too little
// history it returns the conservative state and an *UnknownError.
func (c *Classifier) Classify(key string, fundingRate float64, trendConfirmed bool) (State, error) {
	c.mu.Lock()
	h := append([]float64(nil), c.history[key]...)
	c.mu.Unlock()

	if len(h) < c.cfg.MinSamples {
		return c.Conservative(fundingRate), &UnknownError{Key: key, Samples: len(h), Required: c.cfg.MinSamples}
	}

	latest := h[len(h)-1]
	percentile := percentileRank(h, latest)

	bucket := VolNormal
	switch {
	case percentile < c.cfg.LowPercentile:
		bucket = VolLow
	case percentile > c.cfg.HighPercentile:
		bucket = VolHigh
	}

	return c.Build(bucket, percentile, fundingRate, trendConfirmed), nil
}

// Build assembles a State from an already-determined bucket. Pure; exposed
// for callers that compute percentiles externally.
func (c *Classifier) Build(bucket VolatilityBucket, percentile, fundingRate float64, trendConfirmed bool) State {
	extreme := math.Abs(fundingRate) > c.cfg.FundingExtremePct

	multiplier := 1.0
	switch {
	case bucket == VolHigh || extreme:
		multiplier = 0.8
	case bucket == VolLow && trendConfirmed:
		multiplier = 1.5
	case bucket == VolLow:
		multiplier = 1.2
	}

	return State{
		Bucket:               bucket,
		VolatilityPercentile: percentile,
		FundingRate:          fundingRate,
		FundingExtreme:       extreme,
		SizeMultiplier:       clampMultiplier(multiplier),
	}
}

// Conservative returns the high-volatility-equivalent state used when the
// regime cannot be classified
func (c *Classifier) Conservative(fundingRate float64) State {
	extreme := math.Abs(fundingRate) > c.cfg.FundingExtremePct
	return State{
		Bucket:               VolHigh,
		VolatilityPercentile: 100,
		FundingRate:          fundingRate,
		FundingExtreme:       extreme,
		SizeMultiplier:       0.8,
	}
}

// Filter decides whether a score clears the regime-adjusted threshold.
// Stressed regimes raise the bar, calm regimes lower it.
func (c *Classifier) Filter(score float64, state State, baseThreshold float64) (bool, float64) {
	adjusted := baseThreshold
	switch {
	case state.Bucket == VolHigh || state.FundingExtreme:
		adjusted += c.cfg.HighVolPenalty
	case state.Bucket == VolLow && !state.FundingExtreme:
		adjusted -= c.cfg.CalmBonus
	}
	return score >= adjusted, adjusted
}

// percentileRank returns the percentage of samples strictly below v
func percentileRank(samples []float64, v float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	below := sort.SearchFloat64s(sorted, v)
	return float64(below) / float64(len(sorted)) * 100
}

func clampMultiplier(m float64) float64 {
	if m < 0.5 {
		return 0.5
	}
	if m > 1.5 {
		return 1.5
	}
	return m
}
