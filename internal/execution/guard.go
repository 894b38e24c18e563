// Package execution gates actionable signals on live microstructure:
// spread, depth and estimated slippage against per-instrument limits.
// Missing or invalid market data always fails closed.
package execution

import (
	"fmt"
	"math"
	"sync"
)

// DenyReason classifies why the guard blocked a signal
type DenyReason string

const (
	DenySpreadTooWide     DenyReason = "spread_too_wide"
	DenyInsufficientDepth DenyReason = "insufficient_depth"
	DenySlippageTooHigh   DenyReason = "slippage_too_high"
	DenyInvalidData       DenyReason = "invalid_market_data"
)

// GuardError is returned when a check fails. Kind DenyInvalidData marks the
// deliberate fail-closed path on missing data.
type GuardError struct {
	Symbol string
	Reason DenyReason
	Detail string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("execution guard denied %s: %s (%s)", e.Symbol, e.Reason, e.Detail)
}

// Limits holds per-instrument execution limits
type Limits struct {
	MaxSpreadBps   float64 `json:"max_spread_bps"`
	MinDepthQuote  float64 `json:"min_depth_quote"`  // Depth at touch in quote currency
	MaxSlippagePct float64 `json:"max_slippage_pct"` // Estimated slippage ceiling
}

// DefaultLimits returns the fallback limits for symbols without an override
func DefaultLimits() Limits {
	return Limits{
		MaxSpreadBps:   25,
		MinDepthQuote:  50_000,
		MaxSlippagePct: 0.15,
	}
}

// Snapshot is the market-depth view supplied alongside a candidate signal
type Snapshot struct {
	SpreadBps  float64 `json:"spread_bps"`
	DepthQuote float64 `json:"depth_quote"` // Available depth near touch
}

// Guard checks execution conditions per symbol
type Guard struct {
	mu        sync.RWMutex
	defaults  Limits
	perSymbol map[string]Limits
}

// NewGuard creates a guard with the given default limits and optional
// per-symbol overrides
func NewGuard(defaults Limits, perSymbol map[string]Limits) *Guard {
	if defaults.MaxSpreadBps <= 0 {
		defaults.MaxSpreadBps = DefaultLimits().MaxSpreadBps
	}
	if defaults.MinDepthQuote <= 0 {
		defaults.MinDepthQuote = DefaultLimits().MinDepthQuote
	}
	if defaults.MaxSlippagePct <= 0 {
		defaults.MaxSlippagePct = DefaultLimits().MaxSlippagePct
	}
	g := &Guard{
		defaults:  defaults,
		perSymbol: make(map[string]Limits),
	}
	for sym, lim := range perSymbol {
		g.perSymbol[sym] = lim
	}
	return g
}

// SetLimits installs or replaces limits for one symbol
func (g *Guard) SetLimits(symbol string, limits Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perSymbol[symbol] = limits
}

// LimitsFor returns the effective limits for a symbol
func (g *Guard) LimitsFor(symbol string) Limits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if lim, ok := g.perSymbol[symbol]; ok {
		return lim
	}
	return g.defaults
}

// Check validates a candidate order of intendedSize (quote currency) against
// the snapshot. A nil snapshot or non-finite/non-positive fields deny the
// trade outright: bad data must never produce a permissive default.
func (g *Guard) Check(symbol string, snap *Snapshot, intendedSize float64) error {
	limits := g.LimitsFor(symbol)

	if snap == nil {
		return &GuardError{Symbol: symbol, Reason: DenyInvalidData, Detail: "no market depth snapshot"}
	}
	if !finitePositive(snap.SpreadBps) && snap.SpreadBps != 0 {
		return &GuardError{Symbol: symbol, Reason: DenyInvalidData, Detail: "invalid spread"}
	}
	if !finitePositive(snap.DepthQuote) {
		return &GuardError{Symbol: symbol, Reason: DenyInvalidData, Detail: "missing or invalid depth"}
	}
	if !finitePositive(intendedSize) {
		return &GuardError{Symbol: symbol, Reason: DenyInvalidData, Detail: "invalid intended size"}
	}

	if snap.SpreadBps > limits.MaxSpreadBps {
		return &GuardError{
			Symbol: symbol,
			Reason: DenySpreadTooWide,
			Detail: fmt.Sprintf("%.1fbps > %.1fbps limit", snap.SpreadBps, limits.MaxSpreadBps),
		}
	}
	if snap.DepthQuote < limits.MinDepthQuote {
		return &GuardError{
			Symbol: symbol,
			Reason: DenyInsufficientDepth,
			Detail: fmt.Sprintf("%.0f below %.0f minimum", snap.DepthQuote, limits.MinDepthQuote),
		}
	}

	slippage := estimateSlippage(snap, intendedSize)
	if slippage > limits.MaxSlippagePct {
		return &GuardError{
			Symbol: symbol,
			Reason: DenySlippageTooHigh,
			Detail: fmt.Sprintf("estimated %.3f%% > %.3f%% limit", slippage, limits.MaxSlippagePct),
		}
	}

	return nil
}

// estimateSlippage approximates execution cost in percent: half the spread
// plus a penalty for the share of visible depth the order consumes
func estimateSlippage(snap *Snapshot, intendedSize float64) float64 {
	half := snap.SpreadBps / 2 / 100
	consumed := intendedSize / snap.DepthQuote
	return half + consumed*0.1
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
