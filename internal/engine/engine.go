// Package engine runs the full evaluation pipeline for one candle batch:
// quality gate, structure detection, instrument memory, confluence scoring,
// regime filtering, execution guard and circuit breaker, ending in a
// persisted signal record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-structure-engine/internal/candle"
	"market-structure-engine/internal/circuit"
	"market-structure-engine/internal/events"
	"market-structure-engine/internal/execution"
	"market-structure-engine/internal/memory"
	"market-structure-engine/internal/quality"
	"market-structure-engine/internal/regime"
	"market-structure-engine/internal/risk"
	"market-structure-engine/internal/scoring"
	"market-structure-engine/internal/signal"
	"market-structure-engine/internal/structure"
)

// Block reasons recorded on non-emitted signals
const (
	ReasonDataQuality    = "data_quality"
	ReasonNoBias         = "no_directional_bias"
	ReasonBelowThreshold = "below_threshold"
	ReasonBreakerOpen    = "breaker_open"
	ReasonExecutionGuard = "execution_guard"
	ReasonRiskPlan       = "risk_plan"
)

// Input is one evaluation request. Optional evidence left nil or zero
// defaults to neutral and never biases the score downward.
type Input struct {
	Batch     candle.Batch
	PriorTail []candle.Candle // Tail of the previous batch for continuity checks

	// Optional factor evidence
	OrderflowImbalance *float64 // [0,1], nil means neutral
	ExternalAdjustment float64  // Signed points, clamped at scoring time

	FundingRate float64
	Market      *execution.Snapshot // Live book snapshot for the guard
}

// Config holds engine-level parameters
type Config struct {
	AccountEquity    float64 `json:"account_equity"`    // Quote-denominated, sizes guard checks
	MomentumLookback int     `json:"momentum_lookback"` // Candles for the momentum factor
	VolumeLookback   int     `json:"volume_lookback"`
}

// DefaultConfig returns standard engine parameters
func DefaultConfig() Config {
	return Config{
		AccountEquity:    100_000,
		MomentumLookback: 10,
		VolumeLookback:   5,
	}
}

// Engine wires every pipeline stage together
type Engine struct {
	cfg        Config
	gate       *quality.Gate
	detector   *structure.Detector
	memory     *memory.Store
	holder     *scoring.TableHolder
	classifier *regime.Classifier
	guard      *execution.Guard
	breakers   *circuit.Manager
	planner    *risk.Planner
	records    signal.Store
	bus        *events.EventBus
	logger     zerolog.Logger
	now        func() time.Time
}

// Deps bundles the engine's collaborators
type Deps struct {
	Gate       *quality.Gate
	Detector   *structure.Detector
	Memory     *memory.Store
	Holder     *scoring.TableHolder
	Classifier *regime.Classifier
	Guard      *execution.Guard
	Breakers   *circuit.Manager
	Planner    *risk.Planner
	Records    signal.Store
	Bus        *events.EventBus
	Logger     zerolog.Logger
}

// New creates an engine and wires breaker transitions onto the event bus
func New(cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if cfg.AccountEquity <= 0 {
		cfg.AccountEquity = def.AccountEquity
	}
	if cfg.MomentumLookback <= 0 {
		cfg.MomentumLookback = def.MomentumLookback
	}
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = def.VolumeLookback
	}

	e := &Engine{
		cfg:        cfg,
		gate:       deps.Gate,
		detector:   deps.Detector,
		memory:     deps.Memory,
		holder:     deps.Holder,
		classifier: deps.Classifier,
		guard:      deps.Guard,
		breakers:   deps.Breakers,
		planner:    deps.Planner,
		records:    deps.Records,
		bus:        deps.Bus,
		logger:     deps.Logger.With().Str("component", "engine").Logger(),
		now:        time.Now,
	}
	if e.bus != nil {
		e.breakers.OnTransition(func(symbol string, from, to circuit.BreakerState, reason string) {
			e.bus.PublishBreakerTransition(symbol, string(from), string(to), reason)
		})
	}
	return e
}

// SetClock overrides the time source for deterministic tests
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate runs the pipeline for one batch. It always persists a record of
// the evaluation, emitted or not; the returned record carries the block
// reason when Emitted is false.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*signal.Record, error) {
	batch := input.Batch
	rec := signal.NewRecord(batch.Symbol, batch.Timeframe, e.now())
	log := e.logger.With().Str("symbol", batch.Symbol).Str("timeframe", batch.Timeframe).Logger()

	// A failed batch blocks even when the gate serves a cached good report;
	// the cached report describes earlier data, not this batch's candles.
	if _, err := e.gate.Check(batch, input.PriorTail); err != nil {
		var qerr *quality.DataQualityError
		if !errors.As(err, &qerr) {
			return nil, fmt.Errorf("quality gate: %w", err)
		}
		log.Warn().Float64("score", qerr.Report.Score).Msg("Batch failed quality gate")
		return e.block(ctx, rec, ReasonDataQuality)
	}

	detected := e.detector.Detect(batch.Candles)
	key := memory.Key{Symbol: batch.Symbol, Timeframe: batch.Timeframe}
	memCtx := e.memory.Update(key, detected, e.now())

	rec.Factors = e.buildFactors(memCtx, batch.Candles, input)
	rec.Regime = e.classifyRegime(key.String(), batch.Candles, input.FundingRate, memCtx, log)

	table := e.holder.Active()
	result := scoring.Score(rec.Factors, table)
	rec.Score = result.Value
	rec.Tier = result.Tier

	direction, ok := biasDirection(memCtx.Bias)
	if !ok {
		return e.block(ctx, rec, ReasonNoBias)
	}

	pass, threshold := e.classifier.Filter(result.Value, rec.Regime, table.ThresholdFor(key.String()))
	if !pass {
		log.Debug().Float64("score", result.Value).Float64("threshold", threshold).Msg("Score below regime-adjusted threshold")
		return e.block(ctx, rec, ReasonBelowThreshold)
	}

	breaker := e.breakers.ForSymbol(batch.Symbol)
	if err := breaker.Allow(); err != nil {
		var open *circuit.OpenError
		if errors.As(err, &open) {
			log.Warn().Str("reason", open.Reason).Time("cooldown_until", open.CooldownUntil).Msg("Circuit breaker blocked emission")
		}
		return e.block(ctx, rec, ReasonBreakerOpen)
	}

	entry := batch.Candles[len(batch.Candles)-1].Close
	decision, err := e.planner.Plan(direction, entry, stopAnchor(memCtx, direction), rec.Regime.SizeMultiplier)
	if err != nil {
		log.Warn().Err(err).Msg("Risk planning failed")
		return e.block(ctx, rec, ReasonRiskPlan)
	}
	rec.Risk = &decision

	intended := e.cfg.AccountEquity * decision.PositionSizeFraction
	if err := e.guard.Check(batch.Symbol, input.Market, intended); err != nil {
		var gerr *execution.GuardError
		if errors.As(err, &gerr) {
			log.Warn().Str("reason", string(gerr.Reason)).Msg("Execution guard denied emission")
		}
		return e.block(ctx, rec, ReasonExecutionGuard)
	}

	rec.Emitted = true
	if err := e.records.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting signal record: %w", err)
	}
	if e.bus != nil {
		e.bus.PublishSignalEmitted(rec.ID, rec.Symbol, rec.Timeframe, rec.Score, string(rec.Tier))
	}
	log.Info().Str("id", rec.ID).Float64("score", rec.Score).Str("tier", string(rec.Tier)).Msg("Signal emitted")
	return rec, nil
}

// UpdateOutcome resolves a signal and feeds the result to the symbol's
// circuit breaker. Repeat reports for the same id are ignored.
func (e *Engine) UpdateOutcome(ctx context.Context, id string, outcome signal.Outcome, realizedReturn float64) error {
	rec, err := e.records.Get(ctx, id)
	if err != nil {
		return err
	}
	if !rec.Resolve(outcome, realizedReturn, e.now()) {
		return nil
	}
	if err := e.records.Update(ctx, rec); err != nil {
		return fmt.Errorf("persisting outcome: %w", err)
	}
	if rec.Emitted {
		e.breakers.ForSymbol(rec.Symbol).RecordOutcome(rec.ID, circuit.Outcome(outcome), realizedReturn)
	}
	if e.bus != nil {
		e.bus.PublishOutcomeRecorded(rec.ID, rec.Symbol, string(outcome), realizedReturn)
	}
	return nil
}

func (e *Engine) block(ctx context.Context, rec *signal.Record, reason string) (*signal.Record, error) {
	rec.Emitted = false
	rec.Reason = reason
	if err := e.records.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting blocked record: %w", err)
	}
	if e.bus != nil {
		e.bus.PublishSignalBlocked(rec.Symbol, rec.Timeframe, reason, rec.Score)
	}
	return rec, nil
}

func (e *Engine) buildFactors(memCtx memory.Context, candles []candle.Candle, input Input) scoring.Factors {
	factors := scoring.Factors{
		StructureConfidence: scoring.StructureConfidence(memCtx),
		OrderflowImbalance:  scoring.NeutralFactor,
		Momentum:            scoring.Momentum(candles, e.cfg.MomentumLookback),
		VolumeRegime:        scoring.VolumeRegime(candles, e.cfg.VolumeLookback),
		ExternalAdjustment:  input.ExternalAdjustment,
	}
	if input.OrderflowImbalance != nil {
		factors.OrderflowImbalance = *input.OrderflowImbalance
	}
	return factors
}

func (e *Engine) classifyRegime(key string, candles []candle.Candle, fundingRate float64, memCtx memory.Context, log zerolog.Logger) regime.State {
	e.classifier.Observe(key, scoring.Volatility(candles))
	trendConfirmed := memCtx.Bias != memory.BiasNeutral
	state, err := e.classifier.Classify(key, fundingRate, trendConfirmed)
	if err != nil {
		var unknown *regime.UnknownError
		if errors.As(err, &unknown) {
			log.Debug().Int("samples", unknown.Samples).Int("required", unknown.Required).Msg("Regime history too short, using conservative state")
		}
	}
	return state
}

// biasDirection maps an instrument bias to a trade direction
func biasDirection(bias memory.Bias) (structure.Direction, bool) {
	switch bias {
	case memory.BiasBullish:
		return structure.Bullish, true
	case memory.BiasBearish:
		return structure.Bearish, true
	default:
		return "", false
	}
}

// stopAnchor picks the structural level protecting a trade: the aligned
// order block's far boundary when one exists, else the last swept level
func stopAnchor(memCtx memory.Context, direction structure.Direction) float64 {
	if ob, ok := memCtx.LatestByKind[structure.OrderBlock]; ok && ob.Direction == direction {
		if direction == structure.Bullish {
			return ob.PriceLow
		}
		return ob.PriceHigh
	}
	if sweep, ok := memCtx.LatestByKind[structure.LiquiditySweep]; ok && sweep.Direction == direction {
		return sweep.Price
	}
	return 0
}
