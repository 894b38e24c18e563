// Package retrain adjusts scoring weights from resolved signal outcomes. A
// candidate table only replaces the active one after passing a holdout
// accuracy gate, and it is always blended toward the fixed baseline so a
// bad training run cannot swing scoring violently.
package retrain

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"market-structure-engine/internal/scoring"
	"market-structure-engine/internal/signal"
)

// RejectedError reports why a training run did not produce a new table
type RejectedError struct {
	Reason   string
	Samples  int
	Accuracy float64
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("retrain rejected: %s (samples=%d accuracy=%.3f)", e.Reason, e.Samples, e.Accuracy)
}

// Config holds training parameters
type Config struct {
	MinSamples      int     `json:"min_samples"`      // Resolved outcomes required before training
	HoldoutFraction float64 `json:"holdout_fraction"` // Newest fraction held out for validation
	AccuracyFloor   float64 `json:"accuracy_floor"`   // Minimum holdout accuracy to accept
	BlendFactor     float64 `json:"blend_factor"`     // 0 keeps baseline, 1 takes the fit fully
	Epochs          int     `json:"epochs"`
	LearningRate    float64 `json:"learning_rate"`
}

// DefaultConfig returns conservative training parameters
func DefaultConfig() Config {
	return Config{
		MinSamples:      50,
		HoldoutFraction: 0.2,
		AccuracyFloor:   0.55,
		BlendFactor:     0.5,
		Epochs:          500,
		LearningRate:    0.1,
	}
}

// Trainer fits a logistic model over resolved records and publishes blended
// weight tables through the scoring table holder
type Trainer struct {
	store  signal.Store
	holder *scoring.TableHolder
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	onPublish func(context.Context, *scoring.WeightTable)
}

// NewTrainer creates a trainer, filling zero config values with defaults
func NewTrainer(store signal.Store, holder *scoring.TableHolder, cfg Config, logger zerolog.Logger) *Trainer {
	def := DefaultConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.HoldoutFraction <= 0 || cfg.HoldoutFraction >= 1 {
		cfg.HoldoutFraction = def.HoldoutFraction
	}
	if cfg.AccuracyFloor <= 0 {
		cfg.AccuracyFloor = def.AccuracyFloor
	}
	if cfg.BlendFactor <= 0 || cfg.BlendFactor > 1 {
		cfg.BlendFactor = def.BlendFactor
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = def.Epochs
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	return &Trainer{
		store:  store,
		holder: holder,
		cfg:    cfg,
		logger: logger.With().Str("component", "retrain").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the time source for deterministic tests
func (t *Trainer) SetClock(now func() time.Time) {
	t.now = now
}

// OnPublish registers a hook invoked after a table is swapped in, used to
// persist the table and notify consumers
func (t *Trainer) OnPublish(fn func(context.Context, *scoring.WeightTable)) {
	t.onPublish = fn
}

type sample struct {
	features [4]float64
	label    float64 // 1 win, 0 loss
}

// Retrain fits on resolved outcomes for the given instrument (empty strings
// train across all instruments), validates on the newest holdout slice and,
// if accepted, swaps in a blended table. The active table is untouched on
// any rejection.
func (t *Trainer) Retrain(ctx context.Context, symbol, timeframe string) (*scoring.WeightTable, error) {
	records, err := t.store.ListResolved(ctx, symbol, timeframe, 0)
	if err != nil {
		return nil, fmt.Errorf("loading resolved records: %w", err)
	}

	samples := make([]sample, 0, len(records))
	for _, rec := range records {
		// Breakeven outcomes carry no directional information
		if rec.Outcome == signal.OutcomeBreakeven {
			continue
		}
		s := sample{features: [4]float64{
			rec.Factors.StructureConfidence,
			rec.Factors.OrderflowImbalance,
			rec.Factors.Momentum,
			rec.Factors.VolumeRegime,
		}}
		if rec.Outcome == signal.OutcomeWin {
			s.label = 1
		}
		samples = append(samples, s)
	}

	if len(samples) < t.cfg.MinSamples {
		return nil, &RejectedError{Reason: "insufficient samples", Samples: len(samples)}
	}

	// Chronological split: train on the past, validate on the most recent
	// slice so the gate measures forward performance
	holdout := int(float64(len(samples)) * t.cfg.HoldoutFraction)
	if holdout < 1 {
		holdout = 1
	}
	train := samples[:len(samples)-holdout]
	valid := samples[len(samples)-holdout:]

	weights, bias, err := t.fit(ctx, train)
	if err != nil {
		return nil, err
	}

	accuracy := evaluate(valid, weights, bias)
	if accuracy < t.cfg.AccuracyFloor {
		t.logger.Warn().
			Float64("accuracy", accuracy).
			Float64("floor", t.cfg.AccuracyFloor).
			Int("samples", len(samples)).
			Msg("Candidate rejected below accuracy floor")
		return nil, &RejectedError{Reason: "below accuracy floor", Samples: len(samples), Accuracy: accuracy}
	}

	table := t.buildTable(weights)
	t.holder.Swap(table)
	if t.onPublish != nil {
		t.onPublish(ctx, table)
	}
	t.logger.Info().
		Int("version", table.Version).
		Float64("accuracy", accuracy).
		Int("samples", len(samples)).
		Msg("Published retrained weight table")
	return table, nil
}

// fit runs batch gradient descent on a logistic model, checking for
// cancellation between epochs
func (t *Trainer) fit(ctx context.Context, train []sample) ([4]float64, float64, error) {
	var w [4]float64
	var bias float64
	n := float64(len(train))

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return w, bias, fmt.Errorf("training cancelled: %w", ctx.Err())
		default:
		}

		var gw [4]float64
		var gb float64
		for _, s := range train {
			p := sigmoid(dot(w, s.features) + bias)
			diff := p - s.label
			for i := range gw {
				gw[i] += diff * s.features[i]
			}
			gb += diff
		}
		for i := range w {
			w[i] -= t.cfg.LearningRate * gw[i] / n
		}
		bias -= t.cfg.LearningRate * gb / n
	}
	return w, bias, nil
}

// buildTable converts fitted coefficients into a weight table blended toward
// the baseline. Negative coefficients floor at zero; the positive mass is
// scaled so the total weight matches the baseline total.
func (t *Trainer) buildTable(w [4]float64) *scoring.WeightTable {
	baseline := scoring.DefaultWeightTable()
	factors := []string{
		scoring.FactorStructure,
		scoring.FactorOrderflow,
		scoring.FactorMomentum,
		scoring.FactorVolume,
	}

	total := 0.0
	for _, f := range factors {
		total += baseline.Weight(f)
	}

	positive := 0.0
	for i := range w {
		if w[i] > 0 {
			positive += w[i]
		}
	}

	active := t.holder.Active()
	table := baseline.Clone()
	table.Version = active.Version + 1
	table.Source = "retrained"
	table.TrainedAt = t.now()
	if active.Thresholds != nil {
		table.Thresholds = make(map[string]float64, len(active.Thresholds))
		for k, v := range active.Thresholds {
			table.Thresholds[k] = v
		}
	}

	if positive <= 0 {
		// Degenerate fit, keep baseline weights at a bumped version
		return table
	}

	for i, f := range factors {
		fitted := 0.0
		if w[i] > 0 {
			fitted = w[i] / positive * total
		}
		table.FactorWeights[f] = baseline.Weight(f)*(1-t.cfg.BlendFactor) + fitted*t.cfg.BlendFactor
	}
	return table
}

func evaluate(valid []sample, w [4]float64, bias float64) float64 {
	if len(valid) == 0 {
		return 0
	}
	correct := 0
	for _, s := range valid {
		p := sigmoid(dot(w, s.features) + bias)
		predicted := 0.0
		if p >= 0.5 {
			predicted = 1
		}
		if predicted == s.label {
			correct++
		}
	}
	return float64(correct) / float64(len(valid))
}

func dot(w, x [4]float64) float64 {
	sum := 0.0
	for i := range w {
		sum += w[i] * x[i]
	}
	return sum
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
