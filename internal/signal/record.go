// Package signal defines the record emitted for every evaluated setup and
// the outcome lifecycle used by the circuit breaker and the retrainer.
package signal

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"market-structure-engine/internal/regime"
	"market-structure-engine/internal/risk"
	"market-structure-engine/internal/scoring"
)

// Outcome is the resolved result of a signal
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// Record captures one full evaluation, whether or not it was emitted.
// Resolved records become the training set for weight retraining.
type Record struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Factors   scoring.Factors `json:"factors"`
	Score     float64         `json:"score"`
	Tier      scoring.Tier    `json:"tier"`
	Regime    regime.State    `json:"regime"`
	Risk      *risk.Decision  `json:"risk,omitempty"`
	Emitted   bool            `json:"emitted"`
	Reason    string          `json:"reason,omitempty"` // Populated when not emitted

	Outcome        Outcome    `json:"outcome"`
	RealizedReturn float64    `json:"realized_return"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// NewRecord creates a pending record with a fresh id
func NewRecord(symbol, timeframe string, at time.Time) *Record {
	return &Record{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: at,
		Outcome:   OutcomePending,
	}
}

// Resolved reports whether the record has a final outcome
func (r *Record) Resolved() bool {
	return r.Outcome != OutcomePending && r.Outcome != ""
}

// Resolve sets the outcome once. Repeat calls with any outcome are ignored
// so reporting stays idempotent.
func (r *Record) Resolve(outcome Outcome, realizedReturn float64, at time.Time) bool {
	if r.Resolved() {
		return false
	}
	r.Outcome = outcome
	r.RealizedReturn = realizedReturn
	r.ResolvedAt = &at
	return true
}

// NotFoundError is returned when an outcome references an unknown signal id
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("signal record not found: %s", e.ID)
}
