// Package circuit implements the loss-triggered protective state machine
// that halts signal emission after sustained losses.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"market-structure-engine/internal/timeutil"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Emission halted
	StateHalfOpen BreakerState = "half_open" // One trial signal permitted
)

// Outcome of a resolved signal, as reported back by the evaluation process
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// OpenError is returned when emission is attempted while the breaker is open
type OpenError struct {
	Symbol        string
	Reason        string
	CooldownUntil time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s: %s",
		e.Symbol, e.CooldownUntil.Format(time.RFC3339), e.Reason)
}

// Config holds circuit breaker configuration
type Config struct {
	Enabled              bool              `json:"enabled"`
	MaxConsecutiveLosses int               `json:"max_consecutive_losses"`
	MaxDrawdownPercent   float64           `json:"max_drawdown_percent"` // Trailing drawdown trip limit
	CooldownBase         timeutil.Duration `json:"cooldown_base"`
	CooldownMax          timeutil.Duration `json:"cooldown_max"` // Backoff cap
	SeenLimit            int               `json:"seen_limit"`   // Outcome ids remembered for idempotency
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxConsecutiveLosses: 3,
		MaxDrawdownPercent:   5.0,
		CooldownBase:         timeutil.Duration(30 * time.Minute),
		CooldownMax:          timeutil.Duration(4 * time.Hour),
		SeenLimit:            1024,
	}
}

// Snapshot is a read-only view of one breaker's state
type Snapshot struct {
	Symbol            string       `json:"symbol"`
	State             BreakerState `json:"state"`
	ConsecutiveLosses int          `json:"consecutive_losses"`
	TrailingDrawdown  float64      `json:"trailing_drawdown"`
	TripReason        string       `json:"trip_reason,omitempty"`
	OpenedAt          time.Time    `json:"opened_at,omitempty"`
	CooldownUntil     time.Time    `json:"cooldown_until,omitempty"`
}

// Breaker guards one instrument. closed -> open on consecutive losses or
// drawdown; after the cooldown a single half-open trial decides between
// closing and re-opening with doubled cooldown.
type Breaker struct {
	mu sync.Mutex

	cfg    Config
	symbol string
	now    func() time.Time

	state             BreakerState
	consecutiveLosses int
	equity            float64 // Cumulative realized return
	peakEquity        float64
	tripReason        string
	openedAt          time.Time
	cooldownUntil     time.Time
	cooldown          time.Duration
	trialInFlight     bool

	onTransition func(symbol string, from, to BreakerState, reason string)

	// Outcome ids already applied; duplicate reports must not double-count
	seen      map[string]Outcome
	seenOrder []string
}

// NewBreaker creates a closed breaker for one symbol
func NewBreaker(symbol string, cfg Config) *Breaker {
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = 3
	}
	if cfg.MaxDrawdownPercent <= 0 {
		cfg.MaxDrawdownPercent = 5.0
	}
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = timeutil.Duration(30 * time.Minute)
	}
	if cfg.CooldownMax <= 0 {
		cfg.CooldownMax = timeutil.Duration(4 * time.Hour)
	}
	if cfg.SeenLimit <= 0 {
		cfg.SeenLimit = 1024
	}
	return &Breaker{
		cfg:      cfg,
		symbol:   symbol,
		now:      time.Now,
		state:    StateClosed,
		cooldown: cfg.CooldownBase.Std(),
		seen:     make(map[string]Outcome),
	}
}

// SetClock overrides the time source for tests
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// OnTransition registers a callback fired on every state change
func (b *Breaker) OnTransition(fn func(symbol string, from, to BreakerState, reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether a signal may be emitted now. While open it returns
// an *OpenError; when the cooldown has elapsed it moves to half-open and
// grants exactly one trial.
func (b *Breaker) Allow() error {
	if !b.cfg.Enabled {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Before(b.cooldownUntil) {
			return &OpenError{Symbol: b.symbol, Reason: b.tripReason, CooldownUntil: b.cooldownUntil}
		}
		b.transition(StateHalfOpen, "cooldown elapsed")
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return &OpenError{Symbol: b.symbol, Reason: "half-open trial already in flight", CooldownUntil: b.cooldownUntil}
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// RecordOutcome applies a resolved signal outcome. Repeated reports for the
// same id are ignored, making outcome delivery idempotent.
func (b *Breaker) RecordOutcome(id string, outcome Outcome, realizedReturn float64) {
	if !b.cfg.Enabled {
		return
	}
	if math.IsNaN(realizedReturn) || math.IsInf(realizedReturn, 0) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.seen[id]; dup {
		return
	}
	b.remember(id, outcome)

	b.equity += realizedReturn
	if b.equity > b.peakEquity {
		b.peakEquity = b.equity
	}

	switch outcome {
	case OutcomeWin:
		b.consecutiveLosses = 0
		if b.state == StateHalfOpen {
			b.trialInFlight = false
			b.cooldown = b.cfg.CooldownBase.Std()
			b.transition(StateClosed, "half-open trial won")
		}
	case OutcomeLoss:
		b.consecutiveLosses++
		if b.state == StateHalfOpen {
			b.trialInFlight = false
			b.reopen("half-open trial lost")
			return
		}
		b.checkAndTrip()
	case OutcomeBreakeven:
		// Not a loss; a flat half-open trial resolves in the breaker's favor
		if b.state == StateHalfOpen {
			b.trialInFlight = false
			b.cooldown = b.cfg.CooldownBase.Std()
			b.transition(StateClosed, "half-open trial flat")
		}
	}
}

// checkAndTrip trips the breaker when loss limits are breached; caller holds b.mu
func (b *Breaker) checkAndTrip() {
	if b.state == StateOpen {
		return
	}

	drawdown := b.peakEquity - b.equity
	var reason string
	if b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		reason = fmt.Sprintf("consecutive losses: %d", b.consecutiveLosses)
	} else if drawdown >= b.cfg.MaxDrawdownPercent {
		reason = fmt.Sprintf("trailing drawdown: %.2f%%", drawdown)
	}
	if reason != "" {
		b.cooldown = b.cfg.CooldownBase.Std()
		b.open(reason)
	}
}

// reopen restarts the open state with doubled cooldown; caller holds b.mu
func (b *Breaker) reopen(reason string) {
	b.cooldown *= 2
	if b.cooldown > b.cfg.CooldownMax.Std() {
		b.cooldown = b.cfg.CooldownMax.Std()
	}
	b.open(reason)
}

// open moves to StateOpen using the current cooldown; caller holds b.mu
func (b *Breaker) open(reason string) {
	b.tripReason = reason
	b.openedAt = b.now()
	b.cooldownUntil = b.openedAt.Add(b.cooldown)
	b.transition(StateOpen, reason)
}

// transition changes state and fires the callback; caller holds b.mu
func (b *Breaker) transition(to BreakerState, reason string) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		go b.onTransition(b.symbol, from, to, reason)
	}
}

// remember records an applied outcome id, evicting the oldest beyond the
// limit; caller holds b.mu
func (b *Breaker) remember(id string, outcome Outcome) {
	b.seen[id] = outcome
	b.seenOrder = append(b.seenOrder, id)
	if len(b.seenOrder) > b.cfg.SeenLimit {
		oldest := b.seenOrder[0]
		b.seenOrder = b.seenOrder[1:]
		delete(b.seen, oldest)
	}
}

// ForceReset manually closes the breaker and clears loss counters
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveLosses = 0
	b.tripReason = ""
	b.trialInFlight = false
	b.cooldown = b.cfg.CooldownBase.Std()
	b.transition(StateClosed, "manual reset")
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker
func (b *Breaker) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Symbol:            b.symbol,
		State:             b.state,
		ConsecutiveLosses: b.consecutiveLosses,
		TrailingDrawdown:  b.peakEquity - b.equity,
		TripReason:        b.tripReason,
		OpenedAt:          b.openedAt,
		CooldownUntil:     b.cooldownUntil,
	}
}

// Manager keys breakers by symbol, creating them on first use
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker

	onTransition func(symbol string, from, to BreakerState, reason string)
}

// NewManager creates a breaker manager with shared configuration
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// OnTransition registers a callback applied to every breaker
func (m *Manager) OnTransition(fn func(symbol string, from, to BreakerState, reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
	for _, b := range m.breakers {
		b.OnTransition(fn)
	}
}

// ForSymbol returns the breaker for a symbol, creating it if needed
func (m *Manager) ForSymbol(symbol string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[symbol]
	if !ok {
		b = NewBreaker(symbol, m.cfg)
		if m.onTransition != nil {
			b.OnTransition(m.onTransition)
		}
		m.breakers[symbol] = b
	}
	return b
}

// Snapshots returns the state of every tracked breaker
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Stats())
	}
	return out
}
