package structure

import (
	"sort"

	"market-structure-engine/internal/candle"
)

// Config holds detection thresholds. All values have working defaults so an
// empty Config is usable; thresholds are tunable without code changes.
type Config struct {
	SwingLookback      int     `json:"swing_lookback"`       // Candles each side of a swing point
	MinBreakPercent    float64 `json:"min_break_percent"`    // Minimum % move beyond a swing to count as a break
	OrderBlockValidity int     `json:"order_block_validity"` // Candles an order block stays valid
	MinGapPercent      float64 `json:"min_gap_percent"`      // Minimum FVG size as % of price
}

// DefaultConfig returns the standard detection thresholds
func DefaultConfig() Config {
	return Config{
		SwingLookback:      5,
		MinBreakPercent:    0.1,
		OrderBlockValidity: 50,
		MinGapPercent:      0.1,
	}
}

// Detector identifies structural events in a candle window.
// Detection is deterministic: identical input and config always produce an
// identical event list. No wall-clock reads, no randomness.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector, filling zero config values with defaults
func NewDetector(cfg Config) *Detector {
	if cfg.SwingLookback <= 0 {
		cfg.SwingLookback = 5
	}
	if cfg.MinBreakPercent <= 0 {
		cfg.MinBreakPercent = 0.1
	}
	if cfg.OrderBlockValidity <= 0 {
		cfg.OrderBlockValidity = 50
	}
	if cfg.MinGapPercent <= 0 {
		cfg.MinGapPercent = 0.1
	}
	return &Detector{cfg: cfg}
}

// swing marks a local extreme confirmed SwingLookback candles after it forms
type swing struct {
	index int
	price float64
	high  bool
}

// Detect scans the window and returns all structural events in candle order
func (d *Detector) Detect(candles []candle.Candle) []Event {
	minWindow := 2*d.cfg.SwingLookback + 1
	if len(candles) < minWindow {
		return nil
	}

	swings := d.findSwings(candles)

	var events []Event
	events = append(events, d.detectBreaks(candles, swings)...)
	events = append(events, d.detectOrderBlocks(candles, events)...)
	events = append(events, d.detectFairValueGaps(candles)...)
	events = append(events, d.detectLiquiditySweeps(candles, swings)...)

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CandleIndex < events[j].CandleIndex
	})

	return events
}

// findSwings locates local swing highs and lows using the configured lookback
func (d *Detector) findSwings(candles []candle.Candle) []swing {
	lb := d.cfg.SwingLookback
	var swings []swing

	for i := lb; i < len(candles)-lb; i++ {
		isHigh := true
		isLow := true
		for j := i - lb; j <= i+lb; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			swings = append(swings, swing{index: i, price: candles[i].High, high: true})
		}
		if isLow {
			swings = append(swings, swing{index: i, price: candles[i].Low, high: false})
		}
	}

	return swings
}

// detectBreaks walks the window tracking the most recent confirmed swing on
// each side. A close beyond a swing by MinBreakPercent emits a break: with the
// trend it is a BreakOfStructure, against it a ChangeOfCharacter. When one
// candle breaks both sides the close direction wins (most recent event wins).
func (d *Detector) detectBreaks(candles []candle.Candle, swings []swing) []Event {
	lb := d.cfg.SwingLookback
	var events []Event

	// Swings indexed by the candle at which they become confirmed
	confirmedAt := make(map[int][]swing)
	for _, s := range swings {
		confirmedAt[s.index+lb] = append(confirmedAt[s.index+lb], s)
	}

	var lastHigh, lastLow *swing
	var trend Direction

	for i := 0; i < len(candles); i++ {
		for _, s := range confirmedAt[i] {
			s := s
			if s.high {
				lastHigh = &s
			} else {
				lastLow = &s
			}
		}

		c := candles[i]

		brokeUp := lastHigh != nil && c.Close > lastHigh.price*(1+d.cfg.MinBreakPercent/100)
		brokeDown := lastLow != nil && c.Close < lastLow.price*(1-d.cfg.MinBreakPercent/100)
		if brokeUp && brokeDown {
			// Conflicting breaks in one candle: resolve by close direction
			if c.IsBullish() {
				brokeDown = false
			} else {
				brokeUp = false
			}
		}

		if brokeUp {
			excess := (c.Close - lastHigh.price) / lastHigh.price * 100
			kind := BreakOfStructure
			if trend == Bearish {
				kind = ChangeOfCharacter
			}
			events = append(events, Event{
				Kind:        kind,
				Direction:   Bullish,
				Time:        c.OpenTime,
				CandleIndex: i,
				Strength:    breakStrength(excess, d.cfg.MinBreakPercent),
				Price:       lastHigh.price,
			})
			trend = Bullish
			lastHigh = nil
		} else if brokeDown {
			excess := (lastLow.price - c.Close) / lastLow.price * 100
			kind := BreakOfStructure
			if trend == Bullish {
				kind = ChangeOfCharacter
			}
			events = append(events, Event{
				Kind:        kind,
				Direction:   Bearish,
				Time:        c.OpenTime,
				CandleIndex: i,
				Strength:    breakStrength(excess, d.cfg.MinBreakPercent),
				Price:       lastLow.price,
			})
			trend = Bearish
			lastLow = nil
		}
	}

	return events
}

// breakStrength scales break distance into [0,1]: a break at exactly the
// minimum threshold scores 0.25, three times the threshold or more scores 1.0
func breakStrength(excessPercent, minBreakPercent float64) float64 {
	s := 0.25 + 0.75*(excessPercent-minBreakPercent)/(2*minBreakPercent)
	if s < 0.25 {
		s = 0.25
	}
	if s > 1 {
		s = 1
	}
	return s
}

// detectOrderBlocks finds, for each break event, the last opposite-direction
// candle preceding the directional move and tracks how price treats the zone
// within the validity window.
func (d *Detector) detectOrderBlocks(candles []candle.Candle, breaks []Event) []Event {
	var events []Event

	for _, b := range breaks {
		if b.Kind != BreakOfStructure && b.Kind != ChangeOfCharacter {
			continue
		}

		// Walk back over the impulse move to the last opposing candle
		obIndex := -1
		for j := b.CandleIndex - 1; j >= 0 && j >= b.CandleIndex-d.cfg.SwingLookback*2; j-- {
			c := candles[j]
			if b.Direction == Bullish && c.IsBearish() {
				obIndex = j
				break
			}
			if b.Direction == Bearish && c.IsBullish() {
				obIndex = j
				break
			}
		}
		if obIndex < 0 {
			continue
		}

		ob := candles[obIndex]
		events = append(events, Event{
			Kind:        OrderBlock,
			Direction:   b.Direction,
			Time:        ob.OpenTime,
			CandleIndex: obIndex,
			Strength:    b.Strength,
			PriceHigh:   ob.High,
			PriceLow:    ob.Low,
			Mitigation:  d.mitigationStatus(candles, obIndex, b.CandleIndex, b.Direction, ob.High, ob.Low),
		})
	}

	return events
}

// mitigationStatus classifies an order block zone against subsequent price
// action: untested if never revisited, mitigated if price closed through the
// far side, active if the window ends with price inside the zone, reacted if
// price entered and left the zone in the block's favor.
func (d *Detector) mitigationStatus(candles []candle.Candle, obIndex, breakIndex int, dir Direction, zoneHigh, zoneLow float64) MitigationStatus {
	end := breakIndex + d.cfg.OrderBlockValidity
	if end > len(candles) {
		end = len(candles)
	}

	touched := false
	for i := breakIndex + 1; i < end; i++ {
		c := candles[i]
		if dir == Bullish {
			if c.Low <= zoneHigh {
				touched = true
			}
			if c.Close < zoneLow {
				return MitigationMitigated
			}
		} else {
			if c.High >= zoneLow {
				touched = true
			}
			if c.Close > zoneHigh {
				return MitigationMitigated
			}
		}
	}

	if !touched {
		return MitigationUntested
	}

	last := candles[end-1]
	inside := last.Close <= zoneHigh && last.Close >= zoneLow
	if inside {
		return MitigationActive
	}
	return MitigationReacted
}

// detectFairValueGaps scans three-candle imbalances where candle 1 and
// candle 3 do not overlap
func (d *Detector) detectFairValueGaps(candles []candle.Candle) []Event {
	var events []Event

	for i := 0; i+2 < len(candles); i++ {
		c1 := candles[i]
		c2 := candles[i+1]
		c3 := candles[i+2]

		// Bullish FVG: gap between c1 high and c3 low
		if c1.High < c3.Low {
			gapPercent := (c3.Low - c1.High) / c1.High * 100
			if gapPercent >= d.cfg.MinGapPercent {
				events = append(events, Event{
					Kind:        FairValueGap,
					Direction:   Bullish,
					Time:        c2.OpenTime,
					CandleIndex: i + 1,
					Strength:    gapStrength(gapPercent, d.cfg.MinGapPercent),
					Upper:       c3.Low,
					Lower:       c1.High,
					Fill:        fillStatus(candles[i+3:], Bullish, c3.Low, c1.High),
				})
			}
		}

		// Bearish FVG: gap between c1 low and c3 high
		if c1.Low > c3.High {
			gapPercent := (c1.Low - c3.High) / c3.High * 100
			if gapPercent >= d.cfg.MinGapPercent {
				events = append(events, Event{
					Kind:        FairValueGap,
					Direction:   Bearish,
					Time:        c2.OpenTime,
					CandleIndex: i + 1,
					Strength:    gapStrength(gapPercent, d.cfg.MinGapPercent),
					Upper:       c1.Low,
					Lower:       c3.High,
					Fill:        fillStatus(candles[i+3:], Bearish, c1.Low, c3.High),
				})
			}
		}
	}

	return events
}

func gapStrength(gapPercent, minGapPercent float64) float64 {
	s := gapPercent / (minGapPercent * 5)
	if s > 1 {
		s = 1
	}
	if s < 0.2 {
		s = 0.2
	}
	return s
}

// fillStatus reports how much of the gap later candles traded through
func fillStatus(later []candle.Candle, dir Direction, upper, lower float64) FillStatus {
	entered := false
	for _, c := range later {
		if dir == Bullish {
			// Price trading back down into the gap
			if c.Low <= lower {
				return FillFilled
			}
			if c.Low < upper {
				entered = true
			}
		} else {
			if c.High >= upper {
				return FillFilled
			}
			if c.High > lower {
				entered = true
			}
		}
	}
	if entered {
		return FillPartiallyFilled
	}
	return FillUnfilled
}

// detectLiquiditySweeps finds candles that pierce a confirmed swing extreme
// but close back inside it, clearing resting stops without a real break
func (d *Detector) detectLiquiditySweeps(candles []candle.Candle, swings []swing) []Event {
	lb := d.cfg.SwingLookback
	var events []Event

	for _, s := range swings {
		// Only candles after the swing is confirmed can sweep it
		for i := s.index + lb; i < len(candles); i++ {
			c := candles[i]
			if s.high {
				if c.High > s.price && c.Close < s.price {
					wick := (c.High - s.price) / s.price * 100
					events = append(events, Event{
						Kind:        LiquiditySweep,
						Direction:   Bearish, // stops above cleared, implies downside
						Time:        c.OpenTime,
						CandleIndex: i,
						Strength:    sweepStrength(wick),
						Price:       s.price,
					})
					break
				}
				if c.Close > s.price {
					// Closed beyond the extreme. The next candle may still
					// reclaim the level, which makes the pair a sweep rather
					// than a break.
					if i+1 < len(candles) && candles[i+1].Close < s.price {
						next := candles[i+1]
						high := c.High
						if next.High > high {
							high = next.High
						}
						wick := (high - s.price) / s.price * 100
						events = append(events, Event{
							Kind:        LiquiditySweep,
							Direction:   Bearish,
							Time:        next.OpenTime,
							CandleIndex: i + 1,
							Strength:    sweepStrength(wick),
							Price:       s.price,
						})
					}
					break
				}
			} else {
				if c.Low < s.price && c.Close > s.price {
					wick := (s.price - c.Low) / s.price * 100
					events = append(events, Event{
						Kind:        LiquiditySweep,
						Direction:   Bullish,
						Time:        c.OpenTime,
						CandleIndex: i,
						Strength:    sweepStrength(wick),
						Price:       s.price,
					})
					break
				}
				if c.Close < s.price {
					if i+1 < len(candles) && candles[i+1].Close > s.price {
						next := candles[i+1]
						low := c.Low
						if next.Low < low {
							low = next.Low
						}
						wick := (s.price - low) / s.price * 100
						events = append(events, Event{
							Kind:        LiquiditySweep,
							Direction:   Bullish,
							Time:        next.OpenTime,
							CandleIndex: i + 1,
							Strength:    sweepStrength(wick),
							Price:       s.price,
						})
					}
					break
				}
			}
		}
	}

	return events
}

func sweepStrength(wickPercent float64) float64 {
	s := 0.3 + wickPercent
	if s > 1 {
		s = 1
	}
	return s
}
