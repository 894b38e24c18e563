package structure

import "time"

// EventKind identifies the type of structural event
type EventKind string

const (
	BreakOfStructure  EventKind = "break_of_structure"
	ChangeOfCharacter EventKind = "change_of_character"
	OrderBlock        EventKind = "order_block"
	FairValueGap      EventKind = "fair_value_gap"
	LiquiditySweep    EventKind = "liquidity_sweep"
)

// Direction is the implied direction of a structural event
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Opposite returns the opposing direction
func (d Direction) Opposite() Direction {
	if d == Bullish {
		return Bearish
	}
	return Bullish
}

// MitigationStatus tracks how price has interacted with an order block
type MitigationStatus string

const (
	MitigationUntested  MitigationStatus = "untested"
	MitigationReacted   MitigationStatus = "reacted"
	MitigationActive    MitigationStatus = "active"
	MitigationMitigated MitigationStatus = "mitigated"
)

// FillStatus tracks how much of a fair value gap has been filled
type FillStatus string

const (
	FillUnfilled        FillStatus = "unfilled"
	FillPartiallyFilled FillStatus = "partially_filled"
	FillFilled          FillStatus = "filled"
)

// Event is a detected structural event. Kind determines which of the
// optional fields are meaningful:
//   - BreakOfStructure, ChangeOfCharacter, LiquiditySweep: Price
//   - OrderBlock: PriceHigh, PriceLow, Mitigation
//   - FairValueGap: Upper, Lower, Fill
type Event struct {
	Kind        EventKind        `json:"kind"`
	Direction   Direction        `json:"direction"`
	Time        time.Time        `json:"time"`
	CandleIndex int              `json:"candle_index"`
	Strength    float64          `json:"strength"` // 0.0 to 1.0
	Price       float64          `json:"price,omitempty"`
	PriceHigh   float64          `json:"price_high,omitempty"`
	PriceLow    float64          `json:"price_low,omitempty"`
	Upper       float64          `json:"upper,omitempty"`
	Lower       float64          `json:"lower,omitempty"`
	Mitigation  MitigationStatus `json:"mitigation,omitempty"`
	Fill        FillStatus       `json:"fill,omitempty"`
}

// AllKinds lists every event kind for exhaustive consumers
func AllKinds() []EventKind {
	return []EventKind{
		BreakOfStructure,
		ChangeOfCharacter,
		OrderBlock,
		FairValueGap,
		LiquiditySweep,
	}
}
