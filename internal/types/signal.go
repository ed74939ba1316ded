package types

import "time"

type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// Opposite returns the reverse side; NEUTRAL stays NEUTRAL.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionNeutral
	}
}

// IsLong reports whether d is LONG.
func (d Direction) IsLong() bool { return d == DirectionLong }

type Strength string

const (
	StrengthWeak   Strength = "WEAK"
	StrengthMedium Strength = "MEDIUM"
	StrengthStrong Strength = "STRONG"
)

// AtLeastMedium reports whether s is MEDIUM or STRONG.
func (s Strength) AtLeastMedium() bool {
	return s == StrengthMedium || s == StrengthStrong
}

// ScoreBreakdown holds the bounded sub-scores: OI [0,3], price [0,2],
// sentiment [0,3], funding [0,2].
type ScoreBreakdown struct {
	OI        float64 `json:"oi"`
	Price     float64 `json:"price"`
	Sentiment float64 `json:"sentiment"`
	Funding   float64 `json:"funding"`
}

// Total sums the sub-scores.
func (b ScoreBreakdown) Total() float64 {
	return b.OI + b.Price + b.Sentiment + b.Funding
}

// TradingSignal is derived from exactly one anomaly and is never mutated.
type TradingSignal struct {
	ID         string         `json:"id"`
	Symbol     string         `json:"symbol"`
	Direction  Direction      `json:"direction"`
	Strength   Strength       `json:"strength"`
	Score      float64        `json:"score"`
	Breakdown  ScoreBreakdown `json:"breakdown"`
	Confidence float64        `json:"confidence"`
	EntryPrice float64        `json:"entry_price"`
	StopLoss   float64        `json:"stop_loss"`
	TakeProfit float64        `json:"take_profit"`
	Anomaly    AnomalyEvent   `json:"anomaly"`
	CreatedAt  time.Time      `json:"created_at"`
}
