package types

import "time"

// Severity grades an anomaly as reported by the OI monitor.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnomalyEvent is an abnormal open-interest change over a time window.
// Optional market context is nil when the producer did not supply it.
type AnomalyEvent struct {
	Symbol          string    `json:"symbol"`
	Window          string    `json:"window,omitempty"`
	OIChangePercent float64   `json:"oi_change_percent"`
	OIBefore        float64   `json:"oi_before,omitempty"`
	OIAfter         float64   `json:"oi_after,omitempty"`
	PriceBefore     float64   `json:"price_before"`
	PriceAfter      float64   `json:"price_after"`
	Severity        Severity  `json:"severity"`
	DetectedAt      time.Time `json:"detected_at"`

	TopTraderRatio    *float64 `json:"top_trader_ratio,omitempty"`
	TopAccountRatio   *float64 `json:"top_account_ratio,omitempty"`
	GlobalRatio       *float64 `json:"global_ratio,omitempty"`
	TakerBuySellRatio *float64 `json:"taker_buy_sell_ratio,omitempty"`
	FundingRate       *float64 `json:"funding_rate,omitempty"`

	DistanceFromLow2h   *float64 `json:"distance_from_low_2h,omitempty"`
	DistanceFromHigh2h  *float64 `json:"distance_from_high_2h,omitempty"`
	DistanceFromLowDay  *float64 `json:"distance_from_low_day,omitempty"`
	DistanceFromHighDay *float64 `json:"distance_from_high_day,omitempty"`
}

// PriceChangePercent is the move from PriceBefore to PriceAfter in percent.
func (e AnomalyEvent) PriceChangePercent() float64 {
	if e.PriceBefore <= 0 {
		return 0
	}
	return (e.PriceAfter - e.PriceBefore) / e.PriceBefore * 100
}

// EntryPrice is the latest observed price of the anomaly.
func (e AnomalyEvent) EntryPrice() float64 {
	if e.PriceAfter > 0 {
		return e.PriceAfter
	}
	return e.PriceBefore
}

// SentimentCount counts the populated long/short and taker ratios.
func (e AnomalyEvent) SentimentCount() int {
	n := 0
	for _, v := range []*float64{e.TopTraderRatio, e.TopAccountRatio, e.GlobalRatio, e.TakerBuySellRatio} {
		if v != nil {
			n++
		}
	}
	return n
}
