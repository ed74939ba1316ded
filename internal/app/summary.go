package app

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"oitrader/internal/config"
	"oitrader/internal/logger"
)

// StartupSummary is the configuration digest printed once before the loops
// start.
type StartupSummary struct {
	Mode     string
	HTTPAddr string
	Strategy StrategySummary
	Risk     RiskSummary
	Targets  []string
	Stores   []string
}

type StrategySummary struct {
	Enabled       bool
	Type          string
	MinScore      float64
	MinConfidence float64
	MinOIChange   float64
	Directions    []string
}

type RiskSummary struct {
	MaxPositions     int
	PerSymbol        int
	SizePct          float64
	Leverage         string
	DailyLossLimit   float64
	LossStreakPause  string
	BreakevenTrigger float64
	TrailingStop     float64
	MaxHolding       string
}

func newStartupSummary(cfg config.Config) *StartupSummary {
	s := &StartupSummary{
		Mode: string(cfg.Trading.RunMode()),
		Strategy: StrategySummary{
			Enabled:       cfg.Strategy.Enabled,
			Type:          cfg.Strategy.Type,
			MinScore:      cfg.Strategy.MinSignalScore,
			MinConfidence: cfg.Strategy.MinConfidence,
			MinOIChange:   cfg.Strategy.MinOIChangePercent,
			Directions:    cfg.Trading.AllowedDirections,
		},
		Risk: RiskSummary{
			MaxPositions:     cfg.Risk.MaxPositions,
			PerSymbol:        cfg.Risk.MaxPositionsPerSymbol,
			SizePct:          cfg.Risk.PositionSizePct * 100,
			Leverage:         fmt.Sprintf("%dx / %dx / %dx (max %dx)", cfg.Risk.Leverage.Weak, cfg.Risk.Leverage.Medium, cfg.Risk.Leverage.Strong, cfg.Risk.MaxLeverage),
			DailyLossLimit:   cfg.Risk.DailyLossLimitUSDT,
			LossStreakPause:  fmt.Sprintf("%d losses -> %dm", cfg.Risk.MaxConsecutiveLosses, cfg.Risk.ConsecutiveLossPauseMinutes),
			BreakevenTrigger: cfg.Risk.BreakevenTriggerPercent,
			TrailingStop:     cfg.Risk.TrailingStopPercent,
			MaxHolding:       strconv.Itoa(cfg.Trading.MaxHoldingTimeMinutes) + "m",
		},
		Stores: []string{cfg.Store.OrdersPath, cfg.Store.AuditPath},
	}
	if cfg.HTTP.Enabled {
		s.HTTPAddr = cfg.HTTP.Addr
	}
	for _, t := range cfg.Risk.TakeProfitTargets {
		if t.Trailing {
			s.Targets = append(s.Targets, fmt.Sprintf("trailing %.0f%% qty cb=%.2f%% from +%.2f%%", t.Ratio*100, t.CallbackRate, t.Percent))
			continue
		}
		s.Targets = append(s.Targets, fmt.Sprintf("+%.2f%% x %.0f%% qty", t.Percent, t.Ratio*100))
	}
	return s
}

// Print writes the summary through the logger, one record per line.
func (s *StartupSummary) Print() {
	var buf strings.Builder
	s.Fprint(&buf)
	logger.InfoBlock(buf.String())
}

func (s *StartupSummary) Fprint(w io.Writer) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%*s\n", 36+len("STARTUP SUMMARY")/2, "STARTUP SUMMARY")
	fmt.Fprintln(w, rule)

	fmt.Fprintln(w, "[ENGINE]")
	fmt.Fprintf(w, "  mode:        %s\n", s.Mode)
	fmt.Fprintf(w, "  http:        %s\n", orDash(s.HTTPAddr))
	fmt.Fprintf(w, "  stores:      %s\n", formatList(s.Stores))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[STRATEGY]")
	fmt.Fprintf(w, "  filter:      %s (enabled=%v)\n", s.Strategy.Type, s.Strategy.Enabled)
	fmt.Fprintf(w, "  thresholds:  score>=%.1f confidence>=%.2f oi>=%.1f%%\n", s.Strategy.MinScore, s.Strategy.MinConfidence, s.Strategy.MinOIChange)
	fmt.Fprintf(w, "  directions:  %s\n", formatList(s.Strategy.Directions))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[RISK]")
	fmt.Fprintf(w, "  positions:   max %d, %d per symbol\n", s.Risk.MaxPositions, s.Risk.PerSymbol)
	fmt.Fprintf(w, "  size:        %.1f%% of available\n", s.Risk.SizePct)
	fmt.Fprintf(w, "  leverage:    %s\n", s.Risk.Leverage)
	if s.Risk.DailyLossLimit > 0 {
		fmt.Fprintf(w, "  daily loss:  %.2f USDT\n", s.Risk.DailyLossLimit)
	} else {
		fmt.Fprintln(w, "  daily loss:  -")
	}
	fmt.Fprintf(w, "  loss streak: %s\n", s.Risk.LossStreakPause)
	fmt.Fprintf(w, "  breakeven:   +%.2f%%  trailing: %.2f%%\n", s.Risk.BreakevenTrigger, s.Risk.TrailingStop)
	fmt.Fprintf(w, "  max holding: %s\n", s.Risk.MaxHolding)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[TAKE PROFIT]")
	if len(s.Targets) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, t := range s.Targets {
		fmt.Fprintf(w, "  - %s\n", t)
	}
	fmt.Fprintln(w, rule)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
