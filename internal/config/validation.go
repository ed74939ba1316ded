package config

import (
	"fmt"
	"strings"
)

var strategyTypes = map[string]bool{
	"trend_following": true,
	"mean_reversion":  true,
	"sentiment":       true,
	"breakout":        true,
}

func validate(c *Config) error {
	switch strings.ToLower(strings.TrimSpace(c.App.LogFormat)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", c.App.LogFormat)
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(c.Trading.RunMode()); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(c.Trading.RunMode()); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch t.RunMode() {
	case ModePaper, ModeTestnet, ModeLive:
	default:
		return fmt.Errorf("trading.mode must be paper, testnet or live, got %q", t.Mode)
	}
	if len(t.AllowedDirections) == 0 {
		return fmt.Errorf("trading.allowed_directions cannot be empty")
	}
	for _, d := range t.AllowedDirections {
		if d != "LONG" && d != "SHORT" {
			return fmt.Errorf("trading.allowed_directions contains unknown direction %q", d)
		}
	}
	if t.MaxHoldingTimeMinutes < 0 {
		return fmt.Errorf("trading.max_holding_time_minutes must be >= 0")
	}
	if t.RunMode() == ModePaper && t.InitialBalance <= 0 {
		return fmt.Errorf("trading.initial_balance must be > 0 in paper mode")
	}
	if t.SyncIntervalSeconds <= 0 {
		return fmt.Errorf("trading.sync_interval_seconds must be > 0")
	}
	return nil
}

func (e *ExchangeConfig) validate(mode Mode) error {
	if strings.ToLower(e.Name) != "binance" {
		return fmt.Errorf("exchange.name only supports binance, got %s", e.Name)
	}
	if mode != ModePaper && (strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "") {
		return fmt.Errorf("exchange api_key/api_secret required in %s mode", mode)
	}
	if e.RequestsPerSecond <= 0 {
		return fmt.Errorf("exchange.requests_per_second must be > 0")
	}
	if e.SettleDelayMS < 0 {
		return fmt.Errorf("exchange.settle_delay_ms must be >= 0")
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if !strategyTypes[s.Type] {
		return fmt.Errorf("strategy.type %q is not one of trend_following, mean_reversion, sentiment, breakout", s.Type)
	}
	if s.MinSignalScore < 0 || s.MinSignalScore > 10 {
		return fmt.Errorf("strategy.min_signal_score must be in [0,10]")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("strategy.min_confidence must be in [0,1]")
	}
	if s.MinTraderRatio < 0 {
		return fmt.Errorf("strategy.min_trader_ratio must be >= 0")
	}
	if s.ChaseHighThreshold <= 0 {
		return fmt.Errorf("strategy.chase_high_threshold must be > 0")
	}
	return nil
}

func (r *RiskConfig) validate(mode Mode) error {
	if r.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be > 0")
	}
	if r.MaxPositionsPerSymbol <= 0 {
		return fmt.Errorf("risk.max_positions_per_symbol must be > 0")
	}
	// The exchange nets one position per symbol and side, so the ledger can
	// only be reconciled against it when entries are not stacked.
	if mode != ModePaper && r.MaxPositionsPerSymbol > 1 {
		return fmt.Errorf("risk.max_positions_per_symbol must be 1 in %s mode", mode)
	}
	if r.PositionSizePct <= 0 || r.PositionSizePct > 1 {
		return fmt.Errorf("risk.position_size_pct must be in (0, 1]")
	}
	if r.MaxLeverage <= 0 {
		return fmt.Errorf("risk.max_leverage must be > 0")
	}
	if r.DailyLossLimitUSDT < 0 {
		return fmt.Errorf("risk.daily_loss_limit_usdt must be >= 0")
	}
	total := 0.0
	for i, tp := range r.TakeProfitTargets {
		if tp.Ratio <= 0 || tp.Ratio > 1 {
			return fmt.Errorf("risk.take_profit_targets[%d].ratio must be in (0, 1]", i)
		}
		if tp.Trailing {
			if tp.CallbackRate < 0.1 || tp.CallbackRate > 5 {
				return fmt.Errorf("risk.take_profit_targets[%d].callback_rate must be in [0.1, 5]", i)
			}
		} else if tp.Percent <= 0 {
			return fmt.Errorf("risk.take_profit_targets[%d].percent must be > 0", i)
		}
		total += tp.Ratio
	}
	if total > 1.0001 {
		return fmt.Errorf("risk.take_profit_targets ratios sum to %.4f, must be <= 1", total)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
