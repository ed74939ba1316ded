package config

import "strings"

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogPath      = "data/logs/oitrader.log"
	defaultHTTPAddr        = ":9991"
	defaultExchangeName    = "binance"
	defaultRequestsPerSec  = 10
	defaultBurst           = 5
	defaultSettleDelayMS   = 1000
	defaultRatioPeriod     = "5m"
	defaultStrategyType    = "breakout"
	defaultMinSignalScore  = 5
	defaultMinConfidence   = 0.6
	defaultMinOIChange     = 3
	defaultDivergence      = 10
	defaultMinTraderRatio  = 1.2
	defaultChaseHigh       = 10
	defaultGeneratorScore  = 4
	defaultMaxPositions    = 5
	defaultMaxPerSymbol    = 1
	defaultPositionSizePct = 0.05
	defaultMinPositionUSDT = 5
	defaultMaxLeverage     = 20
	defaultLeverageWeak    = 3
	defaultLeverageMedium  = 5
	defaultLeverageStrong  = 8
	defaultMaxConsecLosses = 3
	defaultLossPauseMin    = 60
	defaultTrailingPct     = 2
	defaultBreakevenPct    = 5
	defaultBreakevenBuffer = 0.0015
	defaultTradingMode     = "paper"
	defaultMaxHoldingMin   = 240
	defaultInitialBalance  = 1000
	defaultSyncInterval    = 15
	defaultCancelRetries   = 5
	defaultOrdersPath      = "data/db/orders.db"
	defaultAuditPath       = "data/db/audit.db"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("http.enabled", &h.Enabled, true),
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		floatFieldDefault("exchange.requests_per_second", &e.RequestsPerSecond, defaultRequestsPerSec),
		intFieldDefault("exchange.burst", &e.Burst, defaultBurst),
		intFieldDefault("exchange.settle_delay_ms", &e.SettleDelayMS, defaultSettleDelayMS),
		boolFieldDefault("exchange.enrich_anomalies", &e.EnrichAnomalies, true),
		stringFieldDefault("exchange.ratio_period", &e.RatioPeriod, defaultRatioPeriod),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("strategy.enabled", &s.Enabled, true),
		stringFieldDefault("strategy.type", &s.Type, defaultStrategyType),
		floatFieldDefault("strategy.min_signal_score", &s.MinSignalScore, defaultMinSignalScore),
		floatFieldDefault("strategy.min_confidence", &s.MinConfidence, defaultMinConfidence),
		floatFieldDefault("strategy.min_oi_change_percent", &s.MinOIChangePercent, defaultMinOIChange),
		boolFieldDefault("strategy.require_price_oi_alignment", &s.RequirePriceOIAlignment, true),
		floatFieldDefault("strategy.divergence_threshold", &s.DivergenceThreshold, defaultDivergence),
		boolFieldDefault("strategy.use_sentiment_filter", &s.UseSentimentFilter, true),
		floatFieldDefault("strategy.min_trader_ratio", &s.MinTraderRatio, defaultMinTraderRatio),
		floatFieldDefault("strategy.chase_high_threshold", &s.ChaseHighThreshold, defaultChaseHigh),
		floatFieldDefault("strategy.generator_min_score", &s.GeneratorMinScore, defaultGeneratorScore),
	)
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("risk.max_positions", &r.MaxPositions, defaultMaxPositions),
		intFieldDefault("risk.max_positions_per_symbol", &r.MaxPositionsPerSymbol, defaultMaxPerSymbol),
		floatFieldDefault("risk.position_size_pct", &r.PositionSizePct, defaultPositionSizePct),
		floatFieldDefault("risk.min_position_usdt", &r.MinPositionUSDT, defaultMinPositionUSDT),
		intFieldDefault("risk.max_leverage", &r.MaxLeverage, defaultMaxLeverage),
		intFieldDefault("risk.leverage.weak", &r.Leverage.Weak, defaultLeverageWeak),
		intFieldDefault("risk.leverage.medium", &r.Leverage.Medium, defaultLeverageMedium),
		intFieldDefault("risk.leverage.strong", &r.Leverage.Strong, defaultLeverageStrong),
		intFieldDefault("risk.max_consecutive_losses", &r.MaxConsecutiveLosses, defaultMaxConsecLosses),
		intFieldDefault("risk.consecutive_loss_pause_minutes", &r.ConsecutiveLossPauseMinutes, defaultLossPauseMin),
		floatFieldDefault("risk.trailing_stop_percent", &r.TrailingStopPercent, defaultTrailingPct),
		floatFieldDefault("risk.breakeven_trigger_percent", &r.BreakevenTriggerPercent, defaultBreakevenPct),
		floatFieldDefault("risk.breakeven_fee_buffer", &r.BreakevenFeeBuffer, defaultBreakevenBuffer),
		fieldDefault{
			key:  "risk.take_profit_targets",
			need: func() bool { return len(r.TakeProfitTargets) == 0 },
			apply: func() {
				r.TakeProfitTargets = []TakeProfitTarget{
					{Percent: 3, Ratio: 0.5},
					{Percent: 6, Ratio: 0.5, Trailing: true, CallbackRate: 1},
				}
			},
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("trading.mode", &t.Mode, defaultTradingMode),
		fieldDefault{
			key:   "trading.allowed_directions",
			need:  func() bool { return len(t.AllowedDirections) == 0 },
			apply: func() { t.AllowedDirections = []string{"LONG", "SHORT"} },
		},
		intFieldDefault("trading.max_holding_time_minutes", &t.MaxHoldingTimeMinutes, defaultMaxHoldingMin),
		floatFieldDefault("trading.initial_balance", &t.InitialBalance, defaultInitialBalance),
		intFieldDefault("trading.sync_interval_seconds", &t.SyncIntervalSeconds, defaultSyncInterval),
		intFieldDefault("trading.cancel_max_retries", &t.CancelMaxRetries, defaultCancelRetries),
	)
	t.Mode = string(t.RunMode())
	for i, d := range t.AllowedDirections {
		t.AllowedDirections[i] = strings.ToUpper(strings.TrimSpace(d))
	}
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.orders_path", &s.OrdersPath, defaultOrdersPath),
		stringFieldDefault("store.audit_path", &s.AuditPath, defaultAuditPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
