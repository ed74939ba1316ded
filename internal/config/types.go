package config

import "strings"

// Config is the root configuration value. It is loaded once and injected
// into every component constructor.
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Strategy StrategyConfig `toml:"strategy"`
	Risk     RiskConfig     `toml:"risk"`
	Trading  TradingConfig  `toml:"trading"`
	Notify   NotifyConfig   `toml:"notify"`
	Store    StoreConfig    `toml:"store"`
	HTTP     HTTPConfig     `toml:"http"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogPath   string `toml:"log_path"`
	// LogFormat is text or json.
	LogFormat string `toml:"log_format"`
}

func (a AppConfig) JSONLogs() bool {
	return strings.EqualFold(strings.TrimSpace(a.LogFormat), "json")
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ExchangeConfig describes the Binance USDT-M futures account.
type ExchangeConfig struct {
	Name              string  `toml:"name"`
	APIKey            string  `toml:"api_key"`
	APISecret         string  `toml:"api_secret"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	SettleDelayMS     int     `toml:"settle_delay_ms"`
	EnrichAnomalies   bool    `toml:"enrich_anomalies"`
	RatioPeriod       string  `toml:"ratio_period"`
}

// StrategyConfig holds the signal gate and strategy filter thresholds.
type StrategyConfig struct {
	Enabled                 bool    `toml:"enabled"`
	Type                    string  `toml:"type"`
	MinSignalScore          float64 `toml:"min_signal_score"`
	MinConfidence           float64 `toml:"min_confidence"`
	MinOIChangePercent      float64 `toml:"min_oi_change_percent"`
	RequirePriceOIAlignment bool    `toml:"require_price_oi_alignment"`
	DivergenceThreshold     float64 `toml:"divergence_threshold"`
	UseSentimentFilter      bool    `toml:"use_sentiment_filter"`
	MinTraderRatio          float64 `toml:"min_trader_ratio"`
	ChaseHighThreshold      float64 `toml:"chase_high_threshold"`
	GeneratorMinScore       float64 `toml:"generator_min_score"`
}

// LeverageTiers maps signal strength to leverage.
type LeverageTiers struct {
	Weak   int `toml:"weak"`
	Medium int `toml:"medium"`
	Strong int `toml:"strong"`
}

// TakeProfitTarget is one exit order placed after entry. Percent is the
// price offset from entry; Ratio is the share of the initial quantity.
// Trailing targets use CallbackRate (percent) instead of a fixed price.
type TakeProfitTarget struct {
	Percent      float64 `toml:"percent"`
	Ratio        float64 `toml:"ratio"`
	Trailing     bool    `toml:"trailing"`
	CallbackRate float64 `toml:"callback_rate"`
}

type RiskConfig struct {
	MaxPositions                int                `toml:"max_positions"`
	MaxPositionsPerSymbol       int                `toml:"max_positions_per_symbol"`
	PositionSizePct             float64            `toml:"position_size_pct"`
	MinPositionUSDT             float64            `toml:"min_position_usdt"`
	MaxLeverage                 int                `toml:"max_leverage"`
	Leverage                    LeverageTiers      `toml:"leverage"`
	DailyLossLimitUSDT          float64            `toml:"daily_loss_limit_usdt"`
	MaxConsecutiveLosses        int                `toml:"max_consecutive_losses"`
	ConsecutiveLossPauseMinutes int                `toml:"consecutive_loss_pause_minutes"`
	TrailingStopPercent         float64            `toml:"trailing_stop_percent"`
	BreakevenTriggerPercent     float64            `toml:"breakeven_trigger_percent"`
	BreakevenFeeBuffer          float64            `toml:"breakeven_fee_buffer"`
	TakeProfitTargets           []TakeProfitTarget `toml:"take_profit_targets"`
}

// Mode selects where orders go.
type Mode string

const (
	ModePaper   Mode = "paper"
	ModeTestnet Mode = "testnet"
	ModeLive    Mode = "live"
)

type TradingConfig struct {
	Mode                  string   `toml:"mode"`
	AllowedDirections     []string `toml:"allowed_directions"`
	MaxHoldingTimeMinutes int      `toml:"max_holding_time_minutes"`
	InitialBalance        float64  `toml:"initial_balance"`
	SyncIntervalSeconds   int      `toml:"sync_interval_seconds"`
	CancelMaxRetries      int      `toml:"cancel_max_retries"`
}

// RunMode returns the normalized trading mode.
func (t TradingConfig) RunMode() Mode {
	return Mode(strings.ToLower(strings.TrimSpace(t.Mode)))
}

// IsPaper reports whether orders are simulated locally.
func (t TradingConfig) IsPaper() bool { return t.RunMode() == ModePaper }

// DirectionAllowed reports whether dir (LONG/SHORT) is in the allow-list.
func (t TradingConfig) DirectionAllowed(dir string) bool {
	dir = strings.ToUpper(strings.TrimSpace(dir))
	for _, d := range t.AllowedDirections {
		if strings.ToUpper(strings.TrimSpace(d)) == dir {
			return true
		}
	}
	return false
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   int64  `toml:"chat_id"`
}

type StoreConfig struct {
	OrdersPath string `toml:"orders_path"`
	AuditPath  string `toml:"audit_path"`
}

// keySet tracks the dotted paths explicitly present in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault applies def only when the key is absent and need() holds.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
