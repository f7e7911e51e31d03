package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/skalibog/fgiagent/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию агента
type Config struct {
	Pair      PairConfig      `yaml:"pair"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Execution ExecutionConfig `yaml:"execution"`
	Venue     VenueConfig     `yaml:"venue"`
	Signal    SignalConfig    `yaml:"signal"`
	Price     PriceConfig     `yaml:"price"`
	Storage   StorageConfig   `yaml:"storage"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Paper     PaperConfig     `yaml:"paper"`
	UI        UIConfig        `yaml:"ui"`
}

// AssetConfig описывает один актив пары
type AssetConfig struct {
	Symbol   string `yaml:"symbol"`
	Mint     string `yaml:"mint"`
	Decimals int32  `yaml:"decimals"`
}

// PairConfig торгуемая пара base/quote
type PairConfig struct {
	Base  AssetConfig `yaml:"base"`
	Quote AssetConfig `yaml:"quote"`
}

// SentimentConfig границы категорий индекса
type SentimentConfig struct {
	ExtremeFear     float64 `yaml:"extreme_fear_below"`
	Fear            float64 `yaml:"fear_below"`
	Neutral         float64 `yaml:"neutral_below"`
	Greed           float64 `yaml:"greed_below"`
	SmoothingPeriod int     `yaml:"smoothing_period"`
	HistorySize     int     `yaml:"history_size"`
}

// Boundaries возвращает границы в порядке b1..b4
func (c SentimentConfig) Boundaries() [4]float64 {
	return [4]float64{c.ExtremeFear, c.Fear, c.Neutral, c.Greed}
}

// SizingConfig доли баланса по категориям, в процентах
type SizingConfig struct {
	ExtremeFearPct  float64 `yaml:"extreme_fear_pct"`
	FearPct         float64 `yaml:"fear_pct"`
	GreedPct        float64 `yaml:"greed_pct"`
	ExtremeGreedPct float64 `yaml:"extreme_greed_pct"`
	MinQuoteTrade   float64 `yaml:"min_quote_trade"`
}

// StreakConfig настройки варианта с сериями
type StreakConfig struct {
	Threshold int `yaml:"threshold"`
}

// AllocationConfig настройки порогового гистерезиса
type AllocationConfig struct {
	Threshold     float64 `yaml:"threshold"`
	Cycles        int     `yaml:"cycles"`
	AllocationPct float64 `yaml:"allocation_pct"`
}

// StrategyConfig настройки стратегии
type StrategyConfig struct {
	// Mode: direct, streak или threshold
	Mode            string           `yaml:"mode"`
	CloseBeforeOpen bool             `yaml:"close_before_open"`
	Sizing          SizingConfig     `yaml:"sizing"`
	Streak          StreakConfig     `yaml:"streak"`
	Allocation      AllocationConfig `yaml:"allocation"`
}

// ExecutionConfig настройки контроллера исполнения
type ExecutionConfig struct {
	SlippageBps        int     `yaml:"slippage_bps"`
	PlatformFeeBps     int     `yaml:"platform_fee_bps"`
	ProfitFeePct       float64 `yaml:"profit_fee_pct"`
	MaxProfitFeeBps    int     `yaml:"max_profit_fee_bps"`
	CloseCompleteness  float64 `yaml:"close_completeness"`
	QuoteAttempts      int     `yaml:"quote_attempts"`
	QuoteRetryDelayMs  int     `yaml:"quote_retry_delay_ms"`
	QuoteTimeoutMs     int     `yaml:"quote_timeout_ms"`
	SubmitAttempts     int     `yaml:"submit_attempts"`
	SubmitTimeoutMs    int     `yaml:"submit_timeout_ms"`
	BackoffBaseMs      int     `yaml:"backoff_base_ms"`
	BackoffMaxMs       int     `yaml:"backoff_max_ms"`
	BackoffJitter      float64 `yaml:"backoff_jitter"`
	ConfirmIntervalMs  int     `yaml:"confirm_interval_ms"`
	ConfirmAttempts    int     `yaml:"confirm_attempts"`
	StatusTimeoutMs    int     `yaml:"status_timeout_ms"`
	FeeOracleTimeoutMs int     `yaml:"fee_oracle_timeout_ms"`
	TipStaticLamports  uint64  `yaml:"tip_static_lamports"`
	TipMaxLamports     uint64  `yaml:"tip_max_lamports"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c ExecutionConfig) QuoteRetryDelay() time.Duration  { return ms(c.QuoteRetryDelayMs) }
func (c ExecutionConfig) QuoteTimeout() time.Duration     { return ms(c.QuoteTimeoutMs) }
func (c ExecutionConfig) SubmitTimeout() time.Duration    { return ms(c.SubmitTimeoutMs) }
func (c ExecutionConfig) BackoffBase() time.Duration      { return ms(c.BackoffBaseMs) }
func (c ExecutionConfig) BackoffMax() time.Duration       { return ms(c.BackoffMaxMs) }
func (c ExecutionConfig) ConfirmInterval() time.Duration  { return ms(c.ConfirmIntervalMs) }
func (c ExecutionConfig) StatusTimeout() time.Duration    { return ms(c.StatusTimeoutMs) }
func (c ExecutionConfig) FeeOracleTimeout() time.Duration { return ms(c.FeeOracleTimeoutMs) }

// VenueConfig настройки площадки
type VenueConfig struct {
	// Mode: paper или live
	Mode          string   `yaml:"mode"`
	QuoteURL      string   `yaml:"quote_url"`
	RelayURL      string   `yaml:"relay_url"`
	TipFloorURL   string   `yaml:"tip_floor_url"`
	RPCURL        string   `yaml:"rpc_url"`
	TipAccounts   []string `yaml:"tip_accounts"`
	SyncBalances  bool     `yaml:"sync_balances"`
	PrivateKey    string   `yaml:"-"`
	PaperLandPoll int      `yaml:"paper_land_after_polls"`
}

// SignalConfig источник индекса
type SignalConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

func (c SignalConfig) Timeout() time.Duration { return ms(c.TimeoutMs) }

// PriceConfig источник цены
type PriceConfig struct {
	// Source: binance или static
	Source      string  `yaml:"source"`
	Symbol      string  `yaml:"symbol"`
	BaseURL     string  `yaml:"base_url"`
	StaticPrice float64 `yaml:"static_price"`
	TimeoutMs   int     `yaml:"timeout_ms"`
	APIKey      string  `yaml:"-"`
	APISecret   string  `yaml:"-"`
}

func (c PriceConfig) Timeout() time.Duration { return ms(c.TimeoutMs) }

// InfluxConfig настройки InfluxDB для истории
type InfluxConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	// Type: file или postgres
	Type        string       `yaml:"type"`
	Path        string       `yaml:"path"`
	PostgresURL string       `yaml:"postgres_url"`
	AgentID     string       `yaml:"agent_id"`
	Influx      InfluxConfig `yaml:"influx"`
}

// NotifyConfig настройки уведомлений
type NotifyConfig struct {
	DiscordWebhook string `yaml:"discord_webhook"`
	TimeoutMs      int    `yaml:"timeout_ms"`
}

func (c NotifyConfig) Timeout() time.Duration { return ms(c.TimeoutMs) }

// MetricsConfig настройки HTTP-сервера метрик
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig настройки логов
type LogConfig struct {
	Level    string `yaml:"level"`
	File     string `yaml:"file"`
	JSONFile string `yaml:"json_file"`
}

// SchedulerConfig настройки планировщика циклов
type SchedulerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	CycleTimeoutSec int `yaml:"cycle_timeout_seconds"`
}

func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c SchedulerConfig) CycleTimeout() time.Duration {
	return time.Duration(c.CycleTimeoutSec) * time.Second
}

// PaperConfig начальные балансы для бумажной торговли
type PaperConfig struct {
	BaseBalance  float64 `yaml:"base_balance"`
	QuoteBalance float64 `yaml:"quote_balance"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	RefreshRate int `yaml:"refresh_rate_ms"`
}

// DefaultJitoTipAccounts публичные tip-аккаунты релея
var DefaultJitoTipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		Pair: PairConfig{
			Base:  AssetConfig{Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", Decimals: 9},
			Quote: AssetConfig{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		},
		Sentiment: SentimentConfig{ExtremeFear: 25, Fear: 45, Neutral: 55, Greed: 75, SmoothingPeriod: 1, HistorySize: 30},
		Strategy: StrategyConfig{
			Mode:            "direct",
			CloseBeforeOpen: true,
			Sizing:          SizingConfig{ExtremeFearPct: 10, FearPct: 5, GreedPct: 5, ExtremeGreedPct: 10, MinQuoteTrade: 1},
			Streak:          StreakConfig{Threshold: 3},
			Allocation:      AllocationConfig{Threshold: 50, Cycles: 3, AllocationPct: 100},
		},
		Execution: ExecutionConfig{
			SlippageBps:        50,
			PlatformFeeBps:     0,
			ProfitFeePct:       10,
			MaxProfitFeeBps:    100,
			CloseCompleteness:  0.985,
			QuoteAttempts:      3,
			QuoteRetryDelayMs:  1000,
			QuoteTimeoutMs:     10000,
			SubmitAttempts:     5,
			SubmitTimeoutMs:    10000,
			BackoffBaseMs:      500,
			BackoffMaxMs:       8000,
			BackoffJitter:      0.25,
			ConfirmIntervalMs:  2000,
			ConfirmAttempts:    30,
			StatusTimeoutMs:    5000,
			FeeOracleTimeoutMs: 3000,
			TipStaticLamports:  10000,
			TipMaxLamports:     1000000,
		},
		Venue: VenueConfig{
			Mode:          "paper",
			QuoteURL:      "https://quote-api.jup.ag/v6",
			RelayURL:      "https://mainnet.block-engine.jito.wtf/api/v1/bundles",
			TipFloorURL:   "https://bundles.jito.wtf/api/v1/bundles/tip_floor",
			RPCURL:        "https://api.mainnet-beta.solana.com",
			TipAccounts:   DefaultJitoTipAccounts,
			PaperLandPoll: 1,
		},
		Signal:    SignalConfig{URL: "https://api.alternative.me/fng/?limit=1", TimeoutMs: 10000},
		Price:     PriceConfig{Source: "binance", Symbol: "SOLUSDC", TimeoutMs: 10000},
		Storage:   StorageConfig{Type: "file", Path: "state.json", AgentID: "default"},
		Notify:    NotifyConfig{TimeoutMs: 10000},
		Metrics:   MetricsConfig{Enabled: true, Port: 9102},
		Log:       LogConfig{Level: "info", File: "app.log", JSONFile: "app.json.log"},
		Scheduler: SchedulerConfig{IntervalSeconds: 3600, CycleTimeoutSec: 600},
		Paper:     PaperConfig{BaseBalance: 1, QuoteBalance: 100},
		UI:        UIConfig{RefreshRate: 1000},
	}
}

// Load загружает конфигурацию из файла поверх значений по умолчанию
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	if err := godotenv.Load(); err != nil {
		logger.Debug("Файл .env не найден, используются переменные окружения")
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path), zap.String("strategy", cfg.Strategy.Mode), zap.String("venue", cfg.Venue.Mode))
	return &cfg, nil
}

// applyEnv переопределяет секреты из окружения
func (c *Config) applyEnv() {
	if v := os.Getenv("WALLET_PRIVATE_KEY"); v != "" {
		c.Venue.PrivateKey = v
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Price.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Price.APISecret = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.Notify.DiscordWebhook = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		c.Storage.Influx.Token = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		c.Storage.PostgresURL = v
	}
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	var errs []error

	b := c.Sentiment.Boundaries()
	for i := 1; i < len(b); i++ {
		if !(b[i-1] < b[i]) {
			errs = append(errs, fmt.Errorf("границы индекса должны строго возрастать: %v", b))
			break
		}
	}

	switch strings.ToLower(c.Strategy.Mode) {
	case "direct", "streak", "threshold":
	default:
		errs = append(errs, fmt.Errorf("неизвестный режим стратегии %q", c.Strategy.Mode))
	}
	if c.Strategy.Mode == "streak" && c.Strategy.Streak.Threshold < 1 {
		errs = append(errs, errors.New("strategy.streak.threshold должен быть >= 1"))
	}
	if c.Strategy.Mode == "threshold" && c.Strategy.Allocation.Cycles < 1 {
		errs = append(errs, errors.New("strategy.allocation.cycles должен быть >= 1"))
	}

	switch strings.ToLower(c.Venue.Mode) {
	case "paper":
	case "live":
		if c.Venue.PrivateKey == "" {
			errs = append(errs, errors.New("для live режима нужен WALLET_PRIVATE_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("неизвестный режим площадки %q", c.Venue.Mode))
	}

	switch strings.ToLower(c.Storage.Type) {
	case "file", "postgres":
	default:
		errs = append(errs, fmt.Errorf("неизвестный тип хранилища %q", c.Storage.Type))
	}

	if c.Scheduler.IntervalSeconds <= 0 {
		errs = append(errs, errors.New("scheduler.interval_seconds должен быть > 0"))
	}
	if c.Execution.QuoteAttempts < 1 || c.Execution.SubmitAttempts < 1 || c.Execution.ConfirmAttempts < 1 {
		errs = append(errs, errors.New("число попыток исполнения должно быть >= 1"))
	}
	if c.Execution.CloseCompleteness <= 0 || c.Execution.CloseCompleteness > 1 {
		errs = append(errs, fmt.Errorf("execution.close_completeness вне (0,1]: %v", c.Execution.CloseCompleteness))
	}
	if c.Pair.Base.Decimals < 0 || c.Pair.Quote.Decimals < 0 {
		errs = append(errs, errors.New("decimals активов не могут быть отрицательными"))
	}

	return errors.Join(errs...)
}
