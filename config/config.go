package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log          Logger             `mapstructure:"logger"`
	DB           Database           `mapstructure:"database"`
	API          API                `mapstructure:"api"`
	Backtest     Backtest           `mapstructure:"backtest"`
	Consensus    Consensus          `mapstructure:"consensus"`
	Voters       []Voter            `mapstructure:"voters"`
	Scheduler    Scheduler          `mapstructure:"scheduler"`
	YahooFinance YahooFinanceConfig `mapstructure:"yahoo_finance"`
	Binance      BinanceConfig      `mapstructure:"binance"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
	Cache        Cache              `mapstructure:"cache"`
}

type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Database struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	TimeZone        string `mapstructure:"time_zone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type API struct {
	Port int `mapstructure:"port"`
}

// Backtest carries the simulation defaults. Every field can be overridden
// per request; these are the values the governor and executor fall back to.
type Backtest struct {
	InitialCapital     float64 `mapstructure:"initial_capital"`
	FeeRate            float64 `mapstructure:"fee_rate"`
	DecisionInterval   int     `mapstructure:"decision_interval"`
	WarmupBars         int     `mapstructure:"warmup_bars"`
	TradableUnit       float64 `mapstructure:"tradable_unit"`
	DefaultStopLossPct float64 `mapstructure:"default_stop_loss_pct"`
	DefaultTakeProfPct float64 `mapstructure:"default_take_profit_pct"`
	MaxPositionPct     float64 `mapstructure:"max_position_pct"`
	MaxSectorPct       float64 `mapstructure:"max_sector_pct"`
	MinCashReservePct  float64 `mapstructure:"min_cash_reserve_pct"`
	MarketCapCeiling   float64 `mapstructure:"market_cap_ceiling"`
	RiskFreeRate       float64 `mapstructure:"risk_free_rate"`
	BenchmarkTicker    string  `mapstructure:"benchmark_ticker"`
}

type Consensus struct {
	EscalationTier   string        `mapstructure:"escalation_tier"`
	EscalationWeight float64       `mapstructure:"escalation_weight"`
	Supermajority    float64       `mapstructure:"supermajority"`
	MaxConcurrency   int           `mapstructure:"max_concurrency"`
	VoteTimeout      time.Duration `mapstructure:"vote_timeout"`
	ProviderRetries  int           `mapstructure:"provider_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
}

// Voter declares one decision source and its consensus weight. The set is
// validated at load time; runtime never interprets free-form voter config.
type Voter struct {
	ID     string  `mapstructure:"id"`
	Kind   string  `mapstructure:"kind"` // "gemini" or "rule"
	Weight float64 `mapstructure:"weight"`
	Model  string  `mapstructure:"model"`
}

type Scheduler struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	TimeoutDuration time.Duration `mapstructure:"timeout_duration"`
}

type YahooFinanceConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	QuoteBaseURL        string        `mapstructure:"quote_base_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute"`
}

type BinanceConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute"`
}

type GeminiConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	BaseModel           string        `mapstructure:"base_model"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute"`
	MaxTokenPerMinute   int           `mapstructure:"max_token_per_minute"`
}

type Cache struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("No config file loaded:", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.encoding", "json")
	viper.SetDefault("api.port", 8080)

	viper.SetDefault("backtest.initial_capital", 10000.0)
	viper.SetDefault("backtest.fee_rate", 0.001)
	viper.SetDefault("backtest.decision_interval", 5)
	viper.SetDefault("backtest.warmup_bars", 20)
	viper.SetDefault("backtest.tradable_unit", 1.0)
	viper.SetDefault("backtest.max_position_pct", 0.20)
	viper.SetDefault("backtest.max_sector_pct", 0.40)
	viper.SetDefault("backtest.min_cash_reserve_pct", 0.20)
	viper.SetDefault("backtest.risk_free_rate", 0.05)
	viper.SetDefault("backtest.benchmark_ticker", "^GSPC")

	viper.SetDefault("consensus.escalation_tier", "HIGH")
	viper.SetDefault("consensus.escalation_weight", 0.3)
	viper.SetDefault("consensus.supermajority", 0.5)
	viper.SetDefault("consensus.max_concurrency", 4)
	viper.SetDefault("consensus.vote_timeout", 30*time.Second)
	viper.SetDefault("consensus.provider_retries", 2)
	viper.SetDefault("consensus.retry_backoff", 2*time.Second)

	viper.SetDefault("scheduler.enabled", false)
	viper.SetDefault("scheduler.max_concurrency", 2)
	viper.SetDefault("scheduler.timeout_duration", 30*time.Minute)

	viper.SetDefault("yahoo_finance.base_url", "https://query1.finance.yahoo.com/v8/finance/chart")
	viper.SetDefault("yahoo_finance.quote_base_url", "https://query1.finance.yahoo.com/v7/finance")
	viper.SetDefault("yahoo_finance.timeout", 10*time.Second)
	viper.SetDefault("yahoo_finance.max_request_per_minute", 30)

	viper.SetDefault("binance.base_url", "https://api.binance.com")
	viper.SetDefault("binance.timeout", 10*time.Second)
	viper.SetDefault("binance.max_request_per_minute", 60)

	viper.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta/models")
	viper.SetDefault("gemini.base_model", "gemini-2.0-flash")
	viper.SetDefault("gemini.timeout", 60*time.Second)
	viper.SetDefault("gemini.max_request_per_minute", 10)
	viper.SetDefault("gemini.max_token_per_minute", 250000)

	viper.SetDefault("cache.default_expiration", 10*time.Minute)
	viper.SetDefault("cache.cleanup_interval", 15*time.Minute)
}

// validate rejects voter sets that could not fold into a consensus later.
// Weight problems surface here, at load time, not in the middle of a run.
func (c *Config) validate() error {
	if len(c.Voters) == 0 {
		return nil
	}

	var sum float64
	seen := make(map[string]struct{}, len(c.Voters))
	for _, v := range c.Voters {
		if v.ID == "" {
			return fmt.Errorf("voter with empty id")
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("duplicate voter id %q", v.ID)
		}
		seen[v.ID] = struct{}{}
		if v.Weight <= 0 || v.Weight > 1 {
			return fmt.Errorf("voter %q weight %.3f outside (0,1]", v.ID, v.Weight)
		}
		sum += v.Weight
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("voter weights sum to %.3f, expected 1.0", sum)
	}
	return nil
}
