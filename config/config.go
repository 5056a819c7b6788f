// Package config loads papertrader configuration from an optional YAML file,
// an optional .env file and environment variables, in that order of
// increasing precedence. Command line flags are applied on top by the
// binaries themselves.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App holds process-wide settings.
type App struct {
	Name        string `yaml:"name"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json | text
	MetricsAddr string `yaml:"metrics_addr"`
}

// Strategy selects the registered strategy and its parameters.
type Strategy struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

// Backtest holds the account and data window of a run.
type Backtest struct {
	Symbol         string  `yaml:"symbol"`
	Interval       string  `yaml:"interval"`
	LookbackDays   int     `yaml:"lookback_days"`
	InitialBalance float64 `yaml:"initial_balance"`
	Quantity       int64   `yaml:"quantity"`
}

// Risk holds stop-loss / take-profit fractions.
type Risk struct {
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	PriceMode     string  `yaml:"price_mode"` // close | intrabar
}

// Data selects market data sources and the bar cache.
type Data struct {
	Source          string        `yaml:"source"`
	Fallback        []string      `yaml:"fallback"`
	CSVPath         string        `yaml:"csv_path"`
	CachePath       string        `yaml:"cache_path"`
	CacheMaxAge     time.Duration `yaml:"cache_max_age"`
	MarketMinAge    time.Duration `yaml:"market_min_age"`
	ClickHouseDSN   string        `yaml:"clickhouse_dsn"`
	ClickHouseTable string        `yaml:"clickhouse_table"`
}

// Angel holds Angel One SmartAPI credentials.
type Angel struct {
	APIKey     string `yaml:"api_key"`
	ClientCode string `yaml:"client_code"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`
	Exchange   string `yaml:"exchange"`
	BaseURL    string `yaml:"base_url"`
}

// Alpaca holds Alpaca market data credentials.
type Alpaca struct {
	KeyID   string `yaml:"key_id"`
	Secret  string `yaml:"secret"`
	BaseURL string `yaml:"base_url"`
	Feed    string `yaml:"feed"`
}

// Market describes the exchange session used by the cache policy and the
// live loop.
type Market struct {
	Timezone string   `yaml:"timezone"`
	Open     string   `yaml:"open"`
	Close    string   `yaml:"close"`
	Holidays []string `yaml:"holidays"`
}

// Sinks enables trade persistence targets. Empty values disable a sink.
type Sinks struct {
	CSVPath       string `yaml:"csv_path"`
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// Live configures the paper-trading loop.
type Live struct {
	Interval       time.Duration `yaml:"interval"`
	KillSwitchFile string        `yaml:"kill_switch_file"`
	QuoteWSURL     string        `yaml:"quote_ws_url"`
	StateFile      string        `yaml:"state_file"`
}

// Notify configures alert delivery.
type Notify struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	WebhookURL     string `yaml:"webhook_url"`
	AllTrades      bool   `yaml:"all_trades"`
}

// Config collects every configuration leaf.
type Config struct {
	App      App      `yaml:"app"`
	Strategy Strategy `yaml:"strategy"`
	Backtest Backtest `yaml:"backtest"`
	Risk     Risk     `yaml:"risk"`
	Data     Data     `yaml:"data"`
	Angel    Angel    `yaml:"angel"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Market   Market   `yaml:"market"`
	Sinks    Sinks    `yaml:"sinks"`
	Live     Live     `yaml:"live"`
	Notify   Notify   `yaml:"notify"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: App{Name: "papertrader", LogLevel: "info", LogFormat: "text", MetricsAddr: ""},
		Strategy: Strategy{
			Name:   "sma_crossover",
			Params: map[string]float64{"fast_period": 5, "slow_period": 20},
		},
		Backtest: Backtest{
			Symbol:         "NIFTY",
			Interval:       "5m",
			LookbackDays:   30,
			InitialBalance: 100000,
			Quantity:       10,
		},
		Risk: Risk{StopLossPct: 0.02, TakeProfitPct: 0.04, PriceMode: "close"},
		Data: Data{
			Source:          "csv",
			CSVPath:         "data/bars.csv",
			CachePath:       "data/cache.db",
			CacheMaxAge:     time.Hour,
			MarketMinAge:    6 * time.Minute,
			ClickHouseTable: "ohlcv_bars",
		},
		Angel:  Angel{Exchange: "NSE"},
		Alpaca: Alpaca{Feed: "iex"},
		Market: Market{Timezone: "Asia/Kolkata", Open: "09:15", Close: "15:30"},
		Live:   Live{Interval: 5 * time.Minute, KillSwitchFile: "KILL_SWITCH"},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files (".env" when
// none are given) into the process environment. Missing files are ignored;
// existing variables are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
		log.Printf("[config] loaded %s", p)
	}
	return nil
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		// An empty file decodes to io.EOF and keeps the defaults.
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.App.LogFormat = getEnv("LOG_FORMAT", c.App.LogFormat)
	c.App.MetricsAddr = getEnv("METRICS_ADDR", c.App.MetricsAddr)

	c.Strategy.Name = getEnv("STRATEGY", c.Strategy.Name)
	c.Backtest.Symbol = getEnv("SYMBOL", c.Backtest.Symbol)
	c.Backtest.Interval = getEnv("INTERVAL", c.Backtest.Interval)
	c.Data.Source = getEnv("DATA_SOURCE", c.Data.Source)
	c.Data.CSVPath = getEnv("DATA_CSV_PATH", c.Data.CSVPath)
	c.Data.CachePath = getEnv("DATA_CACHE_PATH", c.Data.CachePath)
	c.Data.ClickHouseDSN = getEnv("CLICKHOUSE_DSN", c.Data.ClickHouseDSN)
	if fb := os.Getenv("DATA_FALLBACK"); fb != "" {
		c.Data.Fallback = splitList(fb)
	}

	c.Angel.APIKey = getEnv("ANGEL_API_KEY", c.Angel.APIKey)
	c.Angel.ClientCode = getEnv("ANGEL_CLIENT_CODE", c.Angel.ClientCode)
	c.Angel.Password = getEnv("ANGEL_PASSWORD", c.Angel.Password)
	c.Angel.TOTPSecret = getEnv("ANGEL_TOTP_SECRET", c.Angel.TOTPSecret)

	c.Alpaca.KeyID = getEnv("APCA_API_KEY_ID", c.Alpaca.KeyID)
	c.Alpaca.Secret = getEnv("APCA_API_SECRET_KEY", c.Alpaca.Secret)
	c.Alpaca.BaseURL = getEnv("APCA_API_BASE_URL", c.Alpaca.BaseURL)

	c.Sinks.CSVPath = getEnv("TRADES_CSV_PATH", c.Sinks.CSVPath)
	c.Sinks.SQLitePath = getEnv("SQLITE_PATH", c.Sinks.SQLitePath)
	c.Sinks.PostgresDSN = getEnv("POSTGRES_DSN", c.Sinks.PostgresDSN)
	c.Sinks.RedisAddr = getEnv("REDIS_ADDR", c.Sinks.RedisAddr)
	c.Sinks.RedisPassword = getEnv("REDIS_PASSWORD", c.Sinks.RedisPassword)

	c.Live.KillSwitchFile = getEnv("KILL_SWITCH_FILE", c.Live.KillSwitchFile)
	c.Live.QuoteWSURL = getEnv("QUOTE_WS_URL", c.Live.QuoteWSURL)

	c.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
	c.Notify.WebhookURL = getEnv("WEBHOOK_URL", c.Notify.WebhookURL)

	var err error
	if c.Backtest.InitialBalance, err = getEnvFloat("INITIAL_BALANCE", c.Backtest.InitialBalance); err != nil {
		return err
	}
	if c.Risk.StopLossPct, err = getEnvFloat("STOP_LOSS_PCT", c.Risk.StopLossPct); err != nil {
		return err
	}
	if c.Risk.TakeProfitPct, err = getEnvFloat("TAKE_PROFIT_PCT", c.Risk.TakeProfitPct); err != nil {
		return err
	}
	if v := os.Getenv("QUANTITY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Invalid("QUANTITY", "not an integer: %q", v)
		}
		c.Backtest.Quantity = n
	}
	if v := os.Getenv("LOOKBACK_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Invalid("LOOKBACK_DAYS", "not an integer: %q", v)
		}
		c.Backtest.LookbackDays = n
	}
	if v := os.Getenv("LIVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Invalid("LIVE_INTERVAL", "not a duration: %q", v)
		}
		c.Live.Interval = d
	}
	return nil
}

// Validate fails fast on values no run could use. Strategy parameters are
// checked by the strategy constructors.
func (c *Config) Validate() error {
	if c.Backtest.Symbol == "" {
		return Invalid("backtest.symbol", "required")
	}
	if c.Backtest.InitialBalance <= 0 {
		return Invalid("backtest.initial_balance", "must be > 0, got %g", c.Backtest.InitialBalance)
	}
	if c.Backtest.Quantity <= 0 {
		return Invalid("backtest.quantity", "must be > 0, got %d", c.Backtest.Quantity)
	}
	if c.Backtest.LookbackDays <= 0 {
		return Invalid("backtest.lookback_days", "must be > 0, got %d", c.Backtest.LookbackDays)
	}
	if c.Risk.StopLossPct < 0 || c.Risk.StopLossPct > 1 {
		return Invalid("risk.stop_loss_pct", "must be in [0,1], got %g", c.Risk.StopLossPct)
	}
	if c.Risk.TakeProfitPct < 0 || c.Risk.TakeProfitPct > 1 {
		return Invalid("risk.take_profit_pct", "must be in [0,1], got %g", c.Risk.TakeProfitPct)
	}
	if c.Data.Source == "" {
		return Invalid("data.source", "required")
	}
	if c.Live.Interval <= 0 {
		return Invalid("live.interval", "must be > 0, got %s", c.Live.Interval)
	}
	switch strings.ToLower(c.App.LogFormat) {
	case "", "json", "text":
	default:
		return Invalid("app.log_format", "want json|text, got %q", c.App.LogFormat)
	}
	return nil
}

// Location resolves the market timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return nil, Invalid("market.timezone", "%v", err)
	}
	return loc, nil
}

// Masked returns s with everything but the last 4 characters hidden.
func Masked(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, Invalid(key, "not a number: %q", v)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
