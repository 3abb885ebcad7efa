// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"tinkoff-trader/internal/broker"
	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/logging"
	"tinkoff-trader/internal/resilience"
	"tinkoff-trader/internal/stream"
	"tinkoff-trader/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Broker      BrokerConfig   `mapstructure:"broker"`
	Gateway     GatewayConfig  `mapstructure:"gateway"`
	Paper       PaperConfig    `mapstructure:"paper"`
	Store       StoreConfig    `mapstructure:"store"`
	Schedule    ScheduleConfig `mapstructure:"schedule"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	UI          UIConfig       `mapstructure:"ui"`
	Credentials Credentials    `mapstructure:"-"` // Loaded separately

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// BrokerConfig selects and configures the remote venue.
type BrokerConfig struct {
	Mode      string        `mapstructure:"mode"` // "live", "paper"
	RESTURL   string        `mapstructure:"rest_url"`
	StreamURL string        `mapstructure:"stream_url"`
	AccountID string        `mapstructure:"account_id"`
	AppName   string        `mapstructure:"app_name"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	// BreakerThreshold is the number of consecutive failed calls after which
	// the venue is not called for BreakerCooldown. 0 disables the breaker.
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// GatewayConfig holds the gateway loop and event bus settings.
type GatewayConfig struct {
	BusCapacity      int             `mapstructure:"bus_capacity"`
	CallTimeout      time.Duration   `mapstructure:"call_timeout"`
	SettleInterval   time.Duration   `mapstructure:"settle_interval"`
	StopPollInterval time.Duration   `mapstructure:"stop_poll_interval"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig controls stream re-dials.
type ReconnectConfig struct {
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	MaxAttempts   int           `mapstructure:"max_attempts"` // 0 = unlimited
}

// PaperConfig configures the simulated broker used in paper mode.
type PaperConfig struct {
	AccountID      string `mapstructure:"account_id"`
	Currency       string `mapstructure:"currency"`
	InitialCash    string `mapstructure:"initial_cash"`
	CommissionRate string `mapstructure:"commission_rate"`
	// LiveData routes candles, instruments and market data to the real
	// venue when a token is available.
	LiveData bool `mapstructure:"live_data"`
}

// StoreConfig holds the local cache settings.
type StoreConfig struct {
	Path             string        `mapstructure:"path"` // relative to the config dir
	InstrumentMaxAge time.Duration `mapstructure:"instrument_max_age"`
	CandleMaxAge     time.Duration `mapstructure:"candle_max_age"`
}

// ScheduleConfig holds cron schedules. Schedules carry a seconds field.
type ScheduleConfig struct {
	InstrumentSync string `mapstructure:"instrument_sync"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	DateFormat string `mapstructure:"date_format"`
	TimeFormat string `mapstructure:"time_format"`
}

// Credentials holds API credentials.
type Credentials struct {
	Tinkoff TinkoffCredentials `mapstructure:"tinkoff"`
}

// TinkoffCredentials holds the broker API token.
type TinkoffCredentials struct {
	Token string `mapstructure:"token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/tinkoff-trader"
	}
	return filepath.Join(home, ".config", "tinkoff-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are created from templates.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.mode", "paper")
	v.SetDefault("broker.rest_url", broker.DefaultRESTURL)
	v.SetDefault("broker.stream_url", broker.DefaultStreamURL)
	v.SetDefault("broker.app_name", "tinkoff-trader")
	v.SetDefault("broker.timeout", "30s")
	v.SetDefault("broker.retries", 3)
	v.SetDefault("broker.breaker_threshold", 5)
	v.SetDefault("broker.breaker_cooldown", "30s")

	v.SetDefault("gateway.bus_capacity", stream.DefaultBusConfig().SubscriberBufferSize)
	v.SetDefault("gateway.call_timeout", "10s")
	v.SetDefault("gateway.settle_interval", "2s")
	v.SetDefault("gateway.stop_poll_interval", "10s")
	v.SetDefault("gateway.reconnect.initial_delay", "500ms")
	v.SetDefault("gateway.reconnect.max_delay", "30s")
	v.SetDefault("gateway.reconnect.backoff_factor", 2.0)
	v.SetDefault("gateway.reconnect.max_attempts", 0)

	v.SetDefault("paper.account_id", "paper")
	v.SetDefault("paper.currency", "rub")
	v.SetDefault("paper.initial_cash", "1000000")
	v.SetDefault("paper.commission_rate", "0.0005")
	v.SetDefault("paper.live_data", false)

	v.SetDefault("store.path", "trader.db")
	v.SetDefault("store.instrument_max_age", "24h")
	v.SetDefault("store.candle_max_age", "1h")

	v.SetDefault("schedule.instrument_sync", "0 0 6 * * MON-FRI")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", "logs/trader.log")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("ui.date_format", "02.01.2006")
	v.SetDefault("ui.time_format", "15:04:05")
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := writeTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Restricted permissions for the credentials file.
		if err := writeTemplate(configDir, "credentials.toml", credentialsTemplate, 0600); err != nil {
			return err
		}
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TINKOFF_TOKEN"); v != "" {
		cfg.Credentials.Tinkoff.Token = v
	}
	if v := os.Getenv("TINKOFF_ACCOUNT_ID"); v != "" {
		cfg.Broker.AccountID = v
	}
	if v := os.Getenv("TRADER_MODE"); v != "" {
		cfg.Broker.Mode = v
	}
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(errors.ErrConfigInvalid, format, args...)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Broker.Mode {
	case "live":
		if c.Credentials.Tinkoff.Token == "" {
			return invalid("live mode requires a token (credentials.toml or TINKOFF_TOKEN)")
		}
		if c.Broker.AccountID == "" {
			return invalid("live mode requires broker.account_id")
		}
	case "paper":
	default:
		return invalid("invalid broker mode: %s (must be 'live' or 'paper')", c.Broker.Mode)
	}

	if c.Broker.Timeout < 0 {
		return invalid("broker.timeout must be non-negative")
	}
	if c.Broker.BreakerThreshold < 0 {
		return invalid("broker.breaker_threshold must be non-negative")
	}
	if c.Gateway.BusCapacity < 1 {
		return invalid("gateway.bus_capacity must be at least 1")
	}
	if c.Gateway.Reconnect.BackoffFactor < 1 {
		return invalid("gateway.reconnect.backoff_factor must be at least 1")
	}
	if c.Gateway.Reconnect.MaxAttempts < 0 {
		return invalid("gateway.reconnect.max_attempts must be non-negative")
	}

	rate, err := decimal.NewFromString(c.Paper.CommissionRate)
	if err != nil || rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return invalid("paper.commission_rate must be a fraction in [0, 1): %q", c.Paper.CommissionRate)
	}
	cash, err := decimal.NewFromString(c.Paper.InitialCash)
	if err != nil || cash.IsNegative() {
		return invalid("paper.initial_cash must be a non-negative amount: %q", c.Paper.InitialCash)
	}

	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Broker.Mode == "paper"
}

// Account returns the account orders are placed on in the current mode.
func (c *Config) Account() string {
	if c.IsPaperMode() {
		return c.Paper.AccountID
	}
	return c.Broker.AccountID
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// StorePath returns the absolute sqlite cache path.
func (c *Config) StorePath() string {
	return c.resolve(c.Store.Path)
}

// TinkoffConfig returns the REST and stream client settings.
func (c *Config) TinkoffConfig() broker.TinkoffConfig {
	retry := utils.DefaultRetryConfig()
	if c.Broker.Retries > 0 {
		retry.MaxAttempts = c.Broker.Retries
	}
	breaker := resilience.DefaultCircuitBreakerConfig()
	breaker.FailureThreshold = c.Broker.BreakerThreshold
	if c.Broker.BreakerCooldown > 0 {
		breaker.Cooldown = c.Broker.BreakerCooldown
	}
	return broker.TinkoffConfig{
		Token:     c.Credentials.Tinkoff.Token,
		RESTURL:   c.Broker.RESTURL,
		StreamURL: c.Broker.StreamURL,
		AppName:   c.Broker.AppName,
		Timeout:   c.Broker.Timeout,
		Retry:     retry,
		Breaker:   breaker,
	}
}

// PaperConfig returns the simulated broker settings. Validate has already
// checked the decimal fields.
func (c *Config) PaperConfig() broker.PaperConfig {
	return broker.PaperConfig{
		Account:        c.Paper.AccountID,
		Currency:       c.Paper.Currency,
		InitialCash:    decimal.RequireFromString(c.Paper.InitialCash),
		CommissionRate: decimal.RequireFromString(c.Paper.CommissionRate),
	}
}

// GatewayConfig returns the gateway loop settings.
func (c *Config) GatewayConfig() broker.GatewayConfig {
	return broker.GatewayConfig{
		Account:          c.Account(),
		CallTimeout:      c.Gateway.CallTimeout,
		SettleInterval:   c.Gateway.SettleInterval,
		StopPollInterval: c.Gateway.StopPollInterval,
	}
}

// ReconnectPolicy returns the stream re-dial policy.
func (c *Config) ReconnectPolicy() broker.ReconnectPolicy {
	return broker.ReconnectPolicy{
		InitialDelay:  c.Gateway.Reconnect.InitialDelay,
		MaxDelay:      c.Gateway.Reconnect.MaxDelay,
		BackoffFactor: c.Gateway.Reconnect.BackoffFactor,
		MaxAttempts:   c.Gateway.Reconnect.MaxAttempts,
	}
}

// BusConfig returns the event bus settings.
func (c *Config) BusConfig() stream.BusConfig {
	return stream.BusConfig{SubscriberBufferSize: c.Gateway.BusCapacity}
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.resolve(c.Logging.FilePath),
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}
