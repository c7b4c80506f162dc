// Package config provides configuration management for the trading core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Decision DecisionConfig `mapstructure:"decision"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Session  SessionConfig  `mapstructure:"session"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DecisionConfig holds decision engine configuration.
type DecisionConfig struct {
	// Score thresholds per recommendation tier (0-100 scale).
	StrongSellScore float64 `mapstructure:"strong_sell_score"`
	SellScore       float64 `mapstructure:"sell_score"`
	HoldScore       float64 `mapstructure:"hold_score"`
	BuyScore        float64 `mapstructure:"buy_score"`

	StopLossRatio      float64 `mapstructure:"stop_loss_ratio"`      // e.g. -0.10
	EmergencyStopRatio float64 `mapstructure:"emergency_stop_ratio"` // e.g. -0.15
	StopProfitRatio    float64 `mapstructure:"stop_profit_ratio"`    // e.g. 0.20

	// BuyAmount is the target notional for a new buy signal; quantity is
	// rounded down to whole lots of 100 shares.
	BuyAmount float64 `mapstructure:"buy_amount"`

	Blacklist []string `mapstructure:"blacklist"`
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	MaxDailyTrades        int           `mapstructure:"max_daily_trades"`
	DailyLossLimit        float64       `mapstructure:"daily_loss_limit"` // ratio, e.g. -0.05
	MaxSingleTradeAmount  float64       `mapstructure:"max_single_trade_amount"`
	MinTradeAmount        float64       `mapstructure:"min_trade_amount"`
	MaxPositionRatio      float64       `mapstructure:"max_position_ratio"`
	MinTradeInterval      time.Duration `mapstructure:"min_trade_interval"`
	RestrictedMaxRatio    float64       `mapstructure:"restricted_max_ratio"`
	AllowCloseWhenLimited bool          `mapstructure:"allow_close_when_limited"`
	EnforceTradingTime    bool          `mapstructure:"enforce_trading_time"`
}

// ExecutorConfig holds task executor configuration.
type ExecutorConfig struct {
	QueueCapacity int           `mapstructure:"queue_capacity"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`
	OrderInterval time.Duration `mapstructure:"order_interval"`
}

// CacheConfig holds market data cache configuration.
type CacheConfig struct {
	QuoteTTL    time.Duration `mapstructure:"quote_ttl"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// SessionConfig holds trading session configuration.
type SessionConfig struct {
	Timezone string   `mapstructure:"timezone"`
	Holidays []string `mapstructure:"holidays"` // 2006-01-02 dates
}

// BackendConfig holds trade execution backend configuration.
type BackendConfig struct {
	// Mode selects the execution strategy: coordinate, image, or dryrun.
	Mode string `mapstructure:"mode"`
	// BridgeCommand is the external automation bridge invoked by the
	// coordinate and image backends.
	BridgeCommand string        `mapstructure:"bridge_command"`
	ConfirmDelay  time.Duration `mapstructure:"confirm_delay"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/ths-trader"
	}
	return filepath.Join(home, ".config", "ths-trader")
}

// DefaultDBPath returns the default SQLite database path.
func DefaultDBPath() string {
	return filepath.Join(DefaultConfigDir(), "trader.db")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		// Config file not found, create a template and continue on defaults.
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Decision
	v.SetDefault("decision.strong_sell_score", 30.0)
	v.SetDefault("decision.sell_score", 40.0)
	v.SetDefault("decision.hold_score", 60.0)
	v.SetDefault("decision.buy_score", 80.0)
	v.SetDefault("decision.stop_loss_ratio", -0.10)
	v.SetDefault("decision.emergency_stop_ratio", -0.15)
	v.SetDefault("decision.stop_profit_ratio", 0.20)
	v.SetDefault("decision.buy_amount", 10000.0)
	v.SetDefault("decision.blacklist", []string{})

	// Risk
	v.SetDefault("risk.max_daily_trades", 20)
	v.SetDefault("risk.daily_loss_limit", -0.05)
	v.SetDefault("risk.max_single_trade_amount", 12000.0)
	v.SetDefault("risk.min_trade_amount", 4000.0)
	v.SetDefault("risk.max_position_ratio", 0.30)
	v.SetDefault("risk.min_trade_interval", "15s")
	v.SetDefault("risk.restricted_max_ratio", 0.10)
	v.SetDefault("risk.allow_close_when_limited", true)
	v.SetDefault("risk.enforce_trading_time", true)

	// Executor
	v.SetDefault("executor.queue_capacity", 100)
	v.SetDefault("executor.task_timeout", "300s")
	v.SetDefault("executor.order_interval", "2s")

	// Cache
	v.SetDefault("cache.quote_ttl", "60s")
	v.SetDefault("cache.snapshot_ttl", "24h")

	// Session
	v.SetDefault("session.timezone", "Asia/Shanghai")
	v.SetDefault("session.holidays", []string{})

	// Backend
	v.SetDefault("backend.mode", "dryrun")
	v.SetDefault("backend.bridge_command", "")
	v.SetDefault("backend.confirm_delay", "500ms")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(DefaultConfigDir(), "logs", "trader.log"))
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Decision.StopLossRatio >= 0 {
		return fmt.Errorf("stop_loss_ratio must be negative")
	}
	if c.Decision.EmergencyStopRatio >= c.Decision.StopLossRatio {
		return fmt.Errorf("emergency_stop_ratio must be below stop_loss_ratio")
	}
	if c.Decision.StopProfitRatio <= 0 {
		return fmt.Errorf("stop_profit_ratio must be positive")
	}
	if !(c.Decision.StrongSellScore < c.Decision.SellScore &&
		c.Decision.SellScore < c.Decision.HoldScore &&
		c.Decision.HoldScore < c.Decision.BuyScore) {
		return fmt.Errorf("score thresholds must be strictly increasing")
	}
	if c.Decision.BuyAmount <= 0 {
		return fmt.Errorf("buy_amount must be positive")
	}

	if c.Risk.MaxDailyTrades <= 0 {
		return fmt.Errorf("max_daily_trades must be positive")
	}
	if c.Risk.DailyLossLimit >= 0 {
		return fmt.Errorf("daily_loss_limit must be negative")
	}
	if c.Risk.MinTradeAmount <= 0 || c.Risk.MaxSingleTradeAmount <= c.Risk.MinTradeAmount {
		return fmt.Errorf("trade amount limits must satisfy 0 < min < max")
	}
	if c.Risk.MaxPositionRatio <= 0 || c.Risk.MaxPositionRatio > 1 {
		return fmt.Errorf("max_position_ratio must be in (0, 1]")
	}
	if c.Risk.RestrictedMaxRatio <= 0 || c.Risk.RestrictedMaxRatio > c.Risk.MaxPositionRatio {
		return fmt.Errorf("restricted_max_ratio must be in (0, max_position_ratio]")
	}

	if c.Executor.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive")
	}
	if c.Executor.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be positive")
	}
	if c.Executor.OrderInterval < 0 {
		return fmt.Errorf("order_interval must be non-negative")
	}

	switch c.Backend.Mode {
	case "coordinate", "image", "dryrun":
	default:
		return fmt.Errorf("invalid backend mode: %s (must be 'coordinate', 'image' or 'dryrun')", c.Backend.Mode)
	}

	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return fmt.Errorf("invalid session timezone %q: %w", c.Session.Timezone, err)
	}
	for _, d := range c.Session.Holidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("invalid holiday date %q: %w", d, err)
		}
	}

	return nil
}

// Default returns a configuration populated with all defaults, bypassing
// the filesystem. Used by tests and the --test run mode.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults are internally consistent; Unmarshal cannot fail on them.
	_ = v.Unmarshal(cfg)
	return cfg
}
