// Package config provides configuration management for the engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"nifty-options-engine/internal/audit"
	"nifty-options-engine/internal/broker"
	"nifty-options-engine/internal/engine"
	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/logging"
	"nifty-options-engine/internal/models"
	"nifty-options-engine/internal/tracing"
)

// Config holds all application configuration.
type Config struct {
	Engine      models.EngineConfig `mapstructure:"engine"`
	Bias        engine.BiasParams   `mapstructure:"bias"`
	Trading     TradingConfig       `mapstructure:"trading"`
	Feed        FeedConfig          `mapstructure:"feed"`
	Store       StoreConfig         `mapstructure:"store"`
	Broker      BrokerConfig        `mapstructure:"broker"`
	Logging     logging.LogConfig   `mapstructure:"logging"`
	Audit       audit.Config        `mapstructure:"audit"`
	Metrics     MetricsConfig       `mapstructure:"metrics"`
	Tracing     tracing.Config      `mapstructure:"tracing"`
	UI          UIConfig            `mapstructure:"ui"`
	Credentials Credentials         `mapstructure:"-"` // Loaded separately

	dir string
}

// TradingConfig selects the stepper and the order client.
type TradingConfig struct {
	Mode             string        `mapstructure:"mode"`   // "paper" or "live"
	Broker           string        `mapstructure:"broker"` // "zerodha" or "paper"
	FillConfirmDelay time.Duration `mapstructure:"fill_confirm_delay"`
}

// FeedConfig configures snapshot ingestion.
type FeedConfig struct {
	Input     string        `mapstructure:"input"`
	Retention time.Duration `mapstructure:"retention"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Path             string `mapstructure:"path"`
	ArchiveSnapshots bool   `mapstructure:"archive_snapshots"`
}

// BrokerConfig holds broker session and resilience settings.
type BrokerConfig struct {
	SessionPath string                  `mapstructure:"session_path"`
	Resilience  broker.ResilienceConfig `mapstructure:"resilience"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// UIConfig holds terminal output settings.
type UIConfig struct {
	ColorEnabled bool `mapstructure:"color_enabled"`
	Notify       bool `mapstructure:"notify"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Zerodha API credentials.
type ZerodhaCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	UserID    string `mapstructure:"user_id"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/nifty-options-engine"
	}
	return filepath.Join(home, ".config", "nifty-options-engine")
}

// Load loads configuration from the specified directory. Missing files are
// created from templates and then read back.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{dir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.Engine = cfg.Engine.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Dir returns the directory the configuration was loaded from.
func (c *Config) Dir() string { return c.dir }

// Path returns the path of config.toml.
func (c *Config) Path() string { return filepath.Join(c.dir, "config.toml") }

func setDefaults(v *viper.Viper, dir string) {
	e := models.DefaultEngineConfig()
	v.SetDefault("engine.mode", string(e.Mode))
	v.SetDefault("engine.exit_style", string(e.ExitStyle))
	v.SetDefault("engine.target_pct", e.TargetPct)
	v.SetDefault("engine.quantity", e.Quantity)
	v.SetDefault("engine.product", string(e.Product))
	v.SetDefault("engine.exchange", string(e.Exchange))
	v.SetDefault("engine.max_trades_per_day", e.MaxTradesPerDay)
	v.SetDefault("engine.direction", string(e.Direction))
	v.SetDefault("engine.armed", false)
	v.SetDefault("engine.history_limit", e.HistoryLimit)

	b := engine.DefaultBiasParams()
	v.SetDefault("bias.window", b.Window)
	v.SetDefault("bias.strike_width", b.StrikeWidth)
	v.SetDefault("bias.min_score", b.MinScore)

	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.broker", "paper")
	v.SetDefault("trading.fill_confirm_delay", engine.DefaultFillConfirmDelay)

	v.SetDefault("feed.input", "")
	v.SetDefault("feed.retention", 20*time.Minute)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", filepath.Join(dir, "engine.db"))
	v.SetDefault("store.archive_snapshots", true)

	v.SetDefault("broker.session_path", filepath.Join(dir, "session.json"))
	v.SetDefault("broker.resilience.failure_threshold", 5)
	v.SetDefault("broker.resilience.open_timeout", 30*time.Second)
	v.SetDefault("broker.resilience.read_attempts", 3)
	v.SetDefault("broker.resilience.orders_per_second", 10)

	l := logging.DefaultLogConfig()
	v.SetDefault("logging.level", l.Level)
	v.SetDefault("logging.console", l.Console)
	v.SetDefault("logging.file", l.File)
	v.SetDefault("logging.file_path", filepath.Join(dir, "logs", "engine.log"))
	v.SetDefault("logging.max_size", l.MaxSize)
	v.SetDefault("logging.max_backups", l.MaxBackups)
	v.SetDefault("logging.max_age", l.MaxAge)

	a := audit.DefaultConfig()
	v.SetDefault("audit.enabled", a.Enabled)
	v.SetDefault("audit.dir", filepath.Join(dir, "audit"))
	v.SetDefault("audit.max_size", a.MaxSize)
	v.SetDefault("audit.max_backups", a.MaxBackups)
	v.SetDefault("audit.max_age", a.MaxAge)
	v.SetDefault("audit.compress", a.Compress)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9108")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output", "")
	v.SetDefault("tracing.pretty", false)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.notify", true)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		if err := createTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
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
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		// Restricted permissions for the credentials file.
		return createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	// Zerodha credentials
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("ZERODHA_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}

	// Live mode switch
	if v := os.Getenv("NIFTY_ENGINE_LIVE"); v != "" {
		if live, err := strconv.ParseBool(v); err == nil {
			if live {
				cfg.Trading.Mode = "live"
			} else {
				cfg.Trading.Mode = "paper"
			}
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return apperrors.NewValidationError("trading.mode", c.Trading.Mode, "must be 'live' or 'paper'")
	}
	if c.Trading.Broker != "zerodha" && c.Trading.Broker != "paper" {
		return apperrors.NewValidationError("trading.broker", c.Trading.Broker, "must be 'zerodha' or 'paper'")
	}
	if c.Trading.FillConfirmDelay < 0 {
		return apperrors.NewValidationError("trading.fill_confirm_delay", c.Trading.FillConfirmDelay, "must not be negative")
	}
	if c.Engine.Quantity <= 0 {
		return apperrors.NewValidationError("engine.quantity", c.Engine.Quantity, "must be positive")
	}
	if c.Engine.MaxTradesPerDay < 0 {
		return apperrors.NewValidationError("engine.max_trades_per_day", c.Engine.MaxTradesPerDay, "must not be negative")
	}
	if c.Engine.Product != models.ProductMIS && c.Engine.Product != models.ProductNRML {
		return apperrors.NewValidationError("engine.product", c.Engine.Product, "must be MIS or NRML")
	}
	if c.Bias.Window <= 0 {
		return apperrors.NewValidationError("bias.window", c.Bias.Window, "must be positive")
	}
	if c.Bias.StrikeWidth <= 0 {
		return apperrors.NewValidationError("bias.strike_width", c.Bias.StrikeWidth, "must be positive")
	}
	if c.Feed.Retention < 10*time.Minute {
		return apperrors.NewValidationError("feed.retention", c.Feed.Retention, "must cover the 10m lookback")
	}
	if c.IsLive() && c.Trading.Broker == "zerodha" && c.Credentials.Zerodha.APIKey == "" {
		return apperrors.NewValidationError("credentials.zerodha.api_key", "", "required for live trading with zerodha")
	}
	return nil
}

// IsLive returns true if live trading mode is enabled.
func (c *Config) IsLive() bool {
	return c.Trading.Mode == "live"
}

// EngineOptions maps the configuration onto engine options. Broker,
// observers and logger are wired by the caller.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Config:           c.Engine,
		Bias:             c.Bias,
		Live:             c.IsLive(),
		FillConfirmDelay: c.Trading.FillConfirmDelay,
	}
}
