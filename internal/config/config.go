// Package config provides configuration management for the auto-sniping core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	apperrors "autosniper/internal/errors"
	"autosniper/internal/models"
)

// PositionSizeCeiling is the hard upper bound on a single position, in USDT.
const PositionSizeCeiling = 100000.0

// TradingConfig holds the validated trading configuration. Mutations go
// through Manager.Update which re-validates and swaps atomically; a config
// is never partially applied.
type TradingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxPositions     int     `mapstructure:"max_positions"`
	MaxDailyTrades   int     `mapstructure:"max_daily_trades"`
	PositionSizeUSDT float64 `mapstructure:"position_size_usdt"`
	MinConfidence    float64 `mapstructure:"min_confidence"` // 0-100

	AllowedPatternTypes []models.PatternType `mapstructure:"allowed_pattern_types"`

	StopLossPercent    float64 `mapstructure:"stop_loss_percent"`
	TakeProfitPercent  float64 `mapstructure:"take_profit_percent"`
	MaxDrawdownPercent float64 `mapstructure:"max_drawdown_percent"`

	// Concurrency knobs
	MaxConcurrentTrades     int `mapstructure:"max_concurrent_trades"`
	MaxConcurrentExecutions int `mapstructure:"max_concurrent_executions"`
	CheckIntervalMs         int `mapstructure:"check_interval_ms"`
	TriggerCooldownMs       int `mapstructure:"trigger_cooldown_ms"`

	RapidExecutionThreshold float64 `mapstructure:"rapid_execution_threshold"`

	AdvanceDetectionEnabled bool    `mapstructure:"advance_detection_enabled"`
	AdvanceNoticeHours      float64 `mapstructure:"advance_notice_hours"`

	Credentials Credentials `mapstructure:"credentials"`
}

// Credentials holds exchange API credentials.
type Credentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// CheckInterval returns the execution loop interval as a duration.
func (c *TradingConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

// TriggerCooldown returns the per-symbol trigger cooldown as a duration.
func (c *TradingConfig) TriggerCooldown() time.Duration {
	return time.Duration(c.TriggerCooldownMs) * time.Millisecond
}

// PatternAllowed reports whether a pattern type is enabled for trading.
// An empty allow-list permits every pattern type.
func (c *TradingConfig) PatternAllowed(pt models.PatternType) bool {
	if len(c.AllowedPatternTypes) == 0 {
		return true
	}
	for _, allowed := range c.AllowedPatternTypes {
		if allowed == pt {
			return true
		}
	}
	return false
}

// Default returns the startup defaults, merged with overrides by Load.
func Default() TradingConfig {
	return TradingConfig{
		Enabled:          true,
		MaxPositions:     5,
		MaxDailyTrades:   10,
		PositionSizeUSDT: 100,
		MinConfidence:    75,
		AllowedPatternTypes: []models.PatternType{
			models.PatternReadyState,
			models.PatternLaunchWindow,
		},
		StopLossPercent:         5,
		TakeProfitPercent:       10,
		MaxDrawdownPercent:      20,
		MaxConcurrentTrades:     3,
		MaxConcurrentExecutions: 5,
		CheckIntervalMs:         30000,
		TriggerCooldownMs:       1000,
		RapidExecutionThreshold: 85,
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/autosniper"
	}
	return filepath.Join(home, ".config", "autosniper")
}

// Load reads configuration from the directory, merges it over the defaults,
// applies environment overrides and validates the result.
func Load(configDir string) (*TradingConfig, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("sniper")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading sniper.toml: %w", err)
		}
		// Missing file is fine, defaults plus env apply.
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("enabled", d.Enabled)
	v.SetDefault("max_positions", d.MaxPositions)
	v.SetDefault("max_daily_trades", d.MaxDailyTrades)
	v.SetDefault("position_size_usdt", d.PositionSizeUSDT)
	v.SetDefault("min_confidence", d.MinConfidence)
	v.SetDefault("stop_loss_percent", d.StopLossPercent)
	v.SetDefault("take_profit_percent", d.TakeProfitPercent)
	v.SetDefault("max_drawdown_percent", d.MaxDrawdownPercent)
	v.SetDefault("max_concurrent_trades", d.MaxConcurrentTrades)
	v.SetDefault("max_concurrent_executions", d.MaxConcurrentExecutions)
	v.SetDefault("check_interval_ms", d.CheckIntervalMs)
	v.SetDefault("trigger_cooldown_ms", d.TriggerCooldownMs)
	v.SetDefault("rapid_execution_threshold", d.RapidExecutionThreshold)
}

func applyEnvOverrides(cfg *TradingConfig) {
	if v := os.Getenv("SNIPER_API_KEY"); v != "" {
		cfg.Credentials.APIKey = v
	}
	if v := os.Getenv("SNIPER_API_SECRET"); v != "" {
		cfg.Credentials.APISecret = v
	}
	if v := os.Getenv("SNIPER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
	if v := os.Getenv("SNIPER_POSITION_SIZE_USDT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PositionSizeUSDT = f
		}
	}
}

// Validate enforces every configuration invariant. It returns a ConfigError
// naming the first offending field.
func Validate(cfg *TradingConfig) error {
	if cfg.Credentials.APIKey == "" || cfg.Credentials.APISecret == "" {
		return apperrors.NewConfigError("credentials", "", "api key and secret are required")
	}
	if cfg.CheckIntervalMs < 1000 {
		return apperrors.NewConfigError("check_interval_ms", cfg.CheckIntervalMs, "must be at least 1000ms")
	}
	if cfg.MaxConcurrentTrades < 1 {
		return apperrors.NewConfigError("max_concurrent_trades", cfg.MaxConcurrentTrades, "must be at least 1")
	}
	if cfg.PositionSizeUSDT <= 0 {
		return apperrors.NewConfigError("position_size_usdt", cfg.PositionSizeUSDT, "must be positive")
	}
	if cfg.PositionSizeUSDT > PositionSizeCeiling {
		return apperrors.NewConfigError("position_size_usdt", cfg.PositionSizeUSDT,
			fmt.Sprintf("exceeds ceiling of %.0f USDT", PositionSizeCeiling))
	}
	if cfg.StopLossPercent >= cfg.TakeProfitPercent {
		return apperrors.NewConfigError("stop_loss_percent", cfg.StopLossPercent,
			"stop loss must be below take profit")
	}
	if cfg.MaxPositions > 50 {
		return apperrors.NewConfigError("max_positions", cfg.MaxPositions, "must not exceed 50")
	}
	if cfg.MaxPositions < 1 {
		return apperrors.NewConfigError("max_positions", cfg.MaxPositions, "must be at least 1")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 100 {
		return apperrors.NewConfigError("min_confidence", cfg.MinConfidence, "must be between 0 and 100")
	}
	if cfg.RapidExecutionThreshold < 0 || cfg.RapidExecutionThreshold > 100 {
		return apperrors.NewConfigError("rapid_execution_threshold", cfg.RapidExecutionThreshold, "must be between 0 and 100")
	}
	if cfg.AdvanceDetectionEnabled && cfg.AdvanceNoticeHours < 1 {
		return apperrors.NewConfigError("advance_notice_hours", cfg.AdvanceNoticeHours,
			"advance detection requires at least 1 hour notice")
	}
	if cfg.MaxConcurrentExecutions < 1 {
		return apperrors.NewConfigError("max_concurrent_executions", cfg.MaxConcurrentExecutions, "must be at least 1")
	}
	return nil
}
