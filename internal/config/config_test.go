package config

import (
	"testing"

	"github.com/rs/zerolog"

	apperrors "autosniper/internal/errors"
)

func validConfig() TradingConfig {
	cfg := Default()
	cfg.Credentials = Credentials{APIKey: "key", APISecret: "secret"}
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TradingConfig)
		field  string
	}{
		{"missing credentials", func(c *TradingConfig) { c.Credentials.APIKey = "" }, "credentials"},
		{"interval too short", func(c *TradingConfig) { c.CheckIntervalMs = 500 }, "check_interval_ms"},
		{"zero concurrent trades", func(c *TradingConfig) { c.MaxConcurrentTrades = 0 }, "max_concurrent_trades"},
		{"negative position size", func(c *TradingConfig) { c.PositionSizeUSDT = -1 }, "position_size_usdt"},
		{"position size over ceiling", func(c *TradingConfig) { c.PositionSizeUSDT = PositionSizeCeiling + 1 }, "position_size_usdt"},
		{"stop loss above take profit", func(c *TradingConfig) { c.StopLossPercent = 15; c.TakeProfitPercent = 10 }, "stop_loss_percent"},
		{"too many positions", func(c *TradingConfig) { c.MaxPositions = 51 }, "max_positions"},
		{"zero positions", func(c *TradingConfig) { c.MaxPositions = 0 }, "max_positions"},
		{"confidence over 100", func(c *TradingConfig) { c.MinConfidence = 101 }, "min_confidence"},
		{"negative confidence", func(c *TradingConfig) { c.MinConfidence = -1 }, "min_confidence"},
		{"advance detection without notice", func(c *TradingConfig) {
			c.AdvanceDetectionEnabled = true
			c.AdvanceNoticeHours = 0
		}, "advance_notice_hours"},
		{"zero concurrent executions", func(c *TradingConfig) { c.MaxConcurrentExecutions = 0 }, "max_concurrent_executions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := Validate(&cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var cfgErr *apperrors.ConfigError
			if !apperrors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %T", err)
			}
			if cfgErr.Field != tt.field {
				t.Fatalf("expected field %q, got %q", tt.field, cfgErr.Field)
			}
		})
	}
}

func TestManagerUpdateRejectsInvalidWithoutApplying(t *testing.T) {
	mgr := NewManager(validConfig(), HealthProbes{}, nil, zerolog.Nop())

	before := mgr.Get()
	bad := -5.0
	newInterval := 2000
	err := mgr.Update(Partial{
		PositionSizeUSDT: &bad,
		CheckIntervalMs:  &newInterval,
	})
	if err == nil {
		t.Fatal("expected invalid update to be rejected")
	}

	after := mgr.Get()
	if after.PositionSizeUSDT != before.PositionSizeUSDT {
		t.Fatalf("rejected update mutated position size: %v", after.PositionSizeUSDT)
	}
	if after.CheckIntervalMs != before.CheckIntervalMs {
		t.Fatal("rejected update was partially applied")
	}
}

func TestManagerUpdateAppliesValidPartial(t *testing.T) {
	mgr := NewManager(validConfig(), HealthProbes{}, nil, zerolog.Nop())

	size := 250.0
	if err := mgr.Update(Partial{PositionSizeUSDT: &size}); err != nil {
		t.Fatalf("valid update rejected: %v", err)
	}
	if got := mgr.Get().PositionSizeUSDT; got != 250 {
		t.Fatalf("expected position size 250, got %v", got)
	}
}

func TestPatternAllowed(t *testing.T) {
	cfg := validConfig()
	if !cfg.PatternAllowed("READY_STATE") {
		t.Fatal("READY_STATE should be allowed by default")
	}
	if cfg.PatternAllowed("VOLUME_SURGE") {
		t.Fatal("VOLUME_SURGE is not in the default allow-list")
	}

	cfg.AllowedPatternTypes = nil
	if !cfg.PatternAllowed("VOLUME_SURGE") {
		t.Fatal("empty allow-list should permit every pattern type")
	}
}
