package config

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autosniper/internal/models"
)

// Partial carries optional overrides for a configuration update. Nil fields
// are left unchanged.
type Partial struct {
	Enabled                 *bool
	MaxPositions            *int
	MaxDailyTrades          *int
	PositionSizeUSDT        *float64
	MinConfidence           *float64
	AllowedPatternTypes     []models.PatternType
	StopLossPercent         *float64
	TakeProfitPercent       *float64
	MaxDrawdownPercent      *float64
	MaxConcurrentTrades     *int
	MaxConcurrentExecutions *int
	CheckIntervalMs         *int
	TriggerCooldownMs       *int
	RapidExecutionThreshold *float64
}

// Alerter is the subset of the alert manager the config manager needs.
type Alerter interface {
	Add(alertType models.AlertType, severity models.AlertSeverity, message string, details map[string]interface{}) models.ExecutionAlert
}

// HealthProbes supplies the four independent dependency checks. Each probe
// is called on demand; results are never cached across calls.
type HealthProbes struct {
	ExchangePing func(ctx context.Context) error
	DetectorPing func(ctx context.Context) error
	SafetyStatus func(ctx context.Context) (models.SafetyStatus, error)
	RiskHeadroom func(ctx context.Context) (bool, error)
}

// Manager owns the validated trading configuration.
type Manager struct {
	mu     sync.RWMutex
	cfg    TradingConfig
	probes HealthProbes
	alerts Alerter
	logger zerolog.Logger
}

// NewManager creates a configuration manager around an already-validated
// config.
func NewManager(cfg TradingConfig, probes HealthProbes, alerts Alerter, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		probes: probes,
		alerts: alerts,
		logger: logger.With().Str("component", "config").Logger(),
	}
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() TradingConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Update merges the partial overrides into a copy of the current config,
// re-validates, and swaps only if validation passes.
func (m *Manager) Update(p Partial) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg
	applyPartial(&next, p)

	if err := Validate(&next); err != nil {
		m.logger.Warn().Err(err).Msg("Config update rejected")
		return err
	}

	m.cfg = next
	m.logger.Info().Msg("Config updated")
	return nil
}

func applyPartial(cfg *TradingConfig, p Partial) {
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.MaxPositions != nil {
		cfg.MaxPositions = *p.MaxPositions
	}
	if p.MaxDailyTrades != nil {
		cfg.MaxDailyTrades = *p.MaxDailyTrades
	}
	if p.PositionSizeUSDT != nil {
		cfg.PositionSizeUSDT = *p.PositionSizeUSDT
	}
	if p.MinConfidence != nil {
		cfg.MinConfidence = *p.MinConfidence
	}
	if p.AllowedPatternTypes != nil {
		cfg.AllowedPatternTypes = p.AllowedPatternTypes
	}
	if p.StopLossPercent != nil {
		cfg.StopLossPercent = *p.StopLossPercent
	}
	if p.TakeProfitPercent != nil {
		cfg.TakeProfitPercent = *p.TakeProfitPercent
	}
	if p.MaxDrawdownPercent != nil {
		cfg.MaxDrawdownPercent = *p.MaxDrawdownPercent
	}
	if p.MaxConcurrentTrades != nil {
		cfg.MaxConcurrentTrades = *p.MaxConcurrentTrades
	}
	if p.MaxConcurrentExecutions != nil {
		cfg.MaxConcurrentExecutions = *p.MaxConcurrentExecutions
	}
	if p.CheckIntervalMs != nil {
		cfg.CheckIntervalMs = *p.CheckIntervalMs
	}
	if p.TriggerCooldownMs != nil {
		cfg.TriggerCooldownMs = *p.TriggerCooldownMs
	}
	if p.RapidExecutionThreshold != nil {
		cfg.RapidExecutionThreshold = *p.RapidExecutionThreshold
	}
}

// PerformHealthChecks runs the four dependency checks independently and
// returns the combined result. Any failed check raises an alert; the caller
// aborts startup when Healthy() is false.
func (m *Manager) PerformHealthChecks(ctx context.Context) models.SystemHealth {
	health := models.SystemHealth{CheckedAt: time.Now()}

	if m.probes.ExchangePing != nil {
		health.ExchangeConnected = m.probes.ExchangePing(ctx) == nil
	}
	if m.probes.DetectorPing != nil {
		health.DetectorReachable = m.probes.DetectorPing(ctx) == nil
	}
	if m.probes.SafetyStatus != nil {
		status, err := m.probes.SafetyStatus(ctx)
		health.SafetyOK = err == nil && status != models.SafetyCritical
	}
	if m.probes.RiskHeadroom != nil {
		ok, err := m.probes.RiskHeadroom(ctx)
		health.RiskHeadroomOK = err == nil && ok
	}

	if !health.Healthy() {
		m.logger.Error().
			Bool("exchange", health.ExchangeConnected).
			Bool("detector", health.DetectorReachable).
			Bool("safety", health.SafetyOK).
			Bool("risk_headroom", health.RiskHeadroomOK).
			Msg("Health check failed")
		if m.alerts != nil {
			m.alerts.Add(models.AlertHealth, models.SeverityError, "system health check failed",
				map[string]interface{}{
					"exchange":      health.ExchangeConnected,
					"detector":      health.DetectorReachable,
					"safety":        health.SafetyOK,
					"risk_headroom": health.RiskHeadroomOK,
				})
		}
	}

	return health
}
