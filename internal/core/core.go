// Package core wires the subsystems into the auto-sniping orchestrator.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autosniper/internal/alerts"
	"autosniper/internal/config"
	"autosniper/internal/detector"
	apperrors "autosniper/internal/errors"
	"autosniper/internal/exchange"
	"autosniper/internal/execution"
	"autosniper/internal/models"
	"autosniper/internal/positions"
	"autosniper/internal/processor"
	"autosniper/internal/resilience"
	"autosniper/internal/store"
	"autosniper/internal/syncer"
	"autosniper/internal/trigger"
)

// Status is the orchestrator lifecycle state.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// Orchestrator owns the execution loop and exposes the public control
// surface. Every public operation returns a uniform Response envelope.
type Orchestrator struct {
	owner string

	cfg       *config.Manager
	engine    *execution.Engine
	positions *positions.Manager
	trigger   *trigger.Engine
	processor *processor.Processor
	syncer    *syncer.Synchronizer
	alerts    *alerts.Manager
	targets   store.TargetStore
	feed      detector.Feed
	exchange  exchange.Exchange
	breaker   *resilience.Breaker
	logger    zerolog.Logger

	mu          sync.Mutex
	status      Status
	startedAt   time.Time
	isExecuting bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Owner     string
	Config    *config.Manager
	Engine    *execution.Engine
	Positions *positions.Manager
	Trigger   *trigger.Engine
	Processor *processor.Processor
	Syncer    *syncer.Synchronizer
	Alerts    *alerts.Manager
	Targets   store.TargetStore
	Feed      detector.Feed
	Exchange  exchange.Exchange
	Breaker   *resilience.Breaker
	Logger    zerolog.Logger
}

// New creates an orchestrator in the idle state.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		owner:     d.Owner,
		cfg:       d.Config,
		engine:    d.Engine,
		positions: d.Positions,
		trigger:   d.Trigger,
		processor: d.Processor,
		syncer:    d.Syncer,
		alerts:    d.Alerts,
		targets:   d.Targets,
		feed:      d.Feed,
		exchange:  d.Exchange,
		breaker:   d.Breaker,
		logger:    d.Logger.With().Str("component", "core").Logger(),
		status:    StatusIdle,
	}
}

// Start validates configuration, runs health checks, restores durable state
// and launches the execution loop. An unhealthy system aborts the start.
func (o *Orchestrator) Start(ctx context.Context) models.Response {
	o.mu.Lock()
	if o.status == StatusActive || o.status == StatusPaused {
		o.mu.Unlock()
		return models.Fail(apperrors.ErrAlreadyRunning)
	}
	o.mu.Unlock()

	cfg := o.cfg.Get()
	if !cfg.Enabled {
		return models.Fail(apperrors.NewConfigError("enabled", false, "auto-sniping is disabled"))
	}
	if err := config.Validate(&cfg); err != nil {
		return models.Fail(err)
	}

	health := o.cfg.PerformHealthChecks(ctx)
	if !health.Healthy() {
		return models.Fail(apperrors.ErrUnhealthy)
	}

	if err := o.LoadActiveFromStore(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("Durable state restore incomplete")
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.status = StatusActive
	o.startedAt = time.Now()
	o.cancel = cancel
	o.done = make(chan struct{})
	o.mu.Unlock()

	go o.run(loopCtx, cfg.CheckInterval())
	go o.consumeFeed(loopCtx)
	o.trigger.StartHealthProbe()

	o.alerts.Add(models.AlertSystem, models.SeverityInfo, "auto-sniping started",
		map[string]interface{}{"owner": o.owner})
	o.logger.Info().Str("owner", o.owner).Dur("interval", cfg.CheckInterval()).Msg("Orchestrator started")

	return models.OK(map[string]interface{}{"status": string(StatusActive)})
}

// run is the execution loop. Overlapping ticks are skipped, never queued;
// the durable queue guarantees eventual pickup on a later tick.
func (o *Orchestrator) run(ctx context.Context, interval time.Duration) {
	defer close(o.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	o.mu.Lock()
	if o.status != StatusActive || o.isExecuting {
		o.mu.Unlock()
		return
	}
	o.isExecuting = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.isExecuting = false
		o.mu.Unlock()
	}()

	o.refreshPrices(ctx)

	if _, err := o.processor.ProcessPending(ctx); err != nil {
		o.logger.Error().Err(err).Msg("Target pass failed")
		o.alerts.Add(models.AlertSystem, models.SeverityError,
			fmt.Sprintf("target pass failed: %v", err), nil)
	}

	if _, err := o.syncer.Synchronize(ctx, syncer.Options{Owner: o.owner}); err != nil {
		if !apperrors.Is(err, apperrors.ErrSyncInProgress) {
			o.logger.Error().Err(err).Msg("Reconciliation failed")
		}
	}
}

// refreshPrices marks every active position to the venue's current price and
// routes the refreshed tickers through the market-data path. A symbol whose
// ticker fetch fails keeps its last mark until the next tick.
func (o *Orchestrator) refreshPrices(ctx context.Context) {
	if o.exchange == nil {
		return
	}
	for _, symbol := range o.positions.ActiveSymbols() {
		ticker, err := o.exchange.GetTicker(ctx, symbol)
		if err != nil {
			o.logger.Warn().Str("symbol", symbol).Err(err).Msg("Price refresh failed")
			continue
		}
		o.positions.UpdatePrice(symbol, ticker.LastPrice)
		o.trigger.ProcessMarketData(*ticker)
	}
}

// consumeFeed pipes detector matches into the trigger gate and detector
// ticks into the market-data path and the position book.
func (o *Orchestrator) consumeFeed(ctx context.Context) {
	if o.feed == nil {
		return
	}
	matches := o.feed.Matches()
	ticks := o.feed.Ticks()
	for {
		select {
		case <-ctx.Done():
			return
		case match, ok := <-matches:
			if !ok {
				o.logger.Warn().Msg("Detector match stream closed")
				matches = nil
				continue
			}
			o.mu.Lock()
			active := o.status == StatusActive
			o.mu.Unlock()
			if !active {
				continue
			}
			cfg := o.cfg.Get()
			if !cfg.PatternAllowed(match.PatternType) || match.Confidence < cfg.MinConfidence {
				continue
			}
			o.trigger.ProcessPatternEvent(ctx, match)
		case tick, ok := <-ticks:
			if !ok {
				o.logger.Warn().Msg("Detector tick stream closed")
				ticks = nil
				continue
			}
			o.positions.UpdatePrice(tick.Symbol, tick.LastPrice)
			o.trigger.ProcessMarketData(tick)
		}
	}
}

// Stop halts the execution loop, waits for an in-flight tick to drain and
// returns the orchestrator to idle so it can be started again.
func (o *Orchestrator) Stop() models.Response {
	o.mu.Lock()
	if o.status != StatusActive && o.status != StatusPaused {
		o.mu.Unlock()
		return models.Fail(apperrors.ErrNotRunning)
	}
	cancel := o.cancel
	done := o.done
	o.status = StatusIdle
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	o.trigger.StopHealthProbe()

	o.alerts.Add(models.AlertSystem, models.SeverityInfo, "auto-sniping stopped", nil)
	o.logger.Info().Msg("Orchestrator stopped")
	return models.OK(map[string]interface{}{"status": string(StatusIdle)})
}

// Pause suspends tick processing without tearing the loop down.
func (o *Orchestrator) Pause() models.Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != StatusActive {
		return models.Fail(apperrors.ErrNotRunning)
	}
	o.status = StatusPaused
	o.logger.Info().Msg("Orchestrator paused")
	return models.OK(map[string]interface{}{"status": string(StatusPaused)})
}

// Resume reactivates a paused loop.
func (o *Orchestrator) Resume() models.Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != StatusPaused {
		return models.Fail(fmt.Errorf("cannot resume from status %s", o.status))
	}
	o.status = StatusActive
	o.logger.Info().Msg("Orchestrator resumed")
	return models.OK(map[string]interface{}{"status": string(StatusActive)})
}

// Status returns the current lifecycle state. An unacknowledged critical
// alert overrides the stored state with error.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	status := o.status
	o.mu.Unlock()

	if (status == StatusActive || status == StatusPaused) && o.alerts.HasCriticalIssues() {
		return StatusError
	}
	return status
}

// ExecutionReport is the aggregate state snapshot for the control surface.
type ExecutionReport struct {
	Status          Status                       `json:"status"`
	Uptime          time.Duration                `json:"uptime"`
	Health          models.SystemHealth          `json:"health"`
	Stats           models.ExecutionStats        `json:"stats"`
	ActivePositions []*models.ExecutionPosition  `json:"activePositions"`
	TriggerStats    trigger.Stats                `json:"triggerStats"`
	Breaker         resilience.BreakerStats      `json:"breaker"`
	UnifiedTargets  int                          `json:"unifiedTargets"`
	UnifiedWarning  string                       `json:"unifiedTargetsWarning,omitempty"`
	Consistency     syncer.ConsistencyReport     `json:"consistency"`
	AlertCounts     map[models.AlertSeverity]int `json:"alertCounts"`
	RecentAlerts    []models.ExecutionAlert      `json:"recentAlerts"`
}

// Report assembles the aggregate execution report.
func (o *Orchestrator) Report(ctx context.Context) models.Response {
	o.mu.Lock()
	startedAt := o.startedAt
	o.mu.Unlock()

	uptime := time.Duration(0)
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}

	unified, lagWarning, err := o.syncer.UnifiedTargetCount(ctx, o.owner)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Unified count unavailable, using memory side")
	}
	consistency, err := o.syncer.CheckConsistency(ctx, o.owner)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Consistency check unavailable")
	}

	report := ExecutionReport{
		Status:          o.Status(),
		Uptime:          uptime,
		Health:          o.cfg.PerformHealthChecks(ctx),
		Stats:           o.engine.Stats(),
		ActivePositions: o.positions.Active(),
		TriggerStats:    o.trigger.Stats(),
		Breaker:         o.breaker.Stats(),
		UnifiedTargets:  unified,
		UnifiedWarning:  lagWarning,
		Consistency:     consistency,
		AlertCounts:     o.alerts.Counts(),
		RecentAlerts:    o.alerts.Recent(10),
	}
	return models.OK(report)
}

// ActivePositions returns the current open positions.
func (o *Orchestrator) ActivePositions() models.Response {
	return models.OK(o.positions.Active())
}

// Stats returns the cumulative execution statistics.
func (o *Orchestrator) Stats() models.Response {
	return models.OK(o.engine.Stats())
}

// Alerts returns the n most recent alerts, newest first.
func (o *Orchestrator) Alerts(n int) models.Response {
	return models.OK(o.alerts.Recent(n))
}

// ClosePosition liquidates a single position at market and removes it from
// the active set. The position stays active when the sell fails.
func (o *Orchestrator) ClosePosition(ctx context.Context, id string) models.Response {
	pos, ok := o.positions.Get(id)
	if !ok {
		return models.Fail(apperrors.ErrPositionNotFound)
	}

	result := o.engine.ExecuteSell(ctx, pos, "manual_close")
	if !result.Success {
		return models.Fail(fmt.Errorf("closing %s: %s", pos.Symbol, result.Error))
	}
	if err := o.positions.Close(id); err != nil {
		return models.Fail(err)
	}
	return models.OK(result)
}

// EmergencyCloseAll liquidates every active position immediately. Failures
// are aggregated; exactly one critical alert records the sweep outcome.
func (o *Orchestrator) EmergencyCloseAll(ctx context.Context) models.Response {
	active := o.positions.Active()

	closed := 0
	var failures []string
	for _, pos := range active {
		result := o.engine.ExecuteSell(ctx, pos, "emergency_close")
		if result.Success {
			if err := o.positions.Close(pos.ID); err == nil {
				closed++
			}
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %s", pos.Symbol, result.Error))
	}

	o.alerts.Add(models.AlertEmergency, models.SeverityCritical,
		fmt.Sprintf("emergency close: %d closed, %d failed", closed, len(failures)),
		map[string]interface{}{"closed": closed, "failures": failures})

	data := map[string]interface{}{"closed": closed, "failed": len(failures), "failures": failures}
	if len(failures) > 0 {
		o.logger.Error().Strs("failures", failures).Msg("Emergency close incomplete")
		resp := models.Fail(fmt.Errorf("emergency close: %d position(s) could not be closed", len(failures)))
		resp.Data = data
		return resp
	}
	o.logger.Info().Int("closed", closed).Msg("Emergency close complete")
	return models.OK(data)
}

// Synchronize runs a reconciliation pass on demand.
func (o *Orchestrator) Synchronize(ctx context.Context, direction syncer.Direction, dryRun, force bool) models.Response {
	result, err := o.syncer.Synchronize(ctx, syncer.Options{
		Owner:     o.owner,
		Direction: direction,
		DryRun:    dryRun,
		Force:     force,
	})
	if err != nil {
		return models.Fail(err)
	}
	return models.OK(result)
}

// CheckConsistency reports state drift without repairing it.
func (o *Orchestrator) CheckConsistency(ctx context.Context) models.Response {
	report, err := o.syncer.CheckConsistency(ctx, o.owner)
	if err != nil {
		return models.Fail(err)
	}
	return models.OK(report)
}

// UpdateConfig applies a validated partial configuration update.
func (o *Orchestrator) UpdateConfig(p config.Partial) models.Response {
	if err := o.cfg.Update(p); err != nil {
		return models.Fail(err)
	}
	return models.OK(o.cfg.Get())
}

// AcknowledgeAlert acknowledges the alert with the given id.
func (o *Orchestrator) AcknowledgeAlert(id string) models.Response {
	if !o.alerts.Acknowledge(id) {
		return models.Fail(fmt.Errorf("alert %s not found", id))
	}
	return models.OK(nil)
}

// LoadActiveFromStore restores executing targets from the durable mirror
// into the in-memory position set after a restart.
func (o *Orchestrator) LoadActiveFromStore(ctx context.Context) error {
	targets, err := o.targets.GetTargetsByStatus(ctx, models.TargetExecuting)
	if err != nil {
		return apperrors.Wrap(err, "loading executing targets")
	}

	restored := 0
	for _, t := range targets {
		if t.Owner != o.owner || t.ExecutionPrice <= 0 || t.ActualPositionSize <= 0 {
			continue
		}
		openedAt := t.CreatedAt
		if t.ActualExecutionTime != nil {
			openedAt = *t.ActualExecutionTime
		}
		pos := &models.ExecutionPosition{
			ID:           fmt.Sprintf("pos_restored_%d", t.ID),
			Symbol:       t.Symbol,
			Status:       models.PositionActive,
			EntryPrice:   t.ExecutionPrice,
			Quantity:     t.ActualPositionSize,
			CurrentPrice: t.ExecutionPrice,
			Confidence:   t.ConfidenceScore,
			OrderType:    models.OrderTypeMarket,
			OpenedAt:     openedAt,
			UpdatedAt:    time.Now(),
		}
		if t.StopLossPercent > 0 {
			pos.StopLossPrice = t.ExecutionPrice * (1 - t.StopLossPercent/100)
		}
		o.positions.Restore(pos)
		restored++
	}

	if restored > 0 {
		o.logger.Info().Int("restored", restored).Msg("Positions restored from durable store")
	}
	return nil
}
