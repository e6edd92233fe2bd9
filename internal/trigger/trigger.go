// Package trigger gates real-time pattern events into execution dispatches.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autosniper/internal/config"
	"autosniper/internal/logging"
	"autosniper/internal/models"
	"autosniper/internal/resilience"
)

// priceAlertThresholdPct is the absolute move against the cached price that
// raises a price alert.
const priceAlertThresholdPct = 5.0

// volumeSpikeThreshold is the 24h volume above which a spike event fires.
const volumeSpikeThreshold = 1_000_000.0

// healthProbeInterval paces the periodic connectivity probe.
const healthProbeInterval = 30 * time.Second

// ExecuteFunc runs a gated trigger. The engine calls it on its own goroutine
// and releases the symbol's in-flight slot when it returns.
type ExecuteFunc func(ctx context.Context, event models.TriggerEvent)

// Stats holds trigger gate counters.
type Stats struct {
	Received           int64
	Dispatched         int64
	DroppedConfidence  int64
	DroppedCooldown    int64
	DroppedConcurrency int64
	DroppedInFlight    int64
	AvgDispatchLatency time.Duration
}

// Engine is the real-time trigger gate. Pattern events that clear the
// confidence threshold, the per-symbol cooldown and the concurrency cap are
// dispatched immediately; everything else is dropped, never queued.
type Engine struct {
	cfg     *config.Manager
	execute ExecuteFunc
	breaker *resilience.Breaker
	logger  zerolog.Logger

	mu           sync.Mutex
	inFlight     map[string]struct{}
	lastTrigger  map[string]time.Time
	prices       map[string]float64
	volumes      map[string]float64
	stats        Stats
	totalLatency time.Duration

	events chan models.MarketEvent

	probeMu    sync.Mutex
	probeStop  chan struct{}
	probeEvery time.Duration
	feedOK     func() bool
}

// NewEngine creates a trigger engine. feedOK reports detector-feed
// connectivity for the periodic health probe; nil means always connected.
func NewEngine(cfg *config.Manager, execute ExecuteFunc, breaker *resilience.Breaker, feedOK func() bool, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		execute:     execute,
		breaker:     breaker,
		logger:      logger.With().Str("component", "trigger").Logger(),
		inFlight:    make(map[string]struct{}),
		lastTrigger: make(map[string]time.Time),
		prices:      make(map[string]float64),
		volumes:     make(map[string]float64),
		events:      make(chan models.MarketEvent, 64),
		probeEvery:  healthProbeInterval,
		feedOK:      feedOK,
	}
}

// SetProbeInterval overrides the health-probe interval (tests).
func (e *Engine) SetProbeInterval(d time.Duration) {
	e.probeMu.Lock()
	e.probeEvery = d
	e.probeMu.Unlock()
}

// Events exposes the side-event stream (volume spikes, price alerts, health).
func (e *Engine) Events() <-chan models.MarketEvent {
	return e.events
}

// ProcessPatternEvent applies the trigger gate to a single pattern match.
// It returns true when the event was dispatched for execution. Dropped
// events are counted by drop cause and logged; nothing is ever queued.
func (e *Engine) ProcessPatternEvent(ctx context.Context, match models.PatternMatch) bool {
	received := time.Now()
	cfg := e.cfg.Get()

	e.mu.Lock()
	e.stats.Received++

	if match.Confidence < cfg.RapidExecutionThreshold {
		e.stats.DroppedConfidence++
		e.mu.Unlock()
		e.logDrop(match.Symbol, "confidence below rapid threshold")
		return false
	}

	if last, ok := e.lastTrigger[match.Symbol]; ok && received.Sub(last) < cfg.TriggerCooldown() {
		e.stats.DroppedCooldown++
		e.mu.Unlock()
		e.logDrop(match.Symbol, "cooldown active")
		return false
	}

	if _, busy := e.inFlight[match.Symbol]; busy {
		e.stats.DroppedInFlight++
		e.mu.Unlock()
		e.logDrop(match.Symbol, "symbol already executing")
		return false
	}

	if len(e.inFlight) >= cfg.MaxConcurrentExecutions {
		e.stats.DroppedConcurrency++
		e.mu.Unlock()
		e.logDrop(match.Symbol, "concurrency cap reached")
		return false
	}

	e.inFlight[match.Symbol] = struct{}{}
	e.lastTrigger[match.Symbol] = received

	latency := time.Since(received)
	e.stats.Dispatched++
	e.totalLatency += latency
	e.stats.AvgDispatchLatency = e.totalLatency / time.Duration(e.stats.Dispatched)
	e.mu.Unlock()

	event := models.TriggerEvent{
		Symbol:      match.Symbol,
		Match:       match,
		TriggeredAt: received,
		Latency:     latency,
	}

	logging.LogTrigger(e.logger, match.Symbol, match.Confidence, latency)

	go func() {
		defer e.release(match.Symbol)
		if e.execute != nil {
			e.execute(ctx, event)
		}
	}()
	return true
}

func (e *Engine) logDrop(symbol, reason string) {
	e.logger.Debug().
		Str("event", "trigger_drop").
		Str("symbol", symbol).
		Str("reason", reason).
		Msg("Trigger dropped")
}

func (e *Engine) release(symbol string) {
	e.mu.Lock()
	delete(e.inFlight, symbol)
	e.mu.Unlock()
}

// ProcessMarketData updates the price cache and emits side events: a volume
// spike above the fixed threshold, and a price alert when the move against
// the cached price reaches the alert threshold. Events are dropped when the
// channel is full.
func (e *Engine) ProcessMarketData(ticker models.Ticker) {
	e.mu.Lock()
	prevPrice, hadPrice := e.prices[ticker.Symbol]
	e.prices[ticker.Symbol] = ticker.LastPrice
	e.volumes[ticker.Symbol] = ticker.Volume24h
	e.mu.Unlock()

	if ticker.Volume24h > volumeSpikeThreshold {
		e.emit(models.MarketEvent{
			Type:      models.MarketEventVolumeSpike,
			Symbol:    ticker.Symbol,
			Price:     ticker.LastPrice,
			Volume:    ticker.Volume24h,
			Detail:    "24h volume above spike threshold",
			Timestamp: time.Now(),
		})
	}

	if hadPrice && prevPrice > 0 {
		pct := (ticker.LastPrice - prevPrice) / prevPrice * 100
		if pct >= priceAlertThresholdPct || pct <= -priceAlertThresholdPct {
			e.emit(models.MarketEvent{
				Type:      models.MarketEventPriceAlert,
				Symbol:    ticker.Symbol,
				Price:     ticker.LastPrice,
				ChangePct: pct,
				Detail:    "price moved against cached value beyond alert threshold",
				Timestamp: time.Now(),
			})
		}
	}
}

// LastPrice returns the cached price for a symbol.
func (e *Engine) LastPrice(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[symbol]
	return p, ok
}

func (e *Engine) emit(ev models.MarketEvent) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn().Str("symbol", ev.Symbol).Str("type", string(ev.Type)).
			Msg("Market event dropped, channel full")
	}
}

// StartHealthProbe begins the periodic connectivity probe. It combines the
// exchange breaker state with detector-feed connectivity and emits a HEALTH
// market event each cycle. A stopped probe can be started again.
func (e *Engine) StartHealthProbe() {
	e.probeMu.Lock()
	defer e.probeMu.Unlock()
	if e.probeStop != nil {
		return
	}
	stop := make(chan struct{})
	e.probeStop = stop
	interval := e.probeEvery

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.probe()
			}
		}
	}()
}

func (e *Engine) probe() {
	healthy := true
	detail := "ok"
	if e.breaker != nil && !e.breaker.Healthy() {
		healthy = false
		detail = "exchange circuit open"
	}
	if e.feedOK != nil && !e.feedOK() {
		healthy = false
		if detail == "ok" {
			detail = "detector feed disconnected"
		} else {
			detail += ", detector feed disconnected"
		}
	}

	if !healthy {
		e.logger.Warn().Str("detail", detail).Msg("Trigger health probe degraded")
	}
	e.emit(models.MarketEvent{
		Type:      models.MarketEventHealth,
		Healthy:   healthy,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

// StopHealthProbe stops the periodic probe. Safe to call when no probe is
// running.
func (e *Engine) StopHealthProbe() {
	e.probeMu.Lock()
	defer e.probeMu.Unlock()
	if e.probeStop != nil {
		close(e.probeStop)
		e.probeStop = nil
	}
}

// Stats returns a snapshot of the gate counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// InFlight returns the number of symbols currently executing.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inFlight)
}

// ClearCooldowns resets all per-symbol cooldowns. Operator action only.
func (e *Engine) ClearCooldowns() {
	e.mu.Lock()
	e.lastTrigger = make(map[string]time.Time)
	e.mu.Unlock()
}
