// Package positions tracks open execution positions and their exit monitors.
package positions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "autosniper/internal/errors"
	"autosniper/internal/models"
)

// ExitFunc sells a position's full quantity. Wired to the execution engine's
// ExecuteSell by the composition root.
type ExitFunc func(ctx context.Context, position *models.ExecutionPosition, reason string) models.TradeResult

// Alerter is the subset of the alert manager the position manager needs.
type Alerter interface {
	Add(alertType models.AlertType, severity models.AlertSeverity, message string, details map[string]interface{}) models.ExecutionAlert
}

// Manager tracks the active position set. Each tracked position gets a
// cancellable stop-loss/take-profit watch keyed by position id; closing a
// position cancels its watch and removes it from the active set. The durable
// mirror row is marked closed elsewhere, never deleted.
type Manager struct {
	mu       sync.RWMutex
	active   map[string]*models.ExecutionPosition
	watchers map[string]chan struct{}

	exit       ExitFunc
	alerts     Alerter
	logger     zerolog.Logger
	watchEvery time.Duration

	counter uint64
}

// NewManager creates a position manager.
func NewManager(exit ExitFunc, alerts Alerter, logger zerolog.Logger) *Manager {
	return &Manager{
		active:     make(map[string]*models.ExecutionPosition),
		watchers:   make(map[string]chan struct{}),
		exit:       exit,
		alerts:     alerts,
		logger:     logger.With().Str("component", "positions").Logger(),
		watchEvery: time.Second,
	}
}

// SetExit wires the exit executor after construction. Breaks the
// construction cycle between this manager and the execution engine.
func (m *Manager) SetExit(exit ExitFunc) {
	m.mu.Lock()
	m.exit = exit
	m.mu.Unlock()
}

// SetWatchInterval overrides the exit-watch polling interval (tests).
func (m *Manager) SetWatchInterval(d time.Duration) {
	m.watchEvery = d
}

// Track builds an ExecutionPosition from a successful buy and registers its
// exit watch. Stop-loss and take-profit prices are derived from the entry
// price and the configured percentages.
func (m *Manager) Track(result models.TradeResult, opp models.TradingOpportunity, stopLossPct, takeProfitPct float64) (*models.ExecutionPosition, error) {
	if !result.Success || result.Side != models.OrderSideBuy {
		return nil, fmt.Errorf("cannot track position from unsuccessful buy for %s", result.Symbol)
	}
	if result.ExecutedQty <= 0 {
		return nil, fmt.Errorf("cannot track position with quantity %f", result.ExecutedQty)
	}

	now := time.Now()
	m.mu.Lock()
	m.counter++
	pos := &models.ExecutionPosition{
		ID:           fmt.Sprintf("pos_%d_%d", now.UnixNano(), m.counter),
		Symbol:       result.Symbol,
		Status:       models.PositionActive,
		EntryPrice:   result.ExecutedPrice,
		Quantity:     result.ExecutedQty,
		CurrentPrice: result.ExecutedPrice,
		Confidence:   opp.Match.Confidence,
		Latency:      result.Latency,
		Slippage:     result.Slippage,
		OrderType:    models.OrderTypeMarket,
		Pattern:      opp.Match,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
	if stopLossPct > 0 {
		pos.StopLossPrice = result.ExecutedPrice * (1 - stopLossPct/100)
	}
	if takeProfitPct > 0 {
		pos.TakeProfitPrice = result.ExecutedPrice * (1 + takeProfitPct/100)
	}

	stop := make(chan struct{})
	m.active[pos.ID] = pos
	m.watchers[pos.ID] = stop
	snapshot := *pos
	m.mu.Unlock()

	go m.watchExits(pos.ID, stop)

	m.logger.Info().
		Str("position_id", snapshot.ID).
		Str("symbol", snapshot.Symbol).
		Float64("entry", snapshot.EntryPrice).
		Float64("quantity", snapshot.Quantity).
		Msg("Position tracked")
	return &snapshot, nil
}

// watchExits polls the position's marked price against its stop-loss and
// take-profit levels until cancelled.
func (m *Manager) watchExits(id string, stop <-chan struct{}) {
	ticker := time.NewTicker(m.watchEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.RLock()
			pos, ok := m.active[id]
			var price, sl, tp float64
			if ok {
				price, sl, tp = pos.CurrentPrice, pos.StopLossPrice, pos.TakeProfitPrice
			}
			m.mu.RUnlock()
			if !ok {
				return
			}

			switch {
			case sl > 0 && price <= sl:
				m.triggerExit(id, "stop_loss")
				return
			case tp > 0 && price >= tp:
				m.triggerExit(id, "take_profit")
				return
			}
		}
	}
}

func (m *Manager) triggerExit(id, reason string) {
	m.mu.RLock()
	live, ok := m.active[id]
	exit := m.exit
	var pos *models.ExecutionPosition
	if ok {
		snapshot := *live
		pos = &snapshot
	}
	m.mu.RUnlock()
	if !ok {
		return
	}

	m.logger.Info().
		Str("position_id", id).
		Str("symbol", pos.Symbol).
		Str("reason", reason).
		Msg("Exit watch fired")

	if exit != nil {
		result := exit(context.Background(), pos, reason)
		if !result.Success && m.alerts != nil {
			m.alerts.Add(models.AlertTrade, models.SeverityError,
				fmt.Sprintf("exit %s failed for %s: %s", reason, pos.Symbol, result.Error),
				map[string]interface{}{"position_id": id, "symbol": pos.Symbol})
			return
		}
	}
	m.Close(id)
}

// UpdatePrice marks a new price on every active position for the symbol.
func (m *Manager) UpdatePrice(symbol string, price float64) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.active {
		if pos.Symbol == symbol {
			pos.MarkPrice(price, now)
		}
	}
}

// Close cancels the position's exit watch, marks it closed and removes it
// from the active set.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	pos, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.ErrPositionNotFound
	}
	if stop, ok := m.watchers[id]; ok {
		close(stop)
		delete(m.watchers, id)
	}
	now := time.Now()
	pos.Status = models.PositionClosed
	pos.ClosedAt = &now
	pos.UpdatedAt = now
	delete(m.active, id)
	m.mu.Unlock()

	m.logger.Info().Str("position_id", id).Str("symbol", pos.Symbol).Msg("Position closed")
	return nil
}

// CloseAll closes every active position and returns the count closed.
func (m *Manager) CloseAll() int {
	ids := m.ActiveIDs()
	closed := 0
	for _, id := range ids {
		if err := m.Close(id); err == nil {
			closed++
		}
	}
	return closed
}

// Get returns a copy of the active position with the given id.
func (m *Manager) Get(id string) (*models.ExecutionPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.active[id]
	if !ok {
		return nil, false
	}
	snapshot := *pos
	return &snapshot, true
}

// Active returns a snapshot of all active positions. Copies are handed out
// so callers can read and marshal them while prices keep moving.
func (m *Manager) Active() []*models.ExecutionPosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.ExecutionPosition, 0, len(m.active))
	for _, pos := range m.active {
		snapshot := *pos
		out = append(out, &snapshot)
	}
	return out
}

// ActiveSymbols returns the distinct symbols with at least one active
// position.
func (m *Manager) ActiveSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool, len(m.active))
	out := make([]string, 0, len(m.active))
	for _, pos := range m.active {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			out = append(out, pos.Symbol)
		}
	}
	return out
}

// ActiveIDs returns the ids of all active positions.
func (m *Manager) ActiveIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.active))
	for id := range m.active {
		out = append(out, id)
	}
	return out
}

// ActiveCount implements execution.PositionCounter.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Restore re-registers a position rebuilt from the durable store at startup.
func (m *Manager) Restore(pos *models.ExecutionPosition) {
	stop := make(chan struct{})
	m.mu.Lock()
	m.active[pos.ID] = pos
	m.watchers[pos.ID] = stop
	m.mu.Unlock()
	go m.watchExits(pos.ID, stop)
}
