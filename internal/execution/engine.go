// Package execution provides the trade execution engine: sizing, risk
// assessment and order placement against the exchange capability.
package execution

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"autosniper/internal/config"
	apperrors "autosniper/internal/errors"
	"autosniper/internal/exchange"
	"autosniper/internal/logging"
	"autosniper/internal/models"
	"autosniper/internal/resilience"
)

// MinNotionalUSDT is the floor applied to computed order sizes.
const MinNotionalUSDT = 10.0

// PositionCounter reports how many positions are currently open. Implemented
// by the position manager; an interface here keeps the packages decoupled.
type PositionCounter interface {
	ActiveCount() int
}

// SafetyFunc reports the safety subsystem's current status.
type SafetyFunc func(ctx context.Context) (models.SafetyStatus, error)

// Alerter is the subset of the alert manager the engine needs.
type Alerter interface {
	Add(alertType models.AlertType, severity models.AlertSeverity, message string, details map[string]interface{}) models.ExecutionAlert
}

// Engine sizes, risk-assesses and places orders. Exchange failures are
// converted into failed TradeResults with latency recorded; they are never
// propagated to the execution loop.
type Engine struct {
	cfg       *config.Manager
	exchange  exchange.Exchange
	breaker   *resilience.Breaker
	positions PositionCounter
	safety    SafetyFunc
	alerts    Alerter
	logger    zerolog.Logger

	stats *statsTracker
}

// NewEngine creates a trade execution engine.
func NewEngine(cfg *config.Manager, ex exchange.Exchange, breaker *resilience.Breaker, positions PositionCounter, safety SafetyFunc, alerts Alerter, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		exchange:  ex,
		breaker:   breaker,
		positions: positions,
		safety:    safety,
		alerts:    alerts,
		logger:    logger.With().Str("component", "execution").Logger(),
		stats:     newStatsTracker(),
	}
}

// CalculateOptimalQuantity sizes an order. The base quantity
// (sizeUSDT / price) is tapered as the position book fills and floored at a
// $10 notional minimum.
func CalculateOptimalQuantity(sizeUSDT, currentPrice float64, currentPositions, maxPositions int) float64 {
	if currentPrice <= 0 || sizeUSDT <= 0 {
		return 0
	}
	base := sizeUSDT / currentPrice

	fillRatio := 0.0
	if maxPositions > 0 {
		fillRatio = float64(currentPositions) / float64(maxPositions)
	}
	scale := math.Max(0.1, 1-fillRatio*0.5)

	qty := base * scale
	if minQty := MinNotionalUSDT / currentPrice; qty < minQty {
		qty = minQty
	}
	return qty
}

// ExecuteBuy runs the full buy pipeline for an opportunity: price fetch,
// sizing, risk assessment, order placement. A risk block returns a failed
// result carrying the blocking reasons; no order is placed.
func (e *Engine) ExecuteBuy(ctx context.Context, symbol string, opp models.TradingOpportunity, sizeUSDT, stopLossPct, takeProfitPct float64) models.TradeResult {
	start := time.Now()
	cfg := e.cfg.Get()

	ticker, err := resilience.Call(e.breaker, ctx, func(ctx context.Context) (*models.Ticker, error) {
		t, err := e.exchange.GetTicker(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return t, exchange.ValidateTicker(t)
	})
	if err != nil {
		return e.failResult(symbol, models.OrderSideBuy, start, apperrors.NewExecutionError(symbol, "get_ticker", err), opp.Match.PatternType)
	}

	qty := CalculateOptimalQuantity(sizeUSDT, ticker.LastPrice, e.positions.ActiveCount(), cfg.MaxPositions)

	assessment := e.AssessTradeRisk(ctx, symbol, opp, ticker)
	if !assessment.Approved {
		e.logger.Warn().
			Str("symbol", symbol).
			Float64("score", assessment.Score).
			Strs("blocks", assessment.BlockReasons).
			Msg("Buy blocked by risk assessment")
		result := models.TradeResult{
			Success:      false,
			Symbol:       symbol,
			Side:         models.OrderSideBuy,
			RequestedQty: qty,
			BlockReasons: assessment.BlockReasons,
			Latency:      time.Since(start),
			Error:        "risk assessment rejected trade",
			Timestamp:    time.Now(),
		}
		e.stats.record(result, opp.Match.PatternType)
		return result
	}

	order := models.Order{
		Symbol:   symbol,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Quantity: qty,
	}
	placed, err := resilience.Call(e.breaker, ctx, func(ctx context.Context) (*models.OrderResult, error) {
		r, err := e.exchange.CreateOrder(ctx, order)
		if err != nil {
			return nil, err
		}
		return r, exchange.ValidateOrderResult(r)
	})
	if err != nil {
		return e.failResult(symbol, models.OrderSideBuy, start, apperrors.NewExecutionError(symbol, "create_order", err), opp.Match.PatternType)
	}

	slippage := math.Abs(placed.ExecutedPrice-ticker.LastPrice) / ticker.LastPrice
	result := models.TradeResult{
		Success:       true,
		Symbol:        symbol,
		Side:          models.OrderSideBuy,
		OrderID:       placed.OrderID,
		ExecutedPrice: placed.ExecutedPrice,
		ExecutedQty:   placed.ExecutedQty,
		RequestedQty:  qty,
		Slippage:      slippage,
		Latency:       time.Since(start),
		Timestamp:     time.Now(),
	}
	e.stats.record(result, opp.Match.PatternType)
	logging.LogTrade(e.logger, symbol, string(models.OrderSideBuy), placed.ExecutedQty, placed.ExecutedPrice, true)
	return result
}

// ExecuteSell places a market sell for the position's full quantity and
// computes the realized PnL.
func (e *Engine) ExecuteSell(ctx context.Context, position *models.ExecutionPosition, reason string) models.TradeResult {
	start := time.Now()

	order := models.Order{
		Symbol:   position.Symbol,
		Side:     models.OrderSideSell,
		Type:     models.OrderTypeMarket,
		Quantity: position.Quantity,
	}
	placed, err := resilience.Call(e.breaker, ctx, func(ctx context.Context) (*models.OrderResult, error) {
		r, err := e.exchange.CreateOrder(ctx, order)
		if err != nil {
			return nil, err
		}
		return r, exchange.ValidateOrderResult(r)
	})
	if err != nil {
		return e.failResult(position.Symbol, models.OrderSideSell, start,
			apperrors.NewExecutionError(position.Symbol, "create_order", err), position.Pattern.PatternType)
	}

	pnl := (placed.ExecutedPrice - position.EntryPrice) * position.Quantity
	pnlPct := 0.0
	if notional := position.EntryPrice * position.Quantity; notional > 0 {
		pnlPct = pnl / notional * 100
	}

	result := models.TradeResult{
		Success:       true,
		Symbol:        position.Symbol,
		Side:          models.OrderSideSell,
		OrderID:       placed.OrderID,
		ExecutedPrice: placed.ExecutedPrice,
		ExecutedQty:   placed.ExecutedQty,
		RequestedQty:  position.Quantity,
		RealizedPnL:   pnl,
		PnLPercent:    pnlPct,
		Latency:       time.Since(start),
		Timestamp:     time.Now(),
	}
	e.stats.record(result, position.Pattern.PatternType)
	e.logger.Info().
		Str("symbol", position.Symbol).
		Str("reason", reason).
		Float64("pnl", pnl).
		Msg("Position sold")
	return result
}

// ValidateSymbolTrading confirms the symbol is tradeable and returns its
// quantity/price step constraints.
func (e *Engine) ValidateSymbolTrading(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	symbols, err := resilience.Call(e.breaker, ctx, func(ctx context.Context) ([]models.SymbolInfo, error) {
		return e.exchange.GetAllSymbols(ctx)
	})
	if err != nil {
		return nil, apperrors.NewExecutionError(symbol, "get_symbols", err)
	}
	for i := range symbols {
		if symbols[i].Symbol == symbol {
			if !symbols[i].Tradeable {
				return nil, apperrors.ErrSymbolNotTradeable
			}
			return &symbols[i], nil
		}
	}
	return nil, apperrors.ErrSymbolNotFound
}

// Stats returns a snapshot of cumulative execution statistics.
func (e *Engine) Stats() models.ExecutionStats {
	return e.stats.snapshot()
}

// ResetStats clears cumulative statistics. Operator action only.
func (e *Engine) ResetStats() {
	e.stats.reset()
	e.logger.Info().Msg("Execution stats reset")
}

func (e *Engine) failResult(symbol string, side models.OrderSide, start time.Time, err error, pt models.PatternType) models.TradeResult {
	result := models.TradeResult{
		Success:   false,
		Symbol:    symbol,
		Side:      side,
		Error:     err.Error(),
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	e.stats.record(result, pt)
	if e.alerts != nil {
		e.alerts.Add(models.AlertTrade, models.SeverityError, err.Error(),
			map[string]interface{}{"symbol": symbol, "side": string(side)})
	}
	logging.LogTrade(e.logger, symbol, string(side), 0, 0, false)
	return result
}
