// Package processor drains pending snipe targets into trade executions.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"autosniper/internal/config"
	apperrors "autosniper/internal/errors"
	"autosniper/internal/models"
	"autosniper/internal/store"
)

// DefaultBatchSize caps how many ready targets a single pass picks up.
const DefaultBatchSize = 10

// MaxTargetAge is the staleness cutoff. Pending targets older than this are
// failed instead of executed.
const MaxTargetAge = 24 * time.Hour

// Executor is the execution-engine surface the processor needs.
type Executor interface {
	ExecuteBuy(ctx context.Context, symbol string, opp models.TradingOpportunity, sizeUSDT, stopLossPct, takeProfitPct float64) models.TradeResult
	ValidateSymbolTrading(ctx context.Context, symbol string) (*models.SymbolInfo, error)
}

// Tracker registers successful buys as tracked positions.
type Tracker interface {
	Track(result models.TradeResult, opp models.TradingOpportunity, stopLossPct, takeProfitPct float64) (*models.ExecutionPosition, error)
}

// Result summarizes one processing pass.
type Result struct {
	Picked    int
	Completed int
	Failed    int
	Stale     int
}

// Processor is the sole advancer of durable target status. Each target moves
// pending -> executing -> terminal; a failure on one target never aborts the
// rest of the batch.
type Processor struct {
	cfg       *config.Manager
	store     store.TargetStore
	executor  Executor
	tracker   Tracker
	logger    zerolog.Logger
	batchSize int
}

// New creates a target processor.
func New(cfg *config.Manager, st store.TargetStore, executor Executor, tracker Tracker, logger zerolog.Logger) *Processor {
	return &Processor{
		cfg:       cfg,
		store:     st,
		executor:  executor,
		tracker:   tracker,
		logger:    logger.With().Str("component", "processor").Logger(),
		batchSize: DefaultBatchSize,
	}
}

// SetBatchSize overrides the per-pass pickup limit.
func (p *Processor) SetBatchSize(n int) {
	if n > 0 {
		p.batchSize = n
	}
}

// ProcessPending picks up ready targets and executes them one by one. Every
// target ends the pass in a definite state; errors are absorbed per target.
func (p *Processor) ProcessPending(ctx context.Context) (Result, error) {
	var result Result

	targets, err := p.store.GetReadyTargets(ctx, p.batchSize)
	if err != nil {
		return result, apperrors.Wrap(err, "reading ready targets")
	}
	result.Picked = len(targets)

	for _, target := range targets {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		switch p.processOne(ctx, target) {
		case outcomeCompleted:
			result.Completed++
		case outcomeStale:
			result.Stale++
			result.Failed++
		default:
			result.Failed++
		}
	}

	if result.Picked > 0 {
		p.logger.Info().
			Int("picked", result.Picked).
			Int("completed", result.Completed).
			Int("failed", result.Failed).
			Msg("Target pass finished")
	}
	return result, nil
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeStale
)

func (p *Processor) processOne(ctx context.Context, target models.SnipeTarget) outcome {
	logger := p.logger.With().Int64("target_id", target.ID).Str("symbol", target.Symbol).Logger()

	if age := time.Since(target.CreatedAt); age > MaxTargetAge {
		p.failTarget(ctx, target.ID, fmt.Sprintf("%v: age %s", apperrors.ErrStaleTarget, age.Round(time.Minute)))
		logger.Warn().Dur("age", age).Msg("Stale target failed")
		return outcomeStale
	}

	if err := p.validate(ctx, target); err != nil {
		p.failTarget(ctx, target.ID, err.Error())
		logger.Warn().Err(err).Msg("Target validation failed")
		return outcomeFailed
	}

	if err := p.store.UpdateStatus(ctx, target.ID, models.TargetExecuting, nil); err != nil {
		// Another actor moved the target; leave it alone.
		logger.Warn().Err(err).Msg("Could not claim target")
		return outcomeFailed
	}

	cfg := p.cfg.Get()
	stopLoss := target.StopLossPercent
	if stopLoss <= 0 {
		stopLoss = cfg.StopLossPercent
	}

	opp := models.TradingOpportunity{
		Symbol:  target.Symbol,
		VcoinID: target.VcoinID,
		Match: models.PatternMatch{
			Symbol:      target.Symbol,
			PatternType: models.PatternReadyState,
			Confidence:  target.ConfidenceScore,
			DetectedAt:  target.CreatedAt,
		},
	}

	trade := p.executor.ExecuteBuy(ctx, target.Symbol, opp, target.PositionSizeUSDT, stopLoss, cfg.TakeProfitPercent)
	if !trade.Success {
		msg := trade.Error
		if len(trade.BlockReasons) > 0 {
			msg = fmt.Sprintf("%s: %v", msg, trade.BlockReasons)
		}
		p.terminate(ctx, target.ID, models.TargetFailed, &store.ExecutionFields{ErrorMessage: msg})
		logger.Warn().Str("error", msg).Msg("Target execution failed")
		return outcomeFailed
	}

	if p.tracker != nil {
		if _, err := p.tracker.Track(trade, opp, stopLoss, cfg.TakeProfitPercent); err != nil {
			logger.Warn().Err(err).Msg("Position tracking failed after fill")
		}
	}

	executedAt := trade.Timestamp
	p.terminate(ctx, target.ID, models.TargetCompleted, &store.ExecutionFields{
		ExecutionPrice:     trade.ExecutedPrice,
		ActualPositionSize: trade.ExecutedQty,
		ExecutedAt:         &executedAt,
	})
	logger.Info().
		Float64("price", trade.ExecutedPrice).
		Float64("quantity", trade.ExecutedQty).
		Msg("Target completed")
	return outcomeCompleted
}

func (p *Processor) validate(ctx context.Context, target models.SnipeTarget) error {
	if target.Symbol == "" {
		return fmt.Errorf("target %d has no symbol", target.ID)
	}
	if target.PositionSizeUSDT <= 0 {
		return fmt.Errorf("target %d has non-positive position size", target.ID)
	}
	if _, err := p.executor.ValidateSymbolTrading(ctx, target.Symbol); err != nil {
		return apperrors.Wrapf(err, "symbol %s not executable", target.Symbol)
	}
	return nil
}

// failTarget moves a still-pending target straight to failed by way of the
// cancelled transition rule: pending targets may only move to executing or
// cancelled, so a validation failure claims then fails the row.
func (p *Processor) failTarget(ctx context.Context, id int64, msg string) {
	if err := p.store.UpdateStatus(ctx, id, models.TargetExecuting, nil); err != nil {
		p.logger.Warn().Int64("target_id", id).Err(err).Msg("Could not claim target for failure")
		return
	}
	p.terminate(ctx, id, models.TargetFailed, &store.ExecutionFields{ErrorMessage: msg})
}

func (p *Processor) terminate(ctx context.Context, id int64, status models.TargetStatus, fields *store.ExecutionFields) {
	if err := p.store.UpdateStatus(ctx, id, status, fields); err != nil {
		p.logger.Error().Int64("target_id", id).Str("status", string(status)).Err(err).
			Msg("Terminal status update failed")
	}
}
