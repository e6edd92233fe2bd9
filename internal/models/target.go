package models

import "time"

// TargetStatus is the durable snipe-target status. Transitions are monotonic:
// pending -> executing -> {completed | failed | cancelled}. The target
// processor is the sole writer of these transitions; the state synchronizer
// only inserts rows that are absent from the mirror.
type TargetStatus string

const (
	TargetPending   TargetStatus = "pending"
	TargetExecuting TargetStatus = "executing"
	TargetCompleted TargetStatus = "completed"
	TargetFailed    TargetStatus = "failed"
	TargetCancelled TargetStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s TargetStatus) Terminal() bool {
	return s == TargetCompleted || s == TargetFailed || s == TargetCancelled
}

// CanTransitionTo reports whether moving from s to next preserves
// monotonicity.
func (s TargetStatus) CanTransitionTo(next TargetStatus) bool {
	switch s {
	case TargetPending:
		return next == TargetExecuting || next == TargetCancelled
	case TargetExecuting:
		return next.Terminal()
	default:
		return false
	}
}

// SnipeTarget is the durable record of a discovered opportunity awaiting or
// undergoing execution.
type SnipeTarget struct {
	ID               int64
	Owner            string
	Symbol           string
	VcoinID          string // external instrument id, may be empty
	PositionSizeUSDT float64
	StopLossPercent  float64
	Status           TargetStatus
	ConfidenceScore  float64
	ExecutionPrice   float64 // set on completion
	ActualPositionSize float64
	ActualExecutionTime *time.Time
	TargetExecutionTime *time.Time // nil means execute as soon as ready
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PositionStatusToTarget maps an in-memory position status to the durable
// status enum used when the synchronizer backfills missing rows.
func PositionStatusToTarget(s PositionStatus) TargetStatus {
	switch s {
	case PositionClosed:
		return TargetCompleted
	case PositionActive, PositionPartiallyFilled, PositionFilled:
		return TargetExecuting
	default:
		return TargetPending
	}
}
