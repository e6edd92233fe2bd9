package models

import "time"

// PositionStatus represents the lifecycle state of an execution position.
type PositionStatus string

const (
	PositionActive          PositionStatus = "ACTIVE"
	PositionPartiallyFilled PositionStatus = "PARTIALLY_FILLED"
	PositionFilled          PositionStatus = "FILLED"
	PositionClosed          PositionStatus = "CLOSED"
)

// ExecutionPosition is an open (or recently closed) position created by a
// successful buy. Mutated by price updates and exit monitoring; removed from
// the active set on close, while the durable mirror row is marked closed.
type ExecutionPosition struct {
	ID            string
	Symbol        string
	Status        PositionStatus
	EntryPrice    float64
	Quantity      float64 // > 0
	CurrentPrice  float64
	UnrealizedPnL float64
	RealizedPnL   float64
	StopLossPrice   float64 // 0 when unset
	TakeProfitPrice float64 // 0 when unset

	// Execution metadata
	Confidence float64
	Latency    time.Duration
	Slippage   float64
	OrderType  OrderType

	// Snapshot of the pattern that originated the position.
	Pattern PatternMatch

	OpenedAt  time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// MarkPrice updates the current price and unrealized PnL.
func (p *ExecutionPosition) MarkPrice(price float64, now time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = (price - p.EntryPrice) * p.Quantity
	p.UpdatedAt = now
}
