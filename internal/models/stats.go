package models

import "time"

// ExecutionStats holds cumulative execution counters. Mutated after every
// trade attempt; reset only by explicit operator action.
type ExecutionStats struct {
	TotalTrades      int
	SuccessfulTrades int
	FailedTrades     int
	TotalPnL         float64
	WinRate          float64 // percent
	PeakPnL          float64
	Drawdown         float64 // peak-to-trough decline in cumulative PnL
	AverageSlippage  float64
	AverageLatency   time.Duration

	// Per-pattern-type success rates.
	PatternStats map[PatternType]*PatternStat

	StartedAt time.Time
	UpdatedAt time.Time
}

// PatternStat tracks trade outcomes for one pattern type.
type PatternStat struct {
	Trades      int
	Successes   int
	SuccessRate float64 // percent
	TotalPnL    float64
}

// Response is the uniform envelope every public orchestrator operation
// returns to the external API/CLI layer.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// OK builds a successful response.
func OK(data interface{}) Response {
	return Response{Success: true, Data: data, Timestamp: time.Now()}
}

// Fail builds a failed response.
func Fail(err error) Response {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Response{Success: false, Error: msg, Timestamp: time.Now()}
}
