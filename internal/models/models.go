// Package models provides domain models for the auto-sniping core.
package models

import (
	"time"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// PatternType tags the kind of detected pattern an opportunity came from.
type PatternType string

const (
	PatternLaunchWindow  PatternType = "LAUNCH_WINDOW"
	PatternReadyState    PatternType = "READY_STATE"
	PatternPreLaunch     PatternType = "PRE_LAUNCH"
	PatternVolumeSurge   PatternType = "VOLUME_SURGE"
	PatternEarlyListing  PatternType = "EARLY_LISTING"
)

// RiskLevel is the detection subsystem's coarse risk rating.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// PatternMatch is a single detection-feed signal.
// Produced externally, consumed once; never mutated by this core.
type PatternMatch struct {
	Symbol             string
	PatternType        PatternType
	Confidence         float64 // 0-100
	RiskLevel          RiskLevel
	AdvanceNoticeHours float64 // 0 when the match is immediate
	DetectedAt         time.Time
}

// TradingOpportunity is an executable opportunity derived from a pattern match.
type TradingOpportunity struct {
	Symbol       string
	Match        PatternMatch
	LaunchTime   time.Time
	// External identifiers, validated at the trust boundary. Empty when the
	// upstream feed did not supply them.
	VcoinID      string
	ListingID    string
}

// Ticker is the exchange's current view of a symbol.
type Ticker struct {
	Symbol         string
	LastPrice      float64
	PriceChange24h float64 // percent
	Volume24h      float64
	Timestamp      time.Time
}

// SymbolInfo describes exchange trading constraints for a symbol.
type SymbolInfo struct {
	Symbol       string
	Tradeable    bool
	QuantityStep float64
	PriceStep    float64
	MinNotional  float64
}

// Balance is a single asset balance on the exchange account.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Order is an order request sent to the exchange.
type Order struct {
	Symbol   string
	Side     OrderSide
	Type     OrderType
	Quantity float64
	Price    float64 // 0 for market orders
}

// OrderResult is the exchange's response to an order.
type OrderResult struct {
	OrderID       string
	Symbol        string
	Side          OrderSide
	ExecutedPrice float64
	ExecutedQty   float64
	PlacedAt      time.Time
}

// TradeResult is the outcome of a single buy or sell attempt.
type TradeResult struct {
	Success       bool
	Symbol        string
	Side          OrderSide
	OrderID       string
	ExecutedPrice float64
	ExecutedQty   float64
	RequestedQty  float64
	Slippage      float64 // |executed - expected| / expected
	Latency       time.Duration
	RealizedPnL   float64 // sells only
	PnLPercent    float64 // sells only
	Error         string
	BlockReasons  []string // populated when risk assessment blocked the trade
	Timestamp     time.Time
}

// RiskAssessment is the result of pre-trade risk scoring.
type RiskAssessment struct {
	Approved        bool
	Score           float64
	Warnings        []string
	BlockReasons    []string
	MaxPositionFrac float64 // risk-scaled fraction of the configured size
}

// SystemHealth reports the four independent dependency checks.
// Recomputed on demand, never cached across calls.
type SystemHealth struct {
	ExchangeConnected  bool
	DetectorReachable  bool
	SafetyOK           bool
	RiskHeadroomOK     bool
	CheckedAt          time.Time
}

// Healthy reports whether every check passed.
func (h SystemHealth) Healthy() bool {
	return h.ExchangeConnected && h.DetectorReachable && h.SafetyOK && h.RiskHeadroomOK
}

// SafetyStatus is the safety subsystem's coarse state.
type SafetyStatus string

const (
	SafetyNormal   SafetyStatus = "NORMAL"
	SafetyWarning  SafetyStatus = "WARNING"
	SafetyCritical SafetyStatus = "CRITICAL"
)

// TriggerEvent is emitted when a pattern match survives the trigger gate.
type TriggerEvent struct {
	Symbol      string
	Match       PatternMatch
	TriggeredAt time.Time
	Latency     time.Duration // gate dispatch latency
}

// MarketEventType classifies market-data side events.
type MarketEventType string

const (
	MarketEventVolumeSpike MarketEventType = "VOLUME_SPIKE"
	MarketEventPriceAlert  MarketEventType = "PRICE_ALERT"
	MarketEventHealth      MarketEventType = "HEALTH"
)

// MarketEvent is emitted by the trigger engine for volume spikes, large
// price moves and periodic health probes.
type MarketEvent struct {
	Type      MarketEventType
	Symbol    string
	Price     float64
	Volume    float64
	ChangePct float64
	Healthy   bool
	Detail    string
	Timestamp time.Time
}
