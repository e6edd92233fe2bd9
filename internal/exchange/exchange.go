// Package exchange defines the exchange capability boundary.
package exchange

import (
	"context"
	"fmt"

	"autosniper/internal/models"
)

// Exchange is the capability this core consumes to trade. Implementations
// wrap the venue's HTTP/WebSocket client; responses are decoded and validated
// once at this boundary so the rest of the core works with typed values.
type Exchange interface {
	// GetTicker returns the current price view for a symbol.
	GetTicker(ctx context.Context, symbol string) (*models.Ticker, error)

	// CreateOrder places an order and returns the execution result.
	CreateOrder(ctx context.Context, order models.Order) (*models.OrderResult, error)

	// GetAccountBalances returns the account's asset balances.
	GetAccountBalances(ctx context.Context) ([]models.Balance, error)

	// GetAllSymbols returns trading constraints for every listed symbol.
	GetAllSymbols(ctx context.Context) ([]models.SymbolInfo, error)

	// Ping checks venue connectivity.
	Ping(ctx context.Context) error
}

// ValidateTicker rejects tickers that fail boundary validation.
func ValidateTicker(t *models.Ticker) error {
	if t == nil {
		return fmt.Errorf("nil ticker")
	}
	if t.Symbol == "" {
		return fmt.Errorf("ticker missing symbol")
	}
	if t.LastPrice <= 0 {
		return fmt.Errorf("ticker for %s has non-positive price %f", t.Symbol, t.LastPrice)
	}
	return nil
}

// ValidateOrderResult rejects order results that fail boundary validation.
func ValidateOrderResult(r *models.OrderResult) error {
	if r == nil {
		return fmt.Errorf("nil order result")
	}
	if r.OrderID == "" {
		return fmt.Errorf("order result missing order id")
	}
	if r.ExecutedQty <= 0 {
		return fmt.Errorf("order %s executed zero quantity", r.OrderID)
	}
	if r.ExecutedPrice <= 0 {
		return fmt.Errorf("order %s has non-positive price", r.OrderID)
	}
	return nil
}
