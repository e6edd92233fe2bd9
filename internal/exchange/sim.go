package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autosniper/internal/models"
)

// SimExchange is an in-memory simulated exchange used by tests and paper
// runs. Prices, balances and failure modes are fully scriptable.
type SimExchange struct {
	mu sync.RWMutex

	prices    map[string]float64
	change24h map[string]float64
	volumes   map[string]float64
	symbols   map[string]models.SymbolInfo
	balances  []models.Balance

	// Fill price offset as a fraction of last price, to simulate slippage.
	SlippageFrac float64

	// Scripted failures
	FailTicker   bool
	FailOrder    bool
	FailBalances bool
	FailPing     bool

	orderCounter int
	orders       []models.OrderResult
}

// NewSimExchange creates a simulated exchange with a starting USDT balance.
func NewSimExchange(usdt float64) *SimExchange {
	return &SimExchange{
		prices:    make(map[string]float64),
		change24h: make(map[string]float64),
		volumes:   make(map[string]float64),
		symbols:   make(map[string]models.SymbolInfo),
		balances: []models.Balance{
			{Asset: "USDT", Free: usdt},
		},
	}
}

// SetPrice scripts the last price for a symbol and registers it as tradeable.
func (s *SimExchange) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	if _, ok := s.symbols[symbol]; !ok {
		s.symbols[symbol] = models.SymbolInfo{
			Symbol:       symbol,
			Tradeable:    true,
			QuantityStep: 0.0001,
			PriceStep:    0.0001,
			MinNotional:  10,
		}
	}
}

// SetVolume scripts the 24h volume for a symbol.
func (s *SimExchange) SetVolume(symbol string, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes[symbol] = volume
}

// SetChange24h scripts the 24h price change percentage for a symbol.
func (s *SimExchange) SetChange24h(symbol string, pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.change24h[symbol] = pct
}

// SetSymbolInfo overrides the trading constraints for a symbol.
func (s *SimExchange) SetSymbolInfo(info models.SymbolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[info.Symbol] = info
}

// GetTicker implements Exchange.
func (s *SimExchange) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailTicker {
		return nil, fmt.Errorf("sim: ticker unavailable")
	}
	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("sim: unknown symbol %s", symbol)
	}
	return &models.Ticker{
		Symbol:         symbol,
		LastPrice:      price,
		PriceChange24h: s.change24h[symbol],
		Volume24h:      s.volumes[symbol],
		Timestamp:      time.Now(),
	}, nil
}

// CreateOrder implements Exchange. Fills at the scripted price adjusted by
// SlippageFrac.
func (s *SimExchange) CreateOrder(ctx context.Context, order models.Order) (*models.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOrder {
		return nil, fmt.Errorf("sim: order rejected")
	}
	price, ok := s.prices[order.Symbol]
	if !ok {
		return nil, fmt.Errorf("sim: unknown symbol %s", order.Symbol)
	}
	fill := price * (1 + s.SlippageFrac)
	s.orderCounter++
	result := models.OrderResult{
		OrderID:       fmt.Sprintf("sim-%d", s.orderCounter),
		Symbol:        order.Symbol,
		Side:          order.Side,
		ExecutedPrice: fill,
		ExecutedQty:   order.Quantity,
		PlacedAt:      time.Now(),
	}
	s.orders = append(s.orders, result)
	return &result, nil
}

// GetAccountBalances implements Exchange.
func (s *SimExchange) GetAccountBalances(ctx context.Context) ([]models.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailBalances {
		return nil, fmt.Errorf("sim: balances unavailable")
	}
	out := make([]models.Balance, len(s.balances))
	copy(out, s.balances)
	return out, nil
}

// GetAllSymbols implements Exchange.
func (s *SimExchange) GetAllSymbols(ctx context.Context) ([]models.SymbolInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SymbolInfo, 0, len(s.symbols))
	for _, info := range s.symbols {
		out = append(out, info)
	}
	return out, nil
}

// Ping implements Exchange.
func (s *SimExchange) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailPing {
		return fmt.Errorf("sim: unreachable")
	}
	return nil
}

// Orders returns every order placed against the sim, oldest first.
func (s *SimExchange) Orders() []models.OrderResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.OrderResult, len(s.orders))
	copy(out, s.orders)
	return out
}
