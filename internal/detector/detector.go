// Package detector defines the pattern-detection feed capability.
package detector

import (
	"context"
	"sync"

	"autosniper/internal/models"
)

// Feed is the upstream pattern-detection source. The core consumes matches
// and raw ticks, it never produces them.
type Feed interface {
	// Matches streams detected pattern matches.
	Matches() <-chan models.PatternMatch

	// Ticks streams raw price and volume updates per symbol.
	Ticks() <-chan models.Ticker

	// Ping verifies the feed is reachable.
	Ping(ctx context.Context) error

	// Connected reports current feed connectivity without I/O.
	Connected() bool
}

// SimFeed is a scriptable in-process feed for tests and paper runs.
type SimFeed struct {
	mu        sync.Mutex
	matches   chan models.PatternMatch
	ticks     chan models.Ticker
	connected bool
	pingErr   error
}

// NewSimFeed creates a connected simulated feed.
func NewSimFeed() *SimFeed {
	return &SimFeed{
		matches:   make(chan models.PatternMatch, 64),
		ticks:     make(chan models.Ticker, 64),
		connected: true,
	}
}

// Emit pushes a match into the stream.
func (f *SimFeed) Emit(match models.PatternMatch) {
	f.matches <- match
}

// EmitTick pushes a raw price update into the tick stream.
func (f *SimFeed) EmitTick(tick models.Ticker) {
	f.ticks <- tick
}

// Matches streams detected pattern matches.
func (f *SimFeed) Matches() <-chan models.PatternMatch {
	return f.matches
}

// Ticks streams raw price and volume updates.
func (f *SimFeed) Ticks() <-chan models.Ticker {
	return f.ticks
}

// Ping verifies the feed is reachable.
func (f *SimFeed) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

// Connected reports current feed connectivity.
func (f *SimFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected scripts connectivity state.
func (f *SimFeed) SetConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

// SetPingError scripts the Ping result.
func (f *SimFeed) SetPingError(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

// CloseStream closes the match stream.
func (f *SimFeed) CloseStream() {
	close(f.matches)
}
