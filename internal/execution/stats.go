package execution

import (
	"sync"
	"time"

	"autosniper/internal/models"
)

// statsTracker accumulates execution statistics across trade attempts.
type statsTracker struct {
	mu    sync.Mutex
	stats models.ExecutionStats

	totalSlippage float64
	totalLatency  time.Duration
}

func newStatsTracker() *statsTracker {
	return &statsTracker{
		stats: models.ExecutionStats{
			PatternStats: make(map[models.PatternType]*models.PatternStat),
			StartedAt:    time.Now(),
		},
	}
}

func (t *statsTracker) record(result models.TradeResult, pattern models.PatternType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.stats
	s.TotalTrades++
	if result.Success {
		s.SuccessfulTrades++
		t.totalSlippage += result.Slippage
	} else {
		s.FailedTrades++
	}
	if result.Side == models.OrderSideSell && result.Success {
		s.TotalPnL += result.RealizedPnL
	}
	t.totalLatency += result.Latency

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.SuccessfulTrades) / float64(s.TotalTrades) * 100
		s.AverageLatency = t.totalLatency / time.Duration(s.TotalTrades)
	}
	if s.SuccessfulTrades > 0 {
		s.AverageSlippage = t.totalSlippage / float64(s.SuccessfulTrades)
	}

	// Drawdown: peak-to-trough decline of cumulative PnL.
	if s.TotalPnL > s.PeakPnL {
		s.PeakPnL = s.TotalPnL
	}
	if dd := s.PeakPnL - s.TotalPnL; dd > s.Drawdown {
		s.Drawdown = dd
	}

	if pattern != "" {
		ps := s.PatternStats[pattern]
		if ps == nil {
			ps = &models.PatternStat{}
			s.PatternStats[pattern] = ps
		}
		ps.Trades++
		if result.Success {
			ps.Successes++
			ps.TotalPnL += result.RealizedPnL
		}
		ps.SuccessRate = float64(ps.Successes) / float64(ps.Trades) * 100
	}

	s.UpdatedAt = time.Now()
}

func (t *statsTracker) snapshot() models.ExecutionStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.stats
	out.PatternStats = make(map[models.PatternType]*models.PatternStat, len(t.stats.PatternStats))
	for k, v := range t.stats.PatternStats {
		cp := *v
		out.PatternStats[k] = &cp
	}
	return out
}

func (t *statsTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = models.ExecutionStats{
		PatternStats: make(map[models.PatternType]*models.PatternStat),
		StartedAt:    time.Now(),
	}
	t.totalSlippage = 0
	t.totalLatency = 0
}
