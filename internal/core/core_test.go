package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"autosniper/internal/alerts"
	"autosniper/internal/config"
	"autosniper/internal/detector"
	apperrors "autosniper/internal/errors"
	"autosniper/internal/exchange"
	"autosniper/internal/execution"
	"autosniper/internal/models"
	"autosniper/internal/positions"
	"autosniper/internal/processor"
	"autosniper/internal/resilience"
	"autosniper/internal/store"
	"autosniper/internal/syncer"
	"autosniper/internal/trigger"
)

type harness struct {
	orchestrator *Orchestrator
	exchange     *exchange.SimExchange
	feed         *detector.SimFeed
	alerts       *alerts.Manager
	positions    *positions.Manager
	store        *store.SQLiteStore
	config       *config.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Credentials = config.Credentials{APIKey: "key", APISecret: "secret"}
	cfg.CheckIntervalMs = 1000

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "targets.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	alertMgr := alerts.NewManager(logger)
	ex := exchange.NewSimExchange(10000)
	breaker := resilience.NewBreaker("exchange", resilience.DefaultBreakerConfig())
	feed := detector.NewSimFeed()

	probes := config.HealthProbes{
		ExchangePing: ex.Ping,
		DetectorPing: feed.Ping,
		SafetyStatus: func(ctx context.Context) (models.SafetyStatus, error) {
			return models.SafetyNormal, nil
		},
		RiskHeadroom: func(ctx context.Context) (bool, error) { return true, nil },
	}
	cfgMgr := config.NewManager(cfg, probes, alertMgr, logger)

	safety := func(ctx context.Context) (models.SafetyStatus, error) {
		return models.SafetyNormal, nil
	}
	posMgr := positions.NewManager(nil, alertMgr, logger)
	engine := execution.NewEngine(cfgMgr, ex, breaker, posMgr, safety, alertMgr, logger)
	posMgr.SetExit(engine.ExecuteSell)

	proc := processor.New(cfgMgr, st, engine, posMgr, logger)
	sn := syncer.New(posMgr, st, logger)
	trig := trigger.NewEngine(cfgMgr, nil, breaker, feed.Connected, logger)

	orch := New(Deps{
		Owner:     "default",
		Config:    cfgMgr,
		Engine:    engine,
		Positions: posMgr,
		Trigger:   trig,
		Processor: proc,
		Syncer:    sn,
		Alerts:    alertMgr,
		Targets:   st,
		Feed:      feed,
		Exchange:  ex,
		Breaker:   breaker,
		Logger:    logger,
	})

	return &harness{
		orchestrator: orch,
		exchange:     ex,
		feed:         feed,
		alerts:       alertMgr,
		positions:    posMgr,
		store:        st,
		config:       cfgMgr,
	}
}

func trackPosition(t *testing.T, h *harness, symbol string, price float64) *models.ExecutionPosition {
	t.Helper()
	pos, err := h.positions.Track(models.TradeResult{
		Success:       true,
		Symbol:        symbol,
		Side:          models.OrderSideBuy,
		ExecutedPrice: price,
		ExecutedQty:   10,
		Timestamp:     time.Now(),
	}, models.TradingOpportunity{Symbol: symbol}, 0, 0)
	if err != nil {
		t.Fatalf("tracking %s: %v", symbol, err)
	}
	return pos
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if h.orchestrator.Status() != StatusIdle {
		t.Fatalf("expected idle before start, got %s", h.orchestrator.Status())
	}

	resp := h.orchestrator.Start(ctx)
	if !resp.Success {
		t.Fatalf("start failed: %s", resp.Error)
	}
	if h.orchestrator.Status() != StatusActive {
		t.Fatalf("expected active, got %s", h.orchestrator.Status())
	}

	// Double start is rejected.
	if resp := h.orchestrator.Start(ctx); resp.Success {
		t.Fatal("second start must fail")
	}

	resp = h.orchestrator.Stop()
	if !resp.Success {
		t.Fatalf("stop failed: %s", resp.Error)
	}
	if h.orchestrator.Status() != StatusIdle {
		t.Fatalf("expected idle after stop, got %s", h.orchestrator.Status())
	}
	if resp := h.orchestrator.Stop(); resp.Success {
		t.Fatal("second stop must fail")
	}

	// A stopped orchestrator can be started again.
	if resp := h.orchestrator.Start(ctx); !resp.Success {
		t.Fatalf("restart failed: %s", resp.Error)
	}
	if h.orchestrator.Status() != StatusActive {
		t.Fatalf("expected active after restart, got %s", h.orchestrator.Status())
	}
	if resp := h.orchestrator.Stop(); !resp.Success {
		t.Fatalf("stop after restart failed: %s", resp.Error)
	}
}

func TestStartAbortsWhenUnhealthy(t *testing.T) {
	h := newHarness(t)
	h.exchange.FailPing = true

	resp := h.orchestrator.Start(context.Background())
	if resp.Success {
		t.Fatal("unhealthy system must not start")
	}
	if resp.Error != apperrors.ErrUnhealthy.Error() {
		t.Fatalf("expected health failure, got %q", resp.Error)
	}
	if h.orchestrator.Status() != StatusIdle {
		t.Fatalf("failed start must stay idle, got %s", h.orchestrator.Status())
	}
}

func TestStartRejectsDisabledConfig(t *testing.T) {
	h := newHarness(t)
	disabled := false
	if err := h.config.Update(config.Partial{Enabled: &disabled}); err != nil {
		t.Fatalf("disabling config: %v", err)
	}

	if resp := h.orchestrator.Start(context.Background()); resp.Success {
		t.Fatal("disabled config must not start")
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if resp := h.orchestrator.Pause(); resp.Success {
		t.Fatal("pause before start must fail")
	}

	h.orchestrator.Start(ctx)
	defer h.orchestrator.Stop()

	if resp := h.orchestrator.Pause(); !resp.Success {
		t.Fatalf("pause failed: %s", resp.Error)
	}
	if h.orchestrator.Status() != StatusPaused {
		t.Fatalf("expected paused, got %s", h.orchestrator.Status())
	}
	if resp := h.orchestrator.Resume(); !resp.Success {
		t.Fatalf("resume failed: %s", resp.Error)
	}
	if h.orchestrator.Status() != StatusActive {
		t.Fatalf("expected active after resume, got %s", h.orchestrator.Status())
	}
}

func TestCriticalAlertOverridesStatus(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.Start(context.Background())
	defer h.orchestrator.Stop()

	alert := h.alerts.Add(models.AlertRisk, models.SeverityCritical, "drawdown exceeded", nil)
	if h.orchestrator.Status() != StatusError {
		t.Fatalf("unacknowledged critical must surface as error, got %s", h.orchestrator.Status())
	}

	resp := h.orchestrator.AcknowledgeAlert(alert.ID)
	if !resp.Success {
		t.Fatalf("acknowledge failed: %s", resp.Error)
	}
	if h.orchestrator.Status() != StatusActive {
		t.Fatalf("acknowledged critical must clear error, got %s", h.orchestrator.Status())
	}
}

func TestEmergencyCloseAllAggregatesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.exchange.SetPrice("AUSDT", 2.0)
	h.exchange.SetPrice("BUSDT", 3.0)
	trackPosition(t, h, "AUSDT", 2.0)
	trackPosition(t, h, "BUSDT", 3.0)
	// No scripted price for CUSDT, so its close order fails.
	trackPosition(t, h, "CUSDT", 1.0)

	criticalBefore := len(h.alerts.BySeverity(models.SeverityCritical))

	resp := h.orchestrator.EmergencyCloseAll(ctx)
	if resp.Success {
		t.Fatal("a failed close must fail the sweep")
	}

	data := resp.Data.(map[string]interface{})
	if data["closed"].(int) != 2 {
		t.Fatalf("expected 2 closed, got %v", data["closed"])
	}
	if data["failed"].(int) != 1 {
		t.Fatalf("expected 1 failed, got %v", data["failed"])
	}
	failures := data["failures"].([]string)
	if len(failures) != 1 {
		t.Fatalf("expected exactly 1 failure message, got %v", failures)
	}

	criticalAfter := len(h.alerts.BySeverity(models.SeverityCritical))
	if criticalAfter-criticalBefore != 1 {
		t.Fatalf("expected exactly one new critical alert, got %d", criticalAfter-criticalBefore)
	}
	if h.positions.ActiveCount() != 1 {
		t.Fatalf("failed close must keep its position active, got %d", h.positions.ActiveCount())
	}
}

func TestEmergencyCloseAllCleanSweep(t *testing.T) {
	h := newHarness(t)

	h.exchange.SetPrice("AUSDT", 2.0)
	trackPosition(t, h, "AUSDT", 2.0)

	resp := h.orchestrator.EmergencyCloseAll(context.Background())
	if !resp.Success {
		t.Fatalf("clean sweep failed: %s", resp.Error)
	}
	if h.positions.ActiveCount() != 0 {
		t.Fatal("positions remain after clean sweep")
	}
}

func TestTickRefreshesPricesAndFiresStops(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.positions.SetWatchInterval(5 * time.Millisecond)

	h.exchange.SetPrice("DROPUSDT", 100)
	pos, err := h.positions.Track(models.TradeResult{
		Success:       true,
		Symbol:        "DROPUSDT",
		Side:          models.OrderSideBuy,
		ExecutedPrice: 100,
		ExecutedQty:   1,
		Timestamp:     time.Now(),
	}, models.TradingOpportunity{Symbol: "DROPUSDT"}, 5, 0)
	if err != nil {
		t.Fatalf("tracking: %v", err)
	}

	if resp := h.orchestrator.Start(ctx); !resp.Success {
		t.Fatalf("start failed: %s", resp.Error)
	}
	defer h.orchestrator.Stop()

	// Venue price falls through the stop at 95; the next tick must mark the
	// position and let the exit watch fire.
	h.exchange.SetPrice("DROPUSDT", 10)
	h.orchestrator.tick(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for h.positions.ActiveCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.positions.ActiveCount() != 0 {
		got, _ := h.positions.Get(pos.ID)
		t.Fatalf("stop-loss exit never fired, position still active: %+v", got)
	}

	orders := h.exchange.Orders()
	if len(orders) == 0 || orders[len(orders)-1].Side != models.OrderSideSell {
		t.Fatalf("expected a closing sell order, got %+v", orders)
	}
}

func TestFeedTicksDrivePriceUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pos := trackPosition(t, h, "TICKUSDT", 100)

	if resp := h.orchestrator.Start(ctx); !resp.Success {
		t.Fatalf("start failed: %s", resp.Error)
	}
	defer h.orchestrator.Stop()

	h.feed.EmitTick(models.Ticker{Symbol: "TICKUSDT", LastPrice: 120, Timestamp: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := h.positions.Get(pos.ID); ok && got.CurrentPrice == 120 {
			if got.UnrealizedPnL != 200 {
				t.Fatalf("expected pnl 200 on 10 units, got %v", got.UnrealizedPnL)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("feed tick never reached the position book")
}

func TestClosePosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.exchange.SetPrice("AUSDT", 2.0)
	pos := trackPosition(t, h, "AUSDT", 2.0)
	// No price for BADUSDT, so its sell fails.
	bad := trackPosition(t, h, "BADUSDT", 1.0)

	if resp := h.orchestrator.ClosePosition(ctx, "missing"); resp.Success {
		t.Fatal("unknown position id must fail")
	}

	if resp := h.orchestrator.ClosePosition(ctx, bad.ID); resp.Success {
		t.Fatal("failed sell must not close the position")
	}
	if _, ok := h.positions.Get(bad.ID); !ok {
		t.Fatal("position with failed sell must stay active")
	}

	resp := h.orchestrator.ClosePosition(ctx, pos.ID)
	if !resp.Success {
		t.Fatalf("close failed: %s", resp.Error)
	}
	if _, ok := h.positions.Get(pos.ID); ok {
		t.Fatal("closed position still active")
	}
}

func TestReportEnvelope(t *testing.T) {
	h := newHarness(t)

	resp := h.orchestrator.Report(context.Background())
	if !resp.Success {
		t.Fatalf("report failed: %s", resp.Error)
	}
	report, ok := resp.Data.(ExecutionReport)
	if !ok {
		t.Fatalf("expected ExecutionReport payload, got %T", resp.Data)
	}
	if report.Status != StatusIdle {
		t.Fatalf("expected idle status in report, got %s", report.Status)
	}
	if !report.Health.Healthy() {
		t.Fatal("healthy harness must report healthy")
	}
	if resp.Timestamp.IsZero() {
		t.Fatal("envelope must carry a timestamp")
	}
}

func TestLoadActiveFromStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	target, _ := h.store.Insert(ctx, models.SnipeTarget{
		Owner:            "default",
		Symbol:           "RESTOREUSDT",
		PositionSizeUSDT: 100,
		StopLossPercent:  5,
		ConfidenceScore:  90,
	})
	h.store.UpdateStatus(ctx, target.ID, models.TargetExecuting, nil)
	executedAt := time.Now()
	// Record fill detail while leaving the target in executing state.
	h.store.DB().Exec(
		`UPDATE snipe_targets SET execution_price = ?, actual_position_size = ?, actual_execution_time = ? WHERE id = ?`,
		2.5, 40.0, executedAt.UTC(), target.ID)

	if err := h.orchestrator.LoadActiveFromStore(ctx); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if h.positions.ActiveCount() != 1 {
		t.Fatalf("expected 1 restored position, got %d", h.positions.ActiveCount())
	}

	restored := h.positions.Active()[0]
	if restored.Symbol != "RESTOREUSDT" || restored.EntryPrice != 2.5 || restored.Quantity != 40 {
		t.Fatalf("restored position wrong: %+v", restored)
	}
	if restored.StopLossPrice == 0 {
		t.Fatal("restored position must re-derive its stop loss")
	}
}

func TestSynchronizeEnvelope(t *testing.T) {
	h := newHarness(t)

	resp := h.orchestrator.Synchronize(context.Background(), syncer.DirectionMemoryToDB, false, false)
	if !resp.Success {
		t.Fatalf("synchronize failed: %s", resp.Error)
	}

	resp = h.orchestrator.CheckConsistency(context.Background())
	if !resp.Success {
		t.Fatalf("consistency check failed: %s", resp.Error)
	}
	report := resp.Data.(syncer.ConsistencyReport)
	if !report.Consistent {
		t.Fatalf("empty system must be consistent: %+v", report)
	}
}
