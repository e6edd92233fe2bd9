package syncer

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "autosniper/internal/errors"
	"autosniper/internal/models"
	"autosniper/internal/store"
)

type fakePositions struct {
	mu   sync.Mutex
	list []*models.ExecutionPosition
}

func (f *fakePositions) Active() []*models.ExecutionPosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.ExecutionPosition, len(f.list))
	copy(out, f.list)
	return out
}

func (f *fakePositions) add(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, &models.ExecutionPosition{
		ID:         "pos_" + symbol,
		Symbol:     symbol,
		Status:     models.PositionActive,
		EntryPrice: 2.0,
		Quantity:   50,
		Confidence: 90,
	})
}

func newTestSyncer(t *testing.T) (*Synchronizer, *fakePositions, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "targets.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	positions := &fakePositions{}
	return New(positions, st, zerolog.Nop()), positions, st
}

func insertActive(t *testing.T, st *store.SQLiteStore, owner, symbol string) models.SnipeTarget {
	t.Helper()
	target, err := st.Insert(context.Background(), models.SnipeTarget{
		Owner:            owner,
		Symbol:           symbol,
		PositionSizeUSDT: 100,
		ConfidenceScore:  90,
		Status:           models.TargetExecuting,
	})
	if err != nil {
		t.Fatalf("inserting target: %v", err)
	}
	return target
}

func TestCheckConsistencyReportsMemoryOnlyTargets(t *testing.T) {
	sn, positions, st := newTestSyncer(t)
	ctx := context.Background()

	// Memory holds A and B, the durable store only A.
	positions.add("AUSDT")
	positions.add("BUSDT")
	insertActive(t, st, "default", "AUSDT")

	report, err := sn.CheckConsistency(ctx, "default")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if report.MemoryCount != 2 || report.DatabaseCount != 1 {
		t.Fatalf("counts wrong: %+v", report)
	}
	if report.Consistent {
		t.Fatal("drift must be reported as inconsistent")
	}
	if len(report.Issues) != 1 || report.Issues[0] != "1 memory target(s) not found in database" {
		t.Fatalf("unexpected issues: %v", report.Issues)
	}
	if len(report.MissingFromDB) != 1 || report.MissingFromDB[0] != "BUSDT" {
		t.Fatalf("missing-from-db wrong: %v", report.MissingFromDB)
	}
}

func TestCheckConsistencyIsSymmetric(t *testing.T) {
	sn, positions, st := newTestSyncer(t)
	ctx := context.Background()

	positions.add("AUSDT")
	insertActive(t, st, "default", "AUSDT")
	insertActive(t, st, "default", "CUSDT")

	report, err := sn.CheckConsistency(ctx, "default")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(report.MissingFromMemory) != 1 || report.MissingFromMemory[0] != "CUSDT" {
		t.Fatalf("missing-from-memory wrong: %v", report.MissingFromMemory)
	}
	if len(report.Issues) != 1 {
		t.Fatalf("expected one issue, got %v", report.Issues)
	}
}

func TestCheckConsistencyIgnoresTerminalRows(t *testing.T) {
	sn, _, st := newTestSyncer(t)
	ctx := context.Background()

	done, _ := st.Insert(ctx, models.SnipeTarget{
		Owner: "default", Symbol: "DONEUSDT", PositionSizeUSDT: 100, ConfidenceScore: 90,
	})
	st.UpdateStatus(ctx, done.ID, models.TargetExecuting, nil)
	st.UpdateStatus(ctx, done.ID, models.TargetCompleted, nil)

	report, err := sn.CheckConsistency(ctx, "default")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !report.Consistent || report.DatabaseCount != 0 {
		t.Fatalf("terminal rows must not count as drift: %+v", report)
	}
}

func TestSynchronizeBackfillsMissingRows(t *testing.T) {
	sn, positions, st := newTestSyncer(t)
	ctx := context.Background()

	positions.add("AUSDT")
	positions.add("BUSDT")
	insertActive(t, st, "default", "AUSDT")

	result, err := sn.Synchronize(ctx, Options{Owner: "default"})
	if err != nil {
		t.Fatalf("synchronize failed: %v", err)
	}
	if result.Synced != 1 {
		t.Fatalf("expected 1 backfill, got %+v", result)
	}

	report, _ := sn.CheckConsistency(ctx, "default")
	if len(report.MissingFromDB) != 0 {
		t.Fatalf("backfill incomplete: %v", report.MissingFromDB)
	}

	// Backfilled row carries the mapped status and the position's notional.
	targets, _ := st.GetTargetsByOwner(ctx, "default")
	for _, target := range targets {
		if target.Symbol == "BUSDT" {
			if target.Status != models.TargetExecuting {
				t.Fatalf("active position must map to executing, got %s", target.Status)
			}
			if target.PositionSizeUSDT != 100 {
				t.Fatalf("expected entry notional 100, got %v", target.PositionSizeUSDT)
			}
		}
	}
}

func TestSynchronizeIsIdempotent(t *testing.T) {
	sn, positions, _ := newTestSyncer(t)
	ctx := context.Background()

	positions.add("AUSDT")

	first, err := sn.Synchronize(ctx, Options{Owner: "default"})
	if err != nil || first.Synced != 1 {
		t.Fatalf("first run: %+v err %v", first, err)
	}

	second, err := sn.Synchronize(ctx, Options{Owner: "default"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Synced != 0 || !second.Skipped {
		t.Fatalf("second run must be a consistent no-op: %+v", second)
	}
}

func TestSynchronizeDryRunWritesNothing(t *testing.T) {
	sn, positions, st := newTestSyncer(t)
	ctx := context.Background()

	positions.add("AUSDT")

	result, err := sn.Synchronize(ctx, Options{Owner: "default", DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if result.Synced != 1 || !result.DryRun {
		t.Fatalf("dry run should report the pending backfill: %+v", result)
	}

	targets, _ := st.GetTargetsByOwner(ctx, "default")
	if len(targets) != 0 {
		t.Fatal("dry run must not write")
	}
}

func TestSynchronizeRejectsConcurrentRuns(t *testing.T) {
	sn, positions, _ := newTestSyncer(t)
	positions.add("AUSDT")

	started := make(chan struct{})
	release := make(chan struct{})
	slow := &slowPositions{inner: positions, started: started, release: release}
	sn.positions = slow

	errCh := make(chan error, 1)
	go func() {
		_, err := sn.Synchronize(context.Background(), Options{Owner: "default"})
		errCh <- err
	}()

	<-started
	_, err := sn.Synchronize(context.Background(), Options{Owner: "default"})
	if !apperrors.Is(err, apperrors.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	close(release)

	if err := <-errCh; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if sn.InProgress() {
		t.Fatal("lock not released after the run")
	}
}

// slowPositions blocks the first Active call so a second Synchronize can be
// attempted while the first holds the lock.
type slowPositions struct {
	inner   PositionSource
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowPositions) Active() []*models.ExecutionPosition {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return s.inner.Active()
}

func TestUnifiedTargetCountTakesLargerSide(t *testing.T) {
	sn, positions, st := newTestSyncer(t)
	ctx := context.Background()

	positions.add("AUSDT")
	insertActive(t, st, "default", "AUSDT")
	insertActive(t, st, "default", "BUSDT")

	count, warning, err := sn.UnifiedTargetCount(ctx, "default")
	if err != nil {
		t.Fatalf("unified count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected max(1,2)=2, got %d", count)
	}
	if !strings.HasPrefix(warning, "memory lags database") {
		t.Fatalf("warning must name the lagging side, got %q", warning)
	}

	positions.add("CUSDT")
	positions.add("DUSDT")
	count, warning, err = sn.UnifiedTargetCount(ctx, "default")
	if err != nil {
		t.Fatalf("unified count failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected max(3,2)=3, got %d", count)
	}
	if !strings.HasPrefix(warning, "database lags memory") {
		t.Fatalf("warning must name the lagging side, got %q", warning)
	}
}

func TestUnifiedTargetCountAgreementHasNoWarning(t *testing.T) {
	sn, positions, st := newTestSyncer(t)
	ctx := context.Background()

	positions.add("AUSDT")
	insertActive(t, st, "default", "AUSDT")

	count, warning, err := sn.UnifiedTargetCount(ctx, "default")
	if err != nil {
		t.Fatalf("unified count failed: %v", err)
	}
	if count != 1 || warning != "" {
		t.Fatalf("agreement must report no warning: count %d warning %q", count, warning)
	}
}

func TestSynchronizeDirections(t *testing.T) {
	sn, positions, st := newTestSyncer(t)
	ctx := context.Background()

	positions.add("AUSDT")

	_, err := sn.Synchronize(ctx, Options{Owner: "default", Direction: DirectionDBToMemory})
	if err == nil {
		t.Fatal("db-to-memory must be rejected")
	}
	_, err = sn.Synchronize(ctx, Options{Owner: "default", Direction: "sideways"})
	if err == nil {
		t.Fatal("unknown direction must be rejected")
	}

	// Bidirectional still performs the memory-to-db half.
	result, err := sn.Synchronize(ctx, Options{Owner: "default", Direction: DirectionBidirectional})
	if err != nil {
		t.Fatalf("bidirectional run failed: %v", err)
	}
	if result.Synced != 1 {
		t.Fatalf("expected 1 backfill, got %+v", result)
	}
	targets, _ := st.GetTargetsByOwner(ctx, "default")
	if len(targets) != 1 {
		t.Fatalf("backfill row missing: %v", targets)
	}
}

func TestCleanupCompletedTargets(t *testing.T) {
	sn, _, st := newTestSyncer(t)
	ctx := context.Background()

	done, _ := st.Insert(ctx, models.SnipeTarget{
		Owner: "default", Symbol: "DONEUSDT", PositionSizeUSDT: 100, ConfidenceScore: 90,
	})
	st.UpdateStatus(ctx, done.ID, models.TargetExecuting, nil)
	st.UpdateStatus(ctx, done.ID, models.TargetCompleted, nil)

	// Negative retention puts the cutoff in the future.
	removed, err := sn.CleanupCompletedTargets(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}
