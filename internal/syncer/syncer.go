// Package syncer reconciles in-memory position state with the durable
// target mirror.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "autosniper/internal/errors"
	"autosniper/internal/logging"
	"autosniper/internal/models"
	"autosniper/internal/store"
	"autosniper/pkg/utils"
)

// PositionSource is the in-memory side of the reconciliation.
type PositionSource interface {
	Active() []*models.ExecutionPosition
}

// ConsistencyReport is the outcome of a side-effect-free comparison of the
// two state sides.
type ConsistencyReport struct {
	Owner             string    `json:"owner"`
	MemoryCount       int       `json:"memoryCount"`
	DatabaseCount     int       `json:"databaseCount"`
	MissingFromDB     []string  `json:"missingFromDb,omitempty"`
	MissingFromMemory []string  `json:"missingFromMemory,omitempty"`
	Issues            []string  `json:"issues,omitempty"`
	Recommended       []string  `json:"recommendedActions,omitempty"`
	Consistent        bool      `json:"consistent"`
	CheckedAt         time.Time `json:"checkedAt"`
	LastSyncAt        time.Time `json:"lastSyncAt,omitempty"`
}

// Direction selects which half of the reconciliation a run performs.
type Direction string

const (
	// DirectionMemoryToDB backfills durable rows for memory-only positions.
	DirectionMemoryToDB Direction = "memory-to-db"

	// DirectionBidirectional runs the memory-to-db half and reports
	// database-only rows; those are restored by the engine at startup,
	// never adopted mid-run.
	DirectionBidirectional Direction = "bidirectional"

	// DirectionDBToMemory is rejected: restoring positions from the
	// database is owned by the engine's startup load, not the synchronizer.
	DirectionDBToMemory Direction = "db-to-memory"
)

// Options controls a synchronization run. An empty Direction means
// memory-to-db.
type Options struct {
	Owner     string
	Direction Direction
	DryRun    bool // report what would change without writing
	Force     bool // run even when the check reports consistency
}

// Result summarizes a synchronization run. Report holds the post-run
// consistency check for non-skipped, non-dry runs.
type Result struct {
	Owner    string             `json:"owner"`
	Synced   int                `json:"synced"`
	Skipped  bool               `json:"skipped"`
	DryRun   bool               `json:"dryRun"`
	Issues   []string           `json:"issues,omitempty"`
	Duration time.Duration      `json:"duration"`
	Report   *ConsistencyReport `json:"report,omitempty"`
}

// Synchronizer repairs drift between memory and the durable mirror. Repair is
// one-directional: memory positions missing a durable row get one inserted.
// Rows present only in the database are reported, never deleted; the engine
// decides at startup whether to restore them.
type Synchronizer struct {
	positions PositionSource
	store     store.TargetStore
	logger    zerolog.Logger
	retry     utils.RetryConfig

	mu       sync.Mutex
	running  bool
	lastSync time.Time
}

// New creates a state synchronizer.
func New(positions PositionSource, st store.TargetStore, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		positions: positions,
		store:     st,
		logger:    logger.With().Str("component", "syncer").Logger(),
		retry:     utils.DefaultRetryConfig(),
	}
}

// CheckConsistency compares the two sides and reports the symmetric
// difference by symbol. It never writes.
func (s *Synchronizer) CheckConsistency(ctx context.Context, owner string) (ConsistencyReport, error) {
	report := ConsistencyReport{Owner: owner, CheckedAt: time.Now()}

	memory := s.memorySymbols()
	report.MemoryCount = len(memory)

	targets, err := s.store.GetTargetsByOwner(ctx, owner)
	if err != nil {
		return report, apperrors.NewConsistencyError(owner, "reading durable targets", err)
	}

	durable := make(map[string]bool, len(targets))
	for _, t := range targets {
		if !t.Status.Terminal() {
			durable[t.Symbol] = true
			report.DatabaseCount++
		}
	}

	for symbol := range memory {
		if !durable[symbol] {
			report.MissingFromDB = append(report.MissingFromDB, symbol)
		}
	}
	for symbol := range durable {
		if _, ok := memory[symbol]; !ok {
			report.MissingFromMemory = append(report.MissingFromMemory, symbol)
		}
	}

	if n := len(report.MissingFromDB); n > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d memory target(s) not found in database", n))
		report.Recommended = append(report.Recommended,
			"run a synchronization pass to backfill the durable mirror")
	}
	if n := len(report.MissingFromMemory); n > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d database target(s) not found in memory", n))
		report.Recommended = append(report.Recommended,
			"restart the engine to restore executing targets from the database")
	}
	report.Consistent = len(report.Issues) == 0

	s.mu.Lock()
	report.LastSyncAt = s.lastSync
	s.mu.Unlock()
	return report, nil
}

// Synchronize runs one reconciliation pass. Only one run may be active at a
// time; a concurrent call fails immediately with ErrSyncInProgress.
func (s *Synchronizer) Synchronize(ctx context.Context, opts Options) (Result, error) {
	switch opts.Direction {
	case "", DirectionMemoryToDB, DirectionBidirectional:
	case DirectionDBToMemory:
		return Result{Owner: opts.Owner}, fmt.Errorf(
			"db-to-memory restore is owned by the engine's startup load, not synchronization")
	default:
		return Result{Owner: opts.Owner}, fmt.Errorf("unknown sync direction %q", opts.Direction)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{Owner: opts.Owner}, apperrors.ErrSyncInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	result := Result{Owner: opts.Owner, DryRun: opts.DryRun}

	report, err := s.CheckConsistency(ctx, opts.Owner)
	if err != nil {
		return result, err
	}

	if report.Consistent && !opts.Force {
		result.Skipped = true
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Issues = report.Issues

	missing := make(map[string]bool, len(report.MissingFromDB))
	for _, symbol := range report.MissingFromDB {
		missing[symbol] = true
	}

	for _, pos := range s.positions.Active() {
		if !missing[pos.Symbol] {
			continue
		}
		missing[pos.Symbol] = false

		if opts.DryRun {
			result.Synced++
			continue
		}

		target := models.SnipeTarget{
			Owner:            opts.Owner,
			Symbol:           pos.Symbol,
			PositionSizeUSDT: pos.EntryPrice * pos.Quantity,
			Status:           models.PositionStatusToTarget(pos.Status),
			ConfidenceScore:  pos.Confidence,
		}
		err := utils.Retry(ctx, s.retry, func() error {
			_, err := s.store.Insert(ctx, target)
			return err
		})
		if err != nil {
			issue := fmt.Sprintf("backfill for %s failed: %v", pos.Symbol, err)
			result.Issues = append(result.Issues, issue)
			s.logger.Error().Str("symbol", pos.Symbol).Err(err).Msg("Backfill insert failed")
			continue
		}
		result.Synced++
	}

	if !opts.DryRun {
		s.mu.Lock()
		s.lastSync = time.Now()
		s.mu.Unlock()

		after, err := s.CheckConsistency(ctx, opts.Owner)
		if err == nil {
			result.Report = &after
		}
	}

	result.Duration = time.Since(start)
	logging.LogSync(s.logger, opts.Owner, result.Synced, len(result.Issues) == 0)
	return result, nil
}

// UnifiedTargetCount reports a single active-target count when the two sides
// disagree. The larger side wins; a mismatch returns a warning naming the
// lagging side.
func (s *Synchronizer) UnifiedTargetCount(ctx context.Context, owner string) (int, string, error) {
	memCount := len(s.memorySymbols())

	targets, err := s.store.GetTargetsByOwner(ctx, owner)
	if err != nil {
		return memCount, "", apperrors.NewConsistencyError(owner, "reading durable targets", err)
	}
	dbCount := 0
	for _, t := range targets {
		if !t.Status.Terminal() {
			dbCount++
		}
	}

	warning := ""
	if memCount != dbCount {
		if dbCount < memCount {
			warning = fmt.Sprintf("database lags memory: %d in memory vs %d durable", memCount, dbCount)
		} else {
			warning = fmt.Sprintf("memory lags database: %d in memory vs %d durable", memCount, dbCount)
		}
		s.logger.Warn().
			Str("owner", owner).
			Int("memory", memCount).
			Int("database", dbCount).
			Msg("Target count mismatch, reporting the larger side")
	}
	if dbCount > memCount {
		return dbCount, warning, nil
	}
	return memCount, warning, nil
}

// CleanupCompletedTargets removes terminal rows older than the retention
// window.
func (s *Synchronizer) CleanupCompletedTargets(ctx context.Context, retention time.Duration) (int, error) {
	removed, err := s.store.DeleteCompletedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Completed targets cleaned up")
	}
	return removed, nil
}

// InProgress reports whether a synchronization run is active.
func (s *Synchronizer) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Synchronizer) memorySymbols() map[string]bool {
	out := make(map[string]bool)
	for _, pos := range s.positions.Active() {
		out[pos.Symbol] = true
	}
	return out
}
