package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "autosniper/internal/errors"
	"autosniper/internal/models"
)

// SQLiteStore implements TargetStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the target database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snipe_targets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		symbol TEXT NOT NULL,
		vcoin_id TEXT,
		position_size_usdt REAL NOT NULL,
		stop_loss_percent REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		confidence_score REAL NOT NULL,
		execution_price REAL,
		actual_position_size REAL,
		actual_execution_time DATETIME,
		target_execution_time DATETIME,
		error_message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_targets_status ON snipe_targets(status);
	CREATE INDEX IF NOT EXISTS idx_targets_owner ON snipe_targets(owner);
	CREATE INDEX IF NOT EXISTS idx_targets_ready
		ON snipe_targets(status, target_execution_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert persists a new target and returns it with the assigned id.
func (s *SQLiteStore) Insert(ctx context.Context, t models.SnipeTarget) (models.SnipeTarget, error) {
	if t.Status == "" {
		t.Status = models.TargetPending
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snipe_targets
			(owner, symbol, vcoin_id, position_size_usdt, stop_loss_percent,
			 status, confidence_score, target_execution_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Owner, t.Symbol, t.VcoinID, t.PositionSizeUSDT, t.StopLossPercent,
		string(t.Status), t.ConfidenceScore, t.TargetExecutionTime, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return t, apperrors.NewStoreError("insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return t, apperrors.NewStoreError("insert", err)
	}
	t.ID = id
	return t, nil
}

// Get returns the target with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (models.SnipeTarget, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return t, apperrors.ErrTargetNotFound
	}
	if err != nil {
		return t, apperrors.NewStoreError("get", err)
	}
	return t, nil
}

// GetReadyTargets returns up to limit pending targets that are due, oldest
// first. A NULL target_execution_time means ready immediately.
func (s *SQLiteStore) GetReadyTargets(ctx context.Context, limit int) ([]models.SnipeTarget, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE status = ?
		  AND (target_execution_time IS NULL OR target_execution_time <= ?)
		ORDER BY created_at ASC
		LIMIT ?`,
		string(models.TargetPending), time.Now().UTC(), limit)
	if err != nil {
		return nil, apperrors.NewStoreError("get_ready", err)
	}
	defer rows.Close()
	return scanTargets(rows)
}

// GetTargetsByOwner returns every target for the owner.
func (s *SQLiteStore) GetTargetsByOwner(ctx context.Context, owner string) ([]models.SnipeTarget, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE owner = ? ORDER BY created_at ASC`, owner)
	if err != nil {
		return nil, apperrors.NewStoreError("get_by_owner", err)
	}
	defer rows.Close()
	return scanTargets(rows)
}

// GetTargetsByStatus returns every target in the given status.
func (s *SQLiteStore) GetTargetsByStatus(ctx context.Context, status models.TargetStatus) ([]models.SnipeTarget, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, apperrors.NewStoreError("get_by_status", err)
	}
	defer rows.Close()
	return scanTargets(rows)
}

// UpdateStatus advances a target's status, rejecting non-monotonic
// transitions. The read-check-write runs inside a transaction so concurrent
// updaters cannot interleave.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, next models.TargetStatus, fields *ExecutionFields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreError("update_status", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM snipe_targets WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return apperrors.ErrTargetNotFound
	}
	if err != nil {
		return apperrors.NewStoreError("update_status", err)
	}

	if !models.TargetStatus(current).CanTransitionTo(next) {
		return apperrors.NewStoreError("update_status",
			fmt.Errorf("illegal transition %s -> %s for target %d", current, next, id))
	}

	now := time.Now().UTC()
	if fields != nil {
		var executedAt interface{}
		if fields.ExecutedAt != nil {
			executedAt = fields.ExecutedAt.UTC()
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE snipe_targets
			SET status = ?, execution_price = ?, actual_position_size = ?,
			    actual_execution_time = ?, error_message = ?, updated_at = ?
			WHERE id = ?`,
			string(next), fields.ExecutionPrice, fields.ActualPositionSize,
			executedAt, fields.ErrorMessage, now, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE snipe_targets SET status = ?, updated_at = ? WHERE id = ?`,
			string(next), now, id)
	}
	if err != nil {
		return apperrors.NewStoreError("update_status", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError("update_status", err)
	}
	return nil
}

// DeleteCompletedBefore removes terminal targets last updated before cutoff.
func (s *SQLiteStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snipe_targets
		WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(models.TargetCompleted), string(models.TargetFailed),
		string(models.TargetCancelled), cutoff.UTC())
	if err != nil {
		return 0, apperrors.NewStoreError("delete_completed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewStoreError("delete_completed", err)
	}
	return int(n), nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const selectColumns = `
	SELECT id, owner, symbol, COALESCE(vcoin_id, ''), position_size_usdt,
	       stop_loss_percent, status, confidence_score,
	       COALESCE(execution_price, 0), COALESCE(actual_position_size, 0),
	       actual_execution_time, target_execution_time,
	       COALESCE(error_message, ''), created_at, updated_at
	FROM snipe_targets`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTarget(row rowScanner) (models.SnipeTarget, error) {
	var t models.SnipeTarget
	var status string
	var actualExec, targetExec sql.NullTime
	err := row.Scan(&t.ID, &t.Owner, &t.Symbol, &t.VcoinID, &t.PositionSizeUSDT,
		&t.StopLossPercent, &status, &t.ConfidenceScore,
		&t.ExecutionPrice, &t.ActualPositionSize,
		&actualExec, &targetExec, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Status = models.TargetStatus(status)
	if actualExec.Valid {
		tt := actualExec.Time
		t.ActualExecutionTime = &tt
	}
	if targetExec.Valid {
		tt := targetExec.Time
		t.TargetExecutionTime = &tt
	}
	return t, nil
}

func scanTargets(rows *sql.Rows) ([]models.SnipeTarget, error) {
	var out []models.SnipeTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, apperrors.NewStoreError("scan", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("scan", err)
	}
	return out, nil
}
