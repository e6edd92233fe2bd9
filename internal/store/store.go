// Package store provides durable persistence for snipe targets.
package store

import (
	"context"
	"time"

	"autosniper/internal/models"
)

// TargetStore is the durable mirror of discovered snipe targets. Status
// transitions go through UpdateStatus, which enforces monotonicity; rows are
// never deleted on completion, only by explicit retention cleanup.
type TargetStore interface {
	// Insert persists a new target and returns it with the assigned id.
	Insert(ctx context.Context, target models.SnipeTarget) (models.SnipeTarget, error)

	// Get returns the target with the given id.
	Get(ctx context.Context, id int64) (models.SnipeTarget, error)

	// GetReadyTargets returns up to limit pending targets whose scheduled
	// execution time is absent or has passed, oldest first.
	GetReadyTargets(ctx context.Context, limit int) ([]models.SnipeTarget, error)

	// GetTargetsByOwner returns every target for the owner.
	GetTargetsByOwner(ctx context.Context, owner string) ([]models.SnipeTarget, error)

	// GetTargetsByStatus returns every target in the given status.
	GetTargetsByStatus(ctx context.Context, status models.TargetStatus) ([]models.SnipeTarget, error)

	// UpdateStatus advances a target's status. The transition must be
	// monotonic or an error is returned and the row is untouched. Fields is
	// optional execution detail recorded with the transition.
	UpdateStatus(ctx context.Context, id int64, next models.TargetStatus, fields *ExecutionFields) error

	// DeleteCompletedBefore removes terminal targets last updated before the
	// cutoff. Returns the number of rows removed.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the underlying database handle.
	Close() error
}

// ExecutionFields carries the execution detail recorded alongside a status
// transition.
type ExecutionFields struct {
	ExecutionPrice     float64
	ActualPositionSize float64
	ExecutedAt         *time.Time
	ErrorMessage       string
}
