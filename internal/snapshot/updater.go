// Package snapshot maintains keyed point-in-time aggregates through
// incremental delta application.
package snapshot

import (
	"context"

	"github.com/google/uuid"

	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/repository"
)

// Updater is the sole writer of snapshots. Deltas are commutative; replay
// protection is the caller's concern (retries are idempotent at the
// external_id level, one movement transaction per delta).
type Updater struct {
	snapshots repository.SnapshotRepository
}

// NewUpdater binds the updater to a snapshot store.
func NewUpdater(snapshots repository.SnapshotRepository) *Updater {
	return &Updater{snapshots: snapshots}
}

// ApplyStockDelta adds quantityDelta to the stock level of one
// (product, location) pair and records the contributing movement.
func (u *Updater) ApplyStockDelta(ctx context.Context, tenantID, productID, locationID uuid.UUID, quantityDelta float64, movementType string, referenceID uuid.UUID) (domain.Snapshot, error) {
	key := domain.StockSnapshotKey(productID, locationID)
	return u.snapshots.ApplyStockDelta(ctx, tenantID, key, quantityDelta, movementType, referenceID)
}

// CurrentStock reads the stock level for a (product, location) pair,
// defaulting to zero when no snapshot exists yet.
func (u *Updater) CurrentStock(ctx context.Context, tenantID, productID, locationID uuid.UUID) (float64, error) {
	key := domain.StockSnapshotKey(productID, locationID)
	snapshot, found, err := u.snapshots.Get(ctx, tenantID, domain.SnapshotTypeStock, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return numeric(snapshot.Value[domain.SnapshotFieldCurrentStock]), nil
}

// numeric coerces JSONB-decoded numbers, which arrive as float64 or string
// depending on the driver path.
func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
