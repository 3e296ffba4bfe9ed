package domain

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is a materialized point-in-time aggregate keyed for fast reads,
// e.g. current stock for one (product, location) pair.
type Snapshot struct {
	TenantID     uuid.UUID      `json:"tenant_id"`
	SnapshotType string         `json:"snapshot_type"`
	SnapshotKey  string         `json:"snapshot_key"`
	Value        map[string]any `json:"value"`
	Date         time.Time      `json:"date"`
}

// SnapshotTypeStock holds per-(product, location) stock levels.
const SnapshotTypeStock = "stock_level"

// Stock value fields maintained by the snapshot updater.
const (
	SnapshotFieldCurrentStock    = "current_stock"
	SnapshotFieldLastMovement    = "last_movement"
	SnapshotFieldLastMovementRef = "last_movement_ref"
	SnapshotFieldLastUpdated     = "last_updated"
)

// StockSnapshotKey builds the canonical key for a (product, location) pair.
func StockSnapshotKey(productID, locationID uuid.UUID) string {
	return productID.String() + ":" + locationID.String()
}
