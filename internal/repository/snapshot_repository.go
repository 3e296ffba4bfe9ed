package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegodamacenoo/banban-core/internal/domain"
)

type snapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a Postgres-backed snapshot repository.
func NewSnapshotRepository(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepository{pool: pool}
}

func (r *snapshotRepository) Get(ctx context.Context, tenantID uuid.UUID, snapshotType, snapshotKey string) (domain.Snapshot, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT tenant_id, snapshot_type, snapshot_key, value, date
		 FROM snapshots
		 WHERE tenant_id = $1 AND snapshot_type = $2 AND snapshot_key = $3`,
		tenantID, snapshotType, snapshotKey,
	)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, false, nil
		}
		return domain.Snapshot{}, false, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snapshot, true, nil
}

func (r *snapshotRepository) ApplyStockDelta(ctx context.Context, tenantID uuid.UUID, snapshotKey string, delta float64, movementType string, referenceID uuid.UUID) (domain.Snapshot, error) {
	now := time.Now().UTC()
	meta, err := json.Marshal(map[string]any{
		domain.SnapshotFieldLastMovement:    movementType,
		domain.SnapshotFieldLastMovementRef: referenceID.String(),
		domain.SnapshotFieldLastUpdated:     now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to marshal snapshot metadata: %w", err)
	}

	// The increment happens server-side inside the upsert, so concurrent
	// deltas against the same key serialize on the row instead of losing
	// updates to a read-then-write cycle.
	row := r.pool.QueryRow(ctx,
		`INSERT INTO snapshots (tenant_id, snapshot_type, snapshot_key, value, date)
		 VALUES ($1, $2, $3, jsonb_build_object('current_stock', $4::numeric) || $5::jsonb, $6)
		 ON CONFLICT (tenant_id, snapshot_type, snapshot_key)
		 DO UPDATE SET
		   value = snapshots.value
		     || jsonb_build_object('current_stock',
		          COALESCE((snapshots.value->>'current_stock')::numeric, 0) + $4::numeric)
		     || $5::jsonb,
		   date = $6
		 RETURNING tenant_id, snapshot_type, snapshot_key, value, date`,
		tenantID, domain.SnapshotTypeStock, snapshotKey, delta, meta, now,
	)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to apply stock delta: %w", err)
	}
	return snapshot, nil
}

func scanSnapshot(row pgx.Row) (domain.Snapshot, error) {
	var (
		snapshot domain.Snapshot
		rawValue json.RawMessage
	)
	if err := row.Scan(
		&snapshot.TenantID, &snapshot.SnapshotType, &snapshot.SnapshotKey,
		&rawValue, &snapshot.Date,
	); err != nil {
		return domain.Snapshot{}, err
	}
	value, err := domain.AttributesFromJSON(rawValue)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to decode snapshot value: %w", err)
	}
	snapshot.Value = value
	return snapshot, nil
}
