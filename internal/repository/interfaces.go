package repository

import (
	"context"

	"github.com/diegodamacenoo/banban-core/internal/domain"

	"github.com/google/uuid"
)

// EntityRepository is the sole writer of business entities.
type EntityRepository interface {
	// Resolve returns the entity matching (tenant, type, externalID),
	// creating it from the seed attributes when absent. The boolean reports
	// whether a row was created. Resolution is idempotent and race-safe:
	// the implementation must use an atomic insert-if-absent, never a
	// separate read then write.
	Resolve(ctx context.Context, tenantID uuid.UUID, entityType, externalID string, seed map[string]any) (domain.BusinessEntity, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.BusinessEntity, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.BusinessEntity, error)
	List(ctx context.Context, filter domain.EntityFilter) ([]domain.BusinessEntity, int, error)
	UpdateAttributes(ctx context.Context, id uuid.UUID, attributes map[string]any) (domain.BusinessEntity, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// RelationshipRepository stores the append-only audit graph edges.
type RelationshipRepository interface {
	Create(ctx context.Context, rel domain.Relationship) (domain.Relationship, error)
	CreateBatch(ctx context.Context, rels []domain.Relationship) ([]domain.Relationship, error)
	ListBySource(ctx context.Context, tenantID, sourceID uuid.UUID) ([]domain.Relationship, error)
	ListBySources(ctx context.Context, tenantID uuid.UUID, sourceIDs []uuid.UUID, relationshipType string) ([]domain.Relationship, error)
}

// TransactionRepository stores lifecycle documents. Status changes go through
// UpdateStatusIf so the state machine's optimistic guard holds.
type TransactionRepository interface {
	// Create inserts the transaction. When the transaction carries an
	// external id that already exists for (tenant, type), the existing row
	// is returned and the boolean is false.
	Create(ctx context.Context, txn domain.BusinessTransaction) (domain.BusinessTransaction, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.BusinessTransaction, error)
	// GetByExternalID returns (zero, false, nil) when no row matches.
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, transactionType, externalID string) (domain.BusinessTransaction, bool, error)
	// UpdateStatusIf persists the transitioned transaction only when the
	// stored status still equals from. The boolean reports whether the
	// guard matched.
	UpdateStatusIf(ctx context.Context, txn domain.BusinessTransaction, from string) (domain.BusinessTransaction, bool, error)
	List(ctx context.Context, filter domain.TransactionFilter) ([]domain.BusinessTransaction, int, error)
}

// SnapshotRepository is the persistence half of the snapshot updater.
type SnapshotRepository interface {
	Get(ctx context.Context, tenantID uuid.UUID, snapshotType, snapshotKey string) (domain.Snapshot, bool, error)
	// ApplyStockDelta atomically increments current_stock for the key,
	// creating the snapshot at the delta when absent, and records the
	// movement metadata. The returned snapshot reflects the new value.
	ApplyStockDelta(ctx context.Context, tenantID uuid.UUID, snapshotKey string, delta float64, movementType string, referenceID uuid.UUID) (domain.Snapshot, error)
}

// EventRepository stores audit events.
type EventRepository interface {
	Record(ctx context.Context, event domain.BusinessEvent) error
	ListByEntity(ctx context.Context, tenantID, entityID uuid.UUID, limit, offset int) ([]domain.BusinessEvent, error)
}

// OutcomeRepository stores webhook outcome logs for observability.
// Callers treat Record as best-effort.
type OutcomeRepository interface {
	Record(ctx context.Context, outcome domain.WebhookOutcome) error
	List(ctx context.Context, tenantID uuid.UUID, flow string, limit, offset int) ([]domain.WebhookOutcome, error)
}
