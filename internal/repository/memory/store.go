// Package memory provides in-memory implementations of the repository
// interfaces. They exist for tests and local development and are wired only
// by explicit dependency injection; no runtime code path falls back to them.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/repository"
)

// Store holds all graph state behind one mutex. Good enough for tests; the
// semantics (idempotent resolve, guarded status update, atomic delta) match
// the Postgres implementations.
type Store struct {
	mu            sync.Mutex
	entities      map[uuid.UUID]domain.BusinessEntity
	entityKeys    map[string]uuid.UUID
	transactions  map[uuid.UUID]domain.BusinessTransaction
	txnKeys       map[string]uuid.UUID
	relationships []domain.Relationship
	snapshots     map[string]domain.Snapshot
	events        []domain.BusinessEvent
	outcomes      []domain.WebhookOutcome
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		entities:     map[uuid.UUID]domain.BusinessEntity{},
		entityKeys:   map[string]uuid.UUID{},
		transactions: map[uuid.UUID]domain.BusinessTransaction{},
		txnKeys:      map[string]uuid.UUID{},
		snapshots:    map[string]domain.Snapshot{},
	}
}

func (s *Store) Entities() repository.EntityRepository             { return (*entityStore)(s) }
func (s *Store) Transactions() repository.TransactionRepository    { return (*transactionStore)(s) }
func (s *Store) Relationships() repository.RelationshipRepository  { return (*relationshipStore)(s) }
func (s *Store) Snapshots() repository.SnapshotRepository          { return (*snapshotStore)(s) }
func (s *Store) Events() repository.EventRepository                { return (*eventStore)(s) }
func (s *Store) Outcomes() repository.OutcomeRepository            { return (*outcomeStore)(s) }

func entityKey(tenantID uuid.UUID, entityType, externalID string) string {
	return strings.Join([]string{tenantID.String(), entityType, externalID}, "|")
}

func snapshotStoreKey(tenantID uuid.UUID, snapshotType, snapshotKey string) string {
	return strings.Join([]string{tenantID.String(), snapshotType, snapshotKey}, "|")
}

type entityStore Store

func (s *entityStore) Resolve(_ context.Context, tenantID uuid.UUID, entityType, externalID string, seed map[string]any) (domain.BusinessEntity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if externalID != "" {
		if id, ok := s.entityKeys[entityKey(tenantID, entityType, externalID)]; ok {
			existing := s.entities[id]
			if !existing.Deleted {
				return existing, false, nil
			}
		}
	}

	entity := domain.NewBusinessEntity(tenantID, entityType, externalID, seed)
	s.entities[entity.ID] = entity
	if externalID != "" {
		s.entityKeys[entityKey(tenantID, entityType, externalID)] = entity.ID
	}
	return entity, true, nil
}

func (s *entityStore) GetByID(_ context.Context, id uuid.UUID) (domain.BusinessEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok {
		return domain.BusinessEntity{}, &domain.NotFoundError{Kind: "entity", Key: id.String()}
	}
	return entity, nil
}

func (s *entityStore) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.BusinessEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entities := []domain.BusinessEntity{}
	for _, id := range ids {
		if entity, ok := s.entities[id]; ok {
			entities = append(entities, entity)
		}
	}
	return entities, nil
}

func (s *entityStore) List(_ context.Context, filter domain.EntityFilter) ([]domain.BusinessEntity, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matches := []domain.BusinessEntity{}
	for _, entity := range s.entities {
		if entity.TenantID != filter.TenantID || entity.Deleted {
			continue
		}
		if filter.EntityType != "" && entity.EntityType != filter.EntityType {
			continue
		}
		matches = append(matches, entity)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	total := len(matches)
	matches = paginate(matches, filter.Limit, filter.Offset)
	return matches, total, nil
}

func (s *entityStore) UpdateAttributes(_ context.Context, id uuid.UUID, attributes map[string]any) (domain.BusinessEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok || entity.Deleted {
		return domain.BusinessEntity{}, &domain.NotFoundError{Kind: "entity", Key: id.String()}
	}
	for k, v := range attributes {
		entity = entity.WithAttribute(k, v)
	}
	s.entities[id] = entity
	return entity, nil
}

func (s *entityStore) SoftDelete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok || entity.Deleted {
		return &domain.NotFoundError{Kind: "entity", Key: id.String()}
	}
	entity.Deleted = true
	entity.UpdatedAt = time.Now().UTC()
	s.entities[id] = entity
	return nil
}

type transactionStore Store

func (s *transactionStore) Create(_ context.Context, txn domain.BusinessTransaction) (domain.BusinessTransaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if txn.ExternalID != "" {
		key := entityKey(txn.TenantID, txn.TransactionType, txn.ExternalID)
		if id, ok := s.txnKeys[key]; ok {
			return s.transactions[id], false, nil
		}
		s.txnKeys[key] = txn.ID
	}
	s.transactions[txn.ID] = txn
	return txn, true, nil
}

func (s *transactionStore) GetByID(_ context.Context, id uuid.UUID) (domain.BusinessTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[id]
	if !ok {
		return domain.BusinessTransaction{}, &domain.NotFoundError{Kind: "transaction", Key: id.String()}
	}
	return txn, nil
}

func (s *transactionStore) GetByExternalID(_ context.Context, tenantID uuid.UUID, transactionType, externalID string) (domain.BusinessTransaction, bool, error) {
	if externalID == "" {
		return domain.BusinessTransaction{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.txnKeys[entityKey(tenantID, transactionType, externalID)]
	if !ok {
		return domain.BusinessTransaction{}, false, nil
	}
	return s.transactions[id], true, nil
}

func (s *transactionStore) UpdateStatusIf(_ context.Context, txn domain.BusinessTransaction, from string) (domain.BusinessTransaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.transactions[txn.ID]
	if !ok || stored.Status != from {
		return domain.BusinessTransaction{}, false, nil
	}
	s.transactions[txn.ID] = txn
	return txn, true, nil
}

func (s *transactionStore) List(_ context.Context, filter domain.TransactionFilter) ([]domain.BusinessTransaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matches := []domain.BusinessTransaction{}
	for _, txn := range s.transactions {
		if txn.TenantID != filter.TenantID {
			continue
		}
		if filter.TransactionType != "" && txn.TransactionType != filter.TransactionType {
			continue
		}
		if filter.Status != "" && txn.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && txn.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !txn.CreatedAt.Before(filter.To) {
			continue
		}
		matches = append(matches, txn)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	total := len(matches)
	matches = paginate(matches, filter.Limit, filter.Offset)
	return matches, total, nil
}

type relationshipStore Store

func (s *relationshipStore) Create(_ context.Context, rel domain.Relationship) (domain.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships = append(s.relationships, rel)
	return rel, nil
}

func (s *relationshipStore) CreateBatch(_ context.Context, rels []domain.Relationship) ([]domain.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships = append(s.relationships, rels...)
	return rels, nil
}

func (s *relationshipStore) ListBySource(_ context.Context, tenantID, sourceID uuid.UUID) ([]domain.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rels := []domain.Relationship{}
	for _, rel := range s.relationships {
		if rel.TenantID == tenantID && rel.SourceID == sourceID {
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

func (s *relationshipStore) ListBySources(_ context.Context, tenantID uuid.UUID, sourceIDs []uuid.UUID, relationshipType string) ([]domain.Relationship, error) {
	wanted := map[uuid.UUID]bool{}
	for _, id := range sourceIDs {
		wanted[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rels := []domain.Relationship{}
	for _, rel := range s.relationships {
		if rel.TenantID != tenantID || !wanted[rel.SourceID] {
			continue
		}
		if relationshipType != "" && rel.RelationshipType != relationshipType {
			continue
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

type snapshotStore Store

func (s *snapshotStore) Get(_ context.Context, tenantID uuid.UUID, snapshotType, snapshotKey string) (domain.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[snapshotStoreKey(tenantID, snapshotType, snapshotKey)]
	return snapshot, ok, nil
}

func (s *snapshotStore) ApplyStockDelta(_ context.Context, tenantID uuid.UUID, snapshotKey string, delta float64, movementType string, referenceID uuid.UUID) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snapshotStoreKey(tenantID, domain.SnapshotTypeStock, snapshotKey)
	now := time.Now().UTC()
	snapshot, ok := s.snapshots[key]
	if !ok {
		snapshot = domain.Snapshot{
			TenantID:     tenantID,
			SnapshotType: domain.SnapshotTypeStock,
			SnapshotKey:  snapshotKey,
			Value:        map[string]any{domain.SnapshotFieldCurrentStock: float64(0)},
		}
	}

	current, _ := snapshot.Value[domain.SnapshotFieldCurrentStock].(float64)
	value := map[string]any{}
	for k, v := range snapshot.Value {
		value[k] = v
	}
	value[domain.SnapshotFieldCurrentStock] = current + delta
	value[domain.SnapshotFieldLastMovement] = movementType
	value[domain.SnapshotFieldLastMovementRef] = referenceID.String()
	value[domain.SnapshotFieldLastUpdated] = now.Format(time.RFC3339Nano)

	snapshot.Value = value
	snapshot.Date = now
	s.snapshots[key] = snapshot
	return snapshot, nil
}

type eventStore Store

func (s *eventStore) Record(_ context.Context, event domain.BusinessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *eventStore) ListByEntity(_ context.Context, tenantID, entityID uuid.UUID, limit, offset int) ([]domain.BusinessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := []domain.BusinessEvent{}
	for _, event := range s.events {
		if event.TenantID == tenantID && event.EntityID == entityID {
			events = append(events, event)
		}
	}
	return paginate(events, limit, offset), nil
}

type outcomeStore Store

func (s *outcomeStore) Record(_ context.Context, outcome domain.WebhookOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *outcomeStore) List(_ context.Context, tenantID uuid.UUID, flow string, limit, offset int) ([]domain.WebhookOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcomes := []domain.WebhookOutcome{}
	for _, outcome := range s.outcomes {
		if outcome.TenantID != tenantID {
			continue
		}
		if flow != "" && outcome.Flow != flow {
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return paginate(outcomes, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
