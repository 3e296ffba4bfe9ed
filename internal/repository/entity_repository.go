package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegodamacenoo/banban-core/internal/domain"
)

// entityRepository implements EntityRepository over pgxpool.
type entityRepository struct {
	pool *pgxpool.Pool
}

// NewEntityRepository creates a Postgres-backed entity repository.
func NewEntityRepository(pool *pgxpool.Pool) EntityRepository {
	return &entityRepository{pool: pool}
}

const entityColumns = "id, tenant_id, entity_type, external_id, attributes, deleted, created_at, updated_at"

func (r *entityRepository) Resolve(ctx context.Context, tenantID uuid.UUID, entityType, externalID string, seed map[string]any) (domain.BusinessEntity, bool, error) {
	entity := domain.NewBusinessEntity(tenantID, entityType, externalID, seed)
	attributesJSON, err := entity.AttributesJSON()
	if err != nil {
		return domain.BusinessEntity{}, false, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	if externalID == "" {
		// No idempotence key; plain insert.
		row := r.pool.QueryRow(ctx,
			`INSERT INTO business_entities (id, tenant_id, entity_type, external_id, attributes)
			 VALUES ($1, $2, $3, NULL, $4)
			 RETURNING `+entityColumns,
			entity.ID, tenantID, entityType, attributesJSON,
		)
		created, err := scanEntity(row)
		if err != nil {
			return domain.BusinessEntity{}, false, fmt.Errorf("failed to create entity: %w", err)
		}
		return created, true, nil
	}

	// Upsert-on-conflict keeps resolution race-safe: concurrent resolves of
	// the same key both land on the single row. The no-op DO UPDATE makes
	// RETURNING yield the existing row; xmax = 0 distinguishes a fresh insert.
	row := r.pool.QueryRow(ctx,
		`INSERT INTO business_entities (id, tenant_id, entity_type, external_id, attributes)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, entity_type, external_id) WHERE external_id IS NOT NULL AND NOT deleted
		 DO UPDATE SET external_id = EXCLUDED.external_id
		 RETURNING `+entityColumns+`, (xmax = 0) AS inserted`,
		entity.ID, tenantID, entityType, externalID, attributesJSON,
	)

	var (
		resolved domain.BusinessEntity
		rawAttrs json.RawMessage
		extID    *string
		inserted bool
	)
	if err := row.Scan(
		&resolved.ID, &resolved.TenantID, &resolved.EntityType, &extID,
		&rawAttrs, &resolved.Deleted, &resolved.CreatedAt, &resolved.UpdatedAt,
		&inserted,
	); err != nil {
		return domain.BusinessEntity{}, false, fmt.Errorf("failed to resolve entity: %w", err)
	}
	if extID != nil {
		resolved.ExternalID = *extID
	}
	resolved.Attributes, err = domain.AttributesFromJSON(rawAttrs)
	if err != nil {
		return domain.BusinessEntity{}, false, fmt.Errorf("failed to decode attributes for entity %s: %w", resolved.ID, err)
	}
	return resolved, inserted, nil
}

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.BusinessEntity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM business_entities WHERE id = $1`, id)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BusinessEntity{}, &domain.NotFoundError{Kind: "entity", Key: id.String()}
		}
		return domain.BusinessEntity{}, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

func (r *entityRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.BusinessEntity, error) {
	if len(ids) == 0 {
		return []domain.BusinessEntity{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM business_entities WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities by ids: %w", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

func (r *entityRepository) List(ctx context.Context, filter domain.EntityFilter) ([]domain.BusinessEntity, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+entityColumns+`, COUNT(*) OVER() AS total_count
		 FROM business_entities
		 WHERE tenant_id = $1
		   AND ($2 = '' OR entity_type = $2)
		   AND NOT deleted
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		filter.TenantID, filter.EntityType, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := []domain.BusinessEntity{}
	total := 0
	for rows.Next() {
		var (
			entity   domain.BusinessEntity
			rawAttrs json.RawMessage
			extID    *string
		)
		if err := rows.Scan(
			&entity.ID, &entity.TenantID, &entity.EntityType, &extID,
			&rawAttrs, &entity.Deleted, &entity.CreatedAt, &entity.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan entity: %w", err)
		}
		if extID != nil {
			entity.ExternalID = *extID
		}
		if entity.Attributes, err = domain.AttributesFromJSON(rawAttrs); err != nil {
			return nil, 0, fmt.Errorf("failed to decode attributes for entity %s: %w", entity.ID, err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate entities: %w", err)
	}
	return entities, total, nil
}

func (r *entityRepository) UpdateAttributes(ctx context.Context, id uuid.UUID, attributes map[string]any) (domain.BusinessEntity, error) {
	attributesJSON, err := json.Marshal(attributes)
	if err != nil {
		return domain.BusinessEntity{}, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE business_entities
		 SET attributes = attributes || $2, updated_at = now()
		 WHERE id = $1 AND NOT deleted
		 RETURNING `+entityColumns,
		id, attributesJSON,
	)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BusinessEntity{}, &domain.NotFoundError{Kind: "entity", Key: id.String()}
		}
		return domain.BusinessEntity{}, fmt.Errorf("failed to update entity attributes: %w", err)
	}
	return entity, nil
}

func (r *entityRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE business_entities SET deleted = TRUE, updated_at = now() WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Kind: "entity", Key: id.String()}
	}
	return nil
}

func scanEntity(row pgx.Row) (domain.BusinessEntity, error) {
	var (
		entity   domain.BusinessEntity
		rawAttrs json.RawMessage
		extID    *string
	)
	if err := row.Scan(
		&entity.ID, &entity.TenantID, &entity.EntityType, &extID,
		&rawAttrs, &entity.Deleted, &entity.CreatedAt, &entity.UpdatedAt,
	); err != nil {
		return domain.BusinessEntity{}, err
	}
	if extID != nil {
		entity.ExternalID = *extID
	}
	attrs, err := domain.AttributesFromJSON(rawAttrs)
	if err != nil {
		return domain.BusinessEntity{}, fmt.Errorf("failed to decode attributes for entity %s: %w", entity.ID, err)
	}
	entity.Attributes = attrs
	return entity, nil
}

func collectEntities(rows pgx.Rows) ([]domain.BusinessEntity, error) {
	entities := []domain.BusinessEntity{}
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}
	return entities, nil
}
