package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegodamacenoo/banban-core/internal/domain"
)

type relationshipRepository struct {
	pool *pgxpool.Pool
}

// NewRelationshipRepository creates a Postgres-backed relationship repository.
func NewRelationshipRepository(pool *pgxpool.Pool) RelationshipRepository {
	return &relationshipRepository{pool: pool}
}

const relationshipColumns = "id, tenant_id, relationship_type, source_id, target_id, attributes, created_at"

func (r *relationshipRepository) Create(ctx context.Context, rel domain.Relationship) (domain.Relationship, error) {
	attributesJSON, err := json.Marshal(rel.Attributes)
	if err != nil {
		return domain.Relationship{}, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO business_relationships (id, tenant_id, relationship_type, source_id, target_id, attributes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+relationshipColumns,
		rel.ID, rel.TenantID, rel.RelationshipType, rel.SourceID, rel.TargetID, attributesJSON,
	)
	created, err := scanRelationship(row)
	if err != nil {
		return domain.Relationship{}, fmt.Errorf("failed to create relationship: %w", err)
	}
	return created, nil
}

func (r *relationshipRepository) CreateBatch(ctx context.Context, rels []domain.Relationship) ([]domain.Relationship, error) {
	if len(rels) == 0 {
		return []domain.Relationship{}, nil
	}

	batch := &pgx.Batch{}
	for _, rel := range rels {
		attributesJSON, err := json.Marshal(rel.Attributes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attributes: %w", err)
		}
		batch.Queue(
			`INSERT INTO business_relationships (id, tenant_id, relationship_type, source_id, target_id, attributes)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+relationshipColumns,
			rel.ID, rel.TenantID, rel.RelationshipType, rel.SourceID, rel.TargetID, attributesJSON,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	created := make([]domain.Relationship, 0, len(rels))
	for range rels {
		rel, err := scanRelationship(results.QueryRow())
		if err != nil {
			return nil, fmt.Errorf("failed to create relationship batch: %w", err)
		}
		created = append(created, rel)
	}
	return created, nil
}

func (r *relationshipRepository) ListBySource(ctx context.Context, tenantID, sourceID uuid.UUID) ([]domain.Relationship, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+relationshipColumns+`
		 FROM business_relationships
		 WHERE tenant_id = $1 AND source_id = $2
		 ORDER BY created_at`,
		tenantID, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

func (r *relationshipRepository) ListBySources(ctx context.Context, tenantID uuid.UUID, sourceIDs []uuid.UUID, relationshipType string) ([]domain.Relationship, error) {
	if len(sourceIDs) == 0 {
		return []domain.Relationship{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+relationshipColumns+`
		 FROM business_relationships
		 WHERE tenant_id = $1 AND source_id = ANY($2)
		   AND ($3 = '' OR relationship_type = $3)
		 ORDER BY created_at`,
		tenantID, sourceIDs, relationshipType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships by sources: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

func scanRelationship(row pgx.Row) (domain.Relationship, error) {
	var (
		rel      domain.Relationship
		rawAttrs json.RawMessage
	)
	if err := row.Scan(
		&rel.ID, &rel.TenantID, &rel.RelationshipType, &rel.SourceID, &rel.TargetID,
		&rawAttrs, &rel.CreatedAt,
	); err != nil {
		return domain.Relationship{}, err
	}
	attrs, err := domain.AttributesFromJSON(rawAttrs)
	if err != nil {
		return domain.Relationship{}, fmt.Errorf("failed to decode attributes for relationship %s: %w", rel.ID, err)
	}
	rel.Attributes = attrs
	return rel, nil
}

func collectRelationships(rows pgx.Rows) ([]domain.Relationship, error) {
	rels := []domain.Relationship{}
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate relationships: %w", err)
	}
	return rels, nil
}
