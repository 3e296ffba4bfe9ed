package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegodamacenoo/banban-core/internal/domain"
)

type eventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a Postgres-backed audit event repository.
func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepository{pool: pool}
}

func (r *eventRepository) Record(ctx context.Context, event domain.BusinessEvent) error {
	eventDataJSON, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO business_events (id, tenant_id, entity_type, entity_id, event_code, event_data)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.TenantID, event.EntityType, event.EntityID, event.EventCode, eventDataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to record business event: %w", err)
	}
	return nil
}

func (r *eventRepository) ListByEntity(ctx context.Context, tenantID, entityID uuid.UUID, limit, offset int) ([]domain.BusinessEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, entity_type, entity_id, event_code, event_data, created_at
		 FROM business_events
		 WHERE tenant_id = $1 AND entity_id = $2
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		tenantID, entityID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list business events: %w", err)
	}
	defer rows.Close()

	events := []domain.BusinessEvent{}
	for rows.Next() {
		var (
			event   domain.BusinessEvent
			rawData json.RawMessage
		)
		if err := rows.Scan(
			&event.ID, &event.TenantID, &event.EntityType, &event.EntityID,
			&event.EventCode, &rawData, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan business event: %w", err)
		}
		if event.EventData, err = domain.AttributesFromJSON(rawData); err != nil {
			return nil, fmt.Errorf("failed to decode event data for %s: %w", event.ID, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate business events: %w", err)
	}
	return events, nil
}
