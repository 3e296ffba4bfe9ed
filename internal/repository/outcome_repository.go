package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegodamacenoo/banban-core/internal/domain"
)

type outcomeRepository struct {
	pool *pgxpool.Pool
}

// NewOutcomeRepository wires a webhook outcome log backed by pgxpool.
func NewOutcomeRepository(pool *pgxpool.Pool) OutcomeRepository {
	return &outcomeRepository{pool: pool}
}

func (r *outcomeRepository) Record(ctx context.Context, outcome domain.WebhookOutcome) error {
	if r.pool == nil {
		return fmt.Errorf("outcome repository not initialized")
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_outcomes (id, tenant_id, flow, action, success, transaction_id, error_code, message, processing_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		outcome.ID, outcome.TenantID, outcome.Flow, outcome.Action, outcome.Success,
		outcome.TransactionID, outcome.ErrorCode, outcome.Message, outcome.ProcessingMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook outcome: %w", err)
	}
	return nil
}

func (r *outcomeRepository) List(ctx context.Context, tenantID uuid.UUID, flow string, limit, offset int) ([]domain.WebhookOutcome, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("outcome repository not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, flow, action, success, transaction_id, error_code, message, processing_ms, created_at
		 FROM webhook_outcomes
		 WHERE tenant_id = $1
		   AND ($2 = '' OR flow = $2)
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		tenantID, flow, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []domain.WebhookOutcome{}
	for rows.Next() {
		var outcome domain.WebhookOutcome
		if err := rows.Scan(
			&outcome.ID, &outcome.TenantID, &outcome.Flow, &outcome.Action, &outcome.Success,
			&outcome.TransactionID, &outcome.ErrorCode, &outcome.Message, &outcome.ProcessingMS,
			&outcome.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan webhook outcome: %w", err)
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook outcomes: %w", err)
	}
	return outcomes, nil
}
