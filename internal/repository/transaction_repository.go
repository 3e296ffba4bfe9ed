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

type transactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a Postgres-backed transaction repository.
func NewTransactionRepository(pool *pgxpool.Pool) TransactionRepository {
	return &transactionRepository{pool: pool}
}

const transactionColumns = "id, tenant_id, transaction_type, external_id, status, attributes, created_at, updated_at"

func (r *transactionRepository) Create(ctx context.Context, txn domain.BusinessTransaction) (domain.BusinessTransaction, bool, error) {
	attributesJSON, err := txn.AttributesJSON()
	if err != nil {
		return domain.BusinessTransaction{}, false, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	var externalID *string
	if txn.ExternalID != "" {
		externalID = &txn.ExternalID
	}

	// DO NOTHING keeps create-if-absent atomic under concurrent delivery of
	// the same external id; the loser of the race gets the winner's row back.
	row := r.pool.QueryRow(ctx,
		`INSERT INTO business_transactions (id, tenant_id, transaction_type, external_id, status, attributes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, transaction_type, external_id) WHERE external_id IS NOT NULL
		 DO NOTHING
		 RETURNING `+transactionColumns,
		txn.ID, txn.TenantID, txn.TransactionType, externalID, txn.Status, attributesJSON,
	)
	created, err := scanTransaction(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.BusinessTransaction{}, false, fmt.Errorf("failed to create transaction: %w", err)
	}

	existing, found, err := r.GetByExternalID(ctx, txn.TenantID, txn.TransactionType, txn.ExternalID)
	if err != nil {
		return domain.BusinessTransaction{}, false, err
	}
	if !found {
		return domain.BusinessTransaction{}, false, fmt.Errorf("transaction insert conflicted but no row found for external id %q", txn.ExternalID)
	}
	return existing, false, nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.BusinessTransaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM business_transactions WHERE id = $1`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BusinessTransaction{}, &domain.NotFoundError{Kind: "transaction", Key: id.String()}
		}
		return domain.BusinessTransaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

func (r *transactionRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, transactionType, externalID string) (domain.BusinessTransaction, bool, error) {
	if externalID == "" {
		return domain.BusinessTransaction{}, false, nil
	}
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+`
		 FROM business_transactions
		 WHERE tenant_id = $1 AND transaction_type = $2 AND external_id = $3`,
		tenantID, transactionType, externalID,
	)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BusinessTransaction{}, false, nil
		}
		return domain.BusinessTransaction{}, false, fmt.Errorf("failed to get transaction by external id: %w", err)
	}
	return txn, true, nil
}

func (r *transactionRepository) UpdateStatusIf(ctx context.Context, txn domain.BusinessTransaction, from string) (domain.BusinessTransaction, bool, error) {
	attributesJSON, err := txn.AttributesJSON()
	if err != nil {
		return domain.BusinessTransaction{}, false, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	// Optimistic guard: the update only lands while the stored status still
	// matches the status the transition was computed from.
	row := r.pool.QueryRow(ctx,
		`UPDATE business_transactions
		 SET status = $3, attributes = $4, updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING `+transactionColumns,
		txn.ID, from, txn.Status, attributesJSON,
	)
	updated, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BusinessTransaction{}, false, nil
		}
		return domain.BusinessTransaction{}, false, fmt.Errorf("failed to update transaction status: %w", err)
	}
	return updated, true, nil
}

func (r *transactionRepository) List(ctx context.Context, filter domain.TransactionFilter) ([]domain.BusinessTransaction, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`, COUNT(*) OVER() AS total_count
		 FROM business_transactions
		 WHERE tenant_id = $1
		   AND ($2 = '' OR transaction_type = $2)
		   AND ($3 = '' OR status = $3)
		   AND ($4::timestamptz IS NULL OR created_at >= $4)
		   AND ($5::timestamptz IS NULL OR created_at < $5)
		 ORDER BY created_at DESC
		 LIMIT $6 OFFSET $7`,
		filter.TenantID, filter.TransactionType, filter.Status,
		nullableTime(filter.From), nullableTime(filter.To), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txns := []domain.BusinessTransaction{}
	total := 0
	for rows.Next() {
		var (
			txn      domain.BusinessTransaction
			rawAttrs json.RawMessage
			extID    *string
		)
		if err := rows.Scan(
			&txn.ID, &txn.TenantID, &txn.TransactionType, &extID, &txn.Status,
			&rawAttrs, &txn.CreatedAt, &txn.UpdatedAt, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if extID != nil {
			txn.ExternalID = *extID
		}
		if txn.Attributes, err = domain.AttributesFromJSON(rawAttrs); err != nil {
			return nil, 0, fmt.Errorf("failed to decode attributes for transaction %s: %w", txn.ID, err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, total, nil
}

func scanTransaction(row pgx.Row) (domain.BusinessTransaction, error) {
	var (
		txn      domain.BusinessTransaction
		rawAttrs json.RawMessage
		extID    *string
	)
	if err := row.Scan(
		&txn.ID, &txn.TenantID, &txn.TransactionType, &extID, &txn.Status,
		&rawAttrs, &txn.CreatedAt, &txn.UpdatedAt,
	); err != nil {
		return domain.BusinessTransaction{}, err
	}
	if extID != nil {
		txn.ExternalID = *extID
	}
	attrs, err := domain.AttributesFromJSON(rawAttrs)
	if err != nil {
		return domain.BusinessTransaction{}, fmt.Errorf("failed to decode attributes for transaction %s: %w", txn.ID, err)
	}
	txn.Attributes = attrs
	return txn, nil
}
