package domain

import (
	"time"

	"github.com/google/uuid"
)

// BusinessEvent is the audit record emitted once per processed action.
type BusinessEvent struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	EventCode  string         `json:"event_code"`
	EventData  map[string]any `json:"event_data"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewBusinessEvent creates an audit event ready for insertion.
func NewBusinessEvent(tenantID uuid.UUID, entityType string, entityID uuid.UUID, eventCode string, eventData map[string]any) BusinessEvent {
	return BusinessEvent{
		ID:         uuid.New(),
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		EventCode:  eventCode,
		EventData:  copyAttributes(eventData),
		CreatedAt:  time.Now().UTC(),
	}
}

// WebhookOutcome captures the structured outcome of one webhook request.
// Writes are best-effort observability and never fail the request.
type WebhookOutcome struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	Flow          string     `json:"flow"`
	Action        string     `json:"action"`
	Success       bool       `json:"success"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	ErrorCode     string     `json:"error_code,omitempty"`
	Message       string     `json:"message"`
	ProcessingMS  int64      `json:"processing_ms"`
	CreatedAt     time.Time  `json:"created_at"`
}
