package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BusinessEntity represents a typed node in the tenant graph: a product,
// location, supplier, customer or any other real-world referent an action
// can point at.
type BusinessEntity struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	EntityType string         `json:"entity_type"`
	ExternalID string         `json:"external_id,omitempty"`
	Attributes map[string]any `json:"attributes"`
	Deleted    bool           `json:"deleted,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Well-known entity types. The set is open: adapters may introduce new types
// without touching the engine.
const (
	EntityTypeProduct  = "product"
	EntityTypeLocation = "location"
	EntityTypeSupplier = "supplier"
	EntityTypeCustomer = "customer"
)

// NewBusinessEntity creates an entity ready for insertion.
func NewBusinessEntity(tenantID uuid.UUID, entityType, externalID string, attributes map[string]any) BusinessEntity {
	now := time.Now().UTC()
	return BusinessEntity{
		ID:         uuid.New(),
		TenantID:   tenantID,
		EntityType: entityType,
		ExternalID: externalID,
		Attributes: copyAttributes(attributes),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// WithAttribute returns a copy of the entity with one attribute added or replaced.
func (e BusinessEntity) WithAttribute(key string, value any) BusinessEntity {
	attrs := copyAttributes(e.Attributes)
	attrs[key] = value
	e.Attributes = attrs
	e.UpdatedAt = time.Now().UTC()
	return e
}

// AttributesJSON marshals the attribute map for JSONB storage.
func (e *BusinessEntity) AttributesJSON() (json.RawMessage, error) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	return json.Marshal(e.Attributes)
}

// AttributesFromJSON decodes a JSONB attribute column.
func AttributesFromJSON(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}

// copyAttributes shallow-copies an attribute map so callers cannot mutate
// stored state through a shared reference.
func copyAttributes(attributes map[string]any) map[string]any {
	out := make(map[string]any, len(attributes))
	for k, v := range attributes {
		out[k] = v
	}
	return out
}
