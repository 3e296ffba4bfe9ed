package domain

import (
	"time"

	"github.com/google/uuid"
)

// Relationship is a directed, typed edge between two graph nodes
// (entities or transactions). Rows are immutable once written and form the
// audit graph linking transactions to the entities they affect.
type Relationship struct {
	ID               uuid.UUID      `json:"id"`
	TenantID         uuid.UUID      `json:"tenant_id"`
	RelationshipType string         `json:"relationship_type"`
	SourceID         uuid.UUID      `json:"source_id"`
	TargetID         uuid.UUID      `json:"target_id"`
	Attributes       map[string]any `json:"attributes"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Relationship types emitted by the action processor.
const (
	RelationshipContainsItem   = "CONTAINS_ITEM"
	RelationshipAffectsProduct = "AFFECTS_PRODUCT"
	RelationshipAtLocation     = "AT_LOCATION"
	RelationshipFromSupplier   = "FROM_SUPPLIER"
	RelationshipByCustomer     = "BY_CUSTOMER"
	RelationshipFromLocation   = "FROM_LOCATION"
	RelationshipPaymentFor     = "PAYMENT_FOR"
	RelationshipReturnOf       = "RETURN_OF"
	RelationshipCausedBy       = "CAUSED_BY"
)

// NewRelationship creates an edge ready for insertion.
func NewRelationship(tenantID uuid.UUID, relationshipType string, sourceID, targetID uuid.UUID, attributes map[string]any) Relationship {
	return Relationship{
		ID:               uuid.New(),
		TenantID:         tenantID,
		RelationshipType: relationshipType,
		SourceID:         sourceID,
		TargetID:         targetID,
		Attributes:       copyAttributes(attributes),
		CreatedAt:        time.Now().UTC(),
	}
}
