package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BusinessTransaction is a typed document or event node with an enforced
// lifecycle status. Status only changes through state-machine-validated
// transitions; every transition is appended to the state_history attribute.
type BusinessTransaction struct {
	ID              uuid.UUID      `json:"id"`
	TenantID        uuid.UUID      `json:"tenant_id"`
	TransactionType string         `json:"transaction_type"`
	ExternalID      string         `json:"external_id,omitempty"`
	Status          string         `json:"status"`
	Attributes      map[string]any `json:"attributes"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Transaction types produced by the flow action tables.
const (
	TransactionTypeSale              = "sale"
	TransactionTypePayment           = "payment"
	TransactionTypePurchaseOrder     = "purchase_order"
	TransactionTypeInboundDocument   = "inbound_document"
	TransactionTypeReturnDocument    = "return_document"
	TransactionTypeInventoryMovement = "inventory_movement"
)

// StateHistoryKey is the attribute under which the append-only transition log
// lives inside a transaction's attribute map.
const StateHistoryKey = "state_history"

// StateHistoryEntry is one element of the append-only transition log.
type StateHistoryEntry struct {
	From           string         `json:"from"`
	To             string         `json:"to"`
	TransitionedAt time.Time      `json:"transitioned_at"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// NewBusinessTransaction creates a transaction at its initial status with an
// empty state history.
func NewBusinessTransaction(tenantID uuid.UUID, transactionType, externalID, status string, attributes map[string]any) BusinessTransaction {
	attrs := copyAttributes(attributes)
	if _, ok := attrs[StateHistoryKey]; !ok {
		attrs[StateHistoryKey] = []any{}
	}
	now := time.Now().UTC()
	return BusinessTransaction{
		ID:              uuid.New(),
		TenantID:        tenantID,
		TransactionType: transactionType,
		ExternalID:      externalID,
		Status:          status,
		Attributes:      attrs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// StateHistory decodes the state_history attribute. Entries the engine did
// not write (or wrote under an older shape) decode best-effort.
func (t BusinessTransaction) StateHistory() []StateHistoryEntry {
	raw, ok := t.Attributes[StateHistoryKey]
	if !ok {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var entries []StateHistoryEntry
	if err := json.Unmarshal(encoded, &entries); err != nil {
		return nil
	}
	return entries
}

// WithTransition returns a copy of the transaction moved to the new status,
// with merged attributes and the transition appended to state_history.
// It never mutates the receiver's maps.
func (t BusinessTransaction) WithTransition(to string, attributes map[string]any, at time.Time) BusinessTransaction {
	attrs := copyAttributes(t.Attributes)
	for k, v := range attributes {
		if k == StateHistoryKey {
			continue
		}
		attrs[k] = v
	}

	entry := StateHistoryEntry{
		From:           t.Status,
		To:             to,
		TransitionedAt: at,
		Attributes:     copyAttributes(attributes),
	}
	history := append([]StateHistoryEntry{}, t.StateHistory()...)
	history = append(history, entry)
	attrs[StateHistoryKey] = history

	t.Attributes = attrs
	t.Status = to
	t.UpdatedAt = at
	return t
}

// AttributesJSON marshals the attribute map for JSONB storage.
func (t *BusinessTransaction) AttributesJSON() (json.RawMessage, error) {
	if t.Attributes == nil {
		t.Attributes = make(map[string]any)
	}
	return json.Marshal(t.Attributes)
}
