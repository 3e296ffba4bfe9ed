package eca

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/diegodamacenoo/banban-core/internal/domain"
)

// LineItem is the typed shape of one entry in a payload's items array.
type LineItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price,omitempty"`
	CostPrice   float64 `json:"cost_price,omitempty"`
}

// payload wraps the raw attribute map with typed accessors. Adapters send
// loosely-typed JSON, so numbers may arrive as float64 or as numeric strings.
type payload map[string]any

func (p payload) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func (p payload) num(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func (p payload) has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	if arr, isArr := v.([]any); isArr && len(arr) == 0 {
		return false
	}
	return true
}

// items decodes the items array into typed line items.
func (p payload) items() ([]LineItem, error) {
	raw, ok := p["items"]
	if !ok || raw == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, domain.NewValidationError("items", "must be an array of line items")
	}
	var items []LineItem
	if err := json.Unmarshal(encoded, &items); err != nil {
		return nil, domain.NewValidationError("items", "must be an array of line items")
	}
	for i, item := range items {
		if item.ProductID == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if item.Quantity <= 0 {
			return nil, domain.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
	}
	return items, nil
}

// scalarAttributes returns the payload fields suitable for storage on the
// core transaction: everything except the items array, which is persisted in
// its decoded form separately.
func (p payload) scalarAttributes() map[string]any {
	attrs := make(map[string]any, len(p))
	for k, v := range p {
		if k == "items" {
			continue
		}
		attrs[k] = v
	}
	return attrs
}

// validateRequired checks presence of the spec's required fields.
func validateRequired(spec ActionSpec, p payload) error {
	for _, field := range spec.RequiredFields {
		if !p.has(field) {
			return domain.NewValidationError(field, "is required")
		}
	}
	return nil
}
