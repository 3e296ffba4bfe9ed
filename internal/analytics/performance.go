package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/diegodamacenoo/banban-core/internal/domain"
)

// ProductPerformance aggregates one product's sales over a window.
type ProductPerformance struct {
	ProductID         uuid.UUID `json:"product_id"`
	ProductExternalID string    `json:"product_external_id"`
	ProductName       string    `json:"product_name,omitempty"`
	Quantity          float64   `json:"quantity"`
	Revenue           string    `json:"revenue"`
	Margin            string    `json:"margin"`
	MarginPct         float64   `json:"margin_pct"`
}

// PerformanceReport holds the ranked top-N slices.
type PerformanceReport struct {
	ByQuantity []ProductPerformance `json:"by_quantity"`
	ByMargin   []ProductPerformance `json:"by_margin"`
}

// ProductPerformance ranks products sold in the window by quantity and by
// margin percentage. Quantity and unit price come from the CONTAINS_ITEM
// relationships; cost price comes from the product entity's attributes.
func (e *Engine) ProductPerformance(ctx context.Context, tenantID uuid.UUID, from, to time.Time, topN int) (PerformanceReport, error) {
	if topN <= 0 {
		topN = 10
	}

	sales, err := e.scanTransactions(ctx, domain.TransactionFilter{
		TenantID:        tenantID,
		TransactionType: domain.TransactionTypeSale,
		From:            from,
		To:              to,
	})
	if err != nil {
		return PerformanceReport{}, fmt.Errorf("failed to scan sales: %w", err)
	}
	if len(sales) == 0 {
		return PerformanceReport{ByQuantity: []ProductPerformance{}, ByMargin: []ProductPerformance{}}, nil
	}

	saleIDs := make([]uuid.UUID, len(sales))
	for i, sale := range sales {
		saleIDs[i] = sale.ID
	}

	items, err := e.relationships.ListBySources(ctx, tenantID, saleIDs, domain.RelationshipContainsItem)
	if err != nil {
		return PerformanceReport{}, fmt.Errorf("failed to load sale items: %w", err)
	}

	type productAgg struct {
		quantity decimal.Decimal
		revenue  decimal.Decimal
	}
	aggregates := map[uuid.UUID]*productAgg{}
	for _, item := range items {
		agg, ok := aggregates[item.TargetID]
		if !ok {
			agg = &productAgg{}
			aggregates[item.TargetID] = agg
		}
		quantity := decimalAttr(item.Attributes, "quantity")
		unitPrice := decimalAttr(item.Attributes, "unit_price")
		agg.quantity = agg.quantity.Add(quantity)
		agg.revenue = agg.revenue.Add(quantity.Mul(unitPrice))
	}

	productIDs := make([]uuid.UUID, 0, len(aggregates))
	for id := range aggregates {
		productIDs = append(productIDs, id)
	}
	products, err := e.entities.GetByIDs(ctx, productIDs)
	if err != nil {
		return PerformanceReport{}, fmt.Errorf("failed to load products: %w", err)
	}
	byID := map[uuid.UUID]domain.BusinessEntity{}
	for _, product := range products {
		byID[product.ID] = product
	}

	rows := make([]ProductPerformance, 0, len(aggregates))
	for id, agg := range aggregates {
		product := byID[id]
		cost := decimalAttr(product.Attributes, "cost_price")
		margin := agg.revenue.Sub(agg.quantity.Mul(cost))
		marginPct := 0.0
		if !agg.revenue.IsZero() {
			marginPct, _ = margin.Div(agg.revenue).Mul(decimal.NewFromInt(100)).Round(2).Float64()
		}
		name, _ := product.Attributes["product_name"].(string)
		rows = append(rows, ProductPerformance{
			ProductID:         id,
			ProductExternalID: product.ExternalID,
			ProductName:       name,
			Quantity:          agg.quantity.InexactFloat64(),
			Revenue:           agg.revenue.StringFixed(2),
			Margin:            margin.StringFixed(2),
			MarginPct:         marginPct,
		})
	}

	byQuantity := append([]ProductPerformance{}, rows...)
	sort.Slice(byQuantity, func(i, j int) bool { return byQuantity[i].Quantity > byQuantity[j].Quantity })
	byMargin := append([]ProductPerformance{}, rows...)
	sort.Slice(byMargin, func(i, j int) bool { return byMargin[i].MarginPct > byMargin[j].MarginPct })

	return PerformanceReport{
		ByQuantity: topSlice(byQuantity, topN),
		ByMargin:   topSlice(byMargin, topN),
	}, nil
}

func decimalAttr(attributes map[string]any, key string) decimal.Decimal {
	switch v := attributes[key].(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.Zero
}

func topSlice(rows []ProductPerformance, n int) []ProductPerformance {
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}
