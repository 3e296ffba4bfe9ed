// Package analytics batch-computes derived views over the transaction log:
// RFM customer segmentation and product performance. It only reads; it never
// writes graph state.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/repository"
)

// SentinelRecencyDays marks customers with no purchase inside the window.
const SentinelRecencyDays = 999

// scanPageSize bounds each store read during a window scan.
const scanPageSize = 500

// CustomerSegment is the RFM result for one customer.
type CustomerSegment struct {
	CustomerID         uuid.UUID `json:"customer_id"`
	CustomerExternalID string    `json:"customer_external_id"`
	RecencyDays        int       `json:"recency_days"`
	Frequency          int       `json:"frequency"`
	Monetary           string    `json:"monetary"`
	RecencyScore       int       `json:"recency_score"`
	FrequencyScore     int       `json:"frequency_score"`
	MonetaryScore      int       `json:"monetary_score"`
	Segment            string    `json:"segment"`
	LastPurchase       time.Time `json:"last_purchase,omitempty"`
}

// Engine runs batch analytics against the stores.
type Engine struct {
	transactions  repository.TransactionRepository
	relationships repository.RelationshipRepository
	entities      repository.EntityRepository
	now           func() time.Time
}

// NewEngine creates an analytics engine.
func NewEngine(transactions repository.TransactionRepository, relationships repository.RelationshipRepository, entities repository.EntityRepository) *Engine {
	return &Engine{
		transactions:  transactions,
		relationships: relationships,
		entities:      entities,
		now:           time.Now,
	}
}

type customerStats struct {
	lastPurchase time.Time
	frequency    int
	monetary     decimal.Decimal
}

// SegmentCustomers computes RFM segmentation for a tenant over a date window.
// Customers known to the entity store but without sales in the window are
// included with sentinel values and the default segment.
func (e *Engine) SegmentCustomers(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]CustomerSegment, error) {
	sales, err := e.scanTransactions(ctx, domain.TransactionFilter{
		TenantID:        tenantID,
		TransactionType: domain.TransactionTypeSale,
		From:            from,
		To:              to,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sales: %w", err)
	}

	stats := map[string]*customerStats{}
	for _, sale := range sales {
		customerID, _ := sale.Attributes["customer_id"].(string)
		if customerID == "" {
			continue
		}
		st, ok := stats[customerID]
		if !ok {
			st = &customerStats{}
			stats[customerID] = st
		}
		st.frequency++
		st.monetary = st.monetary.Add(amountOf(sale))
		if sale.CreatedAt.After(st.lastPurchase) {
			st.lastPurchase = sale.CreatedAt
		}
	}

	now := e.now().UTC()
	recencies := make([]float64, 0, len(stats))
	frequencies := make([]float64, 0, len(stats))
	monetaries := make([]float64, 0, len(stats))
	for _, st := range stats {
		recencies = append(recencies, daysSince(now, st.lastPurchase))
		frequencies = append(frequencies, float64(st.frequency))
		monetaries = append(monetaries, st.monetary.InexactFloat64())
	}
	recencyBounds := scoreBoundaries(recencies)
	frequencyBounds := scoreBoundaries(frequencies)
	monetaryBounds := scoreBoundaries(monetaries)

	segments := []CustomerSegment{}
	for externalID, st := range stats {
		recency := daysSince(now, st.lastPurchase)
		r := 6 - scoreAgainst(recency, recencyBounds) // smaller recency scores higher
		f := scoreAgainst(float64(st.frequency), frequencyBounds)
		m := scoreAgainst(st.monetary.InexactFloat64(), monetaryBounds)
		segments = append(segments, CustomerSegment{
			CustomerExternalID: externalID,
			RecencyDays:        int(recency),
			Frequency:          st.frequency,
			Monetary:           st.monetary.StringFixed(2),
			RecencyScore:       r,
			FrequencyScore:     f,
			MonetaryScore:      m,
			Segment:            segmentFor(r, f, m),
			LastPurchase:       st.lastPurchase,
		})
	}

	idle, err := e.idleCustomers(ctx, tenantID, stats)
	if err != nil {
		return nil, err
	}
	segments = append(segments, idle...)

	e.attachCustomerIDs(ctx, tenantID, segments)

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].CustomerExternalID < segments[j].CustomerExternalID
	})
	return segments, nil
}

// idleCustomers yields sentinel rows for customers without window activity.
func (e *Engine) idleCustomers(ctx context.Context, tenantID uuid.UUID, active map[string]*customerStats) ([]CustomerSegment, error) {
	segments := []CustomerSegment{}
	offset := 0
	for {
		customers, total, err := e.entities.List(ctx, domain.EntityFilter{
			TenantID:   tenantID,
			EntityType: domain.EntityTypeCustomer,
			Limit:      scanPageSize,
			Offset:     offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list customers: %w", err)
		}
		for _, customer := range customers {
			if customer.ExternalID == "" {
				continue
			}
			if _, ok := active[customer.ExternalID]; ok {
				continue
			}
			segments = append(segments, CustomerSegment{
				CustomerID:         customer.ID,
				CustomerExternalID: customer.ExternalID,
				RecencyDays:        SentinelRecencyDays,
				Frequency:          0,
				Monetary:           decimal.Zero.StringFixed(2),
				Segment:            "New",
			})
		}
		offset += len(customers)
		if offset >= total || len(customers) == 0 {
			break
		}
	}
	return segments, nil
}

// attachCustomerIDs enriches rows with entity ids where the customer exists.
// Best-effort: a customer referenced only by external id stays id-less.
func (e *Engine) attachCustomerIDs(ctx context.Context, tenantID uuid.UUID, segments []CustomerSegment) {
	offset := 0
	byExternal := map[string]uuid.UUID{}
	for {
		customers, total, err := e.entities.List(ctx, domain.EntityFilter{
			TenantID:   tenantID,
			EntityType: domain.EntityTypeCustomer,
			Limit:      scanPageSize,
			Offset:     offset,
		})
		if err != nil {
			return
		}
		for _, customer := range customers {
			byExternal[customer.ExternalID] = customer.ID
		}
		offset += len(customers)
		if offset >= total || len(customers) == 0 {
			break
		}
	}
	for i := range segments {
		if segments[i].CustomerID == uuid.Nil {
			segments[i].CustomerID = byExternal[segments[i].CustomerExternalID]
		}
	}
}

func (e *Engine) scanTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.BusinessTransaction, error) {
	all := []domain.BusinessTransaction{}
	filter.Limit = scanPageSize
	for {
		page, total, err := e.transactions.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		filter.Offset += len(page)
		if filter.Offset >= total || len(page) == 0 {
			break
		}
	}
	return all, nil
}

func amountOf(sale domain.BusinessTransaction) decimal.Decimal {
	switch v := sale.Attributes["total_amount"].(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.Zero
}

func daysSince(now, t time.Time) float64 {
	if t.IsZero() {
		return SentinelRecencyDays
	}
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		return 0
	}
	return float64(int(days))
}

// scoreBoundaries returns the four cut points splitting the cohort's values
// into five score buckets. Nil for an empty cohort.
func scoreBoundaries(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	bounds := make([]float64, 4)
	for i, p := range []float64{0.2, 0.4, 0.6, 0.8} {
		idx := int(p * float64(len(sorted)))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		bounds[i] = sorted[idx]
	}
	return bounds
}

// scoreAgainst maps a value to 1..5 against the cohort boundaries; an empty
// cohort defaults every metric to 3.
func scoreAgainst(value float64, bounds []float64) int {
	if bounds == nil {
		return 3
	}
	score := 1
	for _, b := range bounds {
		if value > b {
			score++
		}
	}
	return score
}

// segmentFor assigns the segment by a fixed rule cascade, evaluated top to
// bottom on the three scores.
func segmentFor(r, f, m int) string {
	switch {
	case r >= 4 && f >= 4 && m >= 4:
		return "Champions"
	case r >= 4 && f <= 2:
		return "New"
	case r >= 3 && f >= 3:
		return "Loyal"
	case r <= 2 && f >= 4 && m >= 4:
		return "At Risk"
	case r <= 2 && f <= 2:
		return "Hibernating"
	default:
		return "Others"
	}
}
