package eca

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/repository/memory"
	"github.com/diegodamacenoo/banban-core/internal/snapshot"
	"github.com/diegodamacenoo/banban-core/internal/statemachine"
)

type fixture struct {
	store     *memory.Store
	processor *Processor
	updater   *snapshot.Updater
	tenantID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	updater := snapshot.NewUpdater(store.Snapshots())
	processor := NewProcessor(
		NewRegistry(),
		store.Entities(),
		store.Transactions(),
		store.Relationships(),
		store.Events(),
		statemachine.New(store.Transactions()),
		updater,
	)
	return &fixture{store: store, processor: processor, updater: updater, tenantID: uuid.New()}
}

func salePayload(externalID string) map[string]any {
	return map[string]any{
		"external_id": externalID,
		"location_id": "LOC-1",
		"customer_id": "CUST-1",
		"items": []any{
			map[string]any{"product_id": "SKU-1", "product_name": "Boot", "quantity": 2.0, "unit_price": 100.0, "cost_price": 60.0},
			map[string]any{"product_id": "SKU-2", "product_name": "Sandal", "quantity": 1.0, "unit_price": 50.0, "cost_price": 20.0},
		},
	}
}

func (f *fixture) countRels(t *testing.T, sourceID uuid.UUID, relationshipType string) int {
	t.Helper()
	rels, err := f.store.Relationships().ListBySource(context.Background(), f.tenantID, sourceID)
	require.NoError(t, err)
	n := 0
	for _, rel := range rels {
		if rel.RelationshipType == relationshipType {
			n++
		}
	}
	return n
}

func (f *fixture) stock(t *testing.T, productExternalID, locationExternalID string) float64 {
	t.Helper()
	ctx := context.Background()
	product, _, err := f.store.Entities().Resolve(ctx, f.tenantID, domain.EntityTypeProduct, productExternalID, nil)
	require.NoError(t, err)
	location, _, err := f.store.Entities().Resolve(ctx, f.tenantID, domain.EntityTypeLocation, locationExternalID, nil)
	require.NoError(t, err)
	stock, err := f.updater.CurrentStock(ctx, f.tenantID, product.ID, location.ID)
	require.NoError(t, err)
	return stock
}

func TestRegisterSaleBuildsGraph(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, salePayload("SALE-100"), nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, result.TransactionID)
	require.Nil(t, result.StateTransition)
	// 1 sale + 2 movements
	require.Equal(t, 3, result.Summary.RecordsProcessed)
	require.Zero(t, result.Summary.RecordsFailed)

	sale, err := f.store.Transactions().GetByID(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, statemachine.SaleCompleted, sale.Status)
	require.Equal(t, 250.0, sale.Attributes["total_amount"])
	require.Equal(t, "CUST-1", sale.Attributes["customer_id"])

	rels, err := f.store.Relationships().ListBySource(ctx, f.tenantID, sale.ID)
	require.NoError(t, err)
	byType := map[string]int{}
	for _, rel := range rels {
		byType[rel.RelationshipType]++
	}
	require.Equal(t, 2, byType[domain.RelationshipContainsItem])
	require.Equal(t, 1, byType[domain.RelationshipAtLocation])
	require.Equal(t, 1, byType[domain.RelationshipByCustomer])

	// Each line item decremented its pair's stock.
	require.Equal(t, -2.0, f.stock(t, "SKU-1", "LOC-1"))
	require.Equal(t, -1.0, f.stock(t, "SKU-2", "LOC-1"))

	// Movements carry deterministic external ids keyed off the sale.
	movement, found, err := f.store.Transactions().GetByExternalID(ctx, f.tenantID, domain.TransactionTypeInventoryMovement, "SALE-100/SKU-1/sale")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, -2.0, movement.Attributes["qty_change"])
}

func TestRegisterSaleReplayIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, salePayload("SALE-200"), nil)
	require.NoError(t, err)

	second, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, salePayload("SALE-200"), nil)
	require.NoError(t, err)
	require.Equal(t, first.TransactionID, second.TransactionID)
	require.Equal(t, 1, second.Summary.RecordsProcessed)
	require.Contains(t, second.Summary.Message, "already processed")

	// Stock deltas were not applied twice.
	require.Equal(t, -2.0, f.stock(t, "SKU-1", "LOC-1"))
}

func TestRegisterSaleReusesResolvedEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, salePayload("SALE-300"), nil)
	require.NoError(t, err)
	payload := salePayload("SALE-301")
	_, err = f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, payload, nil)
	require.NoError(t, err)

	products, total, err := f.store.Entities().List(ctx, domain.EntityFilter{TenantID: f.tenantID, EntityType: domain.EntityTypeProduct})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, products, 2)

	_, total, err = f.store.Entities().List(ctx, domain.EntityFilter{TenantID: f.tenantID, EntityType: domain.EntityTypeLocation})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestRegisterPaymentSettlesSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saleResult, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, salePayload("SALE-400"), nil)
	require.NoError(t, err)

	result, err := f.processor.Process(ctx, FlowSales, "register_payment", f.tenantID, map[string]any{
		"external_id":      "PAY-400",
		"sale_external_id": "SALE-400",
		"amount":           250.0,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, result.StateTransition)
	require.Equal(t, statemachine.SaleCompleted, result.StateTransition.From)
	require.Equal(t, statemachine.SaleSettled, result.StateTransition.To)

	sale, err := f.store.Transactions().GetByID(ctx, saleResult.TransactionID)
	require.NoError(t, err)
	require.Equal(t, statemachine.SaleSettled, sale.Status)
	require.Len(t, sale.StateHistory(), 1)

	payment, err := f.store.Transactions().GetByID(ctx, result.TransactionID)
	require.NoError(t, err)
	rels, err := f.store.Relationships().ListBySource(ctx, f.tenantID, payment.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, domain.RelationshipPaymentFor, rels[0].RelationshipType)
	require.Equal(t, sale.ID, rels[0].TargetID)
}

func TestRegisterPaymentWrongSaleStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, salePayload("SALE-500"), nil)
	require.NoError(t, err)
	_, err = f.processor.Process(ctx, FlowSales, "register_payment", f.tenantID, map[string]any{
		"external_id":      "PAY-500",
		"sale_external_id": "SALE-500",
		"amount":           250.0,
	}, nil)
	require.NoError(t, err)

	// The sale is already settled; a second payment must hit the precondition
	// before any payment document is created.
	_, err = f.processor.Process(ctx, FlowSales, "register_payment", f.tenantID, map[string]any{
		"external_id":      "PAY-501",
		"sale_external_id": "SALE-500",
		"amount":           250.0,
	}, nil)
	var pe *domain.PreconditionError
	require.ErrorAs(t, err, &pe)

	_, found, err := f.store.Transactions().GetByExternalID(ctx, f.tenantID, domain.TransactionTypePayment, "PAY-501")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRegisterPaymentForMissingSale(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor.Process(context.Background(), FlowSales, "register_payment", f.tenantID, map[string]any{
		"external_id":      "PAY-600",
		"sale_external_id": "SALE-NOPE",
		"amount":           10.0,
	}, nil)
	var ne *domain.NotFoundError
	require.ErrorAs(t, err, &ne)
}

func TestRegisterPaymentRetryFinishesSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saleResult, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, salePayload("SALE-900"), nil)
	require.NoError(t, err)

	// First delivery crashed after persisting the payment document: the sale
	// was never settled and no payment edge was written.
	seeded := domain.NewBusinessTransaction(f.tenantID, domain.TransactionTypePayment, "PAY-900", statemachine.PaymentConfirmed, map[string]any{
		"sale_external_id": "SALE-900",
		"amount":           250.0,
	})
	payment, _, err := f.store.Transactions().Create(ctx, seeded)
	require.NoError(t, err)

	result, err := f.processor.Process(ctx, FlowSales, "register_payment", f.tenantID, map[string]any{
		"external_id":      "PAY-900",
		"sale_external_id": "SALE-900",
		"amount":           250.0,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, payment.ID, result.TransactionID)
	require.Contains(t, result.Summary.Message, "already processed")

	// The retry must leave the graph in the same state a clean first delivery
	// would have produced.
	require.NotNil(t, result.StateTransition)
	require.Equal(t, statemachine.SaleCompleted, result.StateTransition.From)
	require.Equal(t, statemachine.SaleSettled, result.StateTransition.To)

	sale, err := f.store.Transactions().GetByID(ctx, saleResult.TransactionID)
	require.NoError(t, err)
	require.Equal(t, statemachine.SaleSettled, sale.Status)

	require.Equal(t, 1, f.countRels(t, payment.ID, domain.RelationshipPaymentFor))
}

func TestRegisterPaymentReplayAfterSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, salePayload("SALE-910"), nil)
	require.NoError(t, err)

	payload := map[string]any{
		"external_id":      "PAY-910",
		"sale_external_id": "SALE-910",
		"amount":           250.0,
	}
	first, err := f.processor.Process(ctx, FlowSales, "register_payment", f.tenantID, payload, nil)
	require.NoError(t, err)

	second, err := f.processor.Process(ctx, FlowSales, "register_payment", f.tenantID, payload, nil)
	require.NoError(t, err)
	require.Equal(t, first.TransactionID, second.TransactionID)
	require.Equal(t, 1, second.Summary.RecordsProcessed)
	require.Nil(t, second.StateTransition)

	sale, _, err := f.store.Transactions().GetByExternalID(ctx, f.tenantID, domain.TransactionTypeSale, "SALE-910")
	require.NoError(t, err)
	require.Equal(t, statemachine.SaleSettled, sale.Status)
	require.Len(t, sale.StateHistory(), 1)

	require.Equal(t, 1, f.countRels(t, first.TransactionID, domain.RelationshipPaymentFor))
}

func TestCancelSaleRestocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, salePayload("SALE-700"), nil)
	require.NoError(t, err)
	require.Equal(t, -2.0, f.stock(t, "SKU-1", "LOC-1"))

	payload := salePayload("SALE-700")
	result, err := f.processor.Process(ctx, FlowSales, "cancel_sale", f.tenantID, payload, nil)
	require.NoError(t, err)
	require.NotNil(t, result.StateTransition)
	require.Equal(t, statemachine.SaleCancelled, result.StateTransition.To)

	require.Equal(t, 0.0, f.stock(t, "SKU-1", "LOC-1"))
	require.Equal(t, 0.0, f.stock(t, "SKU-2", "LOC-1"))

	// Cancellation reuses the items for restocking but must not re-emit the
	// item edges the sale already carries.
	require.Equal(t, 2, f.countRels(t, result.TransactionID, domain.RelationshipContainsItem))
}

func TestAdjustStockAppliesSignedDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	adjust := func(externalID string, delta float64) {
		t.Helper()
		_, err := f.processor.Process(ctx, FlowInventory, "adjust_stock", f.tenantID, map[string]any{
			"external_id": externalID,
			"product_id":  "SKU-9",
			"location_id": "LOC-9",
			"qty_change":  delta,
		}, nil)
		require.NoError(t, err)
	}
	adjust("ADJ-1", 10)
	adjust("ADJ-2", -3)
	require.Equal(t, 7.0, f.stock(t, "SKU-9", "LOC-9"))

	// Redelivery of an applied adjustment must not double the delta.
	adjust("ADJ-1", 10)
	require.Equal(t, 7.0, f.stock(t, "SKU-9", "LOC-9"))
}

func TestTransferCheckLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt := map[string]any{
		"external_id": "DOC-1",
		"location_id": "LOC-CD",
		"items": []any{
			map[string]any{"product_id": "SKU-1", "quantity": 5.0, "unit_price": 80.0},
		},
	}
	_, err := f.processor.Process(ctx, FlowTransfer, "register_receipt", f.tenantID, receipt, nil)
	require.NoError(t, err)
	// Receipt alone moves no stock.
	require.Equal(t, 0.0, f.stock(t, "SKU-1", "LOC-CD"))

	_, err = f.processor.Process(ctx, FlowTransfer, "start_check", f.tenantID, map[string]any{"external_id": "DOC-1"}, nil)
	require.NoError(t, err)

	result, err := f.processor.Process(ctx, FlowTransfer, "complete_check", f.tenantID, map[string]any{"external_id": "DOC-1", "result": "discrepancy"}, nil)
	require.NoError(t, err)
	require.Equal(t, statemachine.InboundCheckDiscrepancy, result.StateTransition.To)

	result, err = f.processor.Process(ctx, FlowTransfer, "resolve_check", f.tenantID, map[string]any{"external_id": "DOC-1", "result": "ok"}, nil)
	require.NoError(t, err)
	require.Equal(t, statemachine.InboundCheckOK, result.StateTransition.To)

	result, err = f.processor.Process(ctx, FlowTransfer, "settle_receipt", f.tenantID, receipt, nil)
	require.NoError(t, err)
	require.Equal(t, 5.0, f.stock(t, "SKU-1", "LOC-CD"))
	require.Equal(t, 1, f.countRels(t, result.TransactionID, domain.RelationshipContainsItem))
}

func TestCompleteCheckUnknownResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, FlowTransfer, "register_receipt", f.tenantID, map[string]any{
		"external_id": "DOC-2",
		"location_id": "LOC-CD",
		"items":       []any{map[string]any{"product_id": "SKU-1", "quantity": 1.0}},
	}, nil)
	require.NoError(t, err)
	_, err = f.processor.Process(ctx, FlowTransfer, "start_check", f.tenantID, map[string]any{"external_id": "DOC-2"}, nil)
	require.NoError(t, err)

	_, err = f.processor.Process(ctx, FlowTransfer, "complete_check", f.tenantID, map[string]any{"external_id": "DOC-2", "result": "maybe"}, nil)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestUnsupportedAction(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor.Process(context.Background(), FlowSales, "register_refund", f.tenantID, map[string]any{"external_id": "X"}, nil)
	require.ErrorIs(t, err, ErrUnsupportedAction)

	_, err = f.processor.Process(context.Background(), "unknown_flow", "register_sale", f.tenantID, map[string]any{"external_id": "X"}, nil)
	require.ErrorIs(t, err, ErrUnsupportedAction)
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ve *domain.ValidationError

	payload := salePayload("SALE-800")
	delete(payload, "location_id")
	_, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, payload, nil)
	require.ErrorAs(t, err, &ve)

	payload = salePayload("SALE-801")
	payload["items"] = []any{map[string]any{"product_id": "SKU-1", "quantity": -1.0}}
	_, err = f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, payload, nil)
	require.ErrorAs(t, err, &ve)

	payload = salePayload("SALE-802")
	payload["items"] = []any{map[string]any{"quantity": 1.0}}
	_, err = f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, payload, nil)
	require.ErrorAs(t, err, &ve)
}

func TestApproveMissingOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor.Process(context.Background(), FlowPurchase, "approve_order", f.tenantID, map[string]any{"external_id": "PO-NOPE"}, nil)
	var ne *domain.NotFoundError
	require.ErrorAs(t, err, &ne)
}

func TestPurchaseOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, FlowPurchase, "create_order", f.tenantID, map[string]any{
		"external_id": "PO-10",
		"supplier_id": "SUP-1",
		"items":       []any{map[string]any{"product_id": "SKU-5", "quantity": 20.0, "unit_price": 30.0}},
	}, nil)
	require.NoError(t, err)

	for _, step := range []struct {
		action string
		want   string
	}{
		{"approve_order", statemachine.PurchaseApproved},
		{"start_settlement", statemachine.PurchasePreSettlement},
		{"complete_settlement", statemachine.PurchaseSettled},
	} {
		result, err := f.processor.Process(ctx, FlowPurchase, step.action, f.tenantID, map[string]any{"external_id": "PO-10"}, nil)
		require.NoError(t, err, step.action)
		require.Equal(t, step.want, result.StateTransition.To)
	}

	order, _, err := f.store.Transactions().GetByExternalID(ctx, f.tenantID, domain.TransactionTypePurchaseOrder, "PO-10")
	require.NoError(t, err)
	require.Len(t, order.StateHistory(), 3)
}

func TestReturnLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saleResult, err := f.processor.Process(ctx, FlowSales, "register_sale", f.tenantID, salePayload("SALE-1000"), nil)
	require.NoError(t, err)
	require.Equal(t, -2.0, f.stock(t, "SKU-1", "LOC-1"))

	request := map[string]any{
		"external_id":      "RET-1000",
		"sale_external_id": "SALE-1000",
		"location_id":      "LOC-1",
		"customer_id":      "CUST-1",
		"items": []any{
			map[string]any{"product_id": "SKU-1", "quantity": 1.0, "unit_price": 100.0},
		},
	}
	result, err := f.processor.Process(ctx, FlowReturns, "request_return", f.tenantID, request, nil)
	require.NoError(t, err)
	require.Nil(t, result.StateTransition)

	doc, err := f.store.Transactions().GetByID(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, statemachine.ReturnAwaiting, doc.Status)

	// The request links back to the sale but moves no stock until completion.
	rels, err := f.store.Relationships().ListBySource(ctx, f.tenantID, doc.ID)
	require.NoError(t, err)
	linked := 0
	for _, rel := range rels {
		if rel.RelationshipType == domain.RelationshipReturnOf {
			linked++
			require.Equal(t, saleResult.TransactionID, rel.TargetID)
		}
	}
	require.Equal(t, 1, linked)
	require.Equal(t, 1, f.countRels(t, doc.ID, domain.RelationshipContainsItem))
	require.Equal(t, -2.0, f.stock(t, "SKU-1", "LOC-1"))

	complete := map[string]any{
		"external_id": "RET-1000",
		"location_id": "LOC-1",
		"items": []any{
			map[string]any{"product_id": "SKU-1", "quantity": 1.0},
		},
	}
	result, err = f.processor.Process(ctx, FlowReturns, "complete_return", f.tenantID, complete, nil)
	require.NoError(t, err)
	require.NotNil(t, result.StateTransition)
	require.Equal(t, statemachine.ReturnAwaiting, result.StateTransition.From)
	require.Equal(t, statemachine.ReturnCompleted, result.StateTransition.To)

	// Completion restocks the returned quantity with its own movement.
	require.Equal(t, -1.0, f.stock(t, "SKU-1", "LOC-1"))
	movement, found, err := f.store.Transactions().GetByExternalID(ctx, f.tenantID, domain.TransactionTypeInventoryMovement, "RET-1000/SKU-1/return_restock")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1.0, movement.Attributes["qty_change"])

	// Completion reuses the items for restocking only.
	require.Equal(t, 1, f.countRels(t, doc.ID, domain.RelationshipContainsItem))

	// A completed return cannot be completed again.
	_, err = f.processor.Process(ctx, FlowReturns, "complete_return", f.tenantID, complete, nil)
	var pe *domain.PreconditionError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, -1.0, f.stock(t, "SKU-1", "LOC-1"))
}

func TestRequestReturnWithoutSaleLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.processor.Process(ctx, FlowReturns, "request_return", f.tenantID, map[string]any{
		"external_id": "RET-2000",
		"location_id": "LOC-1",
		"items": []any{
			map[string]any{"product_id": "SKU-1", "quantity": 1.0},
		},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, f.countRels(t, result.TransactionID, domain.RelationshipReturnOf))

	doc, err := f.store.Transactions().GetByID(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, statemachine.ReturnAwaiting, doc.Status)
}
