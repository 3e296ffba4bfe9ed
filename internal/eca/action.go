// Package eca implements the event-condition-action engine: per-flow action
// tables plus the processor that turns one inbound action into graph
// mutations. The orchestration is generic; everything flow-specific lives in
// the tables below as configuration data.
package eca

import (
	"sort"

	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/statemachine"
)

// Flow names accepted by the webhook pipeline.
const (
	FlowSales     = "sales"
	FlowPurchase  = "purchase"
	FlowInventory = "inventory"
	FlowTransfer  = "transfer"
	FlowReturns   = "returns"
)

// EntityRef declares a payload field that references a business entity.
// The processor resolves (or creates) the entity and, when Relationship is
// set, links the core transaction to it.
type EntityRef struct {
	Field        string
	EntityType   string
	Relationship string
	Required     bool
	// SeedFields are copied from the payload into a newly created entity's
	// attributes (metadata refresh is not resolution's job).
	SeedFields []string
}

// ItemSpec declares how the payload's items array is handled: one
// relationship per line item and, when MovementSign is non-zero, one
// inventory movement transaction plus a stock snapshot delta per item.
type ItemSpec struct {
	Relationship string
	MovementSign float64
	MovementType string
	Required     bool
}

// LinkedTransaction declares a reference to another transaction that the
// action inspects and possibly transitions, e.g. a payment settling its sale.
type LinkedTransaction struct {
	Field            string
	TransactionType  string
	RequiredStatuses []string
	TransitionTo     string
	Relationship     string
	Required         bool
}

// ActionSpec is one row of a flow's action table. An action either creates
// the core transaction (InitialStatus set) or transitions an existing one
// (TargetStatus, or TargetStatusField + TargetStatusMap when the target
// depends on the payload).
type ActionSpec struct {
	Name            string
	Flow            string
	TransactionType string
	InitialStatus   string
	TargetStatus    string
	TargetStatusField string
	TargetStatusMap map[string]string
	// PreconditionStatuses restricts which current statuses the action
	// accepts when the transaction already exists.
	PreconditionStatuses []string
	RequiredFields       []string
	EntityRefs           []EntityRef
	Items                *ItemSpec
	Linked               *LinkedTransaction
	// StockDeltaField names a payload field whose signed value is applied
	// directly as a stock delta (inventory adjustments).
	StockDeltaField string
	EventCode       string
}

// creates reports whether the action may create the core transaction.
func (s ActionSpec) creates() bool {
	return s.InitialStatus != ""
}

// Registry holds the loaded action tables, keyed by flow then action name.
type Registry struct {
	flows map[string]map[string]ActionSpec
}

// NewRegistry loads the built-in per-flow action tables.
func NewRegistry() *Registry {
	r := &Registry{flows: map[string]map[string]ActionSpec{}}
	for _, spec := range builtinActions() {
		flow, ok := r.flows[spec.Flow]
		if !ok {
			flow = map[string]ActionSpec{}
			r.flows[spec.Flow] = flow
		}
		flow[spec.Name] = spec
	}
	return r
}

// Lookup returns the spec for (flow, action).
func (r *Registry) Lookup(flow, action string) (ActionSpec, bool) {
	specs, ok := r.flows[flow]
	if !ok {
		return ActionSpec{}, false
	}
	spec, ok := specs[action]
	return spec, ok
}

// Flows lists the flow names with at least one action, sorted.
func (r *Registry) Flows() []string {
	flows := make([]string, 0, len(r.flows))
	for flow := range r.flows {
		flows = append(flows, flow)
	}
	sort.Strings(flows)
	return flows
}

// RuleCount returns the number of loaded action rules across all flows.
func (r *Registry) RuleCount() int {
	n := 0
	for _, specs := range r.flows {
		n += len(specs)
	}
	return n
}

func builtinActions() []ActionSpec {
	return []ActionSpec{
		// -------- sales --------
		{
			Name:            "register_sale",
			Flow:            FlowSales,
			TransactionType: domain.TransactionTypeSale,
			InitialStatus:   statemachine.SaleCompleted,
			RequiredFields:  []string{"external_id", "location_id", "items"},
			EntityRefs: []EntityRef{
				{Field: "location_id", EntityType: domain.EntityTypeLocation, Relationship: domain.RelationshipAtLocation, Required: true, SeedFields: []string{"location_name"}},
				{Field: "customer_id", EntityType: domain.EntityTypeCustomer, Relationship: domain.RelationshipByCustomer, SeedFields: []string{"customer_name"}},
			},
			Items: &ItemSpec{
				Relationship: domain.RelationshipContainsItem,
				MovementSign: -1,
				MovementType: "sale",
				Required:     true,
			},
			EventCode: "SALE_REGISTERED",
		},
		{
			Name:            "register_payment",
			Flow:            FlowSales,
			TransactionType: domain.TransactionTypePayment,
			InitialStatus:   statemachine.PaymentConfirmed,
			RequiredFields:  []string{"external_id", "sale_external_id", "amount"},
			Linked: &LinkedTransaction{
				Field:            "sale_external_id",
				TransactionType:  domain.TransactionTypeSale,
				RequiredStatuses: []string{statemachine.SaleCompleted},
				TransitionTo:     statemachine.SaleSettled,
				Relationship:     domain.RelationshipPaymentFor,
				Required:         true,
			},
			EventCode: "PAYMENT_REGISTERED",
		},
		{
			Name:                 "cancel_sale",
			Flow:                 FlowSales,
			TransactionType:      domain.TransactionTypeSale,
			TargetStatus:         statemachine.SaleCancelled,
			PreconditionStatuses: []string{statemachine.SaleCompleted},
			RequiredFields:       []string{"external_id"},
			EntityRefs: []EntityRef{
				{Field: "location_id", EntityType: domain.EntityTypeLocation},
			},
			Items: &ItemSpec{
				Relationship: domain.RelationshipContainsItem,
				MovementSign: +1,
				MovementType: "sale_reversal",
			},
			EventCode: "SALE_CANCELLED",
		},

		// -------- purchase --------
		{
			Name:            "create_order",
			Flow:            FlowPurchase,
			TransactionType: domain.TransactionTypePurchaseOrder,
			InitialStatus:   statemachine.PurchasePending,
			RequiredFields:  []string{"external_id", "supplier_id", "items"},
			EntityRefs: []EntityRef{
				{Field: "supplier_id", EntityType: domain.EntityTypeSupplier, Relationship: domain.RelationshipFromSupplier, Required: true, SeedFields: []string{"supplier_name"}},
			},
			Items: &ItemSpec{
				Relationship: domain.RelationshipContainsItem,
				Required:     true,
			},
			EventCode: "PURCHASE_ORDER_CREATED",
		},
		{
			Name:                 "approve_order",
			Flow:                 FlowPurchase,
			TransactionType:      domain.TransactionTypePurchaseOrder,
			TargetStatus:         statemachine.PurchaseApproved,
			PreconditionStatuses: []string{statemachine.PurchasePending},
			RequiredFields:       []string{"external_id"},
			EventCode:            "PURCHASE_ORDER_APPROVED",
		},
		{
			Name:                 "start_settlement",
			Flow:                 FlowPurchase,
			TransactionType:      domain.TransactionTypePurchaseOrder,
			TargetStatus:         statemachine.PurchasePreSettlement,
			PreconditionStatuses: []string{statemachine.PurchasePending, statemachine.PurchaseApproved},
			RequiredFields:       []string{"external_id"},
			EventCode:            "PURCHASE_SETTLEMENT_STARTED",
		},
		{
			Name:                 "complete_settlement",
			Flow:                 FlowPurchase,
			TransactionType:      domain.TransactionTypePurchaseOrder,
			TargetStatus:         statemachine.PurchaseSettled,
			PreconditionStatuses: []string{statemachine.PurchasePreSettlement},
			RequiredFields:       []string{"external_id"},
			EventCode:            "PURCHASE_SETTLED",
		},

		// -------- inventory --------
		{
			Name:            "adjust_stock",
			Flow:            FlowInventory,
			TransactionType: domain.TransactionTypeInventoryMovement,
			InitialStatus:   statemachine.MovementApplied,
			RequiredFields:  []string{"external_id", "product_id", "location_id", "qty_change"},
			EntityRefs: []EntityRef{
				{Field: "product_id", EntityType: domain.EntityTypeProduct, Relationship: domain.RelationshipAffectsProduct, Required: true, SeedFields: []string{"product_name"}},
				{Field: "location_id", EntityType: domain.EntityTypeLocation, Relationship: domain.RelationshipAtLocation, Required: true, SeedFields: []string{"location_name"}},
			},
			StockDeltaField: "qty_change",
			EventCode:       "STOCK_ADJUSTED",
		},

		// -------- transfer --------
		{
			Name:            "register_receipt",
			Flow:            FlowTransfer,
			TransactionType: domain.TransactionTypeInboundDocument,
			InitialStatus:   statemachine.InboundAwaitingCheck,
			RequiredFields:  []string{"external_id", "location_id", "items"},
			EntityRefs: []EntityRef{
				{Field: "location_id", EntityType: domain.EntityTypeLocation, Relationship: domain.RelationshipAtLocation, Required: true, SeedFields: []string{"location_name"}},
				{Field: "origin_location_id", EntityType: domain.EntityTypeLocation, Relationship: domain.RelationshipFromLocation, SeedFields: []string{"origin_location_name"}},
			},
			Items: &ItemSpec{
				Relationship: domain.RelationshipContainsItem,
				Required:     true,
			},
			EventCode: "RECEIPT_REGISTERED",
		},
		{
			Name:                 "start_check",
			Flow:                 FlowTransfer,
			TransactionType:      domain.TransactionTypeInboundDocument,
			TargetStatus:         statemachine.InboundInCheck,
			PreconditionStatuses: []string{statemachine.InboundAwaitingCheck},
			RequiredFields:       []string{"external_id"},
			EventCode:            "CHECK_STARTED",
		},
		{
			Name:              "complete_check",
			Flow:              FlowTransfer,
			TransactionType:   domain.TransactionTypeInboundDocument,
			TargetStatusField: "result",
			TargetStatusMap: map[string]string{
				"ok":          statemachine.InboundCheckOK,
				"discrepancy": statemachine.InboundCheckDiscrepancy,
			},
			PreconditionStatuses: []string{statemachine.InboundInCheck},
			RequiredFields:       []string{"external_id", "result"},
			EventCode:            "CHECK_COMPLETED",
		},
		{
			Name:              "resolve_check",
			Flow:              FlowTransfer,
			TransactionType:   domain.TransactionTypeInboundDocument,
			TargetStatusField: "result",
			TargetStatusMap: map[string]string{
				"ok":          statemachine.InboundCheckOK,
				"discrepancy": statemachine.InboundCheckDiscrepancy,
			},
			PreconditionStatuses: []string{statemachine.InboundCheckOK, statemachine.InboundCheckDiscrepancy},
			RequiredFields:       []string{"external_id", "result"},
			EventCode:            "CHECK_RESOLVED",
		},
		{
			Name:                 "settle_receipt",
			Flow:                 FlowTransfer,
			TransactionType:      domain.TransactionTypeInboundDocument,
			TargetStatus:         statemachine.InboundSettled,
			PreconditionStatuses: []string{statemachine.InboundCheckOK, statemachine.InboundCheckDiscrepancy},
			RequiredFields:       []string{"external_id", "location_id", "items"},
			EntityRefs: []EntityRef{
				{Field: "location_id", EntityType: domain.EntityTypeLocation, Required: true},
			},
			Items: &ItemSpec{
				Relationship: domain.RelationshipContainsItem,
				MovementSign: +1,
				MovementType: "transfer_in",
				Required:     true,
			},
			EventCode: "RECEIPT_SETTLED",
		},

		// -------- returns --------
		{
			Name:            "request_return",
			Flow:            FlowReturns,
			TransactionType: domain.TransactionTypeReturnDocument,
			InitialStatus:   statemachine.ReturnAwaiting,
			RequiredFields:  []string{"external_id", "items"},
			EntityRefs: []EntityRef{
				{Field: "location_id", EntityType: domain.EntityTypeLocation, Relationship: domain.RelationshipAtLocation, SeedFields: []string{"location_name"}},
				{Field: "customer_id", EntityType: domain.EntityTypeCustomer, Relationship: domain.RelationshipByCustomer, SeedFields: []string{"customer_name"}},
			},
			Items: &ItemSpec{
				Relationship: domain.RelationshipContainsItem,
				Required:     true,
			},
			Linked: &LinkedTransaction{
				Field:           "sale_external_id",
				TransactionType: domain.TransactionTypeSale,
				Relationship:    domain.RelationshipReturnOf,
			},
			EventCode: "RETURN_REQUESTED",
		},
		{
			Name:                 "complete_return",
			Flow:                 FlowReturns,
			TransactionType:      domain.TransactionTypeReturnDocument,
			TargetStatus:         statemachine.ReturnCompleted,
			PreconditionStatuses: []string{statemachine.ReturnAwaiting},
			RequiredFields:       []string{"external_id"},
			EntityRefs: []EntityRef{
				{Field: "location_id", EntityType: domain.EntityTypeLocation},
			},
			Items: &ItemSpec{
				Relationship: domain.RelationshipContainsItem,
				MovementSign: +1,
				MovementType: "return_restock",
			},
			EventCode: "RETURN_COMPLETED",
		},
	}
}
