package eca

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/repository"
	"github.com/diegodamacenoo/banban-core/internal/snapshot"
	"github.com/diegodamacenoo/banban-core/internal/statemachine"
)

// ErrUnsupportedAction is returned when (flow, action) has no entry in the
// loaded action tables.
var ErrUnsupportedAction = errors.New("unsupported action")

// StateTransition reports a status change applied during processing.
type StateTransition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Summary carries the record counts for the response envelope. A non-error
// return always has RecordsFailed == 0: actions succeed whole or raise.
type Summary struct {
	Message           string `json:"message"`
	RecordsProcessed  int    `json:"records_processed"`
	RecordsSuccessful int    `json:"records_successful"`
	RecordsFailed     int    `json:"records_failed"`
}

// ActionResult is the outcome of one fully processed action.
type ActionResult struct {
	Action          string
	Flow            string
	TransactionID   uuid.UUID
	EntityType      string
	EntityIDs       []uuid.UUID
	RelationshipIDs []uuid.UUID
	StateTransition *StateTransition
	Summary         Summary
}

// Processor turns one inbound action into graph mutations: resolve entities,
// create or transition the core transaction, link relationships, emit the
// audit event, apply stock deltas. One call is one logical unit of work; on
// error nothing already applied is undone, and retries rely on external-id
// idempotence.
type Processor struct {
	registry      *Registry
	entities      repository.EntityRepository
	transactions  repository.TransactionRepository
	relationships repository.RelationshipRepository
	events        repository.EventRepository
	machine       *statemachine.Machine
	updater       *snapshot.Updater
}

// NewProcessor wires the processor to its stores.
func NewProcessor(
	registry *Registry,
	entities repository.EntityRepository,
	transactions repository.TransactionRepository,
	relationships repository.RelationshipRepository,
	events repository.EventRepository,
	machine *statemachine.Machine,
	updater *snapshot.Updater,
) *Processor {
	return &Processor{
		registry:      registry,
		entities:      entities,
		transactions:  transactions,
		relationships: relationships,
		events:        events,
		machine:       machine,
		updater:       updater,
	}
}

// Registry exposes the loaded action tables (for health reporting).
func (p *Processor) Registry() *Registry {
	return p.registry
}

// Process executes one action for a tenant.
func (p *Processor) Process(ctx context.Context, flow, action string, tenantID uuid.UUID, rawPayload, metadata map[string]any) (ActionResult, error) {
	spec, ok := p.registry.Lookup(flow, action)
	if !ok {
		return ActionResult{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedAction, flow, action)
	}

	pl := payload(rawPayload)
	if err := validateRequired(spec, pl); err != nil {
		return ActionResult{}, err
	}
	items, err := pl.items()
	if err != nil {
		return ActionResult{}, err
	}
	if spec.Items != nil && spec.Items.Required && len(items) == 0 {
		return ActionResult{}, domain.NewValidationError("items", "is required")
	}

	result := ActionResult{Action: action, Flow: flow, EntityType: spec.TransactionType}

	refs, err := p.resolveRefs(ctx, spec, tenantID, pl, &result)
	if err != nil {
		return ActionResult{}, err
	}
	products, err := p.resolveProducts(ctx, tenantID, items, &result)
	if err != nil {
		return ActionResult{}, err
	}

	externalID := pl.str("external_id")
	existing, found, err := p.transactions.GetByExternalID(ctx, tenantID, spec.TransactionType, externalID)
	if err != nil {
		return ActionResult{}, &domain.StoreError{Op: "get transaction", Err: err}
	}

	// Linked-transaction preconditions are checked before the core
	// transaction is touched, so a wrong-status reference aborts the action
	// without leaving a stray document behind.
	linked, err := p.checkLinked(ctx, spec, tenantID, pl, found)
	if err != nil {
		return ActionResult{}, err
	}

	core, replay, err := p.coreTransaction(ctx, spec, tenantID, externalID, pl, items, existing, found, &result)
	if err != nil {
		return ActionResult{}, err
	}
	result.TransactionID = core.ID

	if replay {
		if err := p.settleLinkedOnReplay(ctx, spec, tenantID, externalID, pl, core, linked, &result); err != nil {
			return ActionResult{}, err
		}
		result.Summary = Summary{
			Message:           fmt.Sprintf("%s %s already processed", spec.TransactionType, externalID),
			RecordsProcessed:  1,
			RecordsSuccessful: 1,
		}
		return result, nil
	}

	rels := p.buildRelationships(spec, tenantID, core, refs, products, items, pl, linked)
	created, err := p.relationships.CreateBatch(ctx, rels)
	if err != nil {
		return ActionResult{}, &domain.StoreError{Op: "create relationships", Err: err}
	}
	for _, rel := range created {
		result.RelationshipIDs = append(result.RelationshipIDs, rel.ID)
	}

	if linked != nil && spec.Linked.TransitionTo != "" {
		from := linked.Status
		transitioned, err := p.machine.Transition(ctx, *linked, spec.Linked.TransitionTo, map[string]any{
			"settled_by": externalID,
		})
		if err != nil {
			return ActionResult{}, err
		}
		if result.StateTransition == nil {
			result.StateTransition = &StateTransition{From: from, To: transitioned.Status}
		}
	}

	event := domain.NewBusinessEvent(tenantID, "transaction", core.ID, spec.EventCode, map[string]any{
		"action":      action,
		"flow":        flow,
		"external_id": externalID,
		"status":      core.Status,
	})
	if err := p.events.Record(ctx, event); err != nil {
		return ActionResult{}, &domain.StoreError{Op: "record event", Err: err}
	}

	movements, err := p.applyStockEffects(ctx, spec, tenantID, externalID, core, refs, products, items, pl, &result)
	if err != nil {
		return ActionResult{}, err
	}

	result.Summary = Summary{
		Message:           fmt.Sprintf("%s processed %s %s", action, spec.TransactionType, externalID),
		RecordsProcessed:  1 + movements,
		RecordsSuccessful: 1 + movements,
	}
	return result, nil
}

func (p *Processor) resolveRefs(ctx context.Context, spec ActionSpec, tenantID uuid.UUID, pl payload, result *ActionResult) (map[string]domain.BusinessEntity, error) {
	refs := map[string]domain.BusinessEntity{}
	for _, ref := range spec.EntityRefs {
		externalID := pl.str(ref.Field)
		if externalID == "" {
			if ref.Required {
				return nil, domain.NewValidationError(ref.Field, "is required")
			}
			continue
		}
		seed := map[string]any{}
		for _, field := range ref.SeedFields {
			if pl.has(field) {
				seed[field] = pl[field]
			}
		}
		entity, _, err := p.entities.Resolve(ctx, tenantID, ref.EntityType, externalID, seed)
		if err != nil {
			return nil, &domain.StoreError{Op: "resolve " + ref.EntityType, Err: err}
		}
		refs[ref.Field] = entity
		result.EntityIDs = append(result.EntityIDs, entity.ID)
	}
	return refs, nil
}

func (p *Processor) resolveProducts(ctx context.Context, tenantID uuid.UUID, items []LineItem, result *ActionResult) (map[string]domain.BusinessEntity, error) {
	products := map[string]domain.BusinessEntity{}
	for _, item := range items {
		if _, ok := products[item.ProductID]; ok {
			continue
		}
		seed := map[string]any{}
		if item.ProductName != "" {
			seed["product_name"] = item.ProductName
		}
		if item.UnitPrice > 0 {
			seed["unit_price"] = item.UnitPrice
		}
		if item.CostPrice > 0 {
			seed["cost_price"] = item.CostPrice
		}
		entity, _, err := p.entities.Resolve(ctx, tenantID, domain.EntityTypeProduct, item.ProductID, seed)
		if err != nil {
			return nil, &domain.StoreError{Op: "resolve product", Err: err}
		}
		products[item.ProductID] = entity
		result.EntityIDs = append(result.EntityIDs, entity.ID)
	}
	return products, nil
}

func (p *Processor) checkLinked(ctx context.Context, spec ActionSpec, tenantID uuid.UUID, pl payload, redelivered bool) (*domain.BusinessTransaction, error) {
	if spec.Linked == nil {
		return nil, nil
	}
	externalID := pl.str(spec.Linked.Field)
	if externalID == "" {
		if spec.Linked.Required {
			return nil, domain.NewValidationError(spec.Linked.Field, "is required")
		}
		return nil, nil
	}
	linked, found, err := p.transactions.GetByExternalID(ctx, tenantID, spec.Linked.TransactionType, externalID)
	if err != nil {
		return nil, &domain.StoreError{Op: "get linked transaction", Err: err}
	}
	if !found {
		return nil, &domain.NotFoundError{Kind: spec.Linked.TransactionType, Key: externalID}
	}
	if len(spec.Linked.RequiredStatuses) > 0 && !statusIn(linked.Status, spec.Linked.RequiredStatuses) {
		// A redelivery may find the linked transaction already moved to its
		// target by an earlier delivery. That is convergence, not a conflict.
		if redelivered && spec.Linked.TransitionTo != "" && linked.Status == spec.Linked.TransitionTo {
			return &linked, nil
		}
		return nil, &domain.PreconditionError{
			TransactionType: spec.Linked.TransactionType,
			Expected:        strings.Join(spec.Linked.RequiredStatuses, "|"),
			Actual:          linked.Status,
		}
	}
	return &linked, nil
}

// settleLinkedOnReplay finishes an interrupted linked transition. A
// redelivered create action may find its own transaction persisted while the
// linked transaction never reached its target status; reporting success there
// would strand the linked document. The transition and its relationship are
// re-attempted so retries converge on the same final state.
func (p *Processor) settleLinkedOnReplay(ctx context.Context, spec ActionSpec, tenantID uuid.UUID, externalID string, pl payload, core domain.BusinessTransaction, linked *domain.BusinessTransaction, result *ActionResult) error {
	if linked == nil || spec.Linked.TransitionTo == "" || linked.Status == spec.Linked.TransitionTo {
		return nil
	}

	if spec.Linked.Relationship != "" {
		existing, err := p.relationships.ListBySource(ctx, tenantID, core.ID)
		if err != nil {
			return &domain.StoreError{Op: "list relationships", Err: err}
		}
		present := false
		for _, rel := range existing {
			if rel.RelationshipType == spec.Linked.Relationship && rel.TargetID == linked.ID {
				present = true
				break
			}
		}
		if !present {
			attrs := map[string]any{"linked_external_id": linked.ExternalID}
			if amount, ok := pl.num("amount"); ok {
				attrs["amount"] = amount
			}
			rel, err := p.relationships.Create(ctx, domain.NewRelationship(tenantID, spec.Linked.Relationship, core.ID, linked.ID, attrs))
			if err != nil {
				return &domain.StoreError{Op: "create relationship", Err: err}
			}
			result.RelationshipIDs = append(result.RelationshipIDs, rel.ID)
		}
	}

	from := linked.Status
	transitioned, err := p.machine.Transition(ctx, *linked, spec.Linked.TransitionTo, map[string]any{
		"settled_by": externalID,
	})
	if err != nil {
		return err
	}
	result.StateTransition = &StateTransition{From: from, To: transitioned.Status}
	return nil
}

func (p *Processor) coreTransaction(ctx context.Context, spec ActionSpec, tenantID uuid.UUID, externalID string, pl payload, items []LineItem, existing domain.BusinessTransaction, found bool, result *ActionResult) (domain.BusinessTransaction, bool, error) {
	if found {
		if len(spec.PreconditionStatuses) > 0 && !statusIn(existing.Status, spec.PreconditionStatuses) {
			return domain.BusinessTransaction{}, false, &domain.PreconditionError{
				TransactionType: spec.TransactionType,
				Expected:        strings.Join(spec.PreconditionStatuses, "|"),
				Actual:          existing.Status,
			}
		}
		target, err := targetStatus(spec, pl)
		if err != nil {
			return domain.BusinessTransaction{}, false, err
		}
		if target == "" {
			// Duplicate delivery of a create action: idempotent no-op.
			return existing, true, nil
		}
		transitioned, err := p.machine.Transition(ctx, existing, target, pl.scalarAttributes())
		if err != nil {
			return domain.BusinessTransaction{}, false, err
		}
		result.StateTransition = &StateTransition{From: existing.Status, To: target}
		return transitioned, false, nil
	}

	if !spec.creates() {
		return domain.BusinessTransaction{}, false, &domain.NotFoundError{Kind: spec.TransactionType, Key: externalID}
	}

	attrs := pl.scalarAttributes()
	if len(items) > 0 {
		attrs["items"] = items
		if spec.TransactionType == domain.TransactionTypeSale {
			attrs["total_amount"] = totalAmount(items)
		}
	}
	txn := domain.NewBusinessTransaction(tenantID, spec.TransactionType, externalID, spec.InitialStatus, attrs)
	created, fresh, err := p.transactions.Create(ctx, txn)
	if err != nil {
		return domain.BusinessTransaction{}, false, &domain.StoreError{Op: "create transaction", Err: err}
	}
	// Lost the insert race: another delivery created the row first.
	return created, !fresh, nil
}

func (p *Processor) buildRelationships(spec ActionSpec, tenantID uuid.UUID, core domain.BusinessTransaction, refs, products map[string]domain.BusinessEntity, items []LineItem, pl payload, linked *domain.BusinessTransaction) []domain.Relationship {
	rels := []domain.Relationship{}
	for _, ref := range spec.EntityRefs {
		entity, ok := refs[ref.Field]
		if !ok || ref.Relationship == "" {
			continue
		}
		rels = append(rels, domain.NewRelationship(tenantID, ref.Relationship, core.ID, entity.ID, nil))
	}
	// Item edges are written once, by the action that creates the core
	// transaction. Transition actions reuse the items only for stock
	// movements; re-emitting the edges would duplicate them.
	if spec.Items != nil && spec.creates() {
		for _, item := range items {
			product := products[item.ProductID]
			rels = append(rels, domain.NewRelationship(tenantID, spec.Items.Relationship, core.ID, product.ID, map[string]any{
				"product_id": item.ProductID,
				"quantity":   item.Quantity,
				"unit_price": item.UnitPrice,
			}))
		}
	}
	if linked != nil && spec.Linked.Relationship != "" {
		attrs := map[string]any{"linked_external_id": linked.ExternalID}
		if amount, ok := pl.num("amount"); ok {
			attrs["amount"] = amount
		}
		rels = append(rels, domain.NewRelationship(tenantID, spec.Linked.Relationship, core.ID, linked.ID, attrs))
	}
	return rels
}

// applyStockEffects creates per-item inventory movements and snapshot deltas,
// or applies a direct adjustment delta. Movement transactions carry
// deterministic external ids, so a redelivered action does not double-apply
// its deltas.
func (p *Processor) applyStockEffects(ctx context.Context, spec ActionSpec, tenantID uuid.UUID, externalID string, core domain.BusinessTransaction, refs, products map[string]domain.BusinessEntity, items []LineItem, pl payload, result *ActionResult) (int, error) {
	movements := 0

	if spec.Items != nil && spec.Items.MovementSign != 0 && len(items) > 0 {
		location, ok := refs["location_id"]
		if !ok {
			return 0, domain.NewValidationError("location_id", "is required for stock movements")
		}
		for _, item := range items {
			product := products[item.ProductID]
			delta := spec.Items.MovementSign * item.Quantity
			movementExternalID := fmt.Sprintf("%s/%s/%s", externalID, item.ProductID, spec.Items.MovementType)
			movement := domain.NewBusinessTransaction(tenantID, domain.TransactionTypeInventoryMovement, movementExternalID, statemachine.MovementApplied, map[string]any{
				"qty_change":           delta,
				"movement_type":        spec.Items.MovementType,
				"product_external_id":  item.ProductID,
				"location_external_id": location.ExternalID,
				"parent_external_id":   externalID,
			})
			created, fresh, err := p.transactions.Create(ctx, movement)
			if err != nil {
				return 0, &domain.StoreError{Op: "create inventory movement", Err: err}
			}
			if !fresh {
				continue
			}
			rel, err := p.relationships.Create(ctx, domain.NewRelationship(tenantID, domain.RelationshipCausedBy, created.ID, core.ID, nil))
			if err != nil {
				return 0, &domain.StoreError{Op: "link inventory movement", Err: err}
			}
			result.RelationshipIDs = append(result.RelationshipIDs, rel.ID)
			if _, err := p.updater.ApplyStockDelta(ctx, tenantID, product.ID, location.ID, delta, spec.Items.MovementType, created.ID); err != nil {
				return 0, &domain.StoreError{Op: "apply stock delta", Err: err}
			}
			movements++
		}
	}

	if spec.StockDeltaField != "" {
		delta, ok := pl.num(spec.StockDeltaField)
		if !ok {
			return 0, domain.NewValidationError(spec.StockDeltaField, "must be numeric")
		}
		product, okP := refs["product_id"]
		location, okL := refs["location_id"]
		if !okP || !okL {
			return 0, domain.NewValidationError("product_id", "product and location are required for stock adjustments")
		}
		if _, err := p.updater.ApplyStockDelta(ctx, tenantID, product.ID, location.ID, delta, "adjustment", core.ID); err != nil {
			return 0, &domain.StoreError{Op: "apply stock delta", Err: err}
		}
		movements++
	}

	return movements, nil
}

// targetStatus resolves the transition target for an action, or "" when the
// action only creates.
func targetStatus(spec ActionSpec, pl payload) (string, error) {
	if spec.TargetStatus != "" {
		return spec.TargetStatus, nil
	}
	if spec.TargetStatusField == "" {
		return "", nil
	}
	raw := pl.str(spec.TargetStatusField)
	target, ok := spec.TargetStatusMap[raw]
	if !ok {
		return "", domain.NewValidationError(spec.TargetStatusField, fmt.Sprintf("unknown value %q", raw))
	}
	return target, nil
}

func statusIn(status string, allowed []string) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

func totalAmount(items []LineItem) float64 {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(decimal.NewFromFloat(item.Quantity).Mul(decimal.NewFromFloat(item.UnitPrice)))
	}
	amount, _ := total.Float64()
	return amount
}
