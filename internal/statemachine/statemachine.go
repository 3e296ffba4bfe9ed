// Package statemachine enforces per-transaction-type lifecycle rules.
// Statuses are opaque tokens scoped to their transaction type; the tables
// never compare vocabulary across types.
package statemachine

import (
	"context"
	"time"

	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/repository"
)

// Status tokens per transaction type.
const (
	SaleCompleted = "completed"
	SaleSettled   = "settled"
	SaleCancelled = "cancelled"

	PaymentConfirmed = "confirmed"

	PurchasePending       = "pending"
	PurchaseApproved      = "approved"
	PurchasePreSettlement = "pre_settlement"
	PurchaseSettled       = "settled"

	InboundAwaitingCheck    = "awaiting_check"
	InboundInCheck          = "in_check"
	InboundCheckOK          = "check_ok"
	InboundCheckDiscrepancy = "check_discrepancy"
	InboundSettled          = "settled"

	ReturnAwaiting  = "awaiting"
	ReturnCompleted = "completed"

	MovementApplied = "applied"
)

// transitions maps transaction type → from status → allowed targets.
// Built once at package init; never mutated afterwards.
var transitions = map[string]map[string][]string{
	domain.TransactionTypeSale: {
		SaleCompleted: {SaleSettled, SaleCancelled},
	},
	domain.TransactionTypePayment: {},
	domain.TransactionTypePurchaseOrder: {
		PurchasePending:       {PurchaseApproved, PurchasePreSettlement},
		PurchaseApproved:      {PurchasePreSettlement},
		PurchasePreSettlement: {PurchaseSettled},
	},
	domain.TransactionTypeInboundDocument: {
		InboundAwaitingCheck:    {InboundInCheck},
		InboundInCheck:          {InboundCheckOK, InboundCheckDiscrepancy},
		InboundCheckOK:          {InboundSettled, InboundCheckDiscrepancy},
		InboundCheckDiscrepancy: {InboundSettled, InboundCheckOK},
	},
	domain.TransactionTypeReturnDocument: {
		ReturnAwaiting: {ReturnCompleted},
	},
	domain.TransactionTypeInventoryMovement: {},
}

// CanTransition reports whether the table allows from→to for the type.
func CanTransition(transactionType, from, to string) bool {
	for _, allowed := range NextStates(transactionType, from) {
		if allowed == to {
			return true
		}
	}
	return false
}

// NextStates returns the allowed targets from a status. A status with no
// outgoing transitions is terminal for its type.
func NextStates(transactionType, from string) []string {
	table, ok := transitions[transactionType]
	if !ok {
		return nil
	}
	return table[from]
}

// Machine executes validated transitions against the transaction store.
type Machine struct {
	transactions repository.TransactionRepository
}

// New creates a state machine bound to a transaction store.
func New(transactions repository.TransactionRepository) *Machine {
	return &Machine{transactions: transactions}
}

// Transition moves the transaction to the target status: it validates the
// pair against the table, merges the attributes, appends the state_history
// entry and persists under the optimistic status guard. A rejected pair or a
// stale guard yields a TransitionError; the transaction is left untouched.
func (m *Machine) Transition(ctx context.Context, txn domain.BusinessTransaction, to string, attributes map[string]any) (domain.BusinessTransaction, error) {
	from := txn.Status
	if !CanTransition(txn.TransactionType, from, to) {
		return domain.BusinessTransaction{}, &domain.TransitionError{
			TransactionType: txn.TransactionType,
			From:            from,
			To:              to,
		}
	}

	next := txn.WithTransition(to, attributes, time.Now().UTC())
	updated, matched, err := m.transactions.UpdateStatusIf(ctx, next, from)
	if err != nil {
		return domain.BusinessTransaction{}, err
	}
	if !matched {
		return domain.BusinessTransaction{}, &domain.TransitionError{
			TransactionType: txn.TransactionType,
			From:            from,
			To:              to,
			Stale:           true,
		}
	}
	return updated, nil
}
