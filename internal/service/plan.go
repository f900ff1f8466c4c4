// Package service implements the transaction coordinator: the single entry
// point for every operation that touches registrations and the escrow
// ledger together. The money arithmetic behind each operation lives in this
// file as pure functions, so the settlement rules can be tested without a
// database and the coordinator only sequences repository calls.
package service

import (
	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
)

// CheckoutLine is one priced basket line during checkout planning.
type CheckoutLine struct {
	SubjectID uint64
	Type      string
	Price     model.Money
}

// PlannedLine is a basket line with the escrow amount allocated to it.
// Escrow is applied greedily in request order; FromEscrow is the slice of
// this line's price covered by the balance.
type PlannedLine struct {
	SubjectID  uint64
	Type       string
	Price      model.Money
	FromEscrow model.Money
}

// CheckoutPlan is the financial outcome of a checkout basket: the total,
// how much of it the escrow balance absorbs, and the remaining externally
// payable amount.
type CheckoutPlan struct {
	Lines         []PlannedLine
	Total         model.Money
	EscrowApplied model.Money
	AmountDue     model.Money
}

// BuildCheckoutPlan allocates the available balance across the basket,
// line by line, up to min(balance, total). AmountDue is what the caller
// must collect externally; zero means the basket confirms immediately.
func BuildCheckoutPlan(lines []CheckoutLine, balance model.Money) CheckoutPlan {
	plan := CheckoutPlan{Lines: make([]PlannedLine, 0, len(lines))}
	remaining := balance
	if remaining < 0 {
		remaining = 0
	}
	for _, l := range lines {
		p := PlannedLine{SubjectID: l.SubjectID, Type: l.Type, Price: l.Price}
		if remaining > 0 {
			p.FromEscrow = l.Price
			if remaining < l.Price {
				p.FromEscrow = remaining
			}
			remaining = remaining.Sub(p.FromEscrow)
		}
		plan.Lines = append(plan.Lines, p)
		plan.Total = plan.Total.Add(l.Price)
		plan.EscrowApplied = plan.EscrowApplied.Add(p.FromEscrow)
	}
	plan.AmountDue = plan.Total.Sub(plan.EscrowApplied)
	return plan
}

// SwapSettlement is the financial outcome of a swap or type switch.
// Exactly one of EscrowCharge, Refund and AmountDue is non-zero, unless the
// delta is zero, in which case all are.
type SwapSettlement struct {
	Delta        model.Money // signed new - old
	EscrowCharge model.Money // debited when the balance covers a positive delta
	Refund       model.Money // credited when the delta is negative
	AmountDue    model.Money // externally payable when the balance does not cover the delta
	Deferred     bool        // true when the operation waits on an external payment
}

// SettleDelta decides how a signed price delta is settled against the
// current balance. A positive delta covered by escrow is charged and the
// operation completes immediately; an uncovered positive delta defers the
// operation until the payment callback; a negative delta refunds its
// absolute value; zero is a free swap with no ledger entry.
func SettleDelta(delta, balance model.Money) SwapSettlement {
	s := SwapSettlement{Delta: delta}
	switch {
	case delta > 0 && balance >= delta:
		s.EscrowCharge = delta
	case delta > 0:
		s.AmountDue = delta
		s.Deferred = true
	case delta < 0:
		s.Refund = delta.Neg()
	}
	return s
}

// WithdrawalOutcome validates a fulfillment and returns the resulting
// request status. The released amount must be positive and must not exceed
// either the requested amount or the balance at fulfillment time.
func WithdrawalOutcome(requested, released, balance model.Money) (string, error) {
	if !released.IsPositive() {
		return "", repository.ErrNonPositiveAmount
	}
	if released > requested || released > balance {
		return "", repository.ErrInsufficientFunds
	}
	if released == requested {
		return model.WithdrawalFulfilled, nil
	}
	return model.WithdrawalPartiallyFulfilled, nil
}
