package model

import "time"

// Withdrawal request statuses.  PENDING is the only state an admin can act
// on; every other state is terminal.  A partially fulfilled request cannot be
// resumed; the student submits a new request for the remainder.
const (
	WithdrawalPending            = "PENDING"
	WithdrawalPartiallyFulfilled = "PARTIALLY_FULFILLED"
	WithdrawalFulfilled          = "FULFILLED"
	WithdrawalRejected           = "REJECTED"
)

// WithdrawalRequest is a student- or parent-initiated cash-out of escrow
// funds, reviewed by an admin.  RequestedAmount reflects intent and may
// exceed the balance at request time; fulfillment enforces that the released
// amount never exceeds the requested amount or the balance at fulfillment
// time.
type WithdrawalRequest struct {
	ID              uint64     // withdrawal_requests.id
	EscrowID        uint64     // withdrawal_requests.escrow_id
	StudentID       uint64     // withdrawal_requests.student_id
	RequestedAmount Money      // withdrawal_requests.requested_piastres
	ReleasedAmount  *Money     // withdrawal_requests.released_piastres (nullable, set when leaving PENDING)
	Status          string     // withdrawal_requests.status
	AdminNotes      *string    // withdrawal_requests.admin_notes (nullable)
	RequestedBy     uint64     // withdrawal_requests.requested_by
	FulfilledAt     *time.Time // withdrawal_requests.fulfilled_at (nullable)
	FulfilledBy     *uint64    // withdrawal_requests.fulfilled_by (nullable)
	CreatedAt       time.Time  // withdrawal_requests.created_at
	UpdatedAt       time.Time  // withdrawal_requests.updated_at
}
