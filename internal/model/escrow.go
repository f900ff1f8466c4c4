package model

import "time"

// Escrow is a per-student prepaid balance usable toward future registrations
// or withdrawable as cash.  Exactly one escrow exists per student; it is
// created lazily by the ledger on the first financial event and is never
// deleted while the student account exists.
//
// Invariant: Balance equals the signed sum of all transactions on the escrow
// (credits positive, debits negative) at all times.
type Escrow struct {
	ID        uint64    // escrows.id
	StudentID uint64    // escrows.student_id (unique)
	Balance   Money     // escrows.balance_piastres
	CreatedAt time.Time // escrows.created_at
	UpdatedAt time.Time // escrows.updated_at
}

// Transaction types for escrow ledger entries.
const (
	TxnCredit = "CREDIT"
	TxnDebit  = "DEBIT"
)

// Reasons recorded on ledger entries.  The reason ties a money movement to
// the business operation that caused it.
const (
	ReasonDrop           = "DROP"
	ReasonSwapRefund     = "SWAP_REFUND"
	ReasonSwapCharge     = "SWAP_CHARGE"
	ReasonTransferIn     = "TRANSFER_IN"
	ReasonTransferOut    = "TRANSFER_OUT"
	ReasonWithdrawal     = "WITHDRAWAL"
	ReasonPaymentApplied = "PAYMENT_APPLIED"
)

// EscrowTransaction is one immutable, append-only ledger entry.  Rows are
// never updated or deleted once written; corrections happen via compensating
// entries.
//
// Fields:
//  ID                    – primary key identifier.
//  EscrowID              – escrow the entry belongs to.
//  StudentID             – owner of the escrow (denormalized for statements).
//  Type                  – CREDIT or DEBIT.
//  Amount                – non-negative amount moved.
//  Reason                – business reason, one of the Reason* constants.
//  RelatedRegistrationID – registration that caused the movement, if any.
//  RelatedPaymentID      – external payment reference, if any.
//  InitiatedBy           – user who triggered the operation.
//  CreatedAt             – append timestamp.
type EscrowTransaction struct {
	ID                    uint64     // escrow_transactions.id
	EscrowID              uint64     // escrow_transactions.escrow_id
	StudentID             uint64     // escrow_transactions.student_id
	Type                  string     // escrow_transactions.txn_type
	Amount                Money      // escrow_transactions.amount_piastres
	Reason                string     // escrow_transactions.reason
	RelatedRegistrationID *uint64    // escrow_transactions.related_registration_id (nullable)
	RelatedPaymentID      *string    // escrow_transactions.related_payment_id (nullable)
	InitiatedBy           uint64     // escrow_transactions.initiated_by
	CreatedAt             time.Time  // escrow_transactions.created_at
}
