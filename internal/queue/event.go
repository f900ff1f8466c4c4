// Package queue defines the domain events published over the message broker
// and the plumbing to publish and consume them. Downstream consumers
// (notification, audit) get enough information to act without querying the
// primary database.
package queue

// Queue names. One durable queue per event type.
const (
	BalanceChangedQueue         = "escrow.balance_changed"
	RegistrationConfirmedQueue  = "registration.confirmed"
	WithdrawalFulfilledQueue    = "withdrawal.fulfilled"
)

// BalanceChangedEvent is published on every escrow credit or debit.
type BalanceChangedEvent struct {
	TransactionID uint64 `json:"transaction_id"`
	EscrowID      uint64 `json:"escrow_id"`
	StudentID     uint64 `json:"student_id"`
	TxnType       string `json:"txn_type"`
	Reason        string `json:"reason"`
	Amount        int64  `json:"amount_piastres"`
	OldBalance    int64  `json:"old_balance_piastres"`
	NewBalance    int64  `json:"new_balance_piastres"`
	InitiatedBy   uint64 `json:"initiated_by"`
	OccurredAt    string `json:"occurred_at"`
}

// RegistrationConfirmedEvent is published when a registration reaches
// CONFIRMED, whether through a payment callback or an escrow-covered
// checkout or swap.
type RegistrationConfirmedEvent struct {
	RegistrationID   uint64 `json:"registration_id"`
	StudentID        uint64 `json:"student_id"`
	SessionID        uint64 `json:"session_id"`
	SubjectID        uint64 `json:"subject_id"`
	RegistrationType string `json:"registration_type"`
	Price            int64  `json:"price_piastres"`
	PaymentID        string `json:"payment_id,omitempty"`
	ConfirmedAt      string `json:"confirmed_at"`
}

// WithdrawalFulfilledEvent is published when an admin resolves a withdrawal
// request with a release of funds.
type WithdrawalFulfilledEvent struct {
	RequestID   uint64 `json:"request_id"`
	StudentID   uint64 `json:"student_id"`
	Requested   int64  `json:"requested_piastres"`
	Released    int64  `json:"released_piastres"`
	Status      string `json:"status"`
	AdminID     uint64 `json:"admin_id"`
	FulfilledAt string `json:"fulfilled_at"`
}
