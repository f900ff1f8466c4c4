package service

import (
	"context"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/policy"
)

// Read-side operations. These run outside transactions but still go through
// the coordinator so the ownership rules are enforced in one place.

// EscrowBalance returns the student's current balance; a student without an
// escrow row reads as zero.
func (c *Coordinator) EscrowBalance(ctx context.Context, actor policy.Actor, studentID uint64) (model.Money, error) {
	if err := c.authorize(ctx, actor, policy.OpViewEscrow, studentID); err != nil {
		return 0, err
	}
	return c.escrows.Balance(ctx, studentID)
}

// EscrowStatement returns the student's ledger entries, newest first.
func (c *Coordinator) EscrowStatement(ctx context.Context, actor policy.Actor, studentID uint64, limit, offset int) ([]model.EscrowTransaction, error) {
	if err := c.authorize(ctx, actor, policy.OpViewEscrow, studentID); err != nil {
		return nil, err
	}
	return c.escrows.TransactionsByStudent(ctx, studentID, limit, offset)
}

// ListRegistrations returns the student's registrations, optionally
// filtered to one session.
func (c *Coordinator) ListRegistrations(ctx context.Context, actor policy.Actor, studentID uint64, sessionID *uint64) ([]model.Registration, error) {
	if err := c.authorize(ctx, actor, policy.OpViewEscrow, studentID); err != nil {
		return nil, err
	}
	return c.registrations.ListForStudent(ctx, studentID, sessionID)
}

// ListWithdrawals returns the student's withdrawal requests.
func (c *Coordinator) ListWithdrawals(ctx context.Context, actor policy.Actor, studentID uint64) ([]model.WithdrawalRequest, error) {
	if err := c.authorize(ctx, actor, policy.OpViewEscrow, studentID); err != nil {
		return nil, err
	}
	return c.withdrawals.ListForStudent(ctx, studentID)
}
