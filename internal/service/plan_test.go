package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
)

func TestBuildCheckoutPlanNoBalance(t *testing.T) {
	plan := BuildCheckoutPlan([]CheckoutLine{
		{SubjectID: 1, Type: model.TypeInSchool, Price: model.FromPounds(500)},
	}, 0)

	assert.Equal(t, model.FromPounds(500), plan.Total)
	assert.Equal(t, model.Money(0), plan.EscrowApplied)
	assert.Equal(t, model.FromPounds(500), plan.AmountDue)
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, model.Money(0), plan.Lines[0].FromEscrow)
}

func TestBuildCheckoutPlanFullCover(t *testing.T) {
	plan := BuildCheckoutPlan([]CheckoutLine{
		{SubjectID: 1, Price: model.FromPounds(500)},
		{SubjectID: 2, Price: model.FromPounds(700)},
	}, model.FromPounds(1500))

	assert.Equal(t, model.FromPounds(1200), plan.Total)
	assert.Equal(t, model.FromPounds(1200), plan.EscrowApplied)
	assert.Equal(t, model.Money(0), plan.AmountDue)
	assert.Equal(t, model.FromPounds(500), plan.Lines[0].FromEscrow)
	assert.Equal(t, model.FromPounds(700), plan.Lines[1].FromEscrow)
}

func TestBuildCheckoutPlanPartialCover(t *testing.T) {
	// Balance covers the first line and part of the second.
	plan := BuildCheckoutPlan([]CheckoutLine{
		{SubjectID: 1, Price: model.FromPounds(500)},
		{SubjectID: 2, Price: model.FromPounds(700)},
	}, model.FromPounds(600))

	assert.Equal(t, model.FromPounds(600), plan.EscrowApplied)
	assert.Equal(t, model.FromPounds(600), plan.AmountDue)
	assert.Equal(t, model.FromPounds(500), plan.Lines[0].FromEscrow)
	assert.Equal(t, model.FromPounds(100), plan.Lines[1].FromEscrow)
}

func TestBuildCheckoutPlanNegativeBalanceTreatedAsZero(t *testing.T) {
	plan := BuildCheckoutPlan([]CheckoutLine{
		{SubjectID: 1, Price: model.FromPounds(500)},
	}, model.FromPounds(-10))

	assert.Equal(t, model.Money(0), plan.EscrowApplied)
	assert.Equal(t, model.FromPounds(500), plan.AmountDue)
}

func TestSettleDeltaCoveredCharge(t *testing.T) {
	// EGP 500 -> EGP 800 swap with EGP 500 in escrow charges the delta.
	s := SettleDelta(model.FromPounds(300), model.FromPounds(500))

	assert.Equal(t, model.FromPounds(300), s.EscrowCharge)
	assert.Equal(t, model.Money(0), s.Refund)
	assert.Equal(t, model.Money(0), s.AmountDue)
	assert.False(t, s.Deferred)
}

func TestSettleDeltaUncoveredDefers(t *testing.T) {
	s := SettleDelta(model.FromPounds(300), model.FromPounds(100))

	assert.Equal(t, model.Money(0), s.EscrowCharge)
	assert.Equal(t, model.FromPounds(300), s.AmountDue)
	assert.True(t, s.Deferred)
}

func TestSettleDeltaRefund(t *testing.T) {
	// EGP 1200 -> EGP 700 swap refunds EGP 500 regardless of balance.
	s := SettleDelta(model.FromPounds(-500), 0)

	assert.Equal(t, model.FromPounds(500), s.Refund)
	assert.Equal(t, model.Money(0), s.EscrowCharge)
	assert.Equal(t, model.Money(0), s.AmountDue)
	assert.False(t, s.Deferred)
}

func TestSettleDeltaZero(t *testing.T) {
	s := SettleDelta(0, model.FromPounds(100))

	assert.Equal(t, SwapSettlement{}, s)
}

func TestWithdrawalOutcome(t *testing.T) {
	requested := model.FromPounds(400)
	balance := model.FromPounds(1000)

	status, err := WithdrawalOutcome(requested, model.FromPounds(400), balance)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalFulfilled, status)

	status, err = WithdrawalOutcome(requested, model.FromPounds(250), balance)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPartiallyFulfilled, status)

	_, err = WithdrawalOutcome(requested, model.FromPounds(500), balance)
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	// Release bounded by the balance at fulfillment time, not at request time.
	_, err = WithdrawalOutcome(requested, model.FromPounds(400), model.FromPounds(300))
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	_, err = WithdrawalOutcome(requested, 0, balance)
	assert.ErrorIs(t, err, repository.ErrNonPositiveAmount)
}
