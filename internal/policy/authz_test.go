package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole("ADMIN"))
	assert.True(t, ValidRole("STUDENT"))
	assert.True(t, ValidRole("PARENT"))
	assert.False(t, ValidRole("OWNER"))
	assert.False(t, ValidRole(""))
}

func TestCanAdmin(t *testing.T) {
	// Admins pass every operation regardless of ownership facts.
	for _, op := range []Operation{
		OpCheckout, OpDrop, OpSwap, OpSwitchType, OpTransfer,
		OpViewEscrow, OpRequestWithdrawal, OpFulfillWithdrawal,
		OpManageSessions, OpManageCatalog,
	} {
		assert.True(t, Can(RoleAdmin, op, OwnershipFacts{}), "admin %s", op)
	}
}

func TestCanStudent(t *testing.T) {
	self := OwnershipFacts{IsSelf: true}
	other := OwnershipFacts{}

	assert.True(t, Can(RoleStudent, OpCheckout, self))
	assert.True(t, Can(RoleStudent, OpDrop, self))
	assert.True(t, Can(RoleStudent, OpViewEscrow, self))
	assert.True(t, Can(RoleStudent, OpRequestWithdrawal, self))

	assert.False(t, Can(RoleStudent, OpCheckout, other))
	assert.False(t, Can(RoleStudent, OpViewEscrow, other))
	// Students never move money between escrows or resolve withdrawals.
	assert.False(t, Can(RoleStudent, OpTransfer, self))
	assert.False(t, Can(RoleStudent, OpFulfillWithdrawal, self))
	assert.False(t, Can(RoleStudent, OpManageSessions, self))
}

func TestCanParent(t *testing.T) {
	linked := OwnershipFacts{ParentLinked: true}
	unlinked := OwnershipFacts{}

	assert.True(t, Can(RoleParent, OpCheckout, linked))
	assert.True(t, Can(RoleParent, OpSwap, linked))
	assert.True(t, Can(RoleParent, OpTransfer, linked))
	assert.True(t, Can(RoleParent, OpViewEscrow, linked))

	assert.False(t, Can(RoleParent, OpCheckout, unlinked))
	assert.False(t, Can(RoleParent, OpTransfer, unlinked))
	assert.False(t, Can(RoleParent, OpFulfillWithdrawal, linked))
	assert.False(t, Can(RoleParent, OpManageCatalog, linked))
}
