package policy

// Role is the closed set of principal roles known to the engine. Roles are
// carried in the JWT "role" claim and validated here rather than compared as
// loose strings inside handlers.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleStudent Role = "STUDENT"
	RoleParent  Role = "PARENT"
)

// ValidRole reports whether s names a known role.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleAdmin, RoleStudent, RoleParent:
		return true
	}
	return false
}

// Operation names one coordinator operation for authorization purposes.
type Operation string

const (
	OpCheckout           Operation = "checkout"
	OpDrop               Operation = "drop"
	OpSwap               Operation = "swap"
	OpSwitchType         Operation = "switch_type"
	OpTransfer           Operation = "transfer"
	OpViewEscrow         Operation = "view_escrow"
	OpRequestWithdrawal  Operation = "request_withdrawal"
	OpFulfillWithdrawal  Operation = "fulfill_withdrawal"
	OpManageSessions     Operation = "manage_sessions"
	OpManageCatalog      Operation = "manage_catalog"
)

// Actor is the authenticated principal supplied by the identity layer. The
// engine trusts this input; it never re-derives identity.
type Actor struct {
	UserID uint64
	Role   Role
}

// OwnershipFacts carries the facts needed to decide whether an actor may
// operate on a student's data. IsSelf is true when the actor is the student
// in question; ParentLinked is true when the actor is a parent with an
// APPROVED link to every student involved in the operation.
type OwnershipFacts struct {
	IsSelf       bool
	ParentLinked bool
}

// Can decides whether the actor's role permits the operation given the
// ownership facts. Admins may do anything. Students operate on their own
// data; parents operate on linked students. Transfer moves money between two
// escrows and therefore requires a parent linked to both students (or an
// admin); fulfillment and catalogue/session management are admin-only.
func Can(role Role, op Operation, facts OwnershipFacts) bool {
	if role == RoleAdmin {
		return true
	}
	switch op {
	case OpCheckout, OpDrop, OpSwap, OpSwitchType, OpViewEscrow, OpRequestWithdrawal:
		switch role {
		case RoleStudent:
			return facts.IsSelf
		case RoleParent:
			return facts.ParentLinked
		}
	case OpTransfer:
		return role == RoleParent && facts.ParentLinked
	case OpFulfillWithdrawal, OpManageSessions, OpManageCatalog:
		return false
	}
	return false
}
