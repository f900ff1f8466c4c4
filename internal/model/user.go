package model

import "time"

// User represents an application user record as stored in the `users`
// table.  Each field corresponds to a column in the database.  The json
// tags are omitted here because these structs are primarily used internally
// by the repository layer; handlers define separate response types with
// appropriate JSON tags.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – role name (ADMIN, STUDENT or PARENT).
//  IsActive     – whether the account is active.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// Student carries the enrollment facts attached to a user with the STUDENT
// role.  Grade drives the core-subject policy: Grade-10 students in a June
// session must take every core subject and cannot drop them.
//
// Fields:
//  UserID – references users.id.
//  Grade  – school grade (9, 10 or 11).
type Student struct {
	UserID    uint64    // students.user_id
	Grade     uint8     // students.grade
	CreatedAt time.Time // students.created_at
}

// Parent-link statuses.  Only APPROVED links grant a parent authority over a
// student's registrations and escrow.
const (
	LinkPending  = "PENDING"
	LinkApproved = "APPROVED"
)

// ParentLink associates a parent account with a student account.  Links are
// created in PENDING state and must be approved before the parent may act on
// the student's behalf.
type ParentLink struct {
	ID        uint64    // parent_links.id
	ParentID  uint64    // parent_links.parent_id
	StudentID uint64    // parent_links.student_id
	Status    string    // parent_links.status
	CreatedAt time.Time // parent_links.created_at
	UpdatedAt time.Time // parent_links.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  Each refresh
// token belongs to a user and contains metadata for expiry and revocation.
// The plain token is not stored; only its SHA-256 hash.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – owner of the token.
//  TokenHash – SHA-256 hex digest of the token value.
//  ExpiresAt – expiration timestamp of the token.
//  RevokedAt – when the token was revoked (null if still active).
//  CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
