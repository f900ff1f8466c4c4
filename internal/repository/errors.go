// Package repository defines error types that are reused across multiple
// repositories and by the transaction coordinator. These sentinel values
// allow higher layers such as handlers to distinguish between different
// failure scenarios with errors.Is and translate them into precise HTTP
// responses. Expected business-rule violations are always one of these
// sentinels (possibly wrapped with entity context); only true infrastructure
// failures propagate as plain errors.
package repository

import "errors"

// ErrInsufficientFunds is returned when a debit, transfer or withdrawal
// fulfillment would move more money than the escrow balance holds.
// Handlers should translate this into an HTTP 422 response.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidTransition is returned when a status change is not legal from
// the row's current state, e.g. dropping a registration that is not
// CONFIRMED or confirming one that was already reclaimed. Handlers should
// translate this into an HTTP 409 response.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrDuplicateRegistration is returned when a non-dropped registration
// already exists for the same (student, session, subject). Handlers should
// translate this into an HTTP 409 response.
var ErrDuplicateRegistration = errors.New("duplicate registration")

// ErrCoreSubjectLocked is returned when a drop, swap or type switch targets
// a core-subject registration of a Grade-10 student in a June session.
// Handlers should translate this into an HTTP 422 response.
var ErrCoreSubjectLocked = errors.New("core subject locked")

// ErrCoreIncomplete is returned when a checkout or swap would leave a
// Grade-10 June enrollment without the full set of core subjects.
var ErrCoreIncomplete = errors.New("core subjects incomplete")

// ErrExternalNotAvailable is returned when a registration requests EXTERNAL
// type for a subject that has no external price.
var ErrExternalNotAvailable = errors.New("external registration not available")

// ErrSessionNotActive is returned when a mutating operation targets a
// session that is not in ACTIVE state.
var ErrSessionNotActive = errors.New("session not active")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own, such as a parent acting on an unlinked student.
// Handlers should translate this into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrNotFound is returned when the referenced entity does not exist.
// Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned by user creation when the email address is
// already registered. Handlers should translate this into an HTTP 409
// response.
var ErrEmailExists = errors.New("email already exists")
