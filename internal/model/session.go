package model

import "time"

// Session types correspond to the three IGCSE exam sittings offered per year.
const (
	SessionJune     = "JUNE"
	SessionNovember = "NOVEMBER"
	SessionJanuary  = "JANUARY"
)

// Session statuses.  Transitions are forward-only:
// DRAFT -> ACTIVE -> CLOSED, and CLOSED is terminal.
const (
	SessionDraft  = "DRAFT"
	SessionActive = "ACTIVE"
	SessionClosed = "CLOSED"
)

// RegistrationSession represents one enrollment window (e.g. "June 2026").
// Registration, drop and swap operations are only permitted while the
// session is ACTIVE.
type RegistrationSession struct {
	ID          uint64    // registration_sessions.id
	Name        string    // registration_sessions.name (e.g. "June 2026")
	SessionType string    // registration_sessions.session_type (JUNE/NOVEMBER/JANUARY)
	StartsAt    time.Time // registration_sessions.starts_at
	EndsAt      time.Time // registration_sessions.ends_at
	Status      string    // registration_sessions.status
	CreatedAt   time.Time // registration_sessions.created_at
	UpdatedAt   time.Time // registration_sessions.updated_at
}
