package model

import "time"

// Registration types distinguish candidates sitting the exam through the
// school from external (private) candidates.
const (
	TypeInSchool = "IN_SCHOOL"
	TypeExternal = "EXTERNAL"
)

// Registration statuses.  PENDING_PAYMENT rows either become CONFIRMED when
// the payment callback arrives or are reclaimed (deleted) after the
// configured expiry.  CONFIRMED rows may be DROPPED while the session is
// active.
const (
	RegPendingPayment = "PENDING_PAYMENT"
	RegConfirmed      = "CONFIRMED"
	RegDropped        = "DROPPED"
)

// Registration records a student's enrollment in one subject for one
// session.  PriceAtRegistration is an immutable snapshot of the subject
// price at creation time; it is never recomputed from the live subject row.
//
// Invariant: for a given (StudentID, SessionID, SubjectID), at most one
// non-dropped registration exists at a time.
//
// Fields:
//  ID                    – primary key identifier.
//  StudentID             – student being enrolled.
//  SessionID             – registration session the enrollment belongs to.
//  SubjectID             – subject being taken.
//  RegistrationType      – IN_SCHOOL or EXTERNAL.
//  PriceAtRegistration   – price snapshot captured at creation.
//  Status                – current state (see Reg* constants).
//  RegisteredBy          – user who created the row (student or linked parent).
//  SwappedFromID         – when set, confirming this pending row must also
//                          drop the referenced registration (deferred swap).
//  DroppedAt             – when the row entered DROPPED, if it did.
type Registration struct {
	ID                  uint64     // registrations.id
	StudentID           uint64     // registrations.student_id
	SessionID           uint64     // registrations.session_id
	SubjectID           uint64     // registrations.subject_id
	RegistrationType    string     // registrations.registration_type
	PriceAtRegistration Money      // registrations.price_at_registration_piastres
	Status              string     // registrations.status
	RegisteredBy        uint64     // registrations.registered_by
	SwappedFromID       *uint64    // registrations.swapped_from_id (nullable)
	DroppedAt           *time.Time // registrations.dropped_at (nullable)
	CreatedAt           time.Time  // registrations.created_at
	UpdatedAt           time.Time  // registrations.updated_at
}
