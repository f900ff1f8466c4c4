// Package policy implements the pure business rules of the reservation
// engine: pricing, the core-subject mandate and authorization. Nothing in
// this package touches the database or emits events: every function is a
// side-effect-free computation over values supplied by the caller, which
// keeps the rules trivially testable and reusable inside coordinator
// transactions.
package policy

import (
	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
)

// CoreMandateApplies reports whether the mandatory core-subject rule is in
// force for the given student grade and session type. This is the single
// rule governing mandatory enrollment: Grade-10 students sitting a June
// session must take every core subject.
func CoreMandateApplies(grade uint8, sessionType string) bool {
	return grade == 10 && sessionType == model.SessionJune
}

// RequiredCoreSubjectIDs returns the set of subject IDs the student must be
// enrolled in. It is the full set of active core subjects when the core
// mandate applies and the empty set otherwise.
func RequiredCoreSubjectIDs(grade uint8, sessionType string, catalog []model.Subject) map[uint64]struct{} {
	required := make(map[uint64]struct{})
	if !CoreMandateApplies(grade, sessionType) {
		return required
	}
	for _, s := range catalog {
		if s.IsCore && s.IsActive {
			required[s.ID] = struct{}{}
		}
	}
	return required
}

// ValidateCoreCompleteness reports whether every required core subject is
// contained in the proposed enrollment set. It must be evaluated server-side
// on every checkout and swap; client-supplied completeness claims are never
// trusted.
func ValidateCoreCompleteness(required, proposed map[uint64]struct{}) bool {
	for id := range required {
		if _, ok := proposed[id]; !ok {
			return false
		}
	}
	return true
}

// IsLocked reports whether a registration may not be dropped, swapped or
// type-switched: true iff the subject is core, the student is in Grade 10
// and the session is a June sitting.
func IsLocked(subjectIsCore bool, grade uint8, sessionType string) bool {
	return subjectIsCore && CoreMandateApplies(grade, sessionType)
}

// PriceOf returns the price of a subject for the requested registration
// type. It fails with ErrExternalNotAvailable when EXTERNAL is requested for
// a subject that has no external price.
func PriceOf(subject model.Subject, registrationType string) (model.Money, error) {
	switch registrationType {
	case model.TypeExternal:
		if subject.PriceExternal == nil {
			return 0, repository.ErrExternalNotAvailable
		}
		return *subject.PriceExternal, nil
	default:
		return subject.PriceInSchool, nil
	}
}

// SwapDelta returns the signed price difference newPrice - oldPrice.
// Positive means the caller must pay the difference; negative means the
// absolute value is credited to escrow; zero is a free swap with no ledger
// entry.
func SwapDelta(oldPrice, newPrice model.Money) model.Money {
	return newPrice.Sub(oldPrice)
}
