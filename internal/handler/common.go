package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/igcse-subject-reservation/internal/middleware"
	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/policy"
	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
)

// actor extracts the authenticated caller stored by the JWT middleware.
func actor(c echo.Context) (policy.Actor, error) {
	a := middleware.Actor(c)
	if a.UserID == 0 || a.Role == "" {
		return policy.Actor{}, errors.New("invalid user_id in context")
	}
	return a, nil
}

// paramID parses a positive uint64 path parameter.
func paramID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// respondError translates service and repository errors into HTTP
// responses. The wrapped message carries entity context (which subject,
// which registration), so it is returned verbatim on client errors;
// unknown errors stay opaque.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrDuplicateRegistration),
		errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrSessionNotActive):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrInsufficientFunds),
		errors.Is(err, repository.ErrNonPositiveAmount),
		errors.Is(err, repository.ErrCoreSubjectLocked),
		errors.Is(err, repository.ErrCoreIncomplete),
		errors.Is(err, repository.ErrExternalNotAvailable):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	default:
		c.Logger().Errorf("internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// normalizeRegType maps a request value onto a registration type constant.
// An omitted value defaults to in-school; anything other than the two known
// types is rejected so a typo never silently buys the in-school price.
func normalizeRegType(raw string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", model.TypeInSchool:
		return model.TypeInSchool, true
	case model.TypeExternal:
		return model.TypeExternal, true
	default:
		return "", false
	}
}

// moneyJSON renders an amount both as raw piastres and as a formatted
// string, so clients never re-implement the currency arithmetic.
func moneyJSON(m model.Money) echo.Map {
	return echo.Map{"piastres": m.Piastres(), "formatted": m.String()}
}

// txnJSON renders a ledger entry.
func txnJSON(t model.EscrowTransaction) echo.Map {
	out := echo.Map{
		"id":           t.ID,
		"escrow_id":    t.EscrowID,
		"student_id":   t.StudentID,
		"type":         t.Type,
		"amount":       moneyJSON(t.Amount),
		"reason":       t.Reason,
		"initiated_by": t.InitiatedBy,
		"created_at":   t.CreatedAt,
	}
	if t.RelatedRegistrationID != nil {
		out["related_registration_id"] = *t.RelatedRegistrationID
	}
	if t.RelatedPaymentID != nil {
		out["related_payment_id"] = *t.RelatedPaymentID
	}
	return out
}

// regJSON renders a registration.
func regJSON(r model.Registration) echo.Map {
	out := echo.Map{
		"id":         r.ID,
		"student_id": r.StudentID,
		"session_id": r.SessionID,
		"subject_id": r.SubjectID,
		"type":       r.RegistrationType,
		"price":      moneyJSON(r.PriceAtRegistration),
		"status":     r.Status,
		"created_at": r.CreatedAt,
	}
	if r.DroppedAt != nil {
		out["dropped_at"] = *r.DroppedAt
	}
	if r.SwappedFromID != nil {
		out["swapped_from_id"] = *r.SwappedFromID
	}
	return out
}

// withdrawalJSON renders a withdrawal request.
func withdrawalJSON(w model.WithdrawalRequest) echo.Map {
	out := echo.Map{
		"id":         w.ID,
		"student_id": w.StudentID,
		"requested":  moneyJSON(w.RequestedAmount),
		"status":     w.Status,
		"created_at": w.CreatedAt,
	}
	if w.ReleasedAmount != nil {
		out["released"] = moneyJSON(*w.ReleasedAmount)
	}
	if w.AdminNotes != nil {
		out["admin_notes"] = *w.AdminNotes
	}
	if w.FulfilledAt != nil {
		out["fulfilled_at"] = *w.FulfilledAt
	}
	return out
}
