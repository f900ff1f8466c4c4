package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/igcse-subject-reservation/internal/service"
)

// RegistrationHandler exposes the registration lifecycle: checkout, drop,
// swap and type switch. All methods assume JWT authentication has already
// run; ownership (self, linked parent, admin) is enforced by the
// coordinator, so a student hitting another student's data gets 403 from
// the service layer rather than from routing.
type RegistrationHandler struct {
	Svc *service.Coordinator
}

func NewRegistrationHandler(svc *service.Coordinator) *RegistrationHandler {
	if svc == nil {
		panic("nil coordinator passed to NewRegistrationHandler")
	}
	return &RegistrationHandler{Svc: svc}
}

// Checkout handles POST /v1/students/:id/checkout. The body carries the
// session and the basket lines. Escrow is applied automatically; the
// response reports the amount still owed externally and the created
// registrations (PENDING_PAYMENT until the payment callback when the
// amount due is non-zero).
func (h *RegistrationHandler) Checkout(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	studentID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid student id"})
	}
	var body struct {
		SessionID uint64 `json:"session_id"`
		Lines     []struct {
			SubjectID uint64 `json:"subject_id"`
			Type      string `json:"type"`
		} `json:"lines"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.SessionID == 0 || len(body.Lines) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id and lines are required"})
	}
	lines := make([]service.CheckoutRequest, 0, len(body.Lines))
	for _, l := range body.Lines {
		if l.SubjectID == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "subject_id is required on every line"})
		}
		regType, ok := normalizeRegType(l.Type)
		if !ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown registration type: " + l.Type})
		}
		lines = append(lines, service.CheckoutRequest{SubjectID: l.SubjectID, Type: regType})
	}

	result, err := h.Svc.Checkout(c.Request().Context(), a, studentID, body.SessionID, lines)
	if err != nil {
		return respondError(c, err)
	}

	regs := make([]echo.Map, 0, len(result.Registrations))
	for _, r := range result.Registrations {
		regs = append(regs, regJSON(r))
	}
	txns := make([]echo.Map, 0, len(result.EscrowTxns))
	for _, t := range result.EscrowTxns {
		txns = append(txns, txnJSON(t))
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"registrations":  regs,
		"escrow_applied": txns,
		"total":          moneyJSON(result.Total),
		"amount_due":     moneyJSON(result.AmountDue),
	})
}

// Drop handles POST /v1/registrations/:id/drop. The full price snapshot is
// credited back to the student's escrow.
func (h *RegistrationHandler) Drop(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	regID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid registration id"})
	}
	txn, err := h.Svc.Drop(c.Request().Context(), a, regID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"refund": txnJSON(*txn)})
}

// Swap handles POST /v1/registrations/:id/swap. The body names the new
// subject and optional type. When the price delta exceeds the escrow
// balance the response carries deferred=true and the amount still owed;
// the old registration stays confirmed until the payment callback.
func (h *RegistrationHandler) Swap(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	regID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid registration id"})
	}
	var body struct {
		NewSubjectID uint64 `json:"new_subject_id"`
		Type         string `json:"type"`
	}
	if err := c.Bind(&body); err != nil || body.NewSubjectID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "new_subject_id is required"})
	}

	regType, ok := normalizeRegType(body.Type)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown registration type: " + body.Type})
	}

	result, err := h.Svc.Swap(c.Request().Context(), a, regID, body.NewSubjectID, regType)
	if err != nil {
		return respondError(c, err)
	}

	resp := echo.Map{
		"old_registration": regJSON(result.OldRegistration),
		"new_registration": regJSON(result.NewRegistration),
		"deferred":         result.Deferred,
		"amount_due":       moneyJSON(result.AmountDue),
	}
	if result.DeltaTxn != nil {
		resp["settlement"] = txnJSON(*result.DeltaTxn)
	}
	status := http.StatusOK
	if result.Deferred {
		status = http.StatusAccepted
	}
	return c.JSON(status, resp)
}

// SwitchType handles POST /v1/registrations/:id/switch-type, flipping a
// confirmed registration between in-school and external pricing.
func (h *RegistrationHandler) SwitchType(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	regID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid registration id"})
	}
	var body struct {
		Type string `json:"type"`
	}
	if err := c.Bind(&body); err != nil || body.Type == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "type is required"})
	}

	regType, ok := normalizeRegType(body.Type)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown registration type: " + body.Type})
	}

	result, err := h.Svc.SwitchType(c.Request().Context(), a, regID, regType)
	if err != nil {
		return respondError(c, err)
	}
	resp := echo.Map{"registration": regJSON(result.Registration)}
	if result.DeltaTxn != nil {
		resp["settlement"] = txnJSON(*result.DeltaTxn)
	}
	return c.JSON(http.StatusOK, resp)
}

// List handles GET /v1/students/:id/registrations with an optional
// ?session_id= filter.
func (h *RegistrationHandler) List(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	studentID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid student id"})
	}
	var sessionID *uint64
	if raw := c.QueryParam("session_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session_id"})
		}
		sessionID = &id
	}

	regs, err := h.Svc.ListRegistrations(c.Request().Context(), a, studentID, sessionID)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]echo.Map, 0, len(regs))
	for _, r := range regs {
		out = append(out, regJSON(r))
	}
	return c.JSON(http.StatusOK, echo.Map{"registrations": out})
}
