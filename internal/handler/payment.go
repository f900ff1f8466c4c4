package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/igcse-subject-reservation/internal/service"
)

// PaymentHandler receives the outcome callbacks of the external payment
// gateway adapter. The adapter authenticates as an admin service account,
// so these routes sit behind the same JWT gate as the rest of the admin
// surface. The handlers trust the payment identifiers they are given.
type PaymentHandler struct {
	Svc *service.Coordinator
}

func NewPaymentHandler(svc *service.Coordinator) *PaymentHandler {
	if svc == nil {
		panic("nil coordinator passed to NewPaymentHandler")
	}
	return &PaymentHandler{Svc: svc}
}

type paymentCallbackReq struct {
	PaymentID       string   `json:"payment_id"`
	RegistrationIDs []uint64 `json:"registration_ids"`
}

func (r *paymentCallbackReq) validate() string {
	r.PaymentID = strings.TrimSpace(r.PaymentID)
	if r.PaymentID == "" {
		return "payment_id is required"
	}
	if len(r.RegistrationIDs) == 0 {
		return "registration_ids is required"
	}
	return ""
}

// Confirm handles POST /v1/payments/confirm. All named registrations are
// confirmed atomically; a registration already reclaimed fails the whole
// callback so the gateway retries or escalates.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	var req paymentCallbackReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}
	confirmed, err := h.Svc.ConfirmPayment(c.Request().Context(), req.PaymentID, req.RegistrationIDs)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]echo.Map, 0, len(confirmed))
	for _, r := range confirmed {
		out = append(out, regJSON(r))
	}
	return c.JSON(http.StatusOK, echo.Map{"confirmed": out})
}

// Fail handles POST /v1/payments/fail, releasing the pending registrations
// of a failed payment and refunding any escrow applied at checkout.
func (h *PaymentHandler) Fail(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req paymentCallbackReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}
	released, err := h.Svc.FailPayment(c.Request().Context(), a, req.PaymentID, req.RegistrationIDs)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]echo.Map, 0, len(released))
	for _, r := range released {
		out = append(out, regJSON(r))
	}
	return c.JSON(http.StatusOK, echo.Map{"released": out})
}
