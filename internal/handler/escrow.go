package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/service"
)

// EscrowHandler exposes the escrow ledger: balance, statement, transfers
// and withdrawal requests.
type EscrowHandler struct {
	Svc *service.Coordinator
}

func NewEscrowHandler(svc *service.Coordinator) *EscrowHandler {
	if svc == nil {
		panic("nil coordinator passed to NewEscrowHandler")
	}
	return &EscrowHandler{Svc: svc}
}

// Balance handles GET /v1/students/:id/escrow.
func (h *EscrowHandler) Balance(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	studentID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid student id"})
	}
	balance, err := h.Svc.EscrowBalance(c.Request().Context(), a, studentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"student_id": studentID,
		"balance":    moneyJSON(balance),
		"currency":   model.Currency,
	})
}

// Statement handles GET /v1/students/:id/escrow/transactions with
// ?limit= and ?offset= pagination, newest first.
func (h *EscrowHandler) Statement(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	studentID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid student id"})
	}
	limit := queryInt(c, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	txns, err := h.Svc.EscrowStatement(c.Request().Context(), a, studentID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]echo.Map, 0, len(txns))
	for _, t := range txns {
		out = append(out, txnJSON(t))
	}
	return c.JSON(http.StatusOK, echo.Map{"transactions": out, "limit": limit, "offset": offset})
}

// Transfer handles POST /v1/escrow/transfers. Only a parent linked to both
// students, or an admin, may move money between escrows.
func (h *EscrowHandler) Transfer(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		FromStudentID  uint64 `json:"from_student_id"`
		ToStudentID    uint64 `json:"to_student_id"`
		AmountPiastres int64  `json:"amount_piastres"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.FromStudentID == 0 || body.ToStudentID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "from_student_id and to_student_id are required"})
	}

	result, err := h.Svc.Transfer(c.Request().Context(), a, body.FromStudentID, body.ToStudentID, model.Money(body.AmountPiastres))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"debit":  txnJSON(result.DebitTxn),
		"credit": txnJSON(result.CreditTxn),
	})
}

// RequestWithdrawal handles POST /v1/students/:id/withdrawals.
func (h *EscrowHandler) RequestWithdrawal(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	studentID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid student id"})
	}
	var body struct {
		AmountPiastres int64 `json:"amount_piastres"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	request, err := h.Svc.RequestWithdrawal(c.Request().Context(), a, studentID, model.Money(body.AmountPiastres))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"withdrawal": withdrawalJSON(*request)})
}

// ListWithdrawals handles GET /v1/students/:id/withdrawals.
func (h *EscrowHandler) ListWithdrawals(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	studentID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid student id"})
	}
	requests, err := h.Svc.ListWithdrawals(c.Request().Context(), a, studentID)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]echo.Map, 0, len(requests))
	for _, w := range requests {
		out = append(out, withdrawalJSON(w))
	}
	return c.JSON(http.StatusOK, echo.Map{"withdrawals": out})
}

func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
