package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
	"github.com/iliyamo/igcse-subject-reservation/internal/service"
)

// AdminHandler bundles the back-office operations: session lifecycle,
// subject catalog maintenance, withdrawal resolution, parent link approval
// and the expired-registration sweep. All routes are gated to the ADMIN
// role by middleware.
type AdminHandler struct {
	Svc           *service.Coordinator
	Sessions      *repository.SessionRepo
	Subjects      *repository.SubjectRepo
	Students      *repository.StudentRepo
	Withdrawals   *repository.WithdrawalRepo
	Registrations *repository.RegistrationRepo
}

func NewAdminHandler(svc *service.Coordinator, sessions *repository.SessionRepo, subjects *repository.SubjectRepo, students *repository.StudentRepo, withdrawals *repository.WithdrawalRepo, registrations *repository.RegistrationRepo) *AdminHandler {
	if svc == nil || sessions == nil || subjects == nil || students == nil || withdrawals == nil || registrations == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{
		Svc:           svc,
		Sessions:      sessions,
		Subjects:      subjects,
		Students:      students,
		Withdrawals:   withdrawals,
		Registrations: registrations,
	}
}

// ----- sessions -----

// CreateSession handles POST /v1/admin/sessions. Sessions start DRAFT and
// accept registrations only after activation.
func (h *AdminHandler) CreateSession(c echo.Context) error {
	var body struct {
		Name        string    `json:"name"`
		SessionType string    `json:"session_type"` // JUNE | NOVEMBER | JANUARY
		StartsAt    time.Time `json:"starts_at"`
		EndsAt      time.Time `json:"ends_at"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.Name = strings.TrimSpace(body.Name)
	sessionType := strings.ToUpper(strings.TrimSpace(body.SessionType))
	switch sessionType {
	case model.SessionJune, model.SessionNovember, model.SessionJanuary:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_type must be JUNE, NOVEMBER or JANUARY"})
	}
	if body.Name == "" || !body.EndsAt.After(body.StartsAt) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and a valid starts_at/ends_at window are required"})
	}

	s := &model.RegistrationSession{
		Name:        body.Name,
		SessionType: sessionType,
		StartsAt:    body.StartsAt.UTC(),
		EndsAt:      body.EndsAt.UTC(),
	}
	if err := h.Sessions.Create(c.Request().Context(), s); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

// ActivateSession handles POST /v1/admin/sessions/:id/activate.
func (h *AdminHandler) ActivateSession(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	if err := h.Sessions.Activate(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "status": model.SessionActive})
}

// CloseSession handles POST /v1/admin/sessions/:id/close. Closing freezes
// all registrations for the session; escrow balances survive into the next
// session.
func (h *AdminHandler) CloseSession(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	if err := h.Sessions.Close(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "status": model.SessionClosed})
}

// SessionRegistrations handles GET /v1/admin/sessions/:id/registrations,
// listing every non-dropped registration in the session.
func (h *AdminHandler) SessionRegistrations(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	regs, err := h.Registrations.ListActiveForSession(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]echo.Map, 0, len(regs))
	for _, r := range regs {
		out = append(out, regJSON(r))
	}
	return c.JSON(http.StatusOK, echo.Map{"registrations": out})
}

// ReclaimExpired handles POST /v1/admin/sessions/:id/reclaim, releasing
// registrations whose payment never arrived and refunding applied escrow.
func (h *AdminHandler) ReclaimExpired(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	released, err := h.Svc.ReclaimExpired(c.Request().Context(), a, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// ----- subjects -----

// CreateSubject handles POST /v1/admin/subjects.
func (h *AdminHandler) CreateSubject(c echo.Context) error {
	var body struct {
		Name                  string `json:"name"`
		Code                  string `json:"code"`
		PriceInSchoolPiastres int64  `json:"price_in_school_piastres"`
		PriceExternalPiastres *int64 `json:"price_external_piastres"`
		IsCore                bool   `json:"is_core"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.Name = strings.TrimSpace(body.Name)
	body.Code = strings.ToUpper(strings.TrimSpace(body.Code))
	if body.Name == "" || body.Code == "" || body.PriceInSchoolPiastres <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name, code and a positive in-school price are required"})
	}

	s := &model.Subject{
		Name:          body.Name,
		Code:          body.Code,
		PriceInSchool: model.Money(body.PriceInSchoolPiastres),
		IsCore:        body.IsCore,
		IsActive:      true,
	}
	if body.PriceExternalPiastres != nil {
		if *body.PriceExternalPiastres <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "external price must be positive when set"})
		}
		ext := model.Money(*body.PriceExternalPiastres)
		s.PriceExternal = &ext
	}
	if err := h.Subjects.Create(c.Request().Context(), s); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

// SetSubjectActive handles POST /v1/admin/subjects/:id/active. Deactivated
// subjects stop appearing in checkout but existing registrations survive.
func (h *AdminHandler) SetSubjectActive(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid subject id"})
	}
	var body struct {
		Active bool `json:"active"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Subjects.SetActive(c.Request().Context(), id, body.Active); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "active": body.Active})
}

// UpdateSubjectPrices handles PUT /v1/admin/subjects/:id/prices. Price
// changes never touch existing registrations, which keep their snapshot.
func (h *AdminHandler) UpdateSubjectPrices(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid subject id"})
	}
	var body struct {
		PriceInSchoolPiastres int64  `json:"price_in_school_piastres"`
		PriceExternalPiastres *int64 `json:"price_external_piastres"`
	}
	if err := c.Bind(&body); err != nil || body.PriceInSchoolPiastres <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a positive in-school price is required"})
	}
	var external *model.Money
	if body.PriceExternalPiastres != nil {
		if *body.PriceExternalPiastres <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "external price must be positive when set"})
		}
		ext := model.Money(*body.PriceExternalPiastres)
		external = &ext
	}
	if err := h.Subjects.UpdatePrices(c.Request().Context(), id, model.Money(body.PriceInSchoolPiastres), external); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id})
}

// ----- withdrawals -----

// PendingWithdrawals handles GET /v1/admin/withdrawals.
func (h *AdminHandler) PendingWithdrawals(c echo.Context) error {
	requests, err := h.Withdrawals.ListPending(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	out := make([]echo.Map, 0, len(requests))
	for _, w := range requests {
		out = append(out, withdrawalJSON(w))
	}
	return c.JSON(http.StatusOK, echo.Map{"withdrawals": out})
}

// FulfillWithdrawal handles POST /v1/admin/withdrawals/:id/fulfill.
func (h *AdminHandler) FulfillWithdrawal(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid withdrawal id"})
	}
	var body struct {
		ReleasedPiastres int64   `json:"released_piastres"`
		Notes            *string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	request, err := h.Svc.FulfillWithdrawal(c.Request().Context(), a, id, model.Money(body.ReleasedPiastres), body.Notes)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"withdrawal": withdrawalJSON(*request)})
}

// RejectWithdrawal handles POST /v1/admin/withdrawals/:id/reject.
func (h *AdminHandler) RejectWithdrawal(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid withdrawal id"})
	}
	var body struct {
		Notes *string `json:"notes"`
	}
	_ = c.Bind(&body)
	if err := h.Svc.RejectWithdrawal(c.Request().Context(), a, id, body.Notes); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "status": model.WithdrawalRejected})
}

// ----- parent links -----

// ApproveParentLink handles POST /v1/admin/parent-links/:id/approve. The
// school office verifies guardianship before approving.
func (h *AdminHandler) ApproveParentLink(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid link id"})
	}
	if err := h.Students.ApproveLink(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "status": model.LinkApproved})
}
