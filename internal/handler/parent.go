package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/igcse-subject-reservation/internal/model"
	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
)

// ParentHandler covers the parent-student linking flow. A link starts
// PENDING and grants nothing until an admin approves it.
type ParentHandler struct {
	Students *repository.StudentRepo
}

func NewParentHandler(students *repository.StudentRepo) *ParentHandler {
	if students == nil {
		panic("nil repository passed to NewParentHandler")
	}
	return &ParentHandler{Students: students}
}

// RequestLink handles POST /v1/parent-links.
func (h *ParentHandler) RequestLink(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		StudentID uint64 `json:"student_id"`
	}
	if err := c.Bind(&body); err != nil || body.StudentID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "student_id is required"})
	}
	linkID, err := h.Students.LinkParent(c.Request().Context(), a.UserID, body.StudentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"id":         linkID,
		"parent_id":  a.UserID,
		"student_id": body.StudentID,
		"status":     model.LinkPending,
	})
}

// LinkedStudents handles GET /v1/parents/me/students, returning the IDs of
// students the caller holds an approved link to.
func (h *ParentHandler) LinkedStudents(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ids, err := h.Students.LinkedStudents(c.Request().Context(), a.UserID)
	if err != nil {
		return respondError(c, err)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return c.JSON(http.StatusOK, echo.Map{"student_ids": ids})
}
