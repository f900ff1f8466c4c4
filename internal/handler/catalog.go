package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
)

// CatalogHandler exposes unauthenticated browse endpoints so students and
// parents can inspect subjects and sessions before logging in.
type CatalogHandler struct {
	Subjects *repository.SubjectRepo
	Sessions *repository.SessionRepo
}

func NewCatalogHandler(subjects *repository.SubjectRepo, sessions *repository.SessionRepo) *CatalogHandler {
	if subjects == nil || sessions == nil {
		panic("nil repository passed to NewCatalogHandler")
	}
	return &CatalogHandler{Subjects: subjects, Sessions: sessions}
}

// ListSubjects handles GET /v1/subjects, returning the active catalog with
// both price tiers, core subjects first.
func (h *CatalogHandler) ListSubjects(c echo.Context) error {
	subjects, err := h.Subjects.ListActive(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	out := make([]echo.Map, 0, len(subjects))
	for _, s := range subjects {
		item := echo.Map{
			"id":              s.ID,
			"name":            s.Name,
			"code":            s.Code,
			"price_in_school": moneyJSON(s.PriceInSchool),
			"is_core":         s.IsCore,
		}
		if s.PriceExternal != nil {
			item["price_external"] = moneyJSON(*s.PriceExternal)
		}
		out = append(out, item)
	}
	return c.JSON(http.StatusOK, echo.Map{"subjects": out})
}

// ListSessions handles GET /v1/sessions.
func (h *CatalogHandler) ListSessions(c echo.Context) error {
	sessions, err := h.Sessions.List(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": sessions})
}
