package cds

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medforms/internal/platform/auth"
	"github.com/ehr/medforms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("/catalog", auth.RequireRole("admin", "physician", "nurse", "manager"))
	readGroup.GET("/protocol-items", h.ListProtocolItems)
	readGroup.GET("/diagnoses", h.ListDiagnoses)
	readGroup.GET("/diagnoses/:code", h.GetDiagnosis)
	readGroup.GET("/vital-ranges", h.GetVitalRanges)

	adminGroup := api.Group("/catalog", auth.RequireRole("admin"))
	adminGroup.POST("/reload", h.Reload)
}

func (h *Handler) ListProtocolItems(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total := h.svc.ListProtocolItems(pg.Limit, pg.Offset)
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

func (h *Handler) ListDiagnoses(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total := h.svc.ListDiagnoses(pg.Limit, pg.Offset)
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

func (h *Handler) GetDiagnosis(c echo.Context) error {
	e, ok := h.svc.Tables().Knowledge.Lookup(c.Param("code"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "diagnosis not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) GetVitalRanges(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.VitalRanges())
}

func (h *Handler) Reload(c echo.Context) error {
	if !h.svc.HasRepository() {
		return echo.NewHTTPError(http.StatusConflict, "no knowledge base configured")
	}
	if err := h.svc.Reload(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
