package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medforms/internal/domain/cds"
	"github.com/ehr/medforms/internal/domain/medform"
	"github.com/ehr/medforms/internal/domain/nursing"
	"github.com/ehr/medforms/internal/platform/auth"
	"github.com/ehr/medforms/internal/platform/websocket"
)

type Handler struct {
	svc    *Service
	stream *websocket.Streamer
}

// NewHandler creates the validation handler. stream may be nil, which
// disables the session state stream.
func NewHandler(svc *Service, stream *websocket.Streamer) *Handler {
	return &Handler{svc: svc, stream: stream}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/validation", auth.RequireRole("admin", "physician", "nurse", "manager"))

	// Stateless checks
	g.POST("/medical", h.ValidateMedical)
	g.POST("/medical/field", h.ValidateMedicalField)
	g.POST("/medical/vital-signs", h.CheckVitalSigns)
	g.POST("/medical/diagnosis-coherence", h.CheckDiagnosisCoherence)
	g.POST("/medical/protocol", h.CheckProtocol)
	g.POST("/nursing", h.ValidateNursing)
	g.POST("/nursing/field", h.ValidateNursingField)

	// Live sessions
	g.POST("/sessions", h.CreateSession)
	g.GET("/sessions/:id", h.GetSession)
	g.PATCH("/sessions/:id/fields", h.PatchFields)
	g.POST("/sessions/:id/complete", h.Complete)
	g.POST("/sessions/:id/clear", h.Clear)
	g.POST("/sessions/:id/submit", h.Submit)
	g.DELETE("/sessions/:id", h.DeleteSession)
	if h.stream != nil {
		g.GET("/sessions/:id/stream", h.StreamSession)
	}
}

type MedicalRequest struct {
	Form    medform.Form        `json:"form"`
	Context cds.ProtocolContext `json:"context"`
}

type NursingRequest struct {
	Form nursing.Form `json:"form"`
}

type FieldRequest struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type VitalSignsRequest struct {
	VitalSigns medform.VitalSigns `json:"vitalSigns"`
	PatientAge float64            `json:"patientAge"`
}

type AlertsResponse struct {
	Alerts   []cds.Alert      `json:"alerts"`
	Groups   []cds.AlertGroup `json:"groups"`
	Blocking bool             `json:"blocking"`
}

type CreateSessionRequest struct {
	Kind      Kind                `json:"kind"`
	PatientID string              `json:"patientId"`
	UserID    string              `json:"userId"`
	Form      json.RawMessage     `json:"form"`
	Context   cds.ProtocolContext `json:"context"`
}

type FieldChange struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type PatchFieldsRequest struct {
	Changes []FieldChange        `json:"changes"`
	Context *cds.ProtocolContext `json:"context,omitempty"`
}

func alertsResponse(alerts []cds.Alert) AlertsResponse {
	return AlertsResponse{Alerts: alerts, Groups: cds.GroupAlerts(alerts), Blocking: cds.AnyBlocking(alerts)}
}

// -- Stateless checks --

func (h *Handler) ValidateMedical(c echo.Context) error {
	var req MedicalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.ValidateMedical(req.Form, req.Context))
}

func (h *Handler) ValidateNursing(c echo.Context) error {
	var req NursingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.ValidateNursing(req.Form))
}

func (h *Handler) ValidateMedicalField(c echo.Context) error {
	return h.validateField(c, KindMedical)
}

func (h *Handler) ValidateNursingField(c echo.Context) error {
	return h.validateField(c, KindNursing)
}

func (h *Handler) validateField(c echo.Context, kind Kind) error {
	var req FieldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Field == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "field is required")
	}
	res, err := h.svc.ValidateField(kind, req.Field, req.Value)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CheckVitalSigns(c echo.Context) error {
	var req VitalSignsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, alertsResponse(h.svc.CDS().CheckVitalSigns(req.VitalSigns, req.PatientAge)))
}

func (h *Handler) CheckDiagnosisCoherence(c echo.Context) error {
	var req MedicalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, alertsResponse(h.svc.CDS().CheckDiagnosisCoherence(req.Form)))
}

func (h *Handler) CheckProtocol(c echo.Context) error {
	var req MedicalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.CDS().CheckProtocol(req.Form, req.Context))
}

// -- Sessions --

func (h *Handler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Kind == "" {
		req.Kind = KindMedical
	}
	if req.UserID == "" {
		req.UserID = auth.UserIDFromContext(c.Request().Context())
	}
	sess, err := h.svc.CreateSession(req.Kind, req.PatientID, req.UserID, req.Form, req.Context)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, h.svc.View(sess))
}

func (h *Handler) session(c echo.Context) (Handle, error) {
	sess, err := h.svc.Session(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "validation session not found")
	}
	return sess, nil
}

func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.View(sess))
}

func (h *Handler) PatchFields(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req PatchFieldsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Context != nil {
		if err := sess.SetContext(*req.Context); err != nil {
			return echo.NewHTTPError(http.StatusGone, err.Error())
		}
	}
	for i, ch := range req.Changes {
		if err := sess.Set(ch.Path, ch.Value); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return echo.NewHTTPError(http.StatusGone, err.Error())
			}
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("changes[%d]: %v", i, err))
		}
	}
	return c.JSON(http.StatusOK, h.svc.View(sess))
}

func (h *Handler) Complete(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	sess.ValidateCompletely()
	return c.JSON(http.StatusOK, resultOf(sess))
}

func (h *Handler) Clear(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	sess.Clear()
	return c.JSON(http.StatusOK, h.svc.View(sess))
}

func (h *Handler) Submit(c echo.Context) error {
	token := auth.TokenFromContext(c.Request().Context())
	res, err := h.svc.Submit(c.Request().Context(), c.Param("id"), token)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, res)
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "validation session not found")
	case errors.Is(err, ErrSubmitInProgress):
		return echo.NewHTTPError(http.StatusConflict, "submission already in progress")
	case errors.Is(err, ErrNotSubmittable):
		return c.JSON(http.StatusUnprocessableEntity, res)
	case errors.Is(err, ErrNoBackend):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.svc.CloseSession(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "validation session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// StreamSession upgrades to a websocket that receives the session view on
// every state change, starting with the current one.
func (h *Handler) StreamSession(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	initial, err := h.svc.StateEvent(sess)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	open := func() bool {
		_, err := h.svc.Session(sess.ID())
		return err == nil
	}
	return h.stream.Serve(c, sess.ID(), &initial, open)
}
