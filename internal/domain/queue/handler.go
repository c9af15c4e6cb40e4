package queue

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/smartslot/smartslot/internal/platform/auth"
	"github.com/smartslot/smartslot/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the kiosk and display endpoints on public and the
// staff console endpoints on staff. staff is expected to carry the
// authentication middleware already.
func (h *Handler) RegisterRoutes(public *echo.Group, staff *echo.Group) {
	public.POST("/queue/patients", h.AdmitPatient)
	public.GET("/queue/patients", h.ListPatients)
	public.GET("/queue/patients/:id", h.GetPatient)
	public.GET("/queue/tokens/:token", h.GetPatientByToken)
	public.GET("/queue/waiting", h.ListWaiting)
	public.GET("/queue/current", h.GetCurrent)
	public.GET("/queue/stats", h.GetStats)
	public.GET("/queue/snapshot", h.GetSnapshot)

	write := staff.Group("", auth.RequireRole("staff"))
	write.PUT("/queue/patients/:id/status", h.UpdateStatus)
	write.POST("/queue/call-next", h.CallNext)
	write.POST("/queue/recompute", h.Recompute)
	write.PUT("/queue/broadcast", h.SetBroadcast)
	write.DELETE("/queue/broadcast", h.ClearBroadcast)
}

// httpError maps service errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrIllegalTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrStorage):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "queue storage unavailable, try again")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) AdmitPatient(c echo.Context) error {
	var in Intake
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Admit(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total := h.svc.Patients(pg.Limit, pg.Offset)
	return pagination.Respond(c, http.StatusOK, pg, items, total)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.FindByID(id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPatientByToken(c echo.Context) error {
	p, err := h.svc.FindByToken(c.Param("token"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListWaiting(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Waiting())
}

func (h *Handler) GetCurrent(c echo.Context) error {
	p, err := h.svc.Current()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Stats())
}

func (h *Handler) GetSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Snapshot())
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := ParseStatus(req.Status)
	if err != nil {
		return httpError(err)
	}
	p, err := h.svc.SetStatus(c.Request().Context(), id, to)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CallNext(c echo.Context) error {
	p, err := h.svc.CallNext(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Recompute(c echo.Context) error {
	snap, err := h.svc.Recompute(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

type broadcastRequest struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (h *Handler) SetBroadcast(c echo.Context) error {
	var req broadcastRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.SetBroadcast(c.Request().Context(), req.Message, Severity(req.Severity))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ClearBroadcast(c echo.Context) error {
	if _, err := h.svc.ClearBroadcast(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
