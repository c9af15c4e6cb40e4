package webhook

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/smartslot/smartslot/pkg/pagination"
)

// Handler exposes endpoint management over HTTP.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes mounts /webhooks on g. Callers gate g to administrators.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	w := g.Group("/webhooks")
	w.POST("", h.Create)
	w.GET("", h.List)
	w.GET("/:id", h.Get)
	w.DELETE("/:id", h.Delete)
	w.POST("/:id/pause", h.Pause)
	w.POST("/:id/resume", h.Resume)
	w.POST("/:id/test", h.Test)
	w.GET("/:id/deliveries", h.Deliveries)
	w.POST("/deliveries/:id/retry", h.Retry)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

type createRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.manager.Register(c.Request().Context(), req.URL, req.Secret, req.Events)
	if err != nil {
		return httpError(err)
	}
	// The secret is returned once, at creation.
	return c.JSON(http.StatusCreated, ep)
}

func redact(ep *Endpoint) *Endpoint {
	cp := *ep
	cp.Secret = ""
	return &cp
}

func (h *Handler) List(c echo.Context) error {
	eps, err := h.manager.store.ListEndpoints(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	out := make([]*Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = redact(ep)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": out, "total": len(out)})
}

func (h *Handler) Get(c echo.Context) error {
	ep, err := h.manager.store.GetEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, redact(ep))
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.manager.store.DeleteEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Pause(c echo.Context) error {
	ep, err := h.manager.SetStatus(c.Request().Context(), c.Param("id"), StatusPaused)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, redact(ep))
}

func (h *Handler) Resume(c echo.Context) error {
	ep, err := h.manager.SetStatus(c.Request().Context(), c.Param("id"), StatusActive)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, redact(ep))
}

func (h *Handler) Test(c echo.Context) error {
	d, err := h.manager.Ping(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Deliveries(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.manager.store.ListDeliveries(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Respond(c, http.StatusOK, pg, items, total)
}

func (h *Handler) Retry(c echo.Context) error {
	d, err := h.manager.Redeliver(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}
