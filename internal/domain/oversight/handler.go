package oversight

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

type Handler struct {
	monitor *Monitor
}

func NewHandler(m *Monitor) *Handler {
	return &Handler{monitor: m}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/oversight", auth.RequireRole(auth.RoleStaff))
	g.GET("/urgent", h.Urgent)
	g.POST("/appointments/:id/remind-doctor", h.RemindDoctor)
	g.POST("/appointments/:id/contact-patient", h.ContactPatient)
	g.POST("/appointments/:id/auto-confirm", h.AutoConfirm)
	g.POST("/auto-confirm-all", h.AutoConfirmAll, auth.RequireRole(auth.RoleAdmin))
}

type urgentResponse struct {
	*pagination.Page[*appointment.Stalled]
	ThresholdMinutes int `json:"threshold_minutes"`
}

func (h *Handler) Urgent(c echo.Context) error {
	f, err := appointment.ParseFilter(c)
	if err != nil {
		return err
	}
	// Urgency is always about pending appointments.
	f.Status = ""
	pg, err := pagination.FromContext(c)
	if err != nil {
		return err
	}

	items, total, err := h.monitor.Urgent(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return appointment.HTTPError(err)
	}
	return c.JSON(http.StatusOK, urgentResponse{
		Page:             pagination.NewPage(items, total, pg),
		ThresholdMinutes: int(h.monitor.wf.Threshold().Minutes()),
	})
}

type action func(h *Handler, c echo.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Result, error)

func (h *Handler) run(c echo.Context, fn action) error {
	actor, err := appointment.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	res, err := fn(h, c, actor, id)
	if errors.Is(err, ErrNotDelivered) {
		return echo.NewHTTPError(http.StatusBadGateway, map[string]string{
			"error":   "notification_delivery_failed",
			"message": err.Error(),
		})
	}
	if err != nil {
		return appointment.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RemindDoctor(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Result, error) {
		return h.monitor.RemindDoctor(c.Request().Context(), actor, id)
	})
}

func (h *Handler) ContactPatient(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Result, error) {
		return h.monitor.ContactPatient(c.Request().Context(), actor, id)
	})
}

func (h *Handler) AutoConfirm(c echo.Context) error {
	return h.run(c, func(h *Handler, c echo.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Result, error) {
		return h.monitor.AutoConfirm(c.Request().Context(), actor, id)
	})
}

func (h *Handler) AutoConfirmAll(c echo.Context) error {
	actor, err := appointment.ActorFrom(c)
	if err != nil {
		return err
	}
	s, err := h.monitor.AutoConfirmAll(c.Request().Context(), actor)
	if err != nil {
		return appointment.HTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}
