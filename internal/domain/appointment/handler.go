package appointment

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

type Handler struct {
	wf *Workflow
}

func NewHandler(wf *Workflow) *Handler {
	return &Handler{wf: wf}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/appointments", h.Book, auth.RequireRole(auth.RolePatient, auth.RoleStaff))
	api.GET("/appointments", h.List)
	api.GET("/appointments/:id", h.Get)

	api.POST("/appointments/:id/confirm", h.Confirm)
	api.POST("/appointments/:id/cancel", h.Cancel)
	api.POST("/appointments/:id/complete", h.Complete)

	api.POST("/appointments/:id/reschedule", h.RequestReschedule)
	api.POST("/appointments/:id/reschedule/propose", h.ProposeReschedule)
	api.POST("/appointments/:id/reschedule/confirm", h.ConfirmReschedule)
	api.POST("/appointments/:id/reschedule/reject", h.RejectReschedule)
}

// ActorFrom maps the request principal onto a workflow actor.
func ActorFrom(c echo.Context) (Actor, error) {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: p.UserID, Role: Role(p.Role)}, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// HTTPError maps workflow errors onto HTTP responses.
func HTTPError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	var stale *StaleStateError
	switch {
	case errors.As(err, &stale):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{
			"error":   "stale_state",
			"status":  string(stale.Current),
			"message": "this appointment was changed by someone else (now " + string(stale.Current) + "); refresh and try again",
		})
	case errors.Is(err, ErrStaleState):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{"error": "stale_state", "message": err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, ErrNotEligible):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{"error": "not_eligible", "message": err.Error()})
	case errors.Is(err, ErrMissingReason):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{"error": "missing_reason", "message": err.Error()})
	case errors.Is(err, ErrNotPermitted):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "appointment store unavailable, try again")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Book(c echo.Context) error {
	actor, err := ActorFrom(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	res, err := h.wf.Book(c.Request().Context(), actor, req)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

var idPrefix = regexp.MustCompile(`^[0-9a-fA-F-]{1,36}$`)

// ParseFilter reads the shared list filters from the query string.
func ParseFilter(c echo.Context) (Filter, error) {
	var f Filter
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		f.DoctorID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		if !Status(v).Valid() {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		f.Status = Status(v)
	}
	if v := c.QueryParam("date"); v != "" {
		if err := validateSlot(v, "00:00"); err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		f.Date = v
	}
	if v := c.QueryParam("q"); v != "" {
		if !idPrefix.MatchString(v) {
			return f, echo.NewHTTPError(http.StatusBadRequest, "q must be an appointment id prefix")
		}
		f.IDPrefix = strings.ToLower(v)
	}
	return f, nil
}

func (h *Handler) List(c echo.Context) error {
	actor, err := ActorFrom(c)
	if err != nil {
		return err
	}
	f, err := ParseFilter(c)
	if err != nil {
		return err
	}
	pg, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	items, total, err := h.wf.List(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.wf.Get(c.Request().Context(), actor, id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type transitionFunc func(wf *Workflow, c echo.Context, actor Actor, id uuid.UUID, in Input) (*Result, error)

// transitionHandler binds the optional Input body and runs fn.
func (h *Handler) transitionHandler(fn transitionFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := ActorFrom(c)
		if err != nil {
			return err
		}
		id, err := parseID(c)
		if err != nil {
			return err
		}
		var in Input
		if err := c.Bind(&in); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if in.ExpectedStatus != "" && !in.ExpectedStatus.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid expected_status")
		}
		res, err := fn(h.wf, c, actor, id, in)
		if err != nil {
			return HTTPError(err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.transitionHandler(func(wf *Workflow, c echo.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
		return wf.Confirm(c.Request().Context(), actor, id, in)
	})(c)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transitionHandler(func(wf *Workflow, c echo.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
		return wf.Cancel(c.Request().Context(), actor, id, in)
	})(c)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transitionHandler(func(wf *Workflow, c echo.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
		return wf.Complete(c.Request().Context(), actor, id, in)
	})(c)
}

func (h *Handler) RequestReschedule(c echo.Context) error {
	return h.transitionHandler(func(wf *Workflow, c echo.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
		return wf.RequestReschedule(c.Request().Context(), actor, id, in)
	})(c)
}

func (h *Handler) ProposeReschedule(c echo.Context) error {
	return h.transitionHandler(func(wf *Workflow, c echo.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
		return wf.ProposeReschedule(c.Request().Context(), actor, id, in)
	})(c)
}

func (h *Handler) ConfirmReschedule(c echo.Context) error {
	return h.transitionHandler(func(wf *Workflow, c echo.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
		return wf.ConfirmReschedule(c.Request().Context(), actor, id, in)
	})(c)
}

func (h *Handler) RejectReschedule(c echo.Context) error {
	return h.transitionHandler(func(wf *Workflow, c echo.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
		return wf.RejectReschedule(c.Request().Context(), actor, id, in)
	})(c)
}
