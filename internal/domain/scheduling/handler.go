package scheduling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctorOnly := auth.RequireRole(string(RoleDoctor))

	api.GET("/doctors/:doctor_id/slots", h.ListSlots)
	api.GET("/doctors/:doctor_id/rules", h.ListRules)
	api.POST("/doctors/:doctor_id/rules", h.CreateRule, doctorOnly)
	api.GET("/doctors/:doctor_id/appointments", h.ListDoctorAppointments, doctorOnly)
	api.GET("/patients/:patient_id/appointments", h.ListPatientAppointments)

	api.GET("/rules/:id", h.GetRule)
	api.PUT("/rules/:id", h.UpdateRule, doctorOnly)
	api.DELETE("/rules/:id", h.DeactivateRule, doctorOnly)

	api.POST("/appointments", h.CreateAppointment, auth.RequireRole(string(RolePatient)))
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments/:id/approve", h.Approve)
	api.POST("/appointments/:id/reject", h.Reject)
	api.POST("/appointments/:id/cancel", h.Cancel)
	api.POST("/appointments/:id/confirm", h.Confirm)
	api.POST("/appointments/:id/start", h.Start)
	api.POST("/appointments/:id/complete", h.Complete)
	api.POST("/appointments/:id/no-show", h.NoShow)
}

var kindStatus = map[Kind]int{
	KindPastDateTime:        http.StatusUnprocessableEntity,
	KindOutsideAvailability: http.StatusUnprocessableEntity,
	KindOverlap:             http.StatusConflict,
	KindCapacityExceeded:    http.StatusConflict,
	KindInvalidTransition:   http.StatusConflict,
	KindRuleConflict:        http.StatusConflict,
	KindNotFound:            http.StatusNotFound,
	KindInvalidInput:        http.StatusBadRequest,
	KindForbidden:           http.StatusForbidden,
}

// fail converts err into an *echo.HTTPError carrying an ErrorBody.
func (h *Handler) fail(c echo.Context, err error) error {
	var se *Error
	if !errors.As(err, &se) {
		h.logger.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("scheduling request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, ErrorBody{
			Error:   "internal_error",
			Message: "internal server error",
		})
	}
	body := ErrorBody{Error: string(se.Kind), Message: se.Error()}
	if se.Kind == KindOverlap && se.ConflictingID != uuid.Nil {
		id := se.ConflictingID
		body.ConflictingAppointmentID = &id
	}
	status, ok := kindStatus[se.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return echo.NewHTTPError(status, body)
}

func badRequest(format string, args ...any) error {
	return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{
		Error:   string(KindInvalidInput),
		Message: newError(KindInvalidInput, format, args...).Error(),
	})
}

// actorFrom builds the caller identity set by the auth middleware.
func actorFrom(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "caller identity is not a valid id")
	}
	actor := Actor{ID: id}
	for _, r := range auth.RolesFromContext(ctx) {
		actor.Roles = append(actor.Roles, Role(r))
	}
	return actor, nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, badRequest("invalid %s", name)
	}
	return id, nil
}

func bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return badRequest("malformed body: %v", err)
	}
	if err := c.Validate(dst); err != nil {
		return badRequest("%v", err)
	}
	return nil
}

// -- Slots --

func (h *Handler) ListSlots(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	from, err := ParseDate(c.QueryParam("from"))
	if err != nil {
		return badRequest("from must be YYYY-MM-DD")
	}
	to, err := ParseDate(c.QueryParam("to"))
	if err != nil {
		return badRequest("to must be YYYY-MM-DD")
	}

	gen, err := h.svc.GetAvailableSlots(c.Request().Context(), doctorID, from, to)
	if err != nil {
		return h.fail(c, err)
	}
	slots := gen.Slots
	if slots == nil {
		slots = []Slot{}
	}
	return c.JSON(http.StatusOK, SlotsResponse{
		DoctorID:  doctorID,
		From:      from.Format(dateLayout),
		To:        to.Format(dateLayout),
		Slots:     slots,
		Conflicts: gen.Conflicts,
	})
}

// -- Rules --

func (h *Handler) CreateRule(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	var req RuleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	rule, err := req.ToRule(doctorID)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.CreateRule(c.Request().Context(), actor, rule); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, rule)
}

func (h *Handler) GetRule(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	rule, err := h.svc.GetRule(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

func (h *Handler) ListRules(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRules(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) UpdateRule(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req RuleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	// The owning doctor is taken from the stored rule.
	rule, err := req.ToRule(uuid.Nil)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.UpdateRule(c.Request().Context(), actor, id, rule); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

func (h *Handler) DeactivateRule(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	rule, err := h.svc.DeactivateRule(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// -- Appointments --

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req CreateAppointmentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	appt, err := h.svc.RequestAppointment(c.Request().Context(), actor, req.toInput())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListDoctorAppointments(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctorAppointments(c.Request().Context(), actor, doctorID,
		Status(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) ListPatientAppointments(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	patientID, err := uuidParam(c, "patient_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientAppointments(c.Request().Context(), actor, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

type transitionFunc func(h *Handler, c echo.Context, actor Actor, id uuid.UUID) (*Appointment, error)

func (h *Handler) runTransition(c echo.Context, fn transitionFunc) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	appt, err := fn(h, c, actor, id)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}

// reasonFrom reads an optional {"reason": "..."} body.
func reasonFrom(c echo.Context) (string, error) {
	if c.Request().ContentLength == 0 {
		return "", nil
	}
	var req ReasonRequest
	if err := bindAndValidate(c, &req); err != nil {
		return "", err
	}
	return req.Reason, nil
}

func (h *Handler) Approve(c echo.Context) error {
	return h.runTransition(c, func(h *Handler, c echo.Context, a Actor, id uuid.UUID) (*Appointment, error) {
		return h.svc.ApproveRequest(c.Request().Context(), a, id)
	})
}

func (h *Handler) Reject(c echo.Context) error {
	return h.runTransition(c, func(h *Handler, c echo.Context, a Actor, id uuid.UUID) (*Appointment, error) {
		reason, err := reasonFrom(c)
		if err != nil {
			return nil, err
		}
		return h.svc.RejectRequest(c.Request().Context(), a, id, reason)
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.runTransition(c, func(h *Handler, c echo.Context, a Actor, id uuid.UUID) (*Appointment, error) {
		reason, err := reasonFrom(c)
		if err != nil {
			return nil, err
		}
		return h.svc.CancelAppointment(c.Request().Context(), a, id, reason)
	})
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.runTransition(c, func(h *Handler, c echo.Context, a Actor, id uuid.UUID) (*Appointment, error) {
		return h.svc.ConfirmAppointment(c.Request().Context(), a, id)
	})
}

func (h *Handler) Start(c echo.Context) error {
	return h.runTransition(c, func(h *Handler, c echo.Context, a Actor, id uuid.UUID) (*Appointment, error) {
		return h.svc.StartAppointment(c.Request().Context(), a, id)
	})
}

func (h *Handler) Complete(c echo.Context) error {
	return h.runTransition(c, func(h *Handler, c echo.Context, a Actor, id uuid.UUID) (*Appointment, error) {
		return h.svc.CompleteAppointment(c.Request().Context(), a, id)
	})
}

func (h *Handler) NoShow(c echo.Context) error {
	return h.runTransition(c, func(h *Handler, c echo.Context, a Actor, id uuid.UUID) (*Appointment, error) {
		return h.svc.MarkNoShow(c.Request().Context(), a, id)
	})
}
