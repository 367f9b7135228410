package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/validation"
)

// Notifier delivers one notice. Errors never undo the transition that
// produced the notice.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Observer receives one call per transition attempt.
type Observer interface {
	ObserveTransition(from, to, actor, result string)
}

type nopObserver struct{}

func (nopObserver) ObserveTransition(string, string, string, string) {}

// Workflow applies lifecycle transitions. It holds no mutable state; every
// status change goes through Repository.UpdateIfStatus keyed on the status
// read at the start of the request.
type Workflow struct {
	repo      Repository
	notifier  Notifier
	observer  Observer
	logger    zerolog.Logger
	threshold time.Duration
	loc       *time.Location
	now       func() time.Time
}

type Option func(*Workflow)

func WithObserver(o Observer) Option { return func(w *Workflow) { w.observer = o } }

// WithLocation sets the clinic time zone used to decide when a slot ended.
func WithLocation(loc *time.Location) Option { return func(w *Workflow) { w.loc = loc } }

func WithClock(now func() time.Time) Option { return func(w *Workflow) { w.now = now } }

// NewWorkflow builds a workflow. threshold is how long an appointment must
// have been pending before staff may auto-confirm it.
func NewWorkflow(repo Repository, notifier Notifier, logger zerolog.Logger, threshold time.Duration, opts ...Option) *Workflow {
	w := &Workflow{
		repo:      repo,
		notifier:  notifier,
		observer:  nopObserver{},
		logger:    logger.With().Str("component", "appointment-workflow").Logger(),
		threshold: threshold,
		loc:       time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) Threshold() time.Duration { return w.threshold }

// Get returns an appointment the actor may see.
func (w *Workflow) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.VisibleTo(actor) {
		return nil, fmt.Errorf("%w: not a party to this appointment", ErrNotPermitted)
	}
	return a, nil
}

// List scopes patients and doctors to their own appointments.
func (w *Workflow) List(ctx context.Context, actor Actor, f Filter, limit, offset int) ([]*Appointment, int, error) {
	switch {
	case actor.Role == RolePatient:
		f.PatientID = &actor.ID
	case actor.Role == RoleDoctor:
		f.DoctorID = &actor.ID
	case !actor.Clinic():
		return nil, 0, fmt.Errorf("%w: unknown role %q", ErrNotPermitted, actor.Role)
	}
	return w.repo.List(ctx, f, limit, offset)
}

// Book creates a pending appointment and tells the doctor about it.
func (w *Workflow) Book(ctx context.Context, actor Actor, req BookRequest) (res *Result, err error) {
	defer func() { w.observer.ObserveTransition("new", string(StatusPending), string(actor.Role), resultLabel(err)) }()

	switch actor.Role {
	case RolePatient:
		if req.PatientID == uuid.Nil {
			req.PatientID = actor.ID
		}
		if req.PatientID != actor.ID {
			return nil, fmt.Errorf("%w: patients can only book for themselves", ErrNotPermitted)
		}
	case RoleStaff, RoleAdmin:
		if req.PatientID == uuid.Nil {
			return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: %s cannot book appointments", ErrNotPermitted, actor.Role)
	}
	if err := validateBooking(req); err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID:        req.PatientID,
		DoctorID:         req.DoctorID,
		Date:             req.Date,
		Time:             req.Time,
		DurationMinutes:  req.DurationMinutes,
		ConsultationType: req.ConsultationType,
		Status:           StatusPending,
	}
	if r := strings.TrimSpace(req.Reason); r != "" {
		a.Reason = &r
	}
	if err := w.repo.Create(context.WithoutCancel(ctx), a); err != nil {
		return nil, err
	}

	w.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("actor_role", string(actor.Role)).
		Str("date", a.Date).Str("time", a.Time).
		Msg("appointment booked")

	res = &Result{Appointment: a}
	w.notify(ctx, res, newNotice(a, a.DoctorID, EventBooked, PriorityMedium, actor))
	return res, nil
}

func validateBooking(req BookRequest) error {
	switch {
	case req.DoctorID == uuid.Nil:
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	case req.DoctorID == req.PatientID:
		return fmt.Errorf("%w: patient and doctor must differ", ErrInvalidInput)
	case req.DurationMinutes < MinDurationMinutes || req.DurationMinutes > MaxDurationMinutes:
		return fmt.Errorf("%w: duration_minutes must be between %d and %d", ErrInvalidInput, MinDurationMinutes, MaxDurationMinutes)
	case !req.ConsultationType.Valid():
		return fmt.Errorf("%w: unknown consultation_type %q", ErrInvalidInput, req.ConsultationType)
	}
	return validateSlot(req.Date, req.Time)
}

func validateSlot(date, tm string) error {
	if !validation.ValidDate(date) {
		return fmt.Errorf("%w: appointment_date must be YYYY-MM-DD", ErrInvalidInput)
	}
	if !validation.ValidTime(tm) {
		return fmt.Errorf("%w: appointment_time must be HH:MM", ErrInvalidInput)
	}
	return nil
}

func requireReason(reason string) (string, error) {
	r := strings.TrimSpace(reason)
	if r == "" {
		return "", ErrMissingReason
	}
	return r, nil
}

// Confirm moves pending -> confirmed for the appointment's doctor or clinic
// staff. When the clinic or the payment gateway confirms, the doctor is told
// who stepped in.
func (w *Workflow) Confirm(ctx context.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
	return w.transition(ctx, opConfirm, actor, id, in.ExpectedStatus, func(a *Appointment) (*plan, error) {
		if party, ok := a.PartyOf(actor); !actor.Clinic() && (!ok || party != PartyDoctor) {
			return nil, fmt.Errorf("%w: only the doctor or clinic staff can confirm", ErrNotPermitted)
		}
		return &plan{
			patch:   Patch{SetConfirmedAt: true},
			notices: confirmNotices(actor, clinicConfirmEvent(actor)),
		}, nil
	})
}

func clinicConfirmEvent(actor Actor) Event {
	if actor == PaymentActor {
		return EventPaymentConfirmed
	}
	return EventStaffConfirmed
}

// AutoConfirm is the staff escalation for stalled appointments. The store
// decides eligibility from created_at so client clocks do not matter.
func (w *Workflow) AutoConfirm(ctx context.Context, actor Actor, id uuid.UUID) (*Result, error) {
	if !actor.Clinic() {
		return nil, fmt.Errorf("%w: only clinic staff can auto-confirm", ErrNotPermitted)
	}
	return w.transition(ctx, opAutoConfirm, actor, id, "", func(a *Appointment) (*plan, error) {
		return &plan{
			minAge:  w.threshold,
			patch:   Patch{SetConfirmedAt: true},
			notices: confirmNotices(actor, EventAutoConfirmed),
		}, nil
	})
}

// confirmNotices tells the patient, and the doctor with doctorEvent when the
// confirmation did not come from the doctor.
func confirmNotices(actor Actor, doctorEvent Event) func(*Appointment) []Notice {
	return func(a *Appointment) []Notice {
		out := []Notice{newNotice(a, a.PatientID, EventConfirmed, PriorityHigh, actor)}
		if actor.Clinic() {
			out = append(out, newNotice(a, a.DoctorID, doctorEvent, PriorityMedium, actor))
		}
		return out
	}
}

// RequestReschedule moves pending -> needs_reschedule. The requester supplies
// the new slot and a reason; the first booked slot is kept as the original.
func (w *Workflow) RequestReschedule(ctx context.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
	reason, err := requireReason(in.Reason)
	if err != nil {
		return nil, err
	}
	if err := validateSlot(in.Date, in.Time); err != nil {
		return nil, err
	}
	return w.transition(ctx, opRequestReschedule, actor, id, in.ExpectedStatus, func(a *Appointment) (*plan, error) {
		party, ok := a.PartyOf(actor)
		if !ok {
			return nil, fmt.Errorf("%w: only the patient or doctor can request a reschedule", ErrNotPermitted)
		}
		if in.Date == a.Date && in.Time == a.Time {
			return nil, fmt.Errorf("%w: the new slot must differ from the current one", ErrInvalidInput)
		}
		p := Patch{RescheduleRequestedBy: &party, RescheduleReason: &reason}
		reslot(a, in.Date, in.Time, &p)
		return &plan{
			patch: p,
			notices: func(u *Appointment) []Notice {
				return []Notice{newNotice(u, u.PartyID(party.Other()), EventRescheduleRequested, PriorityHigh, actor)}
			},
		}, nil
	})
}

// ProposeReschedule is the counterparty's answer to a reschedule request,
// optionally with another slot. The requester then confirms or rejects.
func (w *Workflow) ProposeReschedule(ctx context.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
	if in.hasSlot() {
		if err := validateSlot(in.Date, in.Time); err != nil {
			return nil, err
		}
	}
	return w.transition(ctx, opProposeReschedule, actor, id, in.ExpectedStatus, func(a *Appointment) (*plan, error) {
		requester, err := requesterOf(a)
		if err != nil {
			return nil, err
		}
		if party, ok := a.PartyOf(actor); !ok || party != requester.Other() {
			return nil, fmt.Errorf("%w: only the %s can answer this reschedule request", ErrNotPermitted, requester.Other())
		}
		var p Patch
		if in.hasSlot() {
			reslot(a, in.Date, in.Time, &p)
		}
		return &plan{
			patch: p,
			notices: func(u *Appointment) []Notice {
				return []Notice{newNotice(u, u.PartyID(requester), EventRescheduleProposed, PriorityHigh, actor)}
			},
		}, nil
	})
}

// ConfirmReschedule lets the original requester accept the proposed slot.
func (w *Workflow) ConfirmReschedule(ctx context.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
	return w.transition(ctx, opConfirmReschedule, actor, id, in.ExpectedStatus, func(a *Appointment) (*plan, error) {
		if err := w.requireRequester(a, actor); err != nil {
			return nil, err
		}
		return &plan{
			patch: Patch{SetConfirmedAt: true},
			notices: func(u *Appointment) []Notice {
				return []Notice{
					newNotice(u, u.PatientID, EventRescheduleConfirmed, PriorityHigh, actor),
					newNotice(u, u.DoctorID, EventRescheduleConfirmed, PriorityHigh, actor),
				}
			},
		}, nil
	})
}

// RejectReschedule sends the proposal back to needs_reschedule with a
// reason and, optionally, yet another slot.
func (w *Workflow) RejectReschedule(ctx context.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
	reason, err := requireReason(in.Reason)
	if err != nil {
		return nil, err
	}
	if in.hasSlot() {
		if err := validateSlot(in.Date, in.Time); err != nil {
			return nil, err
		}
	}
	return w.transition(ctx, opRejectReschedule, actor, id, in.ExpectedStatus, func(a *Appointment) (*plan, error) {
		if err := w.requireRequester(a, actor); err != nil {
			return nil, err
		}
		requester, _ := requesterOf(a)
		p := Patch{RescheduleReason: &reason}
		if in.hasSlot() {
			reslot(a, in.Date, in.Time, &p)
		}
		return &plan{
			patch: p,
			notices: func(u *Appointment) []Notice {
				return []Notice{newNotice(u, u.PartyID(requester.Other()), EventRescheduleRejected, PriorityHigh, actor)}
			},
		}, nil
	})
}

func requesterOf(a *Appointment) (Party, error) {
	if a.RescheduleRequestedBy == nil {
		return "", fmt.Errorf("%w: no reschedule was requested", ErrInvalidTransition)
	}
	return *a.RescheduleRequestedBy, nil
}

func (w *Workflow) requireRequester(a *Appointment, actor Actor) error {
	requester, err := requesterOf(a)
	if err != nil {
		return err
	}
	if party, ok := a.PartyOf(actor); !ok || party != requester {
		return fmt.Errorf("%w: only the %s who requested the reschedule can decide", ErrNotPermitted, requester)
	}
	return nil
}

// reslot moves the appointment to date/time, recording the first booked slot
// if it has not been recorded yet.
func reslot(a *Appointment, date, tm string, p *Patch) {
	if date == a.Date && tm == a.Time {
		return
	}
	p.Date, p.Time = &date, &tm
	if a.OriginalDate == nil {
		od, ot := a.Date, a.Time
		p.OriginalDate, p.OriginalTime = &od, &ot
	}
}

// Cancel ends the appointment from any non-terminal status and tells both
// parties.
func (w *Workflow) Cancel(ctx context.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
	reason, err := requireReason(in.Reason)
	if err != nil {
		return nil, err
	}
	return w.transition(ctx, opCancel, actor, id, in.ExpectedStatus, func(a *Appointment) (*plan, error) {
		if actor.Role == RoleSystem {
			return nil, fmt.Errorf("%w: appointments are cancelled by a person", ErrNotPermitted)
		}
		role := actor.Role
		return &plan{
			patch: Patch{CancellationReason: &reason, CancelledBy: &role},
			notices: func(u *Appointment) []Notice {
				return []Notice{
					newNotice(u, u.PatientID, EventCancelled, PriorityHigh, actor),
					newNotice(u, u.DoctorID, EventCancelled, PriorityHigh, actor),
				}
			},
		}, nil
	})
}

// Complete closes a confirmed appointment once its slot has ended in the
// clinic's time zone. Nobody is notified.
func (w *Workflow) Complete(ctx context.Context, actor Actor, id uuid.UUID, in Input) (*Result, error) {
	return w.transition(ctx, opComplete, actor, id, in.ExpectedStatus, func(a *Appointment) (*plan, error) {
		if party, ok := a.PartyOf(actor); !actor.Clinic() && (!ok || party != PartyDoctor) {
			return nil, fmt.Errorf("%w: only the doctor or clinic staff can complete", ErrNotPermitted)
		}
		end, err := a.EndsAt(w.loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if w.now().Before(end) {
			return nil, fmt.Errorf("%w: appointment ends at %s", ErrNotEligible, end.Format(time.RFC3339))
		}
		return &plan{}, nil
	})
}

// SweepReport summarises a CompleteElapsed run.
type SweepReport struct {
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// CompleteElapsed completes every confirmed appointment whose slot has ended.
func (w *Workflow) CompleteElapsed(ctx context.Context, actor Actor) (SweepReport, error) {
	var report SweepReport
	f := Filter{Status: StatusConfirmed, DateOnOrBefore: w.now().In(w.loc).Format(DateLayout)}

	// Completed rows drop out of the filter, so page past the ones left behind.
	const pageSize = 100
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		items, _, err := w.repo.List(ctx, f, pageSize, offset)
		if err != nil {
			return report, err
		}
		for _, a := range items {
			_, err := w.Complete(ctx, actor, a.ID, Input{ExpectedStatus: StatusConfirmed})
			switch {
			case err == nil:
				report.Completed++
			case isSkip(err):
				report.Skipped++
				offset++
			default:
				report.Failed++
				offset++
				w.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("complete elapsed appointment")
			}
		}
		if len(items) < pageSize {
			return report, nil
		}
	}
}

func isSkip(err error) bool {
	return errorsIsAny(err, ErrNotEligible, ErrStaleState)
}

type plan struct {
	minAge  time.Duration
	patch   Patch
	notices func(updated *Appointment) []Notice
}

// transition is the shared read-check-write path of every operation.
func (w *Workflow) transition(ctx context.Context, o op, actor Actor, id uuid.UUID, expected Status, build func(a *Appointment) (*plan, error)) (res *Result, err error) {
	var from Status
	defer func() {
		w.observer.ObserveTransition(string(from), string(o.to), string(actor.Role), resultLabel(err))
	}()

	a, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from = a.Status

	if !a.VisibleTo(actor) {
		return nil, fmt.Errorf("%w: not a party to this appointment", ErrNotPermitted)
	}
	if expected != "" && a.Status != expected {
		return nil, &StaleStateError{Expected: expected, Current: a.Status}
	}
	if err := o.check(a.Status); err != nil {
		return nil, err
	}
	p, err := build(a)
	if err != nil {
		return nil, err
	}
	p.patch.Status = o.to

	// A transition that reached the store finishes even if the caller left.
	updated, err := w.repo.UpdateIfStatus(context.WithoutCancel(ctx), id, Condition{Status: a.Status, MinAge: p.minAge}, p.patch)
	if err != nil {
		w.logger.Debug().Err(err).Str("appointment_id", id.String()).Str("op", o.name).Msg("conditional write refused")
		return nil, err
	}

	w.logger.Info().
		Str("appointment_id", id.String()).
		Str("op", o.name).
		Str("from", string(a.Status)).
		Str("to", string(updated.Status)).
		Str("actor_role", string(actor.Role)).
		Msg("appointment transitioned")

	res = &Result{Appointment: updated}
	if p.notices != nil {
		for _, n := range p.notices(updated) {
			w.notify(ctx, res, n)
		}
	}
	return res, nil
}

func newNotice(a *Appointment, recipient uuid.UUID, ev Event, pr Priority, actor Actor) Notice {
	return Notice{
		RecipientID: recipient,
		Event:       ev,
		Priority:    pr,
		Appointment: *a,
		ActorRole:   actor.Role,
	}
}

// notify delivers n and downgrades a failure to a warning on res.
func (w *Workflow) notify(ctx context.Context, res *Result, n Notice) {
	if err := w.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		w.logger.Warn().Err(err).
			Str("appointment_id", n.Appointment.ID.String()).
			Str("recipient_id", n.RecipientID.String()).
			Str("event", string(n.Event)).
			Msg("notification not delivered")
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s notification to %s was not delivered", n.Event, n.RecipientID))
		return
	}
	res.Notified = append(res.Notified, n)
}
