// Package oversight surfaces appointments left pending past the
// auto-confirm threshold and the staff actions that resolve them.
package oversight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
)

// ErrNotDelivered is returned when a notify-only action could not store
// its notification.
var ErrNotDelivered = errors.New("notification not delivered")

// Gauge receives the clinic-wide urgent count on every unfiltered refresh.
type Gauge interface {
	SetUrgentPending(n int)
}

type nopGauge struct{}

func (nopGauge) SetUrgentPending(int) {}

// Monitor holds no state of its own; urgency is recomputed by the store on
// every call.
type Monitor struct {
	repo     appointment.Repository
	wf       *appointment.Workflow
	notifier appointment.Notifier
	gauge    Gauge
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Monitor)

func WithGauge(g Gauge) Option { return func(m *Monitor) { m.gauge = g } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func NewMonitor(repo appointment.Repository, wf *appointment.Workflow, notifier appointment.Notifier, logger zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		repo:     repo,
		wf:       wf,
		notifier: notifier,
		gauge:    nopGauge{},
		logger:   logger.With().Str("component", "oversight").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Urgent lists pending appointments older than the threshold, oldest first.
func (m *Monitor) Urgent(ctx context.Context, f appointment.Filter, limit, offset int) ([]*appointment.Stalled, int, error) {
	items, total, err := m.repo.ListStalled(ctx, m.wf.Threshold(), f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if f == (appointment.Filter{}) {
		m.gauge.SetUrgentPending(total)
	}
	return items, total, nil
}

func requireClinic(actor appointment.Actor) error {
	if !actor.Clinic() {
		return fmt.Errorf("%w: oversight actions are for clinic staff", appointment.ErrNotPermitted)
	}
	return nil
}

// pendingAppointment loads id and insists it is still pending, so a nudge is
// never sent about an appointment somebody already handled.
func (m *Monitor) pendingAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != appointment.StatusPending {
		return nil, &appointment.StaleStateError{Expected: appointment.StatusPending, Current: a.Status}
	}
	return a, nil
}

// RemindDoctor nudges the doctor to act on a pending appointment.
func (m *Monitor) RemindDoctor(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Result, error) {
	return m.nudge(ctx, actor, id, appointment.EventDoctorReminder, appointment.PriorityHigh, func(a *appointment.Appointment) uuid.UUID {
		return a.DoctorID
	})
}

// ContactPatient tells the patient the clinic is following up.
func (m *Monitor) ContactPatient(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Result, error) {
	return m.nudge(ctx, actor, id, appointment.EventPatientContact, appointment.PriorityMedium, func(a *appointment.Appointment) uuid.UUID {
		return a.PatientID
	})
}

func (m *Monitor) nudge(ctx context.Context, actor appointment.Actor, id uuid.UUID, ev appointment.Event, pr appointment.Priority, recipient func(*appointment.Appointment) uuid.UUID) (*appointment.Result, error) {
	if err := requireClinic(actor); err != nil {
		return nil, err
	}
	a, err := m.pendingAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	n := appointment.Notice{
		RecipientID: recipient(a),
		Event:       ev,
		Priority:    pr,
		Appointment: *a,
		ActorRole:   actor.Role,
		PendingFor:  m.now().Sub(a.CreatedAt),
	}
	if err := m.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		m.logger.Warn().Err(err).Str("appointment_id", id.String()).Str("event", string(ev)).Msg("oversight notification failed")
		return nil, fmt.Errorf("%w: %v", ErrNotDelivered, err)
	}

	m.logger.Info().
		Str("appointment_id", id.String()).
		Str("event", string(ev)).
		Str("actor_id", actor.ID.String()).
		Msg("oversight nudge sent")
	return &appointment.Result{Appointment: a, Notified: []appointment.Notice{n}}, nil
}

// AutoConfirm confirms a stalled appointment on the actor's behalf.
func (m *Monitor) AutoConfirm(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Result, error) {
	return m.wf.AutoConfirm(ctx, actor, id)
}

// Summary reports an AutoConfirmAll run.
type Summary struct {
	Confirmed int `json:"confirmed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Warnings  int `json:"warnings"`
}

// AutoConfirmAll auto-confirms every urgent appointment. Appointments that
// changed under the sweep are skipped.
func (m *Monitor) AutoConfirmAll(ctx context.Context, actor appointment.Actor) (Summary, error) {
	var s Summary
	if err := requireClinic(actor); err != nil {
		return s, err
	}

	const pageSize = 100
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		items, _, err := m.repo.ListStalled(ctx, m.wf.Threshold(), appointment.Filter{}, pageSize, offset)
		if err != nil {
			return s, err
		}
		for _, it := range items {
			res, err := m.wf.AutoConfirm(ctx, actor, it.ID)
			switch {
			case err == nil:
				s.Confirmed++
				s.Warnings += len(res.Warnings)
			case errors.Is(err, appointment.ErrStaleState), errors.Is(err, appointment.ErrInvalidTransition):
				// No longer pending, so it has left the stalled list.
				s.Skipped++
			case errors.Is(err, appointment.ErrNotEligible):
				s.Skipped++
				offset++
			default:
				s.Failed++
				offset++
				m.logger.Error().Err(err).Str("appointment_id", it.ID.String()).Msg("auto-confirm failed")
			}
		}
		if len(items) < pageSize {
			break
		}
	}
	m.logger.Info().
		Int("confirmed", s.Confirmed).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Msg("auto-confirm sweep finished")
	return s, nil
}
