package oversight_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/domain/appointment/appointmenttest"
	"github.com/clinicdesk/clinic/internal/domain/oversight"
)

var t0 = time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC)

type gauge struct{ last int }

func (g *gauge) SetUrgentPending(n int) { g.last = n }

type env struct {
	store    *appointmenttest.Store
	notifier *appointmenttest.Notifier
	gauge    *gauge
	monitor  *oversight.Monitor
	staff    appointment.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:    appointmenttest.NewStore(t0),
		notifier: &appointmenttest.Notifier{},
		gauge:    &gauge{last: -1},
		staff:    appointment.Actor{ID: uuid.New(), Role: appointment.RoleStaff},
	}
	wf := appointment.NewWorkflow(e.store, e.notifier, zerolog.Nop(), 2*time.Hour, appointment.WithClock(e.store.Now))
	e.monitor = oversight.NewMonitor(e.store, wf, e.notifier, zerolog.Nop(),
		oversight.WithGauge(e.gauge), oversight.WithClock(e.store.Now))
	return e
}

func (e *env) pending(createdAgo time.Duration) *appointment.Appointment {
	a := &appointment.Appointment{
		PatientID:        uuid.New(),
		DoctorID:         uuid.New(),
		Date:             "2025-03-03",
		Time:             "09:30",
		DurationMinutes:  20,
		ConsultationType: appointment.ModalityInPerson,
		Status:           appointment.StatusPending,
		CreatedAt:        e.store.Now().Add(-createdAgo),
	}
	e.store.Put(a)
	return a
}

func TestUrgent(t *testing.T) {
	e := newEnv(t)
	old := e.pending(5 * time.Hour)
	atThreshold := e.pending(2 * time.Hour)
	e.pending(2*time.Hour - time.Second)
	confirmed := e.pending(6 * time.Hour)
	_, err := e.monitor.AutoConfirm(context.Background(), e.staff, confirmed.ID)
	require.NoError(t, err)

	items, total, err := e.monitor.Urgent(context.Background(), appointment.Filter{}, 20, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	assert.Equal(t, old.ID, items[0].ID, "oldest first")
	assert.Equal(t, atThreshold.ID, items[1].ID)
	assert.Equal(t, 300, items[0].PendingMinutes)
	assert.Equal(t, 2, e.gauge.last)
}

func TestUrgent_FilteredDoesNotSetGauge(t *testing.T) {
	e := newEnv(t)
	a := e.pending(3 * time.Hour)
	e.pending(3 * time.Hour)

	items, total, err := e.monitor.Urgent(context.Background(), appointment.Filter{DoctorID: &a.DoctorID}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, a.ID, items[0].ID)
	assert.Equal(t, -1, e.gauge.last)

	_, total, err = e.monitor.Urgent(context.Background(), appointment.Filter{IDPrefix: a.ID.String()[:8]}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestUrgent_RecomputedOnEveryCall(t *testing.T) {
	e := newEnv(t)
	e.pending(time.Hour)

	_, total, err := e.monitor.Urgent(context.Background(), appointment.Filter{}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	e.store.Advance(time.Hour)
	_, total, err = e.monitor.Urgent(context.Background(), appointment.Filter{}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRemindDoctor(t *testing.T) {
	e := newEnv(t)
	a := e.pending(3 * time.Hour)

	res, err := e.monitor.RemindDoctor(context.Background(), e.staff, a.ID)
	require.NoError(t, err)
	require.Len(t, res.Notified, 1)

	n := e.notifier.For(a.DoctorID)
	require.Len(t, n, 1)
	assert.Equal(t, appointment.EventDoctorReminder, n[0].Event)
	assert.Equal(t, appointment.PriorityHigh, n[0].Priority)
	assert.Equal(t, 3*time.Hour, n[0].PendingFor)

	got, _ := e.store.GetByID(context.Background(), a.ID)
	assert.Equal(t, appointment.StatusPending, got.Status, "reminders never change status")
}

func TestContactPatient(t *testing.T) {
	e := newEnv(t)
	a := e.pending(3 * time.Hour)

	_, err := e.monitor.ContactPatient(context.Background(), e.staff, a.ID)
	require.NoError(t, err)

	n := e.notifier.For(a.PatientID)
	require.Len(t, n, 1)
	assert.Equal(t, appointment.EventPatientContact, n[0].Event)
	assert.Equal(t, appointment.PriorityMedium, n[0].Priority)
}

func TestNudge_Errors(t *testing.T) {
	e := newEnv(t)
	a := e.pending(3 * time.Hour)
	ctx := context.Background()

	doctor := appointment.Actor{ID: a.DoctorID, Role: appointment.RoleDoctor}
	_, err := e.monitor.RemindDoctor(ctx, doctor, a.ID)
	assert.ErrorIs(t, err, appointment.ErrNotPermitted)

	_, err = e.monitor.RemindDoctor(ctx, e.staff, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrNotFound)

	e.notifier.Fail = errors.New("insert failed")
	_, err = e.monitor.ContactPatient(ctx, e.staff, a.ID)
	assert.ErrorIs(t, err, oversight.ErrNotDelivered)
	e.notifier.Fail = nil

	_, err = e.monitor.AutoConfirm(ctx, e.staff, a.ID)
	require.NoError(t, err)
	_, err = e.monitor.RemindDoctor(ctx, e.staff, a.ID)
	assert.ErrorIs(t, err, appointment.ErrStaleState)
}

func TestAutoConfirm_Boundary(t *testing.T) {
	e := newEnv(t)
	early := e.pending(2*time.Hour - time.Second)
	onTime := e.pending(2 * time.Hour)
	late := e.pending(2*time.Hour + time.Second)
	ctx := context.Background()

	_, err := e.monitor.AutoConfirm(ctx, e.staff, early.ID)
	assert.ErrorIs(t, err, appointment.ErrNotEligible)

	_, err = e.monitor.AutoConfirm(ctx, e.staff, onTime.ID)
	assert.NoError(t, err)

	res, err := e.monitor.AutoConfirm(ctx, e.staff, late.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, res.Appointment.Status)
}

func TestAutoConfirmAll(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		e.pending(3 * time.Hour)
	}
	young := e.pending(30 * time.Minute)
	e.notifier.Fail = errors.New("insert failed")

	s, err := e.monitor.AutoConfirmAll(context.Background(), appointment.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Confirmed)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, 6, s.Warnings, "patient and doctor notices failed for each")

	got, _ := e.store.GetByID(context.Background(), young.ID)
	assert.Equal(t, appointment.StatusPending, got.Status)

	_, total, _ := e.monitor.Urgent(context.Background(), appointment.Filter{}, 20, 0)
	assert.Equal(t, 0, total)
}

func TestAutoConfirmAll_RequiresClinic(t *testing.T) {
	e := newEnv(t)
	_, err := e.monitor.AutoConfirmAll(context.Background(), appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient})
	assert.ErrorIs(t, err, appointment.ErrNotPermitted)
}
