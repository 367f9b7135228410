package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/platform/notification"
)

func newTestDispatcher() (*Dispatcher, *mockRepo, *countingObserver) {
	repo := newMockRepo()
	obs := &countingObserver{}
	return NewDispatcher(repo, notification.NewTemplateEngine(), obs, zerolog.Nop()), repo, obs
}

func sampleAppointment() appointment.Appointment {
	return appointment.Appointment{
		ID:               uuid.New(),
		PatientID:        uuid.New(),
		DoctorID:         uuid.New(),
		Date:             "2025-03-02",
		Time:             "11:00",
		DurationMinutes:  30,
		ConsultationType: appointment.ModalityInPerson,
		Status:           appointment.StatusConfirmed,
	}
}

func TestDispatcher_NotifyConfirmed(t *testing.T) {
	d, repo, obs := newTestDispatcher()
	a := sampleAppointment()

	err := d.Notify(context.Background(), appointment.Notice{
		RecipientID: a.PatientID,
		Event:       appointment.EventConfirmed,
		Priority:    appointment.PriorityHigh,
		Appointment: a,
		ActorRole:   appointment.RoleDoctor,
	})
	if err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	items, total, _ := repo.ListByRecipient(context.Background(), a.PatientID, false, 10, 0)
	if total != 1 {
		t.Fatalf("expected 1 notification, got %d", total)
	}
	n := items[0]
	if n.Type != notification.TypeAppointment {
		t.Errorf("expected appointment type, got %s", n.Type)
	}
	if n.Priority != notification.PriorityHigh {
		t.Errorf("expected high priority, got %s", n.Priority)
	}
	if n.Title != "Appointment Confirmed" {
		t.Errorf("unexpected title %q", n.Title)
	}
	if !strings.Contains(n.Message, "2025-03-02 at 11:00") {
		t.Errorf("message missing slot: %q", n.Message)
	}
	if n.AppointmentID == nil || *n.AppointmentID != a.ID {
		t.Error("expected appointment_id to be set")
	}
	if obs.results["delivered"] != 1 {
		t.Errorf("expected one delivered observation, got %v", obs.results)
	}
}

func TestDispatcher_RescheduleRequestCarriesReason(t *testing.T) {
	d, _, _ := newTestDispatcher()
	a := sampleAppointment()
	a.Status = appointment.StatusNeedsReschedule
	by := appointment.PartyDoctor
	reason := "conflict"
	od, ot := "2025-03-01", "10:00"
	a.RescheduleRequestedBy, a.RescheduleReason = &by, &reason
	a.OriginalDate, a.OriginalTime = &od, &ot

	n, err := d.FromNotice(appointment.Notice{
		RecipientID: a.PatientID,
		Event:       appointment.EventRescheduleRequested,
		Priority:    appointment.PriorityHigh,
		Appointment: a,
	})
	if err != nil {
		t.Fatalf("FromNotice() error: %v", err)
	}
	want := "The doctor asked to move the appointment on 2025-03-01 at 10:00 to 2025-03-02 at 11:00. Reason: conflict"
	if n.Message != want {
		t.Errorf("message = %q, want %q", n.Message, want)
	}
	p := n.Payload.(AppointmentPayload)
	if p.RescheduleRequestedBy != "doctor" || p.RescheduleReason != "conflict" {
		t.Errorf("unexpected payload %+v", p)
	}
	if p.ProposedDate != "2025-03-02" || p.ProposedTime != "11:00" {
		t.Errorf("expected proposed slot in payload, got %+v", p)
	}
}

func TestDispatcher_ReasonIsNotExpanded(t *testing.T) {
	d, _, _ := newTestDispatcher()
	a := sampleAppointment()
	a.Status = appointment.StatusNeedsReschedule
	by := appointment.PartyPatient
	reason := "clash with {{time}} slot on {{date}}"
	a.RescheduleRequestedBy, a.RescheduleReason = &by, &reason

	want := "The patient asked to move the appointment on 2025-03-02 at 11:00 to 2025-03-02 at 11:00. Reason: clash with {{time}} slot on {{date}}"
	for i := 0; i < 200; i++ {
		n, err := d.FromNotice(appointment.Notice{
			RecipientID: a.DoctorID,
			Event:       appointment.EventRescheduleRequested,
			Priority:    appointment.PriorityHigh,
			Appointment: a,
		})
		if err != nil {
			t.Fatalf("FromNotice() error: %v", err)
		}
		if n.Message != want {
			t.Fatalf("render %d: message = %q, want %q", i, n.Message, want)
		}
	}
}

func TestDispatcher_EveryEventHasTemplate(t *testing.T) {
	d, _, _ := newTestDispatcher()
	events := []appointment.Event{
		appointment.EventBooked,
		appointment.EventConfirmed,
		appointment.EventStaffConfirmed,
		appointment.EventPaymentConfirmed,
		appointment.EventAutoConfirmed,
		appointment.EventRescheduleRequested,
		appointment.EventRescheduleProposed,
		appointment.EventRescheduleConfirmed,
		appointment.EventRescheduleRejected,
		appointment.EventCancelled,
		appointment.EventDoctorReminder,
		appointment.EventPatientContact,
	}
	for _, ev := range events {
		n, err := d.FromNotice(appointment.Notice{
			RecipientID: uuid.New(),
			Event:       ev,
			Priority:    appointment.PriorityMedium,
			Appointment: sampleAppointment(),
		})
		if err != nil {
			t.Errorf("%s: %v", ev, err)
			continue
		}
		if strings.Contains(n.Title, "{{") {
			t.Errorf("%s: unrendered title %q", ev, n.Title)
		}
	}
}

func TestDispatcher_PaymentConfirmedMessage(t *testing.T) {
	d, _, _ := newTestDispatcher()
	a := sampleAppointment()
	n, err := d.FromNotice(appointment.Notice{
		RecipientID: a.DoctorID,
		Event:       appointment.EventPaymentConfirmed,
		Priority:    appointment.PriorityMedium,
		Appointment: a,
		ActorRole:   appointment.RoleSystem,
	})
	if err != nil {
		t.Fatalf("FromNotice() error: %v", err)
	}
	if strings.Contains(n.Message, "staff") {
		t.Errorf("payment confirmation must not credit staff: %q", n.Message)
	}
	if !strings.Contains(n.Message, "paid") {
		t.Errorf("expected payment wording, got %q", n.Message)
	}
}

func TestDispatcher_CancelledNamesCanceller(t *testing.T) {
	d, _, _ := newTestDispatcher()
	a := sampleAppointment()
	a.Status = appointment.StatusCancelled
	reason := "feeling better"
	role := appointment.RolePatient
	a.CancellationReason, a.CancelledBy = &reason, &role

	n, err := d.FromNotice(appointment.Notice{
		RecipientID: a.DoctorID,
		Event:       appointment.EventCancelled,
		Priority:    appointment.PriorityHigh,
		Appointment: a,
		ActorRole:   appointment.RolePatient,
	})
	if err != nil {
		t.Fatalf("FromNotice() error: %v", err)
	}
	if !strings.Contains(n.Message, "cancelled by the patient. Reason: feeling better") {
		t.Errorf("unexpected message %q", n.Message)
	}
}

func TestDispatcher_DoctorReminderPendingFor(t *testing.T) {
	d, _, _ := newTestDispatcher()
	a := sampleAppointment()
	a.Status = appointment.StatusPending

	n, err := d.FromNotice(appointment.Notice{
		RecipientID: a.DoctorID,
		Event:       appointment.EventDoctorReminder,
		Priority:    appointment.PriorityHigh,
		Appointment: a,
		PendingFor:  2*time.Hour + 5*time.Minute,
	})
	if err != nil {
		t.Fatalf("FromNotice() error: %v", err)
	}
	if !strings.Contains(n.Message, "for 2 h 5 min") {
		t.Errorf("unexpected message %q", n.Message)
	}
}

func TestDispatcher_StoreFailure(t *testing.T) {
	d, repo, obs := newTestDispatcher()
	repo.err = errConnRefused
	a := sampleAppointment()

	err := d.Notify(context.Background(), appointment.Notice{
		RecipientID: a.PatientID,
		Event:       appointment.EventConfirmed,
		Priority:    appointment.PriorityHigh,
		Appointment: a,
	})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if obs.results["failed"] != 1 {
		t.Errorf("expected one failed observation, got %v", obs.results)
	}
}

func TestDispatcher_UnknownEvent(t *testing.T) {
	d, _, _ := newTestDispatcher()
	err := d.Notify(context.Background(), appointment.Notice{
		RecipientID: uuid.New(),
		Event:       "teleported",
		Priority:    appointment.PriorityLow,
		Appointment: sampleAppointment(),
	})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestDispatcher_InvalidNotification(t *testing.T) {
	d, repo, obs := newTestDispatcher()
	err := d.Dispatch(context.Background(), &Notification{RecipientID: uuid.New(), Title: "x", Message: "y", Priority: "low"})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if len(repo.items) != 0 {
		t.Error("invalid notification must not be stored")
	}
	if obs.results["invalid"] != 1 {
		t.Errorf("expected one invalid observation, got %v", obs.results)
	}
}

func TestDispatcher_SendSystem(t *testing.T) {
	d, repo, _ := newTestDispatcher()
	user := uuid.New()

	err := d.SendSystem(context.Background(), user, "payment_failed", "Payment Failed", "Your card was declined.", notification.PriorityMedium)
	if err != nil {
		t.Fatalf("SendSystem() error: %v", err)
	}
	items, _, _ := repo.ListByRecipient(context.Background(), user, true, 10, 0)
	if len(items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(items))
	}
	if items[0].Type != notification.TypeSystem || items[0].Title != "Payment Failed" {
		t.Errorf("unexpected notification %+v", items[0])
	}
	if items[0].AppointmentID != nil {
		t.Error("system notice should not reference an appointment")
	}
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Minute, "45 min"},
		{3 * time.Hour, "3 h"},
		{26*time.Hour + 30*time.Minute, "26 h 30 min"},
		{90 * time.Second, "2 min"},
	}
	for _, tt := range tests {
		if got := humanDuration(tt.d); got != tt.want {
			t.Errorf("humanDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
