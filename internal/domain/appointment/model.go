package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending                       Status = "pending"
	StatusConfirmed                     Status = "confirmed"
	StatusNeedsReschedule               Status = "needs_reschedule"
	StatusPendingRescheduleConfirmation Status = "pending_reschedule_confirmation"
	StatusCancelled                     Status = "cancelled"
	StatusCompleted                     Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusNeedsReschedule,
		StatusPendingRescheduleConfirmation, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Modality is how the consultation takes place.
type Modality string

const (
	ModalityInPerson Modality = "in_person"
	ModalityVideo    Modality = "video"
	ModalityPhone    Modality = "phone"
)

func (m Modality) Valid() bool {
	return m == ModalityInPerson || m == ModalityVideo || m == ModalityPhone
}

// Party is one side of an appointment.
type Party string

const (
	PartyPatient Party = "patient"
	PartyDoctor  Party = "doctor"
)

// Other returns the counterparty.
func (p Party) Other() Party {
	if p == PartyDoctor {
		return PartyPatient
	}
	return PartyDoctor
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// Actor is whoever triggers a transition. Via names the integration behind
// a system actor.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
	Via  string    `json:"via,omitempty"`
}

// SystemActor is used by the sweep command.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

// PaymentActor confirms appointments on behalf of the payment gateway.
var PaymentActor = Actor{ID: uuid.Nil, Role: RoleSystem, Via: "payment"}

// Clinic reports whether the actor acts for the clinic rather than as a party.
func (a Actor) Clinic() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin || a.Role == RoleSystem
}

// Appointment maps to the appointments table. Dates and times are the
// clinic's local wall-clock values.
type Appointment struct {
	ID                    uuid.UUID  `json:"id"`
	PatientID             uuid.UUID  `json:"patient_id"`
	DoctorID              uuid.UUID  `json:"doctor_id"`
	Date                  string     `json:"appointment_date"`
	Time                  string     `json:"appointment_time"`
	DurationMinutes       int        `json:"duration_minutes"`
	ConsultationType      Modality   `json:"consultation_type"`
	Reason                *string    `json:"reason,omitempty"`
	Status                Status     `json:"status"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	ConfirmedAt           *time.Time `json:"confirmed_at,omitempty"`
	CancellationReason    *string    `json:"cancellation_reason,omitempty"`
	CancelledBy           *Role      `json:"cancelled_by,omitempty"`
	RescheduleRequestedBy *Party     `json:"reschedule_requested_by,omitempty"`
	RescheduleReason      *string    `json:"reschedule_reason,omitempty"`
	OriginalDate          *string    `json:"original_date,omitempty"`
	OriginalTime          *string    `json:"original_time,omitempty"`
}

// PartyOf returns which side of the appointment the actor is on.
func (a *Appointment) PartyOf(actor Actor) (Party, bool) {
	switch {
	case actor.Role == RolePatient && actor.ID == a.PatientID:
		return PartyPatient, true
	case actor.Role == RoleDoctor && actor.ID == a.DoctorID:
		return PartyDoctor, true
	}
	return "", false
}

// PartyID returns the user id of one side.
func (a *Appointment) PartyID(p Party) uuid.UUID {
	if p == PartyDoctor {
		return a.DoctorID
	}
	return a.PatientID
}

// VisibleTo reports whether the actor may read the appointment.
func (a *Appointment) VisibleTo(actor Actor) bool {
	if actor.Clinic() {
		return true
	}
	_, ok := a.PartyOf(actor)
	return ok
}

// StartsAt resolves the slot start in the clinic's time zone.
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, a.Date+" "+a.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot %s %s: %w", a.Date, a.Time, err)
	}
	return t, nil
}

// EndsAt is the slot start plus its duration.
func (a *Appointment) EndsAt(loc *time.Location) (time.Time, error) {
	start, err := a.StartsAt(loc)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(time.Duration(a.DurationMinutes) * time.Minute), nil
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	MinDurationMinutes = 5
	MaxDurationMinutes = 240
)

// BookRequest is the payload of POST /appointments.
type BookRequest struct {
	PatientID        uuid.UUID `json:"patient_id"`
	DoctorID         uuid.UUID `json:"doctor_id" validate:"required"`
	Date             string    `json:"appointment_date" validate:"required,civildate"`
	Time             string    `json:"appointment_time" validate:"required,clocktime"`
	DurationMinutes  int       `json:"duration_minutes" validate:"min=5,max=240"`
	ConsultationType Modality  `json:"consultation_type" validate:"required,oneof=in_person video phone"`
	Reason           string    `json:"reason" validate:"max=1000"`
}

// Input carries the optional arguments of a transition. Which fields are
// required depends on the operation.
type Input struct {
	Reason string `json:"reason"`
	Date   string `json:"appointment_date"`
	Time   string `json:"appointment_time"`
	// ExpectedStatus, when set, must match the stored status.
	ExpectedStatus Status `json:"expected_status"`
}

func (in Input) hasSlot() bool {
	return in.Date != "" || in.Time != ""
}

// Event names what happened to an appointment for a notification.
type Event string

const (
	EventBooked              Event = "booked"
	EventConfirmed           Event = "confirmed"
	EventStaffConfirmed      Event = "staff_confirmed"
	EventPaymentConfirmed    Event = "payment_confirmed"
	EventAutoConfirmed       Event = "auto_confirmed"
	EventRescheduleRequested Event = "reschedule_requested"
	EventRescheduleProposed  Event = "reschedule_proposed"
	EventRescheduleConfirmed Event = "reschedule_confirmed"
	EventRescheduleRejected  Event = "reschedule_rejected"
	EventCancelled           Event = "cancelled"
	EventDoctorReminder      Event = "doctor_reminder"
	EventPatientContact      Event = "patient_contact"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Notice asks the notifier to tell one user about an appointment event.
type Notice struct {
	RecipientID uuid.UUID     `json:"recipient_id"`
	Event       Event         `json:"event"`
	Priority    Priority      `json:"priority"`
	Appointment Appointment   `json:"-"`
	ActorRole   Role          `json:"-"`
	PendingFor  time.Duration `json:"-"`
}

// Result is returned by every successful transition. Warnings list
// notifications that could not be delivered; the status change stands.
type Result struct {
	Appointment *Appointment `json:"appointment"`
	Notified    []Notice     `json:"notified"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// Stalled is a pending appointment past the auto-confirm threshold.
type Stalled struct {
	Appointment
	PendingFor time.Duration `json:"-"`
	// PendingMinutes mirrors PendingFor for JSON clients.
	PendingMinutes int `json:"pending_minutes"`
}

func NewStalled(a *Appointment, pendingFor time.Duration) *Stalled {
	return &Stalled{Appointment: *a, PendingFor: pendingFor, PendingMinutes: int(pendingFor / time.Minute)}
}
