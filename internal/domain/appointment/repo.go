package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows List and ListStalled. Zero fields do not filter.
type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    Status
	Date      string
	// DateOnOrBefore keeps appointments dated on or before this day.
	DateOnOrBefore string
	// IDPrefix matches the leading characters of the appointment id,
	// ignoring case.
	IDPrefix string
}

// Condition is the precondition of a conditional write.
type Condition struct {
	Status Status
	// MinAge, when positive, also requires created_at <= store now - MinAge.
	MinAge time.Duration
}

// Patch lists the columns a transition writes. Nil fields are left alone.
// Original slot fields only fill empty columns; they are never replaced.
type Patch struct {
	Status                Status
	Date                  *string
	Time                  *string
	OriginalDate          *string
	OriginalTime          *string
	SetConfirmedAt        bool
	CancellationReason    *string
	CancelledBy           *Role
	RescheduleRequestedBy *Party
	RescheduleReason      *string
}

// Repository is the appointment store. UpdateIfStatus is the only way a
// status changes: it applies patch in a single statement only while the
// stored row satisfies cond, and otherwise returns ErrNotFound, a
// *StaleStateError, or ErrNotEligible without modifying the row.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
	UpdateIfStatus(ctx context.Context, id uuid.UUID, cond Condition, patch Patch) (*Appointment, error)
	// ListStalled returns pending appointments created at least olderThan
	// ago by the store's clock, oldest first.
	ListStalled(ctx context.Context, olderThan time.Duration, f Filter, limit, offset int) ([]*Stalled, int, error)
}
