package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/notification"
)

var (
	ErrNotFound       = errors.New("notification not found")
	ErrDeliveryFailed = errors.New("notification delivery failed")
	ErrInvalid        = errors.New("invalid notification")
)

type (
	Type     = notification.NotificationType
	Priority = notification.Priority
)

// Notification maps to the notifications table. Only the recipient may read
// or mark it.
type Notification struct {
	ID            uuid.UUID  `json:"id"`
	RecipientID   uuid.UUID  `json:"recipient_id"`
	Type          Type       `json:"type"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	Priority      Priority   `json:"priority"`
	IsRead        bool       `json:"is_read"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Payload       Payload    `json:"payload"`
	CreatedAt     time.Time  `json:"created_at"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
}

// Payload is the typed detail of a notification. The set of variants is
// closed; each one fixes the notification type.
type Payload interface {
	payloadType() Type
}

// AppointmentPayload describes a lifecycle event on one appointment.
type AppointmentPayload struct {
	AppointmentID         uuid.UUID `json:"appointment_id"`
	Event                 string    `json:"event"`
	Status                string    `json:"status"`
	RescheduleRequestedBy string    `json:"reschedule_requested_by,omitempty"`
	RescheduleReason      string    `json:"reschedule_reason,omitempty"`
	ProposedDate          string    `json:"proposed_date,omitempty"`
	ProposedTime          string    `json:"proposed_time,omitempty"`
	CancellationReason    string    `json:"cancellation_reason,omitempty"`
}

func (AppointmentPayload) payloadType() Type { return notification.TypeAppointment }

// SystemPayload is a clinic-wide or account message not tied to a slot.
type SystemPayload struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func (SystemPayload) payloadType() Type { return notification.TypeSystem }

// TypeOf returns the notification type a payload implies.
func TypeOf(p Payload) Type {
	if p == nil {
		return ""
	}
	return p.payloadType()
}

func encodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

func decodePayload(t Type, raw []byte) (Payload, error) {
	switch t {
	case notification.TypeAppointment:
		var p AppointmentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode appointment payload: %w", err)
		}
		return p, nil
	case notification.TypeSystem:
		var p SystemPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode system payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown notification type %q", t)
	}
}

func validPriority(p Priority) bool {
	return p == notification.PriorityLow || p == notification.PriorityMedium || p == notification.PriorityHigh
}

// Validate checks a notification before it is stored and derives its type.
func (n *Notification) Validate() error {
	switch {
	case n.RecipientID == uuid.Nil:
		return fmt.Errorf("%w: recipient_id is required", ErrInvalid)
	case n.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalid)
	case n.Message == "":
		return fmt.Errorf("%w: message is required", ErrInvalid)
	case !validPriority(n.Priority):
		return fmt.Errorf("%w: unknown priority %q", ErrInvalid, n.Priority)
	case n.Payload == nil:
		return fmt.Errorf("%w: payload is required", ErrInvalid)
	}
	n.Type = TypeOf(n.Payload)
	if ap, ok := n.Payload.(AppointmentPayload); ok {
		id := ap.AppointmentID
		n.AppointmentID = &id
	}
	return nil
}
