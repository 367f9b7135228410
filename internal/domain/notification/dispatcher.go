package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/platform/notification"
)

// Observer counts dispatch outcomes.
type Observer interface {
	ObserveNotification(typ, priority, result string)
}

type nopObserver struct{}

func (nopObserver) ObserveNotification(string, string, string) {}

// Dispatcher renders and stores in-app notifications. A failed insert is
// logged, counted and returned wrapped in ErrDeliveryFailed; it is never
// retried.
type Dispatcher struct {
	repo      Repository
	templates *notification.TemplateEngine
	observer  Observer
	logger    zerolog.Logger
}

func NewDispatcher(repo Repository, templates *notification.TemplateEngine, observer Observer, logger zerolog.Logger) *Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{
		repo:      repo,
		templates: templates,
		observer:  observer,
		logger:    logger.With().Str("component", "notification-dispatcher").Logger(),
	}
}

// Dispatch validates and stores one notification.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) error {
	if err := n.Validate(); err != nil {
		d.observer.ObserveNotification(string(TypeOf(n.Payload)), string(n.Priority), "invalid")
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if err := d.repo.Insert(ctx, n); err != nil {
		d.logger.Error().Err(err).
			Str("recipient_id", n.RecipientID.String()).
			Str("type", string(n.Type)).
			Msg("failed to store notification")
		d.observer.ObserveNotification(string(n.Type), string(n.Priority), "failed")
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	d.observer.ObserveNotification(string(n.Type), string(n.Priority), "delivered")
	d.logger.Debug().
		Str("notification_id", n.ID.String()).
		Str("recipient_id", n.RecipientID.String()).
		Str("title", n.Title).
		Msg("notification stored")
	return nil
}

var eventTemplates = map[appointment.Event]string{
	appointment.EventBooked:              notification.TplAppointmentBooked,
	appointment.EventConfirmed:           notification.TplAppointmentConfirmed,
	appointment.EventStaffConfirmed:      notification.TplStaffConfirmed,
	appointment.EventPaymentConfirmed:    notification.TplPaymentConfirmed,
	appointment.EventAutoConfirmed:       notification.TplAutoConfirmed,
	appointment.EventRescheduleRequested: notification.TplRescheduleRequested,
	appointment.EventRescheduleProposed:  notification.TplRescheduleProposed,
	appointment.EventRescheduleConfirmed: notification.TplRescheduleConfirmed,
	appointment.EventRescheduleRejected:  notification.TplRescheduleRejected,
	appointment.EventCancelled:           notification.TplAppointmentCancelled,
	appointment.EventDoctorReminder:      notification.TplDoctorReminder,
	appointment.EventPatientContact:      notification.TplPatientContact,
}

// Notify implements appointment.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, notice appointment.Notice) error {
	n, err := d.FromNotice(notice)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return d.Dispatch(ctx, n)
}

// FromNotice renders the template for an appointment event.
func (d *Dispatcher) FromNotice(notice appointment.Notice) (*Notification, error) {
	tpl, ok := eventTemplates[notice.Event]
	if !ok {
		return nil, fmt.Errorf("no template for event %q", notice.Event)
	}
	a := notice.Appointment
	title, body, err := d.templates.Render(tpl, templateData(notice))
	if err != nil {
		return nil, err
	}

	payload := AppointmentPayload{
		AppointmentID: a.ID,
		Event:         string(notice.Event),
		Status:        string(a.Status),
	}
	if a.RescheduleRequestedBy != nil {
		payload.RescheduleRequestedBy = string(*a.RescheduleRequestedBy)
	}
	if a.RescheduleReason != nil {
		payload.RescheduleReason = *a.RescheduleReason
	}
	if a.CancellationReason != nil {
		payload.CancellationReason = *a.CancellationReason
	}
	switch a.Status {
	case appointment.StatusNeedsReschedule, appointment.StatusPendingRescheduleConfirmation:
		payload.ProposedDate, payload.ProposedTime = a.Date, a.Time
	}

	return &Notification{
		RecipientID: notice.RecipientID,
		Title:       title,
		Message:     body,
		Priority:    Priority(notice.Priority),
		Payload:     payload,
	}, nil
}

func templateData(notice appointment.Notice) map[string]string {
	a := notice.Appointment
	data := map[string]string{
		"consultation_type": strings.ReplaceAll(string(a.ConsultationType), "_", "-"),
		"date":              a.Date,
		"time":              a.Time,
		"original_date":     a.Date,
		"original_time":     a.Time,
		"pending_for":       humanDuration(notice.PendingFor),
	}
	if a.OriginalDate != nil && a.OriginalTime != nil {
		data["original_date"], data["original_time"] = *a.OriginalDate, *a.OriginalTime
	}
	if a.RescheduleRequestedBy != nil {
		data["requested_by"] = string(*a.RescheduleRequestedBy)
	}
	if a.RescheduleReason != nil {
		data["reason"] = *a.RescheduleReason
	}
	if notice.Event == appointment.EventCancelled {
		if a.CancellationReason != nil {
			data["reason"] = *a.CancellationReason
		}
		data["cancelled_by"] = string(notice.ActorRole)
		if a.CancelledBy != nil {
			data["cancelled_by"] = string(*a.CancelledBy)
		}
	}
	return data
}

func humanDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h, m := int(d.Hours()), int(d.Minutes())%60
	switch {
	case h == 0:
		return fmt.Sprintf("%d min", m)
	case m == 0:
		return fmt.Sprintf("%d h", h)
	default:
		return fmt.Sprintf("%d h %d min", h, m)
	}
}

// SendSystem stores a system notice for one user.
func (d *Dispatcher) SendSystem(ctx context.Context, recipientID uuid.UUID, code, title, detail string, priority Priority) error {
	t, body, err := d.templates.Render(notification.TplSystemNotice, map[string]string{"title": title, "detail": detail})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return d.Dispatch(ctx, &Notification{
		RecipientID: recipientID,
		Title:       t,
		Message:     body,
		Priority:    priority,
		Payload:     SystemPayload{Code: code, Detail: detail},
	})
}
