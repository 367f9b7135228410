// Package notification renders the in-app messages sent by the appointment
// lifecycle from named templates.
package notification

import (
	"fmt"
	"sort"
	"strings"
)

// NotificationType discriminates what a message is about.
type NotificationType string

const (
	TypeAppointment NotificationType = "appointment"
	TypeSystem      NotificationType = "system"
)

// Priority mirrors the priority stored on a notification record.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Template IDs used by the lifecycle workflow and the oversight monitor.
const (
	TplAppointmentBooked    = "appointment-booked"
	TplAppointmentConfirmed = "appointment-confirmed"
	TplStaffConfirmed       = "staff-confirmed"
	TplPaymentConfirmed     = "payment-confirmed"
	TplAutoConfirmed        = "auto-confirmed"
	TplRescheduleRequested  = "reschedule-requested"
	TplRescheduleProposed   = "reschedule-proposed"
	TplRescheduleConfirmed  = "reschedule-confirmed"
	TplRescheduleRejected   = "reschedule-rejected"
	TplAppointmentCancelled = "appointment-cancelled"
	TplDoctorReminder       = "doctor-reminder"
	TplPatientContact       = "patient-contact"
	TplSystemNotice         = "system-notice"
)

// Template is a title and body with {{key}} placeholders.
type Template struct {
	ID    string
	Title string
	Body  string
}

// TemplateEngine renders the built-in templates. It is read-only after
// construction and safe for concurrent use.
type TemplateEngine struct {
	templates map[string]Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:    TplAppointmentBooked,
			Title: "New Appointment Request",
			Body:  "A new {{consultation_type}} appointment was booked for {{date}} at {{time}} and is awaiting your confirmation.",
		},
		{
			ID:    TplAppointmentConfirmed,
			Title: "Appointment Confirmed",
			Body:  "Your appointment on {{date}} at {{time}} has been confirmed.",
		},
		{
			ID:    TplStaffConfirmed,
			Title: "Appointment Confirmed by Clinic Staff",
			Body:  "Clinic staff confirmed the appointment on {{date}} at {{time}} on your behalf.",
		},
		{
			ID:    TplPaymentConfirmed,
			Title: "Appointment Confirmed by Payment",
			Body:  "The patient paid for the appointment on {{date}} at {{time}}, which confirmed it.",
		},
		{
			ID:    TplAutoConfirmed,
			Title: "Appointment Confirmed Automatically",
			Body:  "The appointment on {{date}} at {{time}} was confirmed by the clinic after waiting longer than the confirmation window.",
		},
		{
			ID:    TplRescheduleRequested,
			Title: "Reschedule Requested",
			Body:  "The {{requested_by}} asked to move the appointment on {{original_date}} at {{original_time}} to {{date}} at {{time}}. Reason: {{reason}}",
		},
		{
			ID:    TplRescheduleProposed,
			Title: "New Time Proposed",
			Body:  "A new time was proposed for your appointment: {{date}} at {{time}}. Please confirm or reject it.",
		},
		{
			ID:    TplRescheduleConfirmed,
			Title: "Reschedule Confirmed",
			Body:  "The appointment is now confirmed for {{date}} at {{time}}.",
		},
		{
			ID:    TplRescheduleRejected,
			Title: "Proposed Time Rejected",
			Body:  "The proposed time of {{date}} at {{time}} was rejected. Reason: {{reason}}",
		},
		{
			ID:    TplAppointmentCancelled,
			Title: "Appointment Cancelled",
			Body:  "The appointment on {{date}} at {{time}} was cancelled by the {{cancelled_by}}. Reason: {{reason}}",
		},
		{
			ID:    TplDoctorReminder,
			Title: "Appointment Awaiting Your Confirmation",
			Body:  "The appointment on {{date}} at {{time}} has been waiting for confirmation for {{pending_for}}. Please confirm or request a reschedule.",
		},
		{
			ID:    TplPatientContact,
			Title: "Update on Your Appointment Request",
			Body:  "The clinic is following up on your appointment request for {{date}} at {{time}}. A staff member will contact you shortly.",
		},
		{
			ID:    TplSystemNotice,
			Title: "{{title}}",
			Body:  "{{detail}}",
		},
	}
	for _, t := range builtIn {
		e.templates[t.ID] = t
	}
}

// Lookup returns the template with the given ID.
func (e *TemplateEngine) Lookup(templateID string) (Template, bool) {
	t, ok := e.templates[templateID]
	return t, ok
}

// Render fills a template's {{key}} placeholders from data in a single pass,
// so placeholder text inside a value is never expanded. Placeholders with no
// value are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, body string, err error) {
	t, ok := e.Lookup(templateID)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", data[k])
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Title), r.Replace(t.Body), nil
}
