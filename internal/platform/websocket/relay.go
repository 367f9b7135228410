package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// feedPayload is the JSON emitted by the change-feed trigger.
type feedPayload struct {
	Table  string          `json:"table"`
	Op     string          `json:"op"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record"`
}

// owners are the row columns that decide which per-user topics see a change.
type owners struct {
	PatientID   *uuid.UUID `json:"patient_id"`
	DoctorID    *uuid.UUID `json:"doctor_id"`
	RecipientID *uuid.UUID `json:"recipient_id"`
}

// Relay fans one change-feed payload out to the topics that may see it:
// appointment rows go to the shared staff topic and to both parties, and
// notification rows go to their recipient only.
func (h *Hub) Relay(payload string) error {
	var fp feedPayload
	if err := json.Unmarshal([]byte(payload), &fp); err != nil {
		return fmt.Errorf("decode change payload: %w", err)
	}

	var own owners
	if len(fp.Record) > 0 {
		if err := json.Unmarshal(fp.Record, &own); err != nil {
			return fmt.Errorf("decode change record: %w", err)
		}
	}

	event := ChangeEvent{
		Table:     fp.Table,
		Type:      fp.Op,
		RecordID:  fp.ID,
		Record:    fp.Record,
		Timestamp: time.Now().UTC(),
	}

	switch fp.Table {
	case "appointments":
		h.Broadcast(TopicAppointments, event)
		if own.PatientID != nil {
			h.Broadcast(UserTopic(TopicAppointments, *own.PatientID), event)
		}
		if own.DoctorID != nil {
			h.Broadcast(UserTopic(TopicAppointments, *own.DoctorID), event)
		}
	case "notifications":
		if own.RecipientID != nil {
			h.Broadcast(UserTopic(TopicNotifications, *own.RecipientID), event)
		}
	default:
		return fmt.Errorf("change payload for unknown table %q", fp.Table)
	}
	return nil
}
