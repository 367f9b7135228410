//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/websocket"
)

// TestChangeFeed_ReachesPatientTopic follows an appointment insert from the
// trigger through LISTEN into the hub on a configured, non-default channel.
func TestChangeFeed_ReachesPatientTopic(t *testing.T) {
	reset(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const channel = "clinic_changes_it"
	feedPool, err := db.NewPool(ctx, db.PoolOptions{
		URL:               databaseURL,
		MaxConns:          4,
		ApplicationName:   "clinic-integration-feed",
		ChangeFeedChannel: channel,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer feedPool.Close()

	hub := websocket.NewHub(zerolog.Nop())
	patientID := uuid.New()
	client := &websocket.Client{
		ID:        uuid.NewString(),
		Principal: auth.Principal{UserID: patientID, Role: auth.RolePatient},
		Topics:    websocket.DefaultTopics(auth.Principal{UserID: patientID, Role: auth.RolePatient}),
		Send:      make(chan []byte, 16),
	}
	hub.Register(client)

	listener := db.NewListener(feedPool, channel, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = listener.Run(ctx, func(n db.Notification) {
			if err := hub.Relay(n.Payload); err != nil {
				t.Errorf("relay: %v", err)
			}
		})
	}()
	// The listener holds a connection; release it before feedPool closes.
	defer func() {
		cancel()
		<-done
	}()

	repo := appointment.NewRepoPG(feedPool)
	var created *appointment.Appointment

	// LISTEN starts asynchronously; keep writing until one event lands.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case msg := <-client.Send:
			var ev websocket.ChangeEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if ev.Table != "appointments" || ev.Type != "INSERT" {
				t.Fatalf("unexpected event %+v", ev)
			}
			if created == nil || ev.RecordID == "" {
				t.Fatalf("event without a record id: %+v", ev)
			}
			return
		case <-tick.C:
			a := &appointment.Appointment{
				PatientID:        patientID,
				DoctorID:         uuid.New(),
				Date:             "2030-05-01",
				Time:             "08:00",
				DurationMinutes:  15,
				ConsultationType: appointment.ModalityInPerson,
			}
			if err := repo.Create(ctx, a); err != nil {
				t.Fatalf("create: %v", err)
			}
			created = a
		case <-deadline:
			t.Fatal("no change event reached the patient topic")
		}
	}
}
