package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmendozar/citadesk/libs/db"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
)

// Notifier writes appointment lifecycle events to the outbox; the publisher
// loop moves them to Kafka. Callers treat delivery as best effort.
type Notifier struct {
	pool *db.Pool
	repo *Repository
}

func NewNotifier(pool *db.Pool, repo *Repository) *Notifier {
	return &Notifier{pool: pool, repo: repo}
}

type appointmentEvent struct {
	AppointmentID string    `json:"appointment_id"`
	ClientID      string    `json:"client_id"`
	OfficeID      string    `json:"office_id"`
	ServiceID     string    `json:"service_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	State         string    `json:"state"`
	CancelBefore  time.Time `json:"cancel_before"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (n *Notifier) AppointmentCreated(ctx context.Context, appt model.Appointment) error {
	return n.insert(ctx, TopicAppointmentCreated, appt)
}

func (n *Notifier) AppointmentCancelled(ctx context.Context, appt model.Appointment) error {
	return n.insert(ctx, TopicAppointmentCancelled, appt)
}

func (n *Notifier) insert(ctx context.Context, eventType string, appt model.Appointment) error {
	payload, err := json.Marshal(appointmentEvent{
		AppointmentID: appt.ID,
		ClientID:      appt.ClientID,
		OfficeID:      appt.OfficeID,
		ServiceID:     appt.ServiceID,
		StartTime:     appt.Start,
		EndTime:       appt.End,
		State:         string(appt.State),
		CancelBefore:  appt.CancelBefore,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	tx, err := n.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := n.repo.Insert(ctx, tx, Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
