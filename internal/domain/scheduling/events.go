package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/events"
)

const aggregateAppointment = "appointment"

const (
	EventAppointmentRequested = "appointment.requested"
	EventAppointmentApproved  = "appointment.approved"
	EventAppointmentRejected  = "appointment.rejected"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentStarted   = "appointment.started"
	EventAppointmentCompleted = "appointment.completed"
	EventAppointmentNoShow    = "appointment.no_show"
)

var eventTypes = map[Action]string{
	ActionRequest:  EventAppointmentRequested,
	ActionApprove:  EventAppointmentApproved,
	ActionReject:   EventAppointmentRejected,
	ActionCancel:   EventAppointmentCancelled,
	ActionConfirm:  EventAppointmentConfirmed,
	ActionStart:    EventAppointmentStarted,
	ActionComplete: EventAppointmentCompleted,
	ActionNoShow:   EventAppointmentNoShow,
}

// EventRecorder persists an event in the caller's transaction.
type EventRecorder interface {
	Record(ctx context.Context, evt events.Event) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, events.Event) error { return nil }

// AppointmentEvent is the JSON payload of every appointment.* event.
type AppointmentEvent struct {
	Appointment *Appointment `json:"appointment"`
	Action      Action       `json:"action"`
	ActorID     uuid.UUID    `json:"actor_id"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

func newAppointmentEvent(appt *Appointment, action Action, actor Actor, at time.Time) (events.Event, error) {
	payload, err := json.Marshal(AppointmentEvent{
		Appointment: appt,
		Action:      action,
		ActorID:     actor.ID,
		OccurredAt:  at.UTC(),
	})
	if err != nil {
		return events.Event{}, fmt.Errorf("encode %s event: %w", action, err)
	}
	return events.Event{
		AggregateType: aggregateAppointment,
		AggregateID:   appt.ID.String(),
		EventType:     eventTypes[action],
		Payload:       payload,
	}, nil
}
