package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Action is an operation on an appointment's lifecycle.
type Action string

const (
	ActionRequest  Action = "request"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionConfirm  Action = "confirm"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionNoShow   Action = "no_show"
)

// transitions holds every allowed edge. Anything absent is an invalid transition.
var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
		ActionCancel:  StatusCancelled,
	},
	StatusApproved: {
		ActionConfirm: StatusConfirmed,
		ActionCancel:  StatusCancelled,
	},
	StatusConfirmed: {
		ActionStart:  StatusInProgress,
		ActionCancel: StatusCancelled,
		ActionNoShow: StatusNoShow,
	},
	StatusInProgress: {
		ActionComplete: StatusCompleted,
	},
}

// initiators lists which roles may start each action. Complete and no-show are
// doctor actions, but CanInitiate lets admins run every action, those two
// included, so front-desk staff can close out a visit the doctor left open.
var initiators = map[Action][]Role{
	ActionRequest:  {RolePatient},
	ActionApprove:  {RoleDoctor},
	ActionReject:   {RoleDoctor},
	ActionStart:    {RoleDoctor},
	ActionComplete: {RoleDoctor},
	ActionNoShow:   {RoleDoctor},
	ActionCancel:   {RolePatient, RoleDoctor},
	ActionConfirm:  {RolePatient, RoleDoctor},
}

// Terminal reports whether no action can leave status s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Next returns the status reached from current by action.
func Next(current Status, action Action) (Status, error) {
	if to, ok := transitions[current][action]; ok {
		return to, nil
	}
	return "", &Error{
		Kind:   KindInvalidTransition,
		Detail: "cannot " + string(action) + " an appointment in status " + string(current),
		From:   current,
		Action: action,
	}
}

// CanInitiate reports whether actor holds a role allowed to perform action.
func CanInitiate(actor Actor, action Action) bool {
	if actor.IsAdmin() {
		return true
	}
	for _, role := range initiators[action] {
		if actor.Has(role) {
			return true
		}
	}
	return false
}

// NewRequest builds a pending appointment. Validation of the time is the caller's job.
func NewRequest(patientID, doctorID uuid.UUID, start time.Time, durationMinutes int, typ AppointmentType, reason, notes string, now time.Time) *Appointment {
	return &Appointment{
		PatientID:       patientID,
		DoctorID:        doctorID,
		StartTime:       start,
		DurationMinutes: durationMinutes,
		Status:          StatusPending,
		Type:            typ,
		Reason:          reason,
		PatientNotes:    notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Transition describes one lifecycle step applied to an appointment.
type Transition struct {
	Action Action
	Actor  Actor
	Reason string
	At     time.Time
}

// Apply moves appt along t.Action. On error appt is left untouched.
func Apply(appt *Appointment, t Transition) error {
	if !CanInitiate(t.Actor, t.Action) {
		return newError(KindForbidden, "%s requires role %v", t.Action, initiators[t.Action])
	}
	to, err := Next(appt.Status, t.Action)
	if err != nil {
		return err
	}

	appt.Status = to
	appt.UpdatedAt = t.At
	switch t.Action {
	case ActionReject:
		if t.Reason != "" {
			reason := t.Reason
			appt.RejectionReason = &reason
		}
	case ActionCancel:
		by, when := t.Actor.ID, t.At
		appt.CancelledBy = &by
		appt.CancelledAt = &when
		if t.Reason != "" {
			reason := t.Reason
			appt.CancellationReason = &reason
		}
	}
	return nil
}
