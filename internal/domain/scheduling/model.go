package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending    Status = "pendiente"
	StatusApproved   Status = "aprobada"
	StatusConfirmed  Status = "confirmada"
	StatusInProgress Status = "en_curso"
	StatusCompleted  Status = "completada"
	StatusCancelled  Status = "cancelada"
	StatusNoShow     Status = "no_asistio"
	StatusRejected   Status = "rechazada"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusApproved: true, StatusConfirmed: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true, StatusNoShow: true, StatusRejected: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

// FreedStatuses are the statuses that no longer hold a slot or count against capacity.
var FreedStatuses = []Status{StatusCancelled, StatusRejected}

func (s Status) holdsSlot() bool {
	return s != StatusCancelled && s != StatusRejected
}

type AppointmentType string

const (
	TypeFirstVisit AppointmentType = "primera_vez"
	TypeControl    AppointmentType = "control"
	TypeFollowUp   AppointmentType = "seguimiento"
	TypeUrgent     AppointmentType = "urgencia"
)

var validAppointmentTypes = map[AppointmentType]bool{
	TypeFirstVisit: true, TypeControl: true, TypeFollowUp: true, TypeUrgent: true,
}

type Appointment struct {
	ID                 uuid.UUID       `json:"id"`
	PatientID          uuid.UUID       `json:"patient_id"`
	DoctorID           uuid.UUID       `json:"doctor_id"`
	StartTime          time.Time       `json:"start_time"`
	DurationMinutes    int             `json:"duration_minutes"`
	Status             Status          `json:"status"`
	Type               AppointmentType `json:"type"`
	Reason             string          `json:"reason,omitempty"`
	PatientNotes       string          `json:"patient_notes,omitempty"`
	RejectionReason    *string         `json:"rejection_reason,omitempty"`
	CancellationReason *string         `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID      `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Role is the caller's role as carried in the auth token.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor is whoever initiates an operation.
type Actor struct {
	ID    uuid.UUID
	Roles []Role
}

func (a Actor) Has(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool { return a.Has(RoleAdmin) }

// participates reports whether the actor is the appointment's patient or doctor.
func (a Actor) participates(appt *Appointment) bool {
	return a.ID == appt.PatientID || a.ID == appt.DoctorID
}

// TimeRange is the half-open interval [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

// civilDate returns midnight UTC of t's calendar date as seen in loc.
// Calendar dates are always carried in that form so they compare with ==.
func civilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

const dateLayout = "2006-01-02"

// at returns the instant of clock time c on calendar date d in loc.
func at(d time.Time, c ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, int(c), 0, 0, loc)
}
