package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	PatientID       string          `json:"patient_id" validate:"omitempty,uuid"`
	DoctorID        string          `json:"doctor_id" validate:"required,uuid"`
	StartTime       time.Time       `json:"start_time" validate:"required"`
	DurationMinutes int             `json:"duration_minutes" validate:"gte=0,lte=1440"`
	Type            AppointmentType `json:"type" validate:"omitempty,oneof=primera_vez control seguimiento urgencia"`
	Reason          string          `json:"reason" validate:"max=500"`
	Notes           string          `json:"patient_notes" validate:"max=2000"`
}

func (r CreateAppointmentRequest) toInput() RequestInput {
	in := RequestInput{
		Start:           r.StartTime,
		DurationMinutes: r.DurationMinutes,
		Type:            r.Type,
		Reason:          r.Reason,
		Notes:           r.Notes,
	}
	// Both ids have passed the uuid tag by the time this runs.
	in.DoctorID, _ = uuid.Parse(r.DoctorID)
	if r.PatientID != "" {
		in.PatientID, _ = uuid.Parse(r.PatientID)
	}
	return in
}

type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type TimeSlotRequest struct {
	Start string `json:"start_time" validate:"required,clock"`
	End   string `json:"end_time" validate:"required,clock"`
	Label string `json:"label" validate:"max=100"`
}

// RuleRequest is the ingestion shape of an availability rule. Pointer fields
// distinguish "absent" from false or zero.
type RuleRequest struct {
	ScheduleType        ScheduleType      `json:"schedule_type" validate:"required,oneof=specific_date weekly_recurring monthly_recurring exception"`
	StartDate           string            `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate             string            `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Recurrence          RecurrencePattern `json:"recurrence_pattern" validate:"omitempty,oneof=none daily weekly monthly yearly"`
	DayOfWeek           *int              `json:"day_of_week" validate:"omitempty,gte=0,lte=6"`
	DayOfMonth          *int              `json:"day_of_month" validate:"omitempty,gte=1,lte=31"`
	IsAvailable         *bool             `json:"is_available"`
	TimeSlots           []TimeSlotRequest `json:"time_slots" validate:"dive"`
	SlotDurationMinutes int               `json:"slot_duration_minutes" validate:"gte=0,lte=1440"`
	BufferMinutes       int               `json:"buffer_minutes" validate:"gte=0,lte=1440"`
	MaxAppointments     int               `json:"max_appointments" validate:"gte=0"`
	Priority            int               `json:"priority" validate:"gte=0,lte=5"`
	IsActive            *bool             `json:"is_active"`
}

// ToRule converts the request. Exceptions default to unavailable, everything else to available.
func (r RuleRequest) ToRule(doctorID uuid.UUID) (*AvailabilityRule, error) {
	rule := &AvailabilityRule{
		DoctorID:            doctorID,
		ScheduleType:        r.ScheduleType,
		Recurrence:          r.Recurrence,
		DayOfWeek:           r.DayOfWeek,
		DayOfMonth:          r.DayOfMonth,
		IsAvailable:         r.ScheduleType != ScheduleException,
		SlotDurationMinutes: r.SlotDurationMinutes,
		BufferMinutes:       r.BufferMinutes,
		MaxAppointments:     r.MaxAppointments,
		Priority:            r.Priority,
		IsActive:            true,
		TimeSlots:           make([]TimeWindow, 0, len(r.TimeSlots)),
	}
	if r.IsAvailable != nil {
		rule.IsAvailable = *r.IsAvailable
	}
	if r.IsActive != nil {
		rule.IsActive = *r.IsActive
	}

	var err error
	if rule.StartDate, err = optionalDate("start_date", r.StartDate); err != nil {
		return nil, err
	}
	if rule.EndDate, err = optionalDate("end_date", r.EndDate); err != nil {
		return nil, err
	}
	for i, ts := range r.TimeSlots {
		start, err := ParseClockTime(ts.Start)
		if err != nil {
			return nil, invalidInput("time_slots[%d].start_time: %v", i, err)
		}
		end, err := ParseClockTime(ts.End)
		if err != nil {
			return nil, invalidInput("time_slots[%d].end_time: %v", i, err)
		}
		rule.TimeSlots = append(rule.TimeSlots, TimeWindow{Start: start, End: end, Label: ts.Label})
	}
	return rule, nil
}

func optionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := ParseDate(s)
	if err != nil {
		return nil, invalidInput("%s: %v", field, err)
	}
	return &d, nil
}

// SlotsResponse is returned by the slot listing endpoint.
type SlotsResponse struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Slots     []Slot    `json:"slots"`
	Conflicts []string  `json:"conflicts,omitempty"`
}

// ErrorBody is the JSON body of every scheduling error response.
type ErrorBody struct {
	Error                    string     `json:"error"`
	Message                  string     `json:"message"`
	ConflictingAppointmentID *uuid.UUID `json:"conflicting_appointment_id,omitempty"`
}
