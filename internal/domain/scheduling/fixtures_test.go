package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// 2025-03-03 is a Monday.
const monday = "2025-03-03"

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func mustClock(t *testing.T, s string) ClockTime {
	t.Helper()
	c, err := ParseClockTime(s)
	if err != nil {
		t.Fatalf("parse clock %q: %v", s, err)
	}
	return c
}

func ptr[T any](v T) *T { return &v }

func window(t *testing.T, start, end string) TimeWindow {
	return TimeWindow{Start: mustClock(t, start), End: mustClock(t, end)}
}

// mondayRule is the canonical fixture: Mondays 09:00-12:00, hourly slots, three per day.
func mondayRule(t *testing.T, doctorID uuid.UUID) AvailabilityRule {
	r := AvailabilityRule{
		ID:                  uuid.New(),
		DoctorID:            doctorID,
		ScheduleType:        ScheduleWeeklyRecurring,
		DayOfWeek:           ptr(int(time.Monday)),
		IsAvailable:         true,
		TimeSlots:           []TimeWindow{window(t, "09:00", "12:00")},
		SlotDurationMinutes: 60,
		MaxAppointments:     3,
		Priority:            3,
		IsActive:            true,
	}
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		t.Fatalf("fixture rule invalid: %v", err)
	}
	return r
}

func blackout(t *testing.T, doctorID uuid.UUID, date string) AvailabilityRule {
	d := mustDate(t, date)
	r := AvailabilityRule{
		ID:           uuid.New(),
		DoctorID:     doctorID,
		ScheduleType: ScheduleException,
		StartDate:    &d,
		IsAvailable:  false,
		Priority:     1,
		IsActive:     true,
	}
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		t.Fatalf("fixture blackout invalid: %v", err)
	}
	return r
}

func booked(doctorID uuid.UUID, start time.Time, minutes int, status Status) Appointment {
	return Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        doctorID,
		StartTime:       start,
		DurationMinutes: minutes,
		Status:          status,
		Type:            TypeFirstVisit,
	}
}

// mondayAt returns hh:mm on the fixture Monday in UTC.
func mondayAt(t *testing.T, hhmm string) time.Time {
	return at(mustDate(t, monday), mustClock(t, hhmm), time.UTC)
}

func kindIs(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, got, err)
	}
}
