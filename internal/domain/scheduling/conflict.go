package scheduling

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the state a booking is validated against.
type Snapshot struct {
	Rules        []AvailabilityRule
	Appointments []Appointment
	Now          time.Time
	Location     *time.Location
}

// Candidate is a proposed booking. ExcludeID skips the appointment being re-validated.
type Candidate struct {
	DoctorID        uuid.UUID
	Start           time.Time
	DurationMinutes int
	ExcludeID       uuid.UUID
}

func (c Candidate) end() time.Time {
	return c.Start.Add(time.Duration(c.DurationMinutes) * time.Minute)
}

// Validate checks a candidate in order: past, overlap, availability, capacity.
// It returns nil when the booking may proceed, otherwise a *Error.
func Validate(s Snapshot, c Candidate) error {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	if c.DurationMinutes <= 0 {
		return invalidInput("duration_minutes must be positive")
	}
	if c.DoctorID == uuid.Nil {
		return invalidInput("doctor_id is required")
	}

	if !c.Start.After(s.Now) {
		return newError(KindPastDateTime, "start %s is not after %s", c.Start.Format(time.RFC3339), s.Now.Format(time.RFC3339))
	}

	date := civilDate(c.Start, loc)
	res, resErr := Resolve(rulesFor(s.Rules, c.DoctorID), date)

	var buffer time.Duration
	if resErr == nil && res.Rule != nil {
		buffer = res.Rule.buffer()
	}
	own := appointmentsFor(s.Appointments, c.DoctorID)
	if conflict := firstOverlap(own, c.Start, c.end(), buffer, c.ExcludeID); conflict != nil {
		return &Error{
			Kind:          KindOverlap,
			Detail:        "conflicts with appointment " + conflict.ID.String(),
			ConflictingID: conflict.ID,
		}
	}

	if resErr != nil {
		return resErr
	}
	if !res.Available() {
		return newError(KindOutsideAvailability, "no availability on %s", date.Format(dateLayout))
	}
	if !insideWindow(res.Rule, date, loc, c.Start, c.end()) {
		return newError(KindOutsideAvailability, "%s-%s is not inside a bookable window",
			c.Start.In(loc).Format("15:04"), c.end().In(loc).Format("15:04"))
	}

	booked := bookedPerDay(own, c.DoctorID, c.ExcludeID, loc)[date]
	if booked >= res.Rule.MaxAppointments {
		return newError(KindCapacityExceeded, "%d of %d appointments booked on %s",
			booked, res.Rule.MaxAppointments, date.Format(dateLayout))
	}
	return nil
}

// firstOverlap returns the earliest slot-holding appointment intersecting [start-buffer, end+buffer).
func firstOverlap(appointments []Appointment, start, end time.Time, buffer time.Duration, exclude uuid.UUID) *Appointment {
	lo, hi := start.Add(-buffer), end.Add(buffer)
	var hits []*Appointment
	for i := range appointments {
		a := &appointments[i]
		if a.ID == exclude || !a.Status.holdsSlot() {
			continue
		}
		if a.StartTime.Before(hi) && lo.Before(a.EndTime()) {
			hits = append(hits, a)
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].StartTime.Equal(hits[j].StartTime) {
			return hits[i].StartTime.Before(hits[j].StartTime)
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})
	return hits[0]
}

func insideWindow(rule *AvailabilityRule, date time.Time, loc *time.Location, start, end time.Time) bool {
	for _, w := range rule.TimeSlots {
		ws, we := at(date, w.Start, loc), at(date, w.End, loc)
		if !start.Before(ws) && !end.After(we) {
			return true
		}
	}
	return false
}

func appointmentsFor(appointments []Appointment, doctorID uuid.UUID) []Appointment {
	out := make([]Appointment, 0, len(appointments))
	for _, a := range appointments {
		if a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	return out
}
