package scheduling

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Slot is a concrete bookable interval.
type Slot struct {
	Date              string    `json:"date"`
	Start             time.Time `json:"start_time"`
	End               time.Time `json:"end_time"`
	RemainingCapacity int       `json:"remaining_capacity"`
	RuleID            uuid.UUID `json:"rule_id"`
	Label             string    `json:"label,omitempty"`

	buffer time.Duration
}

// SlotQuery selects the doctor and inclusive calendar date range to expand.
type SlotQuery struct {
	DoctorID uuid.UUID
	From     time.Time
	To       time.Time
	Now      time.Time
	Location *time.Location
}

// Generation is the output of GenerateSlots.
type Generation struct {
	Slots []Slot `json:"slots"`
	// Conflicts lists dates (YYYY-MM-DD) skipped because their rules could not be resolved.
	Conflicts []string `json:"conflicts,omitempty"`
}

// GenerateSlots expands rules into slots for every date in [q.From, q.To].
// It reads nothing but its arguments; appointments only feed the per-day capacity count.
func GenerateSlots(rules []AvailabilityRule, appointments []Appointment, q SlotQuery) Generation {
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	own := rulesFor(rules, q.DoctorID)
	booked := bookedPerDay(appointments, q.DoctorID, uuid.Nil, loc)

	var gen Generation
	from, to := civilDate(q.From, time.UTC), civilDate(q.To, time.UTC)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		res, err := Resolve(own, d)
		if err != nil {
			gen.Conflicts = append(gen.Conflicts, d.Format(dateLayout))
			continue
		}
		if !res.Available() {
			continue
		}
		rule := res.Rule
		remaining := rule.MaxAppointments - booked[d]
		if remaining < 0 {
			remaining = 0
		}
		for _, w := range sortedWindows(rule.TimeSlots) {
			gen.Slots = append(gen.Slots, expandWindow(rule, w, d, loc, q.Now, remaining)...)
		}
	}
	sort.SliceStable(gen.Slots, func(i, j int) bool {
		return gen.Slots[i].Start.Before(gen.Slots[j].Start)
	})
	return gen
}

// expandWindow steps through one window by duration+buffer, dropping slots that do not start after now.
func expandWindow(rule *AvailabilityRule, w TimeWindow, d time.Time, loc *time.Location, now time.Time, remaining int) []Slot {
	dur, step := rule.slotDuration(), rule.slotDuration()+rule.buffer()
	if dur <= 0 {
		return nil
	}
	winStart, winEnd := at(d, w.Start, loc), at(d, w.End, loc)

	var out []Slot
	for t := winStart; !t.Add(dur).After(winEnd); t = t.Add(step) {
		if !t.After(now) {
			continue
		}
		out = append(out, Slot{
			Date:              d.Format(dateLayout),
			Start:             t,
			End:               t.Add(dur),
			RemainingCapacity: remaining,
			RuleID:            rule.ID,
			Label:             w.Label,
			buffer:            rule.buffer(),
		})
	}
	return out
}

// FreeSlots drops slots with no remaining capacity and slots that collide with one of the
// doctor's live appointments.
func FreeSlots(slots []Slot, appointments []Appointment) []Slot {
	free := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.RemainingCapacity <= 0 {
			continue
		}
		if c := firstOverlap(appointments, s.Start, s.End, s.buffer, uuid.Nil); c != nil {
			continue
		}
		free = append(free, s)
	}
	return free
}

func sortedWindows(ws []TimeWindow) []TimeWindow {
	out := append([]TimeWindow(nil), ws...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func rulesFor(rules []AvailabilityRule, doctorID uuid.UUID) []AvailabilityRule {
	out := make([]AvailabilityRule, 0, len(rules))
	for _, r := range rules {
		if r.DoctorID == doctorID && r.IsActive {
			out = append(out, r)
		}
	}
	return out
}

// bookedPerDay counts slot-holding appointments per civil date, skipping exclude.
func bookedPerDay(appointments []Appointment, doctorID, exclude uuid.UUID, loc *time.Location) map[time.Time]int {
	counts := make(map[time.Time]int)
	for _, a := range appointments {
		if a.DoctorID != doctorID || a.ID == exclude || !a.Status.holdsSlot() {
			continue
		}
		counts[civilDate(a.StartTime, loc)]++
	}
	return counts
}
