package scheduling

import (
	"bytes"
	"sort"
	"time"
)

// specificity ranks schedule types for same-priority ties. Higher wins.
func specificity(t ScheduleType) int {
	switch t {
	case ScheduleSpecificDate, ScheduleException:
		return 3
	case ScheduleMonthlyRecurring:
		return 2
	case ScheduleWeeklyRecurring:
		return 1
	}
	return 0
}

// Resolution is the single availability definition for one doctor and date.
type Resolution struct {
	// Rule is the winning rule, nil when no rule matches.
	Rule *AvailabilityRule
}

// Available reports whether the date is open for booking.
func (r Resolution) Available() bool {
	return r.Rule != nil && r.Rule.IsAvailable
}

// Resolve picks the rule that governs date (a civil date at midnight UTC).
// Lowest priority number wins, then the most specific type. Rules still tied
// must agree on their effect, otherwise resolution fails with KindRuleConflict.
func Resolve(rules []AvailabilityRule, date time.Time) (Resolution, error) {
	var candidates []*AvailabilityRule
	for i := range rules {
		r := &rules[i]
		if r.IsActive && matches(r, date) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Resolution{}, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if sa, sb := specificity(a.ScheduleType), specificity(b.ScheduleType); sa != sb {
			return sa > sb
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})

	winner := candidates[0]
	for _, other := range candidates[1:] {
		if other.Priority != winner.Priority || specificity(other.ScheduleType) != specificity(winner.ScheduleType) {
			break
		}
		if !sameEffect(winner, other) {
			return Resolution{}, &Error{
				Kind:   KindRuleConflict,
				Detail: "rules " + winner.ID.String() + " and " + other.ID.String() + " tie on " + date.Format(dateLayout),
			}
		}
	}
	return Resolution{Rule: winner}, nil
}

// matches reports whether rule r applies to date.
func matches(r *AvailabilityRule, date time.Time) bool {
	switch r.ScheduleType {
	case ScheduleSpecificDate, ScheduleException:
		if r.StartDate == nil {
			return false
		}
		end := *r.StartDate
		if r.EndDate != nil {
			end = *r.EndDate
		}
		if r.Recurrence == RecurYearly {
			return withinYearly(date, *r.StartDate, end)
		}
		return !date.Before(*r.StartDate) && !date.After(end)

	case ScheduleWeeklyRecurring:
		if !withinBounds(r, date) {
			return false
		}
		if r.Recurrence == RecurDaily {
			return true
		}
		return r.DayOfWeek != nil && int(date.Weekday()) == *r.DayOfWeek

	case ScheduleMonthlyRecurring:
		return withinBounds(r, date) && r.DayOfMonth != nil && date.Day() == *r.DayOfMonth
	}
	return false
}

// withinBounds applies the optional start/end window of a recurring rule.
func withinBounds(r *AvailabilityRule, date time.Time) bool {
	if r.StartDate != nil && date.Before(*r.StartDate) {
		return false
	}
	if r.EndDate != nil && date.After(*r.EndDate) {
		return false
	}
	return true
}

// withinYearly compares month/day only. A span whose end precedes its start wraps the year end.
func withinYearly(date, start, end time.Time) bool {
	md := func(t time.Time) int { return int(t.Month())*100 + t.Day() }
	d, s, e := md(date), md(start), md(end)
	if s <= e {
		return d >= s && d <= e
	}
	return d >= s || d <= e
}

// sameEffect reports whether two rules yield the same availability definition.
func sameEffect(a, b *AvailabilityRule) bool {
	if a.IsAvailable != b.IsAvailable {
		return false
	}
	if !a.IsAvailable {
		return true
	}
	if a.SlotDurationMinutes != b.SlotDurationMinutes || a.BufferMinutes != b.BufferMinutes ||
		a.MaxAppointments != b.MaxAppointments || len(a.TimeSlots) != len(b.TimeSlots) {
		return false
	}
	for i := range a.TimeSlots {
		if a.TimeSlots[i].Start != b.TimeSlots[i].Start || a.TimeSlots[i].End != b.TimeSlots[i].End {
			return false
		}
	}
	return true
}
