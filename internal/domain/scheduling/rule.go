package scheduling

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ScheduleType tags an availability rule. Resolution dispatches on it.
type ScheduleType string

const (
	ScheduleSpecificDate     ScheduleType = "specific_date"
	ScheduleWeeklyRecurring  ScheduleType = "weekly_recurring"
	ScheduleMonthlyRecurring ScheduleType = "monthly_recurring"
	ScheduleException        ScheduleType = "exception"
)

type RecurrencePattern string

const (
	RecurNone    RecurrencePattern = "none"
	RecurDaily   RecurrencePattern = "daily"
	RecurWeekly  RecurrencePattern = "weekly"
	RecurMonthly RecurrencePattern = "monthly"
	RecurYearly  RecurrencePattern = "yearly"
)

// allowedPatterns lists, per type, the recurrence patterns it accepts. The first is the default.
var allowedPatterns = map[ScheduleType][]RecurrencePattern{
	ScheduleSpecificDate:     {RecurNone, RecurYearly},
	ScheduleException:        {RecurNone, RecurYearly},
	ScheduleWeeklyRecurring:  {RecurWeekly, RecurDaily},
	ScheduleMonthlyRecurring: {RecurMonthly},
}

const (
	DefaultSlotDurationMinutes = 60
	DefaultMaxAppointments     = 8
	DefaultPriority            = 1

	minPriority   = 1
	maxPriority   = 5
	minutesPerDay = 24 * 60
)

// ClockTime is a time of day in minutes after midnight. 24:00 is allowed as a window end.
type ClockTime int

func ParseClockTime(s string) (ClockTime, error) {
	var h, m int
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("clock time %q: want HH:MM", s)
	}
	if _, err := fmt.Sscanf(s, "%02d:%02d", &h, &m); err != nil {
		return 0, fmt.Errorf("clock time %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h*60+m > minutesPerDay {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return ClockTime(h*60 + m), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TimeWindow is a bookable window within a matching day.
type TimeWindow struct {
	Start ClockTime `json:"start_time"`
	End   ClockTime `json:"end_time"`
	Label string    `json:"label,omitempty"`
}

type AvailabilityRule struct {
	ID                  uuid.UUID         `json:"id"`
	DoctorID            uuid.UUID         `json:"doctor_id"`
	ScheduleType        ScheduleType      `json:"schedule_type"`
	StartDate           *time.Time        `json:"start_date,omitempty"`
	EndDate             *time.Time        `json:"end_date,omitempty"`
	Recurrence          RecurrencePattern `json:"recurrence_pattern"`
	DayOfWeek           *int              `json:"day_of_week,omitempty"`
	DayOfMonth          *int              `json:"day_of_month,omitempty"`
	IsAvailable         bool              `json:"is_available"`
	TimeSlots           []TimeWindow      `json:"time_slots"`
	SlotDurationMinutes int               `json:"slot_duration_minutes"`
	BufferMinutes       int               `json:"buffer_minutes"`
	MaxAppointments     int               `json:"max_appointments"`
	Priority            int               `json:"priority"`
	IsActive            bool              `json:"is_active"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func (r *AvailabilityRule) ApplyDefaults() {
	if r.Recurrence == "" {
		if allowed := allowedPatterns[r.ScheduleType]; len(allowed) > 0 {
			r.Recurrence = allowed[0]
		}
	}
	if r.SlotDurationMinutes == 0 {
		r.SlotDurationMinutes = DefaultSlotDurationMinutes
	}
	if r.MaxAppointments == 0 {
		r.MaxAppointments = DefaultMaxAppointments
	}
	if r.Priority == 0 {
		r.Priority = DefaultPriority
	}
	if r.StartDate != nil {
		d := civilDate(*r.StartDate, time.UTC)
		r.StartDate = &d
	}
	if r.EndDate != nil {
		d := civilDate(*r.EndDate, time.UTC)
		r.EndDate = &d
	}
	sort.SliceStable(r.TimeSlots, func(i, j int) bool {
		return r.TimeSlots[i].Start < r.TimeSlots[j].Start
	})
}

// Validate rejects malformed rule data. It runs at ingestion so booking never sees a broken rule.
func (r *AvailabilityRule) Validate() error {
	if r.DoctorID == uuid.Nil {
		return invalidInput("doctor_id is required")
	}
	allowed, ok := allowedPatterns[r.ScheduleType]
	if !ok {
		return invalidInput("unknown schedule_type %q", r.ScheduleType)
	}
	if !containsPattern(allowed, r.Recurrence) {
		return invalidInput("recurrence_pattern %q is not allowed for %s", r.Recurrence, r.ScheduleType)
	}

	switch r.ScheduleType {
	case ScheduleSpecificDate, ScheduleException:
		if r.StartDate == nil {
			return invalidInput("%s rule requires start_date", r.ScheduleType)
		}
	case ScheduleWeeklyRecurring:
		if r.Recurrence == RecurWeekly && r.DayOfWeek == nil {
			return invalidInput("weekly rule requires day_of_week")
		}
	case ScheduleMonthlyRecurring:
		if r.DayOfMonth == nil {
			return invalidInput("monthly rule requires day_of_month")
		}
	}
	if r.DayOfWeek != nil && (*r.DayOfWeek < 0 || *r.DayOfWeek > 6) {
		return invalidInput("day_of_week must be between 0 and 6, got %d", *r.DayOfWeek)
	}
	if r.DayOfMonth != nil && (*r.DayOfMonth < 1 || *r.DayOfMonth > 31) {
		return invalidInput("day_of_month must be between 1 and 31, got %d", *r.DayOfMonth)
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return invalidInput("end_date is before start_date")
	}

	if r.SlotDurationMinutes <= 0 || r.SlotDurationMinutes > minutesPerDay {
		return invalidInput("slot_duration_minutes must be between 1 and %d", minutesPerDay)
	}
	if r.BufferMinutes < 0 || r.BufferMinutes > minutesPerDay {
		return invalidInput("buffer_minutes must be between 0 and %d", minutesPerDay)
	}
	if r.Priority < minPriority || r.Priority > maxPriority {
		return invalidInput("priority must be between %d and %d, got %d", minPriority, maxPriority, r.Priority)
	}

	if !r.IsAvailable {
		return nil
	}
	if r.MaxAppointments < 1 {
		return invalidInput("max_appointments must be at least 1")
	}
	if len(r.TimeSlots) == 0 {
		return invalidInput("an available rule needs at least one time slot")
	}
	for i, w := range r.TimeSlots {
		if w.Start < 0 || w.End > minutesPerDay || w.Start >= w.End {
			return invalidInput("time slot %d: start %s must be before end %s", i, w.Start, w.End)
		}
		if i > 0 {
			prev := r.TimeSlots[i-1]
			if w.Start < prev.End {
				return invalidInput("time slots %s-%s and %s-%s overlap", prev.Start, prev.End, w.Start, w.End)
			}
		}
	}
	return nil
}

func containsPattern(list []RecurrencePattern, p RecurrencePattern) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

func (r *AvailabilityRule) slotDuration() time.Duration {
	return time.Duration(r.SlotDurationMinutes) * time.Minute
}

func (r *AvailabilityRule) buffer() time.Duration {
	return time.Duration(r.BufferMinutes) * time.Minute
}

// windows never returns nil so a blackout persists as [] rather than null.
func (r *AvailabilityRule) windows() []TimeWindow {
	if r.TimeSlots == nil {
		return []TimeWindow{}
	}
	return r.TimeSlots
}
