package scheduling

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func slotStarts(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.UTC().Format("2006-01-02 15:04"))
	}
	return out
}

func TestGenerateSlots_WeeklyRule(t *testing.T) {
	doctor := uuid.New()
	rule := mondayRule(t, doctor)
	now := mustDate(t, "2025-03-01")

	gen := GenerateSlots([]AvailabilityRule{rule}, nil, SlotQuery{
		DoctorID: doctor,
		From:     mustDate(t, "2025-03-03"),
		To:       mustDate(t, "2025-03-10"),
		Now:      now,
	})

	want := []string{
		"2025-03-03 09:00", "2025-03-03 10:00", "2025-03-03 11:00",
		"2025-03-10 09:00", "2025-03-10 10:00", "2025-03-10 11:00",
	}
	if got := slotStarts(gen.Slots); !reflect.DeepEqual(got, want) {
		t.Errorf("slots = %v, want %v", got, want)
	}
	for _, s := range gen.Slots {
		if s.RemainingCapacity != 3 {
			t.Errorf("remaining capacity = %d, want 3", s.RemainingCapacity)
		}
		if s.RuleID != rule.ID {
			t.Errorf("slot rule id = %s, want %s", s.RuleID, rule.ID)
		}
		if s.End.Sub(s.Start) != time.Hour {
			t.Errorf("slot length = %v", s.End.Sub(s.Start))
		}
	}
	if len(gen.Conflicts) != 0 {
		t.Errorf("unexpected conflicts: %v", gen.Conflicts)
	}
}

func TestGenerateSlots_BufferStepsWindow(t *testing.T) {
	doctor := uuid.New()
	rule := mondayRule(t, doctor)
	rule.SlotDurationMinutes = 45
	rule.BufferMinutes = 15
	rule.TimeSlots = []TimeWindow{window(t, "09:00", "11:30")}

	gen := GenerateSlots([]AvailabilityRule{rule}, nil, SlotQuery{
		DoctorID: doctor, From: mustDate(t, monday), To: mustDate(t, monday), Now: mustDate(t, "2025-01-01"),
	})
	want := []string{"2025-03-03 09:00", "2025-03-03 10:00"}
	if got := slotStarts(gen.Slots); !reflect.DeepEqual(got, want) {
		t.Errorf("slots = %v, want %v", got, want)
	}
}

func TestGenerateSlots_DropsStartedSlots(t *testing.T) {
	doctor := uuid.New()
	gen := GenerateSlots([]AvailabilityRule{mondayRule(t, doctor)}, nil, SlotQuery{
		DoctorID: doctor, From: mustDate(t, monday), To: mustDate(t, monday), Now: mondayAt(t, "10:00"),
	})
	want := []string{"2025-03-03 11:00"}
	if got := slotStarts(gen.Slots); !reflect.DeepEqual(got, want) {
		t.Errorf("slots = %v, want %v", got, want)
	}
}

func TestGenerateSlots_ExceptionOverridesWeekly(t *testing.T) {
	doctor := uuid.New()
	rules := []AvailabilityRule{mondayRule(t, doctor), blackout(t, doctor, monday)}

	gen := GenerateSlots(rules, nil, SlotQuery{
		DoctorID: doctor, From: mustDate(t, monday), To: mustDate(t, "2025-03-10"), Now: mustDate(t, "2025-01-01"),
	})
	for _, s := range gen.Slots {
		if s.Date == monday {
			t.Fatalf("blackout date still has slot %s", s.Start)
		}
	}
	if len(gen.Slots) != 3 {
		t.Errorf("expected the following Monday's 3 slots, got %d", len(gen.Slots))
	}
}

func TestGenerateSlots_ConflictFailsClosed(t *testing.T) {
	doctor := uuid.New()
	a, b := mondayRule(t, doctor), mondayRule(t, doctor)
	b.MaxAppointments = 5

	gen := GenerateSlots([]AvailabilityRule{a, b}, nil, SlotQuery{
		DoctorID: doctor, From: mustDate(t, monday), To: mustDate(t, monday), Now: mustDate(t, "2025-01-01"),
	})
	if len(gen.Slots) != 0 {
		t.Errorf("conflicting date produced %d slots", len(gen.Slots))
	}
	if !reflect.DeepEqual(gen.Conflicts, []string{monday}) {
		t.Errorf("conflicts = %v", gen.Conflicts)
	}
}

func TestGenerateSlots_CapacityCountsLiveAppointments(t *testing.T) {
	doctor := uuid.New()
	appts := []Appointment{
		booked(doctor, mondayAt(t, "09:00"), 60, StatusApproved),
		booked(doctor, mondayAt(t, "10:00"), 60, StatusCancelled),
		booked(uuid.New(), mondayAt(t, "11:00"), 60, StatusApproved),
	}
	gen := GenerateSlots([]AvailabilityRule{mondayRule(t, doctor)}, appts, SlotQuery{
		DoctorID: doctor, From: mustDate(t, monday), To: mustDate(t, monday), Now: mustDate(t, "2025-01-01"),
	})
	for _, s := range gen.Slots {
		if s.RemainingCapacity != 2 {
			t.Errorf("slot %s remaining = %d, want 2", s.Start, s.RemainingCapacity)
		}
	}
}

func TestGenerateSlots_Deterministic(t *testing.T) {
	doctor := uuid.New()
	rules := []AvailabilityRule{mondayRule(t, doctor), blackout(t, doctor, "2025-03-10")}
	q := SlotQuery{DoctorID: doctor, From: mustDate(t, "2025-03-01"), To: mustDate(t, "2025-03-31"), Now: mustDate(t, "2025-01-01")}

	first := GenerateSlots(rules, nil, q)
	second := GenerateSlots([]AvailabilityRule{rules[1], rules[0]}, nil, q)
	if !reflect.DeepEqual(first, second) {
		t.Error("generation depends on rule order")
	}
}

func TestGenerateSlots_Location(t *testing.T) {
	loc, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	doctor := uuid.New()
	gen := GenerateSlots([]AvailabilityRule{mondayRule(t, doctor)}, nil, SlotQuery{
		DoctorID: doctor, From: mustDate(t, monday), To: mustDate(t, monday), Now: mustDate(t, "2025-01-01"), Location: loc,
	})
	if len(gen.Slots) == 0 {
		t.Fatal("no slots generated")
	}
	// Bogota is UTC-5 year round.
	if got := gen.Slots[0].Start.UTC().Format("15:04"); got != "14:00" {
		t.Errorf("first slot at %s UTC, want 14:00", got)
	}
}

func TestFreeSlots(t *testing.T) {
	doctor := uuid.New()
	rule := mondayRule(t, doctor)
	appts := []Appointment{
		booked(doctor, mondayAt(t, "09:30"), 60, StatusPending),
		booked(doctor, mondayAt(t, "11:00"), 60, StatusRejected),
	}
	gen := GenerateSlots([]AvailabilityRule{rule}, appts, SlotQuery{
		DoctorID: doctor, From: mustDate(t, monday), To: mustDate(t, monday), Now: mustDate(t, "2025-01-01"),
	})
	free := FreeSlots(gen.Slots, appts)

	want := []string{"2025-03-03 11:00"}
	if got := slotStarts(free); !reflect.DeepEqual(got, want) {
		t.Errorf("free = %v, want %v", got, want)
	}
}

func TestFreeSlots_FullDay(t *testing.T) {
	doctor := uuid.New()
	rule := mondayRule(t, doctor)
	rule.MaxAppointments = 1
	appts := []Appointment{booked(doctor, mondayAt(t, "09:00"), 60, StatusConfirmed)}

	gen := GenerateSlots([]AvailabilityRule{rule}, appts, SlotQuery{
		DoctorID: doctor, From: mustDate(t, monday), To: mustDate(t, monday), Now: mustDate(t, "2025-01-01"),
	})
	if free := FreeSlots(gen.Slots, appts); len(free) != 0 {
		t.Errorf("expected no free slots on a full day, got %v", slotStarts(free))
	}
	for _, s := range gen.Slots {
		if s.RemainingCapacity < 0 {
			t.Errorf("negative remaining capacity %d", s.RemainingCapacity)
		}
	}
}

func TestGenerateSlots_WindowShorterThanSlot(t *testing.T) {
	doctor := uuid.New()
	rule := mondayRule(t, doctor)
	rule.TimeSlots = []TimeWindow{window(t, "09:00", "09:30"), window(t, "10:00", "11:00")}

	gen := GenerateSlots([]AvailabilityRule{rule}, nil, SlotQuery{
		DoctorID: doctor, From: mustDate(t, monday), To: mustDate(t, monday), Now: mustDate(t, "2025-01-01"),
	})
	want := []string{"2025-03-03 10:00"}
	if got := slotStarts(gen.Slots); !reflect.DeepEqual(got, want) {
		t.Errorf("slots = %v, want %v", got, want)
	}
}
