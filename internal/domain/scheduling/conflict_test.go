package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func mondaySnapshot(t *testing.T, doctor uuid.UUID, appts ...Appointment) Snapshot {
	return Snapshot{
		Rules:        []AvailabilityRule{mondayRule(t, doctor)},
		Appointments: appts,
		Now:          mustDate(t, "2025-03-01"),
		Location:     time.UTC,
	}
}

func TestValidate_OK(t *testing.T) {
	doctor := uuid.New()
	err := Validate(mondaySnapshot(t, doctor), Candidate{DoctorID: doctor, Start: mondayAt(t, "09:00"), DurationMinutes: 60})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Kinds(t *testing.T) {
	doctor := uuid.New()
	existing := booked(doctor, mondayAt(t, "09:00"), 60, StatusPending)

	tests := []struct {
		name  string
		snap  Snapshot
		cand  Candidate
		want  Kind
		check func(t *testing.T, err error)
	}{
		{
			name: "past",
			snap: func() Snapshot { s := mondaySnapshot(t, doctor); s.Now = mondayAt(t, "10:00"); return s }(),
			cand: Candidate{DoctorID: doctor, Start: mondayAt(t, "09:00"), DurationMinutes: 60},
			want: KindPastDateTime,
		},
		{
			name: "start equal to now is past",
			snap: func() Snapshot { s := mondaySnapshot(t, doctor); s.Now = mondayAt(t, "09:00"); return s }(),
			cand: Candidate{DoctorID: doctor, Start: mondayAt(t, "09:00"), DurationMinutes: 60},
			want: KindPastDateTime,
		},
		{
			name: "overlap",
			snap: mondaySnapshot(t, doctor, existing),
			cand: Candidate{DoctorID: doctor, Start: mondayAt(t, "09:30"), DurationMinutes: 60},
			want: KindOverlap,
			check: func(t *testing.T, err error) {
				var se *Error
				if !errors.As(err, &se) || se.ConflictingID != existing.ID {
					t.Errorf("conflicting id = %v, want %s", se, existing.ID)
				}
			},
		},
		{
			name: "outside window",
			snap: mondaySnapshot(t, doctor),
			cand: Candidate{DoctorID: doctor, Start: mondayAt(t, "11:30"), DurationMinutes: 60},
			want: KindOutsideAvailability,
		},
		{
			name: "no rule that day",
			snap: mondaySnapshot(t, doctor),
			cand: Candidate{DoctorID: doctor, Start: mondayAt(t, "09:00").AddDate(0, 0, 1), DurationMinutes: 60},
			want: KindOutsideAvailability,
		},
		{
			name: "blackout",
			snap: func() Snapshot {
				s := mondaySnapshot(t, doctor)
				s.Rules = append(s.Rules, blackout(t, doctor, monday))
				return s
			}(),
			cand: Candidate{DoctorID: doctor, Start: mondayAt(t, "09:00"), DurationMinutes: 60},
			want: KindOutsideAvailability,
		},
		{
			name: "capacity",
			snap: mondaySnapshot(t, doctor,
				booked(doctor, mondayAt(t, "09:00"), 60, StatusApproved),
				booked(doctor, mondayAt(t, "10:00"), 60, StatusConfirmed),
				booked(doctor, mondayAt(t, "11:00"), 30, StatusPending),
			),
			cand: Candidate{DoctorID: doctor, Start: mondayAt(t, "11:30"), DurationMinutes: 30},
			want: KindCapacityExceeded,
		},
		{
			name: "rule conflict",
			snap: func() Snapshot {
				s := mondaySnapshot(t, doctor)
				other := mondayRule(t, doctor)
				other.MaxAppointments = 9
				s.Rules = append(s.Rules, other)
				return s
			}(),
			cand: Candidate{DoctorID: doctor, Start: mondayAt(t, "09:00"), DurationMinutes: 60},
			want: KindRuleConflict,
		},
		{
			name: "zero duration",
			snap: mondaySnapshot(t, doctor),
			cand: Candidate{DoctorID: doctor, Start: mondayAt(t, "09:00")},
			want: KindInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.snap, tt.cand)
			kindIs(t, err, tt.want)
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestValidate_PastCheckedBeforeOverlap(t *testing.T) {
	doctor := uuid.New()
	snap := mondaySnapshot(t, doctor, booked(doctor, mondayAt(t, "09:00"), 60, StatusPending))
	snap.Now = mondayAt(t, "10:00")
	kindIs(t, Validate(snap, Candidate{DoctorID: doctor, Start: mondayAt(t, "09:00"), DurationMinutes: 60}), KindPastDateTime)
}

func TestValidate_BufferWidensOverlap(t *testing.T) {
	doctor := uuid.New()
	snap := mondaySnapshot(t, doctor, booked(doctor, mondayAt(t, "09:00"), 60, StatusApproved))
	snap.Rules[0].BufferMinutes = 10

	kindIs(t, Validate(snap, Candidate{DoctorID: doctor, Start: mondayAt(t, "10:00"), DurationMinutes: 60}), KindOverlap)

	snap.Rules[0].BufferMinutes = 0
	if err := Validate(snap, Candidate{DoctorID: doctor, Start: mondayAt(t, "10:00"), DurationMinutes: 60}); err != nil {
		t.Errorf("back-to-back booking without buffer should pass: %v", err)
	}
}

func TestValidate_FreedAppointmentsIgnored(t *testing.T) {
	doctor := uuid.New()
	snap := mondaySnapshot(t, doctor,
		booked(doctor, mondayAt(t, "09:00"), 60, StatusCancelled),
		booked(doctor, mondayAt(t, "09:00"), 60, StatusRejected),
	)
	if err := Validate(snap, Candidate{DoctorID: doctor, Start: mondayAt(t, "09:00"), DurationMinutes: 60}); err != nil {
		t.Errorf("cancelled and rejected appointments should not block: %v", err)
	}
}

func TestValidate_ExcludeID(t *testing.T) {
	doctor := uuid.New()
	self := booked(doctor, mondayAt(t, "09:00"), 60, StatusPending)
	snap := mondaySnapshot(t, doctor, self)

	err := Validate(snap, Candidate{DoctorID: doctor, Start: self.StartTime, DurationMinutes: 60, ExcludeID: self.ID})
	if err != nil {
		t.Errorf("re-validating an appointment against itself should pass: %v", err)
	}
}

func TestValidate_OtherDoctorIgnored(t *testing.T) {
	doctor := uuid.New()
	snap := mondaySnapshot(t, doctor, booked(uuid.New(), mondayAt(t, "09:00"), 60, StatusApproved))
	if err := Validate(snap, Candidate{DoctorID: doctor, Start: mondayAt(t, "09:00"), DurationMinutes: 60}); err != nil {
		t.Errorf("another doctor's appointment should not block: %v", err)
	}
}

func TestValidate_Idempotent(t *testing.T) {
	doctor := uuid.New()
	snap := mondaySnapshot(t, doctor, booked(doctor, mondayAt(t, "09:00"), 60, StatusPending))
	cand := Candidate{DoctorID: doctor, Start: mondayAt(t, "09:30"), DurationMinutes: 60}

	first, second := Validate(snap, cand), Validate(snap, cand)
	if KindOf(first) != KindOf(second) || first.Error() != second.Error() {
		t.Errorf("Validate not idempotent: %v vs %v", first, second)
	}
}

func TestError_Is(t *testing.T) {
	err := newError(KindOverlap, "conflicts with %s", uuid.Nil)
	if !errors.Is(err, ErrOverlap) {
		t.Error("errors.Is(err, ErrOverlap) = false")
	}
	if errors.Is(err, ErrCapacityExceeded) {
		t.Error("overlap error matched capacity sentinel")
	}
	if KindOf(ErrNotFound) != KindNotFound {
		t.Error("KindOf should recognise bare sentinels")
	}
	if KindOf(errors.New("boom")) != "" {
		t.Error("KindOf should be empty for foreign errors")
	}
}
