package scheduling

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/migrations"
)

// testPool connects to CLINIC_TEST_DATABASE_URL and migrates it, or skips.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("CLINIC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CLINIC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: url, MaxConns: 10})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := db.NewMigrator(pool, migrations.FS, "public").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func TestRuleRepoPG_RoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewRuleRepoPG(pool)

	rule := mondayRule(t, uuid.New())
	rule.BufferMinutes = 5
	if err := repo.Create(ctx, &rule); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ScheduleType != rule.ScheduleType || *got.DayOfWeek != *rule.DayOfWeek || got.BufferMinutes != 5 {
		t.Errorf("got %+v", got)
	}
	if len(got.TimeSlots) != 1 || got.TimeSlots[0] != rule.TimeSlots[0] {
		t.Errorf("time slots = %+v", got.TimeSlots)
	}

	got.IsActive = false
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	active, err := repo.ListActiveRules(ctx, rule.DoctorID)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("inactive rule listed as active")
	}
	_, total, err := repo.ListByDoctor(ctx, rule.DoctorID, 10, 0)
	if err != nil || total != 1 {
		t.Errorf("list by doctor total=%d err=%v", total, err)
	}

	_, err = repo.GetByID(ctx, uuid.New())
	kindIs(t, err, KindNotFound)
}

func TestRuleRepoPG_BlackoutPersistsEmptySlots(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewRuleRepoPG(pool)

	rule := blackout(t, uuid.New(), monday)
	if err := repo.Create(ctx, &rule); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsAvailable || got.StartDate == nil || got.StartDate.Format(dateLayout) != monday {
		t.Errorf("got %+v", got)
	}
}

func TestAppointmentRepoPG_UniqueLiveSlot(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewAppointmentRepoPG(pool)
	doctor := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := booked(doctor, mondayAt(t, "09:00"), 60, StatusPending)
	first.CreatedAt, first.UpdatedAt = now, now
	if err := repo.Create(ctx, &first); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := booked(doctor, mondayAt(t, "09:00"), 60, StatusPending)
	dup.CreatedAt, dup.UpdatedAt = now, now
	err := repo.Create(ctx, &dup)
	kindIs(t, err, KindOverlap)
	if !errors.Is(err, ErrOverlap) {
		t.Error("unique violation should unwrap to ErrOverlap")
	}

	first.Status = StatusCancelled
	if err := repo.Update(ctx, &first); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := repo.Create(ctx, &dup); err != nil {
		t.Errorf("slot should be reusable after cancellation: %v", err)
	}

	live, err := repo.ListAppointments(ctx, doctor, TimeRange{From: mondayAt(t, "00:00"), To: mondayAt(t, "23:59")}, FreedStatuses)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].ID != dup.ID {
		t.Errorf("live appointments = %+v", live)
	}
	items, total, err := repo.ListByDoctor(ctx, doctor, StatusCancelled, 10, 0)
	if err != nil || total != 1 || items[0].ID != first.ID {
		t.Errorf("cancelled list total=%d err=%v", total, err)
	}
}

func TestService_PostgresSerializesBookings(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	rules := NewRuleRepoPG(pool)
	doctor := Actor{ID: uuid.New(), Roles: []Role{RoleDoctor}}

	svc := NewService(rules, NewAppointmentRepoPG(pool), db.NewTxManager(pool), ServiceConfig{
		Clock:  FixedClock{At: mustDate(t, "2025-03-01")},
		Events: events.NewOutbox(pool),
		Logger: zerolog.Nop(),
	})
	rule := mondayRule(t, doctor.ID)
	if err := svc.CreateRule(ctx, doctor, &rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	const n = 6
	start := mondayAt(t, "10:00")
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestAppointment(ctx, Actor{ID: uuid.New(), Roles: []Role{RolePatient}}, RequestInput{
				DoctorID: doctor.ID, Start: start, DurationMinutes: 60,
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if KindOf(err) != KindOverlap {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("%d concurrent bookings succeeded, want 1", ok)
	}
}
