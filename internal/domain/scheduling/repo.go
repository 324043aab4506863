package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type RuleRepository interface {
	Create(ctx context.Context, r *AvailabilityRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error)
	Update(ctx context.Context, r *AvailabilityRule) error
	ListActiveRules(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityRule, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*AvailabilityRule, int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate reads and row-locks the appointment inside the caller's transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// ListAppointments returns the doctor's appointments starting in r, minus the given statuses.
	ListAppointments(ctx context.Context, doctorID uuid.UUID, r TimeRange, exclude []Status) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
}

// TxRunner runs fn in one transaction that holds an exclusive lock on key until commit.
type TxRunner interface {
	WithinLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func doctorLockKey(doctorID uuid.UUID) string {
	return "doctor:" + doctorID.String()
}
