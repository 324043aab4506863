package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

const pgUniqueViolation = "23505"

// =========== Rule Repository ===========

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository { return &ruleRepoPG{pool: pool} }

func (r *ruleRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const ruleCols = `id, doctor_id, schedule_type, start_date, end_date, recurrence_pattern,
	day_of_week, day_of_month, is_available, time_slots, slot_duration_minutes, buffer_minutes,
	max_appointments, priority, is_active, created_at, updated_at`

func (r *ruleRepoPG) scanRule(row pgx.Row) (*AvailabilityRule, error) {
	var (
		rule  AvailabilityRule
		slots []byte
	)
	err := row.Scan(&rule.ID, &rule.DoctorID, &rule.ScheduleType, &rule.StartDate, &rule.EndDate, &rule.Recurrence,
		&rule.DayOfWeek, &rule.DayOfMonth, &rule.IsAvailable, &slots, &rule.SlotDurationMinutes, &rule.BufferMinutes,
		&rule.MaxAppointments, &rule.Priority, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(slots, &rule.TimeSlots); err != nil {
		return nil, fmt.Errorf("decode time_slots of rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}

func (r *ruleRepoPG) Create(ctx context.Context, rule *AvailabilityRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	slots, err := json.Marshal(rule.windows())
	if err != nil {
		return fmt.Errorf("encode time_slots: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability_rules (id, doctor_id, schedule_type, start_date, end_date, recurrence_pattern,
			day_of_week, day_of_month, is_available, time_slots, slot_duration_minutes, buffer_minutes,
			max_appointments, priority, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		rule.ID, rule.DoctorID, rule.ScheduleType, rule.StartDate, rule.EndDate, rule.Recurrence,
		rule.DayOfWeek, rule.DayOfMonth, rule.IsAvailable, slots, rule.SlotDurationMinutes, rule.BufferMinutes,
		rule.MaxAppointments, rule.Priority, rule.IsActive).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert availability rule: %w", err)
	}
	return nil
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	rule, err := r.scanRule(r.conn(ctx).QueryRow(ctx, `SELECT `+ruleCols+` FROM availability_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("availability rule", id)
	}
	return rule, err
}

func (r *ruleRepoPG) Update(ctx context.Context, rule *AvailabilityRule) error {
	slots, err := json.Marshal(rule.windows())
	if err != nil {
		return fmt.Errorf("encode time_slots: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE availability_rules SET schedule_type=$2, start_date=$3, end_date=$4, recurrence_pattern=$5,
			day_of_week=$6, day_of_month=$7, is_available=$8, time_slots=$9, slot_duration_minutes=$10,
			buffer_minutes=$11, max_appointments=$12, priority=$13, is_active=$14, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rule.ID, rule.ScheduleType, rule.StartDate, rule.EndDate, rule.Recurrence,
		rule.DayOfWeek, rule.DayOfMonth, rule.IsAvailable, slots, rule.SlotDurationMinutes,
		rule.BufferMinutes, rule.MaxAppointments, rule.Priority, rule.IsActive).Scan(&rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("availability rule", rule.ID)
	}
	if err != nil {
		return fmt.Errorf("update availability rule: %w", err)
	}
	return nil
}

func (r *ruleRepoPG) ListActiveRules(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityRule, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ruleCols+` FROM availability_rules
		WHERE doctor_id = $1 AND is_active ORDER BY priority, id`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()
	var items []AvailabilityRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *rule)
	}
	return items, rows.Err()
}

func (r *ruleRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*AvailabilityRule, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM availability_rules WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ruleCols+` FROM availability_rules
		WHERE doctor_id = $1 ORDER BY is_active DESC, priority, created_at LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*AvailabilityRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rule)
	}
	return items, total, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, start_time, duration_minutes, status, type, reason,
	patient_notes, rejection_reason, cancellation_reason, cancelled_by, cancelled_at, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StartTime, &a.DurationMinutes, &a.Status, &a.Type, &a.Reason,
		&a.PatientNotes, &a.RejectionReason, &a.CancellationReason, &a.CancelledBy, &a.CancelledAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// writeErr maps the live-slot unique index to an overlap.
func writeErr(err error, a *Appointment) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &Error{
			Kind:   KindOverlap,
			Detail: fmt.Sprintf("doctor %s already has a live appointment at %s", a.DoctorID, a.StartTime.UTC().Format("2006-01-02T15:04Z")),
		}
	}
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, start_time, duration_minutes, status, type, reason,
			patient_notes, rejection_reason, cancellation_reason, cancelled_by, cancelled_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		a.ID, a.PatientID, a.DoctorID, a.StartTime, a.DurationMinutes, a.Status, a.Type, a.Reason,
		a.PatientNotes, a.RejectionReason, a.CancellationReason, a.CancelledBy, a.CancelledAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", writeErr(err, a))
	}
	return nil
}

func (r *appointmentRepoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("appointment", id)
	}
	return a, err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, id, "")
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET status=$2, rejection_reason=$3, cancellation_reason=$4, cancelled_by=$5,
			cancelled_at=$6, updated_at=$7
		WHERE id = $1`,
		a.ID, a.Status, a.RejectionReason, a.CancellationReason, a.CancelledBy, a.CancelledAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", writeErr(err, a))
	}
	if tag.RowsAffected() == 0 {
		return notFound("appointment", a.ID)
	}
	return nil
}

func (r *appointmentRepoPG) ListAppointments(ctx context.Context, doctorID uuid.UUID, tr TimeRange, exclude []Status) ([]Appointment, error) {
	excluded := make([]string, len(exclude))
	for i, s := range exclude {
		excluded[i] = string(s)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3 AND NOT (status = ANY($4))
		ORDER BY start_time, id`, doctorID, tr.From, tr.To, excluded)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error) {
	where, args := `doctor_id = $1`, []interface{}{doctorID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}
	return r.list(ctx, where, args, limit, offset)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, `patient_id = $1`, []interface{}{patientID}, limit, offset)
}

func (r *appointmentRepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE %s ORDER BY start_time, id LIMIT $%d OFFSET $%d`,
		apptCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
