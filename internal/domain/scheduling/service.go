package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinic/clinic/internal/platform/telemetry"
)

const DefaultMaxRangeDays = 62

type ServiceConfig struct {
	Clock    Clock
	Location *time.Location
	// MaxRangeDays caps the inclusive date span of a slot query.
	MaxRangeDays int
	Events       EventRecorder
	Cache        SlotCache
	Logger       zerolog.Logger
}

type Service struct {
	rules        RuleRepository
	appointments AppointmentRepository
	tx           TxRunner

	clock   Clock
	loc     *time.Location
	maxDays int
	events  EventRecorder
	cache   SlotCache
	logger  zerolog.Logger
	tracer  trace.Tracer
}

func NewService(rules RuleRepository, appts AppointmentRepository, tx TxRunner, cfg ServiceConfig) *Service {
	s := &Service{
		rules:        rules,
		appointments: appts,
		tx:           tx,
		clock:        cfg.Clock,
		loc:          cfg.Location,
		maxDays:      cfg.MaxRangeDays,
		events:       cfg.Events,
		cache:        cfg.Cache,
		logger:       cfg.Logger,
		tracer:       telemetry.Tracer("github.com/clinic/clinic/internal/domain/scheduling"),
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.maxDays <= 0 {
		s.maxDays = DefaultMaxRangeDays
	}
	if s.events == nil {
		s.events = nopRecorder{}
	}
	if s.cache == nil {
		s.cache = NopSlotCache{}
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "scheduling."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if k := KindOf(err); k != "" {
			span.SetAttributes(attribute.String("scheduling.error_kind", string(k)))
		}
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// snapshot loads what Validate needs for one doctor around date. The window is
// widened by a day on each side so buffers that cross midnight are seen.
func (s *Service) snapshot(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (Snapshot, error) {
	rules, err := s.rules.ListActiveRules(ctx, doctorID)
	if err != nil {
		return Snapshot{}, err
	}
	r := TimeRange{
		From: at(from.AddDate(0, 0, -1), 0, s.loc),
		To:   at(to.AddDate(0, 0, 2), 0, s.loc),
	}
	appts, err := s.appointments.ListAppointments(ctx, doctorID, r, FreedStatuses)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Rules: rules, Appointments: appts, Now: s.clock.Now(), Location: s.loc}, nil
}

// -- Slots --

// GetAvailableSlots returns the free slots of doctorID for the inclusive
// calendar range [from, to], minus slots taken by live appointments.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (gen Generation, err error) {
	ctx, span := s.startSpan(ctx, "GetAvailableSlots", attribute.String("doctor_id", doctorID.String()))
	defer func() { endSpan(span, err) }()

	if doctorID == uuid.Nil {
		return Generation{}, invalidInput("doctor_id is required")
	}
	from, to = civilDate(from, time.UTC), civilDate(to, time.UTC)
	if to.Before(from) {
		return Generation{}, invalidInput("from %s is after to %s", from.Format(dateLayout), to.Format(dateLayout))
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > s.maxDays {
		return Generation{}, invalidInput("range of %d days exceeds the maximum of %d", days, s.maxDays)
	}

	now := s.clock.Now()
	cached, key, hit := s.cache.Lookup(ctx, doctorID, from, to)
	span.SetAttributes(attribute.Bool("cache_hit", hit))
	if hit {
		cached.Slots = dropStarted(cached.Slots, now)
		return cached, nil
	}

	snap, err := s.snapshot(ctx, doctorID, from, to)
	if err != nil {
		return Generation{}, err
	}
	gen = GenerateSlots(snap.Rules, snap.Appointments, SlotQuery{
		DoctorID: doctorID,
		From:     from,
		To:       to,
		Now:      now,
		Location: s.loc,
	})
	gen.Slots = FreeSlots(gen.Slots, snap.Appointments)
	if len(gen.Conflicts) > 0 {
		s.logger.Warn().
			Str("doctor_id", doctorID.String()).
			Strs("dates", gen.Conflicts).
			Msg("availability rules conflict; dates skipped")
	}
	s.cache.Store(ctx, key, gen)
	return gen, nil
}

// -- Requests --

type RequestInput struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Start           time.Time
	DurationMinutes int
	Type            AppointmentType
	Reason          string
	Notes           string
}

func (in *RequestInput) normalize(actor Actor) error {
	if in.PatientID == uuid.Nil {
		in.PatientID = actor.ID
	}
	if in.PatientID == uuid.Nil {
		return invalidInput("patient_id is required")
	}
	if in.DoctorID == uuid.Nil {
		return invalidInput("doctor_id is required")
	}
	if in.Start.IsZero() {
		return invalidInput("start_time is required")
	}
	if in.DurationMinutes < 0 {
		return invalidInput("duration_minutes must be positive")
	}
	if in.Type == "" {
		in.Type = TypeFirstVisit
	}
	if !validAppointmentTypes[in.Type] {
		return invalidInput("unknown appointment type %q", in.Type)
	}
	if !actor.IsAdmin() && in.PatientID != actor.ID {
		return newError(KindForbidden, "patients may only request appointments for themselves")
	}
	return nil
}

// RequestAppointment validates the requested time and stores a pending
// appointment. Nothing is persisted when validation fails.
func (s *Service) RequestAppointment(ctx context.Context, actor Actor, in RequestInput) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "RequestAppointment", attribute.String("doctor_id", in.DoctorID.String()))
	defer func() { endSpan(span, err) }()

	if !CanInitiate(actor, ActionRequest) {
		return nil, newError(KindForbidden, "request requires role %v", initiators[ActionRequest])
	}
	if err := in.normalize(actor); err != nil {
		return nil, err
	}

	err = s.tx.WithinLock(ctx, doctorLockKey(in.DoctorID), func(ctx context.Context) error {
		date := civilDate(in.Start, s.loc)
		snap, err := s.snapshot(ctx, in.DoctorID, date, date)
		if err != nil {
			return err
		}
		if in.DurationMinutes == 0 {
			in.DurationMinutes = DefaultSlotDurationMinutes
			if res, rerr := Resolve(rulesFor(snap.Rules, in.DoctorID), date); rerr == nil && res.Rule != nil {
				in.DurationMinutes = res.Rule.SlotDurationMinutes
			}
		}
		if err := Validate(snap, Candidate{DoctorID: in.DoctorID, Start: in.Start, DurationMinutes: in.DurationMinutes}); err != nil {
			return err
		}

		appt = NewRequest(in.PatientID, in.DoctorID, in.Start, in.DurationMinutes, in.Type, in.Reason, in.Notes, snap.Now)
		appt.ID = uuid.New()
		if err := s.appointments.Create(ctx, appt); err != nil {
			return err
		}
		return s.record(ctx, appt, ActionRequest, actor, snap.Now)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, in.DoctorID)
	s.logTransition(appt, ActionRequest, actor)
	return appt, nil
}

func (s *Service) ApproveRequest(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, ActionApprove, "")
}

func (s *Service) RejectRequest(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, actor, id, ActionReject, reason)
}

func (s *Service) CancelAppointment(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, actor, id, ActionCancel, reason)
}

func (s *Service) ConfirmAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, ActionConfirm, "")
}

func (s *Service) StartAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, ActionStart, "")
}

func (s *Service) CompleteAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, ActionComplete, "")
}

func (s *Service) MarkNoShow(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, ActionNoShow, "")
}

// checkAllowed runs the participant, role and edge checks in that order.
func checkAllowed(actor Actor, appt *Appointment, action Action) error {
	if !actor.IsAdmin() && !actor.participates(appt) {
		return newError(KindForbidden, "actor %s is not a participant of appointment %s", actor.ID, appt.ID)
	}
	if !CanInitiate(actor, action) {
		return newError(KindForbidden, "%s requires role %v", action, initiators[action])
	}
	_, err := Next(appt.Status, action)
	return err
}

// transition locks the appointment's doctor, re-reads the row and applies action.
func (s *Service) transition(ctx context.Context, actor Actor, id uuid.UUID, action Action, reason string) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, string(action),
		attribute.String("appointment_id", id.String()),
		attribute.String("action", string(action)))
	defer func() { endSpan(span, err) }()

	current, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinLock(ctx, doctorLockKey(current.DoctorID), func(ctx context.Context) error {
		locked, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := checkAllowed(actor, locked, action); err != nil {
			return err
		}

		now := s.clock.Now()
		if action == ActionApprove {
			date := civilDate(locked.StartTime, s.loc)
			snap, err := s.snapshot(ctx, locked.DoctorID, date, date)
			if err != nil {
				return err
			}
			snap.Now = now
			if err := Validate(snap, Candidate{
				DoctorID:        locked.DoctorID,
				Start:           locked.StartTime,
				DurationMinutes: locked.DurationMinutes,
				ExcludeID:       locked.ID,
			}); err != nil {
				return err
			}
		}

		if err := Apply(locked, Transition{Action: action, Actor: actor, Reason: reason, At: now}); err != nil {
			return err
		}
		if err := s.appointments.Update(ctx, locked); err != nil {
			return err
		}
		appt = locked
		return s.record(ctx, locked, action, actor, now)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, appt.DoctorID)
	s.logTransition(appt, action, actor)
	return appt, nil
}

func (s *Service) record(ctx context.Context, appt *Appointment, action Action, actor Actor, at time.Time) error {
	evt, err := newAppointmentEvent(appt, action, actor, at)
	if err != nil {
		return err
	}
	return s.events.Record(ctx, evt)
}

func (s *Service) logTransition(appt *Appointment, action Action, actor Actor) {
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("actor_id", actor.ID.String()).
		Str("action", string(action)).
		Str("status", string(appt.Status)).
		Msg("appointment transition")
}

// -- Reads --

func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.participates(appt) {
		return nil, newError(KindForbidden, "appointment %s is not visible to %s", id, actor.ID)
	}
	return appt, nil
}

func (s *Service) ListDoctorAppointments(ctx context.Context, actor Actor, doctorID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error) {
	if !actor.IsAdmin() && actor.ID != doctorID {
		return nil, 0, newError(KindForbidden, "only the doctor or an admin may list these appointments")
	}
	if status != "" && !status.Valid() {
		return nil, 0, invalidInput("unknown status %q", status)
	}
	return s.appointments.ListByDoctor(ctx, doctorID, status, limit, offset)
}

func (s *Service) ListPatientAppointments(ctx context.Context, actor Actor, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	if !actor.IsAdmin() && !actor.Has(RoleDoctor) && actor.ID != patientID {
		return nil, 0, newError(KindForbidden, "only the patient, a doctor or an admin may list these appointments")
	}
	return s.appointments.ListByPatient(ctx, patientID, limit, offset)
}

// -- Rules --

func canManageRules(actor Actor, doctorID uuid.UUID) bool {
	return actor.IsAdmin() || (actor.Has(RoleDoctor) && actor.ID == doctorID)
}

// CreateRule validates and stores a new rule. A rule may only be created by its doctor or an admin.
func (s *Service) CreateRule(ctx context.Context, actor Actor, rule *AvailabilityRule) (err error) {
	ctx, span := s.startSpan(ctx, "CreateRule", attribute.String("doctor_id", rule.DoctorID.String()))
	defer func() { endSpan(span, err) }()

	if !canManageRules(actor, rule.DoctorID) {
		return newError(KindForbidden, "only the doctor or an admin may manage these rules")
	}
	rule.ApplyDefaults()
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.ID = uuid.New()
	err = s.tx.WithinLock(ctx, doctorLockKey(rule.DoctorID), func(ctx context.Context) error {
		return s.rules.Create(ctx, rule)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, rule.DoctorID)
	return nil
}

// UpdateRule replaces the rule's definition. The owning doctor never changes.
func (s *Service) UpdateRule(ctx context.Context, actor Actor, id uuid.UUID, rule *AvailabilityRule) (err error) {
	ctx, span := s.startSpan(ctx, "UpdateRule", attribute.String("rule_id", id.String()))
	defer func() { endSpan(span, err) }()

	existing, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !canManageRules(actor, existing.DoctorID) {
		return newError(KindForbidden, "only the doctor or an admin may manage these rules")
	}
	rule.ID = existing.ID
	rule.DoctorID = existing.DoctorID
	rule.CreatedAt = existing.CreatedAt
	rule.ApplyDefaults()
	if err := rule.Validate(); err != nil {
		return err
	}
	err = s.tx.WithinLock(ctx, doctorLockKey(rule.DoctorID), func(ctx context.Context) error {
		return s.rules.Update(ctx, rule)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, rule.DoctorID)
	return nil
}

// DeactivateRule soft-deletes a rule; inactive rules never match.
func (s *Service) DeactivateRule(ctx context.Context, actor Actor, id uuid.UUID) (*AvailabilityRule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManageRules(actor, rule.DoctorID) {
		return nil, newError(KindForbidden, "only the doctor or an admin may manage these rules")
	}
	if !rule.IsActive {
		return rule, nil
	}
	rule.IsActive = false
	err = s.tx.WithinLock(ctx, doctorLockKey(rule.DoctorID), func(ctx context.Context) error {
		return s.rules.Update(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, rule.DoctorID)
	return rule, nil
}

func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	return s.rules.GetByID(ctx, id)
}

func (s *Service) ListRules(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*AvailabilityRule, int, error) {
	return s.rules.ListByDoctor(ctx, doctorID, limit, offset)
}
