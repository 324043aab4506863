package scheduling

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies a scheduling failure. Handlers map each kind to an HTTP status.
type Kind string

const (
	KindPastDateTime        Kind = "past_date_time"
	KindOverlap             Kind = "overlap"
	KindOutsideAvailability Kind = "outside_availability"
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindInvalidTransition   Kind = "invalid_transition"
	KindRuleConflict        Kind = "rule_conflict"
	KindNotFound            Kind = "not_found"
	KindInvalidInput        Kind = "invalid_input"
	KindForbidden           Kind = "forbidden"
)

var (
	ErrPastDateTime        = errors.New("start time must be in the future")
	ErrOverlap             = errors.New("requested time overlaps an existing appointment")
	ErrOutsideAvailability = errors.New("requested time is outside the doctor's availability")
	ErrCapacityExceeded    = errors.New("doctor has no remaining capacity on that date")
	ErrInvalidTransition   = errors.New("transition not allowed from current status")
	ErrRuleConflict        = errors.New("availability rules conflict for that date")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrForbidden           = errors.New("actor is not allowed to perform this action")
)

var sentinels = map[Kind]error{
	KindPastDateTime:        ErrPastDateTime,
	KindOverlap:             ErrOverlap,
	KindOutsideAvailability: ErrOutsideAvailability,
	KindCapacityExceeded:    ErrCapacityExceeded,
	KindInvalidTransition:   ErrInvalidTransition,
	KindRuleConflict:        ErrRuleConflict,
	KindNotFound:            ErrNotFound,
	KindInvalidInput:        ErrInvalidInput,
	KindForbidden:           ErrForbidden,
}

// Error is the discriminated failure returned by the scheduling core.
// It unwraps to the sentinel of its Kind so callers can use errors.Is.
type Error struct {
	Kind   Kind
	Detail string

	// ConflictingID is set for KindOverlap.
	ConflictingID uuid.UUID
	// From and Action are set for KindInvalidTransition.
	From   Status
	Action Action
}

func (e *Error) Error() string {
	base := sentinels[e.Kind]
	if base == nil {
		base = errors.New(string(e.Kind))
	}
	if e.Detail == "" {
		return base.Error()
	}
	return fmt.Sprintf("%s: %s", base.Error(), e.Detail)
}

func (e *Error) Unwrap() error { return sentinels[e.Kind] }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func invalidInput(format string, args ...any) *Error {
	return newError(KindInvalidInput, format, args...)
}

func notFound(what string, id uuid.UUID) *Error {
	return newError(KindNotFound, "%s %s", what, id)
}

// KindOf returns the Kind carried by err, or "" when err is not a scheduling error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return ""
}
