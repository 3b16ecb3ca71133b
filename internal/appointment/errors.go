package appointment

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service wraps exactly one of
// these, so callers branch with errors.Is on the kind.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidReference  = errors.New("invalid reference")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyCancelled  = errors.New("appointment is already cancelled")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCapacity          = errors.New("capacity exhausted")
	ErrUniqueness        = errors.New("uniqueness violation")
)

var (
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)

	ErrNotADoctor     = fmt.Errorf("referenced user is not a doctor: %w", ErrInvalidReference)
	ErrDoctorInactive = fmt.Errorf("doctor is not active: %w", ErrInvalidReference)

	ErrSlotUnavailable = fmt.Errorf("time slot not available: %w", ErrConflict)

	ErrCapacityExhausted = fmt.Errorf("appointment numbers exhausted for period: %w", ErrCapacity)

	ErrDuplicateNumber = fmt.Errorf("appointment number already taken: %w", ErrUniqueness)
)
