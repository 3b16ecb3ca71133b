package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Directory resolves the people an appointment refers to. Patient and staff
// records are owned elsewhere; the booking core only reads them.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
}

// Range is the half-open time interval [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// Store contains all appointment persistence needed by the service.
type Store interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, q Query) ([]Appointment, error)
	CountAppointments(ctx context.Context, q Query) (int, error)

	// LockNumberPeriod serializes appointment number allocation for prefix
	// across all doctors until the enclosing WithinDoctor unit ends. It
	// must be called from inside a unit.
	LockNumberPeriod(ctx context.Context, prefix string) error

	// LastAppointmentNumber returns the greatest number starting with
	// prefix, or "" when none exists.
	LastAppointmentNumber(ctx context.Context, prefix string) (string, error)

	// InsertAppointment fails with ErrDuplicateNumber when the number is
	// already taken and ErrSlotUnavailable when the store itself detects
	// an overlapping active booking.
	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error

	Stats(ctx context.Context, today, week Range) (*Stats, error)
}

type Repository interface {
	Store

	// WithinDoctor runs fn as one atomic unit that is serialized against
	// every other unit for the same doctor. Store calls made with the
	// context handed to fn take part in the unit; when fn returns an error
	// none of its writes are kept.
	WithinDoctor(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}
