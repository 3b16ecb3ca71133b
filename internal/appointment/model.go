package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// ActiveStatuses are the statuses that still occupy a doctor's calendar.
var ActiveStatuses = []Status{StatusScheduled, StatusConfirmed, StatusInProgress}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed || s == StatusInProgress
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// transitions lists, per status, the statuses reachable in one step:
//
//	scheduled → confirmed → in_progress → completed
//	scheduled|confirmed|in_progress → cancelled
//	scheduled|confirmed → no_show
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Type string

const (
	TypeConsultation Type = "consultation"
	TypeFollowUp     Type = "follow_up"
	TypeEmergency    Type = "emergency"
	TypeProcedure    Type = "procedure"
	TypeCheckup      Type = "checkup"
)

func (t Type) Valid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeProcedure, TypeCheckup:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPaid          PaymentStatus = "paid"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentRefunded      PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentPartiallyPaid, PaymentRefunded:
		return true
	}
	return false
}

// Role is the staff role carried by users and access tokens.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleReceptionist Role = "receptionist"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist:
		return true
	}
	return false
}

type StaffStatus string

const (
	StaffActive    StaffStatus = "active"
	StaffInactive  StaffStatus = "inactive"
	StaffSuspended StaffStatus = "suspended"
)

type Doctor struct {
	ID     uuid.UUID
	Role   Role
	Status StaffStatus
}

type Patient struct {
	ID uuid.UUID
}

const DefaultCancellationReason = "No reason provided"

type Appointment struct {
	ID                uuid.UUID
	AppointmentNumber string

	PatientID uuid.UUID
	DoctorID  uuid.UUID
	CreatedBy uuid.UUID

	StartAt         time.Time
	DurationMinutes int
	Type            Type
	Status          Status

	ChiefComplaint          *string
	Notes                   *string
	PreparationInstructions *string

	ConfirmedAt        *time.Time
	CheckedInAt        *time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason *string
	CancelledBy        *uuid.UUID

	EstimatedCost decimal.NullDecimal
	ActualCost    decimal.NullDecimal
	PaymentStatus PaymentStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Appointment) Window() Window {
	return Window{Start: a.StartAt, Duration: time.Duration(a.DurationMinutes) * time.Minute}
}

func (a *Appointment) EndAt() time.Time {
	return a.Window().End()
}

// Query filters appointment listings. Zero values mean "no filter".
type Query struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Statuses  []Status
	Type      *Type
	// From and To bound StartAt as [From, To).
	From *time.Time
	To   *time.Time
	// Overlapping selects appointments whose window intersects [From, To)
	// instead of those starting inside it.
	Overlapping bool
	ExcludeID   *uuid.UUID
	Limit       int
	Offset      int
}

type Stats struct {
	Total    int            `json:"total_appointments"`
	Today    int            `json:"today_appointments"`
	Week     int            `json:"week_appointments"`
	ByStatus map[Status]int `json:"appointments_by_status"`
	ByType   map[Type]int   `json:"appointments_by_type"`
}
