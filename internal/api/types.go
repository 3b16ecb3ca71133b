package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

const (
	maxChiefComplaintLen     = 500
	maxCancellationReasonLen = 500
)

type CreateAppointmentRequest struct {
	PatientID               string           `json:"patient_id"`
	DoctorID                string           `json:"doctor_id"`
	AppointmentDate         time.Time        `json:"appointment_date"`
	DurationMinutes         int              `json:"duration_minutes"`
	AppointmentType         string           `json:"appointment_type"`
	ChiefComplaint          *string          `json:"chief_complaint"`
	Notes                   *string          `json:"notes"`
	PreparationInstructions *string          `json:"preparation_instructions"`
	EstimatedCost           *decimal.Decimal `json:"estimated_cost"`
}

// UpdateAppointmentRequest is a partial update. Window fields reschedule the
// appointment; everything else edits details.
type UpdateAppointmentRequest struct {
	AppointmentDate         *time.Time       `json:"appointment_date"`
	DurationMinutes         *int             `json:"duration_minutes"`
	AppointmentType         *string          `json:"appointment_type"`
	ChiefComplaint          *string          `json:"chief_complaint"`
	Notes                   *string          `json:"notes"`
	PreparationInstructions *string          `json:"preparation_instructions"`
	EstimatedCost           *decimal.Decimal `json:"estimated_cost"`
	ActualCost              *decimal.Decimal `json:"actual_cost"`
	PaymentStatus           *string          `json:"payment_status"`
}

func (r UpdateAppointmentRequest) reschedules() bool {
	return r.AppointmentDate != nil || r.DurationMinutes != nil
}

func (r UpdateAppointmentRequest) editsDetails() bool {
	return r.AppointmentType != nil || r.ChiefComplaint != nil || r.Notes != nil ||
		r.PreparationInstructions != nil || r.EstimatedCost != nil ||
		r.ActualCost != nil || r.PaymentStatus != nil
}

type StatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type CancelRequest struct {
	Reason string `json:"cancellation_reason"`
}

type AvailabilityRequest struct {
	DoctorID             string    `json:"doctor_id"`
	AppointmentDate      time.Time `json:"appointment_date"`
	DurationMinutes      int       `json:"duration_minutes"`
	ExcludeAppointmentID *string   `json:"exclude_appointment_id"`
}

type AppointmentResponse struct {
	ID                uuid.UUID `json:"id"`
	AppointmentNumber string    `json:"appointment_number"`
	PatientID         uuid.UUID `json:"patient_id"`
	DoctorID          uuid.UUID `json:"doctor_id"`
	CreatedBy         uuid.UUID `json:"created_by"`

	AppointmentDate time.Time `json:"appointment_date"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	AppointmentType string    `json:"appointment_type"`
	Status          string    `json:"status"`

	ChiefComplaint          *string `json:"chief_complaint,omitempty"`
	Notes                   *string `json:"notes,omitempty"`
	PreparationInstructions *string `json:"preparation_instructions,omitempty"`

	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CheckedInAt        *time.Time `json:"checked_in_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`

	EstimatedCost *decimal.Decimal `json:"estimated_cost,omitempty"`
	ActualCost    *decimal.Decimal `json:"actual_cost,omitempty"`
	PaymentStatus string           `json:"payment_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                      a.ID,
		AppointmentNumber:       a.AppointmentNumber,
		PatientID:               a.PatientID,
		DoctorID:                a.DoctorID,
		CreatedBy:               a.CreatedBy,
		AppointmentDate:         a.StartAt,
		EndTime:                 a.EndAt(),
		DurationMinutes:         a.DurationMinutes,
		AppointmentType:         string(a.Type),
		Status:                  string(a.Status),
		ChiefComplaint:          a.ChiefComplaint,
		Notes:                   a.Notes,
		PreparationInstructions: a.PreparationInstructions,
		ConfirmedAt:             a.ConfirmedAt,
		CheckedInAt:             a.CheckedInAt,
		StartedAt:               a.StartedAt,
		CompletedAt:             a.CompletedAt,
		CancelledAt:             a.CancelledAt,
		CancellationReason:      a.CancellationReason,
		CancelledBy:             a.CancelledBy,
		EstimatedCost:           nullDecimal(a.EstimatedCost),
		ActualCost:              nullDecimal(a.ActualCost),
		PaymentStatus:           string(a.PaymentStatus),
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
	}
}

func toResponses(items []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(items))
	for i := range items {
		out = append(out, toResponse(&items[i]))
	}
	return out
}

func nullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

type ListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type AvailabilityResponse struct {
	Available      bool                  `json:"available"`
	Conflicts      []AppointmentResponse `json:"conflicts"`
	SuggestedTimes []time.Time           `json:"suggested_times"`
}

type ScheduleResponse struct {
	DoctorID     uuid.UUID             `json:"doctor_id"`
	Date         string                `json:"date"`
	Appointments []AppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
