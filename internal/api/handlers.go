package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/audit"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const dateLayout = "2006-01-02"

// clinicalRoles may move an appointment into or out of the consultation.
var clinicalRoles = []appointment.Role{appointment.RoleAdmin, appointment.RoleDoctor, appointment.RoleNurse}

type appointmentHandler struct {
	svc     AppointmentService
	audit   audit.Recorder
	metrics *metrics.Metrics
}

func (h *appointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	patientID, ok := parseUUIDField(w, req.PatientID, "patient_id")
	if !ok {
		return
	}
	doctorID, ok := parseUUIDField(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	if req.AppointmentDate.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_appointment_date", "appointment_date is required (RFC3339)")
		return
	}
	if req.ChiefComplaint != nil && len(*req.ChiefComplaint) > maxChiefComplaintLen {
		writeError(w, http.StatusBadRequest, "invalid_chief_complaint", "chief_complaint must be at most 500 characters")
		return
	}
	apptType := appointment.TypeConsultation
	if req.AppointmentType != "" {
		apptType = appointment.Type(req.AppointmentType)
	}
	var cost decimal.NullDecimal
	if req.EstimatedCost != nil {
		if req.EstimatedCost.IsNegative() {
			writeError(w, http.StatusBadRequest, "invalid_estimated_cost", "estimated_cost must not be negative")
			return
		}
		cost = decimal.NewNullDecimal(*req.EstimatedCost)
	}

	p, _ := auth.PrincipalFrom(r.Context())
	appt, err := h.svc.Create(r.Context(), appointment.CreateRequest{
		PatientID:               patientID,
		DoctorID:                doctorID,
		CreatedBy:               p.UserID,
		StartAt:                 req.AppointmentDate,
		DurationMinutes:         req.DurationMinutes,
		Type:                    apptType,
		ChiefComplaint:          req.ChiefComplaint,
		Notes:                   req.Notes,
		PreparationInstructions: req.PreparationInstructions,
		EstimatedCost:           cost,
	})
	h.observe("create", err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.record(r, audit.EventAppointmentCreated, appt, map[string]any{
		"appointment_number": appt.AppointmentNumber,
		"doctor_id":          appt.DoctorID.String(),
		"appointment_date":   appt.StartAt,
	})
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

func (h *appointmentHandler) list(w http.ResponseWriter, r *http.Request) {
	q, ok := parseListQuery(w, r)
	if !ok {
		return
	}

	page, err := h.svc.List(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Items:  toResponses(page.Items),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func (h *appointmentHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *appointmentHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	var req UpdateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.reschedules() && !req.editsDetails() {
		writeError(w, http.StatusBadRequest, "empty_update", "no updatable fields supplied")
		return
	}
	if req.ChiefComplaint != nil && len(*req.ChiefComplaint) > maxChiefComplaintLen {
		writeError(w, http.StatusBadRequest, "invalid_chief_complaint", "chief_complaint must be at most 500 characters")
		return
	}
	for name, d := range map[string]*decimal.Decimal{"estimated_cost": req.EstimatedCost, "actual_cost": req.ActualCost} {
		if d != nil && d.IsNegative() {
			writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must not be negative")
			return
		}
	}

	upd := appointment.UpdateRequest{
		Window: appointment.RescheduleRequest{
			StartAt:         req.AppointmentDate,
			DurationMinutes: req.DurationMinutes,
		},
		Details: appointment.DetailsUpdate{
			ChiefComplaint:          req.ChiefComplaint,
			Notes:                   req.Notes,
			PreparationInstructions: req.PreparationInstructions,
			EstimatedCost:           req.EstimatedCost,
			ActualCost:              req.ActualCost,
		},
	}
	if req.AppointmentType != nil {
		t := appointment.Type(*req.AppointmentType)
		upd.Details.Type = &t
	}
	if req.PaymentStatus != nil {
		ps := appointment.PaymentStatus(*req.PaymentStatus)
		upd.Details.PaymentStatus = &ps
	}

	op := "update"
	if req.reschedules() {
		op = "reschedule"
	}
	appt, err := h.svc.Update(r.Context(), id, upd)
	h.observe(op, err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if req.reschedules() {
		h.record(r, audit.EventAppointmentRescheduled, appt, map[string]any{
			"appointment_date": appt.StartAt,
			"duration_minutes": appt.DurationMinutes,
		})
	}
	if req.editsDetails() {
		h.record(r, audit.EventAppointmentUpdated, appt, nil)
	}

	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *appointmentHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status := appointment.Status(req.Status)
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+strconv.Quote(req.Status))
		return
	}
	if len(req.Reason) > maxCancellationReasonLen {
		writeError(w, http.StatusBadRequest, "invalid_reason", "reason must be at most 500 characters")
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	if requiresClinicalRole(status) && !hasRole(p, clinicalRoles) {
		writeError(w, http.StatusForbidden, "forbidden", "role "+string(p.Role)+" may not set status "+string(status))
		return
	}

	appt, err := h.svc.Transition(r.Context(), id, appointment.TransitionRequest{
		Status: status,
		Actor:  p.UserID,
		Reason: req.Reason,
	})
	h.observe("transition", err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	event := audit.EventAppointmentStatus
	if status == appointment.StatusCancelled {
		event = audit.EventAppointmentCancelled
	}
	h.record(r, event, appt, map[string]any{"status": string(appt.Status)})
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *appointmentHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	// The body is optional.
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if len(req.Reason) > maxCancellationReasonLen {
		writeError(w, http.StatusBadRequest, "invalid_reason", "cancellation_reason must be at most 500 characters")
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	appt, err := h.svc.Cancel(r.Context(), id, p.UserID, req.Reason)
	h.observe("cancel", err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.record(r, audit.EventAppointmentCancelled, appt, map[string]any{
		"reason": *appt.CancellationReason,
	})
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *appointmentHandler) checkIn(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.CheckIn(r.Context(), id)
	h.observe("check_in", err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.record(r, audit.EventAppointmentCheckedIn, appt, nil)
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *appointmentHandler) availability(w http.ResponseWriter, r *http.Request) {
	var req AvailabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doctorID, ok := parseUUIDField(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	if req.AppointmentDate.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_appointment_date", "appointment_date is required (RFC3339)")
		return
	}
	minutes := req.DurationMinutes
	if minutes == 0 {
		minutes = appointment.DefaultDurationMinutes
	}
	var exclude *uuid.UUID
	if req.ExcludeAppointmentID != nil {
		id, ok := parseUUIDField(w, *req.ExcludeAppointmentID, "exclude_appointment_id")
		if !ok {
			return
		}
		exclude = &id
	}

	av, err := h.svc.CheckAvailability(r.Context(), doctorID, appointment.NewWindow(req.AppointmentDate, minutes), exclude)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	suggested := av.SuggestedStarts
	if suggested == nil {
		suggested = []time.Time{}
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{
		Available:      av.Available,
		Conflicts:      toResponses(av.Conflicts),
		SuggestedTimes: suggested,
	})
}

func (h *appointmentHandler) upcoming(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseIntQuery(w, r, "limit", 0)
	if !ok {
		return
	}

	items, err := h.svc.GetUpcoming(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponses(items))
}

func (h *appointmentHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *appointmentHandler) doctorSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	raw := r.URL.Query().Get("date")
	day, err := time.Parse(dateLayout, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	items, err := h.svc.GetDoctorSchedule(r.Context(), doctorID, day)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleResponse{
		DoctorID:     doctorID,
		Date:         raw,
		Appointments: toResponses(items),
	})
}

func (h *appointmentHandler) observe(op string, err error) {
	if h.metrics != nil {
		h.metrics.BookingOutcome(op, err)
	}
}

func (h *appointmentHandler) record(r *http.Request, event string, appt *appointment.Appointment, payload map[string]any) {
	e := audit.Entry{
		EventType:     event,
		AppointmentID: &appt.ID,
		RequestID:     GetRequestID(r.Context()),
		Payload:       payload,
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		e.ActorID = &p.UserID
	}
	h.audit.Record(r.Context(), e)
}

func requiresClinicalRole(s appointment.Status) bool {
	return s == appointment.StatusInProgress || s == appointment.StatusCompleted || s == appointment.StatusNoShow
}

func hasRole(p *auth.Principal, roles []appointment.Role) bool {
	if p == nil {
		return false
	}
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

func parseListQuery(w http.ResponseWriter, r *http.Request) (appointment.Query, bool) {
	values := r.URL.Query()
	var q appointment.Query

	if raw := values.Get("doctor_id"); raw != "" {
		id, ok := parseUUIDField(w, raw, "doctor_id")
		if !ok {
			return q, false
		}
		q.DoctorID = &id
	}
	if raw := values.Get("patient_id"); raw != "" {
		id, ok := parseUUIDField(w, raw, "patient_id")
		if !ok {
			return q, false
		}
		q.PatientID = &id
	}
	for _, raw := range values["status"] {
		for _, s := range strings.Split(raw, ",") {
			status := appointment.Status(strings.TrimSpace(s))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+strconv.Quote(s))
				return q, false
			}
			q.Statuses = append(q.Statuses, status)
		}
	}
	if raw := values.Get("appointment_type"); raw != "" {
		t := appointment.Type(raw)
		if !t.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_appointment_type", "unknown appointment type "+strconv.Quote(raw))
			return q, false
		}
		q.Type = &t
	}
	for name, dst := range map[string]**time.Time{"date_from": &q.From, "date_to": &q.To} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be RFC3339")
			return q, false
		}
		*dst = &t
	}

	limit, ok := parseIntQuery(w, r, "limit", 0)
	if !ok {
		return q, false
	}
	if limit != 0 && (limit < 1 || limit > 100) {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
		return q, false
	}
	offset, ok := parseIntQuery(w, r, "offset", 0)
	if !ok {
		return q, false
	}
	if offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must not be negative")
		return q, false
	}
	q.Limit, q.Offset = limit, offset
	return q, true
}

func parseIntQuery(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDField(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// writeServiceError maps an error kind from the appointment package to a
// status code. Unclassified errors are logged and hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidReference):
		writeError(w, http.StatusUnprocessableEntity, "invalid_reference", err.Error())
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, appointment.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, appointment.ErrCapacity):
		writeError(w, http.StatusServiceUnavailable, "capacity_exhausted", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
