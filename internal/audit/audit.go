// Package audit records who changed which appointment. The HTTP layer calls
// it after an operation succeeds; the booking core never does.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentUpdated     = "APPOINTMENT_UPDATED"
	EventAppointmentStatus      = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCheckedIn   = "APPOINTMENT_CHECKED_IN"
)

type Entry struct {
	EventType     string
	ActorID       *uuid.UUID
	AppointmentID *uuid.UUID
	RequestID     string
	Payload       map[string]any
	CreatedAt     time.Time
}

type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// PgRecorder writes entries to audit_logs. A failed write is logged and
// swallowed so auditing never fails the request that triggered it.
type PgRecorder struct {
	pool *pgxpool.Pool
}

func NewPgRecorder(pool *pgxpool.Pool) *PgRecorder {
	return &PgRecorder{pool: pool}
}

func (r *PgRecorder) Record(ctx context.Context, e Entry) {
	if err := r.insert(ctx, e); err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Str("event_type", e.EventType).
			Msg("failed to record audit entry")
	}
}

func (r *PgRecorder) insert(ctx context.Context, e Entry) error {
	var payload []byte
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
		payload = data
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (event_type, actor_id, appointment_id, request_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, e.EventType, e.ActorID, e.AppointmentID, e.RequestID, payload, nullableTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// LogRecorder writes entries to the request logger only. It backs the audit
// trail when no database pool is configured, e.g. in tests.
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, e Entry) {
	ev := zerolog.Ctx(ctx).Info().Str("event_type", e.EventType)
	if e.ActorID != nil {
		ev = ev.Str("actor_id", e.ActorID.String())
	}
	if e.AppointmentID != nil {
		ev = ev.Str("appointment_id", e.AppointmentID.String())
	}
	ev.Interface("payload", e.Payload).Msg("audit")
}
