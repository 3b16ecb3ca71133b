package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgExclusionViolation  = "23P01"
	pgForeignKeyViolation = "23503"

	numberConstraint = "appointments_appointment_number_key"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txKey struct{}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// conn returns the transaction bound by WithinDoctor, or the pool.
func (r *PgRepository) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

// WithinDoctor opens a transaction and takes a transaction-scoped advisory
// lock keyed on the doctor, so conflict checks and writes for one doctor
// never interleave. The exclusion constraint on appointments backs this up.
func (r *PgRepository) WithinDoctor(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin doctor transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, doctorID.String()); err != nil {
		return fmt.Errorf("lock doctor %s: %w", doctorID, err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapWriteError(fmt.Errorf("commit doctor transaction: %w", err))
	}
	return nil
}

// Helpers

const appointmentColumns = `id, appointment_number, patient_id, doctor_id, created_by,
	start_at, duration_minutes, type, status,
	chief_complaint, notes, preparation_instructions,
	confirmed_at, checked_in_at, started_at, completed_at, cancelled_at,
	cancellation_reason, cancelled_by,
	estimated_cost, actual_cost, payment_status,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.AppointmentNumber,
		&a.PatientID,
		&a.DoctorID,
		&a.CreatedBy,
		&a.StartAt,
		&a.DurationMinutes,
		&a.Type,
		&a.Status,
		&a.ChiefComplaint,
		&a.Notes,
		&a.PreparationInstructions,
		&a.ConfirmedAt,
		&a.CheckedInAt,
		&a.StartedAt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.EstimatedCost,
		&a.ActualCost,
		&a.PaymentStatus,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// mapWriteError turns constraint violations into domain errors.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == numberConstraint:
		return ErrDuplicateNumber
	case pgErr.Code == pgExclusionViolation:
		return ErrSlotUnavailable
	case pgErr.Code == pgForeignKeyViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrInvalidReference)
	}
	return err
}

// whereClause renders q as a WHERE clause with positional arguments.
func whereClause(q Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.DoctorID != nil {
		add("doctor_id = $%d", *q.DoctorID)
	}
	if q.PatientID != nil {
		add("patient_id = $%d", *q.PatientID)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if q.Type != nil {
		add("type = $%d", string(*q.Type))
	}
	if q.ExcludeID != nil {
		add("id <> $%d", *q.ExcludeID)
	}
	if q.Overlapping {
		if q.To != nil {
			add("start_at < $%d", *q.To)
		}
		if q.From != nil {
			add("end_at > $%d", *q.From)
		}
	} else {
		if q.From != nil {
			add("start_at >= $%d", *q.From)
		}
		if q.To != nil {
			add("start_at < $%d", *q.To)
		}
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// Interface methods

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, q Query) ([]Appointment, error) {
	where, args := whereClause(q)
	sql := `SELECT ` + appointmentColumns + ` FROM appointments ` + where + ` ORDER BY start_at ASC, appointment_number ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CountAppointments(ctx context.Context, q Query) (int, error) {
	where, args := whereClause(q)
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM appointments `+where, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// LockNumberPeriod takes a second transaction-scoped advisory lock keyed on
// the numbering period. Doctors are always locked before periods.
func (r *PgRepository) LockNumberPeriod(ctx context.Context, prefix string) error {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return errors.New("number period lock needs a doctor transaction")
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 1))`, "appointment_number:"+prefix); err != nil {
		return err
	}
	return nil
}

func (r *PgRepository) LastAppointmentNumber(ctx context.Context, prefix string) (string, error) {
	var number string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT appointment_number
		FROM appointments
		WHERE appointment_number LIKE $1 || '%'
		ORDER BY appointment_number DESC
		LIMIT 1
	`, prefix).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return number, nil
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`, end_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`,
		a.ID, a.AppointmentNumber, a.PatientID, a.DoctorID, a.CreatedBy,
		a.StartAt, a.DurationMinutes, a.Type, a.Status,
		a.ChiefComplaint, a.Notes, a.PreparationInstructions,
		a.ConfirmedAt, a.CheckedInAt, a.StartedAt, a.CompletedAt, a.CancelledAt,
		a.CancellationReason, a.CancelledBy,
		a.EstimatedCost, a.ActualCost, a.PaymentStatus,
		a.CreatedAt, a.UpdatedAt, a.EndAt(),
	)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET start_at = $2,
		    duration_minutes = $3,
		    end_at = $4,
		    type = $5,
		    status = $6,
		    chief_complaint = $7,
		    notes = $8,
		    preparation_instructions = $9,
		    confirmed_at = $10,
		    checked_in_at = $11,
		    started_at = $12,
		    completed_at = $13,
		    cancelled_at = $14,
		    cancellation_reason = $15,
		    cancelled_by = $16,
		    estimated_cost = $17,
		    actual_cost = $18,
		    payment_status = $19,
		    updated_at = $20
		WHERE id = $1
	`,
		a.ID, a.StartAt, a.DurationMinutes, a.EndAt(), a.Type, a.Status,
		a.ChiefComplaint, a.Notes, a.PreparationInstructions,
		a.ConfirmedAt, a.CheckedInAt, a.StartedAt, a.CompletedAt, a.CancelledAt,
		a.CancellationReason, a.CancelledBy,
		a.EstimatedCost, a.ActualCost, a.PaymentStatus, a.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) Stats(ctx context.Context, today, week Range) (*Stats, error) {
	c := r.conn(ctx)
	stats := &Stats{
		ByStatus: make(map[Status]int),
		ByType:   make(map[Type]int),
	}

	err := c.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE start_at >= $1 AND start_at < $2),
		       count(*) FILTER (WHERE start_at >= $3 AND start_at < $4)
		FROM appointments
	`, today.From, today.To, week.From, week.To).Scan(&stats.Total, &stats.Today, &stats.Week)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}

	if err := groupCount(ctx, c, "status", func(k string, n int) { stats.ByStatus[Status(k)] = n }); err != nil {
		return nil, err
	}
	if err := groupCount(ctx, c, "type", func(k string, n int) { stats.ByType[Type(k)] = n }); err != nil {
		return nil, err
	}
	return stats, nil
}

func groupCount(ctx context.Context, c querier, column string, set func(key string, n int)) error {
	rows, err := c.Query(ctx, `SELECT `+column+`, count(*) FROM appointments GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("count appointments by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		set(key, n)
	}
	return rows.Err()
}
