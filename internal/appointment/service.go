package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	defaultMaxAttempts   = 3
	defaultUpcomingLimit = 10
	defaultPageLimit     = 20
	maxPageLimit         = 100
	noShowBatchSize      = 500
)

type Service struct {
	repo        Repository
	dir         Directory
	locker      redisclient.Locker
	now         func() time.Time
	loc         *time.Location
	maxAttempts int
}

type Option func(*Service)

// WithClock replaces time.Now, which also decides the numbering period.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the clinic time zone used for calendar days, weeks and
// numbering periods.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLocker guards bookings with a distributed per-doctor lock taken
// before the store's own atomic unit.
func WithLocker(l redisclient.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithMaxAttempts bounds how often a booking is retried after losing an
// appointment number race.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewService(repo Repository, dir Directory, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		dir:         dir,
		now:         time.Now,
		loc:         time.UTC,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateRequest struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	CreatedBy       uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	Type            Type

	ChiefComplaint          *string
	Notes                   *string
	PreparationInstructions *string
	EstimatedCost           decimal.NullDecimal
}

// Create books a new appointment after checking the patient, the doctor and
// the doctor's calendar.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if req.DurationMinutes == 0 {
		req.DurationMinutes = DefaultDurationMinutes
	}
	if err := ValidateDuration(req.DurationMinutes); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown appointment type %q: %w", req.Type, ErrInvalidInput)
	}
	if req.StartAt.IsZero() {
		return nil, fmt.Errorf("start time is required: %w", ErrInvalidInput)
	}
	if !req.StartAt.After(s.now()) {
		return nil, fmt.Errorf("appointment must start in the future: %w", ErrInvalidInput)
	}

	if err := s.verifyPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	if err := s.verifyDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	window := NewWindow(req.StartAt, req.DurationMinutes)

	var created *Appointment
	err := s.book(ctx, req.DoctorID, func(ctx context.Context) error {
		if err := s.ensureAvailable(ctx, req.DoctorID, window, nil); err != nil {
			return err
		}

		now := s.now()
		prefix := NumberPrefix(now, s.loc)
		if err := s.repo.LockNumberPeriod(ctx, prefix); err != nil {
			return fmt.Errorf("lock numbering period %s: %w", prefix, err)
		}
		last, err := s.repo.LastAppointmentNumber(ctx, prefix)
		if err != nil {
			return fmt.Errorf("load last appointment number: %w", err)
		}
		number, err := NextNumber(prefix, last)
		if err != nil {
			return err
		}

		appt := &Appointment{
			ID:                      uuid.New(),
			AppointmentNumber:       number,
			PatientID:               req.PatientID,
			DoctorID:                req.DoctorID,
			CreatedBy:               req.CreatedBy,
			StartAt:                 req.StartAt,
			DurationMinutes:         req.DurationMinutes,
			Type:                    req.Type,
			Status:                  StatusScheduled,
			ChiefComplaint:          req.ChiefComplaint,
			Notes:                   req.Notes,
			PreparationInstructions: req.PreparationInstructions,
			EstimatedCost:           req.EstimatedCost,
			PaymentStatus:           PaymentPending,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		if err := s.repo.InsertAppointment(ctx, appt); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RescheduleRequest carries the new window; nil fields keep their value.
type RescheduleRequest struct {
	StartAt         *time.Time
	DurationMinutes *int
}

func (r RescheduleRequest) empty() bool {
	return r.StartAt == nil && r.DurationMinutes == nil
}

// DetailsUpdate changes the descriptive and billing fields of an
// appointment; nil fields keep their value.
type DetailsUpdate struct {
	Type                    *Type
	ChiefComplaint          *string
	Notes                   *string
	PreparationInstructions *string
	EstimatedCost           *decimal.Decimal
	ActualCost              *decimal.Decimal
	PaymentStatus           *PaymentStatus
}

func (u DetailsUpdate) empty() bool {
	return u.Type == nil && u.ChiefComplaint == nil && u.Notes == nil &&
		u.PreparationInstructions == nil && u.EstimatedCost == nil &&
		u.ActualCost == nil && u.PaymentStatus == nil
}

func (u DetailsUpdate) validate() error {
	if u.Type != nil && !u.Type.Valid() {
		return fmt.Errorf("unknown appointment type %q: %w", *u.Type, ErrInvalidInput)
	}
	if u.PaymentStatus != nil && !u.PaymentStatus.Valid() {
		return fmt.Errorf("unknown payment status %q: %w", *u.PaymentStatus, ErrInvalidInput)
	}
	for _, c := range []*decimal.Decimal{u.EstimatedCost, u.ActualCost} {
		if c != nil && c.IsNegative() {
			return fmt.Errorf("cost must not be negative: %w", ErrInvalidInput)
		}
	}
	return nil
}

func (u DetailsUpdate) apply(a *Appointment) {
	if u.Type != nil {
		a.Type = *u.Type
	}
	if u.ChiefComplaint != nil {
		a.ChiefComplaint = u.ChiefComplaint
	}
	if u.Notes != nil {
		a.Notes = u.Notes
	}
	if u.PreparationInstructions != nil {
		a.PreparationInstructions = u.PreparationInstructions
	}
	if u.EstimatedCost != nil {
		a.EstimatedCost = decimal.NewNullDecimal(*u.EstimatedCost)
	}
	if u.ActualCost != nil {
		a.ActualCost = decimal.NewNullDecimal(*u.ActualCost)
	}
	if u.PaymentStatus != nil {
		a.PaymentStatus = *u.PaymentStatus
	}
}

// UpdateRequest combines a reschedule and a details edit. Both parts are
// validated up front and written together or not at all.
type UpdateRequest struct {
	Window  RescheduleRequest
	Details DetailsUpdate
}

func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	return s.Update(ctx, id, UpdateRequest{Window: req})
}

func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, upd DetailsUpdate) (*Appointment, error) {
	return s.Update(ctx, id, UpdateRequest{Details: upd})
}

// Update applies req as one atomic unit under the doctor's lock. A window
// change re-runs the availability check excluding the appointment itself.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Appointment, error) {
	if req.Window.DurationMinutes != nil {
		if err := ValidateDuration(*req.Window.DurationMinutes); err != nil {
			return nil, err
		}
	}
	if err := req.Details.validate(); err != nil {
		return nil, err
	}

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.book(ctx, current.DoctorID, func(ctx context.Context) error {
		appt, err := s.repo.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		next := *appt

		moved := false
		if !req.Window.empty() {
			if appt.Status.Terminal() {
				return fmt.Errorf("cannot reschedule %s appointment: %w", appt.Status, ErrInvalidTransition)
			}
			if req.Window.StartAt != nil {
				next.StartAt = *req.Window.StartAt
			}
			if req.Window.DurationMinutes != nil {
				next.DurationMinutes = *req.Window.DurationMinutes
			}
			moved = !next.StartAt.Equal(appt.StartAt) || next.DurationMinutes != appt.DurationMinutes
		}
		if !moved && req.Details.empty() {
			updated = appt
			return nil
		}

		if moved {
			if err := s.ensureAvailable(ctx, appt.DoctorID, next.Window(), &appt.ID); err != nil {
				return err
			}
		}
		req.Details.apply(&next)
		next.UpdatedAt = s.now()
		if err := s.repo.UpdateAppointment(ctx, &next); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type TransitionRequest struct {
	Status Status
	Actor  uuid.UUID
	// Reason is recorded on cancellation only.
	Reason string
}

// Transition moves an appointment along the status machine and stamps the
// matching lifecycle timestamp.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, req TransitionRequest) (*Appointment, error) {
	if !req.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", req.Status, ErrInvalidInput)
	}

	return s.mutate(ctx, id, func(a *Appointment) error {
		if req.Status == StatusCancelled && a.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		if !a.Status.CanTransitionTo(req.Status) {
			return fmt.Errorf("%s -> %s: %w", a.Status, req.Status, ErrInvalidTransition)
		}

		now := s.now()
		a.Status = req.Status
		switch req.Status {
		case StatusConfirmed:
			a.ConfirmedAt = &now
		case StatusInProgress:
			a.StartedAt = &now
		case StatusCompleted:
			a.CompletedAt = &now
		case StatusCancelled:
			reason := req.Reason
			if reason == "" {
				reason = DefaultCancellationReason
			}
			actor := req.Actor
			a.CancelledAt = &now
			a.CancelledBy = &actor
			a.CancellationReason = &reason
		}
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, id, actor uuid.UUID, reason string) (*Appointment, error) {
	return s.Transition(ctx, id, TransitionRequest{Status: StatusCancelled, Actor: actor, Reason: reason})
}

// CheckIn records the patient's arrival without changing the status.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.mutate(ctx, id, func(a *Appointment) error {
		if a.Status != StatusScheduled && a.Status != StatusConfirmed {
			return fmt.Errorf("cannot check in %s appointment: %w", a.Status, ErrInvalidTransition)
		}
		if a.CheckedInAt != nil {
			return fmt.Errorf("patient already checked in: %w", ErrInvalidTransition)
		}
		now := s.now()
		a.CheckedInAt = &now
		return nil
	})
}

// IsAvailable reports whether window is free on the doctor's calendar,
// ignoring exclude when set.
func (s *Service) IsAvailable(ctx context.Context, doctorID uuid.UUID, window Window, exclude *uuid.UUID) (bool, error) {
	existing, err := s.repo.ListAppointments(ctx, Query{
		DoctorID:    &doctorID,
		Statuses:    ActiveStatuses,
		From:        &window.Start,
		To:          ptr(window.End()),
		Overlapping: true,
		ExcludeID:   exclude,
	})
	if err != nil {
		return false, fmt.Errorf("list doctor appointments: %w", err)
	}
	return len(Conflicts(existing, window, exclude)) == 0, nil
}

// CheckAvailability is IsAvailable for callers that want to show why a
// window is taken and where the next free windows that day are.
func (s *Service) CheckAvailability(ctx context.Context, doctorID uuid.UUID, window Window, exclude *uuid.UUID) (*Availability, error) {
	if err := ValidateDuration(int(window.Duration / time.Minute)); err != nil {
		return nil, err
	}
	if err := s.verifyDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	until := endOfDay(window.Start.In(s.loc))
	if window.End().After(until) {
		until = window.End()
	}
	existing, err := s.repo.ListAppointments(ctx, Query{
		DoctorID:    &doctorID,
		Statuses:    ActiveStatuses,
		From:        &window.Start,
		To:          &until,
		Overlapping: true,
		ExcludeID:   exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}

	conflicts := Conflicts(existing, window, exclude)
	if len(conflicts) == 0 {
		return &Availability{Available: true}, nil
	}
	return &Availability{
		Conflicts:       conflicts,
		SuggestedStarts: suggestStarts(existing, window, exclude, until, maxSuggestions),
	}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

type Page struct {
	Items  []Appointment
	Total  int
	Limit  int
	Offset int
}

func (s *Service) List(ctx context.Context, q Query) (*Page, error) {
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	items, err := s.repo.ListAppointments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	total, err := s.repo.CountAppointments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	return &Page{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// GetDoctorSchedule lists the active appointments of a doctor starting on
// the given clinic calendar day.
func (s *Service) GetDoctorSchedule(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	if err := s.verifyDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 0, 1)
	items, err := s.repo.ListAppointments(ctx, Query{
		DoctorID: &doctorID,
		Statuses: ActiveStatuses,
		From:     &from,
		To:       &to,
	})
	if err != nil {
		return nil, fmt.Errorf("list doctor schedule: %w", err)
	}
	return items, nil
}

func (s *Service) GetUpcoming(ctx context.Context, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = defaultUpcomingLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	now := s.now()
	items, err := s.repo.ListAppointments(ctx, Query{
		Statuses: []Status{StatusScheduled, StatusConfirmed},
		From:     &now,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	return items, nil
}

func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	now := s.now().In(s.loc)
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	today := Range{From: dayStart, To: dayStart.AddDate(0, 0, 1)}

	// Weeks start on Monday.
	offset := (int(now.Weekday()) + 6) % 7
	weekStart := dayStart.AddDate(0, 0, -offset)
	week := Range{From: weekStart, To: weekStart.AddDate(0, 0, 7)}

	stats, err := s.repo.Stats(ctx, today, week)
	if err != nil {
		return nil, fmt.Errorf("appointment stats: %w", err)
	}
	return stats, nil
}

// MarkNoShows moves scheduled and confirmed appointments whose window ended
// more than grace ago to no_show. It returns how many were moved.
func (s *Service) MarkNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace)
	// Anything that ended before cutoff also started before it.
	candidates, err := s.repo.ListAppointments(ctx, Query{
		Statuses: []Status{StatusScheduled, StatusConfirmed},
		To:       &cutoff,
		Limit:    noShowBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	moved := 0
	for _, a := range candidates {
		if a.EndAt().After(cutoff) {
			continue
		}
		_, err := s.Transition(ctx, a.ID, TransitionRequest{Status: StatusNoShow})
		switch {
		case err == nil:
			moved++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound):
			// Changed by someone else since it was listed.
		default:
			return moved, fmt.Errorf("mark appointment %s no-show: %w", a.ID, err)
		}
	}
	return moved, nil
}

// mutate loads the appointment inside the doctor's atomic unit, applies fn
// to a copy and persists it. Nothing is written when fn fails.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(a *Appointment) error) (*Appointment, error) {
	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.repo.WithinDoctor(ctx, current.DoctorID, func(ctx context.Context) error {
		appt, err := s.repo.GetAppointment(ctx, id)
		if err != nil {
			return err
		}

		next := *appt
		if err := fn(&next); err != nil {
			return err
		}
		next.UpdatedAt = s.now()
		if err := s.repo.UpdateAppointment(ctx, &next); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// book runs fn under the doctor's distributed lock (when configured) and
// the store's atomic unit, retrying a bounded number of times when an
// appointment number race is lost. Only the availability check and the
// store's overlap constraint report a Conflict for the window itself.
func (s *Service) book(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err = s.withLock(ctx, doctorID, func(ctx context.Context) error {
			return s.repo.WithinDoctor(ctx, doctorID, fn)
		})
		if !errors.Is(err, ErrUniqueness) {
			return err
		}
	}
	return fmt.Errorf("could not reserve an appointment number, retry the booking: %w", ErrConflict)
}

func (s *Service) withLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithDoctorLock(ctx, doctorID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		// Another replica holds the doctor. The store's unit blocks until
		// it is done, so contention never rejects a free window.
		return fn(ctx)
	}
	return err
}

func (s *Service) ensureAvailable(ctx context.Context, doctorID uuid.UUID, window Window, exclude *uuid.UUID) error {
	ok, err := s.IsAvailable(ctx, doctorID, window, exclude)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSlotUnavailable
	}
	return nil
}

func (s *Service) verifyPatient(ctx context.Context, id uuid.UUID) error {
	if _, err := s.dir.GetPatient(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("load patient: %w", err)
	}
	return nil
}

func (s *Service) verifyDoctor(ctx context.Context, id uuid.UUID) error {
	doc, err := s.dir.GetDoctor(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("load doctor: %w", err)
	}
	if doc.Role != RoleDoctor {
		return ErrNotADoctor
	}
	if doc.Status != StaffActive {
		return ErrDoctorInactive
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
