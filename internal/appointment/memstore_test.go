package appointment

import (
	"context"
	"sort"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepository is an in-memory Repository. WithinDoctor serializes units
// per doctor with a mutex and undoes a unit's writes when fn fails; inserts
// enforce the same uniqueness and no-overlap rules as the Postgres schema.
type memRepository struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]Appointment
	doctorLocks  map[uuid.UUID]*sync.Mutex
	periodLocks  map[string]*sync.Mutex

	// failInserts makes the next n inserts fail with ErrDuplicateNumber.
	failInserts int
	inserts     int
	// insertDelay widens the gap between reading the last number and
	// inserting, so unserialized allocations collide.
	insertDelay time.Duration
}

type unitKey struct{}

type unit struct {
	undo    []func()
	release []func()
}

func newMemRepository() *memRepository {
	return &memRepository{
		appointments: make(map[uuid.UUID]Appointment),
		doctorLocks:  make(map[uuid.UUID]*sync.Mutex),
		periodLocks:  make(map[string]*sync.Mutex),
	}
}

func (r *memRepository) doctorLock(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.doctorLocks[id]
	if !ok {
		l = &sync.Mutex{}
		r.doctorLocks[id] = l
	}
	return l
}

func (r *memRepository) WithinDoctor(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(unitKey{}).(*unit); ok {
		return fn(ctx)
	}

	l := r.doctorLock(doctorID)
	l.Lock()
	defer l.Unlock()

	u := &unit{}
	defer func() {
		for i := len(u.release) - 1; i >= 0; i-- {
			u.release[i]()
		}
	}()
	if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
		r.mu.Lock()
		for i := len(u.undo) - 1; i >= 0; i-- {
			u.undo[i]()
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memRepository) LockNumberPeriod(ctx context.Context, prefix string) error {
	u, ok := ctx.Value(unitKey{}).(*unit)
	if !ok {
		return errors.New("number period lock needs a unit")
	}
	r.mu.Lock()
	l, ok := r.periodLocks[prefix]
	if !ok {
		l = &sync.Mutex{}
		r.periodLocks[prefix] = l
	}
	r.mu.Unlock()

	l.Lock()
	u.release = append(u.release, l.Unlock)
	return nil
}

// journal registers undo for the enclosing unit. Callers hold r.mu.
func (r *memRepository) journal(ctx context.Context, undo func()) {
	if u, ok := ctx.Value(unitKey{}).(*unit); ok {
		u.undo = append(u.undo, undo)
	}
}

func (r *memRepository) put(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appointments[a.ID] = a
}

func (r *memRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepository) matching(q Query) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if q.DoctorID != nil && a.DoctorID != *q.DoctorID {
			continue
		}
		if q.PatientID != nil && a.PatientID != *q.PatientID {
			continue
		}
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, a.Status) {
			continue
		}
		if q.Type != nil && a.Type != *q.Type {
			continue
		}
		if q.ExcludeID != nil && a.ID == *q.ExcludeID {
			continue
		}
		if q.Overlapping {
			if q.To != nil && !a.StartAt.Before(*q.To) {
				continue
			}
			if q.From != nil && !a.EndAt().After(*q.From) {
				continue
			}
		} else {
			if q.From != nil && a.StartAt.Before(*q.From) {
				continue
			}
			if q.To != nil && !a.StartAt.Before(*q.To) {
				continue
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].AppointmentNumber < out[j].AppointmentNumber
	})
	return out
}

func (r *memRepository) ListAppointments(_ context.Context, q Query) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.matching(q)
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memRepository) CountAppointments(_ context.Context, q Query) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matching(q)), nil
}

func (r *memRepository) LastAppointmentNumber(_ context.Context, prefix string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := ""
	for _, a := range r.appointments {
		if strings.HasPrefix(a.AppointmentNumber, prefix) && a.AppointmentNumber > last {
			last = a.AppointmentNumber
		}
	}
	return last, nil
}

func (r *memRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	if r.insertDelay > 0 {
		time.Sleep(r.insertDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inserts++
	if r.failInserts > 0 {
		r.failInserts--
		return ErrDuplicateNumber
	}
	for _, existing := range r.appointments {
		if existing.AppointmentNumber == a.AppointmentNumber {
			return ErrDuplicateNumber
		}
		if existing.DoctorID == a.DoctorID && existing.Status.Active() && a.Status.Active() &&
			existing.Window().Overlaps(a.Window()) {
			return ErrSlotUnavailable
		}
	}

	r.appointments[a.ID] = *a
	id := a.ID
	r.journal(ctx, func() { delete(r.appointments, id) })
	return nil
}

func (r *memRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.appointments[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	for _, existing := range r.appointments {
		if existing.ID == a.ID {
			continue
		}
		if existing.DoctorID == a.DoctorID && existing.Status.Active() && a.Status.Active() &&
			existing.Window().Overlaps(a.Window()) {
			return ErrSlotUnavailable
		}
	}

	r.appointments[a.ID] = *a
	r.journal(ctx, func() { r.appointments[prev.ID] = prev })
	return nil
}

func (r *memRepository) Stats(_ context.Context, today, week Range) (*Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Stats{ByStatus: make(map[Status]int), ByType: make(map[Type]int)}
	in := func(a Appointment, rg Range) bool {
		return !a.StartAt.Before(rg.From) && a.StartAt.Before(rg.To)
	}
	for _, a := range r.appointments {
		s.Total++
		if in(a, today) {
			s.Today++
		}
		if in(a, week) {
			s.Week++
		}
		s.ByStatus[a.Status]++
		s.ByType[a.Type]++
	}
	return s, nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type memDirectory struct {
	doctors  map[uuid.UUID]Doctor
	patients map[uuid.UUID]Patient
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		doctors:  make(map[uuid.UUID]Doctor),
		patients: make(map[uuid.UUID]Patient),
	}
}

func (d *memDirectory) addDoctor(role Role, status StaffStatus) uuid.UUID {
	id := uuid.New()
	d.doctors[id] = Doctor{ID: id, Role: role, Status: status}
	return id
}

func (d *memDirectory) addPatient() uuid.UUID {
	id := uuid.New()
	d.patients[id] = Patient{ID: id}
	return id
}

func (d *memDirectory) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	doc, ok := d.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &doc, nil
}

func (d *memDirectory) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := d.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}
