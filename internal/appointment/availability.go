package appointment

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

const maxSuggestions = 3

type Availability struct {
	Available       bool
	Conflicts       []Appointment
	SuggestedStarts []time.Time
}

// Conflicts returns the active appointments in existing whose window
// overlaps candidate, skipping exclude when set.
func Conflicts(existing []Appointment, candidate Window, exclude *uuid.UUID) []Appointment {
	var out []Appointment
	for _, a := range existing {
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if !a.Status.Active() {
			continue
		}
		if a.Window().Overlaps(candidate) {
			out = append(out, a)
		}
	}
	return out
}

// suggestStarts proposes up to limit free start times at or after the
// candidate start and before until, skipping past each blocking appointment.
func suggestStarts(existing []Appointment, candidate Window, exclude *uuid.UUID, until time.Time, limit int) []time.Time {
	sorted := make([]Appointment, len(existing))
	copy(sorted, existing)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartAt.Before(sorted[j].StartAt) })

	var out []time.Time
	w := candidate
	for len(out) < limit && w.End().Compare(until) <= 0 {
		blocking := Conflicts(sorted, w, exclude)
		if len(blocking) == 0 {
			out = append(out, w.Start)
			w.Start = w.End()
			continue
		}
		next := w.Start
		for _, b := range blocking {
			if end := b.EndAt(); end.After(next) {
				next = end
			}
		}
		w.Start = next
	}
	return out
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
