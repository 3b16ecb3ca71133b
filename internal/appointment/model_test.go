package appointment

import "testing"

func TestStatusTransitions(t *testing.T) {
	all := []Status{StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow}
	allowed := map[Status][]Status{
		StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
		StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
		StatusInProgress: {StatusCompleted, StatusCancelled},
	}

	for _, from := range all {
		for _, to := range all {
			want := containsStatus(allowed[from], to)
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatusClassification(t *testing.T) {
	for _, s := range []Status{StatusScheduled, StatusConfirmed, StatusInProgress} {
		if !s.Active() || s.Terminal() {
			t.Errorf("%s should be active", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		if s.Active() || !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Errorf("terminal status %s has outgoing transitions", s)
		}
	}
	if Status("pending").Valid() {
		t.Error("unknown status reported valid")
	}
}
