package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/items/{id}", "418"))
	if got != 3 {
		t.Fatalf("requests{route=/items/{id}} = %v, want 3", got)
	}
	if n := testutil.ToFloat64(m.inflight); n != 0 {
		t.Fatalf("inflight = %v after requests finished", n)
	}
}

func TestMiddleware_DefaultStatusIsOK(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	if got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/ping", "200")); got != 1 {
		t.Fatalf("requests{status=200} = %v, want 1", got)
	}
}

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{appointment.ErrSlotUnavailable, OutcomeConflict},
		{appointment.ErrAlreadyCancelled, OutcomeConflict},
		{fmt.Errorf("x: %w", appointment.ErrInvalidTransition), OutcomeConflict},
		{appointment.ErrPatientNotFound, OutcomeNotFound},
		{appointment.ErrNotADoctor, OutcomeInvalid},
		{fmt.Errorf("bad: %w", appointment.ErrInvalidInput), OutcomeInvalid},
		{appointment.ErrCapacityExhausted, OutcomeCapacity},
		{errors.New("boom"), OutcomeError},
	}
	for _, tc := range cases {
		if got := Outcome(tc.err); got != tc.want {
			t.Errorf("Outcome(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestHandler_ExposesBookingCounter(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.BookingOutcome("create", nil)
	m.BookingOutcome("create", appointment.ErrSlotUnavailable)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`booking_operations_total{operation="create",outcome="ok"} 1`,
		`booking_operations_total{operation="create",outcome="conflict"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
