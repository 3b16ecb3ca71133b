// Package metrics exposes Prometheus collectors for HTTP traffic and booking
// outcomes.
//
// The route label is the chi route pattern (e.g. /api/v1/appointments/{id}),
// never the raw path, so label cardinality stays bounded.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

const (
	OutcomeOK           = "ok"
	OutcomeConflict     = "conflict"
	OutcomeNotFound     = "not_found"
	OutcomeInvalid      = "invalid"
	OutcomeCapacity     = "capacity"
	OutcomeError        = "error"
	unmatchedRouteLabel = "unmatched"
)

type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	bookings *prometheus.CounterVec
	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_inflight",
				Help: "Current number of in-flight HTTP requests.",
			},
		),
		bookings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_operations_total",
				Help: "Appointment operations by kind and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.requests, m.duration, m.inflight, m.bookings)
	return m
}

// Middleware instruments every request. It must be mounted on the chi
// router so the route pattern is resolved by the time the handler returns.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := unmatchedRouteLabel
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// BookingOutcome counts one appointment operation, classified by the error
// kind it returned.
func (m *Metrics) BookingOutcome(operation string, err error) {
	m.bookings.WithLabelValues(operation, Outcome(err)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, appointment.ErrConflict),
		errors.Is(err, appointment.ErrAlreadyCancelled),
		errors.Is(err, appointment.ErrInvalidTransition):
		return OutcomeConflict
	case errors.Is(err, appointment.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, appointment.ErrInvalidInput),
		errors.Is(err, appointment.ErrInvalidReference):
		return OutcomeInvalid
	case errors.Is(err, appointment.ErrCapacity):
		return OutcomeCapacity
	default:
		return OutcomeError
	}
}
