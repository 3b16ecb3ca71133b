package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/audit"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// AppointmentService is the booking core as seen by the HTTP layer.
type AppointmentService interface {
	Create(ctx context.Context, req appointment.CreateRequest) (*appointment.Appointment, error)
	Update(ctx context.Context, id uuid.UUID, req appointment.UpdateRequest) (*appointment.Appointment, error)
	Transition(ctx context.Context, id uuid.UUID, req appointment.TransitionRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id, actor uuid.UUID, reason string) (*appointment.Appointment, error)
	CheckIn(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CheckAvailability(ctx context.Context, doctorID uuid.UUID, window appointment.Window, exclude *uuid.UUID) (*appointment.Availability, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	List(ctx context.Context, q appointment.Query) (*appointment.Page, error)
	GetDoctorSchedule(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]appointment.Appointment, error)
	GetUpcoming(ctx context.Context, limit int) ([]appointment.Appointment, error)
	GetStats(ctx context.Context) (*appointment.Stats, error)
}

var _ AppointmentService = (*appointment.Service)(nil)

type RouterConfig struct {
	Service AppointmentService
	Auth    *auth.Manager
	// Audit defaults to audit.LogRecorder when nil.
	Audit audit.Recorder
	// Metrics and RateLimiter are optional.
	Metrics     *metrics.Metrics
	RateLimiter *RateLimiter
	PgPool      Pinger
	Redis       *redis.Client
	Env         string
	Version     string
}

var staffRoles = []appointment.Role{
	appointment.RoleAdmin,
	appointment.RoleDoctor,
	appointment.RoleNurse,
	appointment.RoleReceptionist,
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.LogRecorder{}
	}
	h := &appointmentHandler{svc: cfg.Service, audit: recorder, metrics: cfg.Metrics}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(cfg.Auth))
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}
		r.Use(auth.RequireRole(staffRoles...))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.create)
			r.Get("/", h.list)
			r.Get("/upcoming", h.upcoming)
			r.Get("/stats", h.stats)
			r.Post("/availability", h.availability)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.get)
				r.Patch("/", h.update)
				// Clinical transitions are further restricted per target status.
				r.Post("/status", h.changeStatus)
				r.Post("/cancel", h.cancel)
				r.Post("/check-in", h.checkIn)
			})
		})

		r.Get("/doctors/{id}/schedule", h.doctorSchedule)
	})

	return r
}
