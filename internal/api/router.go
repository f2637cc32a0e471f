package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handler            *Handler
	Health             *HealthHandler
	Log                *zap.Logger
	JWTSecret          string
	CORSOrigins        []string
	RateLimitPerMinute int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not allowed here")
	})

	// Health endpoints
	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)

	h := cfg.Handler

	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}
		r.Use(AuthMiddleware([]byte(cfg.JWTSecret), cfg.Log))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.createAppointment)
			r.Get("/", h.listAppointments)
			r.Get("/{id}", h.getAppointment)
			r.Patch("/{id}", h.updateAppointmentDetails)
			r.Patch("/{id}/status", h.updateAppointmentStatus)
			r.Post("/{id}/reschedule", h.rescheduleAppointment)
			r.Post("/{id}/payment", h.registerAppointmentPayment)
			r.Post("/{id}/cancel", h.cancelAppointment)
			r.With(RequireRole(RoleAdmin, cfg.Log)).Delete("/{id}", h.deleteAppointment)
		})

		r.Get("/doctors", h.listDoctors)
		r.Get("/doctors/{id}/slots", h.doctorSlots)
		r.Get("/treatments", h.listTreatments)

		r.Route("/patients", func(r chi.Router) {
			r.Post("/", h.registerPatient)
			r.Get("/", h.lookupPatient)
			r.Get("/{id}", h.getPatient)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.createInvoice)
			r.Get("/", h.listInvoices)
			r.Get("/{id}", h.getInvoice)
			r.Post("/{id}/payments", h.applyInvoicePayment)
		})
	})

	return r
}
