package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/metrics"
)

type RouterConfig struct {
	Slots     SlotService
	Requests  RequestService
	Approvals ApprovalService
	Checks    []Check
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
	Env       string
	Version   string

	RateLimitPerMin    int // 0 disables rate limiting
	CORSAllowedOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RecoverMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))
	}

	h := NewHandler(cfg.Slots, cfg.Requests, cfg.Approvals, cfg.Logger)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		}

		r.Route("/profiles/{profileID}", func(r chi.Router) {
			r.Post("/slots", h.createSlot)
			r.Post("/slots/batch", h.createSlotBatch)
			r.Get("/slots", h.listSlots)
			r.Get("/services/{serviceID}/available-slots", h.availableSlots)
			r.Get("/requests/pending", h.pendingRequests)
			r.Get("/requests/stats", h.requestStats)
		})

		r.Route("/slots/{id}", func(r chi.Router) {
			r.Patch("/status", h.updateSlotStatus)
			r.Post("/block", h.blockSlot)
			r.Post("/unblock", h.unblockSlot)
			r.Delete("/", h.deleteSlot)
		})

		r.Post("/requests", h.createRequest)
		r.Route("/requests/{id}", func(r chi.Router) {
			r.Get("/", h.getRequest)
			r.Post("/approve", h.approveRequest)
			r.Post("/reject", h.rejectRequest)
			r.Post("/expire", h.expireRequest)
		})

		r.Get("/patients/{phone}/requests", h.patientHistory)
		r.Post("/reservations/{id}/cancel", h.cancelReservation)
	})

	return r
}
