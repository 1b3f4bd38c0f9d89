package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors the reservation services report to.
// It is built once per process and passed to each component.
type Metrics struct {
	RequestsCreated     prometheus.Counter
	RequestOutcomes     *prometheus.CounterVec
	ReservationsCancel  prometheus.Counter
	SweepRuns           *prometheus.CounterVec
	SweepDuration       prometheus.Histogram
	SweepExpired        prometheus.Counter
	NotificationsSent   *prometheus.CounterVec
	JobsScheduled       *prometheus.CounterVec
	OutboxDispatched    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reservation_requests_created_total",
			Help: "Reservation requests accepted as pending",
		}),
		RequestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reservation_request_outcomes_total",
			Help: "Terminal transitions of reservation requests",
		}, []string{"outcome"}),
		ReservationsCancel: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reservations_cancelled_total",
			Help: "Confirmed reservations cancelled",
		}),
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expiry_sweep_runs_total",
			Help: "Expiry sweep executions",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "expiry_sweep_duration_seconds",
			Help:    "Duration of expiry sweeps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),
		SweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expiry_sweep_expired_total",
			Help: "Requests expired by the sweep",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notification dispatch attempts",
		}, []string{"kind", "result"}),
		JobsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_jobs_scheduled_total",
			Help: "Durable reminder and follow-up jobs",
		}, []string{"name", "result"}),
		OutboxDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_dispatched_total",
			Help: "Outbox events handed to the notifier",
		}, []string{"event_type", "result"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status_code"}),
	}

	reg.MustRegister(
		m.RequestsCreated,
		m.RequestOutcomes,
		m.ReservationsCancel,
		m.SweepRuns,
		m.SweepDuration,
		m.SweepExpired,
		m.NotificationsSent,
		m.JobsScheduled,
		m.OutboxDispatched,
		m.HTTPRequestDuration,
	)
	return m
}

// ObserveSweep records one sweep run.
func (m *Metrics) ObserveSweep(start time.Time, expired int, failed bool) {
	m.SweepDuration.Observe(time.Since(start).Seconds())
	m.SweepExpired.Add(float64(expired))
	if failed {
		m.SweepRuns.WithLabelValues("error").Inc()
		return
	}
	m.SweepRuns.WithLabelValues("ok").Inc()
}

// Handler exposes the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g on addr until ctx is cancelled. Workers without an HTTP API
// use it so their counters can still be scraped.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
