package reservation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/metrics"
)

const DefaultMaxEventAttempts = 10

type EventHandler interface {
	HandleOutcome(ctx context.Context, ev OutboxEvent) error
}

// Relay hands committed outbox events to a handler. An event stays in the
// table until the handler accepts it or it runs out of attempts.
type Relay struct {
	repo        Repository
	handler     EventHandler
	batch       int
	maxAttempts int
	metrics     *metrics.Metrics
	log         *zap.Logger
	clock       Clock
}

func NewRelay(repo Repository, handler EventHandler, batch int, m *metrics.Metrics, log *zap.Logger, clock Clock) *Relay {
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		repo:        repo,
		handler:     handler,
		batch:       batch,
		maxAttempts: DefaultMaxEventAttempts,
		metrics:     m,
		log:         log,
		clock:       clock,
	}
}

// RunOnce claims one batch of undispatched events and returns how many were delivered.
// Claimed rows stay locked until the batch finishes, so concurrent relays skip them.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	delivered := 0

	err := r.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		events, err := tx.ListUndispatchedEvents(ctx, r.maxAttempts, r.batch)
		if err != nil {
			return err
		}

		for _, ev := range events {
			if herr := r.handler.HandleOutcome(ctx, ev); herr != nil {
				r.metrics.OutboxDispatched.WithLabelValues(ev.EventType, "failed").Inc()
				r.log.Warn("outbox event delivery failed",
					zap.Int64("event_id", ev.ID),
					zap.String("event_type", ev.EventType),
					zap.Int("attempts", ev.Attempts+1),
					zap.Error(herr),
				)
				if err := tx.MarkEventFailed(ctx, ev.ID, herr.Error()); err != nil {
					return err
				}
				continue
			}

			if err := tx.MarkEventDispatched(ctx, ev.ID, r.clock.now()); err != nil {
				return err
			}
			r.metrics.OutboxDispatched.WithLabelValues(ev.EventType, "ok").Inc()
			delivered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return delivered, nil
}

// Run polls on interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := r.RunOnce(ctx); err != nil {
			r.log.Error("outbox relay failed", zap.Error(err))
		} else if n > 0 {
			r.log.Info("outbox events delivered", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
