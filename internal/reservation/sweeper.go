package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/metrics"
)

type Expirer interface {
	Expire(ctx context.Context, id uuid.UUID) (*ExpireResult, error)
}

type SweepReport struct {
	Scanned      int
	Expired      int
	Skipped      int
	Failed       int
	SlotsExpired int
}

// Sweeper expires pending requests whose deadline passed and available slots
// whose time passed. Notifications for expired requests are produced from
// the REQUEST_EXPIRED outbox events, outside the sweep.
type Sweeper struct {
	repo    Repository
	expirer Expirer
	batch   int
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewSweeper(repo Repository, expirer Expirer, batch int, m *metrics.Metrics, log *zap.Logger) *Sweeper {
	if batch <= 0 {
		batch = 500
	}
	return &Sweeper{
		repo:    repo,
		expirer: expirer,
		batch:   batch,
		metrics: m,
		log:     log,
	}
}

// Run performs one sweep as of now. Per-record failures are logged and
// counted; the returned error is set only when the candidate query fails.
// Whatever a cancelled ctx leaves behind is picked up by the next run.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepReport, error) {
	start := time.Now()
	var report SweepReport

	stale, err := s.repo.FindExpiredPending(ctx, now, s.batch)
	if err != nil {
		s.metrics.ObserveSweep(start, 0, true)
		return report, fmt.Errorf("find expired pending requests: %w", err)
	}
	report.Scanned = len(stale)

	for _, req := range stale {
		if ctx.Err() != nil {
			s.log.Warn("sweep interrupted", zap.Int("remaining", len(stale)-report.Expired-report.Skipped-report.Failed))
			break
		}

		res, err := s.expirer.Expire(ctx, req.ID)
		switch {
		case err != nil:
			report.Failed++
			s.log.Error("failed to expire request", zap.String("request_id", req.ID.String()), zap.Error(err))
		case !res.Success:
			report.Skipped++
			s.log.Debug("request already resolved", zap.String("request_id", req.ID.String()))
		default:
			report.Expired++
		}
	}

	report.SlotsExpired = s.expirePastSlots(ctx, now)

	s.metrics.ObserveSweep(start, report.Expired, false)
	s.log.Info("expiry sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("expired", report.Expired),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("slots_expired", report.SlotsExpired),
	)
	return report, nil
}

func (s *Sweeper) expirePastSlots(ctx context.Context, now time.Time) int {
	if ctx.Err() != nil {
		return 0
	}

	slots, err := s.repo.ListAvailableSlotsEndedBefore(ctx, now, s.batch)
	if err != nil {
		s.log.Error("failed to list past slots", zap.Error(err))
		return 0
	}

	n := 0
	for _, slot := range slots {
		if _, err := transitionSlot(ctx, s.repo, slot, SlotExpired, nil); err != nil {
			s.log.Warn("failed to expire slot", zap.String("slot_id", slot.ID.String()), zap.Error(err))
			continue
		}
		n++
	}
	return n
}
