package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/metrics"
	redisclient "github.com/hackgods/slot-reservation/internal/redis"
)

const DefaultRequestTTL = 30 * time.Minute

type CreateRequestInput struct {
	SlotID    uuid.UUID    `json:"slot_id" validate:"required"`
	ServiceID uuid.UUID    `json:"service_id" validate:"required"`
	Patient   Patient      `json:"patient"`
	Urgency   UrgencyLevel `json:"urgency_level" validate:"omitempty,oneof=low normal high urgent"`
}

type RequestService struct {
	repo     Repository
	locker   redisclient.Locker
	validate *validator.Validate
	ttl      time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
	clock    Clock
}

func NewRequestService(repo Repository, locker redisclient.Locker, ttl time.Duration, m *metrics.Metrics, log *zap.Logger, clock Clock) *RequestService {
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	return &RequestService{
		repo:     repo,
		locker:   locker,
		validate: newValidator(),
		ttl:      ttl,
		metrics:  m,
		log:      log,
		clock:    clock,
	}
}

// checkBookable applies the slot preconditions of a new request. Capacity is
// checked first so a full slot reports as fully booked whatever its status.
func checkBookable(slot *TimeSlot, now time.Time) error {
	if slot.FullyBooked() {
		return conflict("Slot is fully booked")
	}
	if slot.Status != SlotAvailable {
		return conflict("Slot is %s, not available", slot.Status)
	}
	if !slot.StartTime.After(now) {
		return conflict("Slot has already started")
	}
	return nil
}

func (s *RequestService) checkDuplicate(ctx context.Context, repo Repository, slotID uuid.UUID, phone string) error {
	_, err := repo.FindPendingRequest(ctx, slotID, phone)
	switch {
	case err == nil:
		return conflict("A pending request already exists for this patient and slot")
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check duplicate request: %w", err)
	}
}

// CreateRequest records a pending request and holds the slot for approval.
func (s *RequestService) CreateRequest(ctx context.Context, in CreateRequestInput) (*RequestDetail, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if in.Urgency == "" {
		in.Urgency = UrgencyNormal
	}

	slot, err := s.repo.GetSlot(ctx, in.SlotID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("Slot %s not found", in.SlotID)
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if err := checkBookable(slot, s.clock.now()); err != nil {
		return nil, err
	}

	svc, err := s.repo.GetService(ctx, in.ServiceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("Service %s not found", in.ServiceID)
		}
		return nil, fmt.Errorf("load service: %w", err)
	}
	if svc.ID != slot.ServiceID {
		return nil, invalidInput("Service %s is not offered in slot %s", svc.ID, slot.ID)
	}

	if err := s.checkDuplicate(ctx, s.repo, slot.ID, in.Patient.Phone); err != nil {
		return nil, err
	}

	var detail *RequestDetail
	err = s.locker.WithLock(ctx, redisclient.SlotLockKey(slot.ID), func(lockCtx context.Context) error {
		return s.repo.RunInTx(lockCtx, func(ctx context.Context, tx Repository) error {
			// Re-check inside the critical section
			current, err := tx.GetSlotForUpdate(ctx, slot.ID)
			if err != nil {
				return fmt.Errorf("lock slot: %w", err)
			}
			if err := checkBookable(current, s.clock.now()); err != nil {
				return err
			}
			if err := s.checkDuplicate(ctx, tx, current.ID, in.Patient.Phone); err != nil {
				return err
			}

			now := s.clock.now()
			expiresAt := now.Add(s.ttl)

			req, err := tx.InsertRequest(ctx, ReservationRequest{
				ID:            uuid.New(),
				ProfileID:     current.ProfileID,
				SlotID:        current.ID,
				ServiceID:     svc.ID,
				Patient:       in.Patient,
				Urgency:       in.Urgency,
				Status:        RequestPending,
				RequestedTime: current.StartTime,
				ExpiresAt:     expiresAt,
			})
			if err != nil {
				if _, ok := KindOf(err); ok {
					return err
				}
				return fmt.Errorf("insert request: %w", err)
			}

			held, err := transitionSlot(ctx, tx, *current, SlotPendingApproval, &expiresAt)
			if err != nil {
				return err
			}

			if err := emit(ctx, tx, EventRequestCreated, req.ID, requestPayload(*req, now)); err != nil {
				return err
			}

			detail = &RequestDetail{Request: *req, Slot: held, Service: svc}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, conflict("Slot is being booked, please retry")
		}
		return nil, err
	}

	s.metrics.RequestsCreated.Inc()
	s.log.Info("reservation request created",
		zap.String("request_id", detail.Request.ID.String()),
		zap.String("slot_id", detail.Request.SlotID.String()),
		zap.Time("expires_at", detail.Request.ExpiresAt),
	)
	return detail, nil
}

// GetByID returns the request with its current slot and service.
func (s *RequestService) GetByID(ctx context.Context, id uuid.UUID) (*RequestDetail, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("Request %s not found", id)
		}
		return nil, fmt.Errorf("load request: %w", err)
	}

	detail := &RequestDetail{Request: *req}

	slot, err := s.repo.GetSlot(ctx, req.SlotID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	detail.Slot = slot

	svc, err := s.repo.GetService(ctx, req.ServiceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load service: %w", err)
	}
	detail.Service = svc

	return detail, nil
}

// PendingByProfile lists pending requests, most urgent first.
func (s *RequestService) PendingByProfile(ctx context.Context, profileID uuid.UUID) ([]ReservationRequest, error) {
	reqs, err := s.repo.ListPendingRequestsByProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return reqs, nil
}

func (s *RequestService) PatientHistory(ctx context.Context, phone string) ([]ReservationRequest, error) {
	if phone == "" {
		return nil, invalidInput("Phone is required")
	}
	reqs, err := s.repo.ListRequestsByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("list patient requests: %w", err)
	}
	return reqs, nil
}

func (s *RequestService) Stats(ctx context.Context, profileID uuid.UUID) (*RequestStats, error) {
	counts, err := s.repo.CountRequestsByStatus(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}

	stats := &RequestStats{
		ProfileID: profileID,
		Pending:   counts[RequestPending],
		Approved:  counts[RequestApproved],
		Rejected:  counts[RequestRejected],
		Expired:   counts[RequestExpired],
	}
	stats.Total = stats.Pending + stats.Approved + stats.Rejected + stats.Expired
	return stats, nil
}
