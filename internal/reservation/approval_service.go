package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/metrics"
)

// Changes redirects an approval. Nil fields keep the requested value.
type Changes struct {
	TimeSlotID *uuid.UUID
	ServiceID  *uuid.UUID
	Price      *decimal.Decimal
}

type ApproveInput struct {
	RequestID  uuid.UUID
	ApprovedBy string
	Notes      *string
	Changes    *Changes
}

type ApprovalResult struct {
	Request     ReservationRequest
	Reservation Reservation
	Slot        TimeSlot
	Changes     *ChangeSummary
}

type RejectInput struct {
	RequestID  uuid.UUID
	RejectedBy string
	Reason     string
}

type RejectResult struct {
	Request ReservationRequest
	Slot    *TimeSlot
}

// ExpireResult reports Success=false, without an error, when the request had
// already left pending.
type ExpireResult struct {
	Success bool
	Message string
	Request *ReservationRequest
	Slot    *TimeSlot
}

type CancelInput struct {
	ReservationID uuid.UUID
	CancelledBy   string
	Reason        string
}

type CancelResult struct {
	Reservation      Reservation
	Slot             *TimeSlot
	AlreadyCancelled bool
}

// ApprovalService is the only component that moves requests out of pending
// and changes slot occupancy.
type ApprovalService struct {
	repo    Repository
	metrics *metrics.Metrics
	log     *zap.Logger
	clock   Clock
}

func NewApprovalService(repo Repository, m *metrics.Metrics, log *zap.Logger, clock Clock) *ApprovalService {
	return &ApprovalService{
		repo:    repo,
		metrics: m,
		log:     log,
		clock:   clock,
	}
}

func lockRequest(ctx context.Context, tx Repository, id uuid.UUID) (*ReservationRequest, error) {
	req, err := tx.GetRequestForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("Request %s not found", id)
		}
		return nil, fmt.Errorf("load request: %w", err)
	}
	return req, nil
}

// resolve writes the terminal status. Losing a race against another
// resolution surfaces as a Conflict.
func resolve(ctx context.Context, tx Repository, req ReservationRequest) (*ReservationRequest, error) {
	updated, err := tx.ResolveRequest(ctx, req)
	if errors.Is(err, ErrStaleState) {
		return nil, conflict("Request is no longer pending")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve request: %w", err)
	}
	return updated, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Approve confirms a pending request: the request becomes approved, the
// target slot gains one reservation and a confirmed Reservation is created,
// all in one transaction.
func (s *ApprovalService) Approve(ctx context.Context, in ApproveInput) (*ApprovalResult, error) {
	if in.ApprovedBy == "" {
		return nil, invalidInput("approved_by is required")
	}
	if in.Changes != nil && in.Changes.Price != nil && in.Changes.Price.IsNegative() {
		return nil, invalidInput("Price override cannot be negative")
	}

	var result *ApprovalResult
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		req, err := lockRequest(ctx, tx, in.RequestID)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return conflict("Request is %s, cannot be approved", req.Status)
		}

		now := s.clock.now()
		if now.After(req.ExpiresAt) {
			return conflict("Request has expired")
		}

		summary := &ChangeSummary{}
		targetSlotID := req.SlotID
		serviceID := req.ServiceID

		if c := in.Changes; c != nil && c.TimeSlotID != nil && *c.TimeSlotID != req.SlotID {
			target, err := tx.GetSlotForUpdate(ctx, *c.TimeSlotID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return notFound("Slot %s not found", *c.TimeSlotID)
				}
				return fmt.Errorf("load target slot: %w", err)
			}
			if target.ProfileID != req.ProfileID {
				return conflict("Slot %s belongs to another profile", target.ID)
			}
			if target.Status != SlotAvailable {
				return conflict("Target slot is %s, not available", target.Status)
			}
			if target.FullyBooked() {
				return conflict("Target slot is fully booked")
			}

			if _, err := releaseHold(ctx, tx, req.SlotID); err != nil {
				return err
			}
			if _, err := transitionSlot(ctx, tx, *target, SlotPendingApproval, nil); err != nil {
				return err
			}

			from := req.SlotID
			summary.FromSlotID = &from
			summary.ToSlotID = &target.ID
			targetSlotID = target.ID
			serviceID = target.ServiceID
		}

		if c := in.Changes; c != nil && c.ServiceID != nil && *c.ServiceID != serviceID {
			svc, err := tx.GetService(ctx, *c.ServiceID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return notFound("Service %s not found", *c.ServiceID)
				}
				return fmt.Errorf("load service: %w", err)
			}
			if svc.ProfileID != req.ProfileID {
				return conflict("Service %s belongs to another profile", svc.ID)
			}
			from := req.ServiceID
			summary.FromServiceID = &from
			summary.ToServiceID = &svc.ID
			serviceID = svc.ID
		}

		if c := in.Changes; c != nil && c.Price != nil {
			summary.PriceOverride = c.Price
		}

		slot, err := reserveSlotUnit(ctx, tx, targetSlotID)
		if err != nil {
			return err
		}

		approved := *req
		approved.Status = RequestApproved
		approved.SlotID = targetSlotID
		approved.ServiceID = serviceID
		approved.ApprovedBy = &in.ApprovedBy
		approved.ApprovedAt = &now

		updated, err := resolve(ctx, tx, approved)
		if err != nil {
			return err
		}

		requestID := updated.ID
		res, err := tx.InsertReservation(ctx, Reservation{
			ID:              uuid.New(),
			ProfileID:       updated.ProfileID,
			SlotID:          slot.ID,
			ServiceID:       serviceID,
			RequestID:       &requestID,
			Patient:         updated.Patient,
			Status:          ReservationConfirmed,
			AppointmentTime: slot.StartTime,
			Notes:           in.Notes,
			PriceOverride:   summary.PriceOverride,
			PaymentStatus:   PaymentUnpaid,
		})
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		if summary.empty() {
			summary = nil
		}

		payload := requestPayload(*updated, now)
		payload.ReservationID = &res.ID
		payload.AppointmentTime = res.AppointmentTime
		payload.Actor = in.ApprovedBy
		payload.Changes = summary
		if err := emit(ctx, tx, EventRequestApproved, updated.ID, payload); err != nil {
			return err
		}

		result = &ApprovalResult{Request: *updated, Reservation: *res, Slot: *slot, Changes: summary}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RequestOutcomes.WithLabelValues("approved").Inc()
	s.log.Info("reservation request approved",
		zap.String("request_id", result.Request.ID.String()),
		zap.String("reservation_id", result.Reservation.ID.String()),
		zap.String("slot_id", result.Slot.ID.String()),
		zap.Int("current_reservations", result.Slot.CurrentReservations),
		zap.String("approved_by", in.ApprovedBy),
	)
	return result, nil
}

// Reject closes a pending request and returns its slot to available.
// Occupancy is untouched because a pending request never counted against it.
func (s *ApprovalService) Reject(ctx context.Context, in RejectInput) (*RejectResult, error) {
	if in.RejectedBy == "" {
		return nil, invalidInput("rejected_by is required")
	}

	var result *RejectResult
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		req, err := lockRequest(ctx, tx, in.RequestID)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return conflict("Request is %s, cannot be rejected", req.Status)
		}

		now := s.clock.now()
		rejected := *req
		rejected.Status = RequestRejected
		rejected.RejectedBy = &in.RejectedBy
		rejected.RejectedAt = &now
		rejected.RejectionReason = optional(in.Reason)

		updated, err := resolve(ctx, tx, rejected)
		if err != nil {
			return err
		}

		slot, err := releaseHold(ctx, tx, updated.SlotID)
		if err != nil {
			return err
		}

		payload := requestPayload(*updated, now)
		payload.Actor = in.RejectedBy
		payload.Reason = in.Reason
		if err := emit(ctx, tx, EventRequestRejected, updated.ID, payload); err != nil {
			return err
		}

		result = &RejectResult{Request: *updated, Slot: slot}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RequestOutcomes.WithLabelValues("rejected").Inc()
	s.log.Info("reservation request rejected",
		zap.String("request_id", result.Request.ID.String()),
		zap.String("rejected_by", in.RejectedBy),
	)
	return result, nil
}

// Expire closes a pending request whatever its expires_at, so operators and
// the sweeper share one path. Calling it on a resolved request is a no-op.
func (s *ApprovalService) Expire(ctx context.Context, id uuid.UUID) (*ExpireResult, error) {
	var result *ExpireResult
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		req, err := lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			result = &ExpireResult{Success: false, Message: "Request not pending", Request: req}
			return nil
		}

		now := s.clock.now()
		expired := *req
		expired.Status = RequestExpired

		updated, err := tx.ResolveRequest(ctx, expired)
		if errors.Is(err, ErrStaleState) {
			result = &ExpireResult{Success: false, Message: "Request not pending", Request: req}
			return nil
		}
		if err != nil {
			return fmt.Errorf("expire request: %w", err)
		}

		slot, err := releaseHold(ctx, tx, updated.SlotID)
		if err != nil {
			return err
		}

		if err := emit(ctx, tx, EventRequestExpired, updated.ID, requestPayload(*updated, now)); err != nil {
			return err
		}

		result = &ExpireResult{Success: true, Message: "Request expired", Request: updated, Slot: slot}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Success {
		s.metrics.RequestOutcomes.WithLabelValues("expired").Inc()
		s.log.Info("reservation request expired", zap.String("request_id", id.String()))
	}
	return result, nil
}

// Cancel cancels a confirmed reservation and gives its unit back to the slot.
// Cancelling twice returns the stored reservation with AlreadyCancelled set.
func (s *ApprovalService) Cancel(ctx context.Context, in CancelInput) (*CancelResult, error) {
	var result *CancelResult
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		res, err := tx.GetReservation(ctx, in.ReservationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return notFound("Reservation %s not found", in.ReservationID)
			}
			return fmt.Errorf("load reservation: %w", err)
		}
		if res.Status == ReservationCancelled {
			result = &CancelResult{Reservation: *res, AlreadyCancelled: true}
			return nil
		}
		if res.Status != ReservationConfirmed {
			return conflict("Reservation is %s, cannot be cancelled", res.Status)
		}

		now := s.clock.now()
		cancelled, err := tx.CancelReservation(ctx, res.ID, optional(in.CancelledBy), optional(in.Reason), now)
		if errors.Is(err, ErrStaleState) {
			current, gerr := tx.GetReservation(ctx, res.ID)
			if gerr != nil {
				return gerr
			}
			if current.Status == ReservationCancelled {
				result = &CancelResult{Reservation: *current, AlreadyCancelled: true}
				return nil
			}
			return conflict("Reservation is %s, cannot be cancelled", current.Status)
		}
		if err != nil {
			return fmt.Errorf("cancel reservation: %w", err)
		}

		slot, err := releaseSlotUnit(ctx, tx, cancelled.SlotID)
		if err != nil {
			return err
		}

		payload := cancellationPayload(*cancelled, in.CancelledBy, in.Reason, now)
		if err := emit(ctx, tx, EventReservationCancelled, cancelled.ID, payload); err != nil {
			return err
		}

		result = &CancelResult{Reservation: *cancelled, Slot: slot}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyCancelled {
		s.metrics.ReservationsCancel.Inc()
		s.log.Info("reservation cancelled",
			zap.String("reservation_id", result.Reservation.ID.String()),
			zap.String("slot_id", result.Reservation.SlotID.String()),
		)
	}
	return result, nil
}
