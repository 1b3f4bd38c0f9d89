package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/slot-reservation/internal/redis"
)

const MinSlotDuration = 15 * time.Minute

type CreateSlotInput struct {
	ProfileID       uuid.UUID
	ServiceID       uuid.UUID
	Start           time.Time
	End             time.Time
	MaxReservations int // 0 means 1
}

// Window is one entry of a batch creation.
type Window struct {
	Start           time.Time
	End             time.Time
	MaxReservations int
}

type BatchFailure struct {
	Index  int
	Reason string
}

type BatchResult struct {
	Created  []TimeSlot
	Failures []BatchFailure
}

type SlotService struct {
	repo   Repository
	locker redisclient.Locker
	log    *zap.Logger
	clock  Clock
}

func NewSlotService(repo Repository, locker redisclient.Locker, log *zap.Logger, clock Clock) *SlotService {
	return &SlotService{
		repo:   repo,
		locker: locker,
		log:    log,
		clock:  clock,
	}
}

func validateWindow(start, end time.Time, max int) error {
	if !end.After(start) {
		return invalidRange("End time must be after start time")
	}
	if end.Sub(start) < MinSlotDuration {
		return invalidRange("Slot must be at least %d minutes long", int(MinSlotDuration.Minutes()))
	}
	if max < 0 {
		return invalidRange("max_reservations must be at least 1")
	}
	return nil
}

func overlapError(s TimeSlot) error {
	return conflict("Slot overlaps existing slot %s (%s - %s)",
		s.ID, s.StartTime.Format(time.RFC3339), s.EndTime.Format(time.RFC3339))
}

// ownedService loads the service and checks it belongs to the profile.
func (s *SlotService) ownedService(ctx context.Context, profileID, serviceID uuid.UUID) (*Service, error) {
	svc, err := s.repo.GetService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("Service %s not found", serviceID)
		}
		return nil, fmt.Errorf("load service: %w", err)
	}
	if svc.ProfileID != profileID {
		return nil, notFound("Service %s not found for profile %s", serviceID, profileID)
	}
	return svc, nil
}

func (s *SlotService) withProfileLock(ctx context.Context, profileID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, redisclient.ProfileSlotsLockKey(profileID), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return conflict("Slots for this profile are being modified, please retry")
	}
	return err
}

// CreateSlot persists a new available slot after range and overlap checks.
func (s *SlotService) CreateSlot(ctx context.Context, in CreateSlotInput) (*TimeSlot, error) {
	if err := validateWindow(in.Start, in.End, in.MaxReservations); err != nil {
		return nil, err
	}
	if _, err := s.ownedService(ctx, in.ProfileID, in.ServiceID); err != nil {
		return nil, err
	}

	var created *TimeSlot
	err := s.withProfileLock(ctx, in.ProfileID, func(lockCtx context.Context) error {
		existing, err := s.repo.ListOverlappingSlots(lockCtx, in.ProfileID, in.Start, in.End)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if len(existing) > 0 {
			return overlapError(existing[0])
		}

		created, err = s.repo.InsertSlot(lockCtx, newSlot(in.ProfileID, in.ServiceID, in.Start, in.End, in.MaxReservations))
		if err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("slot created",
		zap.String("slot_id", created.ID.String()),
		zap.String("profile_id", created.ProfileID.String()),
		zap.Time("start", created.StartTime),
	)
	return created, nil
}

func newSlot(profileID, serviceID uuid.UUID, start, end time.Time, max int) TimeSlot {
	if max == 0 {
		max = 1
	}
	return TimeSlot{
		ID:              uuid.New(),
		ProfileID:       profileID,
		ServiceID:       serviceID,
		StartTime:       start,
		EndTime:         end,
		MaxReservations: max,
		Status:          SlotAvailable,
	}
}

// CreateBatch validates each window on its own and keeps the ones that pass.
// A window is checked against stored slots and against windows accepted
// earlier in the same batch.
func (s *SlotService) CreateBatch(ctx context.Context, profileID, serviceID uuid.UUID, windows []Window) (*BatchResult, error) {
	if len(windows) == 0 {
		return nil, invalidInput("At least one window is required")
	}
	if _, err := s.ownedService(ctx, profileID, serviceID); err != nil {
		return nil, err
	}

	result := &BatchResult{}
	err := s.withProfileLock(ctx, profileID, func(lockCtx context.Context) error {
		var accepted []TimeSlot

		for i, w := range windows {
			if err := validateWindow(w.Start, w.End, w.MaxReservations); err != nil {
				result.Failures = append(result.Failures, BatchFailure{Index: i, Reason: err.Error()})
				continue
			}

			if reason := batchOverlap(accepted, w); reason != "" {
				result.Failures = append(result.Failures, BatchFailure{Index: i, Reason: reason})
				continue
			}

			existing, err := s.repo.ListOverlappingSlots(lockCtx, profileID, w.Start, w.End)
			if err != nil {
				return fmt.Errorf("check overlap: %w", err)
			}
			if len(existing) > 0 {
				result.Failures = append(result.Failures, BatchFailure{Index: i, Reason: overlapError(existing[0]).Error()})
				continue
			}

			slot, err := s.repo.InsertSlot(lockCtx, newSlot(profileID, serviceID, w.Start, w.End, w.MaxReservations))
			if err != nil {
				s.log.Error("batch slot insert failed", zap.Int("index", i), zap.Error(err))
				result.Failures = append(result.Failures, BatchFailure{Index: i, Reason: "could not save slot"})
				continue
			}
			accepted = append(accepted, *slot)
		}

		result.Created = accepted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("slot batch processed",
		zap.String("profile_id", profileID.String()),
		zap.Int("created", len(result.Created)),
		zap.Int("failed", len(result.Failures)),
	)
	return result, nil
}

func batchOverlap(accepted []TimeSlot, w Window) string {
	for _, a := range accepted {
		if a.Overlaps(w.Start, w.End) {
			return fmt.Sprintf("Window overlaps another window in this batch (%s - %s)",
				a.StartTime.Format(time.RFC3339), a.EndTime.Format(time.RFC3339))
		}
	}
	return ""
}

func (s *SlotService) getSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	slot, err := s.repo.GetSlot(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("Slot %s not found", id)
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}
	return slot, nil
}

// TransitionStatus moves a slot to status to. Moving to the current status is a no-op.
func (s *SlotService) TransitionStatus(ctx context.Context, id uuid.UUID, to SlotStatus) (*TimeSlot, error) {
	if !to.Valid() {
		return nil, invalidInput("Unknown slot status %q", to)
	}

	slot, err := s.getSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot.Status == to {
		return slot, nil
	}
	if !CanTransition(slot.Status, to) {
		return nil, invalidTransition(slot.Status, to)
	}

	switch {
	case to == SlotPendingApproval:
		return nil, conflict("Slots enter pending_approval only through a reservation request")
	case to == SlotReserved && slot.CurrentReservations < 1:
		return nil, conflict("Slot has no reservations, cannot be marked reserved")
	case slot.Status == SlotReserved && to == SlotAvailable:
		// reserved slots are released by cancelling their reservations
		return nil, invalidTransition(slot.Status, to)
	}

	var updated *TimeSlot
	if to == SlotCancelled {
		updated, err = s.cancelSlot(ctx, id)
	} else {
		updated, err = transitionSlot(ctx, s.repo, *slot, to, nil)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("slot status changed",
		zap.String("slot_id", id.String()),
		zap.String("from", string(slot.Status)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

const slotCancelledReason = "Slot was cancelled"

// cancelSlot cancels a reserved slot together with its confirmed
// reservations, writing one RESERVATION_CANCELLED event for each.
func (s *SlotService) cancelSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	var updated *TimeSlot
	var cancelled int

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		slot, err := tx.GetSlotForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return notFound("Slot %s not found", id)
			}
			return fmt.Errorf("lock slot: %w", err)
		}
		if slot.Status == SlotCancelled {
			updated = slot
			return nil
		}

		reservations, err := tx.ListSlotReservations(ctx, id, ReservationConfirmed)
		if err != nil {
			return err
		}

		now := s.clock.now()
		reason := slotCancelledReason
		for _, res := range reservations {
			c, err := tx.CancelReservation(ctx, res.ID, nil, &reason, now)
			if err != nil {
				return fmt.Errorf("cancel reservation %s: %w", res.ID, err)
			}
			if err := emit(ctx, tx, EventReservationCancelled, c.ID, cancellationPayload(*c, "", reason, now)); err != nil {
				return err
			}
			cancelled++
		}

		updated, err = cancelReservedSlot(ctx, tx, *slot)
		return err
	})
	if err != nil {
		return nil, err
	}

	if cancelled > 0 {
		s.log.Info("slot reservations cancelled",
			zap.String("slot_id", id.String()),
			zap.Int("count", cancelled),
		)
	}
	return updated, nil
}

func (s *SlotService) Block(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return s.toggle(ctx, id, SlotAvailable, SlotBlocked)
}

func (s *SlotService) Unblock(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return s.toggle(ctx, id, SlotBlocked, SlotAvailable)
}

func (s *SlotService) toggle(ctx context.Context, id uuid.UUID, from, to SlotStatus) (*TimeSlot, error) {
	slot, err := s.getSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot.Status == to {
		return slot, nil
	}
	if slot.Status != from {
		return nil, conflict("Slot is %s, expected %s", slot.Status, from)
	}
	return transitionSlot(ctx, s.repo, *slot, to, nil)
}

// Delete removes a slot that never had requests or reservations.
func (s *SlotService) Delete(ctx context.Context, id uuid.UUID) error {
	slot, err := s.getSlot(ctx, id)
	if err != nil {
		return err
	}
	if slot.Status == SlotReserved || slot.Status == SlotPendingApproval {
		return conflict("Slot is %s, cannot be deleted", slot.Status)
	}

	err = s.repo.DeleteSlot(ctx, id, []SlotStatus{SlotReserved, SlotPendingApproval})
	if errors.Is(err, ErrStaleState) {
		current, gerr := s.getSlot(ctx, id)
		if gerr != nil {
			return gerr
		}
		if current.Status == SlotReserved || current.Status == SlotPendingApproval {
			return conflict("Slot is %s, cannot be deleted", current.Status)
		}
		return conflict("Slot has reservation history, cannot be deleted")
	}
	if err != nil {
		return err
	}

	s.log.Info("slot deleted", zap.String("slot_id", id.String()))
	return nil
}

func (s *SlotService) ListSlots(ctx context.Context, f SlotFilter) ([]TimeSlot, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, invalidInput("Unknown slot status %q", *f.Status)
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return nil, invalidRange("Range end must be after range start")
	}

	slots, err := s.repo.ListSlots(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

// AvailableSlots lists bookable slots of a service on the calendar day of date,
// in date's location, that start after now and still have capacity.
func (s *SlotService) AvailableSlots(ctx context.Context, profileID, serviceID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	status := SlotAvailable

	slots, err := s.repo.ListSlots(ctx, SlotFilter{
		ProfileID: profileID,
		ServiceID: &serviceID,
		Status:    &status,
		From:      &dayStart,
		To:        &dayEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}

	now := s.clock.now()
	out := make([]TimeSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.FullyBooked() || !slot.StartTime.After(now) {
			continue
		}
		out = append(out, slot)
	}
	return out, nil
}

// Guarded primitives. Every slot status or occupancy write goes through one of these.

// transitionSlot checks the table and then updates the row only if its
// stored status is still a legal source of to. A reserved slot never moves
// to available here, only through releaseSlotUnit.
func transitionSlot(ctx context.Context, repo Repository, slot TimeSlot, to SlotStatus, expiresAt *time.Time) (*TimeSlot, error) {
	if !CanTransition(slot.Status, to) {
		return nil, invalidTransition(slot.Status, to)
	}

	sources := make([]SlotStatus, 0, len(allSlotStatuses))
	for _, from := range sourcesOf(to) {
		if from == SlotReserved && to == SlotAvailable {
			continue
		}
		sources = append(sources, from)
	}

	updated, err := repo.UpdateSlotStatus(ctx, slot.ID, sources, to, expiresAt)
	if errors.Is(err, ErrStaleState) {
		current, gerr := repo.GetSlot(ctx, slot.ID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, invalidTransition(current.Status, to)
	}
	if err != nil {
		return nil, fmt.Errorf("update slot status: %w", err)
	}
	return updated, nil
}

// reserveSlotUnit adds one reservation to a slot that is held for approval
// or already reserved, failing with Conflict when no capacity remains.
func reserveSlotUnit(ctx context.Context, repo Repository, id uuid.UUID) (*TimeSlot, error) {
	updated, err := repo.IncrementSlotReservations(ctx, id, []SlotStatus{SlotPendingApproval, SlotReserved})
	if errors.Is(err, ErrStaleState) {
		current, gerr := repo.GetSlot(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if current.FullyBooked() {
			return nil, conflict("Slot is fully booked")
		}
		return nil, conflict("Slot is %s, cannot be reserved", current.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("reserve slot unit: %w", err)
	}
	return updated, nil
}

// releaseSlotUnit removes one reservation. The slot becomes available when
// its last reservation is released and stays reserved otherwise.
func releaseSlotUnit(ctx context.Context, repo Repository, id uuid.UUID) (*TimeSlot, error) {
	updated, err := repo.DecrementSlotReservations(ctx, id)
	if errors.Is(err, ErrStaleState) {
		current, gerr := repo.GetSlot(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, conflict("Slot is %s with %d reservations, nothing to release", current.Status, current.CurrentReservations)
	}
	if err != nil {
		return nil, fmt.Errorf("release slot unit: %w", err)
	}
	return updated, nil
}

// cancelReservedSlot moves a reserved slot to cancelled and zeroes its
// occupancy. Callers cancel the confirmed reservations in the same transaction.
func cancelReservedSlot(ctx context.Context, repo Repository, slot TimeSlot) (*TimeSlot, error) {
	if !CanTransition(slot.Status, SlotCancelled) {
		return nil, invalidTransition(slot.Status, SlotCancelled)
	}
	updated, err := repo.CancelSlot(ctx, slot.ID)
	if errors.Is(err, ErrStaleState) {
		current, gerr := repo.GetSlot(ctx, slot.ID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, invalidTransition(current.Status, SlotCancelled)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel slot: %w", err)
	}
	return updated, nil
}

// releaseHold returns a slot held by a pending request to available. Slots in
// any other status are left as they are.
func releaseHold(ctx context.Context, repo Repository, id uuid.UUID) (*TimeSlot, error) {
	slot, err := repo.GetSlotForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot.Status != SlotPendingApproval {
		return slot, nil
	}
	return transitionSlot(ctx, repo, *slot, SlotAvailable, nil)
}
