package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SlotFilter struct {
	ProfileID uuid.UUID
	ServiceID *uuid.UUID
	Status    *SlotStatus
	From      *time.Time // start_time >= From
	To        *time.Time // start_time < To
}

// Repository contains all DB interactions needed by the services.
// Guarded updates return ErrStaleState when their condition matches no row.
type Repository interface {
	// RunInTx runs fn against a repository bound to one transaction. Nested
	// calls reuse the outer transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error

	GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error)
	GetService(ctx context.Context, id uuid.UUID) (*Service, error)

	// Slots
	InsertSlot(ctx context.Context, slot TimeSlot) (*TimeSlot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]TimeSlot, error)
	ListOverlappingSlots(ctx context.Context, profileID uuid.UUID, start, end time.Time) ([]TimeSlot, error)
	ListAvailableSlotsEndedBefore(ctx context.Context, before time.Time, limit int) ([]TimeSlot, error)
	// UpdateSlotStatus sets status when the current one is in from.
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, from []SlotStatus, to SlotStatus, expiresAt *time.Time) (*TimeSlot, error)
	// IncrementSlotReservations adds one unit of occupancy and marks the slot reserved,
	// provided capacity remains and the current status is in from.
	IncrementSlotReservations(ctx context.Context, id uuid.UUID, from []SlotStatus) (*TimeSlot, error)
	// DecrementSlotReservations removes one unit of occupancy from a reserved slot,
	// moving it to available when the count reaches zero.
	DecrementSlotReservations(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	// CancelSlot moves a reserved slot to cancelled and clears its occupancy.
	CancelSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	// DeleteSlot removes a slot that is not in blocked statuses and has no history.
	DeleteSlot(ctx context.Context, id uuid.UUID, blocked []SlotStatus) error

	// Requests
	InsertRequest(ctx context.Context, req ReservationRequest) (*ReservationRequest, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*ReservationRequest, error)
	GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*ReservationRequest, error)
	FindPendingRequest(ctx context.Context, slotID uuid.UUID, phone string) (*ReservationRequest, error)
	ListPendingRequestsByProfile(ctx context.Context, profileID uuid.UUID) ([]ReservationRequest, error)
	ListRequestsByPhone(ctx context.Context, phone string) ([]ReservationRequest, error)
	CountRequestsByStatus(ctx context.Context, profileID uuid.UUID) (map[RequestStatus]int, error)
	// FindExpiredPending returns pending requests whose expires_at is before now.
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]ReservationRequest, error)
	// ResolveRequest writes a terminal status and its metadata if the stored
	// request is still pending.
	ResolveRequest(ctx context.Context, req ReservationRequest) (*ReservationRequest, error)

	// Reservations
	InsertReservation(ctx context.Context, res Reservation) (*Reservation, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	// ListSlotReservations returns the slot's reservations in status, locked for update.
	ListSlotReservations(ctx context.Context, slotID uuid.UUID, status ReservationStatus) ([]Reservation, error)
	CancelReservation(ctx context.Context, id uuid.UUID, by, reason *string, at time.Time) (*Reservation, error)
	MarkRemindersScheduled(ctx context.Context, id uuid.UUID, r24h, r2h bool) error
	// MarkReminderSent flips the flag for kind from false to true.
	MarkReminderSent(ctx context.Context, id uuid.UUID, kind ReminderKind) error

	// Outbox
	InsertEvent(ctx context.Context, ev OutboxEvent) error
	ListUndispatchedEvents(ctx context.Context, maxAttempts, limit int) ([]OutboxEvent, error)
	MarkEventDispatched(ctx context.Context, id int64, at time.Time) error
	MarkEventFailed(ctx context.Context, id int64, reason string) error
}
