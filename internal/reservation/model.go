package reservation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SlotStatus string

const (
	SlotAvailable       SlotStatus = "available"
	SlotPendingApproval SlotStatus = "pending_approval"
	SlotReserved        SlotStatus = "reserved"
	SlotExpired         SlotStatus = "expired"
	SlotBlocked         SlotStatus = "blocked"
	SlotCancelled       SlotStatus = "cancelled"
)

var allSlotStatuses = []SlotStatus{
	SlotAvailable,
	SlotPendingApproval,
	SlotReserved,
	SlotExpired,
	SlotBlocked,
	SlotCancelled,
}

// next lists the statuses a slot may move to from s.
func (s SlotStatus) next() []SlotStatus {
	switch s {
	case SlotAvailable:
		return []SlotStatus{SlotPendingApproval, SlotBlocked, SlotExpired}
	case SlotPendingApproval:
		return []SlotStatus{SlotAvailable, SlotReserved, SlotExpired}
	case SlotReserved:
		// available only once a cancellation empties the slot
		return []SlotStatus{SlotCancelled, SlotAvailable}
	case SlotExpired:
		return []SlotStatus{SlotAvailable}
	case SlotBlocked:
		return []SlotStatus{SlotAvailable}
	case SlotCancelled:
		return nil
	}
	return nil
}

func (s SlotStatus) Valid() bool {
	for _, v := range allSlotStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether a slot in from may move to to.
// Staying in the same status is always allowed.
func CanTransition(from, to SlotStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, n := range from.next() {
		if n == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may move to to, including to itself.
// Stores use it as the guard of a conditional status update.
func sourcesOf(to SlotStatus) []SlotStatus {
	out := []SlotStatus{to}
	for _, from := range allSlotStatuses {
		if from != to && CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestExpired  RequestStatus = "expired"
)

type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationCompleted ReservationStatus = "completed"
	ReservationNoShow    ReservationStatus = "no_show"
)

type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "low"
	UrgencyNormal UrgencyLevel = "normal"
	UrgencyHigh   UrgencyLevel = "high"
	UrgencyUrgent UrgencyLevel = "urgent"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// ReminderKind names one of the reservation's one-shot notification flags.
type ReminderKind string

const (
	Reminder24h ReminderKind = "reminder_24h"
	Reminder2h  ReminderKind = "reminder_2h"
	FollowUp    ReminderKind = "follow_up"
)

type Profile struct {
	ID        uuid.UUID
	Name      string
	Phone     *string
	CreatedAt time.Time
}

type Service struct {
	ID              uuid.UUID
	ProfileID       uuid.UUID
	Name            string
	DurationMinutes int
	Price           decimal.Decimal
	CreatedAt       time.Time
}

type TimeSlot struct {
	ID                  uuid.UUID
	ProfileID           uuid.UUID
	ServiceID           uuid.UUID
	StartTime           time.Time
	EndTime             time.Time
	MaxReservations     int
	CurrentReservations int
	Status              SlotStatus
	ExpiresAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (s TimeSlot) FullyBooked() bool {
	return s.CurrentReservations >= s.MaxReservations
}

func (s TimeSlot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

type Patient struct {
	Name         string  `json:"name" validate:"required,max=200"`
	Phone        string  `json:"phone" validate:"required,e164"`
	Email        *string `json:"email,omitempty" validate:"omitempty,email"`
	Age          *int    `json:"age,omitempty" validate:"omitempty,gte=0,lte=130"`
	Gender       *string `json:"gender,omitempty" validate:"omitempty,oneof=female male other"`
	Symptoms     *string `json:"symptoms,omitempty" validate:"omitempty,max=2000"`
	MedicalNotes *string `json:"medical_notes,omitempty" validate:"omitempty,max=4000"`
}

type ReservationRequest struct {
	ID              uuid.UUID
	ProfileID       uuid.UUID
	SlotID          uuid.UUID
	ServiceID       uuid.UUID
	Patient         Patient
	Urgency         UrgencyLevel
	Status          RequestStatus
	RequestedTime   time.Time
	ExpiresAt       time.Time
	ApprovedBy      *string
	ApprovedAt      *time.Time
	RejectedBy      *string
	RejectedAt      *time.Time
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Reservation struct {
	ID                   uuid.UUID
	ProfileID            uuid.UUID
	SlotID               uuid.UUID
	ServiceID            uuid.UUID
	RequestID            *uuid.UUID
	Patient              Patient
	Status               ReservationStatus
	AppointmentTime      time.Time
	Notes                *string
	PriceOverride        *decimal.Decimal
	Reminder24hScheduled bool
	Reminder2hScheduled  bool
	Reminder24hSent      bool
	Reminder2hSent       bool
	FollowUpSent         bool
	PaymentStatus        PaymentStatus
	CancelledBy          *string
	CancelledAt          *time.Time
	CancellationReason   *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ReminderSent reports the flag for kind.
func (r Reservation) ReminderSent(kind ReminderKind) bool {
	switch kind {
	case Reminder24h:
		return r.Reminder24hSent
	case Reminder2h:
		return r.Reminder2hSent
	case FollowUp:
		return r.FollowUpSent
	}
	return false
}

type OutboxEvent struct {
	ID           int64
	EventType    string
	AggregateID  uuid.UUID
	Payload      []byte
	CreatedAt    time.Time
	DispatchedAt *time.Time
	Attempts     int
	LastError    *string
}

// RequestDetail is a request enriched with the slot and service it was validated against.
type RequestDetail struct {
	Request ReservationRequest
	Slot    *TimeSlot
	Service *Service
}

type RequestStats struct {
	ProfileID uuid.UUID
	Pending   int
	Approved  int
	Rejected  int
	Expired   int
	Total     int
}

// Clock returns the current time. A nil Clock means time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
