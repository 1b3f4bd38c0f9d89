package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventRequestCreated       = "REQUEST_CREATED"
	EventRequestApproved      = "REQUEST_APPROVED"
	EventRequestRejected      = "REQUEST_REJECTED"
	EventRequestExpired       = "REQUEST_EXPIRED"
	EventReservationCancelled = "RESERVATION_CANCELLED"
)

// OutcomePayload is the body of every outbox event written by the services.
type OutcomePayload struct {
	RequestID       uuid.UUID      `json:"request_id"`
	ReservationID   *uuid.UUID     `json:"reservation_id,omitempty"`
	ProfileID       uuid.UUID      `json:"profile_id"`
	SlotID          uuid.UUID      `json:"slot_id"`
	ServiceID       uuid.UUID      `json:"service_id"`
	PatientName     string         `json:"patient_name"`
	PatientPhone    string         `json:"patient_phone"`
	AppointmentTime time.Time      `json:"appointment_time"`
	Actor           string         `json:"actor,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	OccurredAt      time.Time      `json:"occurred_at"`
	Changes         *ChangeSummary `json:"changes,omitempty"`
}

// ChangeSummary records how an approval deviated from the original request.
type ChangeSummary struct {
	FromSlotID    *uuid.UUID       `json:"from_slot_id,omitempty"`
	ToSlotID      *uuid.UUID       `json:"to_slot_id,omitempty"`
	FromServiceID *uuid.UUID       `json:"from_service_id,omitempty"`
	ToServiceID   *uuid.UUID       `json:"to_service_id,omitempty"`
	PriceOverride *decimal.Decimal `json:"price_override,omitempty"`
}

func (c *ChangeSummary) empty() bool {
	return c == nil || (c.ToSlotID == nil && c.ToServiceID == nil && c.PriceOverride == nil)
}

func requestPayload(req ReservationRequest, at time.Time) OutcomePayload {
	return OutcomePayload{
		RequestID:       req.ID,
		ProfileID:       req.ProfileID,
		SlotID:          req.SlotID,
		ServiceID:       req.ServiceID,
		PatientName:     req.Patient.Name,
		PatientPhone:    req.Patient.Phone,
		AppointmentTime: req.RequestedTime,
		OccurredAt:      at,
	}
}

func cancellationPayload(res Reservation, actor, reason string, at time.Time) OutcomePayload {
	p := OutcomePayload{
		ReservationID:   &res.ID,
		ProfileID:       res.ProfileID,
		SlotID:          res.SlotID,
		ServiceID:       res.ServiceID,
		PatientName:     res.Patient.Name,
		PatientPhone:    res.Patient.Phone,
		AppointmentTime: res.AppointmentTime,
		Actor:           actor,
		Reason:          reason,
		OccurredAt:      at,
	}
	if res.RequestID != nil {
		p.RequestID = *res.RequestID
	}
	return p
}

// emit writes an outbox row through repo, normally the transaction that made the change.
func emit(ctx context.Context, repo Repository, eventType string, aggregateID uuid.UUID, payload OutcomePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	err = repo.InsertEvent(ctx, OutboxEvent{
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     data,
		CreatedAt:   payload.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("write %s event: %w", eventType, err)
	}
	return nil
}

func DecodePayload(ev OutboxEvent) (OutcomePayload, error) {
	var p OutcomePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s event %d: %w", ev.EventType, ev.ID, err)
	}
	return p, nil
}
