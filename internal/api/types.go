package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/slot-reservation/internal/reservation"
)

type CreateSlotRequest struct {
	ServiceID       string    `json:"service_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	MaxReservations int       `json:"max_reservations"`
}

type WindowRequest struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	MaxReservations int       `json:"max_reservations"`
}

type CreateBatchRequest struct {
	ServiceID string          `json:"service_id"`
	Slots     []WindowRequest `json:"slots"`
}

type UpdateSlotStatusRequest struct {
	Status string `json:"status"`
}

type CreateReservationRequest struct {
	SlotID    string              `json:"slot_id"`
	ServiceID string              `json:"service_id"`
	Patient   reservation.Patient `json:"patient"`
	Urgency   string              `json:"urgency"`
}

type ChangesRequest struct {
	TimeSlotID *string          `json:"time_slot_id"`
	ServiceID  *string          `json:"service_id"`
	Price      *decimal.Decimal `json:"price"`
}

type ApproveRequest struct {
	ApprovedBy string          `json:"approved_by"`
	Notes      *string         `json:"notes"`
	Changes    *ChangesRequest `json:"changes"`
}

type RejectRequest struct {
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason"`
}

type CancelRequest struct {
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason"`
}

type SlotResponse struct {
	ID                  uuid.UUID  `json:"id"`
	ProfileID           uuid.UUID  `json:"profile_id"`
	ServiceID           uuid.UUID  `json:"service_id"`
	StartTime           time.Time  `json:"start_time"`
	EndTime             time.Time  `json:"end_time"`
	MaxReservations     int        `json:"max_reservations"`
	CurrentReservations int        `json:"current_reservations"`
	Status              string     `json:"status"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

type ServiceResponse struct {
	ID              uuid.UUID       `json:"id"`
	ProfileID       uuid.UUID       `json:"profile_id"`
	Name            string          `json:"name"`
	DurationMinutes int             `json:"duration_minutes"`
	Price           decimal.Decimal `json:"price"`
}

type RequestResponse struct {
	ID              uuid.UUID           `json:"id"`
	ProfileID       uuid.UUID           `json:"profile_id"`
	SlotID          uuid.UUID           `json:"slot_id"`
	ServiceID       uuid.UUID           `json:"service_id"`
	Patient         reservation.Patient `json:"patient"`
	Urgency         string              `json:"urgency"`
	Status          string              `json:"status"`
	RequestedTime   time.Time           `json:"requested_time"`
	ExpiresAt       time.Time           `json:"expires_at"`
	ApprovedBy      *string             `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time          `json:"approved_at,omitempty"`
	RejectedBy      *string             `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time          `json:"rejected_at,omitempty"`
	RejectionReason *string             `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

type RequestDetailResponse struct {
	Request RequestResponse  `json:"request"`
	Slot    *SlotResponse    `json:"slot,omitempty"`
	Service *ServiceResponse `json:"service,omitempty"`
}

type ReservationResponse struct {
	ID                 uuid.UUID           `json:"id"`
	ProfileID          uuid.UUID           `json:"profile_id"`
	SlotID             uuid.UUID           `json:"slot_id"`
	ServiceID          uuid.UUID           `json:"service_id"`
	RequestID          *uuid.UUID          `json:"request_id,omitempty"`
	Patient            reservation.Patient `json:"patient"`
	Status             string              `json:"status"`
	AppointmentTime    time.Time           `json:"appointment_time"`
	Notes              *string             `json:"notes,omitempty"`
	PriceOverride      *decimal.Decimal    `json:"price_override,omitempty"`
	PaymentStatus      string              `json:"payment_status"`
	CancelledBy        *string             `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time          `json:"cancelled_at,omitempty"`
	CancellationReason *string             `json:"cancellation_reason,omitempty"`
}

type BatchFailureResponse struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type BatchResponse struct {
	Created  []SlotResponse         `json:"created"`
	Failures []BatchFailureResponse `json:"failures"`
}

type ApprovalResponse struct {
	Request     RequestResponse            `json:"request"`
	Reservation ReservationResponse        `json:"reservation"`
	Slot        SlotResponse               `json:"slot"`
	Changes     *reservation.ChangeSummary `json:"changes,omitempty"`
}

type RejectResponse struct {
	Request RequestResponse `json:"request"`
	Slot    *SlotResponse   `json:"slot,omitempty"`
}

type ExpireResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message,omitempty"`
	Request *RequestResponse `json:"request,omitempty"`
	Slot    *SlotResponse    `json:"slot,omitempty"`
}

type CancelResponse struct {
	Reservation      ReservationResponse `json:"reservation"`
	Slot             *SlotResponse       `json:"slot,omitempty"`
	AlreadyCancelled bool                `json:"already_cancelled"`
}

type StatsResponse struct {
	ProfileID uuid.UUID `json:"profile_id"`
	Pending   int       `json:"pending"`
	Approved  int       `json:"approved"`
	Rejected  int       `json:"rejected"`
	Expired   int       `json:"expired"`
	Total     int       `json:"total"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s reservation.TimeSlot) SlotResponse {
	return SlotResponse{
		ID:                  s.ID,
		ProfileID:           s.ProfileID,
		ServiceID:           s.ServiceID,
		StartTime:           s.StartTime,
		EndTime:             s.EndTime,
		MaxReservations:     s.MaxReservations,
		CurrentReservations: s.CurrentReservations,
		Status:              string(s.Status),
		ExpiresAt:           s.ExpiresAt,
	}
}

func toSlotResponsePtr(s *reservation.TimeSlot) *SlotResponse {
	if s == nil {
		return nil
	}
	resp := toSlotResponse(*s)
	return &resp
}

func toSlotList(slots []reservation.TimeSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

func toServiceResponse(s *reservation.Service) *ServiceResponse {
	if s == nil {
		return nil
	}
	return &ServiceResponse{
		ID:              s.ID,
		ProfileID:       s.ProfileID,
		Name:            s.Name,
		DurationMinutes: s.DurationMinutes,
		Price:           s.Price,
	}
}

func toRequestResponse(r reservation.ReservationRequest) RequestResponse {
	return RequestResponse{
		ID:              r.ID,
		ProfileID:       r.ProfileID,
		SlotID:          r.SlotID,
		ServiceID:       r.ServiceID,
		Patient:         r.Patient,
		Urgency:         string(r.Urgency),
		Status:          string(r.Status),
		RequestedTime:   r.RequestedTime,
		ExpiresAt:       r.ExpiresAt,
		ApprovedBy:      r.ApprovedBy,
		ApprovedAt:      r.ApprovedAt,
		RejectedBy:      r.RejectedBy,
		RejectedAt:      r.RejectedAt,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt,
	}
}

func toRequestList(reqs []reservation.ReservationRequest) []RequestResponse {
	out := make([]RequestResponse, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toRequestResponse(r))
	}
	return out
}

func toDetailResponse(d *reservation.RequestDetail) RequestDetailResponse {
	return RequestDetailResponse{
		Request: toRequestResponse(d.Request),
		Slot:    toSlotResponsePtr(d.Slot),
		Service: toServiceResponse(d.Service),
	}
}

func toReservationResponse(r reservation.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:                 r.ID,
		ProfileID:          r.ProfileID,
		SlotID:             r.SlotID,
		ServiceID:          r.ServiceID,
		RequestID:          r.RequestID,
		Patient:            r.Patient,
		Status:             string(r.Status),
		AppointmentTime:    r.AppointmentTime,
		Notes:              r.Notes,
		PriceOverride:      r.PriceOverride,
		PaymentStatus:      string(r.PaymentStatus),
		CancelledBy:        r.CancelledBy,
		CancelledAt:        r.CancelledAt,
		CancellationReason: r.CancellationReason,
	}
}
