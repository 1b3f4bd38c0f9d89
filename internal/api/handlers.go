package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/reservation"
)

type SlotService interface {
	CreateSlot(ctx context.Context, in reservation.CreateSlotInput) (*reservation.TimeSlot, error)
	CreateBatch(ctx context.Context, profileID, serviceID uuid.UUID, windows []reservation.Window) (*reservation.BatchResult, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to reservation.SlotStatus) (*reservation.TimeSlot, error)
	Block(ctx context.Context, id uuid.UUID) (*reservation.TimeSlot, error)
	Unblock(ctx context.Context, id uuid.UUID) (*reservation.TimeSlot, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListSlots(ctx context.Context, f reservation.SlotFilter) ([]reservation.TimeSlot, error)
	AvailableSlots(ctx context.Context, profileID, serviceID uuid.UUID, date time.Time) ([]reservation.TimeSlot, error)
}

type RequestService interface {
	CreateRequest(ctx context.Context, in reservation.CreateRequestInput) (*reservation.RequestDetail, error)
	GetByID(ctx context.Context, id uuid.UUID) (*reservation.RequestDetail, error)
	PendingByProfile(ctx context.Context, profileID uuid.UUID) ([]reservation.ReservationRequest, error)
	PatientHistory(ctx context.Context, phone string) ([]reservation.ReservationRequest, error)
	Stats(ctx context.Context, profileID uuid.UUID) (*reservation.RequestStats, error)
}

type ApprovalService interface {
	Approve(ctx context.Context, in reservation.ApproveInput) (*reservation.ApprovalResult, error)
	Reject(ctx context.Context, in reservation.RejectInput) (*reservation.RejectResult, error)
	Expire(ctx context.Context, id uuid.UUID) (*reservation.ExpireResult, error)
	Cancel(ctx context.Context, in reservation.CancelInput) (*reservation.CancelResult, error)
}

type Handler struct {
	slots     SlotService
	requests  RequestService
	approvals ApprovalService
	log       *zap.Logger
}

func NewHandler(slots SlotService, requests RequestService, approvals ApprovalService, log *zap.Logger) *Handler {
	return &Handler{
		slots:     slots,
		requests:  requests,
		approvals: approvals,
		log:       log,
	}
}

func (h *Handler) createSlot(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathUUID(w, r, "profileID")
	if !ok {
		return
	}
	var req CreateSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	serviceID, ok := parseUUIDField(w, "service_id", req.ServiceID)
	if !ok {
		return
	}

	slot, err := h.slots.CreateSlot(r.Context(), reservation.CreateSlotInput{
		ProfileID:       profileID,
		ServiceID:       serviceID,
		Start:           req.StartTime,
		End:             req.EndTime,
		MaxReservations: req.MaxReservations,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
}

func (h *Handler) createSlotBatch(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathUUID(w, r, "profileID")
	if !ok {
		return
	}
	var req CreateBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	serviceID, ok := parseUUIDField(w, "service_id", req.ServiceID)
	if !ok {
		return
	}

	windows := make([]reservation.Window, 0, len(req.Slots))
	for _, s := range req.Slots {
		windows = append(windows, reservation.Window{Start: s.StartTime, End: s.EndTime, MaxReservations: s.MaxReservations})
	}

	res, err := h.slots.CreateBatch(r.Context(), profileID, serviceID, windows)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	resp := BatchResponse{
		Created:  toSlotList(res.Created),
		Failures: make([]BatchFailureResponse, 0, len(res.Failures)),
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, BatchFailureResponse{Index: f.Index, Reason: f.Reason})
	}

	status := http.StatusCreated
	if len(res.Failures) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

func (h *Handler) listSlots(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathUUID(w, r, "profileID")
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := reservation.SlotFilter{ProfileID: profileID}

	if v := q.Get("service_id"); v != "" {
		id, ok := parseUUIDField(w, "service_id", v)
		if !ok {
			return
		}
		filter.ServiceID = &id
	}
	if v := q.Get("status"); v != "" {
		st := reservation.SlotStatus(v)
		filter.Status = &st
	}
	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be an RFC3339 timestamp")
			return
		}
		*dst = &t
	}

	slots, err := h.slots.ListSlots(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotList(slots))
}

func (h *Handler) availableSlots(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathUUID(w, r, "profileID")
	if !ok {
		return
	}
	serviceID, ok := pathUUID(w, r, "serviceID")
	if !ok {
		return
	}

	loc := time.UTC
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_tz", "tz must be an IANA time zone")
			return
		}
		loc = l
	}
	date, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("date"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as YYYY-MM-DD")
		return
	}

	slots, err := h.slots.AvailableSlots(r.Context(), profileID, serviceID, date)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotList(slots))
}

func (h *Handler) updateSlotStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateSlotStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	slot, err := h.slots.TransitionStatus(r.Context(), id, reservation.SlotStatus(req.Status))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(*slot))
}

func (h *Handler) blockSlot(w http.ResponseWriter, r *http.Request) {
	h.slotAction(w, r, h.slots.Block)
}

func (h *Handler) unblockSlot(w http.ResponseWriter, r *http.Request) {
	h.slotAction(w, r, h.slots.Unblock)
}

func (h *Handler) slotAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*reservation.TimeSlot, error)) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	slot, err := fn(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(*slot))
}

func (h *Handler) deleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.slots.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	slotID, ok := parseUUIDField(w, "slot_id", req.SlotID)
	if !ok {
		return
	}
	serviceID, ok := parseUUIDField(w, "service_id", req.ServiceID)
	if !ok {
		return
	}

	detail, err := h.requests.CreateRequest(r.Context(), reservation.CreateRequestInput{
		SlotID:    slotID,
		ServiceID: serviceID,
		Patient:   req.Patient,
		Urgency:   reservation.UrgencyLevel(req.Urgency),
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDetailResponse(detail))
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.requests.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(detail))
}

func (h *Handler) pendingRequests(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathUUID(w, r, "profileID")
	if !ok {
		return
	}
	reqs, err := h.requests.PendingByProfile(r.Context(), profileID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestList(reqs))
}

func (h *Handler) patientHistory(w http.ResponseWriter, r *http.Request) {
	phone, err := url.PathUnescape(chi.URLParam(r, "phone"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_phone", "phone is not a valid path segment")
		return
	}
	reqs, err := h.requests.PatientHistory(r.Context(), phone)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestList(reqs))
}

func (h *Handler) requestStats(w http.ResponseWriter, r *http.Request) {
	profileID, ok := pathUUID(w, r, "profileID")
	if !ok {
		return
	}
	stats, err := h.requests.Stats(r.Context(), profileID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		ProfileID: stats.ProfileID,
		Pending:   stats.Pending,
		Approved:  stats.Approved,
		Rejected:  stats.Rejected,
		Expired:   stats.Expired,
		Total:     stats.Total,
	})
}

func (h *Handler) approveRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req ApproveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := reservation.ApproveInput{RequestID: id, ApprovedBy: req.ApprovedBy, Notes: req.Notes}
	if c := req.Changes; c != nil {
		changes := &reservation.Changes{Price: c.Price}
		if c.TimeSlotID != nil {
			slotID, ok := parseUUIDField(w, "time_slot_id", *c.TimeSlotID)
			if !ok {
				return
			}
			changes.TimeSlotID = &slotID
		}
		if c.ServiceID != nil {
			serviceID, ok := parseUUIDField(w, "service_id", *c.ServiceID)
			if !ok {
				return
			}
			changes.ServiceID = &serviceID
		}
		in.Changes = changes
	}

	res, err := h.approvals.Approve(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovalResponse{
		Request:     toRequestResponse(res.Request),
		Reservation: toReservationResponse(res.Reservation),
		Slot:        toSlotResponse(res.Slot),
		Changes:     res.Changes,
	})
}

func (h *Handler) rejectRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req RejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.approvals.Reject(r.Context(), reservation.RejectInput{RequestID: id, RejectedBy: req.RejectedBy, Reason: req.Reason})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, RejectResponse{
		Request: toRequestResponse(res.Request),
		Slot:    toSlotResponsePtr(res.Slot),
	})
}

func (h *Handler) expireRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.approvals.Expire(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	resp := ExpireResponse{Success: res.Success, Message: res.Message, Slot: toSlotResponsePtr(res.Slot)}
	if res.Request != nil {
		req := toRequestResponse(*res.Request)
		resp.Request = &req
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req CancelRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.approvals.Cancel(r.Context(), reservation.CancelInput{ReservationID: id, CancelledBy: req.CancelledBy, Reason: req.Reason})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{
		Reservation:      toReservationResponse(res.Reservation),
		Slot:             toSlotResponsePtr(res.Slot),
		AlreadyCancelled: res.AlreadyCancelled,
	})
}
