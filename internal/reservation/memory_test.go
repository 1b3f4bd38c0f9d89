package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepo mirrors the guarded semantics of PgRepository. Transactions are
// serialised and roll back by restoring a snapshot.
type memoryRepo struct {
	txMu *sync.Mutex
	mu   *sync.Mutex
	data *memoryData
	inTx bool

	// failInsertEvent makes the next InsertEvent fail, to exercise rollbacks.
	failInsertEvent error
}

type memoryData struct {
	profiles     map[uuid.UUID]Profile
	services     map[uuid.UUID]Service
	slots        map[uuid.UUID]TimeSlot
	requests     map[uuid.UUID]ReservationRequest
	reservations map[uuid.UUID]Reservation
	events       []OutboxEvent
	nextEventID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		txMu: &sync.Mutex{},
		mu:   &sync.Mutex{},
		data: &memoryData{
			profiles:     map[uuid.UUID]Profile{},
			services:     map[uuid.UUID]Service{},
			slots:        map[uuid.UUID]TimeSlot{},
			requests:     map[uuid.UUID]ReservationRequest{},
			reservations: map[uuid.UUID]Reservation{},
		},
	}
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		profiles:     make(map[uuid.UUID]Profile, len(d.profiles)),
		services:     make(map[uuid.UUID]Service, len(d.services)),
		slots:        make(map[uuid.UUID]TimeSlot, len(d.slots)),
		requests:     make(map[uuid.UUID]ReservationRequest, len(d.requests)),
		reservations: make(map[uuid.UUID]Reservation, len(d.reservations)),
		events:       append([]OutboxEvent(nil), d.events...),
		nextEventID:  d.nextEventID,
	}
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	for k, v := range d.services {
		c.services[k] = v
	}
	for k, v := range d.slots {
		c.slots[k] = v
	}
	for k, v := range d.requests {
		c.requests[k] = v
	}
	for k, v := range d.reservations {
		c.reservations[k] = v
	}
	return c
}

func (r *memoryRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := r.data.clone()
	r.mu.Unlock()

	tx := *r
	tx.inTx = true
	if err := fn(ctx, &tx); err != nil {
		r.mu.Lock()
		*r.data = *snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memoryRepo) lock() func() {
	r.mu.Lock()
	return r.mu.Unlock
}

// Seeding helpers

func (r *memoryRepo) addProfile(p Profile) Profile {
	defer r.lock()()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.data.profiles[p.ID] = p
	return p
}

func (r *memoryRepo) addService(s Service) Service {
	defer r.lock()()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.DurationMinutes == 0 {
		s.DurationMinutes = 30
	}
	r.data.services[s.ID] = s
	return s
}

func (r *memoryRepo) putSlot(s TimeSlot) TimeSlot {
	defer r.lock()()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.data.slots[s.ID] = s
	return s
}

func (r *memoryRepo) putRequest(q ReservationRequest) ReservationRequest {
	defer r.lock()()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	r.data.requests[q.ID] = q
	return q
}

func (r *memoryRepo) slot(id uuid.UUID) TimeSlot {
	defer r.lock()()
	return r.data.slots[id]
}

func (r *memoryRepo) request(id uuid.UUID) ReservationRequest {
	defer r.lock()()
	return r.data.requests[id]
}

func (r *memoryRepo) eventsOfType(t string) []OutboxEvent {
	defer r.lock()()
	var out []OutboxEvent
	for _, ev := range r.data.events {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *memoryRepo) reservationCount() int {
	defer r.lock()()
	return len(r.data.reservations)
}

func containsStatus(list []SlotStatus, s SlotStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Profiles and services

func (r *memoryRepo) GetProfile(_ context.Context, id uuid.UUID) (*Profile, error) {
	defer r.lock()()
	p, ok := r.data.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

func (r *memoryRepo) GetService(_ context.Context, id uuid.UUID) (*Service, error) {
	defer r.lock()()
	s, ok := r.data.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

// Slots

func (r *memoryRepo) InsertSlot(_ context.Context, slot TimeSlot) (*TimeSlot, error) {
	defer r.lock()()
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	slot.CurrentReservations = 0
	slot.CreatedAt = time.Now()
	slot.UpdatedAt = slot.CreatedAt
	r.data.slots[slot.ID] = slot
	return &slot, nil
}

func (r *memoryRepo) GetSlot(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	defer r.lock()()
	s, ok := r.data.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *memoryRepo) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return r.GetSlot(ctx, id)
}

func sortSlots(out []TimeSlot) {
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
}

func (r *memoryRepo) ListSlots(_ context.Context, f SlotFilter) ([]TimeSlot, error) {
	defer r.lock()()
	var out []TimeSlot
	for _, s := range r.data.slots {
		if s.ProfileID != f.ProfileID {
			continue
		}
		if f.ServiceID != nil && s.ServiceID != *f.ServiceID {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.From != nil && s.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && !s.StartTime.Before(*f.To) {
			continue
		}
		out = append(out, s)
	}
	sortSlots(out)
	return out, nil
}

func (r *memoryRepo) ListOverlappingSlots(_ context.Context, profileID uuid.UUID, start, end time.Time) ([]TimeSlot, error) {
	defer r.lock()()
	var out []TimeSlot
	for _, s := range r.data.slots {
		if s.ProfileID == profileID && s.Status != SlotCancelled && s.Overlaps(start, end) {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (r *memoryRepo) ListAvailableSlotsEndedBefore(_ context.Context, before time.Time, limit int) ([]TimeSlot, error) {
	defer r.lock()()
	var out []TimeSlot
	for _, s := range r.data.slots {
		if s.Status == SlotAvailable && s.EndTime.Before(before) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) UpdateSlotStatus(_ context.Context, id uuid.UUID, from []SlotStatus, to SlotStatus, expiresAt *time.Time) (*TimeSlot, error) {
	defer r.lock()()
	s, ok := r.data.slots[id]
	if !ok || !containsStatus(from, s.Status) {
		return nil, ErrStaleState
	}
	if to == SlotReserved && s.CurrentReservations < 1 {
		return nil, ErrStaleState // CHECK constraint in Postgres
	}
	s.Status = to
	s.ExpiresAt = expiresAt
	s.UpdatedAt = time.Now()
	r.data.slots[id] = s
	return &s, nil
}

func (r *memoryRepo) IncrementSlotReservations(_ context.Context, id uuid.UUID, from []SlotStatus) (*TimeSlot, error) {
	defer r.lock()()
	s, ok := r.data.slots[id]
	if !ok || s.CurrentReservations >= s.MaxReservations || !containsStatus(from, s.Status) {
		return nil, ErrStaleState
	}
	s.CurrentReservations++
	s.Status = SlotReserved
	s.ExpiresAt = nil
	s.UpdatedAt = time.Now()
	r.data.slots[id] = s
	return &s, nil
}

func (r *memoryRepo) DecrementSlotReservations(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	defer r.lock()()
	s, ok := r.data.slots[id]
	if !ok || s.Status != SlotReserved || s.CurrentReservations <= 0 {
		return nil, ErrStaleState
	}
	s.CurrentReservations--
	if s.CurrentReservations == 0 {
		s.Status = SlotAvailable
	}
	s.UpdatedAt = time.Now()
	r.data.slots[id] = s
	return &s, nil
}

func (r *memoryRepo) CancelSlot(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	defer r.lock()()
	s, ok := r.data.slots[id]
	if !ok || s.Status != SlotReserved {
		return nil, ErrStaleState
	}
	s.Status = SlotCancelled
	s.CurrentReservations = 0
	s.ExpiresAt = nil
	s.UpdatedAt = time.Now()
	r.data.slots[id] = s
	return &s, nil
}

func (r *memoryRepo) DeleteSlot(_ context.Context, id uuid.UUID, blocked []SlotStatus) error {
	defer r.lock()()
	s, ok := r.data.slots[id]
	if !ok || containsStatus(blocked, s.Status) {
		return ErrStaleState
	}
	for _, q := range r.data.requests {
		if q.SlotID == id {
			return ErrStaleState
		}
	}
	for _, v := range r.data.reservations {
		if v.SlotID == id {
			return ErrStaleState
		}
	}
	delete(r.data.slots, id)
	return nil
}

// Requests

func (r *memoryRepo) InsertRequest(_ context.Context, req ReservationRequest) (*ReservationRequest, error) {
	defer r.lock()()
	for _, q := range r.data.requests {
		if q.Status == RequestPending && req.Status == RequestPending &&
			q.SlotID == req.SlotID && q.Patient.Phone == req.Patient.Phone {
			return nil, conflict("A pending request already exists for this patient and slot")
		}
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	r.data.requests[req.ID] = req
	return &req, nil
}

func (r *memoryRepo) GetRequest(_ context.Context, id uuid.UUID) (*ReservationRequest, error) {
	defer r.lock()()
	q, ok := r.data.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return &q, nil
}

func (r *memoryRepo) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*ReservationRequest, error) {
	return r.GetRequest(ctx, id)
}

func (r *memoryRepo) FindPendingRequest(_ context.Context, slotID uuid.UUID, phone string) (*ReservationRequest, error) {
	defer r.lock()()
	for _, q := range r.data.requests {
		if q.SlotID == slotID && q.Patient.Phone == phone && q.Status == RequestPending {
			return &q, nil
		}
	}
	return nil, ErrRequestNotFound
}

func urgencyRank(u UrgencyLevel) int {
	switch u {
	case UrgencyUrgent:
		return 0
	case UrgencyHigh:
		return 1
	case UrgencyNormal:
		return 2
	}
	return 3
}

func (r *memoryRepo) ListPendingRequestsByProfile(_ context.Context, profileID uuid.UUID) ([]ReservationRequest, error) {
	defer r.lock()()
	var out []ReservationRequest
	for _, q := range r.data.requests {
		if q.ProfileID == profileID && q.Status == RequestPending {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := urgencyRank(out[i].Urgency), urgencyRank(out[j].Urgency)
		if ri != rj {
			return ri < rj
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

func (r *memoryRepo) ListRequestsByPhone(_ context.Context, phone string) ([]ReservationRequest, error) {
	defer r.lock()()
	var out []ReservationRequest
	for _, q := range r.data.requests {
		if q.Patient.Phone == phone {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) CountRequestsByStatus(_ context.Context, profileID uuid.UUID) (map[RequestStatus]int, error) {
	defer r.lock()()
	counts := map[RequestStatus]int{}
	for _, q := range r.data.requests {
		if q.ProfileID == profileID {
			counts[q.Status]++
		}
	}
	return counts, nil
}

func (r *memoryRepo) FindExpiredPending(_ context.Context, now time.Time, limit int) ([]ReservationRequest, error) {
	defer r.lock()()
	var out []ReservationRequest
	for _, q := range r.data.requests {
		if q.Status == RequestPending && q.ExpiresAt.Before(now) {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) ResolveRequest(_ context.Context, req ReservationRequest) (*ReservationRequest, error) {
	defer r.lock()()
	q, ok := r.data.requests[req.ID]
	if !ok || q.Status != RequestPending {
		return nil, ErrStaleState
	}
	q.Status = req.Status
	q.SlotID = req.SlotID
	q.ServiceID = req.ServiceID
	q.ApprovedBy = req.ApprovedBy
	q.ApprovedAt = req.ApprovedAt
	q.RejectedBy = req.RejectedBy
	q.RejectedAt = req.RejectedAt
	q.RejectionReason = req.RejectionReason
	q.UpdatedAt = time.Now()
	r.data.requests[q.ID] = q
	return &q, nil
}

// Reservations

func (r *memoryRepo) InsertReservation(_ context.Context, res Reservation) (*Reservation, error) {
	defer r.lock()()
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	res.CreatedAt = time.Now()
	res.UpdatedAt = res.CreatedAt
	r.data.reservations[res.ID] = res
	return &res, nil
}

func (r *memoryRepo) GetReservation(_ context.Context, id uuid.UUID) (*Reservation, error) {
	defer r.lock()()
	v, ok := r.data.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return &v, nil
}

func (r *memoryRepo) ListSlotReservations(_ context.Context, slotID uuid.UUID, status ReservationStatus) ([]Reservation, error) {
	defer r.lock()()
	var out []Reservation
	for _, v := range r.data.reservations {
		if v.SlotID == slotID && v.Status == status {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) CancelReservation(_ context.Context, id uuid.UUID, by, reason *string, at time.Time) (*Reservation, error) {
	defer r.lock()()
	v, ok := r.data.reservations[id]
	if !ok || v.Status != ReservationConfirmed {
		return nil, ErrStaleState
	}
	v.Status = ReservationCancelled
	v.CancelledBy = by
	v.CancellationReason = reason
	v.CancelledAt = &at
	r.data.reservations[id] = v
	return &v, nil
}

func (r *memoryRepo) MarkRemindersScheduled(_ context.Context, id uuid.UUID, r24h, r2h bool) error {
	defer r.lock()()
	v, ok := r.data.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	v.Reminder24hScheduled = v.Reminder24hScheduled || r24h
	v.Reminder2hScheduled = v.Reminder2hScheduled || r2h
	r.data.reservations[id] = v
	return nil
}

func (r *memoryRepo) MarkReminderSent(_ context.Context, id uuid.UUID, kind ReminderKind) error {
	defer r.lock()()
	v, ok := r.data.reservations[id]
	if !ok || v.ReminderSent(kind) {
		return ErrStaleState
	}
	switch kind {
	case Reminder24h:
		v.Reminder24hSent = true
	case Reminder2h:
		v.Reminder2hSent = true
	case FollowUp:
		v.FollowUpSent = true
	}
	r.data.reservations[id] = v
	return nil
}

// Outbox

func (r *memoryRepo) InsertEvent(_ context.Context, ev OutboxEvent) error {
	defer r.lock()()
	if r.failInsertEvent != nil {
		return r.failInsertEvent
	}
	r.data.nextEventID++
	ev.ID = r.data.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.data.events = append(r.data.events, ev)
	return nil
}

func (r *memoryRepo) ListUndispatchedEvents(_ context.Context, maxAttempts, limit int) ([]OutboxEvent, error) {
	defer r.lock()()
	var out []OutboxEvent
	for _, ev := range r.data.events {
		if ev.DispatchedAt == nil && ev.Attempts < maxAttempts {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) updateEvent(id int64, fn func(ev *OutboxEvent)) {
	for i := range r.data.events {
		if r.data.events[i].ID == id {
			fn(&r.data.events[i])
			return
		}
	}
}

func (r *memoryRepo) MarkEventDispatched(_ context.Context, id int64, at time.Time) error {
	defer r.lock()()
	r.updateEvent(id, func(ev *OutboxEvent) {
		ev.DispatchedAt = &at
		ev.Attempts++
		ev.LastError = nil
	})
	return nil
}

func (r *memoryRepo) MarkEventFailed(_ context.Context, id int64, reason string) error {
	defer r.lock()()
	r.updateEvent(id, func(ev *OutboxEvent) {
		ev.Attempts++
		ev.LastError = &reason
	})
	return nil
}

var _ Repository = (*memoryRepo)(nil)
