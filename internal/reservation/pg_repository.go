package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const pendingUniqueIndex = "reservation_requests_one_pending_idx"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

func (r *PgRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PgRepository{pool: r.pool, q: tx, inTx: true})
	})
}

// Helpers

const (
	slotColumns = `id, profile_id, service_id, start_time, end_time, max_reservations,
		current_reservations, status, expires_at, created_at, updated_at`

	requestColumns = `id, profile_id, slot_id, service_id, patient_name, patient_phone, patient_email,
		patient_age, patient_gender, symptoms, medical_notes, urgency_level, status, requested_time,
		expires_at, approved_by, approved_at, rejected_by, rejected_at, rejection_reason, created_at, updated_at`

	reservationColumns = `id, profile_id, slot_id, service_id, request_id, patient_name, patient_phone,
		patient_email, patient_age, patient_gender, symptoms, medical_notes, status, appointment_time,
		notes, price_override, reminder_24h_scheduled, reminder_2h_scheduled, reminder_24h_sent,
		reminder_2h_sent, follow_up_sent, payment_status, cancelled_by, cancelled_at,
		cancellation_reason, created_at, updated_at`

	eventColumns = `id, event_type, aggregate_id, payload, created_at, dispatched_at, attempts, last_error`
)

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot

	err := row.Scan(
		&s.ID,
		&s.ProfileID,
		&s.ServiceID,
		&s.StartTime,
		&s.EndTime,
		&s.MaxReservations,
		&s.CurrentReservations,
		&s.Status,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanRequest(row pgx.Row) (*ReservationRequest, error) {
	var q ReservationRequest

	err := row.Scan(
		&q.ID,
		&q.ProfileID,
		&q.SlotID,
		&q.ServiceID,
		&q.Patient.Name,
		&q.Patient.Phone,
		&q.Patient.Email,
		&q.Patient.Age,
		&q.Patient.Gender,
		&q.Patient.Symptoms,
		&q.Patient.MedicalNotes,
		&q.Urgency,
		&q.Status,
		&q.RequestedTime,
		&q.ExpiresAt,
		&q.ApprovedBy,
		&q.ApprovedAt,
		&q.RejectedBy,
		&q.RejectedAt,
		&q.RejectionReason,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	return &q, nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var v Reservation
	var price decimal.NullDecimal

	err := row.Scan(
		&v.ID,
		&v.ProfileID,
		&v.SlotID,
		&v.ServiceID,
		&v.RequestID,
		&v.Patient.Name,
		&v.Patient.Phone,
		&v.Patient.Email,
		&v.Patient.Age,
		&v.Patient.Gender,
		&v.Patient.Symptoms,
		&v.Patient.MedicalNotes,
		&v.Status,
		&v.AppointmentTime,
		&v.Notes,
		&price,
		&v.Reminder24hScheduled,
		&v.Reminder2hScheduled,
		&v.Reminder24hSent,
		&v.Reminder2hSent,
		&v.FollowUpSent,
		&v.PaymentStatus,
		&v.CancelledBy,
		&v.CancelledAt,
		&v.CancellationReason,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	if price.Valid {
		p := price.Decimal
		v.PriceOverride = &p
	}
	return &v, nil
}

func scanEvent(row pgx.Row) (*OutboxEvent, error) {
	var ev OutboxEvent

	err := row.Scan(
		&ev.ID,
		&ev.EventType,
		&ev.AggregateID,
		&ev.Payload,
		&ev.CreatedAt,
		&ev.DispatchedAt,
		&ev.Attempts,
		&ev.LastError,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// guarded turns the not-found of a conditional UPDATE ... RETURNING into ErrStaleState.
func guarded[T any](v *T, err error) (*T, error) {
	if kind, ok := KindOf(err); ok && kind == KindNotFound {
		return nil, ErrStaleState
	}
	return v, err
}

func statusStrings(in []SlotStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// Profiles and services

func (r *PgRepository) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	var p Profile
	err := r.q.QueryRow(ctx, `
		SELECT id, name, phone, created_at
		FROM profiles
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Phone, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	var s Service
	err := r.q.QueryRow(ctx, `
		SELECT id, profile_id, name, duration_minutes, price, created_at
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.ProfileID, &s.Name, &s.DurationMinutes, &s.Price, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Slots

func (r *PgRepository) InsertSlot(ctx context.Context, slot TimeSlot) (*TimeSlot, error) {
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO time_slots (id, profile_id, service_id, start_time, end_time, max_reservations,
			current_reservations, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, NULL, now(), now())
		RETURNING `+slotColumns,
		slot.ID, slot.ProfileID, slot.ServiceID, slot.StartTime, slot.EndTime, slot.MaxReservations, string(slot.Status))

	return scanSlot(row)
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1 FOR UPDATE`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, f SlotFilter) ([]TimeSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM time_slots WHERE profile_id = $1`
	args := []any{f.ProfileID}

	if f.ServiceID != nil {
		args = append(args, *f.ServiceID)
		query += fmt.Sprintf(" AND service_id = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		query += fmt.Sprintf(" AND start_time >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		query += fmt.Sprintf(" AND start_time < $%d", len(args))
	}
	query += " ORDER BY start_time"

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) ListOverlappingSlots(ctx context.Context, profileID uuid.UUID, start, end time.Time) ([]TimeSlot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE profile_id = $1
		  AND status <> 'cancelled'
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, profileID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list overlapping slots: %w", err)
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) ListAvailableSlotsEndedBefore(ctx context.Context, before time.Time, limit int) ([]TimeSlot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE status = 'available'
		  AND end_time < $1
		ORDER BY end_time
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list past slots: %w", err)
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) UpdateSlotStatus(ctx context.Context, id uuid.UUID, from []SlotStatus, to SlotStatus, expiresAt *time.Time) (*TimeSlot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE time_slots
		SET status = $2,
		    expires_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($4)
		RETURNING `+slotColumns,
		id, string(to), expiresAt, statusStrings(from))

	return guarded(scanSlot(row))
}

func (r *PgRepository) IncrementSlotReservations(ctx context.Context, id uuid.UUID, from []SlotStatus) (*TimeSlot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE time_slots
		SET current_reservations = current_reservations + 1,
		    status = 'reserved',
		    expires_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND current_reservations < max_reservations
		  AND status = ANY($2)
		RETURNING `+slotColumns,
		id, statusStrings(from))

	return guarded(scanSlot(row))
}

func (r *PgRepository) DecrementSlotReservations(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE time_slots
		SET current_reservations = current_reservations - 1,
		    status = CASE WHEN current_reservations - 1 = 0 THEN 'available' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'reserved'
		  AND current_reservations > 0
		RETURNING `+slotColumns,
		id)

	return guarded(scanSlot(row))
}

func (r *PgRepository) CancelSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE time_slots
		SET status = 'cancelled',
		    current_reservations = 0,
		    expires_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'reserved'
		RETURNING `+slotColumns,
		id)

	return guarded(scanSlot(row))
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id uuid.UUID, blocked []SlotStatus) error {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM time_slots s
		WHERE s.id = $1
		  AND s.status <> ALL($2)
		  AND NOT EXISTS (SELECT 1 FROM reservation_requests q WHERE q.slot_id = s.id)
		  AND NOT EXISTS (SELECT 1 FROM reservations v WHERE v.slot_id = s.id)
	`, id, statusStrings(blocked))
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// Requests

func (r *PgRepository) InsertRequest(ctx context.Context, req ReservationRequest) (*ReservationRequest, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO reservation_requests (id, profile_id, slot_id, service_id, patient_name, patient_phone,
			patient_email, patient_age, patient_gender, symptoms, medical_notes, urgency_level, status,
			requested_time, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING `+requestColumns,
		req.ID, req.ProfileID, req.SlotID, req.ServiceID, req.Patient.Name, req.Patient.Phone,
		req.Patient.Email, req.Patient.Age, req.Patient.Gender, req.Patient.Symptoms, req.Patient.MedicalNotes,
		string(req.Urgency), string(req.Status), req.RequestedTime, req.ExpiresAt)

	created, err := scanRequest(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == pendingUniqueIndex {
			return nil, conflict("A pending request already exists for this patient and slot")
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetRequest(ctx context.Context, id uuid.UUID) (*ReservationRequest, error) {
	row := r.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM reservation_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (r *PgRepository) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*ReservationRequest, error) {
	row := r.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM reservation_requests WHERE id = $1 FOR UPDATE`, id)
	return scanRequest(row)
}

func (r *PgRepository) FindPendingRequest(ctx context.Context, slotID uuid.UUID, phone string) (*ReservationRequest, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM reservation_requests
		WHERE slot_id = $1
		  AND patient_phone = $2
		  AND status = 'pending'
	`, slotID, phone)
	return scanRequest(row)
}

func (r *PgRepository) ListPendingRequestsByProfile(ctx context.Context, profileID uuid.UUID) ([]ReservationRequest, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+requestColumns+`
		FROM reservation_requests
		WHERE profile_id = $1
		  AND status = 'pending'
		ORDER BY CASE urgency_level
		           WHEN 'urgent' THEN 0
		           WHEN 'high' THEN 1
		           WHEN 'normal' THEN 2
		           ELSE 3
		         END,
		         expires_at
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return collect(rows, scanRequest)
}

func (r *PgRepository) ListRequestsByPhone(ctx context.Context, phone string) ([]ReservationRequest, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+requestColumns+`
		FROM reservation_requests
		WHERE patient_phone = $1
		ORDER BY created_at DESC
	`, phone)
	if err != nil {
		return nil, fmt.Errorf("list requests by phone: %w", err)
	}
	return collect(rows, scanRequest)
}

func (r *PgRepository) CountRequestsByStatus(ctx context.Context, profileID uuid.UUID) (map[RequestStatus]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT status, count(*)
		FROM reservation_requests
		WHERE profile_id = $1
		GROUP BY status
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	defer rows.Close()

	counts := make(map[RequestStatus]int)
	for rows.Next() {
		var status RequestStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]ReservationRequest, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+requestColumns+`
		FROM reservation_requests
		WHERE status = 'pending'
		  AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired pending: %w", err)
	}
	return collect(rows, scanRequest)
}

func (r *PgRepository) ResolveRequest(ctx context.Context, req ReservationRequest) (*ReservationRequest, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE reservation_requests
		SET status = $2,
		    slot_id = $3,
		    service_id = $4,
		    approved_by = $5,
		    approved_at = $6,
		    rejected_by = $7,
		    rejected_at = $8,
		    rejection_reason = $9,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+requestColumns,
		req.ID, string(req.Status), req.SlotID, req.ServiceID, req.ApprovedBy, req.ApprovedAt,
		req.RejectedBy, req.RejectedAt, req.RejectionReason)

	return guarded(scanRequest(row))
}

// Reservations

func (r *PgRepository) InsertReservation(ctx context.Context, res Reservation) (*Reservation, error) {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO reservations (id, profile_id, slot_id, service_id, request_id, patient_name, patient_phone,
			patient_email, patient_age, patient_gender, symptoms, medical_notes, status, appointment_time,
			notes, price_override, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
		RETURNING `+reservationColumns,
		res.ID, res.ProfileID, res.SlotID, res.ServiceID, res.RequestID, res.Patient.Name, res.Patient.Phone,
		res.Patient.Email, res.Patient.Age, res.Patient.Gender, res.Patient.Symptoms, res.Patient.MedicalNotes,
		string(res.Status), res.AppointmentTime, res.Notes, nullableDecimal(res.PriceOverride), string(res.PaymentStatus))

	return scanReservation(row)
}

func (r *PgRepository) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := r.q.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	return scanReservation(row)
}

func (r *PgRepository) ListSlotReservations(ctx context.Context, slotID uuid.UUID, status ReservationStatus) ([]Reservation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE slot_id = $1
		  AND status = $2
		ORDER BY created_at
		FOR UPDATE`,
		slotID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list slot reservations: %w", err)
	}
	return collect(rows, scanReservation)
}

func (r *PgRepository) CancelReservation(ctx context.Context, id uuid.UUID, by, reason *string, at time.Time) (*Reservation, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'cancelled',
		    cancelled_by = $2,
		    cancellation_reason = $3,
		    cancelled_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'confirmed'
		RETURNING `+reservationColumns,
		id, by, reason, at)

	return guarded(scanReservation(row))
}

func (r *PgRepository) MarkRemindersScheduled(ctx context.Context, id uuid.UUID, r24h, r2h bool) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE reservations
		SET reminder_24h_scheduled = reminder_24h_scheduled OR $2,
		    reminder_2h_scheduled = reminder_2h_scheduled OR $3,
		    updated_at = now()
		WHERE id = $1
	`, id, r24h, r2h)
	if err != nil {
		return fmt.Errorf("mark reminders scheduled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, kind ReminderKind) error {
	var column string
	switch kind {
	case Reminder24h:
		column = "reminder_24h_sent"
	case Reminder2h:
		column = "reminder_2h_sent"
	case FollowUp:
		column = "follow_up_sent"
	default:
		return fmt.Errorf("unknown reminder kind %q", kind)
	}

	tag, err := r.q.Exec(ctx, `
		UPDATE reservations
		SET `+column+` = true,
		    updated_at = now()
		WHERE id = $1
		  AND `+column+` = false
	`, id)
	if err != nil {
		return fmt.Errorf("mark %s sent: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// Outbox

func (r *PgRepository) InsertEvent(ctx context.Context, ev OutboxEvent) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AggregateID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (r *PgRepository) ListUndispatchedEvents(ctx context.Context, maxAttempts, limit int) ([]OutboxEvent, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+eventColumns+`
		FROM event_logs
		WHERE dispatched_at IS NULL
		  AND attempts < $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list undispatched events: %w", err)
	}
	return collect(rows, scanEvent)
}

func (r *PgRepository) MarkEventDispatched(ctx context.Context, id int64, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE event_logs
		SET dispatched_at = $2,
		    attempts = attempts + 1,
		    last_error = NULL
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark event dispatched: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkEventFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE event_logs
		SET attempts = attempts + 1,
		    last_error = $2
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}
