package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/metrics"
	redisclient "github.com/hackgods/slot-reservation/internal/redis"
)

// Dispatcher delivers a text message to a phone number.
type Dispatcher interface {
	Send(ctx context.Context, phone, text string) error
}

// JobScheduler arms a durable job. Scheduling a job ID that already exists replaces it.
type JobScheduler interface {
	Schedule(ctx context.Context, job redisclient.Job) error
}

const (
	reminder24hLead = 24 * time.Hour
	reminder2hLead  = 2 * time.Hour
	followUpDelay   = 24 * time.Hour
)

type reminderPayload struct {
	ReservationID uuid.UUID `json:"reservation_id"`
}

func reminderJobID(kind ReminderKind, reservationID uuid.UUID) string {
	return string(kind) + ":" + reservationID.String()
}

// Notifier turns outcome events into messages and arms the reminder chain of
// approved reservations.
type Notifier struct {
	repo       Repository
	dispatcher Dispatcher
	jobs       JobScheduler
	metrics    *metrics.Metrics
	log        *zap.Logger
	clock      Clock
}

func NewNotifier(repo Repository, dispatcher Dispatcher, jobs JobScheduler, m *metrics.Metrics, log *zap.Logger, clock Clock) *Notifier {
	return &Notifier{
		repo:       repo,
		dispatcher: dispatcher,
		jobs:       jobs,
		metrics:    m,
		log:        log,
		clock:      clock,
	}
}

// Register attaches the reminder and follow-up handlers to a job runner.
func (n *Notifier) Register(runner *redisclient.JobRunner) {
	for _, kind := range []ReminderKind{Reminder24h, Reminder2h, FollowUp} {
		runner.Handle(string(kind), n.HandleJob)
	}
}

// HandleOutcome reacts to one outbox event. Immediate message failures are
// logged only; a returned error means the event should be delivered again.
func (n *Notifier) HandleOutcome(ctx context.Context, ev OutboxEvent) error {
	p, err := DecodePayload(ev)
	if err != nil {
		// a payload that cannot be decoded never will be
		n.log.Error("dropping undecodable event", zap.Int64("event_id", ev.ID), zap.Error(err))
		return nil
	}

	data, doctorPhone := n.describe(ctx, p)

	switch ev.EventType {
	case EventRequestCreated:
		n.sendDoctor(ctx, doctorPhone, msgDoctorNewRequest, data)

	case EventRequestApproved:
		if p.ReservationID == nil {
			n.log.Error("approved event without reservation", zap.Int64("event_id", ev.ID))
			return nil
		}
		res, err := n.repo.GetReservation(ctx, *p.ReservationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				n.log.Warn("approved reservation not found", zap.String("reservation_id", p.ReservationID.String()))
				return nil
			}
			return fmt.Errorf("load reservation: %w", err)
		}
		if err := n.ScheduleReminders(ctx, *res); err != nil {
			return err
		}
		n.sendPatient(ctx, p.PatientPhone, msgPatientApproved, data)
		n.sendDoctor(ctx, doctorPhone, msgDoctorApproved, data)

	case EventRequestRejected:
		n.sendPatient(ctx, p.PatientPhone, msgPatientRejected, data)

	case EventRequestExpired:
		n.sendPatient(ctx, p.PatientPhone, msgPatientExpired, data)
		n.sendDoctor(ctx, doctorPhone, msgDoctorExpired, data)

	case EventReservationCancelled:
		n.sendPatient(ctx, p.PatientPhone, msgPatientCancelled, data)

	default:
		n.log.Warn("unhandled event type", zap.String("event_type", ev.EventType), zap.Int64("event_id", ev.ID))
	}
	return nil
}

// ScheduleReminders arms the 24h and 2h reminders and the follow-up for a
// reservation. Fire times that already passed are skipped. Job IDs derive
// from the reservation, so running it again replaces rather than duplicates.
func (n *Notifier) ScheduleReminders(ctx context.Context, res Reservation) error {
	now := n.clock.now()
	payload, err := json.Marshal(reminderPayload{ReservationID: res.ID})
	if err != nil {
		return fmt.Errorf("marshal reminder payload: %w", err)
	}

	plan := []struct {
		kind   ReminderKind
		fireAt time.Time
	}{
		{Reminder24h, res.AppointmentTime.Add(-reminder24hLead)},
		{Reminder2h, res.AppointmentTime.Add(-reminder2hLead)},
		{FollowUp, res.AppointmentTime.Add(followUpDelay)},
	}

	scheduled := make(map[ReminderKind]bool, len(plan))
	for _, step := range plan {
		if !step.fireAt.After(now) {
			n.metrics.JobsScheduled.WithLabelValues(string(step.kind), "skipped").Inc()
			continue
		}

		err := n.jobs.Schedule(ctx, redisclient.Job{
			ID:      reminderJobID(step.kind, res.ID),
			Name:    string(step.kind),
			Payload: payload,
			FireAt:  step.fireAt,
		})
		if err != nil {
			n.metrics.JobsScheduled.WithLabelValues(string(step.kind), "failed").Inc()
			return fmt.Errorf("schedule %s for reservation %s: %w", step.kind, res.ID, err)
		}
		n.metrics.JobsScheduled.WithLabelValues(string(step.kind), "ok").Inc()
		scheduled[step.kind] = true
	}

	if scheduled[Reminder24h] || scheduled[Reminder2h] {
		if err := n.repo.MarkRemindersScheduled(ctx, res.ID, scheduled[Reminder24h], scheduled[Reminder2h]); err != nil {
			return fmt.Errorf("mark reminders scheduled: %w", err)
		}
	}

	n.log.Info("reminders scheduled",
		zap.String("reservation_id", res.ID.String()),
		zap.Bool("reminder_24h", scheduled[Reminder24h]),
		zap.Bool("reminder_2h", scheduled[Reminder2h]),
		zap.Bool("follow_up", scheduled[FollowUp]),
	)
	return nil
}

// HandleJob runs a fired reminder or follow-up. It reloads the reservation
// and sends at most once per flag; a missing or cancelled reservation is
// skipped without error. Send failures are returned so the job is retried.
func (n *Notifier) HandleJob(ctx context.Context, job redisclient.Job) error {
	kind := ReminderKind(job.Name)

	var p reminderPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		n.log.Error("dropping job with bad payload", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	res, err := n.repo.GetReservation(ctx, p.ReservationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			n.log.Debug("reservation gone, skipping job", zap.String("job_id", job.ID))
			return nil
		}
		return fmt.Errorf("load reservation: %w", err)
	}

	if !reminderApplies(kind, res.Status) {
		n.log.Debug("reservation not eligible for job",
			zap.String("job_id", job.ID),
			zap.String("status", string(res.Status)),
		)
		return nil
	}
	if res.ReminderSent(kind) {
		return nil
	}

	var tmpl string
	switch kind {
	case Reminder24h:
		tmpl = msgPatientReminder24h
	case Reminder2h:
		tmpl = msgPatientReminder2h
	case FollowUp:
		tmpl = msgPatientFollowUp
	default:
		n.log.Error("unknown reminder kind", zap.String("job_name", job.Name))
		return nil
	}

	data, _ := n.describe(ctx, OutcomePayload{
		ProfileID:       res.ProfileID,
		ServiceID:       res.ServiceID,
		PatientName:     res.Patient.Name,
		AppointmentTime: res.AppointmentTime,
	})
	text, err := renderMessage(tmpl, data)
	if err != nil {
		return err
	}

	if err := n.dispatcher.Send(ctx, res.Patient.Phone, text); err != nil {
		n.metrics.NotificationsSent.WithLabelValues(string(kind), "failed").Inc()
		return fmt.Errorf("send %s: %w", kind, err)
	}
	n.metrics.NotificationsSent.WithLabelValues(string(kind), "ok").Inc()

	if err := n.repo.MarkReminderSent(ctx, res.ID, kind); err != nil && !errors.Is(err, ErrStaleState) {
		return fmt.Errorf("mark %s sent: %w", kind, err)
	}
	return nil
}

func reminderApplies(kind ReminderKind, status ReservationStatus) bool {
	if kind == FollowUp {
		return status == ReservationConfirmed || status == ReservationCompleted
	}
	return status == ReservationConfirmed
}

// describe fills template data from the payload plus the profile and service
// names. Lookups are best effort.
func (n *Notifier) describe(ctx context.Context, p OutcomePayload) (messageData, string) {
	data := messageData{
		PatientName: p.PatientName,
		DoctorName:  "your doctor",
		ServiceName: "your appointment",
		When:        p.AppointmentTime,
		Reason:      p.Reason,
	}

	var doctorPhone string
	if profile, err := n.repo.GetProfile(ctx, p.ProfileID); err == nil {
		data.DoctorName = profile.Name
		if profile.Phone != nil {
			doctorPhone = *profile.Phone
		}
	} else if !errors.Is(err, ErrNotFound) {
		n.log.Warn("profile lookup failed", zap.String("profile_id", p.ProfileID.String()), zap.Error(err))
	}

	if svc, err := n.repo.GetService(ctx, p.ServiceID); err == nil {
		data.ServiceName = svc.Name
	} else if !errors.Is(err, ErrNotFound) {
		n.log.Warn("service lookup failed", zap.String("service_id", p.ServiceID.String()), zap.Error(err))
	}

	return data, doctorPhone
}

func (n *Notifier) sendPatient(ctx context.Context, phone, tmpl string, data messageData) {
	n.send(ctx, "patient", phone, tmpl, data)
}

// sendDoctor is a no-op for profiles without a contact phone.
func (n *Notifier) sendDoctor(ctx context.Context, phone, tmpl string, data messageData) {
	if phone == "" {
		return
	}
	n.send(ctx, "doctor", phone, tmpl, data)
}

func (n *Notifier) send(ctx context.Context, audience, phone, tmpl string, data messageData) {
	text, err := renderMessage(tmpl, data)
	if err != nil {
		n.log.Error("render message failed", zap.String("template", tmpl), zap.Error(err))
		return
	}

	if err := n.dispatcher.Send(ctx, phone, text); err != nil {
		n.metrics.NotificationsSent.WithLabelValues(tmpl, "failed").Inc()
		n.log.Warn("notification send failed",
			zap.String("audience", audience),
			zap.String("template", tmpl),
			zap.Error(err),
		)
		return
	}
	n.metrics.NotificationsSent.WithLabelValues(tmpl, "ok").Inc()
}
