package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/slot-reservation/internal/redis"
)

type notifierFixture struct {
	*fixture
	dispatcher *fakeDispatcher
	jobs       *fakeJobs
	notifier   *Notifier
	relay      *Relay
}

func newNotifierFixture(t *testing.T) *notifierFixture {
	f := newFixture(t)
	nf := &notifierFixture{
		fixture:    f,
		dispatcher: &fakeDispatcher{},
		jobs:       newFakeJobs(),
	}
	clock := Clock(func() time.Time { return f.now })
	nf.notifier = NewNotifier(f.repo, nf.dispatcher, nf.jobs, f.metrics, zap.NewNop(), clock)
	nf.relay = NewRelay(f.repo, nf.notifier, 50, f.metrics, zap.NewNop(), clock)
	return nf
}

func (nf *notifierFixture) drain(t *testing.T) {
	t.Helper()
	_, err := nf.relay.RunOnce(context.Background())
	require.NoError(t, err)
}

func (nf *notifierFixture) approve(t *testing.T, start time.Time) *ApprovalResult {
	t.Helper()
	detail := nf.request(t, nf.slotAt(start, 1))
	res, err := nf.approvals.Approve(context.Background(), ApproveInput{RequestID: detail.Request.ID, ApprovedBy: "dr"})
	require.NoError(t, err)
	return res
}

func TestNotifier_NewRequestAlertsDoctor(t *testing.T) {
	nf := newNotifierFixture(t)
	detail := nf.request(t, nf.slotAt(testNow.Add(24*time.Hour), 1))

	nf.drain(t)

	msgs := nf.dispatcher.to(*nf.profile.Phone)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, detail.Request.Patient.Name)
	assert.Contains(t, msgs[0].Text, nf.service.Name)
	assert.Empty(t, nf.dispatcher.to(detail.Request.Patient.Phone))
}

func TestNotifier_ApprovalSchedulesReminderChain(t *testing.T) {
	nf := newNotifierFixture(t)
	appointment := testNow.Add(72 * time.Hour)
	res := nf.approve(t, appointment)

	nf.drain(t)

	require.Len(t, nf.jobs.jobs, 3)
	j24 := nf.jobs.jobs[reminderJobID(Reminder24h, res.Reservation.ID)]
	assert.Equal(t, string(Reminder24h), j24.Name)
	assert.Equal(t, appointment.Add(-24*time.Hour), j24.FireAt)
	assert.Equal(t, appointment.Add(-2*time.Hour), nf.jobs.jobs[reminderJobID(Reminder2h, res.Reservation.ID)].FireAt)
	assert.Equal(t, appointment.Add(24*time.Hour), nf.jobs.jobs[reminderJobID(FollowUp, res.Reservation.ID)].FireAt)

	var payload reminderPayload
	require.NoError(t, json.Unmarshal(j24.Payload, &payload))
	assert.Equal(t, res.Reservation.ID, payload.ReservationID)

	stored, err := nf.repo.GetReservation(context.Background(), res.Reservation.ID)
	require.NoError(t, err)
	assert.True(t, stored.Reminder24hScheduled)
	assert.True(t, stored.Reminder2hScheduled)

	patient := nf.dispatcher.to(res.Reservation.Patient.Phone)
	require.Len(t, patient, 1)
	assert.Contains(t, patient[0].Text, "confirmed")
	assert.Contains(t, patient[0].Text, nf.profile.Name)
}

func TestNotifier_SkipsPastFireTimes(t *testing.T) {
	nf := newNotifierFixture(t)
	// 3h away: the 24h reminder is already in the past
	res := nf.approve(t, testNow.Add(3*time.Hour))

	nf.drain(t)

	_, has24 := nf.jobs.jobs[reminderJobID(Reminder24h, res.Reservation.ID)]
	assert.False(t, has24)
	assert.Contains(t, nf.jobs.jobs, reminderJobID(Reminder2h, res.Reservation.ID))
	assert.Contains(t, nf.jobs.jobs, reminderJobID(FollowUp, res.Reservation.ID))

	stored, err := nf.repo.GetReservation(context.Background(), res.Reservation.ID)
	require.NoError(t, err)
	assert.False(t, stored.Reminder24hScheduled)
	assert.True(t, stored.Reminder2hScheduled)
}

func TestNotifier_ScheduleReminders_Idempotent(t *testing.T) {
	nf := newNotifierFixture(t)
	res := nf.approve(t, testNow.Add(72*time.Hour))
	ctx := context.Background()

	require.NoError(t, nf.notifier.ScheduleReminders(ctx, res.Reservation))
	require.NoError(t, nf.notifier.ScheduleReminders(ctx, res.Reservation))
	assert.Len(t, nf.jobs.jobs, 3)
}

func TestNotifier_ScheduleFailureRetriesEvent(t *testing.T) {
	nf := newNotifierFixture(t)
	res := nf.approve(t, testNow.Add(72*time.Hour))
	nf.jobs.err = assert.AnError

	nf.drain(t)
	assert.Empty(t, nf.dispatcher.to(res.Reservation.Patient.Phone), "confirmation waits for scheduling")

	nf.jobs.err = nil
	nf.drain(t)
	assert.Len(t, nf.jobs.jobs, 3)
	assert.Len(t, nf.dispatcher.to(res.Reservation.Patient.Phone), 1)
}

func TestNotifier_OutcomeMessages(t *testing.T) {
	nf := newNotifierFixture(t)
	ctx := context.Background()

	rejected := nf.request(t, nf.slotAt(testNow.Add(24*time.Hour), 1))
	_, err := nf.approvals.Reject(ctx, RejectInput{RequestID: rejected.Request.ID, RejectedBy: "dr", Reason: "on leave"})
	require.NoError(t, err)

	expired := nf.request(t, nf.slotAt(testNow.Add(26*time.Hour), 1))
	_, err = nf.approvals.Expire(ctx, expired.Request.ID)
	require.NoError(t, err)

	nf.drain(t)

	rejMsgs := nf.dispatcher.to(rejected.Request.Patient.Phone)
	require.Len(t, rejMsgs, 1)
	assert.Contains(t, rejMsgs[0].Text, "on leave")

	expMsgs := nf.dispatcher.to(expired.Request.Patient.Phone)
	require.Len(t, expMsgs, 1)
	assert.Contains(t, expMsgs[0].Text, "expired")

	// two new-request alerts plus one expiry alert
	assert.Len(t, nf.dispatcher.to(*nf.profile.Phone), 3)
	assert.Empty(t, nf.jobs.jobs)
}

func TestNotifier_SendFailureDoesNotFailEvent(t *testing.T) {
	nf := newNotifierFixture(t)
	nf.request(t, nf.slotAt(testNow.Add(24*time.Hour), 1))
	nf.dispatcher.err = assert.AnError

	n, err := nf.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNotifier_CancelledMessage(t *testing.T) {
	nf := newNotifierFixture(t)
	res := nf.approve(t, testNow.Add(72*time.Hour))
	_, err := nf.approvals.Cancel(context.Background(), CancelInput{ReservationID: res.Reservation.ID, CancelledBy: "clinic"})
	require.NoError(t, err)

	nf.drain(t)

	msgs := nf.dispatcher.to(res.Reservation.Patient.Phone)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "cancelled")
}

func TestNotifier_DoctorWithoutPhoneIsSkipped(t *testing.T) {
	nf := newNotifierFixture(t)
	p := nf.profile
	p.Phone = nil
	nf.repo.addProfile(p)

	nf.request(t, nf.slotAt(testNow.Add(24*time.Hour), 1))
	nf.drain(t)

	assert.Empty(t, nf.dispatcher.sent)
}

func reminderJob(kind ReminderKind, id uuid.UUID) redisclient.Job {
	payload, _ := json.Marshal(reminderPayload{ReservationID: id})
	return redisclient.Job{ID: reminderJobID(kind, id), Name: string(kind), Payload: payload}
}

func TestNotifier_HandleJob(t *testing.T) {
	nf := newNotifierFixture(t)
	ctx := context.Background()
	res := nf.approve(t, testNow.Add(72*time.Hour))
	phone := res.Reservation.Patient.Phone

	require.NoError(t, nf.notifier.HandleJob(ctx, reminderJob(Reminder24h, res.Reservation.ID)))
	msgs := nf.dispatcher.to(phone)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "tomorrow")

	stored, err := nf.repo.GetReservation(ctx, res.Reservation.ID)
	require.NoError(t, err)
	assert.True(t, stored.Reminder24hSent)
	assert.False(t, stored.Reminder2hSent)

	// redelivery does not resend
	require.NoError(t, nf.notifier.HandleJob(ctx, reminderJob(Reminder24h, res.Reservation.ID)))
	assert.Len(t, nf.dispatcher.to(phone), 1)
}

func TestNotifier_HandleJob_SkipsCancelledAndMissing(t *testing.T) {
	nf := newNotifierFixture(t)
	ctx := context.Background()
	res := nf.approve(t, testNow.Add(72*time.Hour))
	_, err := nf.approvals.Cancel(ctx, CancelInput{ReservationID: res.Reservation.ID})
	require.NoError(t, err)

	require.NoError(t, nf.notifier.HandleJob(ctx, reminderJob(Reminder2h, res.Reservation.ID)))
	require.NoError(t, nf.notifier.HandleJob(ctx, reminderJob(FollowUp, res.Reservation.ID)))
	require.NoError(t, nf.notifier.HandleJob(ctx, reminderJob(Reminder2h, uuid.New())))
	assert.Empty(t, nf.dispatcher.sent)
}

func TestNotifier_HandleJob_SendFailureIsRetried(t *testing.T) {
	nf := newNotifierFixture(t)
	ctx := context.Background()
	res := nf.approve(t, testNow.Add(72*time.Hour))
	nf.dispatcher.err = assert.AnError

	err := nf.notifier.HandleJob(ctx, reminderJob(FollowUp, res.Reservation.ID))
	require.ErrorIs(t, err, assert.AnError)

	stored, err := nf.repo.GetReservation(ctx, res.Reservation.ID)
	require.NoError(t, err)
	assert.False(t, stored.FollowUpSent)
}

func TestRenderMessages(t *testing.T) {
	data := messageData{
		PatientName: "Ana",
		DoctorName:  "Dr. Lima",
		ServiceName: "Checkup",
		When:        time.Date(2026, 3, 12, 14, 30, 0, 0, time.UTC),
	}

	for _, name := range []string{
		msgDoctorNewRequest, msgDoctorApproved, msgDoctorExpired, msgPatientApproved,
		msgPatientRejected, msgPatientExpired, msgPatientCancelled,
		msgPatientReminder24h, msgPatientReminder2h, msgPatientFollowUp,
	} {
		text, err := renderMessage(name, data)
		require.NoError(t, err, name)
		assert.NotEmpty(t, text, name)
	}

	text, err := renderMessage(msgPatientApproved, data)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana, your appointment with Dr. Lima for Checkup on Thu 12 Mar 2026 14:30 is confirmed.", text)

	_, err = renderMessage("missing", data)
	assert.Error(t, err)
}

func TestNotifier_HandleJob_SkipsCancelledSlot(t *testing.T) {
	nf := newNotifierFixture(t)
	ctx := context.Background()
	res := nf.approve(t, testNow.Add(72*time.Hour))

	_, err := nf.slots.TransitionStatus(ctx, res.Slot.ID, SlotCancelled)
	require.NoError(t, err)

	require.NoError(t, nf.notifier.HandleJob(ctx, reminderJob(Reminder24h, res.Reservation.ID)))
	require.NoError(t, nf.notifier.HandleJob(ctx, reminderJob(Reminder2h, res.Reservation.ID)))
	assert.Empty(t, nf.dispatcher.sent)

	nf.drain(t)
	msgs := nf.dispatcher.to(res.Reservation.Patient.Phone)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "cancelled")
}
