package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/metrics"
	redisclient "github.com/hackgods/slot-reservation/internal/redis"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// keyLocker serialises callers per key inside one process.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: map[string]*sync.Mutex{}}
}

func (l *keyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// busyLocker rejects every caller, as if another process held the lock.
type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type sentMessage struct {
	Phone string
	Text  string
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (d *fakeDispatcher) Send(_ context.Context, phone, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, sentMessage{Phone: phone, Text: text})
	return nil
}

func (d *fakeDispatcher) to(phone string) []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []sentMessage
	for _, m := range d.sent {
		if m.Phone == phone {
			out = append(out, m)
		}
	}
	return out
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]redisclient.Job
	err  error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]redisclient.Job{}}
}

func (j *fakeJobs) Schedule(_ context.Context, job redisclient.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.jobs[job.ID] = job
	return nil
}

type fixture struct {
	repo      *memoryRepo
	now       time.Time
	metrics   *metrics.Metrics
	slots     *SlotService
	requests  *RequestService
	approvals *ApprovalService
	profile   Profile
	service   Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:    newMemoryRepo(),
		now:     testNow,
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	clock := Clock(func() time.Time { return f.now })
	log := zap.NewNop()
	locker := newKeyLocker()

	f.slots = NewSlotService(f.repo, locker, log, clock)
	f.requests = NewRequestService(f.repo, locker, DefaultRequestTTL, f.metrics, log, clock)
	f.approvals = NewApprovalService(f.repo, f.metrics, log, clock)

	phone := "+15550000001"
	f.profile = f.repo.addProfile(Profile{Name: "Dr. " + gofakeit.LastName(), Phone: &phone})
	f.service = f.repo.addService(Service{
		ProfileID:       f.profile.ID,
		Name:            "Consultation",
		DurationMinutes: 30,
		Price:           decimal.RequireFromString("80.00"),
	})
	return f
}

// slotAt stores an available slot of f.service starting at start.
func (f *fixture) slotAt(start time.Time, max int) TimeSlot {
	return f.repo.putSlot(TimeSlot{
		ID:              uuid.New(),
		ProfileID:       f.profile.ID,
		ServiceID:       f.service.ID,
		StartTime:       start,
		EndTime:         start.Add(30 * time.Minute),
		MaxReservations: max,
		Status:          SlotAvailable,
	})
}

func (f *fixture) request(t *testing.T, slot TimeSlot) *RequestDetail {
	t.Helper()
	detail, err := f.requests.CreateRequest(context.Background(), CreateRequestInput{
		SlotID:    slot.ID,
		ServiceID: slot.ServiceID,
		Patient:   testPatient(),
	})
	require.NoError(t, err)
	return detail
}

func testPatient() Patient {
	email := gofakeit.Email()
	return Patient{
		Name:  gofakeit.Name(),
		Phone: "+1555" + gofakeit.Numerify("#######"),
		Email: &email,
	}
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	got, ok := KindOf(err)
	require.True(t, ok, "expected business error, got %v", err)
	require.Equal(t, kind, got, err.Error())
}

func isStale(err error) bool {
	return errors.Is(err, ErrStaleState)
}
