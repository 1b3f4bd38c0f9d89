package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_ClaimOnlyDueJobs(t *testing.T) {
	_, rdb := newTestClient(t)
	sched := NewScheduler(rdb, "jobs", time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, sched.Schedule(ctx, Job{ID: "a", Name: "reminder_24h", FireAt: now.Add(-time.Minute)}))
	require.NoError(t, sched.Schedule(ctx, Job{ID: "b", Name: "reminder_2h", FireAt: now.Add(time.Hour)}))

	jobs, err := sched.Claim(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].ID)
	assert.Equal(t, "reminder_24h", jobs[0].Name)

	again, err := sched.Claim(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	pending, err := sched.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestScheduler_ScheduleSameIDReplaces(t *testing.T) {
	_, rdb := newTestClient(t)
	sched := NewScheduler(rdb, "jobs", time.Minute)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, sched.Schedule(ctx, Job{ID: "dup", Name: "follow_up", FireAt: now.Add(-time.Second)}))
	require.NoError(t, sched.Schedule(ctx, Job{ID: "dup", Name: "follow_up", FireAt: now.Add(-time.Second)}))

	jobs, err := sched.Claim(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestScheduler_UnackedJobIsRedelivered(t *testing.T) {
	_, rdb := newTestClient(t)
	sched := NewScheduler(rdb, "jobs", time.Minute)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, sched.Schedule(ctx, Job{ID: "x", Name: "reminder_2h", FireAt: now}))
	jobs, err := sched.Claim(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	n, err := sched.RequeueStale(ctx, now.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	later := now.Add(2 * time.Minute)
	n, err = sched.RequeueStale(ctx, later, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs, err = sched.Claim(ctx, later, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "x", jobs[0].ID)
}

func TestJobRunner_AckRetryAndDrop(t *testing.T) {
	_, rdb := newTestClient(t)
	sched := NewScheduler(rdb, "jobs", time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	runner := NewJobRunner(sched, zap.NewNop(), 10)
	runner.now = func() time.Time { return now }

	var okCalls, failCalls int
	runner.Handle("ok", func(context.Context, Job) error { okCalls++; return nil })
	runner.Handle("flaky", func(context.Context, Job) error { failCalls++; return errors.New("dispatcher down") })

	require.NoError(t, sched.Schedule(ctx, Job{ID: "1", Name: "ok", FireAt: now}))
	require.NoError(t, sched.Schedule(ctx, Job{ID: "2", Name: "flaky", FireAt: now}))
	require.NoError(t, sched.Schedule(ctx, Job{ID: "3", Name: "unknown", FireAt: now}))

	handled, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Equal(t, 1, okCalls)
	assert.Equal(t, 1, failCalls)

	// the flaky job is back on the due set for a minute later
	pending, err := sched.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	now = now.Add(2 * time.Minute)
	_, err = runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, failCalls)
}

func TestScheduler_RejectsIncompleteJob(t *testing.T) {
	_, rdb := newTestClient(t)
	sched := NewScheduler(rdb, "jobs", time.Minute)
	assert.Error(t, sched.Schedule(context.Background(), Job{Name: "reminder_2h"}))
}

func TestScheduler_RearmDuringProcessingSurvivesAck(t *testing.T) {
	_, rdb := newTestClient(t)
	sched := NewScheduler(rdb, "jobs", time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, sched.Schedule(ctx, Job{ID: "r", Name: "reminder_2h", FireAt: now}))
	jobs, err := sched.Claim(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, sched.Schedule(ctx, Job{ID: "r", Name: "reminder_2h", FireAt: now.Add(time.Hour)}))
	require.NoError(t, sched.Ack(ctx, "r"))

	jobs, err = sched.Claim(ctx, now.Add(2*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "r", jobs[0].ID)
	assert.True(t, now.Add(time.Hour).Equal(jobs[0].FireAt))
}

func TestScheduler_AckRemovesPayload(t *testing.T) {
	mr, rdb := newTestClient(t)
	sched := NewScheduler(rdb, "jobs", time.Minute)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, sched.Schedule(ctx, Job{ID: "done", Name: "follow_up", FireAt: now}))
	_, err := sched.Claim(ctx, now, 1)
	require.NoError(t, err)
	require.NoError(t, sched.Ack(ctx, "done"))

	assert.False(t, mr.Exists("jobs:payload"))
	assert.False(t, mr.Exists("jobs:processing"))
}
