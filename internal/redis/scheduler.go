package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Job is a named event due at FireAt. Jobs with the same ID replace each other.
type Job struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	FireAt   time.Time       `json:"fire_at"`
	Attempts int             `json:"attempts"`
}

// Scheduler keeps jobs in Redis so they survive restarts of every worker.
//
//	<prefix>:due         sorted set, id scored by fire time (unix ms)
//	<prefix>:processing  sorted set, id scored by visibility deadline
//	<prefix>:payload     hash, id -> job JSON
//
// A claimed job that is never acked returns to the due set once its
// visibility deadline passes, so delivery is at-least-once.
type Scheduler struct {
	client     redis.Cmdable
	due        string
	processing string
	payload    string
	visibility time.Duration
}

func NewScheduler(client redis.Cmdable, prefix string, visibility time.Duration) *Scheduler {
	if visibility <= 0 {
		visibility = time.Minute
	}
	return &Scheduler{
		client:     client,
		due:        prefix + ":due",
		processing: prefix + ":processing",
		payload:    prefix + ":payload",
		visibility: visibility,
	}
}

func (s *Scheduler) Schedule(ctx context.Context, job Job) error {
	if job.ID == "" || job.Name == "" {
		return errors.New("job id and name are required")
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.payload, job.ID, body)
		pipe.ZAdd(ctx, s.due, redis.Z{Score: float64(job.FireAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	return nil
}

var claimScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[3]))
local out = {}
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[1], id)
  local body = redis.call("HGET", KEYS[3], id)
  if body then
    redis.call("ZADD", KEYS[2], ARGV[2], id)
    table.insert(out, body)
  end
end
return out
`)

// Claim moves up to limit due jobs into the processing set and returns them.
func (s *Scheduler) Claim(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 1
	}
	deadline := now.Add(s.visibility).UnixMilli()

	res, err := claimScript.Run(ctx, s.client,
		[]string{s.due, s.processing, s.payload},
		strconv.FormatInt(now.UnixMilli(), 10), strconv.FormatInt(deadline, 10), limit,
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	jobs := make([]Job, 0, len(res))
	for _, raw := range res {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

var requeueScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[2], id)
  redis.call("ZADD", KEYS[1], ARGV[1], id)
end
return #ids
`)

// RequeueStale returns jobs whose visibility deadline passed to the due set.
func (s *Scheduler) RequeueStale(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	n, err := requeueScript.Run(ctx, s.client,
		[]string{s.due, s.processing},
		strconv.FormatInt(now.UnixMilli(), 10), limit,
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return n, nil
}

var ackScript = redis.NewScript(`
redis.call("ZREM", KEYS[2], ARGV[1])
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
  redis.call("HDEL", KEYS[3], ARGV[1])
end
return 1
`)

// Ack removes a finished job. A job re-armed under the same ID while this
// delivery was in flight keeps its payload.
func (s *Scheduler) Ack(ctx context.Context, id string) error {
	err := ackScript.Run(ctx, s.client, []string{s.due, s.processing, s.payload}, id).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("ack job %s: %w", id, err)
	}
	return nil
}

// Retry puts a claimed job back on the due set at the given time.
func (s *Scheduler) Retry(ctx context.Context, job Job, at time.Time) error {
	job.Attempts++
	job.FireAt = at
	if err := s.Schedule(ctx, job); err != nil {
		return err
	}
	if err := s.client.ZRem(ctx, s.processing, job.ID).Err(); err != nil {
		return fmt.Errorf("release job %s: %w", job.ID, err)
	}
	return nil
}

// Pending reports how many jobs wait in the due set.
func (s *Scheduler) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.due).Result()
}

type JobHandler func(ctx context.Context, job Job) error

// JobRunner claims due jobs and routes them to handlers by name.
type JobRunner struct {
	sched       *Scheduler
	handlers    map[string]JobHandler
	log         *zap.Logger
	batch       int
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
}

func NewJobRunner(sched *Scheduler, log *zap.Logger, batch int) *JobRunner {
	if batch <= 0 {
		batch = 50
	}
	return &JobRunner{
		sched:       sched,
		handlers:    make(map[string]JobHandler),
		log:         log,
		batch:       batch,
		maxAttempts: 5,
		retryDelay:  time.Minute,
		now:         time.Now,
	}
}

func (r *JobRunner) Handle(name string, h JobHandler) {
	r.handlers[name] = h
}

// RunOnce processes every job due at the time of the call and returns how many were handled.
func (r *JobRunner) RunOnce(ctx context.Context) (int, error) {
	now := r.now()

	if n, err := r.sched.RequeueStale(ctx, now, r.batch); err != nil {
		return 0, err
	} else if n > 0 {
		r.log.Warn("requeued jobs past their visibility deadline", zap.Int("count", n))
	}

	jobs, err := r.sched.Claim(ctx, now, r.batch)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, job := range jobs {
		if r.dispatch(ctx, job, now) {
			handled++
		}
	}
	return handled, nil
}

func (r *JobRunner) dispatch(ctx context.Context, job Job, now time.Time) bool {
	h, ok := r.handlers[job.Name]
	if !ok {
		r.log.Error("no handler for job, dropping", zap.String("job_id", job.ID), zap.String("job_name", job.Name))
		r.ack(ctx, job.ID)
		return false
	}

	if err := h(ctx, job); err != nil {
		if job.Attempts+1 >= r.maxAttempts {
			r.log.Error("job failed permanently", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempts+1), zap.Error(err))
			r.ack(ctx, job.ID)
			return false
		}
		retryAt := now.Add(r.retryDelay * time.Duration(job.Attempts+1))
		r.log.Warn("job failed, retrying", zap.String("job_id", job.ID), zap.Time("retry_at", retryAt), zap.Error(err))
		if rerr := r.sched.Retry(ctx, job, retryAt); rerr != nil {
			r.log.Error("job retry failed", zap.String("job_id", job.ID), zap.Error(rerr))
		}
		return false
	}

	r.ack(ctx, job.ID)
	return true
}

func (r *JobRunner) ack(ctx context.Context, id string) {
	if err := r.sched.Ack(ctx, id); err != nil {
		r.log.Error("job ack failed", zap.String("job_id", id), zap.Error(err))
	}
}

// Run polls on interval until ctx is cancelled.
func (r *JobRunner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := r.RunOnce(ctx); err != nil {
			r.log.Error("job poll failed", zap.Error(err))
		} else if n > 0 {
			r.log.Info("jobs handled", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
