// Package queue is a Redis backed reliable job queue.
//
// Jobs wait in queue:<name>. A worker atomically moves a job into
// queue:<name>:processing while it runs, removes it on success and pushes it
// back (or to queue:<name>:dead once attempts are exhausted) on failure.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stellara-labs/stellara/internal/telemetry"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
)

const (
	defaultMaxAttempts = 3
	blockTimeout       = time.Second
)

var ErrUnavailable = errors.New("job queue is unavailable")

type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Enqueued    time.Time       `json:"enqueued"`
	LastError   string          `json:"lastError,omitempty"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// LastAttempt reports whether a failure of the running attempt dead-letters the job.
func (j *Job) LastAttempt() bool {
	return j.Attempts+1 >= j.MaxAttempts
}

// Handler processes one job. A returned error counts as a failed attempt.
type Handler func(ctx context.Context, job *Job) error

type Stats struct {
	Queue      string `json:"queue"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Dead       int64  `json:"dead"`
}

func Key(name string) string           { return "queue:" + name }
func ProcessingKey(name string) string { return Key(name) + ":processing" }
func DeadKey(name string) string       { return Key(name) + ":dead" }

type Queue struct {
	rdb         *redis.Client
	maxAttempts int
	clock       core.Clock
}

// New returns a queue on rdb. A nil client gives a queue whose operations fail with ErrUnavailable.
func New(rdb *redis.Client, maxAttempts int, clock core.Clock) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &Queue{rdb: rdb, maxAttempts: maxAttempts, clock: clock}
}

func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (*Job, error) {
	if q.rdb == nil {
		return nil, ErrUnavailable
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	job := &Job{
		ID:          uuid.NewString(),
		Queue:       name,
		Payload:     raw,
		MaxAttempts: q.maxAttempts,
		Enqueued:    q.clock.Now().UTC(),
	}
	b, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	if err := q.rdb.LPush(ctx, Key(name), b).Err(); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", name, err)
	}
	telemetry.RecordQueueJob(name, "enqueued")
	slog.DebugContext(ctx, "Enqueued job", "queue", name, "job_id", job.ID)
	return job, nil
}

// Consume runs workers goroutines handling jobs of the named queue until ctx is done.
// Jobs left in the processing list by a previous run are requeued first.
func (q *Queue) Consume(ctx context.Context, name string, workers int, handler Handler) error {
	if q.rdb == nil {
		return ErrUnavailable
	}
	if workers <= 0 {
		workers = 1
	}
	n, err := q.Recover(ctx, name)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.WarnContext(ctx, "Requeued orphaned jobs", "queue", name, "count", n)
	}

	slog.InfoContext(ctx, "Starting queue workers", "queue", name, "workers", workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			q.work(ctx, name, worker, handler)
		}(i)
	}
	wg.Wait()
	slog.InfoContext(ctx, "Queue workers stopped", "queue", name)
	return nil
}

func (q *Queue) work(ctx context.Context, name string, worker int, handler Handler) {
	for ctx.Err() == nil {
		raw, err := q.rdb.BLMove(ctx, Key(name), ProcessingKey(name), "RIGHT", "LEFT", blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(ctx, "Failed to take job", "queue", name, "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(blockTimeout):
			}
			continue
		}
		q.process(ctx, name, raw, handler)
	}
}

// process runs one job and settles it. Settling uses a fresh context so shutdown
// does not strand a finished job in the processing list.
func (q *Queue) process(ctx context.Context, name, raw string, handler Handler) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		slog.ErrorContext(ctx, "Dropping malformed job", "queue", name, "error", err)
		q.settle(name, raw, DeadKey(name), raw)
		telemetry.RecordQueueJob(name, "dead")
		return
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.maxAttempts
	}

	err := runHandler(ctx, handler, &job)
	if err == nil {
		q.settle(name, raw, "", "")
		telemetry.RecordQueueJob(name, "completed")
		slog.DebugContext(ctx, "Job completed", "queue", name, "job_id", job.ID)
		return
	}

	job.Attempts++
	job.LastError = err.Error()
	b, _ := json.Marshal(&job)
	if job.Attempts >= job.MaxAttempts {
		slog.ErrorContext(ctx, "Job failed permanently", "queue", name, "job_id", job.ID, "attempts", job.Attempts, "error", err)
		q.settle(name, raw, DeadKey(name), string(b))
		telemetry.RecordQueueJob(name, "dead")
		return
	}
	slog.WarnContext(ctx, "Job failed, retrying", "queue", name, "job_id", job.ID, "attempts", job.Attempts, "error", err)
	q.settle(name, raw, Key(name), string(b))
	telemetry.RecordQueueJob(name, "retried")
}

func runHandler(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return handler(ctx, job)
}

// settle removes raw from the processing list and optionally pushes next onto target.
func (q *Queue) settle(name, raw, target, next string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, ProcessingKey(name), 1, raw)
		if target != "" {
			pipe.LPush(ctx, target, next)
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to settle job", "queue", name, "error", err)
	}
}

// Recover moves every job of the processing list back to the queue.
// Only safe while no worker of the queue is running.
func (q *Queue) Recover(ctx context.Context, name string) (int, error) {
	if q.rdb == nil {
		return 0, ErrUnavailable
	}
	n := 0
	for {
		err := q.rdb.LMove(ctx, ProcessingKey(name), Key(name), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover %s: %w", name, err)
		}
		n++
	}
}

func (q *Queue) Stats(ctx context.Context, name string) (*Stats, error) {
	if q.rdb == nil {
		return nil, ErrUnavailable
	}
	var pending, processing, dead *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, Key(name))
		processing = pipe.LLen(ctx, ProcessingKey(name))
		dead = pipe.LLen(ctx, DeadKey(name))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue stats %s: %w", name, err)
	}
	return &Stats{Queue: name, Pending: pending.Val(), Processing: processing.Val(), Dead: dead.Val()}, nil
}
