package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when no Redis connection was configured.
// The dispatcher treats it as "no broker reachable" and processes inline.
var ErrUnavailable = errors.New("queue: broker unavailable")

// Job is one unit of background work: a sync batch awaiting reconciliation.
type Job struct {
	BatchID    string    `json:"batch_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// member is the exact JSON delivered by Dequeue. Ack and Retry remove
	// the processing entry by it, so the removal still matches after the
	// worker mutates Attempt.
	member string
}

// Queue is a priority job queue backed by Redis sorted sets.
//
// Three sets are kept:
//   - ready: jobs eligible for delivery, scored by priority (lower pops first)
//   - processing: delivered jobs, scored by their visibility deadline
//   - delayed: retry-scheduled jobs, scored by the time they become ready
//
// Dequeue first promotes due delayed jobs and reaps expired processing jobs
// back into ready, so a stuck worker never strands a job.
type Queue struct {
	rdb *redis.Client
	cfg Config
}

// New creates a queue over an existing Redis connection. rdb may be nil, in
// which case every operation reports ErrUnavailable.
func New(rdb *redis.Client, cfg Config) *Queue {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sync:jobs"
	}
	if cfg.JobTimeoutSeconds <= 0 {
		cfg.JobTimeoutSeconds = 300
	}
	return &Queue{rdb: rdb, cfg: cfg}
}

func (q *Queue) readyKey() string      { return q.cfg.KeyPrefix + ":ready" }
func (q *Queue) processingKey() string { return q.cfg.KeyPrefix + ":processing" }
func (q *Queue) delayedKey() string    { return q.cfg.KeyPrefix + ":delayed" }

// Ping reports whether the broker is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if q == nil || q.rdb == nil {
		return ErrUnavailable
	}
	return q.rdb.Ping(ctx).Err()
}

// Enqueue adds a job to the ready set. Lower priority scores are delivered
// first; the dispatcher uses the batch size as the score so small submissions
// are not starved behind a huge one.
func (q *Queue) Enqueue(ctx context.Context, job Job, priority float64) error {
	if q == nil || q.rdb == nil {
		return ErrUnavailable
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	member, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.ZAdd(ctx, q.readyKey(), redis.Z{Score: priority, Member: member}).Err()
}

// Dequeue pops the highest-priority ready job and parks it in the processing
// set under a visibility deadline. It returns (nil, nil) when the queue is
// empty; the worker pool polls.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if q == nil || q.rdb == nil {
		return nil, ErrUnavailable
	}

	now := time.Now().UTC()
	if err := q.promote(ctx, q.delayedKey(), now); err != nil {
		return nil, err
	}
	if err := q.promote(ctx, q.processingKey(), now); err != nil {
		return nil, err
	}

	vals, err := q.rdb.ZPopMin(ctx, q.readyKey(), 1).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	member, ok := vals[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("queue: unexpected member type %T", vals[0].Member)
	}

	var job Job
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		// Poisoned member: drop it rather than looping on it forever.
		return nil, fmt.Errorf("queue: malformed job discarded: %w", err)
	}
	job.member = member

	deadline := now.Add(time.Duration(q.cfg.JobTimeoutSeconds) * time.Second)
	if err := q.rdb.ZAdd(ctx, q.processingKey(), redis.Z{
		Score:  float64(deadline.Unix()),
		Member: member,
	}).Err(); err != nil {
		return nil, err
	}

	return &job, nil
}

// Ack removes a completed (or terminally failed) job from the processing set.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if q == nil || q.rdb == nil {
		return ErrUnavailable
	}
	member, err := job.parkedMember()
	if err != nil {
		return err
	}
	return q.rdb.ZRem(ctx, q.processingKey(), member).Err()
}

// Retry reschedules a job into the delayed set, to become ready after the
// given backoff. The delayed copy carries the job's current state, so an
// Attempt bumped by the caller survives the round trip.
func (q *Queue) Retry(ctx context.Context, job *Job, backoff time.Duration) error {
	if q == nil || q.rdb == nil {
		return ErrUnavailable
	}
	parked, err := job.parkedMember()
	if err != nil {
		return err
	}
	delayed, err := json.Marshal(job)
	if err != nil {
		return err
	}
	readyAt := time.Now().UTC().Add(backoff)
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), parked)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt.Unix()), Member: delayed})
	_, err = pipe.Exec(ctx)
	return err
}

// parkedMember returns the member string Dequeue parked in the processing
// set, falling back to the job's current encoding for jobs that never went
// through Dequeue.
func (j *Job) parkedMember() (string, error) {
	if j.member != "" {
		return j.member, nil
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Depth returns the number of jobs waiting in the ready set.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	if q == nil || q.rdb == nil {
		return 0, ErrUnavailable
	}
	return q.rdb.ZCard(ctx, q.readyKey()).Result()
}

// promote moves members of src whose score is due (<= now) back into ready.
// Promoted jobs keep delivery priority 0 so they are picked up promptly.
func (q *Queue) promote(ctx context.Context, src string, now time.Time) error {
	due, err := q.rdb.ZRangeByScore(ctx, src, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, src, member)
		pipe.ZAdd(ctx, q.readyKey(), redis.Z{Score: 0, Member: member})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
