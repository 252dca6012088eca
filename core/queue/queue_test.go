package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"matricula-sync/core/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) (*queue.Queue, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return queue.New(rdb, queue.Config{KeyPrefix: "test:jobs", JobTimeoutSeconds: 60}), mr
}

// Without a configured Redis connection every operation must surface
// ErrUnavailable so the dispatcher can fall back to inline processing.
func TestNilConnectionReportsUnavailable(t *testing.T) {
	q := queue.New(nil, queue.Config{})
	ctx := context.Background()

	assert.ErrorIs(t, q.Ping(ctx), queue.ErrUnavailable)
	assert.ErrorIs(t, q.Enqueue(ctx, queue.Job{BatchID: "b1"}, 10), queue.ErrUnavailable)

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, queue.ErrUnavailable)

	_, err = q.Depth(ctx)
	assert.ErrorIs(t, err, queue.ErrUnavailable)
}

func TestNilQueuePointerIsSafe(t *testing.T) {
	var q *queue.Queue
	assert.ErrorIs(t, q.Ping(context.Background()), queue.ErrUnavailable)
}

func TestDequeueParksInProcessing(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, queue.Job{BatchID: "b1"}, 1))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "b1", job.BatchID)

	members, err := mr.ZMembers("test:jobs:processing")
	require.NoError(t, err)
	assert.Len(t, members, 1)
	assert.False(t, mr.Exists("test:jobs:ready"))
}

// A worker bumps Attempt before acking a terminal failure; the processing
// entry was parked under the original encoding and must still be removed.
func TestAckClearsProcessingAfterAttemptBump(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, queue.Job{BatchID: "b1"}, 1))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	job.Attempt++

	require.NoError(t, q.Ack(ctx, job))
	assert.False(t, mr.Exists("test:jobs:processing"))
}

func TestRetryClearsProcessingAndSchedulesAttempt(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, queue.Job{BatchID: "b1"}, 1))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	job.Attempt++

	require.NoError(t, q.Retry(ctx, job, time.Minute))

	// No stale processing entry survives to be re-delivered after the
	// visibility timeout alongside the delayed copy.
	assert.False(t, mr.Exists("test:jobs:processing"))

	members, err := mr.ZMembers("test:jobs:delayed")
	require.NoError(t, err)
	require.Len(t, members, 1)
	var delayed queue.Job
	require.NoError(t, json.Unmarshal([]byte(members[0]), &delayed))
	assert.Equal(t, 1, delayed.Attempt)
}

func TestDequeuePromotesDueRetries(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, queue.Job{BatchID: "b1"}, 1))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	job.Attempt++
	require.NoError(t, q.Retry(ctx, job, 0))

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "b1", again.BatchID)
	assert.Equal(t, 1, again.Attempt)
}
