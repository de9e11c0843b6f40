// Package queue hands processing tasks from the intake API to workers over
// a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/openfaktur/einvoice/internal/model"
)

// DefaultKey is the Redis list the pipeline consumes from.
const DefaultKey = "einvoice:tasks"

// Task is one unit of work: process the named transaction. Attempt counts
// travel with the task so workers can apply backoff and give up.
type Task struct {
	TransactionID string `json:"transaction_id"`
	Attempt       int    `json:"attempt"`
}

// Queue is a FIFO task queue over a Redis list. Producers LPUSH, consumers
// BRPOP, so tasks are delivered oldest first.
type Queue struct {
	rdb *redis.Client
	key string
	log zerolog.Logger
}

// New creates a queue over rdb. An empty key uses DefaultKey.
func New(rdb *redis.Client, key string, log zerolog.Logger) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{rdb: rdb, key: key, log: log.With().Str("component", "queue").Logger()}
}

// Enqueue appends a task.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return model.NewInfraError("queue.enqueue", "task serialization failed", err)
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return model.NewInfraError("queue.enqueue", "redis push failed", err)
	}
	return nil
}

// EnqueueAfter re-enqueues a task after delay. The sleep happens in the
// calling goroutine, so workers run it detached from their consume loop.
func (q *Queue) EnqueueAfter(ctx context.Context, task Task, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return q.Enqueue(ctx, task)
}

// Dequeue blocks until a task arrives or timeout elapses. A quiet period
// returns (nil, nil) so consumers can loop and observe shutdown.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewInfraError("queue.dequeue", "redis pop failed", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, model.NewInfraError("queue.dequeue", "unexpected redis reply shape", nil)
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		q.log.Error().Err(err).Str("payload", res[1]).Msg("dropping undecodable task")
		return nil, nil
	}
	return &task, nil
}

// Depth reports the number of pending tasks.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, model.NewInfraError("queue.depth", "redis llen failed", err)
	}
	return n, nil
}
