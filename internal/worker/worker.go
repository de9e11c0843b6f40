// Package worker consumes processing tasks from the queue and drives the
// pipeline, retrying infrastructure failures with exponential backoff.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/processor"
	"github.com/openfaktur/einvoice/internal/queue"
)

// RetryStore is the slice of the repository the worker needs for retry
// bookkeeping.
type RetryStore interface {
	ResetForRetry(ctx context.Context, id uuid.UUID, reason string) error
	MarkError(ctx context.Context, id uuid.UUID, reason string) error
}

// Pipeline runs one processing attempt for a transaction.
type Pipeline interface {
	Process(ctx context.Context, transactionID string) (*processor.Outcome, error)
}

// TaskQueue is the queue surface the worker consumes from and re-enqueues to.
type TaskQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Task, error)
	EnqueueAfter(ctx context.Context, task queue.Task, delay time.Duration) error
}

// Config tunes the worker's consume and retry behavior.
type Config struct {
	// PollTimeout bounds each blocking queue read.
	PollTimeout time.Duration

	// TaskTimeout is the hard wall-clock limit per processing attempt.
	TaskTimeout time.Duration

	// MaxAttempts caps retries for infrastructure failures. The attempt
	// that exhausts the cap marks the transaction ERROR.
	MaxAttempts int

	// BackoffBase is the first retry delay; it doubles per attempt and is
	// jittered so workers do not stampede.
	BackoffBase time.Duration

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration
}

// DefaultConfig mirrors the production task policy: one minute per task,
// five attempts, 10s..5m backoff.
func DefaultConfig() Config {
	return Config{
		PollTimeout: 5 * time.Second,
		TaskTimeout: time.Minute,
		MaxAttempts: 5,
		BackoffBase: 10 * time.Second,
		BackoffMax:  5 * time.Minute,
	}
}

// Worker pulls tasks from the queue and processes them one at a time.
type Worker struct {
	cfg   Config
	queue TaskQueue
	proc  Pipeline
	store RetryStore
	log   zerolog.Logger
}

// New creates a worker.
func New(cfg Config, q TaskQueue, proc Pipeline, store RetryStore, log zerolog.Logger) *Worker {
	return &Worker{
		cfg:   cfg,
		queue: q,
		proc:  proc,
		store: store,
		log:   log.With().Str("component", "worker").Logger(),
	}
}

// Run consumes tasks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Dur("task_timeout", w.cfg.TaskTimeout).Int("max_attempts", w.cfg.MaxAttempts).Msg("worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopping")
			return ctx.Err()
		default:
		}

		task, err := w.queue.Dequeue(ctx, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("queue read failed, backing off")
			time.Sleep(w.cfg.BackoffBase)
			continue
		}
		if task == nil {
			continue
		}
		w.handle(ctx, *task)
	}
}

func (w *Worker) handle(ctx context.Context, task queue.Task) {
	log := w.log.With().Str("transaction_id", task.TransactionID).Int("attempt", task.Attempt).Logger()

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()

	outcome, err := w.proc.Process(taskCtx, task.TransactionID)
	if err == nil {
		if outcome != nil {
			log.Info().Str("status", string(outcome.Status)).Msg("task done")
		}
		return
	}

	id, parseErr := uuid.Parse(task.TransactionID)
	if parseErr != nil {
		// Nothing to retry or mark; the task itself is garbage.
		log.Error().Err(err).Msg("dropping task with unparseable transaction id")
		return
	}

	if !model.IsInfraError(err) {
		log.Error().Err(err).Msg("permanent failure, marking transaction as error")
		w.markError(ctx, id, err.Error(), log)
		return
	}

	if task.Attempt+1 >= w.cfg.MaxAttempts {
		log.Error().Err(err).Msg("retries exhausted, marking transaction as error")
		w.markError(ctx, id, "retries exhausted: "+err.Error(), log)
		return
	}

	// Release the claim so the retry can take it again, then re-enqueue
	// after a jittered backoff. The sleep runs detached from the consume
	// loop so one failing task never stalls the worker.
	if resetErr := w.store.ResetForRetry(ctx, id, err.Error()); resetErr != nil {
		log.Error().Err(resetErr).Msg("retry reset failed, transaction stays in PROCESSING")
		return
	}
	delay := w.backoff(task.Attempt)
	log.Warn().Err(err).Dur("delay", delay).Msg("infrastructure failure, re-enqueueing")
	go func() {
		retry := queue.Task{TransactionID: task.TransactionID, Attempt: task.Attempt + 1}
		if enqErr := w.queue.EnqueueAfter(ctx, retry, delay); enqErr != nil && ctx.Err() == nil {
			log.Error().Err(enqErr).Msg("delayed re-enqueue failed")
		}
	}()
}

func (w *Worker) markError(ctx context.Context, id uuid.UUID, reason string, log zerolog.Logger) {
	if err := w.store.MarkError(ctx, id, reason); err != nil {
		log.Error().Err(err).Msg("marking transaction as error failed")
	}
}

// backoff doubles per attempt from the base, capped, with up to 25% jitter.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.cfg.BackoffBase << uint(attempt)
	if delay > w.cfg.BackoffMax || delay <= 0 {
		delay = w.cfg.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}
