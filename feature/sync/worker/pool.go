package worker

import (
	"context"
	"errors"
	"time"

	"matricula-sync/core/logger"
	"matricula-sync/core/queue"

	"github.com/bsm/redislock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Processor executes a recorded batch. Implemented by the sync service.
type Processor interface {
	Process(ctx context.Context, batchID string) error
	Fail(ctx context.Context, batchID string, cause error)
}

// Broker is the queue surface the pool consumes.
type Broker interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Retry(ctx context.Context, job *queue.Job, backoff time.Duration) error
}

// lockRetryDelay reschedules a job whose batch another worker currently
// holds. The attempt counter is not bumped for these.
const lockRetryDelay = 2 * time.Second

// Pool consumes queued batches with bounded concurrency, a token-bucket
// rate limit, and exponential-backoff retries. A batch whose retries are
// exhausted is driven to the terminal failed state.
type Pool struct {
	cfg    Config
	broker Broker
	proc   Processor
	locker *redislock.Client
	logger *zap.Logger
	tokens chan struct{}
}

// NewPool creates a worker pool. locker may be nil; batches are then
// claimed by queue visibility alone.
func NewPool(cfg Config, broker Broker, proc Processor, locker *redislock.Client, log *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{cfg: cfg, broker: broker, proc: proc, locker: locker, logger: log}
	if cfg.RateLimit > 0 {
		p.tokens = make(chan struct{}, cfg.RateLimit)
		for i := 0; i < cfg.RateLimit; i++ {
			p.tokens <- struct{}{}
		}
	}
	return p
}

// Run consumes jobs until the context is canceled. It blocks.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if p.tokens != nil {
		g.Go(func() error {
			return p.refill(ctx)
		})
	}

	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			return p.consume(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// refill tops the token bucket back up once per window.
func (p *Pool) refill(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(p.cfg.RateWindowSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for i := 0; i < p.cfg.RateLimit; i++ {
				select {
				case p.tokens <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (p *Pool) consume(ctx context.Context) error {
	idle := time.Duration(p.cfg.PollIntervalMS) * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.tokens != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.tokens:
			}
		}

		job, err := p.broker.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrUnavailable) {
				return err
			}
			p.logger.Warn("dequeue failed", zap.Error(err))
			if !sleep(ctx, idle) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, idle) {
				return ctx.Err()
			}
			continue
		}

		p.handle(ctx, job)
	}
}

// handle runs one job to completion. Dequeued jobs are never canceled
// mid-batch: processing uses a background context bounded by the claim TTL
// so a shutdown finishes the batch in flight.
func (p *Pool) handle(ctx context.Context, job *queue.Job) {
	log := logger.WithBatchID(p.logger, job.BatchID).With(zap.Int("attempt", job.Attempt))

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		time.Duration(p.cfg.LockTTLSeconds)*time.Second)
	defer cancel()

	if p.locker != nil {
		lock, err := p.locker.Obtain(jobCtx, "sync:lock:"+job.BatchID,
			time.Duration(p.cfg.LockTTLSeconds)*time.Second, nil)
		if err != nil {
			if errors.Is(err, redislock.ErrNotObtained) {
				// Another worker holds this batch; look again later.
				if retryErr := p.broker.Retry(jobCtx, job, lockRetryDelay); retryErr != nil {
					log.Warn("failed to reschedule locked batch", zap.Error(retryErr))
				}
				return
			}
			log.Warn("lock service unavailable, proceeding unlocked", zap.Error(err))
		} else {
			defer func() {
				if err := lock.Release(jobCtx); err != nil {
					log.Debug("lock release failed", zap.Error(err))
				}
			}()
		}
	}

	err := p.proc.Process(jobCtx, job.BatchID)
	if err == nil {
		if ackErr := p.broker.Ack(jobCtx, job); ackErr != nil {
			log.Warn("ack failed", zap.Error(ackErr))
		}
		return
	}

	job.Attempt++
	if job.Attempt >= p.cfg.MaxAttempts {
		// Retries exhausted: the terminal failure is recorded and the job
		// leaves the queue.
		p.proc.Fail(jobCtx, job.BatchID, err)
		if ackErr := p.broker.Ack(jobCtx, job); ackErr != nil {
			log.Warn("ack failed", zap.Error(ackErr))
		}
		return
	}

	delay := p.backoff(job.Attempt)
	log.Warn("batch attempt failed, retrying",
		zap.Duration("backoff", delay),
		zap.Error(err))
	if retryErr := p.broker.Retry(jobCtx, job, delay); retryErr != nil {
		log.Error("failed to reschedule batch", zap.Error(retryErr))
	}
}

// backoff returns the delay before the given attempt: base doubled per
// attempt, capped.
func (p *Pool) backoff(attempt int) time.Duration {
	base := time.Duration(p.cfg.BackoffBaseSeconds) * time.Second
	max := time.Duration(p.cfg.BackoffMaxSeconds) * time.Second
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
