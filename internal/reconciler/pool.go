package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/deadletter"
	"github.com/cuongbtq/escrow-engine/internal/domain"
)

// spawnWorkerPool starts one goroutine per shard
func (r *Reconciler) spawnWorkerPool(ctx context.Context) {
	r.shards = make([]chan domain.ChainEvent, r.concurrency)
	for i := range r.shards {
		r.shards[i] = make(chan domain.ChainEvent, r.shardBuffer)
		r.wg.Add(1)
		go r.workerLoop(ctx, i)
	}

	r.logger.Info("Reconciler worker pool spawned",
		slog.Int("worker_count", r.concurrency),
	)
}

// workerLoop applies one shard's events in order
func (r *Reconciler) workerLoop(ctx context.Context, workerNum int) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Reconciler worker stopping - context canceled",
				slog.Int("worker_num", workerNum),
			)
			return

		case ev, ok := <-r.shards[workerNum]:
			if !ok {
				return
			}
			// an event interrupted by shutdown stays in flight so the
			// checkpoint stays below it and it is replayed on restart
			if r.process(ctx, ev) {
				r.tracker.done(ev.BlockNumber)
			}
		}
	}
}

// process applies ev with bounded retry. Exhausted or permanent failures are
// dead-lettered; events for unknown jobs are logged and dropped. It returns
// false when ctx ended before the event was settled.
func (r *Reconciler) process(ctx context.Context, ev domain.ChainEvent) bool {
	logger := r.logger.With(
		slog.String("event", string(ev.Name)),
		slog.Int64("job_id", ev.JobID),
		slog.Uint64("block", ev.BlockNumber),
		slog.String("tx_hash", ev.TxHash),
	)

	delay := r.retryInterval
	var err error
	attempt := 1
	for ; attempt <= r.maxAttempts; attempt++ {
		err = r.apply(ctx, ev)
		if err == nil {
			return true
		}

		if ctx.Err() != nil {
			logger.Warn("Event left unapplied - context canceled", slog.String("error", err.Error()))
			return false
		}

		if errors.Is(err, domain.ErrReconciliationRace) {
			logger.Warn("Event references a job not yet mirrored, skipping")
			return true
		}

		if !r.shouldRetry(err) || attempt == r.maxAttempts {
			break
		}

		logger.Warn("Failed to apply event, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.maxAttempts),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			logger.Warn("Retry abandoned - context canceled")
			return false
		}

		delay *= 2
		if delay > r.maxRetryInterval {
			delay = r.maxRetryInterval
		}
	}

	logger.Error("Failed to apply event, dead-lettering",
		slog.Int("attempts", attempt),
		slog.String("error", err.Error()),
	)
	r.deadLetter(ctx, ev, err, attempt)
	return true
}

// shouldRetry reports whether a handler error is transient
func (r *Reconciler) shouldRetry(err error) bool {
	if errors.Is(err, domain.ErrInvalidEvent) {
		return false
	}
	return domain.IsRetryable(err)
}

func (r *Reconciler) deadLetter(ctx context.Context, ev domain.ChainEvent, cause error, attempts int) {
	payload, err := json.Marshal(ev)
	if err != nil {
		payload = nil
	}

	letter := deadletter.Letter{
		Source:   deadletter.SourceReconciler,
		JobID:    ev.JobID,
		Event:    string(ev.Name),
		Error:    cause.Error(),
		Attempts: attempts,
		Payload:  payload,
		FailedAt: time.Now().UTC(),
	}

	if err := r.deadLetters.Publish(context.WithoutCancel(ctx), letter); err != nil {
		r.logger.Error("Failed to publish dead letter",
			slog.Int64("job_id", ev.JobID),
			slog.String("event", string(ev.Name)),
			slog.String("error", fmt.Sprintf("%v (cause: %v)", err, cause)),
		)
	}
}
