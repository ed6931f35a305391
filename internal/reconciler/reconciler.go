package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/deadletter"
	"github.com/cuongbtq/escrow-engine/internal/domain"
)

// DefaultCheckpointName is the checkpoint row used when none is configured
const DefaultCheckpointName = "reconciler"

// Store is the job ledger surface the reconciler writes through
type Store interface {
	UpsertCreatedJob(ctx context.Context, job *domain.Job) (bool, error)
	ApplyStatus(ctx context.Context, jobID int64, tr domain.Transition) (bool, error)
	SaveCheckpoint(ctx context.Context, name string, block uint64) error
}

// Arbiter runs AI arbitration for a newly disputed job
type Arbiter interface {
	Arbitrate(ctx context.Context, jobID int64) error
}

// Config holds reconciler configuration
type Config struct {
	Logger             *slog.Logger
	Store              Store
	Arbiter            Arbiter
	DeadLetters        deadletter.Publisher
	Concurrency        int
	ShardBuffer        int
	MaxAttempts        int
	RetryInterval      time.Duration
	MaxRetryInterval   time.Duration
	CheckpointName     string
	CheckpointInterval time.Duration
}

// Reconciler mirrors decoded chain events into the job ledger. Events are
// sharded by job id: one job's events apply in arrival order, distinct jobs
// apply concurrently.
type Reconciler struct {
	logger      *slog.Logger
	store       Store
	arbiter     Arbiter
	deadLetters deadletter.Publisher

	concurrency        int
	shardBuffer        int
	maxAttempts        int
	retryInterval      time.Duration
	maxRetryInterval   time.Duration
	checkpointName     string
	checkpointInterval time.Duration

	shards       []chan domain.ChainEvent
	tracker      *blockTracker
	wg           sync.WaitGroup
	arbitrations sync.WaitGroup
}

// New creates a reconciler with defaults applied
func New(cfg *Config) *Reconciler {
	r := &Reconciler{
		logger:             cfg.Logger,
		store:              cfg.Store,
		arbiter:            cfg.Arbiter,
		deadLetters:        cfg.DeadLetters,
		concurrency:        cfg.Concurrency,
		shardBuffer:        cfg.ShardBuffer,
		maxAttempts:        cfg.MaxAttempts,
		retryInterval:      cfg.RetryInterval,
		maxRetryInterval:   cfg.MaxRetryInterval,
		checkpointName:     cfg.CheckpointName,
		checkpointInterval: cfg.CheckpointInterval,
		tracker:            newBlockTracker(),
	}

	if r.concurrency <= 0 {
		r.concurrency = 4
	}
	if r.shardBuffer <= 0 {
		r.shardBuffer = 64
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 5
	}
	if r.retryInterval <= 0 {
		r.retryInterval = 500 * time.Millisecond
	}
	if r.maxRetryInterval <= 0 {
		r.maxRetryInterval = 10 * time.Second
	}
	if r.checkpointName == "" {
		r.checkpointName = DefaultCheckpointName
	}
	if r.checkpointInterval <= 0 {
		r.checkpointInterval = 10 * time.Second
	}
	if r.deadLetters == nil {
		r.deadLetters = deadletter.LogPublisher{Logger: r.logger}
	}

	return r
}

// Run applies events until the channel closes or ctx is cancelled. It returns
// after every worker and in-flight arbitration has finished and the final
// checkpoint is saved.
func (r *Reconciler) Run(ctx context.Context, events <-chan domain.ChainEvent) error {
	r.logger.Info("Starting reconciler",
		slog.Int("concurrency", r.concurrency),
		slog.Int("max_attempts", r.maxAttempts),
		slog.String("checkpoint", r.checkpointName),
	)

	r.spawnWorkerPool(ctx)

	checkpointDone := make(chan struct{})
	stopCheckpoints := make(chan struct{})
	go func() {
		defer close(checkpointDone)
		r.checkpointLoop(ctx, stopCheckpoints)
	}()

	r.dispatch(ctx, events)

	for _, shard := range r.shards {
		close(shard)
	}
	r.wg.Wait()

	close(stopCheckpoints)
	<-checkpointDone

	r.arbitrations.Wait()
	r.saveCheckpoint(context.WithoutCancel(ctx))

	r.logger.Info("Reconciler stopped")
	return nil
}

// Watermark returns the highest block below which every dispatched event has been applied
func (r *Reconciler) Watermark() (uint64, bool) {
	return r.tracker.watermark()
}

func (r *Reconciler) checkpointLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.saveCheckpoint(ctx)
		}
	}
}

func (r *Reconciler) saveCheckpoint(ctx context.Context) {
	block, ok := r.tracker.dirtyWatermark()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.store.SaveCheckpoint(ctx, r.checkpointName, block); err != nil {
		r.logger.Warn("Failed to save checkpoint",
			slog.Uint64("block", block),
			slog.String("error", err.Error()),
		)
		r.tracker.markDirty()
		return
	}

	r.logger.Debug("Checkpoint saved", slog.Uint64("block", block))
}
