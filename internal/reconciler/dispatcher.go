package reconciler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/escrow-engine/internal/domain"
)

// dispatch routes each event to the shard owning its job until events closes or ctx is done
func (r *Reconciler) dispatch(ctx context.Context, events <-chan domain.ChainEvent) {
	r.logger.Info("Event dispatcher started", slog.Int("shards", len(r.shards)))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Event dispatcher stopped - context canceled")
			return

		case ev, ok := <-events:
			if !ok {
				r.logger.Warn("Event stream closed")
				return
			}

			shard := r.shards[r.shardFor(ev.JobID)]
			r.tracker.begin(ev.BlockNumber)

			select {
			case shard <- ev:
				r.logger.Debug("Event dispatched",
					slog.String("event", string(ev.Name)),
					slog.Int64("job_id", ev.JobID),
					slog.Uint64("block", ev.BlockNumber),
				)
			case <-ctx.Done():
				r.logger.Info("Event dispatcher stopped while dispatching event")
				return
			}
		}
	}
}

func (r *Reconciler) shardFor(jobID int64) int {
	n := int64(len(r.shards))
	idx := jobID % n
	if idx < 0 {
		idx += n
	}
	return int(idx)
}
