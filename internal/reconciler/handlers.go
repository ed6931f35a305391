package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/escrow-engine/internal/domain"
)

// apply mirrors one event into the store
func (r *Reconciler) apply(ctx context.Context, ev domain.ChainEvent) error {
	switch ev.Name {
	case domain.EventJobCreated:
		return r.applyJobCreated(ctx, ev)

	case domain.EventAIVerdictAccepted:
		// The contract settles dual acceptance itself and emits FundsReleased.
		r.logger.Info("AI verdict accepted",
			slog.Int64("job_id", ev.JobID),
			slog.String("by", ev.By),
		)
		return nil
	}

	tr, ok := domain.TransitionFor(ev.Name)
	if !ok {
		r.logger.Warn("Ignoring unhandled event", slog.String("event", string(ev.Name)))
		return nil
	}

	applied, err := r.store.ApplyStatus(ctx, ev.JobID, tr)
	if err != nil {
		if errors.Is(err, domain.ErrReconciliationRace) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to apply %s: %w", ev.Name, err))
	}

	if !applied {
		return nil
	}

	r.logger.Info("Job status mirrored",
		slog.Int64("job_id", ev.JobID),
		slog.String("event", string(ev.Name)),
		slog.String("status", string(tr.To)),
	)

	if ev.Name == domain.EventDisputeRaised {
		r.startArbitration(ctx, ev.JobID)
	}
	return nil
}

func (r *Reconciler) applyJobCreated(ctx context.Context, ev domain.ChainEvent) error {
	if ev.Amount == nil || ev.Client == "" || ev.Contractor == "" {
		return fmt.Errorf("%w: JobCreated for job %d is missing parties or amount", domain.ErrInvalidEvent, ev.JobID)
	}

	job := &domain.Job{
		JobID:             ev.JobID,
		ClientAddress:     ev.Client,
		ContractorAddress: ev.Contractor,
		AmountUSDC:        domain.FromUSDC(ev.Amount),
		Status:            domain.JobStatusActive,
	}

	if _, err := r.store.UpsertCreatedJob(ctx, job); err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to mirror job: %w", err))
	}
	return nil
}

// startArbitration runs the arbiter off the event path. Failures are the
// arbiter's to report.
func (r *Reconciler) startArbitration(ctx context.Context, jobID int64) {
	if r.arbiter == nil {
		return
	}

	r.arbitrations.Add(1)
	go func() {
		defer r.arbitrations.Done()
		if err := r.arbiter.Arbitrate(ctx, jobID); err != nil {
			r.logger.Debug("Arbitration did not complete",
				slog.Int64("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
