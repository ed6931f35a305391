// Package deadline asks the escrow contract to escalate verdicts whose
// acceptance window has elapsed.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/chain"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/executor"
)

// Executor submits signed calls and waits for confirmation
type Executor interface {
	Execute(ctx context.Context, actor executor.Actor, call chain.Call) (*executor.Result, error)
}

// Store lists mirrored verdicts past their deadline
type Store interface {
	ListExpiredVerdicts(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
}

// Outcome is the result of checking one job
type Outcome struct {
	JobID  int64  `json:"job_id"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Checker submits checkAIDeadline transactions as the AI agent. It never
// writes the mirror; the resulting events do.
type Checker struct {
	exec   Executor
	escrow chain.EscrowContract
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewChecker creates a checker. store may be nil when only CheckDeadline is used.
func NewChecker(exec Executor, escrow chain.EscrowContract, store Store, logger *slog.Logger) *Checker {
	return &Checker{
		exec:   exec,
		escrow: escrow,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckDeadline asks the contract to evaluate jobID's acceptance window
func (c *Checker) CheckDeadline(ctx context.Context, jobID int64) (*executor.Result, error) {
	if err := domain.ValidateJobID(jobID); err != nil {
		return nil, err
	}

	call, err := c.escrow.CheckAIDeadline(jobID)
	if err != nil {
		return nil, err
	}

	res, err := c.exec.Execute(ctx, executor.AI(), call)
	if err != nil {
		return nil, fmt.Errorf("checkAIDeadline for job %d failed: %w", jobID, err)
	}

	c.logger.Info("AI deadline checked",
		slog.Int64("job_id", jobID),
		slog.String("tx_hash", res.TxHash),
	)
	return res, nil
}

// CheckExpired checks every mirrored AIResolved job whose deadline has passed.
// The mirrored deadline is only a hint; the contract decides. One failed job
// does not stop the batch.
func (c *Checker) CheckExpired(ctx context.Context, limit int) ([]Outcome, error) {
	if c.store == nil {
		return nil, errors.New("deadline checker has no store")
	}
	if limit <= 0 {
		limit = 100
	}

	jobs, err := c.store.ListExpiredVerdicts(ctx, c.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired verdicts: %w", err)
	}

	outcomes := make([]Outcome, 0, len(jobs))
	for _, job := range jobs {
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}

		out := Outcome{JobID: job.JobID}
		res, err := c.CheckDeadline(ctx, job.JobID)
		if err != nil {
			c.logger.Warn("AI deadline check failed",
				slog.Int64("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			out.Error = err.Error()
		} else {
			out.TxHash = res.TxHash
		}
		outcomes = append(outcomes, out)
	}

	c.logger.Info("Expired verdicts checked", slog.Int("count", len(outcomes)))
	return outcomes, nil
}
