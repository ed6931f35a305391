package arbitration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/chain"
	"github.com/cuongbtq/escrow-engine/internal/deadletter"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/executor"
)

// ErrArbitrationInFlight is returned when the job is already being arbitrated
var ErrArbitrationInFlight = errors.New("arbitration already in flight")

// Store is the job ledger surface the agent reads and writes
type Store interface {
	GetJob(ctx context.Context, jobID int64) (*domain.Job, error)
	ListEvidence(ctx context.Context, jobID int64) ([]domain.Evidence, error)
	RecordVerdict(ctx context.Context, jobID int64, percent int, reason string, deadline time.Time) (bool, error)
}

// Executor submits signed calls and waits for confirmation
type Executor interface {
	Execute(ctx context.Context, actor executor.Actor, call chain.Call) (*executor.Result, error)
}

// AgentConfig holds agent dependencies
type AgentConfig struct {
	Logger      *slog.Logger
	Store       Store
	Policy      Policy
	Executor    Executor
	Escrow      chain.EscrowContract
	DeadLetters deadletter.Publisher
}

// Agent arbitrates disputed jobs. At most one arbitration per job runs at a time.
type Agent struct {
	logger      *slog.Logger
	store       Store
	policy      Policy
	exec        Executor
	escrow      chain.EscrowContract
	deadLetters deadletter.Publisher

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// NewAgent creates an agent
func NewAgent(cfg *AgentConfig) *Agent {
	a := &Agent{
		logger:      cfg.Logger,
		store:       cfg.Store,
		policy:      cfg.Policy,
		exec:        cfg.Executor,
		escrow:      cfg.Escrow,
		deadLetters: cfg.DeadLetters,
		inFlight:    make(map[int64]struct{}),
	}
	if a.policy == nil {
		a.policy = FixedPolicy{}
	}
	if a.deadLetters == nil {
		a.deadLetters = deadletter.LogPublisher{Logger: a.logger}
	}
	return a
}

// Arbitrate decides a disputed job and submits the verdict as the AI agent.
// Jobs not in DisputeRaised are skipped. Failures are logged and
// dead-lettered; the job stays disputed until re-triggered.
func (a *Agent) Arbitrate(ctx context.Context, jobID int64) error {
	if !a.claim(jobID) {
		a.logger.Debug("Arbitration already in flight", slog.Int64("job_id", jobID))
		return ErrArbitrationInFlight
	}
	defer a.release(jobID)

	err := a.arbitrate(ctx, jobID)
	if err != nil {
		a.logger.Error("Arbitration failed",
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()),
		)
		a.deadLetter(ctx, jobID, err)
	}
	return err
}

func (a *Agent) arbitrate(ctx context.Context, jobID int64) error {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if job.Status != domain.JobStatusDisputeRaised {
		a.logger.Info("Skipping arbitration, job is not disputed",
			slog.Int64("job_id", jobID),
			slog.String("status", string(job.Status)),
		)
		return nil
	}

	evidence, err := a.store.ListEvidence(ctx, jobID)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to load evidence: %w", err))
	}

	verdict, err := a.policy.Decide(ctx, job, evidence)
	if err != nil {
		return fmt.Errorf("failed to decide verdict: %w", err)
	}
	percent := domain.FormatPercent(float64(verdict.ContractorPercent))

	call, err := a.escrow.SubmitAIVerdict(jobID, uint8(percent), verdict.Reason)
	if err != nil {
		return err
	}

	res, err := a.exec.Execute(ctx, executor.AI(), call)
	if err != nil {
		return fmt.Errorf("failed to submit AI verdict: %w", err)
	}

	deadline := domain.AIDeadline(res.ConfirmedAt)
	recorded, err := a.store.RecordVerdict(ctx, jobID, percent, verdict.Reason, deadline)
	if err != nil {
		return fmt.Errorf("verdict confirmed in %s but not recorded: %w", res.TxHash, err)
	}

	if !recorded {
		a.logger.Warn("Verdict confirmed but job no longer accepts it",
			slog.Int64("job_id", jobID),
			slog.String("tx_hash", res.TxHash),
		)
		return nil
	}

	a.logger.Info("AI verdict submitted",
		slog.Int64("job_id", jobID),
		slog.Int("contractor_percent", percent),
		slog.String("tx_hash", res.TxHash),
		slog.Time("ai_deadline", deadline),
	)
	return nil
}

func (a *Agent) claim(jobID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inFlight[jobID]; ok {
		return false
	}
	a.inFlight[jobID] = struct{}{}
	return true
}

func (a *Agent) release(jobID int64) {
	a.mu.Lock()
	delete(a.inFlight, jobID)
	a.mu.Unlock()
}

func (a *Agent) deadLetter(ctx context.Context, jobID int64, cause error) {
	letter := deadletter.Letter{
		Source:   deadletter.SourceArbitration,
		JobID:    jobID,
		Event:    string(domain.EventDisputeRaised),
		Error:    cause.Error(),
		Attempts: 1,
		FailedAt: time.Now().UTC(),
	}

	if err := a.deadLetters.Publish(context.WithoutCancel(ctx), letter); err != nil {
		a.logger.Error("Failed to publish dead letter",
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
