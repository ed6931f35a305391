package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/chain"
	"github.com/cuongbtq/escrow-engine/internal/deadline"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/cuongbtq/escrow-engine/internal/storage"
	"github.com/shopspring/decimal"
)

// CreateJob locks amount USDC for contractor from the client's custodial wallet.
// The mirrored row appears when the JobCreated event is reconciled.
func (s *Service) CreateJob(ctx context.Context, walletID, contractor string, amount decimal.Decimal) (*executor.Result, error) {
	addr, err := domain.ParseAddress(contractor)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	units, err := domain.ToUSDC(amount)
	if err != nil {
		return nil, err
	}

	return s.custodial(ctx, walletID, func() (chain.Call, error) {
		return s.escrow.CreateJob(addr, units)
	}, slog.String("contractor", addr.Hex()), slog.String("amount_usdc", amount.String()))
}

// ReleaseFunds pays the contractor
func (s *Service) ReleaseFunds(ctx context.Context, walletID string, jobID int64) (*executor.Result, error) {
	return s.jobOp(ctx, walletID, jobID, s.escrow.ReleaseFunds)
}

// RaiseDispute disputes the job. Arbitration starts when the event is reconciled.
func (s *Service) RaiseDispute(ctx context.Context, walletID string, jobID int64) (*executor.Result, error) {
	return s.jobOp(ctx, walletID, jobID, s.escrow.RaiseDispute)
}

// AcceptVerdict accepts the AI verdict on behalf of one party
func (s *Service) AcceptVerdict(ctx context.Context, walletID string, jobID int64) (*executor.Result, error) {
	return s.jobOp(ctx, walletID, jobID, s.escrow.AcceptAIVerdict)
}

// RejectVerdict rejects the AI verdict on behalf of one party
func (s *Service) RejectVerdict(ctx context.Context, walletID string, jobID int64) (*executor.Result, error) {
	return s.jobOp(ctx, walletID, jobID, s.escrow.RejectAIVerdict)
}

// CastVote votes in a DAO session from a custodial wallet
func (s *Service) CastVote(ctx context.Context, walletID string, jobID int64, percent float64) (*executor.Result, error) {
	return s.dao.CastVote(ctx, walletID, jobID, percent)
}

// EscalateToDAO starts a DAO vote. A zero duration uses the configured default.
func (s *Service) EscalateToDAO(ctx context.Context, jobID int64, duration time.Duration) (*executor.Result, error) {
	if duration <= 0 {
		duration = s.votingDuration
	}
	return s.dao.StartVoting(ctx, jobID, uint64(duration/time.Second))
}

// CheckAIDeadline asks the contract to escalate an expired verdict
func (s *Service) CheckAIDeadline(ctx context.Context, jobID int64) (*executor.Result, error) {
	return s.deadlines.CheckDeadline(ctx, jobID)
}

// CheckExpiredDeadlines checks every mirrored verdict past its deadline
func (s *Service) CheckExpiredDeadlines(ctx context.Context, limit int) ([]deadline.Outcome, error) {
	return s.deadlines.CheckExpired(ctx, limit)
}

// FinalizeVoting closes a DAO session
func (s *Service) FinalizeVoting(ctx context.Context, jobID int64) (*executor.Result, error) {
	return s.dao.FinalizeVoting(ctx, jobID)
}

// RegisterVoter adds a voter
func (s *Service) RegisterVoter(ctx context.Context, voter string) (*executor.Result, error) {
	return s.dao.RegisterVoter(ctx, voter)
}

// RemoveVoter removes a voter
func (s *Service) RemoveVoter(ctx context.Context, voter string) (*executor.Result, error) {
	return s.dao.RemoveVoter(ctx, voter)
}

// BanVoter bans a voter
func (s *Service) BanVoter(ctx context.Context, voter string) (*executor.Result, error) {
	return s.dao.BanVoter(ctx, voter)
}

// SetVotingDuration sets the on-chain default session length
func (s *Service) SetVotingDuration(ctx context.Context, d time.Duration) (*executor.Result, error) {
	return s.dao.SetVotingDuration(ctx, uint64(d/time.Second))
}

// SetMinVotersRequired sets the quorum
func (s *Service) SetMinVotersRequired(ctx context.Context, n uint64) (*executor.Result, error) {
	return s.dao.SetMinVotersRequired(ctx, n)
}

// SetFeePercentage sets the voter fee
func (s *Service) SetFeePercentage(ctx context.Context, percent float64) (*executor.Result, error) {
	return s.dao.SetFeePercentage(ctx, percent)
}

// JobDetail is a mirrored job with its evidence
type JobDetail struct {
	Job      *domain.Job
	Evidence []domain.Evidence
}

// GetJob returns the mirrored job and its evidence
func (s *Service) GetJob(ctx context.Context, jobID int64) (*JobDetail, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	evidence, err := s.store.ListEvidence(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	return &JobDetail{Job: job, Evidence: evidence}, nil
}

// ListJobs returns up to filter.PageSize+1 jobs so callers can detect another page
func (s *Service) ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, filter.Status)
	}
	if filter.Party != "" {
		addr, err := domain.ParseAddress(filter.Party)
		if err != nil {
			return nil, err
		}
		filter.Party = addr.Hex()
	}
	return s.store.ListJobs(ctx, filter)
}

// AddEvidence appends a statement to a job
func (s *Service) AddEvidence(ctx context.Context, jobID int64, sender, message string, fileURL *string) (*domain.Evidence, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: evidence message is empty", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("%w: evidence sender is empty", domain.ErrInvalidArgument)
	}
	addr, err := domain.ParseAddress(strings.TrimSpace(sender))
	if err != nil {
		return nil, err
	}

	ev := &domain.Evidence{
		JobID:   jobID,
		Sender:  addr.Hex(),
		Message: message,
		FileURL: fileURL,
	}
	if err := s.store.AddEvidence(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// RequestArbitration queues a re-run of AI arbitration for a stuck dispute
func (s *Service) RequestArbitration(ctx context.Context, jobID int64, requestedBy string) error {
	if s.arbitration == nil {
		return domain.NewConfigurationError("rabbitmq.url", "arbitration queue not configured")
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusDisputeRaised {
		return fmt.Errorf("%w: job %d is %s", domain.ErrStaleTransition, jobID, job.Status)
	}

	if err := s.arbitration.Request(ctx, jobID, requestedBy); err != nil {
		return err
	}

	s.logger.Info("Arbitration requested",
		slog.Int64("job_id", jobID),
		slog.String("requested_by", requestedBy),
	)
	return nil
}

func (s *Service) jobOp(ctx context.Context, walletID string, jobID int64, build func(int64) (chain.Call, error)) (*executor.Result, error) {
	if err := domain.ValidateJobID(jobID); err != nil {
		return nil, err
	}
	return s.custodial(ctx, walletID, func() (chain.Call, error) {
		return build(jobID)
	}, slog.Int64("job_id", jobID))
}

// custodial signs with a provider-held wallet. A missing wallet id fails
// before anything is built or submitted.
func (s *Service) custodial(ctx context.Context, walletID string, build func() (chain.Call, error), attrs ...slog.Attr) (*executor.Result, error) {
	if walletID == "" {
		return nil, fmt.Errorf("%w: empty wallet id", domain.ErrWalletResolution)
	}

	call, err := build()
	if err != nil {
		return nil, err
	}

	res, err := s.exec.Execute(ctx, executor.Custodial(walletID), call)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", call, err)
	}

	args := []any{
		slog.String("call", call.String()),
		slog.String("wallet_id", walletID),
		slog.String("tx_hash", res.TxHash),
	}
	for _, a := range attrs {
		args = append(args, a)
	}
	s.logger.Info("Transaction confirmed", args...)
	return res, nil
}
