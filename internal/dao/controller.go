// Package dao drives DAO escalation: voting sessions, votes, the voter
// registry and voting parameters.
package dao

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/escrow-engine/internal/chain"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/ethereum/go-ethereum/common"
)

// Executor submits signed calls and waits for confirmation
type Executor interface {
	Execute(ctx context.Context, actor executor.Actor, call chain.Call) (*executor.Result, error)
}

// Controller issues DAO voting contract transactions. Sessions are started
// and finalized by the AI agent, the registry and parameters by the admin,
// and votes by the voter's custodial wallet.
type Controller struct {
	exec   Executor
	dao    chain.DAOContract
	logger *slog.Logger
}

// NewController creates a controller
func NewController(exec Executor, dao chain.DAOContract, logger *slog.Logger) *Controller {
	return &Controller{exec: exec, dao: dao, logger: logger}
}

// StartVoting escalates a job to a DAO vote lasting durationSeconds
func (c *Controller) StartVoting(ctx context.Context, jobID int64, durationSeconds uint64) (*executor.Result, error) {
	if err := domain.ValidateJobID(jobID); err != nil {
		return nil, err
	}
	if durationSeconds == 0 {
		return nil, fmt.Errorf("%w: voting duration must be positive", domain.ErrInvalidArgument)
	}
	return c.run(ctx, executor.AI(), func() (chain.Call, error) {
		return c.dao.StartVoting(jobID, durationSeconds)
	}, slog.Int64("job_id", jobID), slog.Uint64("duration_seconds", durationSeconds))
}

// FinalizeVoting closes the session for jobID
func (c *Controller) FinalizeVoting(ctx context.Context, jobID int64) (*executor.Result, error) {
	if err := domain.ValidateJobID(jobID); err != nil {
		return nil, err
	}
	return c.run(ctx, executor.AI(), func() (chain.Call, error) {
		return c.dao.FinalizeVoting(jobID)
	}, slog.Int64("job_id", jobID))
}

// CastVote votes from a custodial wallet. percent is floored and clamped to 0-100.
func (c *Controller) CastVote(ctx context.Context, walletID string, jobID int64, percent float64) (*executor.Result, error) {
	if walletID == "" {
		return nil, fmt.Errorf("%w: empty wallet id", domain.ErrWalletResolution)
	}
	if err := domain.ValidateJobID(jobID); err != nil {
		return nil, err
	}

	p := domain.FormatPercent(percent)
	return c.run(ctx, executor.Custodial(walletID), func() (chain.Call, error) {
		return c.dao.CastVote(jobID, uint8(p))
	}, slog.Int64("job_id", jobID), slog.Int("contractor_percent", p))
}

// RegisterVoter adds voter to the registry
func (c *Controller) RegisterVoter(ctx context.Context, voter string) (*executor.Result, error) {
	return c.voterOp(ctx, voter, c.dao.RegisterVoter)
}

// RemoveVoter removes voter from the registry
func (c *Controller) RemoveVoter(ctx context.Context, voter string) (*executor.Result, error) {
	return c.voterOp(ctx, voter, c.dao.RemoveVoter)
}

// BanVoter bans voter permanently
func (c *Controller) BanVoter(ctx context.Context, voter string) (*executor.Result, error) {
	return c.voterOp(ctx, voter, c.dao.BanVoter)
}

// SetVotingDuration sets the default session length
func (c *Controller) SetVotingDuration(ctx context.Context, seconds uint64) (*executor.Result, error) {
	if seconds == 0 {
		return nil, fmt.Errorf("%w: voting duration must be positive", domain.ErrInvalidArgument)
	}
	return c.run(ctx, executor.Admin(), func() (chain.Call, error) {
		return c.dao.SetVotingDuration(seconds)
	}, slog.Uint64("seconds", seconds))
}

// SetMinVotersRequired sets the quorum
func (c *Controller) SetMinVotersRequired(ctx context.Context, count uint64) (*executor.Result, error) {
	return c.run(ctx, executor.Admin(), func() (chain.Call, error) {
		return c.dao.SetMinVotersRequired(count)
	}, slog.Uint64("count", count))
}

// SetFeePercentage sets the voter fee; percent is floored and clamped to 0-100
func (c *Controller) SetFeePercentage(ctx context.Context, percent float64) (*executor.Result, error) {
	p := domain.FormatPercent(percent)
	return c.run(ctx, executor.Admin(), func() (chain.Call, error) {
		return c.dao.SetFeePercentage(uint8(p))
	}, slog.Int("fee_percentage", p))
}

func (c *Controller) voterOp(ctx context.Context, voter string, build func(common.Address) (chain.Call, error)) (*executor.Result, error) {
	addr, err := domain.ParseAddress(voter)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, executor.Admin(), func() (chain.Call, error) {
		return build(addr)
	}, slog.String("voter", addr.Hex()))
}

func (c *Controller) run(ctx context.Context, actor executor.Actor, build func() (chain.Call, error), attrs ...slog.Attr) (*executor.Result, error) {
	call, err := build()
	if err != nil {
		return nil, err
	}

	res, err := c.exec.Execute(ctx, actor, call)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", call, err)
	}

	args := []any{slog.String("call", call.String()), slog.String("tx_hash", res.TxHash)}
	for _, a := range attrs {
		args = append(args, a)
	}
	c.logger.Info("DAO transaction confirmed", args...)
	return res, nil
}
