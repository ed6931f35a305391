package dao

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/chain"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const voterAddr = "0x00000000000000000000000000000000000000cc"

type fakeExecutor struct {
	calls  []chain.Call
	actors []executor.Actor
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, actor executor.Actor, call chain.Call) (*executor.Result, error) {
	f.calls = append(f.calls, call)
	f.actors = append(f.actors, actor)
	if f.err != nil {
		return nil, f.err
	}
	return &executor.Result{TxHash: "0xabc", BlockNumber: 1, ConfirmedAt: time.Now()}, nil
}

func newTestController(t *testing.T) (*Controller, *fakeExecutor) {
	t.Helper()
	contract, err := chain.NewDAOContract(common.HexToAddress("0x00000000000000000000000000000000000000d1"))
	require.NoError(t, err)

	exec := &fakeExecutor{}
	return NewController(exec, contract, slog.New(slog.NewTextHandler(io.Discard, nil))), exec
}

func TestController_Operations(t *testing.T) {
	tests := []struct {
		name       string
		run        func(c *Controller) (*executor.Result, error)
		wantMethod string
		wantActor  executor.Actor
		wantArgs   []any
	}{
		{
			name:       "start voting",
			run:        func(c *Controller) (*executor.Result, error) { return c.StartVoting(context.Background(), 7, 3600) },
			wantMethod: "startVoting",
			wantActor:  executor.AI(),
			wantArgs:   []any{big.NewInt(7), big.NewInt(3600)},
		},
		{
			name:       "finalize voting",
			run:        func(c *Controller) (*executor.Result, error) { return c.FinalizeVoting(context.Background(), 7) },
			wantMethod: "finalizeVoting",
			wantActor:  executor.AI(),
			wantArgs:   []any{big.NewInt(7)},
		},
		{
			name:       "cast vote clamps percent",
			run:        func(c *Controller) (*executor.Result, error) { return c.CastVote(context.Background(), "w-1", 7, 120) },
			wantMethod: "castVote",
			wantActor:  executor.Custodial("w-1"),
			wantArgs:   []any{big.NewInt(7), uint8(100)},
		},
		{
			name:       "cast vote floors percent",
			run:        func(c *Controller) (*executor.Result, error) { return c.CastVote(context.Background(), "w-1", 7, 33.9) },
			wantMethod: "castVote",
			wantActor:  executor.Custodial("w-1"),
			wantArgs:   []any{big.NewInt(7), uint8(33)},
		},
		{
			name:       "register voter",
			run:        func(c *Controller) (*executor.Result, error) { return c.RegisterVoter(context.Background(), voterAddr) },
			wantMethod: "registerVoter",
			wantActor:  executor.Admin(),
			wantArgs:   []any{common.HexToAddress(voterAddr)},
		},
		{
			name:       "remove voter",
			run:        func(c *Controller) (*executor.Result, error) { return c.RemoveVoter(context.Background(), voterAddr) },
			wantMethod: "removeVoter",
			wantActor:  executor.Admin(),
			wantArgs:   []any{common.HexToAddress(voterAddr)},
		},
		{
			name:       "ban voter",
			run:        func(c *Controller) (*executor.Result, error) { return c.BanVoter(context.Background(), voterAddr) },
			wantMethod: "banVoter",
			wantActor:  executor.Admin(),
			wantArgs:   []any{common.HexToAddress(voterAddr)},
		},
		{
			name:       "set voting duration",
			run:        func(c *Controller) (*executor.Result, error) { return c.SetVotingDuration(context.Background(), 86400) },
			wantMethod: "setVotingDuration",
			wantActor:  executor.Admin(),
			wantArgs:   []any{big.NewInt(86400)},
		},
		{
			name:       "set min voters",
			run:        func(c *Controller) (*executor.Result, error) { return c.SetMinVotersRequired(context.Background(), 3) },
			wantMethod: "setMinVotersRequired",
			wantActor:  executor.Admin(),
			wantArgs:   []any{big.NewInt(3)},
		},
		{
			name:       "set fee percentage clamps",
			run:        func(c *Controller) (*executor.Result, error) { return c.SetFeePercentage(context.Background(), -5) },
			wantMethod: "setFeePercentage",
			wantActor:  executor.Admin(),
			wantArgs:   []any{big.NewInt(0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, exec := newTestController(t)

			res, err := tt.run(c)
			require.NoError(t, err)
			assert.Equal(t, "0xabc", res.TxHash)

			require.Len(t, exec.calls, 1)
			assert.Equal(t, tt.wantMethod, exec.calls[0].Method)
			assert.Equal(t, tt.wantActor, exec.actors[0])
			assert.Equal(t, tt.wantArgs, exec.calls[0].Args)
		})
	}
}

func TestController_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		run     func(c *Controller) (*executor.Result, error)
		wantErr error
	}{
		{
			name:    "cast vote without wallet",
			run:     func(c *Controller) (*executor.Result, error) { return c.CastVote(context.Background(), "", 7, 50) },
			wantErr: domain.ErrWalletResolution,
		},
		{
			name:    "invalid voter address",
			run:     func(c *Controller) (*executor.Result, error) { return c.RegisterVoter(context.Background(), "alice") },
			wantErr: domain.ErrInvalidAddress,
		},
		{
			name:    "negative job id",
			run:     func(c *Controller) (*executor.Result, error) { return c.FinalizeVoting(context.Background(), -1) },
			wantErr: domain.ErrInvalidArgument,
		},
		{
			name:    "zero voting duration",
			run:     func(c *Controller) (*executor.Result, error) { return c.StartVoting(context.Background(), 7, 0) },
			wantErr: domain.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, exec := newTestController(t)

			_, err := tt.run(c)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, exec.calls)
		})
	}
}

func TestController_PropagatesExecutorErrors(t *testing.T) {
	c, exec := newTestController(t)
	exec.err = domain.NewConfigurationError("signers.admin_private_key", "not configured")

	_, err := c.BanVoter(context.Background(), voterAddr)

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "signers.admin_private_key", cfgErr.Field)
}
