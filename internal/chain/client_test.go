package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// revertError mimics the JSON-RPC error returned for a reverted eth_call
type revertError struct {
	data string
}

func (e revertError) Error() string  { return "execution reverted" }
func (e revertError) ErrorCode() int { return 3 }
func (e revertError) ErrorData() any { return e.data }

func encodeRevert(t *testing.T, reason string) string {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	require.NoError(t, err)
	// Error(string) selector
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...))
}

func newTransactor(t *testing.T) *bind.TransactOpts {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(31337))
	require.NoError(t, err)
	opts.GasPrice = big.NewInt(1_000_000_000)
	return opts
}

func TestClient_Submit(t *testing.T) {
	t.Run("signs and sends", func(t *testing.T) {
		backend := &fakeBackend{}
		client := newTestClient(backend)
		call, err := client.Escrow().RaiseDispute(4)
		require.NoError(t, err)

		opts := newTransactor(t)
		pending, err := client.Submit(context.Background(), call, opts)
		require.NoError(t, err)
		require.Len(t, backend.sent, 1)
		assert.Equal(t, backend.sent[0].Hash(), pending.Hash())
		assert.Equal(t, opts.From, pending.From)
		assert.Equal(t, escrowAddr, *backend.sent[0].To())
		assert.Equal(t, call.Data, backend.sent[0].Data())
	})

	t.Run("revert during estimation has no hash", func(t *testing.T) {
		backend := &fakeBackend{estimateErr: errors.New("execution reverted: only client")}
		client := newTestClient(backend)
		call, err := client.Escrow().ReleaseFunds(4)
		require.NoError(t, err)

		_, err = client.Submit(context.Background(), call, newTransactor(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransactionReverted)

		var txErr *domain.TxError
		require.True(t, errors.As(err, &txErr))
		assert.Empty(t, txErr.TxHash)
		assert.Contains(t, txErr.Reason, "only client")
		assert.Empty(t, backend.sent)
	})
}

func TestClient_Await(t *testing.T) {
	submit := func(t *testing.T, backend *fakeBackend) (*Client, *PendingTx) {
		client := newTestClient(backend)
		call, err := client.Escrow().CheckAIDeadline(8)
		require.NoError(t, err)
		pending, err := client.Submit(context.Background(), call, newTransactor(t))
		require.NoError(t, err)
		return client, pending
	}

	t.Run("confirmed", func(t *testing.T) {
		backend := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(77)}}
		client, pending := submit(t, backend)

		receipt, err := client.Await(context.Background(), pending, time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint64(77), receipt.BlockNumber)
		assert.Equal(t, pending.Hash(), receipt.TxHash)
	})

	t.Run("timeout reports hash", func(t *testing.T) {
		backend := &fakeBackend{}
		client, pending := submit(t, backend)

		_, err := client.Await(context.Background(), pending, 50*time.Millisecond)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConfirmationTimeout)

		var txErr *domain.TxError
		require.True(t, errors.As(err, &txErr))
		assert.Equal(t, pending.Hash().Hex(), txErr.TxHash)
	})

	t.Run("reverted receipt carries decoded reason", func(t *testing.T) {
		backend := &fakeBackend{
			receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(78)},
			callErr: revertError{data: encodeRevert(t, "AI deadline not reached")},
		}
		client, pending := submit(t, backend)

		_, err := client.Await(context.Background(), pending, time.Second)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransactionReverted)

		var txErr *domain.TxError
		require.True(t, errors.As(err, &txErr))
		assert.Equal(t, "AI deadline not reached", txErr.Reason)
		assert.Equal(t, pending.Hash().Hex(), txErr.TxHash)
	})

	t.Run("reverted receipt with plain error", func(t *testing.T) {
		backend := &fakeBackend{
			receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(78)},
			callErr: errors.New("execution reverted: job not disputed"),
		}
		client, pending := submit(t, backend)

		_, err := client.Await(context.Background(), pending, time.Second)
		assert.ErrorIs(t, err, domain.ErrTransactionReverted)
		assert.Contains(t, err.Error(), "job not disputed")
	})
}

func TestClient_SubscribeReplaysThenStreams(t *testing.T) {
	escrow, err := NewEscrowContract(escrowAddr)
	require.NoError(t, err)

	created := makeLog(t, escrow.Contract, "JobCreated", 1,
		[]common.Hash{addrTopic(clientAddr), addrTopic(contractorAddr)}, big.NewInt(1))
	created.BlockNumber = 5

	disputed := makeLog(t, escrow.Contract, "DisputeRaised", 1, nil)
	disputed.BlockNumber = 25

	removed := makeLog(t, escrow.Contract, "FundsReleased", 1, []common.Hash{addrTopic(contractorAddr)}, big.NewInt(1))
	removed.BlockNumber = 26
	removed.Removed = true

	foreign := created
	foreign.Address = common.HexToAddress("0x9999999999999999999999999999999999999999")

	backend := &fakeBackend{
		head:    25,
		history: []types.Log{created},
		live:    []types.Log{foreign, removed, disputed},
	}
	client := newTestClient(backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := client.Subscribe(ctx, 0)

	var got []domain.EventName
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.Name)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}

	assert.Equal(t, []domain.EventName{domain.EventJobCreated, domain.EventDisputeRaised}, got)

	cancel()
	for range events {
	}
}

func TestClient_BackfillChunks(t *testing.T) {
	escrow, err := NewEscrowContract(escrowAddr)
	require.NoError(t, err)

	var history []types.Log
	for i, block := range []uint64{3, 12, 29} {
		lg := makeLog(t, escrow.Contract, "DisputeRaised", int64(i+1), nil)
		lg.BlockNumber = block
		history = append(history, lg)
	}

	backend := &fakeBackend{head: 29, history: history}
	client := newTestClient(backend)

	var jobs []int64
	head, err := client.Backfill(context.Background(), 0, func(ev domain.ChainEvent) error {
		jobs = append(jobs, ev.JobID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(29), head)
	assert.Equal(t, []int64{1, 2, 3}, jobs)
	assert.Len(t, backend.filtered, 3, "0-9, 10-19, 20-29")
}
