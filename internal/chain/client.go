package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the subset of the ledger RPC used by the client. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config holds contract client configuration
type Config struct {
	RPCURL          string
	ChainID         int64
	EscrowAddress   common.Address
	DAOAddress      common.Address
	ReplayChunkSize uint64
	MaxBackoff      time.Duration
	BufferSize      int
}

// Client is the typed call/decode layer over the escrow and DAO voting contracts
type Client struct {
	backend Backend
	chainID *big.Int
	escrow  EscrowContract
	dao     DAOContract
	logger  *slog.Logger

	replayChunk uint64
	maxBackoff  time.Duration
	bufferSize  int
	closeFn     func()
}

// PendingTx is a submitted, not yet confirmed transaction
type PendingTx struct {
	Tx   *types.Transaction
	From common.Address
	Call Call
}

// Hash returns the transaction hash
func (p *PendingTx) Hash() common.Hash {
	return p.Tx.Hash()
}

// Receipt is the confirmed outcome of a transaction
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Dial connects to the ledger RPC endpoint and binds both contracts
func Dial(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	logger.Info("Connecting to ledger RPC",
		slog.String("rpc_url", redactURL(cfg.RPCURL)),
		slog.Int64("chain_id", cfg.ChainID),
	)

	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger RPC: %w", err)
	}

	remoteID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if cfg.ChainID != 0 && remoteID.Int64() != cfg.ChainID {
		ec.Close()
		return nil, domain.NewConfigurationError("chain.chain_id",
			fmt.Sprintf("configured %d but endpoint reports %s", cfg.ChainID, remoteID))
	}

	client, err := NewClient(cfg, ec, remoteID, logger)
	if err != nil {
		ec.Close()
		return nil, err
	}
	client.closeFn = ec.Close

	logger.Info("Successfully connected to ledger RPC",
		slog.String("escrow", cfg.EscrowAddress.Hex()),
		slog.String("dao", cfg.DAOAddress.Hex()),
	)
	return client, nil
}

// NewClient builds a client over an existing backend
func NewClient(cfg *Config, backend Backend, chainID *big.Int, logger *slog.Logger) (*Client, error) {
	escrow, err := NewEscrowContract(cfg.EscrowAddress)
	if err != nil {
		return nil, err
	}
	dao, err := NewDAOContract(cfg.DAOAddress)
	if err != nil {
		return nil, err
	}

	c := &Client{
		backend:     backend,
		chainID:     chainID,
		escrow:      escrow,
		dao:         dao,
		logger:      logger,
		replayChunk: cfg.ReplayChunkSize,
		maxBackoff:  cfg.MaxBackoff,
		bufferSize:  cfg.BufferSize,
	}
	if c.replayChunk == 0 {
		c.replayChunk = 2000
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = 30 * time.Second
	}
	if c.bufferSize <= 0 {
		c.bufferSize = 256
	}
	return c, nil
}

// Escrow returns the escrow contract binding
func (c *Client) Escrow() EscrowContract { return c.escrow }

// DAO returns the DAO voting contract binding
func (c *Client) DAO() DAOContract { return c.dao }

// ChainID returns the chain id used for signing
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Close closes the RPC connection
func (c *Client) Close() {
	if c.closeFn != nil {
		c.logger.Info("Closing ledger RPC connection")
		c.closeFn()
	}
}

// Submit signs call with opts and sends it. Gas estimation failures caused by a
// revert are reported as ErrTransactionReverted without a hash.
func (c *Client) Submit(ctx context.Context, call Call, opts *bind.TransactOpts) (*PendingTx, error) {
	txOpts := *opts
	txOpts.Context = ctx

	bound := bind.NewBoundContract(call.Contract.Address, call.Contract.ABI, c.backend, c.backend, c.backend)
	tx, err := bound.RawTransact(&txOpts, call.Data)
	if err != nil {
		if isRevert(err) {
			return nil, &domain.TxError{Reason: revertReason(err), Err: domain.ErrTransactionReverted}
		}
		return nil, fmt.Errorf("failed to submit %s: %w", call, err)
	}

	c.logger.Info("Transaction submitted",
		slog.String("call", call.String()),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.String("from", opts.From.Hex()),
		slog.Uint64("nonce", tx.Nonce()),
	)

	return &PendingTx{Tx: tx, From: opts.From, Call: call}, nil
}

// Await blocks until pending is mined or timeout elapses
func (c *Client) Await(ctx context.Context, pending *PendingTx, timeout time.Duration) (*Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hash := pending.Hash().Hex()
	receipt, err := bind.WaitMined(waitCtx, c.backend, pending.Tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("Transaction confirmation timed out",
				slog.String("call", pending.Call.String()),
				slog.String("tx_hash", hash),
				slog.Duration("timeout", timeout),
			)
			return nil, &domain.TxError{TxHash: hash, Err: domain.ErrConfirmationTimeout}
		}
		return nil, fmt.Errorf("failed to await %s: %w", hash, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := c.replayRevert(ctx, pending, receipt.BlockNumber)
		c.logger.Error("Transaction reverted",
			slog.String("call", pending.Call.String()),
			slog.String("tx_hash", hash),
			slog.String("reason", reason),
		)
		return nil, &domain.TxError{TxHash: hash, Reason: reason, Err: domain.ErrTransactionReverted}
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}

	c.logger.Info("Transaction confirmed",
		slog.String("call", pending.Call.String()),
		slog.String("tx_hash", hash),
		slog.Uint64("block", block),
	)

	return &Receipt{TxHash: receipt.TxHash, BlockNumber: block, GasUsed: receipt.GasUsed}, nil
}

// replayRevert re-executes a reverted transaction at its block to recover the reason
func (c *Client) replayRevert(ctx context.Context, pending *PendingTx, block *big.Int) string {
	to := pending.Call.Contract.Address
	msg := ethereum.CallMsg{
		From:  pending.From,
		To:    &to,
		Gas:   pending.Tx.Gas(),
		Value: pending.Tx.Value(),
		Data:  pending.Tx.Data(),
	}

	_, err := c.backend.CallContract(ctx, msg, block)
	if err == nil {
		return ""
	}
	return revertReason(err)
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}

func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if reason, unpackErr := abi.UnpackRevert(common.FromHex(data)); unpackErr == nil {
				return reason
			}
		}
	}
	return err.Error()
}

func redactURL(raw string) string {
	if i := strings.LastIndex(raw, "/"); i > len("wss://") && len(raw)-i > 16 {
		return raw[:i] + "/***"
	}
	return raw
}
