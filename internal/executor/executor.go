package executor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/chain"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/wallet"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultConfirmationTimeout bounds how long Execute waits for mining
const DefaultConfirmationTimeout = 30 * time.Second

// Chain is the contract client surface the executor needs
type Chain interface {
	Submit(ctx context.Context, call chain.Call, opts *bind.TransactOpts) (*chain.PendingTx, error)
	Await(ctx context.Context, pending *chain.PendingTx, timeout time.Duration) (*chain.Receipt, error)
	ChainID() *big.Int
}

// Locker serializes transactions of one sending account across processes
type Locker interface {
	Lock(ctx context.Context, name string) (func(), error)
}

// Config holds signer credentials
type Config struct {
	AIKey               *ecdsa.PrivateKey
	AdminKey            *ecdsa.PrivateKey
	ConfirmationTimeout time.Duration
	// Locker is held per sending address around submit and await. Without it
	// transactions are serialized within this process only.
	Locker Locker
}

// Result is a confirmed transaction
type Result struct {
	TxHash      string
	BlockNumber uint64
	ConfirmedAt time.Time
}

// Executor resolves actors to signers and runs submit-then-await, one
// transaction at a time per actor so account nonces never collide.
type Executor struct {
	chain   Chain
	wallets wallet.Provider
	logger  *slog.Logger

	ai      *bind.TransactOpts
	admin   *bind.TransactOpts
	timeout time.Duration
	locker  Locker

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// New creates an executor. The AI key is required; the admin key is optional
// and admin operations fail with a ConfigurationError when it is absent.
func New(cfg Config, c Chain, wallets wallet.Provider, logger *slog.Logger) (*Executor, error) {
	if cfg.AIKey == nil {
		return nil, domain.NewConfigurationError("signers.ai_private_key", "not configured")
	}

	chainID := c.ChainID()
	ai, err := bind.NewKeyedTransactorWithChainID(cfg.AIKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI signer: %w", err)
	}

	e := &Executor{
		chain:   c,
		wallets: wallets,
		logger:  logger,
		ai:      ai,
		timeout: cfg.ConfirmationTimeout,
		locker:  cfg.Locker,
		locks:   make(map[string]chan struct{}),
	}
	if e.timeout <= 0 {
		e.timeout = DefaultConfirmationTimeout
	}

	if cfg.AdminKey != nil {
		if e.admin, err = bind.NewKeyedTransactorWithChainID(cfg.AdminKey, chainID); err != nil {
			return nil, fmt.Errorf("failed to create admin signer: %w", err)
		}
	} else {
		logger.Warn("Admin signer not configured, admin operations are disabled")
	}

	logger.Info("Transaction executor ready",
		slog.String("ai_address", ai.From.Hex()),
		slog.Bool("admin_enabled", e.admin != nil),
		slog.Duration("confirmation_timeout", e.timeout),
	)

	return e, nil
}

// AIAddress returns the AI agent account
func (e *Executor) AIAddress() common.Address {
	return e.ai.From
}

// Execute signs call as actor, submits it and waits for confirmation
func (e *Executor) Execute(ctx context.Context, actor Actor, call chain.Call) (*Result, error) {
	opts, err := e.signer(ctx, actor)
	if err != nil {
		return nil, err
	}

	release, err := e.acquire(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer release()

	if e.locker != nil {
		unlock, err := e.locker.Lock(ctx, opts.From.Hex())
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	logger := e.logger.With(
		slog.String("actor", actor.String()),
		slog.String("call", call.String()),
	)

	pending, err := e.chain.Submit(ctx, call, opts)
	if err != nil {
		logger.Error("Failed to submit transaction", slog.String("error", err.Error()))
		return nil, err
	}

	receipt, err := e.chain.Await(ctx, pending, e.timeout)
	if err != nil {
		return nil, err
	}

	return &Result{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber,
		ConfirmedAt: time.Now().UTC(),
	}, nil
}

func (e *Executor) signer(ctx context.Context, actor Actor) (*bind.TransactOpts, error) {
	switch actor.Kind {
	case AIAgent:
		return e.ai, nil

	case AdminSigner:
		if e.admin == nil {
			return nil, domain.NewConfigurationError("signers.admin_private_key", "not configured")
		}
		return e.admin, nil

	case CustodialWallet:
		return e.custodialSigner(ctx, actor.WalletID)

	default:
		return nil, fmt.Errorf("%w: unknown actor %s", domain.ErrInvalidArgument, actor)
	}
}

func (e *Executor) custodialSigner(ctx context.Context, walletID string) (*bind.TransactOpts, error) {
	if walletID == "" {
		return nil, fmt.Errorf("%w: empty wallet id", domain.ErrWalletResolution)
	}
	if e.wallets == nil {
		return nil, domain.NewConfigurationError("wallet_provider.base_url", "not configured")
	}

	w, err := e.wallets.FetchWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet %s: %w", walletID, err)
	}
	if !common.IsHexAddress(w.Address) {
		return nil, fmt.Errorf("%w: wallet %s has address %q", domain.ErrInvalidAddress, walletID, w.Address)
	}

	chainID := e.chain.ChainID()
	signer := types.LatestSignerForChainID(chainID)
	from := common.HexToAddress(w.Address)

	return &bind.TransactOpts{
		From:    from,
		Context: ctx,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != from {
				return nil, bind.ErrNotAuthorized
			}
			signed, err := e.wallets.SignTransaction(ctx, walletID, tx, chainID)
			if err != nil {
				return nil, fmt.Errorf("wallet provider failed to sign: %w", err)
			}
			sender, err := types.Sender(signer, signed)
			if err != nil {
				return nil, fmt.Errorf("wallet provider returned an invalid signature: %w", err)
			}
			if sender != from {
				return nil, fmt.Errorf("wallet provider signed as %s, expected %s", sender.Hex(), from.Hex())
			}
			return signed, nil
		},
	}, nil
}

// acquire takes the actor's slot, giving up when ctx is done
func (e *Executor) acquire(ctx context.Context, actor Actor) (func(), error) {
	key := actor.String()

	e.mu.Lock()
	sem, ok := e.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		e.locks[key] = sem
	}
	e.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
