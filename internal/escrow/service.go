// Package escrow is the engine's service object. It owns the sync lifecycle
// and exposes every operation the HTTP and CLI adapters call.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/chain"
	"github.com/cuongbtq/escrow-engine/internal/dao"
	"github.com/cuongbtq/escrow-engine/internal/deadline"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/cuongbtq/escrow-engine/internal/storage"
)

// DefaultVotingDuration is used when EscalateToDAO is called without a duration
const DefaultVotingDuration = 72 * time.Hour

// Store is the read side of the job ledger plus evidence writes
type Store interface {
	GetJob(ctx context.Context, jobID int64) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	AddEvidence(ctx context.Context, ev *domain.Evidence) error
	ListEvidence(ctx context.Context, jobID int64) ([]domain.Evidence, error)
}

// Executor submits signed calls and waits for confirmation
type Executor interface {
	Execute(ctx context.Context, actor executor.Actor, call chain.Call) (*executor.Result, error)
}

// WalletResolver maps application users to custodial wallet ids
type WalletResolver interface {
	ResolveWalletID(ctx context.Context, userID string) (string, error)
}

// ArbitrationRequester queues a re-arbitration
type ArbitrationRequester interface {
	Request(ctx context.Context, jobID int64, requestedBy string) error
}

// EventSource is a restartable chain event stream
type EventSource interface {
	Subscribe(ctx context.Context, fromBlock uint64) <-chan domain.ChainEvent
}

// EventSink consumes a chain event stream until it closes or ctx is done
type EventSink interface {
	Run(ctx context.Context, events <-chan domain.ChainEvent) error
}

// CheckpointLoader reads the last fully applied block
type CheckpointLoader interface {
	LoadCheckpoint(ctx context.Context, name string) (uint64, bool, error)
}

// Runner is a background component stopped by cancelling ctx
type Runner interface {
	Run(ctx context.Context) error
}

// SyncConfig wires the event subscription into the reconciler
type SyncConfig struct {
	Events         EventSource
	Reconciler     EventSink
	Checkpoints    CheckpointLoader
	CheckpointName string
	StartBlock     uint64
}

// Config holds service dependencies. Wallets, Arbitration, Sync and
// Background are optional.
type Config struct {
	Logger                *slog.Logger
	Store                 Store
	Executor              Executor
	Escrow                chain.EscrowContract
	DAO                   *dao.Controller
	Deadlines             *deadline.Checker
	Wallets               WalletResolver
	Arbitration           ArbitrationRequester
	DefaultVotingDuration time.Duration
	Sync                  *SyncConfig
	Background            map[string]Runner
}

// Service is the escrow engine
type Service struct {
	logger         *slog.Logger
	store          Store
	exec           Executor
	escrow         chain.EscrowContract
	dao            *dao.Controller
	deadlines      *deadline.Checker
	wallets        WalletResolver
	arbitration    ArbitrationRequester
	votingDuration time.Duration
	sync           *SyncConfig
	background     map[string]Runner

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errs    []error
	started bool
}

// NewService creates a service. Nothing runs until Start.
func NewService(cfg *Config) *Service {
	s := &Service{
		logger:         cfg.Logger,
		store:          cfg.Store,
		exec:           cfg.Executor,
		escrow:         cfg.Escrow,
		dao:            cfg.DAO,
		deadlines:      cfg.Deadlines,
		wallets:        cfg.Wallets,
		arbitration:    cfg.Arbitration,
		votingDuration: cfg.DefaultVotingDuration,
		sync:           cfg.Sync,
		background:     cfg.Background,
	}
	if s.votingDuration <= 0 {
		s.votingDuration = DefaultVotingDuration
	}
	return s
}

// Start launches the sync pipeline and background runners
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("escrow service already started")
	}

	runCtx, cancel := context.WithCancel(ctx)

	if s.sync != nil {
		from, err := s.startBlock(ctx)
		if err != nil {
			cancel()
			return err
		}

		s.logger.Info("Starting chain sync", slog.Uint64("from_block", from))
		events := s.sync.Events.Subscribe(runCtx, from)
		s.goRun(runCtx, "reconciler", func(ctx context.Context) error {
			return s.sync.Reconciler.Run(ctx, events)
		})
	}

	for name, r := range s.background {
		s.goRun(runCtx, name, r.Run)
	}

	s.cancel = cancel
	s.started = true
	return nil
}

// Stop cancels background work and waits for it to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Escrow service stopped")

	s.mu.Lock()
	defer s.mu.Unlock()
	err := errors.Join(s.errs...)
	s.errs = nil
	return err
}

func (s *Service) goRun(ctx context.Context, name string, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Background component failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
			s.mu.Lock()
			s.errs = append(s.errs, fmt.Errorf("%s: %w", name, err))
			s.mu.Unlock()
		}
	}()
}

// startBlock resumes after the checkpoint, never before the configured start block
func (s *Service) startBlock(ctx context.Context) (uint64, error) {
	from := s.sync.StartBlock
	if s.sync.Checkpoints == nil {
		return from, nil
	}

	block, ok, err := s.sync.Checkpoints.LoadCheckpoint(ctx, s.sync.CheckpointName)
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if ok && block+1 > from {
		from = block + 1
	}
	return from, nil
}

// WalletFor resolves userID to its stored custodial wallet id
func (s *Service) WalletFor(ctx context.Context, userID string) (string, error) {
	if s.wallets == nil {
		return "", domain.NewConfigurationError("database", "wallet directory not configured")
	}
	return s.wallets.ResolveWalletID(ctx, userID)
}
