// Package app wires configuration into the engine's clients and services.
// Both services and escrowctl build on the same Runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/arbitration"
	"github.com/cuongbtq/escrow-engine/internal/chain"
	"github.com/cuongbtq/escrow-engine/internal/config"
	"github.com/cuongbtq/escrow-engine/internal/dao"
	"github.com/cuongbtq/escrow-engine/internal/deadletter"
	"github.com/cuongbtq/escrow-engine/internal/deadline"
	"github.com/cuongbtq/escrow-engine/internal/escrow"
	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/cuongbtq/escrow-engine/internal/storage"
	"github.com/cuongbtq/escrow-engine/internal/wallet"
	"github.com/cuongbtq/escrow-engine/migrations"
	"github.com/cuongbtq/escrow-engine/shared/logger"
	"github.com/cuongbtq/escrow-engine/shared/postgresql"
	"github.com/cuongbtq/escrow-engine/shared/rabbitmq"
	"github.com/ethereum/go-ethereum/common"
)

// Runtime holds the connected clients of one process
type Runtime struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *postgresql.Client
	Broker    *rabbitmq.Client
	Chain     *chain.Client
	Executor  *executor.Executor
	Storage   *storage.Storage
	Directory *wallet.Directory
	Wallets   wallet.Provider

	closers []func() error
}

// NewLogger initializes the logger of one process. service tags every record.
func NewLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Service:      service,
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// NewPostgreSQL initializes the PostgreSQL database client
func NewPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(PostgreSQLConfig(cfg), logger)
}

// PostgreSQLConfig maps the database section onto the client config
func PostgreSQLConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectBackoff:  cfg.ConnectBackoff,
	}
}

// RabbitMQConfig maps the broker section onto the client config. The
// arbitration queue dead-letters rejected requests to the dead letter queue.
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	arb := cfg.Queues.Arbitration
	dl := cfg.Queues.DeadLetter

	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		Queues: []rabbitmq.QueueConfig{
			{
				Name:                 arb.Name,
				RoutingKey:           routingKey(arb),
				Durable:              arb.Durable,
				AutoDelete:           arb.AutoDelete,
				Exclusive:            arb.Exclusive,
				DeadLetterRoutingKey: routingKey(dl),
			},
			{
				Name:       dl.Name,
				RoutingKey: routingKey(dl),
				Durable:    dl.Durable,
				AutoDelete: dl.AutoDelete,
				Exclusive:  dl.Exclusive,
			},
		},
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

func routingKey(q config.QueueConfig) string {
	if q.RoutingKey != "" {
		return q.RoutingKey
	}
	return q.Name
}

// ChainConfig maps the chain section onto the contract client config
func ChainConfig(cfg *config.ChainConfig) *chain.Config {
	return &chain.Config{
		RPCURL:          cfg.RPCURL,
		ChainID:         cfg.ChainID,
		EscrowAddress:   common.HexToAddress(cfg.EscrowAddress),
		DAOAddress:      common.HexToAddress(cfg.DAOAddress),
		ReplayChunkSize: cfg.ReplayChunkSize,
		MaxBackoff:      cfg.MaxBackoff,
	}
}

// Open connects every client named by cfg. The broker is skipped when
// disabled. The caller must Close the runtime.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	if rt.DB, err = NewPostgreSQL(&cfg.Database, logger); err != nil {
		return rt, fmt.Errorf("failed to initialize database: %w", err)
	}
	rt.closers = append(rt.closers, rt.DB.Close)
	logger.Info("Database connection established")

	if cfg.RabbitMQ.Enabled() {
		if rt.Broker, err = rabbitmq.NewClient(RabbitMQConfig(&cfg.RabbitMQ), logger); err != nil {
			return rt, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		rt.closers = append(rt.closers, rt.Broker.Close)
		logger.Info("RabbitMQ connection established")
	} else {
		logger.Warn("RabbitMQ not configured, dead letters are logged only")
	}

	if rt.Chain, err = chain.Dial(ctx, ChainConfig(&cfg.Chain), logger); err != nil {
		return rt, fmt.Errorf("failed to connect to chain: %w", err)
	}
	rt.closers = append(rt.closers, func() error {
		rt.Chain.Close()
		return nil
	})

	if cfg.WalletProvider.BaseURL != "" {
		rt.Wallets = wallet.NewRemoteProvider(cfg.WalletProvider.BaseURL, cfg.WalletProvider.APIKey, cfg.WalletProvider.Timeout, logger)
	} else {
		logger.Warn("Wallet provider not configured, custodial operations are disabled")
	}

	aiKey, err := cfg.Signers.AIKey()
	if err != nil {
		return rt, err
	}
	adminKey, err := cfg.Signers.AdminKey()
	if err != nil {
		return rt, err
	}

	rt.Executor, err = executor.New(executor.Config{
		AIKey:               aiKey,
		AdminKey:            adminKey,
		ConfirmationTimeout: cfg.Chain.ConfirmationTimeout,
		Locker:              storage.NewAdvisoryLocker(rt.DB.GetDB(), logger),
	}, rt.Chain, rt.Wallets, logger)
	if err != nil {
		return rt, fmt.Errorf("failed to initialize executor: %w", err)
	}

	rt.Storage = storage.NewStorage(rt.DB.GetDB(), logger)
	rt.Directory = wallet.NewDirectory(rt.DB.GetDB(), logger)

	return rt, nil
}

// Close releases clients in reverse order of creation
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Migrate applies pending schema migrations
func Migrate(db *postgresql.Client) error {
	m, err := db.NewMigrator(migrations.Files)
	if err != nil {
		return err
	}
	return m.Up()
}

// DeadLetters returns the broker publisher, or a log-only publisher when
// no broker is configured
func (rt *Runtime) DeadLetters() deadletter.Publisher {
	if rt.Broker == nil {
		return deadletter.LogPublisher{Logger: rt.Logger}
	}
	return deadletter.NewBrokerPublisher(rt.Broker, routingKey(rt.Config.RabbitMQ.Queues.DeadLetter), rt.Logger)
}

// Requester returns the arbitration re-trigger queue, or nil without a broker
func (rt *Runtime) Requester() *arbitration.Requester {
	if rt.Broker == nil {
		return nil
	}
	return arbitration.NewRequester(rt.Broker, routingKey(rt.Config.RabbitMQ.Queues.Arbitration))
}

// NewAgent builds the arbitration agent with the configured verdict policy
func (rt *Runtime) NewAgent(ctx context.Context) (*arbitration.Agent, error) {
	policy, err := rt.policy(ctx)
	if err != nil {
		return nil, err
	}

	return arbitration.NewAgent(&arbitration.AgentConfig{
		Logger:      rt.Logger,
		Store:       rt.Storage,
		Policy:      policy,
		Executor:    rt.Executor,
		Escrow:      rt.Chain.Escrow(),
		DeadLetters: rt.DeadLetters(),
	}), nil
}

func (rt *Runtime) policy(ctx context.Context) (arbitration.Policy, error) {
	cfg := rt.Config.Arbitration
	if cfg.Policy != config.PolicyGemini {
		rt.Logger.Info("Using fixed arbitration policy")
		return arbitration.FixedPolicy{}, nil
	}

	gen, err := arbitration.NewVertexGenerator(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, gen.Close)

	rt.Logger.Info("Using Gemini arbitration policy",
		slog.String("project", cfg.Project),
		slog.String("location", cfg.Location),
	)
	return arbitration.NewGeminiPolicy(gen, cfg.Models, rt.Logger), nil
}

// ServiceOptions are the optional process-specific parts of the service
type ServiceOptions struct {
	Sync       *escrow.SyncConfig
	Background map[string]escrow.Runner
}

// NewService builds the escrow service over the runtime's clients
func (rt *Runtime) NewService(opts ServiceOptions) *escrow.Service {
	cfg := &escrow.Config{
		Logger:                rt.Logger,
		Store:                 rt.Storage,
		Executor:              rt.Executor,
		Escrow:                rt.Chain.Escrow(),
		DAO:                   dao.NewController(rt.Executor, rt.Chain.DAO(), rt.Logger),
		Deadlines:             deadline.NewChecker(rt.Executor, rt.Chain.Escrow(), rt.Storage, rt.Logger),
		Wallets:               rt.Directory,
		DefaultVotingDuration: rt.Config.Arbitration.DefaultVotingDuration,
		Sync:                  opts.Sync,
		Background:            opts.Background,
	}
	// a nil *Requester must not become a non-nil interface
	if req := rt.Requester(); req != nil {
		cfg.Arbitration = req
	}
	return escrow.NewService(cfg)
}
