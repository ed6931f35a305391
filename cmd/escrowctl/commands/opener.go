package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/escrow-engine/internal/app"
	"github.com/cuongbtq/escrow-engine/internal/config"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/reconciler"
	"github.com/cuongbtq/escrow-engine/internal/wallet"
	"github.com/cuongbtq/escrow-engine/migrations"
	"github.com/cuongbtq/escrow-engine/shared/logger"
	"github.com/cuongbtq/escrow-engine/shared/postgresql"
)

// configOpener connects from a yaml config file
type configOpener struct {
	path string

	cfg *config.Config
	log *logger.Logger
	rt  *app.Runtime
	db  *postgresql.Client
}

// NewConfigOpener opens connections described by the config at path
func NewConfigOpener(path string) Opener {
	return &configOpener{path: path}
}

func (o *configOpener) load(validate func(*config.Config) error) error {
	if o.cfg != nil {
		return nil
	}

	cfg, err := config.Load(o.path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l, err := app.NewLogger(&cfg.Logging, "escrowctl")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	o.cfg, o.log = cfg, l
	return nil
}

func (o *configOpener) runtime(ctx context.Context) (*app.Runtime, error) {
	if o.rt != nil {
		return o.rt, nil
	}
	if err := o.load((*config.Config).ValidateSync); err != nil {
		return nil, err
	}

	rt, err := app.Open(ctx, o.cfg, o.log.Logger)
	if err != nil {
		return nil, err
	}
	o.rt = rt
	return rt, nil
}

func (o *configOpener) Operator(ctx context.Context) (Operator, error) {
	rt, err := o.runtime(ctx)
	if err != nil {
		return nil, err
	}
	return rt.NewService(app.ServiceOptions{}), nil
}

func (o *configOpener) Maintenance() Maintenance {
	return o
}

func (o *configOpener) Migrate(ctx context.Context, down bool, steps int) (*MigrateReport, error) {
	if err := o.load((*config.Config).ValidateDatabase); err != nil {
		return nil, err
	}

	if o.db == nil {
		db, err := app.NewPostgreSQL(&o.cfg.Database, o.log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		o.db = db
	}

	m, err := o.db.NewMigrator(migrations.Files)
	if err != nil {
		return nil, err
	}

	switch {
	case down:
		err = m.Down()
	case steps != 0:
		err = m.Steps(steps)
	default:
		err = m.Up()
	}
	if err != nil {
		return nil, err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	return &MigrateReport{Version: version, Dirty: dirty}, nil
}

func (o *configOpener) BackfillWallets(ctx context.Context, dryRun bool) (*wallet.BackfillReport, error) {
	rt, err := o.runtime(ctx)
	if err != nil {
		return nil, err
	}
	if rt.Wallets == nil {
		return nil, domain.NewConfigurationError("wallet_provider.base_url", "required for backfill")
	}
	return rt.Directory.Backfill(ctx, rt.Wallets, dryRun)
}

func (o *configOpener) FindWallet(ctx context.Context, address string) (*wallet.Wallet, error) {
	rt, err := o.runtime(ctx)
	if err != nil {
		return nil, err
	}
	if rt.Wallets == nil {
		return nil, domain.NewConfigurationError("wallet_provider.base_url", "required for wallet lookup")
	}
	return wallet.FindByAddress(ctx, rt.Wallets, address)
}

func (o *configOpener) Resync(ctx context.Context, fromBlock uint64) (*ResyncReport, error) {
	rt, err := o.runtime(ctx)
	if err != nil {
		return nil, err
	}

	name := o.cfg.Reconciler.CheckpointName
	if name == "" {
		name = reconciler.DefaultCheckpointName
	}
	rec := reconciler.New(&reconciler.Config{
		Logger:         rt.Logger,
		Store:          rt.Storage,
		DeadLetters:    rt.DeadLetters(),
		Concurrency:    o.cfg.Reconciler.Concurrency,
		MaxAttempts:    o.cfg.Reconciler.MaxAttempts,
		RetryInterval:  o.cfg.Reconciler.RetryInterval,
		CheckpointName: name,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	report := &ResyncReport{FromBlock: fromBlock}
	events := make(chan domain.ChainEvent)
	replayErr := make(chan error, 1)

	go func() {
		defer close(events)
		head, err := rt.Chain.Backfill(ctx, fromBlock, func(ev domain.ChainEvent) error {
			select {
			case events <- ev:
				report.Events++
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		report.Head = head
		replayErr <- err
	}()

	runErr := rec.Run(ctx, events)
	cancel()
	if err := errors.Join(<-replayErr, runErr); err != nil {
		return nil, err
	}
	return report, nil
}

func (o *configOpener) Close() error {
	var errs []error
	if o.rt != nil {
		errs = append(errs, o.rt.Close())
	}
	if o.db != nil {
		errs = append(errs, o.db.Close())
	}
	if o.log != nil {
		errs = append(errs, o.log.Close())
	}
	return errors.Join(errs...)
}
