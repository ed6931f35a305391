package commands

import (
	"context"
	"fmt"

	"github.com/cuongbtq/escrow-engine/internal/wallet"
	"github.com/spf13/cobra"
)

// Maintenance runs schema and data repair jobs
type Maintenance interface {
	Migrate(ctx context.Context, down bool, steps int) (*MigrateReport, error)
	BackfillWallets(ctx context.Context, dryRun bool) (*wallet.BackfillReport, error)
	Resync(ctx context.Context, fromBlock uint64) (*ResyncReport, error)
	FindWallet(ctx context.Context, address string) (*wallet.Wallet, error)
}

// MigrateReport is the schema version after a migration run
type MigrateReport struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

// ResyncReport summarizes a historical replay
type ResyncReport struct {
	FromBlock uint64 `json:"from_block"`
	Head      uint64 `json:"head"`
	Events    int    `json:"events"`
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Applies every pending migration. --steps moves that many versions
(negative steps roll back); --down rolls back everything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			down, _ := cmd.Flags().GetBool("down")
			steps, _ := cmd.Flags().GetInt("steps")
			if down && steps != 0 {
				return fmt.Errorf("--down and --steps are mutually exclusive")
			}

			report, err := c.opener.Maintenance().Migrate(cmd.Context(), down, steps)
			if err != nil {
				return fmt.Errorf("error migrating database: %w", err)
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().Bool("down", false, "Roll back all migrations")
	cmd.Flags().Int("steps", 0, "Number of versions to move; negative rolls back")
	return cmd
}

func (c *cli) backfillWalletsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill-wallets",
		Short: "Fill missing custodial wallet ids by matching stored addresses",
		Long: `Lists the wallet provider's wallets and stores the id of the unique wallet
whose address matches each user's stored address. Ambiguous addresses are
reported and skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			report, err := c.opener.Maintenance().BackfillWallets(cmd.Context(), dryRun)
			if err != nil {
				return fmt.Errorf("error backfilling wallets: %w", err)
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().Bool("dry-run", false, "Report matches without writing them")
	return cmd
}

func (c *cli) resyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Replay historical chain events into the job ledger",
		Long: `Replays escrow and DAO events from --from-block to the current head through
the reconciler. Writes are guarded transitions, so replaying applied events
changes nothing. Arbitration is not started for replayed disputes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, _ := cmd.Flags().GetUint64("from-block")

			report, err := c.opener.Maintenance().Resync(cmd.Context(), from)
			if err != nil {
				return fmt.Errorf("error replaying events: %w", err)
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().Uint64("from-block", 0, "First block to replay")
	_ = cmd.MarkFlagRequired("from-block")
	return cmd
}

func (c *cli) findWalletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find-wallet <address>",
		Short: "Find the custodial wallet holding an address",
		Long: `Scans every wallet of the provider for address. Slow, and fails when the
address is held by more than one wallet. Request paths never use it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.opener.Maintenance().FindWallet(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error finding wallet: %w", err)
			}
			return printJSON(cmd, w)
		},
	}
}
