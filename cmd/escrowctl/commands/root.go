package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/deadline"
	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/spf13/cobra"
)

// flag names
const (
	flagConfig = "config"
)

// environment variable names
const (
	envConfigPath = "ESCROWCTL_CONFIG_PATH"
)

const defaultConfigPath = "configs/sync-service/config.yaml"

// Operator is the part of the escrow service exposed to operators
type Operator interface {
	CheckAIDeadline(ctx context.Context, jobID int64) (*executor.Result, error)
	CheckExpiredDeadlines(ctx context.Context, limit int) ([]deadline.Outcome, error)
	EscalateToDAO(ctx context.Context, jobID int64, duration time.Duration) (*executor.Result, error)
	FinalizeVoting(ctx context.Context, jobID int64) (*executor.Result, error)
	RequestArbitration(ctx context.Context, jobID int64, requestedBy string) error
	RegisterVoter(ctx context.Context, voter string) (*executor.Result, error)
	RemoveVoter(ctx context.Context, voter string) (*executor.Result, error)
	BanVoter(ctx context.Context, voter string) (*executor.Result, error)
	SetVotingDuration(ctx context.Context, d time.Duration) (*executor.Result, error)
	SetMinVotersRequired(ctx context.Context, n uint64) (*executor.Result, error)
	SetFeePercentage(ctx context.Context, percent float64) (*executor.Result, error)
}

// Opener connects what one command invocation needs. Connections are
// opened lazily and released by Close.
type Opener interface {
	Operator(ctx context.Context) (Operator, error)
	Maintenance() Maintenance
	Close() error
}

// OpenerFunc builds an Opener for the resolved config path
type OpenerFunc func(configPath string) Opener

type cli struct {
	newOpener  OpenerFunc
	configPath string
	opener     Opener
}

// NewRootCmd builds the escrowctl command tree
func NewRootCmd(newOpener OpenerFunc) *cobra.Command {
	c := &cli{newOpener: newOpener}

	root := &cobra.Command{
		Use:   "escrowctl",
		Short: "escrowctl - operator tooling for the escrow engine",
		Long: `escrowctl runs one-off engine operations: deadline checks for an external
scheduler, DAO escalation, arbitration re-triggers, voter administration,
migrations and maintenance jobs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Flag > env > default
			if !cmd.Flags().Changed(flagConfig) {
				if env := os.Getenv(envConfigPath); env != "" {
					c.configPath = env
				}
			}
			if c.configPath == "" {
				return fmt.Errorf("config path cannot be empty")
			}
			c.opener = c.newOpener(c.configPath)
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if c.opener == nil {
				return nil
			}
			return c.opener.Close()
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, flagConfig, "c", defaultConfigPath, "Path to configuration file (env: "+envConfigPath+")")

	root.AddCommand(c.checkDeadlineCmd())
	root.AddCommand(c.checkDeadlinesCmd())
	root.AddCommand(c.escalateCmd())
	root.AddCommand(c.finalizeCmd())
	root.AddCommand(c.arbitrateCmd())
	root.AddCommand(c.votersCmd())
	root.AddCommand(c.paramsCmd())
	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.backfillWalletsCmd())
	root.AddCommand(c.resyncCmd())
	root.AddCommand(c.findWalletCmd())

	return root
}

func (c *cli) operator(cmd *cobra.Command) (Operator, error) {
	return c.opener.Operator(cmd.Context())
}

func printJSON(cmd *cobra.Command, v any) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return err
}

type txOutput struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func printTx(cmd *cobra.Command, res *executor.Result) error {
	return printJSON(cmd, txOutput{TxHash: res.TxHash, BlockNumber: res.BlockNumber, ConfirmedAt: res.ConfirmedAt.UTC()})
}
