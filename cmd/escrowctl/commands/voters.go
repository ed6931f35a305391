package commands

import (
	"context"
	"fmt"

	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/spf13/cobra"
)

func (c *cli) votersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voters",
		Short: "Manage the DAO voter registry (admin signer)",
	}

	cmd.AddCommand(c.voterCmd("register", "Register a voter", Operator.RegisterVoter))
	cmd.AddCommand(c.voterCmd("remove", "Remove a voter", Operator.RemoveVoter))
	cmd.AddCommand(c.voterCmd("ban", "Ban a voter", Operator.BanVoter))
	return cmd
}

func (c *cli) voterCmd(use, short string, op func(Operator, context.Context, string) (*executor.Result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <address>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := c.operator(cmd)
			if err != nil {
				return err
			}

			res, err := op(ops, cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error running voters %s: %w", use, err)
			}
			return printTx(cmd, res)
		},
	}
}

func (c *cli) paramsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Update DAO parameters (admin signer)",
		Long: `Each given flag is sent as its own transaction, in the order
voting-duration, min-voters, fee-percent.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if !flags.Changed("voting-duration") && !flags.Changed("min-voters") && !flags.Changed("fee-percent") {
				return fmt.Errorf("at least one of --voting-duration, --min-voters, --fee-percent is required")
			}

			ops, err := c.operator(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			applied := map[string]txOutput{}

			if flags.Changed("voting-duration") {
				d, _ := flags.GetDuration("voting-duration")
				if d <= 0 {
					return fmt.Errorf("voting duration must be positive")
				}
				res, err := ops.SetVotingDuration(ctx, d)
				if err != nil {
					return fmt.Errorf("error setting voting duration: %w", err)
				}
				applied["voting_duration"] = txOutput{TxHash: res.TxHash, BlockNumber: res.BlockNumber, ConfirmedAt: res.ConfirmedAt.UTC()}
			}

			if flags.Changed("min-voters") {
				n, _ := flags.GetUint64("min-voters")
				res, err := ops.SetMinVotersRequired(ctx, n)
				if err != nil {
					return fmt.Errorf("error setting minimum voters: %w", err)
				}
				applied["min_voters_required"] = txOutput{TxHash: res.TxHash, BlockNumber: res.BlockNumber, ConfirmedAt: res.ConfirmedAt.UTC()}
			}

			if flags.Changed("fee-percent") {
				p, _ := flags.GetFloat64("fee-percent")
				res, err := ops.SetFeePercentage(ctx, p)
				if err != nil {
					return fmt.Errorf("error setting fee percentage: %w", err)
				}
				applied["fee_percentage"] = txOutput{TxHash: res.TxHash, BlockNumber: res.BlockNumber, ConfirmedAt: res.ConfirmedAt.UTC()}
			}

			return printJSON(cmd, applied)
		},
	}

	cmd.Flags().Duration("voting-duration", 0, "Default voting session length, e.g. 72h")
	cmd.Flags().Uint64("min-voters", 0, "Minimum number of votes for a session to finalize")
	cmd.Flags().Float64("fee-percent", 0, "Voter fee percentage (clamped to 0-100)")
	return cmd
}
