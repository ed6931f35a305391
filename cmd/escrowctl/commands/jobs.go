package commands

import (
	"fmt"
	"strconv"

	"github.com/cuongbtq/escrow-engine/internal/deadline"
	"github.com/spf13/cobra"
)

func parseJobID(arg string) (int64, error) {
	jobID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || jobID < 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return jobID, nil
}

func (c *cli) checkDeadlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-deadline <job-id>",
		Short: "Ask the contract to escalate an expired AI verdict",
		Long: `Submits checkAIDeadline for one job as the AI agent. The contract decides
whether the acceptance window has passed; a revert means it has not.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			ops, err := c.operator(cmd)
			if err != nil {
				return err
			}

			res, err := ops.CheckAIDeadline(cmd.Context(), jobID)
			if err != nil {
				return fmt.Errorf("error checking deadline: %w", err)
			}
			return printTx(cmd, res)
		},
	}
}

func (c *cli) checkDeadlinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-deadlines",
		Short: "Check every mirrored verdict whose acceptance window has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			ops, err := c.operator(cmd)
			if err != nil {
				return err
			}

			outcomes, err := ops.CheckExpiredDeadlines(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("error checking deadlines: %w", err)
			}
			if outcomes == nil {
				outcomes = []deadline.Outcome{}
			}
			return printJSON(cmd, outcomes)
		},
	}
	cmd.Flags().IntP("limit", "l", 100, "Maximum number of jobs to check")
	return cmd
}

func (c *cli) escalateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalate <job-id>",
		Short: "Start a DAO vote for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			duration, _ := cmd.Flags().GetDuration("duration")
			if duration < 0 {
				return fmt.Errorf("duration must not be negative")
			}
			ops, err := c.operator(cmd)
			if err != nil {
				return err
			}

			res, err := ops.EscalateToDAO(cmd.Context(), jobID, duration)
			if err != nil {
				return fmt.Errorf("error escalating job %d: %w", jobID, err)
			}
			return printTx(cmd, res)
		},
	}
	cmd.Flags().DurationP("duration", "d", 0, "Voting duration (0 uses the configured default)")
	return cmd
}

func (c *cli) finalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <job-id>",
		Short: "Close a DAO vote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			ops, err := c.operator(cmd)
			if err != nil {
				return err
			}

			res, err := ops.FinalizeVoting(cmd.Context(), jobID)
			if err != nil {
				return fmt.Errorf("error finalizing job %d: %w", jobID, err)
			}
			return printTx(cmd, res)
		},
	}
}

func (c *cli) arbitrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arbitrate <job-id>",
		Short: "Queue a re-run of AI arbitration for a stuck dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			requestedBy, _ := cmd.Flags().GetString("requested-by")
			ops, err := c.operator(cmd)
			if err != nil {
				return err
			}

			if err := ops.RequestArbitration(cmd.Context(), jobID, requestedBy); err != nil {
				return fmt.Errorf("error requesting arbitration: %w", err)
			}
			return printJSON(cmd, map[string]any{"job_id": jobID, "status": "queued"})
		},
	}
	cmd.Flags().String("requested-by", "escrowctl", "Operator name recorded with the request")
	return cmd
}
