package client

import (
	"context"
	"fmt"
	"time"

	"github.com/jacobrmount/Acrostic/internal/agent"
	"github.com/spf13/cobra"
)

func NewRepairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Heal databases with missing or duplicate identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				report, err := c.Repairer.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d identifiers, removed %d duplicates and %d invalid records\n",
					report.IdentifiersRecovered, report.DuplicatesRemoved, report.InvalidRemoved)
				if report.Changed() {
					return c.Publisher.Publish(ctx)
				}
				return nil
			})
		},
	}
}

func NewCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache maintenance",
	}

	var olderThan, historyOlderThan time.Duration
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired cache entries and old operation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				removed, err := c.Cache.CleanupExpired(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", removed)

				pruned, err := c.History.Prune(ctx, historyOlderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d history entries\n", pruned)
				return nil
			})
		},
	}
	cleanup.Flags().DurationVar(&olderThan, "older-than", 0, "age after which entries are removed (default 7 days)")
	cleanup.Flags().DurationVar(&historyOlderThan, "history-older-than", 0, "age after which operation history is removed (default 30 days)")

	cmd.AddCommand(cleanup)
	return cmd
}
