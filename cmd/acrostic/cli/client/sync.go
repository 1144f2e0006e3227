package client

import (
	"context"
	"fmt"

	"github.com/jacobrmount/Acrostic/internal/agent"
	"github.com/spf13/cobra"
)

func NewSyncCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Long: `Validate every credential, refresh the file lists of activated
credentials, pull the tasks of widget-enabled databases and publish the
widget snapshot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				report, err := c.Service.Sync(ctx, force)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Checked %d credentials, synced %d databases\n", report.TokensChecked, report.DatabasesSynced)
				if summary := report.Summary(); summary != "" {
					fmt.Fprintln(out, summary)
				}
				for _, err := range report.Errors {
					fmt.Fprintf(out, "  %v\n", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "ignore cached file and task lists")

	return cmd
}
