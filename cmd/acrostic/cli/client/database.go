package client

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/jacobrmount/Acrostic/internal/agent"
	"github.com/spf13/cobra"
)

func NewDatabaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "database",
		Aliases: []string{"db"},
		Short:   "Manage the databases shown by the widget",
	}

	cmd.AddCommand(newDatabaseListCommand())
	cmd.AddCommand(newDatabaseEnableCommand())
	cmd.AddCommand(newDatabaseSelectCommand())

	return cmd
}

func newDatabaseListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <token-id>",
		Short: "List the databases a credential can see",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				files, err := c.Service.Files(ctx, args[0])
				if err != nil {
					return err
				}
				enabled, err := c.Storage.ListWidgetEnabledDatabases(ctx, args[0])
				if err != nil {
					return err
				}
				widget := make(map[string]bool, len(enabled))
				for _, database := range enabled {
					widget[database.Identifier()] = true
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTITLE\tSELECTED\tWIDGET")
				for _, file := range files {
					fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", file.ID, file.Title, file.IsSelected, widget[file.ID])
				}
				return w.Flush()
			})
		},
	}
}

func newDatabaseEnableCommand() *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "enable <token-id> <database-id>",
		Short: "Sync the tasks of a database for the widget",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				return c.Service.SetWidgetEnabled(ctx, args[0], args[1], !off)
			})
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "disable instead")

	return cmd
}

func newDatabaseSelectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "select <token-id> <database-id>",
		Short: "Toggle whether a database is offered to the widget",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				return c.Service.ToggleFileSelection(ctx, args[0], args[1])
			})
		},
	}
}
