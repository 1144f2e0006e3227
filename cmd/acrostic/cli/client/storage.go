package client

import (
	"context"
	"fmt"

	"github.com/jacobrmount/Acrostic/internal/agent"
	"github.com/spf13/cobra"
)

func NewStorageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Show or switch the storage backend",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active storage backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				fmt.Fprintf(cmd.OutOrStdout(), "active: %s\npreference: %s\n", c.Storage.Name(), c.Preferences.Storage())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "switch <local|icloud>",
		Short:     "Copy every record to the other backend and make it active",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"local", "icloud"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				if err := c.Service.SwitchStorage(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Now using %s\n", c.Storage.Name())
				return nil
			})
		},
	})

	return cmd
}
