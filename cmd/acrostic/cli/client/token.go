package client

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/jacobrmount/Acrostic/internal/agent"
	"github.com/jacobrmount/Acrostic/pkg/oplog"
	"github.com/spf13/cobra"
)

func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage Notion integration credentials",
	}

	cmd.AddCommand(newTokenAddCommand())
	cmd.AddCommand(newTokenListCommand())
	cmd.AddCommand(newTokenRemoveCommand())
	cmd.AddCommand(newTokenActivateCommand())
	cmd.AddCommand(newTokenShowCommand())
	cmd.AddCommand(newTokenHistoryCommand())

	return cmd
}

func newTokenAddCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <secret>",
		Short: "Validate and store a new credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				token, err := c.Service.AddToken(ctx, name, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", token.DisplayName(), token.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name, defaults to the workspace name")

	return cmd
}

func newTokenListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				tokens, err := c.Service.ListTokens(ctx)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCONNECTED\tACTIVATED\tVALIDATED")
				for _, token := range tokens {
					validated := "never"
					if token.LastValidated != nil {
						validated = token.LastValidated.Local().Format("2006-01-02 15:04")
					}
					fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", token.ID, token.DisplayName(), token.ConnectionStatus, token.IsActivated, validated)
				}
				return w.Flush()
			})
		},
	}
}

func newTokenRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a credential with its databases, tasks and secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				if err := c.Service.DeleteToken(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newTokenActivateCommand() *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Share a credential's data with the widget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				return c.Service.SetActivated(ctx, args[0], !off)
			})
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "deactivate instead")

	return cmd
}

func newTokenShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a credential with its cached workspace metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				token, err := c.Storage.GetToken(ctx, args[0])
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "ID\t%s\n", token.ID)
				fmt.Fprintf(w, "NAME\t%s\n", token.DisplayName())
				fmt.Fprintf(w, "CONNECTED\t%t\n", token.ConnectionStatus)
				fmt.Fprintf(w, "ACTIVATED\t%t\n", token.IsActivated)

				workspace, ok, err := c.Service.Workspace(ctx, token.ID)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(w, "WORKSPACE\t%s (%s)\n", workspace.Name, workspace.ID)
					fmt.Fprintf(w, "BOT\t%s\n", workspace.BotID)
				} else {
					fmt.Fprintln(w, "WORKSPACE\tnot validated recently")
				}
				return w.Flush()
			})
		},
	}
}

func newTokenHistoryCommand() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the recorded changes of a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				var entries []oplog.Entry
				if kind != "" {
					entry, ok, err := c.Service.LastTokenChange(ctx, args[0], oplog.Kind(kind))
					if err != nil {
						return err
					}
					if ok {
						entries = append(entries, entry)
					}
				} else {
					var err error
					if entries, err = c.Service.TokenHistory(ctx, args[0]); err != nil {
						return err
					}
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tOPERATION\tRECORD")
				for _, entry := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Timestamp.Local().Format("2006-01-02 15:04:05"), entry.Kind, entry.Value)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&kind, "latest", "", "only the latest operation of this kind (store_token, update_token, delete_token)")

	return cmd
}
