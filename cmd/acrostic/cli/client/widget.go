package client

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/jacobrmount/Acrostic/internal/agent"
	"github.com/jacobrmount/Acrostic/pkg/db/models"
	"github.com/spf13/cobra"
	"gorm.io/datatypes"
)

func NewWidgetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "widget",
		Short: "Manage widget display settings",
	}

	cmd.AddCommand(newWidgetListCommand())
	cmd.AddCommand(newWidgetSaveCommand())

	return cmd
}

func newWidgetListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [token-id]",
		Short: "List widget configurations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenID := ""
			if len(args) > 0 {
				tokenID = args[0]
			}
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				configs, err := c.Service.ListWidgetConfigurations(ctx, tokenID)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tKIND\tSIZE\tCONFIGURATION")
				for _, config := range configs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", config.ID, config.Name, config.Kind, config.Size, config.Configuration)
				}
				return w.Flush()
			})
		},
	}
}

func newWidgetSaveCommand() *cobra.Command {
	var (
		id         string
		name       string
		kind       string
		size       string
		tokenID    string
		databaseID string
		settings   string
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a widget configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c *agent.Components) error {
				config := models.WidgetConfiguration{
					ID:   id,
					Name: name,
					Kind: models.WidgetKind(kind),
					Size: models.WidgetSize(size),
				}
				if settings != "" {
					config.Configuration = datatypes.JSON(settings)
				}

				saved, err := c.Service.SaveWidgetConfiguration(ctx, tokenID, databaseID, config)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved widget %s\n", saved.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "existing widget id to update")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&kind, "kind", "tasks", "tasks, progress or calendar")
	cmd.Flags().StringVar(&size, "size", "medium", "small, medium or large")
	cmd.Flags().StringVar(&tokenID, "token", "", "credential the widget belongs to")
	cmd.Flags().StringVar(&databaseID, "database", "", "database the widget shows")
	cmd.Flags().StringVar(&settings, "settings", "", "display settings as a JSON object")

	return cmd
}
