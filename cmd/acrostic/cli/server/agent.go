package server

import (
	"context"
	"fmt"

	"github.com/jacobrmount/Acrostic/internal/agent"
	"github.com/spf13/cobra"

	config "github.com/jacobrmount/Acrostic/internal/config/app"
)

func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the Acrostic sync agent",
		Long: `Start the Acrostic sync agent.

The agent repairs the store, runs a first sync cycle and then keeps
syncing on the configured interval until it is interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAppConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			return agent.NewAgent(cfg).Serve(context.Background())
		},
	}

	return cmd
}
