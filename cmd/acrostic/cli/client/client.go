// Package client holds the one-shot commands that act on the stores directly
// without a running agent.
package client

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jacobrmount/Acrostic/internal/agent"
	"github.com/spf13/cobra"

	config "github.com/jacobrmount/Acrostic/internal/config/app"
	"github.com/jacobrmount/Acrostic/pkg/log"
)

// run opens every component for the duration of fn
func run(cmd *cobra.Command, fn func(ctx context.Context, c *agent.Components) error) error {
	cfg, err := config.LoadAppConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	logger := log.NewLoggerService("acrostic", cfg.Log)
	c, err := agent.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if notice := c.Storage.Notice(); notice != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), notice)
	}
	return fn(ctx, c)
}
