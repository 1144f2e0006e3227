package agent

import (
	"context"
	"testing"
	"time"

	config "github.com/jacobrmount/Acrostic/internal/config/app"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.BaseAppConfig {
	t.Helper()
	cfg := config.GetAppDefault()
	cfg.DataDir = t.TempDir()
	cfg.Secrets.Passphrase = "test passphrase"
	cfg.Log.NoTerminal = true
	cfg.ShutdownTimeout = "2s"
	return &cfg
}

func TestAgent_JobContextFollowsServe(t *testing.T) {
	a := NewAgent(testConfig(t))

	parent, cancel := context.WithCancel(context.Background())
	a.ctx = parent

	ctx, done := a.jobContext(time.Hour)
	defer done()
	require.NoError(t, ctx.Err())

	cancel()
	require.Eventually(t, func() bool {
		return ctx.Err() != nil
	}, time.Second, 10*time.Millisecond)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestAgent_ServeStopsOnCancel(t *testing.T) {
	a := NewAgent(testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Serve(ctx)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not stop after cancellation")
	}
}
