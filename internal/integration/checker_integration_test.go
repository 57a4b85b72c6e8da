package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarmd/internal/service/checker"
)

// TestChecker_PollsAndReturnsOnCancel runs the checker against a live daemon and cancels it.
func TestChecker_PollsAndReturnsOnCancel(t *testing.T) {
	t.Parallel()

	addr := reservePort(t)
	cfgPath, stop := startDaemon(t, addr, "")

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- checker.Run(runCtx, &checker.Options{
			ConfigPath:   cfgPath,
			PollInterval: 50 * time.Millisecond,
		})
	}()

	// Wait for a few polls, then cancel.
	time.Sleep(120 * time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	require.NoError(t, stop())
}
