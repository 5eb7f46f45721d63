package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
)

func TestTimeoutCancelsContext(t *testing.T) {
	t.Parallel()

	clk := testclock.NewClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	StartTimeoutTimer(ctx, clk, time.Minute, cancel)
	require.NoError(t, clk.WaitAdvance(time.Minute, 5*time.Second, 1))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled")
	}
}

func TestTimeoutDisabled(t *testing.T) {
	t.Parallel()

	clk := testclock.NewClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	StartTimeoutTimer(ctx, clk, 0, cancel)
	clk.Advance(time.Hour)
	require.NoError(t, ctx.Err())
}
