package concurrency

import (
	"context"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"chat-notifications/internal/infra/logger"
)

// StartTimeoutTimer вызывает cancel через timeout, если ctx не отменён раньше.
// Нужен для ограниченных по времени прогонов демона (RUN_TIMEOUT_SEC).
// Нулевой timeout или nil cancel ничего не делают.
func StartTimeoutTimer(ctx context.Context, clk clock.Clock, timeout time.Duration, cancel context.CancelFunc) {
	if timeout <= 0 || cancel == nil {
		return
	}
	if clk == nil {
		clk = clock.WallClock
	}

	timer := clk.NewTimer(timeout)
	go func() {
		defer timer.Stop()
		logger.Info("Auto-shutdown timer started", zap.Duration("timeout", timeout))

		select {
		case <-timer.Chan():
			logger.Info("Auto-shutdown timeout reached, initiating graceful shutdown")
			cancel()
		case <-ctx.Done():
			logger.Debug("Auto-shutdown timer cancelled due to context cancellation")
		}
	}()
}
