package engine

import (
	"context"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
)

// retryDelay returns the pause before the next attempt of a stage that has
// already been retried retries times
func retryDelay(cfg fairiagent.StageConfig, retries int) time.Duration {
	return fairiagent.CalculateBackoff(cfg.RetryDelayMs, retries, cfg.RetryBackoff)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
