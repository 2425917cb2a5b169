package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReconnectConfig contains configuration for exponential backoff
// reconnection after the panel drops the link.
type ReconnectConfig struct {
	MaxRetries    int           // Consecutive failed attempts before giving up; 0 retries forever
	RetryDelay    time.Duration // Initial retry delay
	MaxRetryDelay time.Duration // Maximum retry delay cap
}

// DefaultReconnectConfig returns default reconnection configuration.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    0,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// reconnectState tracks consecutive failures, total attempts and
// successful re-establishments.
type reconnectState struct {
	currentRetries int
	attempts       uint64
	successes      uint64
}

type connectFunc func(ctx context.Context) error

// runWithReconnect calls connectFn until it succeeds, waiting with
// exponential backoff between failures.
func runWithReconnect(ctx context.Context, logger *slog.Logger, connectFn connectFunc, cfg ReconnectConfig, state *reconnectState) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		state.attempts++
		err := connectFn(ctx)
		if err == nil {
			state.currentRetries = 0
			state.successes++
			logger.Info("link re-established")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		state.currentRetries++
		if cfg.MaxRetries > 0 && state.currentRetries > cfg.MaxRetries {
			return fmt.Errorf("%w (%d attempts): %v", ErrMaxRetries, cfg.MaxRetries, err)
		}

		delay := calculateBackoff(state.currentRetries, cfg)
		logger.Warn("reconnect failed, retrying",
			"attempt", state.currentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at
// maxRetryDelay.
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := min(attempt-1, 30)
	delay := cfg.RetryDelay * time.Duration(1<<uint(shift))
	if cfg.MaxRetryDelay > 0 && (delay > cfg.MaxRetryDelay || delay <= 0) {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
