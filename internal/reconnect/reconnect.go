package reconnect

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config controls the backoff between connection attempts.
type Config struct {
	MaxRetries    int           // Maximum attempts before giving up (0 = retry until ctx is done)
	RetryDelay    time.Duration // Delay before the first attempt and base of the backoff (default: 1 second)
	MaxRetryDelay time.Duration // Cap for the backoff (default: RetryDelay, i.e. a fixed interval)
}

// DefaultConfig returns a fixed one second interval, retried indefinitely.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    0,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 1 * time.Second,
	}
}

// State tracks the attempts of the current reconnection cycle.
type State struct {
	CurrentRetries int
	Reconnects     *uint64 // Atomic counter for total reconnection attempts
}

// ConnectFunc attempts to establish a connection.
type ConnectFunc func(ctx context.Context) error

// Run waits for the backoff delay and then calls connectFn, repeating until it
// succeeds, ctx is done, or MaxRetries attempts have failed.
//
// Unlike a first connect, a reconnect always waits before its first attempt:
// the previous connection just failed and the producer needs time to recover.
//
// With the default config the schedule is a fixed 1s between attempts. When
// MaxRetryDelay > RetryDelay the delay doubles per attempt up to the cap.
func Run(ctx context.Context, connectFn ConnectFunc, cfg Config, state *State) error {
	for {
		delay := Backoff(state.CurrentRetries+1, cfg)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			slog.Debug("reconnect: context cancelled during backoff")
			return ctx.Err()
		}

		state.CurrentRetries++
		if state.Reconnects != nil {
			atomic.AddUint64(state.Reconnects, 1)
		}

		err := connectFn(ctx)
		if err == nil {
			slog.Info("reconnect: connection re-established",
				"attempts", state.CurrentRetries,
			)
			Reset(state)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("reconnect: attempt failed",
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"next_delay", Backoff(state.CurrentRetries+1, cfg),
			"error", err,
		)

		if cfg.MaxRetries > 0 && state.CurrentRetries >= cfg.MaxRetries {
			return fmt.Errorf("reconnect: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}
	}
}

// Backoff returns the delay before the given attempt (1-based).
//
// Formula: delay = RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func Backoff(attempt int, cfg Config) time.Duration {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxRetryDelay {
			return cfg.MaxRetryDelay
		}
	}
	return delay
}

// Reset clears the retry counter after a successful connection.
func Reset(state *State) {
	state.CurrentRetries = 0
}
