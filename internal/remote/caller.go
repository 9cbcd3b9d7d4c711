// Package remote wraps crawl-provider calls with a shared cooldown gate and
// exponential-backoff retries.
package remote

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Dean-Rough/xray2/internal/metrics"
)

// Config controls retry and cooldown behavior.
type Config struct {
	// MinInterval is the floor between any two provider calls, shared by
	// every caller in the process.
	MinInterval time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = 6 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 8 * time.Second
	}
	return c
}

// Caller is a pure decorator over remote operations: it enforces a single
// process-wide minimum inter-call interval and retries failures with
// exponential backoff. The cooldown state lives in the rate.Limiter, so
// concurrent analyses sharing one Caller cannot collectively exceed the
// provider's request ceiling.
type Caller struct {
	cfg    Config
	gate   *rate.Limiter
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

// New builds a Caller. The zero Config yields the provider free-plan
// defaults (6s interval, 3 attempts, 2s base backoff capped at 8s).
func New(cfg Config, logger *zap.Logger) *Caller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{
		cfg:    cfg,
		gate:   rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		sleep:  sleepCtx,
		logger: logger,
	}
}

// Do runs op through the cooldown gate, retrying on any error. Every retry
// attempt re-passes the gate. After exhausting attempts it returns a single
// aggregated error carrying the last underlying failure.
func (c *Caller) Do(ctx context.Context, label string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		waitStart := time.Now()
		if err := c.gate.Wait(ctx); err != nil {
			return fmt.Errorf("%s: cooldown wait: %w", label, err)
		}
		if delay := time.Since(waitStart); delay > time.Millisecond {
			metrics.ObserveRateLimitDelay(delay)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Warn("remote call failed",
			zap.String("op", label),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Error(err),
		)
		if attempt == c.cfg.MaxAttempts {
			break
		}
		metrics.ObserveRemoteRetry(label)
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return fmt.Errorf("%s: backoff wait: %w", label, err)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", label, c.cfg.MaxAttempts, lastErr)
}

// backoff doubles the base delay per completed attempt, capped at MaxDelay.
func (c *Caller) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay << (attempt - 1)
	if delay > c.cfg.MaxDelay || delay <= 0 {
		delay = c.cfg.MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Call runs op through caller and returns its typed result.
func Call[T any](ctx context.Context, c *Caller, label string, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := c.Do(ctx, label, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
