// Package store holds persistence helpers shared by the checkpoint store
// backends.
package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger removes terminal analyses last updated before a cutoff. Both
// checkpoint store backends implement it.
type Purger interface {
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error)
}

// Janitor periodically purges COMPLETED and FAILED analyses so the checkpoint
// table does not grow without bound.
type Janitor struct {
	purger   Purger
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
}

// NewJanitor builds a Janitor that purges rows older than maxAge on every
// interval tick.
func NewJanitor(purger Purger, interval, maxAge time.Duration, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{purger: purger, interval: interval, maxAge: maxAge, logger: logger}
}

// Run blocks, purging on every tick until the context is canceled. Purge
// failures are logged and retried on the next tick.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := j.purger.PurgeTerminal(ctx, j.maxAge)
			if err != nil {
				j.logger.Warn("purge terminal analyses", zap.Error(err))
				continue
			}
			if removed > 0 {
				j.logger.Info("purged terminal analyses", zap.Int("removed", removed))
			}
		}
	}
}
