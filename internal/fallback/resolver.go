// Package fallback implements ordered strategy chains for capabilities with
// degraded alternatives.
package fallback

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Dean-Rough/xray2/internal/metrics"
)

// Strategy is one option in a capability chain. Attempt either produces a
// result or raises; a degraded-but-valid result never advances the chain.
type Strategy[T any] struct {
	Name    string
	Attempt func(ctx context.Context) (T, error)
}

// Resolve tries each strategy in order, advancing only when the current one
// returns an error. It reports which option satisfied the request, and fails
// only when every option has failed.
func Resolve[T any](ctx context.Context, capability string, logger *zap.Logger, strategies ...Strategy[T]) (T, string, error) {
	var (
		zero    T
		lastErr error
	)
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(strategies) == 0 {
		return zero, "", fmt.Errorf("%s: no strategies configured", capability)
	}
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, "", fmt.Errorf("%s canceled: %w", capability, err)
		}
		result, err := s.Attempt(ctx)
		if err == nil {
			metrics.ObserveFallback(capability, s.Name)
			logger.Debug("capability satisfied",
				zap.String("capability", capability),
				zap.String("option", s.Name),
			)
			return result, s.Name, nil
		}
		lastErr = err
		logger.Warn("capability option failed",
			zap.String("capability", capability),
			zap.String("option", s.Name),
			zap.Error(err),
		)
	}
	return zero, "", fmt.Errorf("%s: all options failed: %w", capability, lastErr)
}
