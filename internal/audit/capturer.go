package audit

import (
	"context"

	"go.uber.org/zap"
)

// Capturer adapts a Runner into a screenshot source: it runs a full audit and
// mines the report for a rendered screenshot. Expensive, so it belongs at the
// end of a capture chain.
type Capturer struct {
	runner *Runner
	logger *zap.Logger
}

// NewCapturer wraps runner as a screenshot capturer.
func NewCapturer(runner *Runner, logger *zap.Logger) *Capturer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{runner: runner, logger: logger}
}

// Capture returns the audit report's rendered screenshot, or nil when the
// audit fails or carries no usable image.
func (c *Capturer) Capture(ctx context.Context, url string) []byte {
	report, err := c.runner.AuditRaw(ctx, url)
	if err != nil {
		c.logger.Debug("audit screenshot unavailable", zap.String("url", url), zap.Error(err))
		return nil
	}
	return report.ExtractScreenshot()
}
