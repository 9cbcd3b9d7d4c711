// Package screenshot captures full-page screenshots with headless Chrome.
package screenshot

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Dean-Rough/xray2/internal/metrics"
)

// Config controls the headless capturer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after body-ready before capturing,
	// giving lazy-loaded content a chance to render.
	SettleDelay time.Duration
	// MinPlausibleBytes guesses at "blank page": captures smaller than this
	// trigger one scroll-and-retry. Best-effort heuristic only.
	MinPlausibleBytes int
}

// Capturer implements analysis.ScreenshotCapturer using chromedp. Capture
// never raises; a failed capture is recorded as absence.
type Capturer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a headless capturer backed by chromedp.
func New(cfg Config, logger *zap.Logger) (*Capturer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 8 * time.Second
	}
	if cfg.MinPlausibleBytes <= 0 {
		cfg.MinPlausibleBytes = 15000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Capturer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (c *Capturer) Close() {
	c.allocCancel()
}

// Capture navigates to url, waits for the page to settle, and returns a
// full-page PNG. Any failure returns nil.
func (c *Capturer) Capture(ctx context.Context, url string) []byte {
	if err := c.acquire(ctx); err != nil {
		return nil
	}
	defer c.release()

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, c.cfg.NavigationTimeout)
	defer cancel()

	go func() {
		// Propagate caller cancellation into the browser context.
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	buf, err := c.navigate(taskCtx, url)
	if err != nil {
		c.logger.Warn("screenshot capture failed", zap.String("url", url), zap.Error(err))
		metrics.ObserveScreenshot("failed")
		return nil
	}

	if len(buf) < c.cfg.MinPlausibleBytes {
		c.logger.Warn("screenshot implausibly small, retrying after scroll",
			zap.String("url", url),
			zap.Int("bytes", len(buf)),
		)
		retry, retryErr := c.scrollRetry(taskCtx)
		if retryErr == nil && len(retry) > len(buf) {
			metrics.ObserveScreenshot("retried")
			return retry
		}
	}
	metrics.ObserveScreenshot("ok")
	return buf
}

func (c *Capturer) navigate(ctx context.Context, url string) ([]byte, error) {
	var buf []byte
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if c.cfg.UserAgent == "" {
				return nil
			}
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
			return nil
		}),
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(c.cfg.SettleDelay),
		waitImagesComplete(10 * time.Second),
		chromedp.FullScreenshot(&buf, 90),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return buf, nil
}

// scrollRetry scrolls the full page to trigger lazy loading, then captures
// again in the same tab.
func (c *Capturer) scrollRetry(ctx context.Context) ([]byte, error) {
	var buf []byte
	actions := []chromedp.Action{
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight); window.scrollTo(0, 0);`, nil),
		chromedp.Sleep(3 * time.Second),
		chromedp.FullScreenshot(&buf, 90),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp retry: %w", err)
	}
	return buf, nil
}

// waitImagesComplete polls until every <img> has finished loading, giving up
// after the deadline rather than failing the capture.
func waitImagesComplete(deadline time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		pollCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		var complete bool
		for {
			if err := chromedp.Evaluate(
				`Array.from(document.images).every(img => img.complete)`,
				&complete,
			).Do(pollCtx); err != nil || complete {
				return nil
			}
			select {
			case <-pollCtx.Done():
				return nil
			case <-time.After(250 * time.Millisecond):
			}
		}
	})
}

func (c *Capturer) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture slot wait canceled: %w", ctx.Err())
	}
}

func (c *Capturer) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}
