// Package audit runs the Lighthouse CLI and parses its JSON report.
package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Dean-Rough/xray2/internal/analysis"
)

// Config controls audit execution.
type Config struct {
	// Binary is the lighthouse executable name or path.
	Binary  string
	Timeout time.Duration
	// ChromeFlags are passed through to the headless Chrome Lighthouse spawns.
	ChromeFlags []string
}

// Runner implements analysis.AuditRunner by shelling out to the Lighthouse
// CLI with JSON output.
type Runner struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Runner.
func New(cfg Config, logger *zap.Logger) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "lighthouse"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if len(cfg.ChromeFlags) == 0 {
		cfg.ChromeFlags = []string{"--headless", "--no-sandbox", "--disable-gpu"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Audit runs lighthouse against url and returns category scores plus core
// web-vital metrics.
func (r *Runner) Audit(ctx context.Context, url string) (analysis.Performance, error) {
	report, err := r.run(ctx, url)
	if err != nil {
		return analysis.Performance{}, err
	}
	return report.performance(), nil
}

// AuditRaw runs lighthouse and returns the parsed report so callers can mine
// auxiliary audits, such as the full-page screenshot.
func (r *Runner) AuditRaw(ctx context.Context, url string) (*Report, error) {
	return r.run(ctx, url)
}

func (r *Runner) run(ctx context.Context, url string) (*Report, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "audit-*")
	if err != nil {
		return nil, fmt.Errorf("create audit temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			r.logger.Warn("remove audit temp dir", zap.Error(rmErr))
		}
	}()
	outPath := filepath.Join(dir, "report.json")

	args := []string{
		url,
		"--output=json",
		"--output-path=" + outPath,
		"--quiet",
		"--chrome-flags=" + strings.Join(r.cfg.ChromeFlags, " "),
		"--only-categories=performance,accessibility,seo,best-practices",
	}
	cmd := exec.CommandContext(runCtx, r.cfg.Binary, args...)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("audit timed out after %s: %w", r.cfg.Timeout, runCtx.Err())
		}
		return nil, fmt.Errorf("audit tool failed: %w: %s", err, truncate(output))
	}
	r.logger.Debug("audit completed",
		zap.String("url", url),
		zap.Duration("elapsed", time.Since(start)),
	)

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read audit report: %w", err)
	}
	return ParseReport(data)
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// Report is the subset of the Lighthouse JSON output this service consumes.
type Report struct {
	Categories map[string]reportCategory `json:"categories"`
	Audits     map[string]reportAudit    `json:"audits"`
}

type reportCategory struct {
	Score *float64 `json:"score"`
}

type reportAudit struct {
	Score        *float64        `json:"score"`
	NumericValue float64         `json:"numericValue"`
	Details      json.RawMessage `json:"details"`
}

// ParseReport decodes a raw Lighthouse JSON report.
func ParseReport(data []byte) (*Report, error) {
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("parse audit report: %w", err)
	}
	if len(rep.Categories) == 0 {
		return nil, fmt.Errorf("audit report has no categories")
	}
	return &rep, nil
}

// coreMetrics are the audits surfaced under the performance category.
var coreMetrics = []string{
	"first-contentful-paint",
	"largest-contentful-paint",
	"total-blocking-time",
	"cumulative-layout-shift",
	"speed-index",
}

func (r *Report) performance() analysis.Performance {
	perf := analysis.Performance{
		Performance:   r.category("performance"),
		Accessibility: r.category("accessibility"),
		SEO:           r.category("seo"),
		BestPractices: r.category("best-practices"),
	}
	metrics := make(map[string]analysis.MetricDetails)
	for _, key := range coreMetrics {
		audit, ok := r.Audits[key]
		if !ok {
			continue
		}
		md := analysis.MetricDetails{Value: audit.NumericValue}
		if audit.Score != nil {
			md.Score = *audit.Score
		}
		metrics[key] = md
	}
	if len(metrics) > 0 {
		perf.Performance.Metrics = metrics
	}
	return perf
}

func (r *Report) category(name string) analysis.CategoryScore {
	cat, ok := r.Categories[name]
	if !ok || cat.Score == nil {
		return analysis.CategoryScore{}
	}
	return analysis.CategoryScore{Score: *cat.Score}
}

// screenshotAudits are checked in order; the first decodable image wins.
var screenshotAudits = []string{"full-page-screenshot", "final-screenshot", "screenshot-thumbnails"}

// ExtractScreenshot pulls a rendered screenshot out of the report's auxiliary
// audits. Returns nil when no audit carries a usable image.
func (r *Report) ExtractScreenshot() []byte {
	for _, key := range screenshotAudits {
		audit, ok := r.Audits[key]
		if !ok || len(audit.Details) == 0 {
			continue
		}
		if img := decodeScreenshotDetails(audit.Details); img != nil {
			return img
		}
	}
	return nil
}

// screenshotDetails matches the shapes Lighthouse uses across its screenshot
// audits: a nested screenshot object, a bare data field, or a thumbnail list.
type screenshotDetails struct {
	Screenshot *struct {
		Data string `json:"data"`
	} `json:"screenshot"`
	Data  string `json:"data"`
	Items []struct {
		Data string `json:"data"`
	} `json:"items"`
}

func decodeScreenshotDetails(raw json.RawMessage) []byte {
	var det screenshotDetails
	if err := json.Unmarshal(raw, &det); err != nil {
		return nil
	}
	candidates := []string{det.Data}
	if det.Screenshot != nil {
		candidates = append(candidates, det.Screenshot.Data)
	}
	if n := len(det.Items); n > 0 {
		// The last thumbnail is the most complete render.
		candidates = append(candidates, det.Items[n-1].Data)
	}
	for _, c := range candidates {
		if img := decodeDataURI(c); img != nil {
			return img
		}
	}
	return nil
}

func decodeDataURI(s string) []byte {
	if s == "" {
		return nil
	}
	if idx := strings.Index(s, "base64,"); idx >= 0 {
		s = s[idx+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return raw
}
