// Package pipeline orchestrates the analysis lifecycle: map the site, scrape
// the selected pages, process the results, and assemble the downloadable
// package, checkpointing each stage so a failed run can resume mid-flight.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dean-Rough/xray2/internal/analysis"
	"github.com/Dean-Rough/xray2/internal/content"
	"github.com/Dean-Rough/xray2/internal/fallback"
	"github.com/Dean-Rough/xray2/internal/metrics"
	"github.com/Dean-Rough/xray2/internal/selection"
)

// PageFetcher is the direct-HTTP fallback used when the crawl provider cannot
// serve a page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (analysis.ScrapePayload, error)
}

// Config tunes pipeline behavior.
type Config struct {
	// ScrapeFormats are the formats requested from the crawl provider.
	ScrapeFormats []string
	ScrapeWaitMs  int
	// MapLimit caps how many URLs the provider returns per map call.
	MapLimit int
	// ScreenshotConcurrency bounds concurrent captures per analysis.
	ScreenshotConcurrency int
	// EventTopic receives a StageEvent on every checkpoint write.
	EventTopic string
	// ExtractPrompt steers structured extraction.
	ExtractPrompt string
	ExtractSchema map[string]any
}

func (c Config) withDefaults() Config {
	if len(c.ScrapeFormats) == 0 {
		c.ScrapeFormats = []string{"html", "rawHtml", "markdown", "links"}
	}
	if c.MapLimit <= 0 {
		c.MapLimit = 100
	}
	if c.ScreenshotConcurrency <= 0 {
		c.ScreenshotConcurrency = 3
	}
	if c.EventTopic == "" {
		c.EventTopic = "analysis-events"
	}
	if c.ExtractPrompt == "" {
		c.ExtractPrompt = "Describe the technologies, design patterns, key features, color palette, and font families of this website."
	}
	return c
}

// Deps carries the runner's collaborators. Provider, Store, Assembler, Clock,
// and IDs are required; the rest degrade gracefully when nil.
type Deps struct {
	Store     analysis.Store
	Provider  analysis.CrawlProvider
	Fetcher   PageFetcher
	Shots     []analysis.ScreenshotCapturer
	Auditor   analysis.AuditRunner
	Assembler analysis.Assembler
	Processor *content.Processor
	Policy    *selection.Policy
	Publisher analysis.Publisher
	Clock     analysis.Clock
	IDs       analysis.IDGenerator
	Logger    *zap.Logger
}

// Runner executes the analysis pipeline. One Runner serves all analyses; a
// per-ID single-flight guard prevents concurrent runs of the same analysis.
type Runner struct {
	cfg  Config
	deps Deps

	inFlight sync.Map
}

// NewRunner validates deps and builds a Runner.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("crawl provider is required")
	}
	if deps.Assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Processor == nil {
		deps.Processor = content.NewProcessor(nil, deps.Logger)
	}
	if deps.Policy == nil {
		deps.Policy = selection.New(selection.Config{})
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{cfg: cfg.withDefaults(), deps: deps}, nil
}

// Running reports whether the analysis is currently executing in this
// process.
func (r *Runner) Running(id string) bool {
	_, ok := r.inFlight.Load(id)
	return ok
}

// Create registers a new PENDING analysis for rawURL. It does not start the
// pipeline; callers invoke Run (typically in a goroutine) afterwards.
func (r *Runner) Create(ctx context.Context, rawURL string, opts analysis.Options) (analysis.Analysis, error) {
	normalized, err := analysis.NormalizeURL(rawURL)
	if err != nil {
		return analysis.Analysis{}, fmt.Errorf("invalid url: %w", err)
	}
	id, err := r.deps.IDs.NewID()
	if err != nil {
		return analysis.Analysis{}, fmt.Errorf("generate id: %w", err)
	}
	now := r.deps.Clock.Now().UTC()
	a := analysis.Analysis{
		ID:        id,
		URL:       normalized,
		Status:    analysis.StatusPending,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.deps.Store.Create(ctx, a); err != nil {
		return analysis.Analysis{}, fmt.Errorf("create analysis: %w", err)
	}
	r.deps.Logger.Info("analysis created",
		zap.String("analysis_id", id),
		zap.String("url", normalized),
	)
	return a, nil
}

// Run executes the pipeline for an existing analysis from its current
// checkpoint. Completed stages (judged by the persisted result fields) are
// skipped, so the same entry point serves fresh runs and resumes.
func (r *Runner) Run(ctx context.Context, id string) (analysis.Analysis, error) {
	if _, loaded := r.inFlight.LoadOrStore(id, struct{}{}); loaded {
		return analysis.Analysis{}, analysis.ErrAlreadyRunning
	}
	defer r.inFlight.Delete(id)

	a, err := r.deps.Store.Get(ctx, id)
	if err != nil {
		return analysis.Analysis{}, err
	}
	if a.Status == analysis.StatusCompleted {
		return analysis.Analysis{}, analysis.ErrAlreadyCompleted
	}

	metrics.IncActiveAnalyses()
	defer metrics.DecActiveAnalyses()
	start := r.deps.Clock.Now()
	logger := r.deps.Logger.With(zap.String("analysis_id", a.ID), zap.String("url", a.URL))

	// A fresh or failed analysis re-enters at MAPPING; one interrupted
	// mid-flight picks up at its checkpointed stage.
	if a.Status == analysis.StatusPending || a.Status == analysis.StatusFailed {
		a, err = r.checkpoint(ctx, a.ID, analysis.StatusMapping, nil, "", 0)
		if err != nil {
			return analysis.Analysis{}, err
		}
	}

	stages := []struct {
		status analysis.Status
		label  string
		run    func(context.Context, analysis.Analysis, time.Time, *zap.Logger) (analysis.Analysis, error)
	}{
		{analysis.StatusMapping, "mapping", r.stageMapping},
		{analysis.StatusScraping, "scraping", r.stageScraping},
		{analysis.StatusProcessing, "processing", r.stageProcessing},
	}
	for _, stage := range stages {
		if a.Status != stage.status {
			continue
		}
		stageStart := time.Now()
		a, err = stage.run(ctx, a, start, logger)
		metrics.ObserveStage(stage.label, time.Since(stageStart))
		if err != nil {
			return analysis.Analysis{}, r.fail(ctx, a, stage.label, start, err, logger)
		}
		logger.Info("stage completed",
			zap.String("stage", stage.label),
			zap.Duration("elapsed", time.Since(stageStart)),
		)
	}

	metrics.ObserveAnalysis(string(analysis.StatusCompleted))
	logger.Info("analysis completed",
		zap.Float64("processing_time", a.ProcessingTime),
	)
	return a, nil
}

// Resume re-enters a failed or interrupted analysis. Validation failures are
// reported with a "Resume failed: " prefix so callers can tell a rejected
// resume from a pipeline failure.
func (r *Runner) Resume(ctx context.Context, id string) (analysis.Analysis, error) {
	a, err := r.deps.Store.Get(ctx, id)
	if err != nil {
		return analysis.Analysis{}, fmt.Errorf("Resume failed: %w", err)
	}
	if !a.Status.Resumable() {
		return analysis.Analysis{}, fmt.Errorf("Resume failed: %w", analysis.ErrAlreadyCompleted)
	}
	r.deps.Logger.Info("resuming analysis",
		zap.String("analysis_id", id),
		zap.String("status", string(a.Status)),
	)
	a, err = r.Run(ctx, id)
	if err != nil {
		return analysis.Analysis{}, fmt.Errorf("Resume failed: %w", err)
	}
	return a, nil
}

// stageMapping discovers the site's pages and checkpoints the site map. When
// a previous attempt already produced one, the discovery call is skipped and
// the analysis moves straight to SCRAPING.
func (r *Runner) stageMapping(ctx context.Context, a analysis.Analysis, _ time.Time, logger *zap.Logger) (analysis.Analysis, error) {
	result := a.Result
	if result.SiteMap == nil {
		mapOpts := analysis.MapOptions{Limit: r.cfg.MapLimit}
		if !a.Options.FullSite {
			mapOpts.MaxDepth = 2
		}
		pages, winner, err := fallback.Resolve(ctx, "site map", logger,
			fallback.Strategy[[]string]{
				Name: "provider",
				Attempt: func(ctx context.Context) ([]string, error) {
					return r.deps.Provider.MapSite(ctx, a.URL, mapOpts)
				},
			},
			fallback.Strategy[[]string]{
				Name: "single-url",
				Attempt: func(_ context.Context) ([]string, error) {
					return []string{a.URL}, nil
				},
			},
		)
		if err != nil {
			return a, err
		}
		if len(pages) == 0 {
			pages = []string{a.URL}
		}
		logger.Info("site mapped",
			zap.Int("pages", len(pages)),
			zap.String("via", winner),
		)
		result.SiteMap = analysis.BuildSiteMap(pages, r.deps.Clock.Now().UTC())
	}
	return r.checkpoint(ctx, a.ID, analysis.StatusScraping, &result, "", 0)
}

// stageScraping scrapes the budgeted page selection, preferring one batch
// call and degrading to per-page fetches. Pages already present in the
// checkpointed result are not re-scraped.
func (r *Runner) stageScraping(ctx context.Context, a analysis.Analysis, _ time.Time, logger *zap.Logger) (analysis.Analysis, error) {
	result := a.Result
	if result.SiteMap == nil {
		return a, fmt.Errorf("scraping stage reached without a site map")
	}
	sel := r.deps.Policy.Select(a.URL, result.SiteMap.Pages, r.homepageNavLinks(ctx, a.URL))
	scrapeSet := sel.ScrapeSet()
	if a.Options.MaxPages > 0 && len(scrapeSet) > a.Options.MaxPages {
		scrapeSet = scrapeSet[:a.Options.MaxPages]
	}

	if result.Content == nil {
		result.Content = make(map[string]*analysis.PageContent, len(scrapeSet))
	}
	var missing []string
	for _, page := range scrapeSet {
		if result.Content[page] == nil {
			missing = append(missing, page)
		}
	}
	logger.Info("scrape plan ready",
		zap.Int("selected", len(scrapeSet)),
		zap.Int("missing", len(missing)),
		zap.Int("navigation", len(sel.MainNavigation)),
		zap.Int("key_pages", len(sel.KeyPages)),
	)

	scrapeOpts := analysis.ScrapeOptions{Formats: r.cfg.ScrapeFormats, WaitMs: r.cfg.ScrapeWaitMs}

	var captures map[string]<-chan []byte
	if a.Options.IncludeScreenshots {
		var wanted []string
		for _, page := range scrapeSet {
			if pc := result.Content[page]; pc == nil || len(pc.Screenshot) == 0 {
				wanted = append(wanted, page)
			}
		}
		captures = r.startCaptures(ctx, wanted, logger)
	}

	remaining := r.scrapeBatch(ctx, missing, scrapeOpts, result.Content, logger)
	for _, page := range remaining {
		payload, winner, err := r.scrapeOne(ctx, page, scrapeOpts, logger)
		if err != nil {
			return a, fmt.Errorf("scrape %s: %w", page, err)
		}
		result.Content[page] = r.deps.Processor.Process(ctx, page, payload, winner)
		metrics.ObservePageScraped(winner)
	}

	joinCaptures(captures, result.Content)
	return r.checkpoint(ctx, a.ID, analysis.StatusProcessing, &result, "", 0)
}

// scrapeBatch tries one provider batch call for all pages. The provider's
// result array is only trusted when its length matches the request; on any
// mismatch or error every page is handed back for per-page scraping.
func (r *Runner) scrapeBatch(ctx context.Context, pages []string, opts analysis.ScrapeOptions, out map[string]*analysis.PageContent, logger *zap.Logger) []string {
	if len(pages) < 2 {
		return pages
	}
	payloads, err := r.deps.Provider.BatchScrape(ctx, pages, opts)
	if err != nil {
		logger.Warn("batch scrape failed, degrading to per-page", zap.Error(err))
		return pages
	}
	if len(payloads) != len(pages) {
		logger.Warn("batch scrape result misaligned, degrading to per-page",
			zap.Int("requested", len(pages)),
			zap.Int("returned", len(payloads)),
		)
		return pages
	}
	for i, page := range pages {
		out[page] = r.deps.Processor.Process(ctx, page, payloads[i], "batch")
		metrics.ObservePageScraped("batch")
	}
	return nil
}

// scrapeOne runs the per-page capability chain: provider scrape, then direct
// HTTP fetch.
func (r *Runner) scrapeOne(ctx context.Context, page string, opts analysis.ScrapeOptions, logger *zap.Logger) (analysis.ScrapePayload, string, error) {
	strategies := []fallback.Strategy[analysis.ScrapePayload]{
		{
			Name: "provider",
			Attempt: func(ctx context.Context) (analysis.ScrapePayload, error) {
				return r.deps.Provider.ScrapePage(ctx, page, opts)
			},
		},
	}
	if r.deps.Fetcher != nil {
		strategies = append(strategies, fallback.Strategy[analysis.ScrapePayload]{
			Name: "http",
			Attempt: func(ctx context.Context) (analysis.ScrapePayload, error) {
				return r.deps.Fetcher.FetchPage(ctx, page)
			},
		})
	}
	return fallback.Resolve(ctx, "page scrape", logger, strategies...)
}

// startCaptures launches one screenshot capture per page so captures run
// alongside the scrape of the same pages. Capturers are tried in order; a
// capture that exhausts the chain delivers nil. Each channel is buffered so
// a capture outliving an aborted scrape cannot leak its goroutine.
func (r *Runner) startCaptures(ctx context.Context, pages []string, logger *zap.Logger) map[string]<-chan []byte {
	if len(r.deps.Shots) == 0 || len(pages) == 0 {
		return nil
	}
	sem := make(chan struct{}, r.cfg.ScreenshotConcurrency)
	captures := make(map[string]<-chan []byte, len(pages))
	for _, page := range pages {
		ch := make(chan []byte, 1)
		captures[page] = ch
		go func(page string, ch chan<- []byte) {
			sem <- struct{}{}
			defer func() { <-sem }()
			for _, capturer := range r.deps.Shots {
				if img := capturer.Capture(ctx, page); len(img) > 0 {
					ch <- img
					return
				}
			}
			logger.Debug("screenshot unavailable", zap.String("page", page))
			ch <- nil
		}(page, ch)
	}
	return captures
}

// joinCaptures waits for each page's capture and merges it into the scraped
// content. A screenshot carried by the scrape payload itself wins over the
// capture; capture failure leaves the screenshot absent, never failing the
// stage.
func joinCaptures(captures map[string]<-chan []byte, content map[string]*analysis.PageContent) {
	for page, ch := range captures {
		img := <-ch
		pc := content[page]
		if pc == nil || len(pc.Screenshot) > 0 || len(img) == 0 {
			continue
		}
		pc.Screenshot = img
	}
}

// stageProcessing runs the performance audit and structured extraction, then
// assembles the downloadable package. The audit is best-effort; extraction
// and assembly failures fail the analysis.
func (r *Runner) stageProcessing(ctx context.Context, a analysis.Analysis, started time.Time, logger *zap.Logger) (analysis.Analysis, error) {
	result := a.Result

	if a.Options.IncludeAudit && result.Performance == nil {
		perf := r.runAudit(ctx, a.URL, logger)
		result.Performance = &perf
	}

	if result.Structured == nil {
		pages := make([]string, 0, len(result.Content))
		for page := range result.Content {
			pages = append(pages, page)
		}
		structured, err := r.deps.Provider.ExtractStructured(ctx, pages, analysis.ExtractOptions{
			Prompt: r.cfg.ExtractPrompt,
			Schema: r.cfg.ExtractSchema,
		})
		if err != nil {
			return a, fmt.Errorf("structured extraction: %w", err)
		}
		result.Structured = &structured
	}

	working := a
	working.Result = result
	pkg, err := r.deps.Assembler.Assemble(ctx, working)
	if err != nil {
		return a, fmt.Errorf("assemble package: %w", err)
	}
	result.Package = &pkg

	// Processing time covers only the latest attempt, not prior failed runs.
	elapsed := r.deps.Clock.Now().Sub(started).Seconds()
	return r.checkpoint(ctx, a.ID, analysis.StatusCompleted, &result, "", elapsed)
}

// runAudit executes the audit tool, recording a zero-valued placeholder when
// the tool fails so the package still ships.
func (r *Runner) runAudit(ctx context.Context, url string, logger *zap.Logger) analysis.Performance {
	if r.deps.Auditor == nil {
		return analysis.Performance{}
	}
	perf, err := r.deps.Auditor.Audit(ctx, url)
	if err != nil {
		logger.Warn("performance audit failed, recording placeholder", zap.Error(err))
		return analysis.Performance{}
	}
	return perf
}

// homepageNavLinks fetches the homepage over plain HTTP and extracts its
// navigation links. Best-effort: any failure yields nil and selection falls
// back to pattern classification alone.
func (r *Runner) homepageNavLinks(ctx context.Context, homepage string) []string {
	if r.deps.Fetcher == nil {
		return nil
	}
	payload, err := r.deps.Fetcher.FetchPage(ctx, homepage)
	if err != nil || payload.HTML == "" {
		return nil
	}
	return selection.ExtractNavLinks(payload.HTML, homepage)
}

// checkpoint writes a status transition and publishes the stage event.
func (r *Runner) checkpoint(ctx context.Context, id string, status analysis.Status, result *analysis.Result, errText string, processingTime float64) (analysis.Analysis, error) {
	a, err := r.deps.Store.SetStatus(ctx, id, status, result, errText, processingTime)
	if err != nil {
		return analysis.Analysis{}, fmt.Errorf("checkpoint %s: %w", status, err)
	}
	r.publish(ctx, a)
	return a, nil
}

// fail persists the FAILED checkpoint with a structured error descriptor and
// returns that descriptor. The stored processing time covers only the latest
// attempt.
func (r *Runner) fail(ctx context.Context, a analysis.Analysis, stage string, started time.Time, cause error, logger *zap.Logger) error {
	elapsed := r.deps.Clock.Now().Sub(started).Seconds()
	desc := analysis.NewError(stage+"_failed", a.ID, a.URL, elapsed, r.deps.Clock.Now().UTC(), cause)

	errText := desc.Error()
	if encoded, err := json.Marshal(desc); err == nil {
		errText = string(encoded)
	}
	if _, err := r.deps.Store.SetStatus(ctx, a.ID, analysis.StatusFailed, nil, errText, elapsed); err != nil {
		logger.Error("failed to persist FAILED checkpoint", zap.Error(err))
	} else {
		failed, getErr := r.deps.Store.Get(ctx, a.ID)
		if getErr == nil {
			r.publish(ctx, failed)
		}
	}
	metrics.ObserveAnalysis(string(analysis.StatusFailed))
	logger.Error("analysis failed",
		zap.String("stage", stage),
		zap.Float64("processing_time", elapsed),
		zap.Error(cause),
	)
	return desc
}

// publish emits a stage event. Delivery failures are logged, never surfaced.
func (r *Runner) publish(ctx context.Context, a analysis.Analysis) {
	if r.deps.Publisher == nil {
		return
	}
	event := analysis.StageEvent{
		AnalysisID: a.ID,
		URL:        a.URL,
		Status:     a.Status,
		Error:      a.Error,
		Timestamp:  r.deps.Clock.Now().UTC(),
	}
	if _, err := r.deps.Publisher.Publish(ctx, r.cfg.EventTopic, event); err != nil {
		r.deps.Logger.Warn("publish stage event",
			zap.String("analysis_id", a.ID),
			zap.String("status", string(a.Status)),
			zap.Error(err),
		)
	}
}
