package analysis

import (
	"context"
	"time"
)

// Store persists analysis checkpoints.
type Store interface {
	Create(ctx context.Context, a Analysis) error
	Get(ctx context.Context, id string) (Analysis, error)
	// SetStatus writes a status transition plus the partial result as a
	// single atomic checkpoint. A nil result leaves the stored result
	// untouched.
	SetStatus(ctx context.Context, id string, status Status, result *Result, errText string, processingTime float64) (Analysis, error)
	ListByStatus(ctx context.Context, statuses []Status) ([]Analysis, error)
	Delete(ctx context.Context, id string) error
}

// MapOptions tunes crawl-provider site mapping.
type MapOptions struct {
	MaxDepth      int
	Limit         int
	AllowExternal bool
}

// ScrapeOptions tunes crawl-provider page scraping.
type ScrapeOptions struct {
	Formats []string
	WaitMs  int
	Mobile  bool
}

// ScrapePayload is the raw envelope returned by the crawl provider for one
// page. Screenshot and CSSContents are optional provider enrichments.
type ScrapePayload struct {
	HTML        string            `json:"html"`
	RawHTML     string            `json:"rawHtml,omitempty"`
	Markdown    string            `json:"markdown"`
	Links       []string          `json:"links"`
	Screenshot  []byte            `json:"screenshot,omitempty"`
	CSSContents map[string]string `json:"cssContents,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ExtractOptions tunes structured extraction.
type ExtractOptions struct {
	Prompt string
	Schema map[string]any
}

// CrawlProvider is the external mapping/scraping service. No call is assumed
// idempotent; all calls may fail with a generic provider error.
type CrawlProvider interface {
	MapSite(ctx context.Context, url string, opts MapOptions) ([]string, error)
	ScrapePage(ctx context.Context, url string, opts ScrapeOptions) (ScrapePayload, error)
	// BatchScrape returns one payload per requested URL. Callers must not
	// trust positional alignment unless len(result) == len(urls).
	BatchScrape(ctx context.Context, urls []string, opts ScrapeOptions) ([]ScrapePayload, error)
	ExtractStructured(ctx context.Context, urls []string, opts ExtractOptions) (StructuredData, error)
}

// ScreenshotCapturer takes a full-page screenshot. It never returns an
// error: nil bytes mean capture failed and the screenshot is simply absent.
type ScreenshotCapturer interface {
	Capture(ctx context.Context, url string) []byte
}

// AuditRunner executes the external performance-audit tool.
type AuditRunner interface {
	Audit(ctx context.Context, url string) (Performance, error)
}

// Assembler builds the downloadable package from the final result tuple.
type Assembler interface {
	Assemble(ctx context.Context, a Analysis) (PackageDescriptor, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes stage-transition events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces analysis IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
