// Package analysis defines core types shared across subsystems.
package analysis

import (
	"time"
)

// Status represents the lifecycle state of a website analysis.
type Status string

// Status values persisted in the checkpoint store.
const (
	StatusPending    Status = "PENDING"
	StatusMapping    Status = "MAPPING"
	StatusScraping   Status = "SCRAPING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Resumable reports whether an analysis in this status may be re-entered.
func (s Status) Resumable() bool {
	return s != StatusCompleted
}

// CanTransition reports whether moving from s to next is a legal edge.
// The lifecycle is strictly forward-moving; FAILED is reachable from any
// non-terminal state, and a resume re-enters at MAPPING.
func (s Status) CanTransition(next Status) bool {
	if next == StatusFailed {
		return !s.Terminal()
	}
	switch s {
	case StatusPending:
		return next == StatusMapping
	case StatusMapping:
		return next == StatusScraping
	case StatusScraping:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted
	case StatusFailed:
		return next == StatusMapping
	default:
		return false
	}
}

// Options captures per-analysis configuration knobs requested by the client.
type Options struct {
	FullSite           bool `json:"full_site" mapstructure:"full_site"`
	IncludeScreenshots bool `json:"include_screenshots" mapstructure:"include_screenshots"`
	IncludeAudit       bool `json:"include_audit" mapstructure:"include_audit"`
	MaxPages           int  `json:"max_pages" mapstructure:"max_pages"`
}

// Analysis represents the metadata persisted for each analysis request.
type Analysis struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Status         Status    `json:"status"`
	Options        Options   `json:"options"`
	Result         Result    `json:"result"`
	Error          string    `json:"error,omitempty"`
	ProcessingTime float64   `json:"processing_time,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Result accumulates stage outputs as the pipeline advances. Each field is
// populated exactly once by its producing stage; a nil field means the stage
// has not completed yet. The set of non-nil fields is determined by Status.
type Result struct {
	SiteMap     *SiteMap                `json:"siteMap,omitempty"`
	Content     map[string]*PageContent `json:"content,omitempty"`
	Performance *Performance            `json:"performance,omitempty"`
	Structured  *StructuredData         `json:"structuredData,omitempty"`
	Package     *PackageDescriptor      `json:"package,omitempty"`
}

// SiteMap is the MAPPING stage output: every discovered URL plus a
// path-segment hierarchy derived from them.
type SiteMap struct {
	Pages      []string       `json:"pages"`
	Structure  map[string]any `json:"structure"`
	TotalPages int            `json:"totalPages"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// PageSelection is the scrape plan derived from a site map. It is ephemeral
// and never persisted.
type PageSelection struct {
	MainNavigation []string
	KeyPages       []string
	AllPages       []string
}

// ScrapeSet returns the deduplicated union of navigation and key pages.
func (s PageSelection) ScrapeSet() []string {
	seen := make(map[string]struct{}, len(s.MainNavigation)+len(s.KeyPages))
	var out []string
	for _, u := range append(append([]string(nil), s.MainNavigation...), s.KeyPages...) {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Asset is one referenced resource discovered in a scraped page.
type Asset struct {
	URL     string `json:"url"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PageContent is the per-URL SCRAPING stage output.
type PageContent struct {
	HTML        string            `json:"html"`
	Markdown    string            `json:"markdown"`
	Links       []string          `json:"links"`
	Assets      []Asset           `json:"assets"`
	CSSContents map[string]string `json:"cssContents,omitempty"`
	Screenshot  []byte            `json:"screenshot,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Source      string            `json:"source,omitempty"`
}

// CategoryScore is one audit category result.
type CategoryScore struct {
	Score   float64                  `json:"score"`
	Metrics map[string]MetricDetails `json:"metrics"`
}

// MetricDetails carries the score and numeric value of a single audit metric.
type MetricDetails struct {
	Score float64 `json:"score"`
	Value float64 `json:"value,omitempty"`
}

// Performance is the processed audit-tool output. A zero-valued Performance
// is the placeholder recorded when the audit tool fails.
type Performance struct {
	Performance   CategoryScore `json:"performance"`
	Accessibility CategoryScore `json:"accessibility"`
	SEO           CategoryScore `json:"seo"`
	BestPractices CategoryScore `json:"bestPractices"`
}

// StructuredData is the LLM-extracted site description.
type StructuredData struct {
	Technologies   []string `json:"technologies"`
	DesignPatterns []string `json:"designPatterns"`
	KeyFeatures    []string `json:"keyFeatures"`
	ColorPalette   []string `json:"colorPalette"`
	FontFamilies   []string `json:"fontFamilies"`
}

// PackageDescriptor describes the assembled downloadable artifact. Its
// presence is what distinguishes a COMPLETED analysis.
type PackageDescriptor struct {
	Name      string            `json:"name"`
	BlobURI   string            `json:"blobUri"`
	SizeBytes int64             `json:"sizeBytes"`
	Manifest  map[string]string `json:"manifest"`
}

// StageEvent is published on every checkpoint write.
type StageEvent struct {
	AnalysisID string    `json:"analysis_id"`
	URL        string    `json:"url"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
