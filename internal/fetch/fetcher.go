// Package fetch implements the direct-HTTP fallback scraper using gocolly.
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/Dean-Rough/xray2/internal/analysis"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher grabs raw page HTML and asset contents when the crawl provider is
// unavailable. It synthesizes a crude markdown rendition so downstream
// consumers always have both formats.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// FetchPage fetches url and synthesizes a minimal scrape payload: the raw
// HTML, a title-derived markdown stub, and a self link list.
func (f *Fetcher) FetchPage(ctx context.Context, url string) (analysis.ScrapePayload, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return analysis.ScrapePayload{}, err
	}
	html := string(body)
	title := extractTitle(html)
	return analysis.ScrapePayload{
		HTML:     html,
		Markdown: fmt.Sprintf("# %s\n\nContent scraped from %s\n\n[Original URL](%s)\n", title, url, url),
		Links:    []string{url},
		Metadata: map[string]string{"title": title},
	}, nil
}

// FetchAsset retrieves a linked resource such as a stylesheet. It tolerates
// odd content types; callers decide what to do with the bytes.
func (f *Fetcher) FetchAsset(ctx context.Context, url string) ([]byte, error) {
	return f.get(ctx, url)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			fetchErr = fmt.Errorf("http %d fetching %s", r.StatusCode, url)
			return
		}
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		return body, nil
	}
}

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func extractTitle(html string) string {
	m := titlePattern.FindStringSubmatch(html)
	if m == nil {
		return "Untitled"
	}
	title := strings.TrimSpace(m[1])
	if title == "" {
		return "Untitled"
	}
	return title
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
