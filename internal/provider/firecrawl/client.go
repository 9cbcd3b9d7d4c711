// Package firecrawl implements the crawl-provider interface against the
// Firecrawl v1 REST API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Dean-Rough/xray2/internal/analysis"
	"github.com/Dean-Rough/xray2/internal/remote"
)

// Config controls the API client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client calls the provider's map/scrape/batch/extract endpoints. Every call
// goes through the shared rate-limited caller, so concurrent analyses share
// one cooldown and one retry policy.
type Client struct {
	cfg    Config
	http   *http.Client
	caller *remote.Caller
	logger *zap.Logger
}

// New builds a Client. An empty BaseURL targets the hosted API.
func New(cfg Config, caller *remote.Caller, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider api key is required")
	}
	if caller == nil {
		return nil, fmt.Errorf("rate-limited caller is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.firecrawl.dev"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		caller: caller,
		logger: logger,
	}, nil
}

// MapSite discovers indexed URLs starting from url.
func (c *Client) MapSite(ctx context.Context, url string, opts analysis.MapOptions) ([]string, error) {
	req := mapRequest{
		URL:               url,
		Limit:             opts.Limit,
		MaxDepth:          opts.MaxDepth,
		IncludeSubdomains: opts.AllowExternal,
	}
	resp, err := remote.Call(ctx, c.caller, "provider map", func(ctx context.Context) (mapResponse, error) {
		var out mapResponse
		if err := c.post(ctx, "/v1/map", req, &out); err != nil {
			return mapResponse{}, err
		}
		if !out.Success {
			return mapResponse{}, fmt.Errorf("provider mapping failed: %s", out.Error)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Links, nil
}

// ScrapePage fetches one page in the requested formats.
func (c *Client) ScrapePage(ctx context.Context, url string, opts analysis.ScrapeOptions) (analysis.ScrapePayload, error) {
	req := scrapeRequest{
		URL:     url,
		Formats: opts.Formats,
		WaitFor: opts.WaitMs,
		Mobile:  opts.Mobile,
	}
	resp, err := remote.Call(ctx, c.caller, "provider scrape", func(ctx context.Context) (scrapeResponse, error) {
		var out scrapeResponse
		if err := c.post(ctx, "/v1/scrape", req, &out); err != nil {
			return scrapeResponse{}, err
		}
		if !out.Success {
			return scrapeResponse{}, fmt.Errorf("provider scraping failed: %s", out.Error)
		}
		return out, nil
	})
	if err != nil {
		return analysis.ScrapePayload{}, err
	}
	return resp.Data.payload(), nil
}

// BatchScrape fetches several pages in one call. The returned slice is the
// provider's raw result array; callers must verify its length against the
// request before trusting positional alignment.
func (c *Client) BatchScrape(ctx context.Context, urls []string, opts analysis.ScrapeOptions) ([]analysis.ScrapePayload, error) {
	req := batchScrapeRequest{
		URLs:    urls,
		Formats: opts.Formats,
		WaitFor: opts.WaitMs,
		Mobile:  opts.Mobile,
	}
	resp, err := remote.Call(ctx, c.caller, "provider batch scrape", func(ctx context.Context) (batchScrapeResponse, error) {
		var out batchScrapeResponse
		if err := c.post(ctx, "/v1/batch/scrape", req, &out); err != nil {
			return batchScrapeResponse{}, err
		}
		if !out.Success {
			return batchScrapeResponse{}, fmt.Errorf("provider batch scraping failed: %s", out.Error)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	payloads := make([]analysis.ScrapePayload, len(resp.Data))
	for i, d := range resp.Data {
		payloads[i] = d.payload()
	}
	return payloads, nil
}

// ExtractStructured runs LLM extraction over the given URLs.
func (c *Client) ExtractStructured(ctx context.Context, urls []string, opts analysis.ExtractOptions) (analysis.StructuredData, error) {
	req := extractRequest{
		URLs:   urls,
		Prompt: opts.Prompt,
		Schema: opts.Schema,
	}
	resp, err := remote.Call(ctx, c.caller, "provider extract", func(ctx context.Context) (extractResponse, error) {
		var out extractResponse
		if err := c.post(ctx, "/v1/extract", req, &out); err != nil {
			return extractResponse{}, err
		}
		if !out.Success {
			return extractResponse{}, fmt.Errorf("provider extraction failed: %s", out.Error)
		}
		return out, nil
	})
	if err != nil {
		return analysis.StructuredData{}, err
	}
	return resp.Data, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close provider response", zap.Error(closeErr))
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncateBody(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

const maxResponseBytes = 64 << 20

func truncateBody(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
