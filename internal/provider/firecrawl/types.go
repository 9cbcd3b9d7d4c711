package firecrawl

import (
	"encoding/base64"
	"strings"

	"github.com/Dean-Rough/xray2/internal/analysis"
)

type mapRequest struct {
	URL               string `json:"url"`
	Limit             int    `json:"limit,omitempty"`
	MaxDepth          int    `json:"maxDepth,omitempty"`
	IncludeSubdomains bool   `json:"includeSubdomains"`
}

type mapResponse struct {
	Success bool     `json:"success"`
	Links   []string `json:"links"`
	Error   string   `json:"error,omitempty"`
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats,omitempty"`
	WaitFor int      `json:"waitFor,omitempty"`
	Mobile  bool     `json:"mobile,omitempty"`
}

type scrapeResponse struct {
	Success bool       `json:"success"`
	Data    scrapeData `json:"data"`
	Error   string     `json:"error,omitempty"`
}

type batchScrapeRequest struct {
	URLs    []string `json:"urls"`
	Formats []string `json:"formats,omitempty"`
	WaitFor int      `json:"waitFor,omitempty"`
	Mobile  bool     `json:"mobile,omitempty"`
}

type batchScrapeResponse struct {
	Success bool         `json:"success"`
	Data    []scrapeData `json:"data"`
	Error   string       `json:"error,omitempty"`
}

type extractRequest struct {
	URLs   []string       `json:"urls"`
	Prompt string         `json:"prompt,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
}

type extractResponse struct {
	Success bool                    `json:"success"`
	Data    analysis.StructuredData `json:"data"`
	Error   string                  `json:"error,omitempty"`
}

type scrapeData struct {
	HTML        string            `json:"html"`
	RawHTML     string            `json:"rawHtml"`
	Markdown    string            `json:"markdown"`
	Links       []string          `json:"links"`
	Screenshot  string            `json:"screenshot,omitempty"`
	CSSContents map[string]string `json:"cssContents,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

func (d scrapeData) payload() analysis.ScrapePayload {
	p := analysis.ScrapePayload{
		HTML:        d.HTML,
		RawHTML:     d.RawHTML,
		Markdown:    d.Markdown,
		Links:       d.Links,
		CSSContents: d.CSSContents,
		Screenshot:  decodeScreenshot(d.Screenshot),
	}
	if len(d.Metadata) > 0 {
		p.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			if s, ok := v.(string); ok {
				p.Metadata[k] = s
			}
		}
	}
	return p
}

// decodeScreenshot accepts either a bare base64 string or a data: URI and
// returns raw PNG bytes, or nil when the payload is unusable.
func decodeScreenshot(s string) []byte {
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
