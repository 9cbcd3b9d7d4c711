// Package content turns raw scrape payloads into stored page content,
// inventorying referenced assets and inlining stylesheets.
package content

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/Dean-Rough/xray2/internal/analysis"
)

// AssetFetcher retrieves a linked resource's bytes.
type AssetFetcher interface {
	FetchAsset(ctx context.Context, url string) ([]byte, error)
}

// Processor converts provider payloads to page content.
type Processor struct {
	fetcher AssetFetcher
	logger  *zap.Logger
	// MaxCSSAssets bounds how many stylesheets get fetched per page when the
	// provider did not inline them.
	MaxCSSAssets int
}

// NewProcessor builds a Processor. fetcher may be nil, in which case external
// stylesheets are inventoried but not fetched.
func NewProcessor(fetcher AssetFetcher, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{fetcher: fetcher, logger: logger, MaxCSSAssets: 10}
}

// Process builds a PageContent for pageURL from the given payload. The source
// label records which fetch path produced the payload.
func (p *Processor) Process(ctx context.Context, pageURL string, payload analysis.ScrapePayload, source string) *analysis.PageContent {
	html := payload.HTML
	if html == "" {
		html = payload.RawHTML
	}
	pc := &analysis.PageContent{
		HTML:        html,
		Markdown:    payload.Markdown,
		Links:       payload.Links,
		CSSContents: payload.CSSContents,
		Screenshot:  payload.Screenshot,
		Metadata:    payload.Metadata,
		Source:      source,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		p.logger.Warn("parse page html", zap.String("url", pageURL), zap.Error(err))
		return pc
	}

	if pc.Metadata == nil {
		pc.Metadata = extractMetadata(doc)
	}
	pc.Assets = p.inventoryAssets(ctx, pageURL, doc, pc)
	return pc
}

// inventoryAssets lists stylesheets, scripts, and images referenced by the
// page. Stylesheets without provider-inlined content get fetched so the
// rebuild package carries real CSS.
func (p *Processor) inventoryAssets(ctx context.Context, pageURL string, doc *goquery.Document, pc *analysis.PageContent) []analysis.Asset {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var assets []analysis.Asset
	seen := make(map[string]struct{})
	cssFetched := 0

	doc.Find(`link[rel="stylesheet"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		abs, skip := resolveAssetURL(base, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}

		asset := analysis.Asset{URL: abs, Type: "css"}
		switch {
		case skip != "":
			asset.Error = skip
		case pc.CSSContents != nil && pc.CSSContents[abs] != "":
			asset.Content = pc.CSSContents[abs]
		case p.fetcher != nil && cssFetched < p.MaxCSSAssets:
			cssFetched++
			body, fetchErr := p.fetcher.FetchAsset(ctx, abs)
			if fetchErr != nil {
				p.logger.Debug("fetch stylesheet failed",
					zap.String("page", pageURL),
					zap.String("asset", abs),
					zap.Error(fetchErr),
				)
				asset.Error = fetchErr.Error()
			} else {
				asset.Content = string(body)
				if pc.CSSContents == nil {
					pc.CSSContents = make(map[string]string)
				}
				pc.CSSContents[abs] = asset.Content
			}
		}
		assets = append(assets, asset)
	})

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			return
		}
		abs, skip := resolveAssetURL(base, src)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		assets = append(assets, analysis.Asset{URL: abs, Type: "js", Error: skip})
	})

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			return
		}
		abs, skip := resolveAssetURL(base, src)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		assets = append(assets, analysis.Asset{URL: abs, Type: "image", Error: skip})
	})

	return assets
}

// resolveAssetURL resolves ref against base. Non-fetchable schemes (inline
// data, mail attachments, script pseudo-URLs) keep their original reference
// but carry a skip reason so they are recorded rather than fetched.
func resolveAssetURL(base *url.URL, ref string) (abs string, skipReason string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ""
	}
	lower := strings.ToLower(ref)
	for _, scheme := range []string{"data:", "cid:", "blob:", "javascript:"} {
		if strings.HasPrefix(lower, scheme) {
			return ref, "unsupported scheme " + strings.TrimSuffix(scheme, ":")
		}
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", ""
	}
	return base.ResolveReference(parsed).String(), ""
}

func extractMetadata(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	doc.Find("meta[name][content]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		content, _ := s.Attr("content")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || content == "" {
			return
		}
		switch name {
		case "description", "keywords", "author", "viewport", "generator":
			meta[name] = content
		}
	})
	doc.Find(`meta[property^="og:"][content]`).Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, _ := s.Attr("content")
		if prop != "" && content != "" {
			meta[prop] = content
		}
	})
	if len(meta) == 0 {
		return nil
	}
	return meta
}
