package content

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dean-Rough/xray2/internal/analysis"
)

type fakeFetcher struct {
	assets map[string][]byte
	calls  []string
}

func (f *fakeFetcher) FetchAsset(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if body, ok := f.assets[url]; ok {
		return body, nil
	}
	return nil, errors.New("asset unavailable")
}

const pageHTML = `<html>
<head>
  <title>Studio</title>
  <meta name="description" content="A studio site">
  <meta property="og:image" content="https://example.com/og.png">
  <link rel="stylesheet" href="/main.css">
  <link rel="stylesheet" href="data:text/css;base64,Ym9keXt9">
</head>
<body>
  <script src="/app.js"></script>
  <img src="/hero.jpg">
  <img src="cid:inline-attachment">
</body>
</html>`

func TestProcessInventoriesAssets(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{assets: map[string][]byte{
		"https://example.com/main.css": []byte("body { margin: 0 }"),
	}}
	p := NewProcessor(fetcher, nil)

	pc := p.Process(context.Background(), "https://example.com/",
		analysis.ScrapePayload{HTML: pageHTML, Markdown: "# Studio"}, "provider")
	require.NotNil(t, pc)
	assert.Equal(t, "provider", pc.Source)
	assert.Equal(t, "# Studio", pc.Markdown)

	byURL := map[string]analysis.Asset{}
	for _, a := range pc.Assets {
		byURL[a.URL] = a
	}

	css := byURL["https://example.com/main.css"]
	assert.Equal(t, "css", css.Type)
	assert.Equal(t, "body { margin: 0 }", css.Content)
	assert.Equal(t, "body { margin: 0 }", pc.CSSContents["https://example.com/main.css"])

	// Inline data: stylesheets are recorded but never fetched.
	dataCSS := byURL["data:text/css;base64,Ym9keXt9"]
	assert.Contains(t, dataCSS.Error, "unsupported scheme")
	assert.NotContains(t, fetcher.calls, "data:text/css;base64,Ym9keXt9")

	js := byURL["https://example.com/app.js"]
	assert.Equal(t, "js", js.Type)

	img := byURL["https://example.com/hero.jpg"]
	assert.Equal(t, "image", img.Type)

	cid := byURL["cid:inline-attachment"]
	assert.Contains(t, cid.Error, "unsupported scheme")
}

func TestProcessPrefersProviderCSS(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	p := NewProcessor(fetcher, nil)
	payload := analysis.ScrapePayload{
		HTML: `<html><head><link rel="stylesheet" href="https://example.com/a.css"></head></html>`,
		CSSContents: map[string]string{
			"https://example.com/a.css": ".inlined {}",
		},
	}
	pc := p.Process(context.Background(), "https://example.com/", payload, "batch")
	require.Len(t, pc.Assets, 1)
	assert.Equal(t, ".inlined {}", pc.Assets[0].Content)
	assert.Empty(t, fetcher.calls, "provider-inlined CSS must not be refetched")
}

func TestProcessRecordsFetchFailure(t *testing.T) {
	t.Parallel()

	p := NewProcessor(&fakeFetcher{}, nil)
	payload := analysis.ScrapePayload{
		HTML: `<html><head><link rel="stylesheet" href="/missing.css"></head></html>`,
	}
	pc := p.Process(context.Background(), "https://example.com/", payload, "http")
	require.Len(t, pc.Assets, 1)
	assert.Contains(t, pc.Assets[0].Error, "asset unavailable")
	assert.Empty(t, pc.Assets[0].Content)
}

func TestProcessExtractsMetadataWhenMissing(t *testing.T) {
	t.Parallel()

	p := NewProcessor(nil, nil)
	pc := p.Process(context.Background(), "https://example.com/",
		analysis.ScrapePayload{HTML: pageHTML}, "http")
	require.NotNil(t, pc.Metadata)
	assert.Equal(t, "Studio", pc.Metadata["title"])
	assert.Equal(t, "A studio site", pc.Metadata["description"])
	assert.Equal(t, "https://example.com/og.png", pc.Metadata["og:image"])
}

func TestProcessKeepsProviderMetadata(t *testing.T) {
	t.Parallel()

	p := NewProcessor(nil, nil)
	pc := p.Process(context.Background(), "https://example.com/",
		analysis.ScrapePayload{
			HTML:     pageHTML,
			Metadata: map[string]string{"title": "From provider"},
		}, "provider")
	assert.Equal(t, "From provider", pc.Metadata["title"])
}

func TestProcessFallsBackToRawHTML(t *testing.T) {
	t.Parallel()

	p := NewProcessor(nil, nil)
	pc := p.Process(context.Background(), "https://example.com/",
		analysis.ScrapePayload{RawHTML: "<html><body>raw</body></html>"}, "provider")
	assert.Contains(t, pc.HTML, "raw")
}
