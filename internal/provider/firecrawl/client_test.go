package firecrawl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dean-Rough/xray2/internal/analysis"
	"github.com/Dean-Rough/xray2/internal/remote"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	caller := remote.New(remote.Config{
		MinInterval: time.Millisecond,
		MaxAttempts: 1,
	}, nil)
	c, err := New(Config{APIKey: "test-key", BaseURL: srv.URL}, caller, nil)
	require.NoError(t, err)
	return c
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	caller := remote.New(remote.Config{}, nil)
	_, err := New(Config{}, caller, nil)
	assert.Error(t, err)
	_, err = New(Config{APIKey: "k"}, nil, nil)
	assert.Error(t, err)
}

func TestMapSite(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotReq mapRequest
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/map", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(mapResponse{
			Success: true,
			Links:   []string{"https://a.com/", "https://a.com/about"},
		})
	}))

	links, err := c.MapSite(context.Background(), "https://a.com/", analysis.MapOptions{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.com/", "https://a.com/about"}, links)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "https://a.com/", gotReq.URL)
	assert.Equal(t, 50, gotReq.Limit)
}

func TestMapSiteProviderError(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(mapResponse{Success: false, Error: "quota exceeded"})
	}))
	_, err := c.MapSite(context.Background(), "https://a.com/", analysis.MapOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestScrapePageDecodesScreenshot(t *testing.T) {
	t.Parallel()

	img := []byte{0x89, 'P', 'N', 'G'}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/scrape", r.URL.Path)
		_ = json.NewEncoder(w).Encode(scrapeResponse{
			Success: true,
			Data: scrapeData{
				HTML:       "<html></html>",
				Markdown:   "# Hi",
				Links:      []string{"https://a.com/x"},
				Screenshot: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
				Metadata:   map[string]any{"title": "Hi", "viewport": 1.5},
			},
		})
	}))

	payload, err := c.ScrapePage(context.Background(), "https://a.com/", analysis.ScrapeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", payload.HTML)
	assert.Equal(t, "# Hi", payload.Markdown)
	assert.Equal(t, img, payload.Screenshot)
	// Non-string metadata values are dropped.
	assert.Equal(t, map[string]string{"title": "Hi"}, payload.Metadata)
}

func TestBatchScrapeReturnsRawArray(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/batch/scrape", r.URL.Path)
		// Deliberately shorter than the request: callers length-check.
		_ = json.NewEncoder(w).Encode(batchScrapeResponse{
			Success: true,
			Data:    []scrapeData{{HTML: "<p>one</p>"}},
		})
	}))

	payloads, err := c.BatchScrape(context.Background(),
		[]string{"https://a.com/", "https://a.com/about"}, analysis.ScrapeOptions{})
	require.NoError(t, err)
	assert.Len(t, payloads, 1)
}

func TestExtractStructured(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/extract", r.URL.Path)
		_ = json.NewEncoder(w).Encode(extractResponse{
			Success: true,
			Data: analysis.StructuredData{
				Technologies: []string{"react"},
				ColorPalette: []string{"#fff"},
			},
		})
	}))

	data, err := c.ExtractStructured(context.Background(), []string{"https://a.com/"}, analysis.ExtractOptions{Prompt: "describe"})
	require.NoError(t, err)
	assert.Equal(t, []string{"react"}, data.Technologies)
}

func TestPostHTTPError(t *testing.T) {
	t.Parallel()

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	_, err := c.MapSite(context.Background(), "https://a.com/", analysis.MapOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestDecodeScreenshotVariants(t *testing.T) {
	t.Parallel()

	raw := []byte("img-bytes")
	encoded := base64.StdEncoding.EncodeToString(raw)
	assert.Equal(t, raw, decodeScreenshot(encoded))
	assert.Equal(t, raw, decodeScreenshot("data:image/png;base64,"+encoded))
	assert.Nil(t, decodeScreenshot(""))
	assert.Nil(t, decodeScreenshot("!!not-base64!!"))
}
