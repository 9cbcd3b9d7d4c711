package assemble

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dean-Rough/xray2/internal/analysis"
	storagememory "github.com/Dean-Rough/xray2/internal/storage/memory"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func sampleAnalysis() analysis.Analysis {
	perf := &analysis.Performance{
		Performance: analysis.CategoryScore{Score: 0.9},
	}
	structured := &analysis.StructuredData{
		Technologies: []string{"next.js"},
		ColorPalette: []string{"#102030"},
	}
	return analysis.Analysis{
		ID:     "0198d9aa-7b16-7c70-a000-000000000001",
		URL:    "https://example.com",
		Status: analysis.StatusProcessing,
		Result: analysis.Result{
			SiteMap: &analysis.SiteMap{
				Pages:      []string{"https://example.com/", "https://example.com/about"},
				TotalPages: 2,
			},
			Content: map[string]*analysis.PageContent{
				"https://example.com/": {
					HTML:       "<html>home</html>",
					Markdown:   "# Home",
					Screenshot: []byte{0x89, 'P', 'N', 'G'},
					CSSContents: map[string]string{
						"https://example.com/main.css": "body{}",
					},
					Metadata: map[string]string{"title": "Home"},
				},
				"https://example.com/about": {
					HTML:     "<html>about</html>",
					Markdown: "# About",
				},
			},
			Performance: perf,
			Structured:  structured,
		},
	}
}

func TestAssembleBuildsArchive(t *testing.T) {
	t.Parallel()

	blobs := storagememory.NewBlobStore()
	a := New(blobs, fixedClock{at: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}, nil)

	an := sampleAnalysis()
	pkg, err := a.Assemble(context.Background(), an)
	require.NoError(t, err)

	assert.Equal(t, an.ID+".zip", pkg.Name)
	assert.Equal(t, "memory://packages/"+an.ID+".zip", pkg.BlobURI)
	assert.Positive(t, pkg.SizeBytes)
	assert.NotEmpty(t, pkg.Manifest["sha256"])

	data, err := blobs.GetObject(context.Background(), "packages/"+an.ID+".zip")
	require.NoError(t, err)
	assert.Equal(t, pkg.SizeBytes, int64(len(data)))

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{
		"manifest.json",
		"rebuild-prompt.md",
		"site-map.json",
		"performance.json",
		"structured-data.json",
		"pages/home/index.html",
		"pages/home/content.md",
		"pages/home/screenshot.png",
		"pages/home/css/main.css",
		"pages/about/index.html",
		"pages/about/content.md",
	} {
		assert.True(t, names[want], "missing archive entry %s", want)
	}
	assert.False(t, names["pages/about/screenshot.png"], "absent screenshot must not produce an entry")

	var manifest struct {
		AnalysisID string            `json:"analysis_id"`
		Pages      int               `json:"pages"`
		Entries    map[string]string `json:"entries"`
	}
	rc, err := zr.Open("manifest.json")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.Equal(t, an.ID, manifest.AnalysisID)
	assert.Equal(t, 2, manifest.Pages)
	assert.Equal(t, "rebuild-prompt.md", manifest.Entries["rebuild_prompt"])
}

func TestAssembleRequiresContent(t *testing.T) {
	t.Parallel()

	a := New(storagememory.NewBlobStore(), fixedClock{at: time.Now()}, nil)
	_, err := a.Assemble(context.Background(), analysis.Analysis{ID: "x"})
	assert.Error(t, err)
}

func TestPageSlug(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "home", pageSlug("https://example.com/"))
	assert.Equal(t, "about", pageSlug("https://example.com/about"))
	assert.Equal(t, "blog-post-1", pageSlug("https://example.com/blog/post-1"))
}

func TestBuildRebuildPrompt(t *testing.T) {
	t.Parallel()

	prompt := BuildRebuildPrompt(sampleAnalysis())
	assert.Contains(t, prompt, "# Website Rebuild Brief")
	assert.Contains(t, prompt, "https://example.com")
	assert.Contains(t, prompt, "next.js")
	assert.Contains(t, prompt, "Performance: 90/100")
	assert.Contains(t, prompt, "[Home](https://example.com/)")
}
