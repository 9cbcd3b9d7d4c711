// Package assemble builds the downloadable rebuild package for a finished
// analysis and stores it as a single zip blob.
package assemble

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Dean-Rough/xray2/internal/analysis"
	"github.com/Dean-Rough/xray2/internal/hash/sha256"
)

// Assembler implements analysis.Assembler: it flattens the accumulated result
// into a zip archive and uploads it to the blob store.
type Assembler struct {
	blobs  analysis.BlobStore
	clock  analysis.Clock
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New builds an Assembler.
func New(blobs analysis.BlobStore, clock analysis.Clock, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{blobs: blobs, clock: clock, hasher: sha256.New(), logger: logger}
}

// Assemble packages the analysis result and uploads the archive. The manifest
// in the returned descriptor maps logical artifact names to archive paths.
func (a *Assembler) Assemble(ctx context.Context, an analysis.Analysis) (analysis.PackageDescriptor, error) {
	if an.Result.SiteMap == nil || len(an.Result.Content) == 0 {
		return analysis.PackageDescriptor{}, fmt.Errorf("analysis %s has no content to package", an.ID)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	manifest := make(map[string]string)

	addJSON := func(name string, v any) error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		return addFile(zw, name, data)
	}

	if err := addJSON("site-map.json", an.Result.SiteMap); err != nil {
		return analysis.PackageDescriptor{}, err
	}
	manifest["site_map"] = "site-map.json"

	if an.Result.Performance != nil {
		if err := addJSON("performance.json", an.Result.Performance); err != nil {
			return analysis.PackageDescriptor{}, err
		}
		manifest["performance"] = "performance.json"
	}
	if an.Result.Structured != nil {
		if err := addJSON("structured-data.json", an.Result.Structured); err != nil {
			return analysis.PackageDescriptor{}, err
		}
		manifest["structured_data"] = "structured-data.json"
	}

	pageURLs := make([]string, 0, len(an.Result.Content))
	for u := range an.Result.Content {
		pageURLs = append(pageURLs, u)
	}
	sort.Strings(pageURLs)

	for _, pageURL := range pageURLs {
		pc := an.Result.Content[pageURL]
		if pc == nil {
			continue
		}
		slug := pageSlug(pageURL)
		dir := "pages/" + slug

		if pc.HTML != "" {
			if err := addFile(zw, dir+"/index.html", []byte(pc.HTML)); err != nil {
				return analysis.PackageDescriptor{}, err
			}
		}
		if pc.Markdown != "" {
			if err := addFile(zw, dir+"/content.md", []byte(pc.Markdown)); err != nil {
				return analysis.PackageDescriptor{}, err
			}
		}
		if len(pc.Screenshot) > 0 {
			if err := addFile(zw, dir+"/screenshot.png", pc.Screenshot); err != nil {
				return analysis.PackageDescriptor{}, err
			}
		}
		for cssURL, css := range pc.CSSContents {
			if css == "" {
				continue
			}
			name := dir + "/css/" + assetSlug(cssURL)
			if err := addFile(zw, name, []byte(css)); err != nil {
				return analysis.PackageDescriptor{}, err
			}
		}
	}
	manifest["pages"] = "pages/"

	prompt := BuildRebuildPrompt(an)
	if err := addFile(zw, "rebuild-prompt.md", []byte(prompt)); err != nil {
		return analysis.PackageDescriptor{}, err
	}
	manifest["rebuild_prompt"] = "rebuild-prompt.md"

	if err := addJSON("manifest.json", manifestEnvelope{
		AnalysisID:  an.ID,
		URL:         an.URL,
		GeneratedAt: a.clock.Now().UTC(),
		Pages:       len(an.Result.Content),
		Entries:     manifest,
	}); err != nil {
		return analysis.PackageDescriptor{}, err
	}
	manifest["manifest"] = "manifest.json"

	if err := zw.Close(); err != nil {
		return analysis.PackageDescriptor{}, fmt.Errorf("finalize archive: %w", err)
	}

	if digest, hashErr := a.hasher.Hash(buf.Bytes()); hashErr == nil {
		manifest["sha256"] = digest
	}

	name := fmt.Sprintf("%s.zip", an.ID)
	blobPath := path.Join("packages", name)
	uri, err := a.blobs.PutObject(ctx, blobPath, "application/zip", buf.Bytes())
	if err != nil {
		return analysis.PackageDescriptor{}, fmt.Errorf("store package: %w", err)
	}

	a.logger.Info("package assembled",
		zap.String("analysis_id", an.ID),
		zap.String("uri", uri),
		zap.Int("bytes", buf.Len()),
	)
	return analysis.PackageDescriptor{
		Name:      name,
		BlobURI:   uri,
		SizeBytes: int64(buf.Len()),
		Manifest:  manifest,
	}, nil
}

type manifestEnvelope struct {
	AnalysisID  string            `json:"analysis_id"`
	URL         string            `json:"url"`
	GeneratedAt time.Time         `json:"generated_at"`
	Pages       int               `json:"pages"`
	Entries     map[string]string `json:"entries"`
}

func addFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}

// pageSlug maps a page URL to a stable directory name inside the archive.
// The homepage becomes "home"; other pages join their path segments with
// dashes.
func pageSlug(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return sanitize(raw)
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return "home"
	}
	return sanitize(strings.ReplaceAll(p, "/", "-"))
}

func assetSlug(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return sanitize(raw)
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		base = "stylesheet.css"
	}
	if !strings.HasSuffix(base, ".css") {
		base += ".css"
	}
	return sanitize(base)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "item"
	}
	if len(out) > 80 {
		out = out[:80]
	}
	return out
}
