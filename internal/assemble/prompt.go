package assemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Dean-Rough/xray2/internal/analysis"
)

// BuildRebuildPrompt renders a markdown brief describing the analyzed site,
// suitable as an instruction document for rebuilding it.
func BuildRebuildPrompt(an analysis.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Website Rebuild Brief\n\n")
	fmt.Fprintf(&b, "Source site: %s\n\n", an.URL)

	if sm := an.Result.SiteMap; sm != nil {
		fmt.Fprintf(&b, "## Site Structure\n\n")
		fmt.Fprintf(&b, "The site exposes %d discovered pages. Scraped pages:\n\n", sm.TotalPages)
		urls := make([]string, 0, len(an.Result.Content))
		for u := range an.Result.Content {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		for _, u := range urls {
			title := ""
			if pc := an.Result.Content[u]; pc != nil && pc.Metadata != nil {
				title = pc.Metadata["title"]
			}
			if title != "" {
				fmt.Fprintf(&b, "- [%s](%s)\n", title, u)
			} else {
				fmt.Fprintf(&b, "- %s\n", u)
			}
		}
		b.WriteString("\n")
	}

	if sd := an.Result.Structured; sd != nil {
		fmt.Fprintf(&b, "## Design Notes\n\n")
		writeList(&b, "Technologies", sd.Technologies)
		writeList(&b, "Design patterns", sd.DesignPatterns)
		writeList(&b, "Key features", sd.KeyFeatures)
		writeList(&b, "Color palette", sd.ColorPalette)
		writeList(&b, "Font families", sd.FontFamilies)
	}

	if perf := an.Result.Performance; perf != nil {
		fmt.Fprintf(&b, "## Performance Targets\n\n")
		fmt.Fprintf(&b, "Match or beat the original site's audit scores:\n\n")
		fmt.Fprintf(&b, "- Performance: %s\n", formatScore(perf.Performance.Score))
		fmt.Fprintf(&b, "- Accessibility: %s\n", formatScore(perf.Accessibility.Score))
		fmt.Fprintf(&b, "- SEO: %s\n", formatScore(perf.SEO.Score))
		fmt.Fprintf(&b, "- Best practices: %s\n\n", formatScore(perf.BestPractices.Score))
	}

	fmt.Fprintf(&b, "## Contents\n\n")
	fmt.Fprintf(&b, "Each scraped page lives under `pages/<slug>/` with its raw HTML, a markdown rendition, captured stylesheets, and a full-page screenshot where available. ")
	fmt.Fprintf(&b, "Use the screenshots as the visual source of truth and the HTML/CSS for structural detail.\n")
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s:** %s\n\n", label, strings.Join(items, ", "))
}

func formatScore(score float64) string {
	if score == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%d/100", int(score*100+0.5))
}
