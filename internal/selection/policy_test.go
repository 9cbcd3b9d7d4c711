package selection

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const home = "https://example.com/"

func TestSelectRespectsScrapeBudget(t *testing.T) {
	t.Parallel()

	pages := []string{home}
	for _, p := range []string{"about", "services", "products", "blog", "contact", "shop", "pricing", "events"} {
		pages = append(pages, "https://example.com/"+p)
	}
	for i := 0; i < 15; i++ {
		pages = append(pages, fmt.Sprintf("https://example.com/blog/post-%d", i))
	}

	sel := New(Config{}).Select(home, pages, nil)
	got := sel.ScrapeSet()
	assert.LessOrEqual(t, len(got), 12)
	assert.Contains(t, got, home)
}

func TestSelectHomepageOnlyWhenNothingClassifies(t *testing.T) {
	t.Parallel()

	pages := []string{
		"https://other-site.com/about",
		"https://example.com/assets/deep/path/that/never/classifies/because/long.html",
	}
	sel := New(Config{}).Select(home, pages, nil)
	assert.Equal(t, []string{home}, sel.MainNavigation)
}

func TestSelectBackfillsToMinimum(t *testing.T) {
	t.Parallel()

	// Only the homepage classifies; the rest are deep pages available for
	// backfill.
	pages := []string{home}
	for i := 0; i < 10; i++ {
		pages = append(pages, fmt.Sprintf("https://example.com/p/a/b/c/deep-%d", i))
	}
	sel := New(Config{}).Select(home, pages, nil)
	got := sel.ScrapeSet()
	assert.Len(t, got, 6)
	// Backfilled pages land in KeyPages, not MainNavigation.
	assert.Equal(t, []string{home}, sel.MainNavigation)
	assert.Len(t, sel.KeyPages, 5)
}

func TestSelectKeepsHomepageWhenNavBucketOverflows(t *testing.T) {
	t.Parallel()

	// Ten nav-classified pages precede the homepage in the discovered list;
	// the homepage must still lead the selection instead of being capped out.
	var pages []string
	for i := 0; i < 10; i++ {
		pages = append(pages, fmt.Sprintf("https://example.com/nav%d", i))
	}
	pages = append(pages, home)
	for i := 0; i < 10; i++ {
		pages = append(pages, fmt.Sprintf("https://example.com/section/page-%d", i))
	}

	sel := New(Config{}).Select(home, pages, nil)
	require.NotEmpty(t, sel.MainNavigation)
	assert.Equal(t, home, sel.MainNavigation[0])
	assert.Contains(t, sel.ScrapeSet(), home)
	assert.LessOrEqual(t, len(sel.MainNavigation), 8)
	assert.LessOrEqual(t, len(sel.ScrapeSet()), 12)
}

func TestSelectNavLinksEnrichOnlyDiscoveredPages(t *testing.T) {
	t.Parallel()

	pages := []string{
		home,
		"https://example.com/collections/summer",
	}
	navLinks := []string{
		"https://example.com/collections/summer", // discovered
		"https://example.com/hidden",             // not in the map, must be ignored
	}
	sel := New(Config{}).Select(home, pages, navLinks)
	assert.Contains(t, sel.MainNavigation, "https://example.com/collections/summer")
	assert.NotContains(t, sel.ScrapeSet(), "https://example.com/hidden")
}

func TestSelectCapsBuckets(t *testing.T) {
	t.Parallel()

	var pages []string
	for i := 0; i < 30; i++ {
		pages = append(pages, fmt.Sprintf("https://example.com/nav%02d", i))
	}
	sel := New(Config{}).Select(home, pages, nil)
	assert.LessOrEqual(t, len(sel.MainNavigation), 8)
	assert.LessOrEqual(t, len(sel.ScrapeSet()), 12)
}

func TestSelectUnionEqualsBudgetedSet(t *testing.T) {
	t.Parallel()

	pages := []string{home}
	for _, p := range []string{"about", "services", "contact", "faq", "team", "careers"} {
		pages = append(pages, "https://example.com/"+p)
	}
	sel := New(Config{}).Select(home, pages, nil)

	union := map[string]struct{}{}
	for _, u := range sel.MainNavigation {
		union[u] = struct{}{}
	}
	for _, u := range sel.KeyPages {
		union[u] = struct{}{}
	}
	set := sel.ScrapeSet()
	require.Equal(t, len(set), len(union))
	for _, u := range set {
		assert.Contains(t, union, u)
	}
}

func TestClassifyFiltersFilesAndForeignOrigins(t *testing.T) {
	t.Parallel()

	pages := []string{
		home,
		"https://example.com/brochure.pdf",
		"https://cdn.example.net/about",
	}
	sel := New(Config{}).Select(home, pages, nil)
	assert.NotContains(t, sel.MainNavigation, "https://example.com/brochure.pdf")
	assert.NotContains(t, sel.MainNavigation, "https://cdn.example.net/about")
}
