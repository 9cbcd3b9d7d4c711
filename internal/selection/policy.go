// Package selection decides which discovered pages to scrape under the
// per-analysis page budget.
package selection

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Dean-Rough/xray2/internal/analysis"
)

// Config caps the classification buckets and the final scrape set.
type Config struct {
	MaxNavigation int
	MaxKeyPages   int
	ScrapeBudget  int
	MinPages      int
}

// DefaultConfig mirrors the crawl-provider free-plan budget: at most 12
// pages per analysis, backfilled to at least 6 when the site has them.
func DefaultConfig() Config {
	return Config{
		MaxNavigation: 8,
		MaxKeyPages:   6,
		ScrapeBudget:  12,
		MinPages:      6,
	}
}

var (
	mainNavPattern = regexp.MustCompile(`^/(home|about|services|products|portfolio|work|projects|blog|news|contact|gallery|exhibitions|shop|store|buy|pricing|plans|collections|events|programs|education|visit|explore)$`)
	keyPagePattern = regexp.MustCompile(`/(about|contact|privacy|terms|faq|help|support|info|team|careers|jobs|press|media|history|current|upcoming|past|archive)$`)
	subAboutPath   = regexp.MustCompile(`^/[^/]+/(about|info|details|overview)$`)
	filePathSuffix = regexp.MustCompile(`\.(jpg|jpeg|png|gif|pdf|doc|zip)$`)
)

// Policy classifies discovered URLs into a budgeted scrape plan.
type Policy struct {
	cfg Config
}

// New builds a Policy; zero caps fall back to the defaults.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.MaxNavigation <= 0 {
		cfg.MaxNavigation = def.MaxNavigation
	}
	if cfg.MaxKeyPages <= 0 {
		cfg.MaxKeyPages = def.MaxKeyPages
	}
	if cfg.ScrapeBudget <= 0 {
		cfg.ScrapeBudget = def.ScrapeBudget
	}
	if cfg.MinPages <= 0 {
		cfg.MinPages = def.MinPages
	}
	return &Policy{cfg: cfg}
}

// Select builds the scrape plan for a mapped site. navLinks are links found
// in the homepage's rendered navigation markup; they enrich the pattern
// classification but only when they also appear in the discovered set. The
// homepage is always the first navigation entry, regardless of where it sits
// in the discovered list.
func (p *Policy) Select(homepageURL string, allPages []string, navLinks []string) analysis.PageSelection {
	mainNav, keyPages := p.classify(homepageURL, allPages)

	discovered := make(map[string]struct{}, len(allPages))
	for _, page := range allPages {
		discovered[page] = struct{}{}
	}
	var enriched []string
	for _, link := range navLinks {
		if _, ok := discovered[link]; ok {
			enriched = append(enriched, link)
		}
	}
	// The homepage always leads the navigation bucket, so it survives both
	// the navigation cap and the scrape budget.
	mainNav = dedup(append(append([]string{homepageURL}, enriched...), mainNav...))
	mainNav = truncate(mainNav, p.cfg.MaxNavigation)
	keyPages = truncate(keyPages, p.cfg.MaxKeyPages)

	sel := analysis.PageSelection{
		MainNavigation: mainNav,
		KeyPages:       keyPages,
		AllPages:       append([]string(nil), allPages...),
	}
	sel = p.applyBudget(sel)
	return sel
}

// classify buckets same-origin pages by path pattern.
func (p *Policy) classify(homepageURL string, allPages []string) (mainNav, keyPages []string) {
	base, err := url.Parse(homepageURL)
	if err != nil {
		return []string{homepageURL}, nil
	}
	origin := base.Scheme + "://" + base.Host

	for _, page := range allPages {
		u, err := url.Parse(page)
		if err != nil {
			continue
		}
		if u.Scheme+"://"+u.Host != origin {
			continue
		}
		pathname := strings.ToLower(u.Path)

		switch {
		case pathname == "/" || pathname == "":
			mainNav = append(mainNav, page)
		case mainNavPattern.MatchString(pathname),
			isShortTopLevel(pathname):
			mainNav = append(mainNav, page)
		case keyPagePattern.MatchString(pathname),
			subAboutPath.MatchString(pathname),
			isShallowSection(pathname):
			keyPages = append(keyPages, page)
		}
	}
	return dedup(mainNav), dedup(keyPages)
}

// applyBudget dedups the union, hard-caps it, and backfills from the full
// discovered list when the selection came up short.
func (p *Policy) applyBudget(sel analysis.PageSelection) analysis.PageSelection {
	scrapeSet := truncate(sel.ScrapeSet(), p.cfg.ScrapeBudget)

	if len(scrapeSet) < p.cfg.MinPages {
		selected := make(map[string]struct{}, len(scrapeSet))
		for _, page := range scrapeSet {
			selected[page] = struct{}{}
		}
		for _, page := range sel.AllPages {
			if len(scrapeSet) >= p.cfg.MinPages {
				break
			}
			if _, dup := selected[page]; dup {
				continue
			}
			selected[page] = struct{}{}
			scrapeSet = append(scrapeSet, page)
			sel.KeyPages = append(sel.KeyPages, page)
		}
	}

	// Re-split so MainNavigation ∪ KeyPages equals the budgeted set.
	inBudget := make(map[string]struct{}, len(scrapeSet))
	for _, page := range scrapeSet {
		inBudget[page] = struct{}{}
	}
	sel.MainNavigation = retain(sel.MainNavigation, inBudget)
	sel.KeyPages = retain(sel.KeyPages, inBudget)
	return sel
}

// isShortTopLevel matches single-segment paths under 20 chars with no file
// extension, e.g. /team or /menu.
func isShortTopLevel(pathname string) bool {
	return strings.Count(pathname, "/") == 1 &&
		len(pathname) > 1 &&
		len(pathname) < 20 &&
		!strings.Contains(pathname, ".")
}

// isShallowSection matches two-segment paths under 50 chars that are not
// obviously files.
func isShallowSection(pathname string) bool {
	segments := splitSegments(pathname)
	return len(segments) == 2 &&
		len(pathname) < 50 &&
		!filePathSuffix.MatchString(pathname)
}

func splitSegments(pathname string) []string {
	var out []string
	for _, seg := range strings.Split(pathname, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func truncate(urls []string, n int) []string {
	if len(urls) <= n {
		return urls
	}
	return urls[:n]
}

func retain(urls []string, keep map[string]struct{}) []string {
	var out []string
	for _, u := range urls {
		if _, ok := keep[u]; ok {
			out = append(out, u)
		}
	}
	return out
}
