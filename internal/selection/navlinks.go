package selection

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractNavLinks pulls absolute link targets out of the navigation regions
// of a rendered homepage. Parse failures yield an empty slice; the policy
// falls back to pattern classification alone.
func ExtractNavLinks(html, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var links []string
	selectors := []string{
		"nav a[href]",
		"header a[href]",
		"ul[class*=nav] a[href]",
		"div[class*=nav] a[href]",
	}
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok || href == "" || strings.HasPrefix(href, "#") {
				return
			}
			ref, err := url.Parse(href)
			if err != nil {
				return
			}
			links = append(links, base.ResolveReference(ref).String())
		})
	}
	return dedup(links)
}
