package resolve

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// archiveExtensions are the suffixes treated as direct archive links.
var archiveExtensions = []string{".zip", ".rar", ".7z", ".lzh"}

// hostingDomains are the hosting services worth resolving recursively
// when found on a mirror page.
var hostingDomains = []string{
	"drive.google.com",
	"dropbox.com",
	"www.dropbox.com",
	"onedrive.live.com",
	"1drv.ms",
}

// extractLinks collects every anchor href from the HTML, resolved
// against the base URL. Unparseable hrefs are dropped.
func extractLinks(html string, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		links = append(links, resolved.String())
	})

	return links
}

// pickCandidate scans links in page order and returns the first usable
// one. For a direct archive link, target is set and next is empty. For a
// hosting-service link, next is set and the caller must resolve it.
func pickCandidate(links []string) (target, next string, found bool) {
	for _, link := range links {
		lower := strings.ToLower(link)

		for _, ext := range archiveExtensions {
			if strings.HasSuffix(lower, ext) {
				return link, "", true
			}
		}

		parsed, err := url.Parse(link)
		if err != nil {
			continue
		}
		host := parsed.Hostname()
		for _, domain := range hostingDomains {
			if strings.Contains(host, domain) {
				return "", link, true
			}
		}
	}

	return "", "", false
}
