package fetch

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/model"
)

// Crawler walks same-host links breadth first from a start page.
type Crawler struct {
	fetcher  *Fetcher
	maxDepth int
	maxPages int
	matcher  *PathMatcher
}

// NewCrawler creates a Crawler. maxDepth 0 fetches only the start page.
func NewCrawler(f *Fetcher, maxDepth, maxPages int, excludePaths []string) *Crawler {
	if maxPages < 1 {
		maxPages = 1
	}
	return &Crawler{
		fetcher:  f,
		maxDepth: max(maxDepth, 0),
		maxPages: maxPages,
		matcher:  NewPathMatcher(excludePaths),
	}
}

type crawlItem struct {
	url   string
	depth int
}

// Crawl returns the fetched pages in visit order; the start page is first.
// When the start page fails nothing else is fetched. Sub-page failures are
// kept on their Page and do not stop the crawl.
func (c *Crawler) Crawl(ctx context.Context, start string) []model.Page {
	queue := []crawlItem{{url: start}}
	seen := map[string]bool{canonical(start): true}
	var pages []model.Page

	for len(queue) > 0 && len(pages) < c.maxPages {
		if ctx.Err() != nil {
			break
		}
		item := queue[0]
		queue = queue[1:]

		page, links := c.fetcher.fetchPage(ctx, item.url)
		page.Depth = item.depth
		pages = append(pages, page)

		if !page.OK() {
			if len(pages) == 1 {
				break
			}
			zap.L().Debug("crawl: sub-page failed",
				zap.String("url", item.url),
				zap.String("error", page.Error.String()),
			)
			continue
		}
		if item.depth >= c.maxDepth {
			continue
		}

		for _, link := range links {
			key := canonical(link)
			if seen[key] || c.matcher.IsExcluded(link) {
				continue
			}
			seen[key] = true
			queue = append(queue, crawlItem{url: link, depth: item.depth + 1})
		}
	}
	return pages
}

var skipExtensions = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true,
	".webp": true, ".zip": true, ".mp4": true, ".mp3": true, ".doc": true, ".docx": true,
	".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true, ".css": true, ".js": true,
}

// sameHostLinks collects absolute http(s) links on base's host, in
// document order and without duplicates.
func sameHostLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if !sameHost(abs.Hostname(), base.Hostname()) {
			return
		}
		if skipExtensions[strings.ToLower(path.Ext(abs.Path))] {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})
	return links
}

func sameHost(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(strings.ToLower(a), "www."), strings.TrimPrefix(strings.ToLower(b), "www."))
}

// canonical folds trivially different spellings of one page together.
func canonical(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Scheme = "https"
	if u.Path == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}
