package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/model"
)

// cachedScrape is the JSON document stored in the scrape cache.
type cachedScrape struct {
	Pages []model.Page `json:"pages"`
}

// cacheKey covers every setting that changes which pages a crawl returns.
func (f *Fetcher) cacheKey(target string) string {
	raw := fmt.Sprintf("%s|depth=%d|pages=%d|exclude=%s",
		canonical(target), f.cfg.MaxDepth, f.cfg.MaxPages, strings.Join(f.crawler.matcher.Patterns(), ","))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// crawlCached serves a crawl from the cache when possible. Only crawls
// whose root page succeeded are stored.
func (f *Fetcher) crawlCached(ctx context.Context, key, target string) ([]model.Page, bool) {
	if f.cache != nil {
		data, err := f.cache.GetCachedScrape(ctx, key)
		if err != nil {
			zap.L().Warn("fetch: cache lookup failed", zap.String("url", target), zap.Error(err))
		} else if data != nil {
			var cs cachedScrape
			if err := json.Unmarshal(data, &cs); err == nil && len(cs.Pages) > 0 {
				return cs.Pages, true
			}
		}
	}

	pages := f.crawler.Crawl(ctx, target)

	if f.cache != nil && ctx.Err() == nil && len(pages) > 0 && pages[0].OK() {
		data, err := json.Marshal(cachedScrape{Pages: pages})
		if err == nil {
			err = f.cache.SetCachedScrape(ctx, key, data, f.cacheTTL)
		}
		if err != nil {
			zap.L().Warn("fetch: cache store failed", zap.String("url", target), zap.Error(err))
		}
	}
	return pages, false
}
