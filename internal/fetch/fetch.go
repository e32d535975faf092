// Package fetch retrieves company websites. Failures never abort a batch:
// they are recorded on the returned ScrapedContent.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/site-analyzer/internal/config"
	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/resilience"
	"github.com/sells-group/site-analyzer/internal/store"
)

// Config configures a Fetcher.
type Config struct {
	Timeout        time.Duration
	UserAgent      string
	MaxBodyBytes   int64
	PerHostRPS     float64
	PerHostBurst   int
	DetectBlocking bool

	MaxDepth     int
	MaxPages     int
	ExcludePaths []string

	Retry resilience.RetryConfig
}

// FromConfig builds a fetch Config from the application config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Timeout:        time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		UserAgent:      cfg.Fetch.UserAgent,
		MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
		PerHostRPS:     cfg.Fetch.PerHostRPS,
		PerHostBurst:   cfg.Fetch.PerHostBurst,
		DetectBlocking: cfg.Fetch.DetectBlocking,
		MaxDepth:       cfg.Crawl.MaxDepth,
		MaxPages:       cfg.Crawl.MaxPages,
		ExcludePaths:   cfg.Crawl.ExcludePaths,
		Retry:          resilience.FromRetryConfig(cfg.Retry),
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = config.DefaultUserAgent
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 2 << 20
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 1
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	return c
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client. The client's timeout is
// left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithCache enables the scrape cache.
func WithCache(st store.Store, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.cache = st
		f.cacheTTL = ttl
	}
}

// Fetcher downloads a row's website and, when configured, crawls it.
type Fetcher struct {
	cfg      Config
	client   *http.Client
	limiters *hostLimiters
	crawler  *Crawler
	cache    store.Store
	cacheTTL time.Duration
	group    singleflight.Group
}

// New creates a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	cfg = cfg.withDefaults()
	f := &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: cfg.Timeout,
				}).DialContext,
				TLSHandshakeTimeout: cfg.Timeout,
				MaxIdleConnsPerHost: 4,
			},
		},
		limiters: newHostLimiters(cfg.PerHostRPS, cfg.PerHostBurst),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.crawler = NewCrawler(f, cfg.MaxDepth, cfg.MaxPages, cfg.ExcludePaths)
	return f
}

// Fetch retrieves the record's website. The root page is Pages[0] and its
// markup is RawHTML; a root failure is reported as FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rec model.Record) model.ScrapedContent {
	sc := model.ScrapedContent{Record: rec}

	target, rowErr := ValidateURL(rec.URL)
	if rowErr != nil {
		sc.FetchError = rowErr
		return sc
	}

	if ctx.Err() != nil {
		return sc
	}

	// The crawl is shared by every caller of the same URL, so it runs
	// detached from any one caller's cancellation. Each caller stops
	// waiting when its own context ends.
	key := f.cacheKey(target)
	ch := f.group.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.flightTimeout())
		defer cancel()
		pages, fromCache := f.crawlCached(flightCtx, key, target)
		return crawlResult{pages: pages, fromCache: fromCache}, nil
	})
	var res crawlResult
	select {
	case <-ctx.Done():
		return sc
	case r := <-ch:
		res = r.Val.(crawlResult)
	}

	// Callers sharing a flight must not share page storage.
	sc.Pages = append([]model.Page(nil), res.pages...)
	sc.FromCache = res.fromCache
	if len(sc.Pages) > 0 {
		root := sc.Pages[0]
		sc.RawHTML = root.HTML
		sc.FetchError = root.Error
	}

	log := zap.L().With(zap.String("company", rec.Label()), zap.String("url", target))
	if sc.Failed() {
		log.Info("fetch: failed", zap.String("error", sc.FetchError.String()))
	} else {
		log.Debug("fetch: done",
			zap.Int("pages", sc.FetchedPages()),
			zap.Int("page_errors", len(sc.PageErrors())),
			zap.Bool("cached", sc.FromCache),
		)
	}
	return sc
}

type crawlResult struct {
	pages     []model.Page
	fromCache bool
}

// flightTimeout bounds one shared crawl: every page may use all its
// attempts, plus one slot for cache access and rate limiting.
func (f *Fetcher) flightTimeout() time.Duration {
	attempts := max(f.cfg.Retry.MaxAttempts, 1)
	return time.Duration(f.cfg.MaxPages*attempts+1) * (f.cfg.Timeout + f.cfg.Retry.MaxBackoff)
}

// ValidateURL checks that raw is an absolute http(s) URL with a host.
func ValidateURL(raw string) (string, *model.RowError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", model.NewRowError(model.ErrInvalidURL, "no website given")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", model.NewRowError(model.ErrInvalidURL, fmt.Sprintf("cannot parse %q", raw))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", model.NewRowError(model.ErrInvalidURL, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Hostname() == "" {
		return "", model.NewRowError(model.ErrInvalidURL, fmt.Sprintf("no host in %q", raw))
	}
	return u.String(), nil
}

// fetchPage downloads one document and returns the page plus the same-host
// links found in it.
func (f *Fetcher) fetchPage(ctx context.Context, target string) (model.Page, []string) {
	page := model.Page{URL: target}

	u, err := url.Parse(target)
	if err != nil {
		page.Error = model.NewRowError(model.ErrInvalidURL, err.Error())
		return page, nil
	}

	retry := f.cfg.Retry
	retry.OnRetry = resilience.RetryLogger(u.Host, "fetch")

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*response, error) {
		if err := f.limiters.wait(ctx, u.Hostname()); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limit")
		}
		return f.get(ctx, target)
	})
	if err != nil {
		page.Error = classify(err, f.cfg.Timeout)
		page.StatusCode = page.Error.Status
		return page, nil
	}

	page.StatusCode = resp.status
	if page.URL != resp.finalURL {
		zap.L().Debug("fetch: redirected", zap.String("from", page.URL), zap.String("to", resp.finalURL))
	}

	if f.cfg.DetectBlocking {
		if blocked, kind := DetectBlock(resp.status, resp.header, resp.body); blocked {
			status := resp.status
			if status < 400 {
				status = http.StatusForbidden
			}
			page.Error = model.HTTPError(status, fmt.Sprintf("blocked by anti-bot protection (%s)", kind))
			return page, nil
		}
	}

	if resp.status >= 400 {
		page.Error = model.HTTPError(resp.status, http.StatusText(resp.status))
		return page, nil
	}

	if !isHTML(resp.header.Get("Content-Type")) {
		zap.L().Debug("fetch: skipping non-html body",
			zap.String("url", target),
			zap.String("content_type", resp.header.Get("Content-Type")),
		)
		return page, nil
	}

	body := decodeBody(resp.body, resp.header.Get("Content-Type"))
	page.HTML = string(body)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page, nil
	}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())

	base, err := url.Parse(resp.finalURL)
	if err != nil {
		base = u
	}
	return page, sameHostLinks(doc, base)
}

type response struct {
	status   int
	header   http.Header
	body     []byte
	finalURL string
}

func (f *Fetcher) get(ctx context.Context, target string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: read body")
	}

	out := &response{
		status:   resp.StatusCode,
		header:   resp.Header,
		body:     body,
		finalURL: resp.Request.URL.String(),
	}
	if f.cfg.DetectBlocking {
		// Block pages are final; retrying only feeds the challenge.
		if blocked, _ := DetectBlock(out.status, out.header, out.body); blocked {
			return out, nil
		}
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return out, resilience.NewTransientError(eris.Errorf("status %d", resp.StatusCode), resp.StatusCode)
	}
	return out, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "html") || strings.HasPrefix(ct, "text/plain")
}

// classify maps a transport error to a row error kind.
func classify(err error, timeout time.Duration) *model.RowError {
	var te *resilience.TransientError
	switch {
	case errors.Is(err, context.Canceled):
		return model.NewRowError(model.ErrCanceled, "run canceled")
	case errors.As(err, &te) && te.StatusCode > 0:
		return model.HTTPError(te.StatusCode, http.StatusText(te.StatusCode))
	case resilience.IsTimeout(err):
		return model.NewRowError(model.ErrTimeout, fmt.Sprintf("no response within %s", timeout))
	default:
		return model.NewRowError(model.ErrUnreachable, rootMessage(err))
	}
}

// rootMessage drops the request URL prefix net/http adds to errors.
func rootMessage(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err.Error()
	}
	return err.Error()
}
