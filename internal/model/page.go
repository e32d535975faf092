package model

// Page is a single fetched document. The root page of a row is always
// Pages[0]; crawled sub-pages follow in discovery order.
type Page struct {
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Depth      int       `json:"depth"`
	HTML       string    `json:"html,omitempty"`
	Text       string    `json:"text,omitempty"`
	Error      *RowError `json:"error,omitempty"`
}

// OK reports whether the page was fetched without error.
func (p Page) OK() bool { return p.Error == nil }

// ScrapedContent is the Content Fetcher's output for one Record. RawHTML is
// the root page markup; Text is filled exactly once by the Text Extractor.
type ScrapedContent struct {
	Record     Record    `json:"record"`
	RawHTML    string    `json:"raw_html,omitempty"`
	Text       string    `json:"text,omitempty"`
	Pages      []Page    `json:"pages,omitempty"`
	FetchError *RowError `json:"fetch_error,omitempty"`
	FromCache  bool      `json:"from_cache,omitempty"`
}

// Failed reports whether fetching the root page failed.
func (s ScrapedContent) Failed() bool { return s.FetchError != nil }

// FetchedPages counts pages that were fetched successfully.
func (s ScrapedContent) FetchedPages() int {
	n := 0
	for _, p := range s.Pages {
		if p.OK() {
			n++
		}
	}
	return n
}

// PageErrors returns the sub-page failures recorded during a crawl.
func (s ScrapedContent) PageErrors() []Page {
	var out []Page
	for _, p := range s.Pages {
		if !p.OK() {
			out = append(out, p)
		}
	}
	return out
}
