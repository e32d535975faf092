// Package extract turns fetched HTML into plain text for prompting.
//
// Text rules:
//  1. The document is parsed leniently; empty or unparsable input yields "".
//  2. script, style, noscript, template, svg, iframe, and the link/meta
//     elements of head are removed, plus any configured selectors.
//  3. Text inside one block-level element is concatenated; block
//     boundaries and <br> start a new line.
//  4. Each line is split on runs of two or more whitespace characters.
//     Every resulting phrase has its whitespace collapsed to single spaces
//     and blank phrases are dropped.
//  5. Phrases are joined with "\n".
package extract

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sells-group/site-analyzer/internal/config"
	"github.com/sells-group/site-analyzer/internal/model"
)

// DefaultPageSeparator joins the text of crawled pages.
const DefaultPageSeparator = "\n\n--- Page Separator ---\n\n"

const baseDropSelectors = "script, style, noscript, template, svg, iframe, head > meta, head > link"

var multiSpace = regexp.MustCompile(`\s{2,}`)

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Body: true, atom.Br: true, atom.Caption: true, atom.Dd: true, atom.Details: true,
	atom.Div: true, atom.Dl: true, atom.Dt: true, atom.Fieldset: true, atom.Figcaption: true,
	atom.Figure: true, atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true,
	atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true,
	atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true, atom.Ol: true,
	atom.Option: true, atom.P: true, atom.Pre: true, atom.Section: true, atom.Summary: true,
	atom.Table: true, atom.Tbody: true, atom.Td: true, atom.Tfoot: true, atom.Th: true,
	atom.Thead: true, atom.Title: true, atom.Tr: true, atom.Ul: true,
}

// Text extracts visible text using the default rules.
func Text(rawHTML string) string {
	return New(Options{}).Extract(rawHTML)
}

// Options configures an Extractor.
type Options struct {
	Format        string // "text" (default) or "markdown"
	DropSelectors []string
	PageSeparator string
}

// OptionsFromConfig maps the extract config section to Options.
func OptionsFromConfig(cfg config.ExtractConfig) Options {
	return Options{
		Format:        cfg.Format,
		DropSelectors: cfg.DropSelectors,
		PageSeparator: cfg.PageSeparator,
	}
}

// Extractor applies the text rules with configured variations.
type Extractor struct {
	format    string
	drop      string
	separator string
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	drop := baseDropSelectors
	for _, sel := range opts.DropSelectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			drop += ", " + sel
		}
	}
	sep := opts.PageSeparator
	if sep == "" {
		sep = DefaultPageSeparator
	}
	return &Extractor{format: opts.Format, drop: drop, separator: sep}
}

// Extract returns the text of one HTML document, or "" when nothing
// usable is found.
func (e *Extractor) Extract(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		zap.L().Debug("extract: parse html", zap.Error(err))
		return ""
	}
	doc.Find(e.drop).Remove()

	if e.format == "markdown" {
		return toMarkdown(doc)
	}

	var w lineWriter
	for _, n := range doc.Nodes {
		w.walk(n)
	}
	w.flush()
	return strings.Join(w.phrases, "\n")
}

func toMarkdown(doc *goquery.Document) string {
	body, err := doc.Html()
	if err != nil {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		zap.L().Debug("extract: convert markdown", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(md)
}

// Join concatenates page texts with the page separator, skipping empty ones.
func (e *Extractor) Join(texts []string) string {
	var parts []string
	for _, t := range texts {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, e.separator)
}

// Apply fills Page.Text for every fetched page and sets the combined Text.
func (e *Extractor) Apply(sc *model.ScrapedContent) {
	texts := make([]string, 0, len(sc.Pages))
	for i := range sc.Pages {
		p := &sc.Pages[i]
		if !p.OK() {
			continue
		}
		p.Text = e.Extract(p.HTML)
		texts = append(texts, p.Text)
	}
	if len(sc.Pages) == 0 && sc.RawHTML != "" {
		texts = append(texts, e.Extract(sc.RawHTML))
	}
	sc.Text = e.Join(texts)
}

// Preview returns at most n runes of text.
func Preview(text string, n int) string {
	if n <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}

type lineWriter struct {
	cur     strings.Builder
	phrases []string
}

func (w *lineWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.cur.WriteString(n.Data)
		return
	case html.ElementNode, html.DocumentNode:
	default:
		return
	}

	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if block {
		w.flush()
	}
}

func (w *lineWriter) flush() {
	line := strings.ReplaceAll(w.cur.String(), "\u00a0", " ")
	w.cur.Reset()
	for _, phrase := range multiSpace.Split(line, -1) {
		if phrase = strings.Join(strings.Fields(phrase), " "); phrase != "" {
			w.phrases = append(w.phrases, phrase)
		}
	}
}
