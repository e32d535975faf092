// Package source reads company rows from CSV, TSV and XLSX tables.
package source

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-analyzer/internal/config"
	"github.com/sells-group/site-analyzer/internal/model"
)

// Options configures column matching. Empty column names fall back to the
// built-in aliases.
type Options struct {
	CompanyColumn string
	URLColumn     string
	Sheet         string // XLSX only; empty means the first sheet
}

// OptionsFromConfig maps the input config section to Options.
func OptionsFromConfig(cfg config.InputConfig) Options {
	return Options{
		CompanyColumn: cfg.CompanyColumn,
		URLColumn:     cfg.URLColumn,
		Sheet:         cfg.Sheet,
	}
}

// Source is a restartable sequence of Records. Each Stream call re-reads
// the underlying input from the start.
type Source interface {
	Name() string
	Header() []string
	Stream(ctx context.Context) (<-chan model.Record, <-chan error)
}

var (
	companyAliases = []string{"company", "company name", "name", "organization"}
	urlAliases     = []string{"website", "url", "domain", "company website"}
)

// readFunc sends every row of a table, header included, to out.
type readFunc func(ctx context.Context, out chan<- []string) error

// Open opens a table file. The reader is chosen by extension and the
// header is validated before Open returns.
func Open(path string, opts Options) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}

	var read readFunc
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		read = csvFile(path, ',')
	case ".tsv":
		read = csvFile(path, '\t')
	case ".xlsx":
		read = xlsxFile(path, opts.Sheet)
	default:
		return nil, &model.InputFormatError{Input: path, Reason: "unsupported file type (want .csv, .tsv or .xlsx)"}
	}
	return newTable(filepath.Base(path), read, opts)
}

// FromReader reads an in-memory upload. The content is buffered so the
// returned Source stays restartable. XLSX is detected by name or by its
// zip signature; anything else is parsed as CSV.
func FromReader(name string, r io.Reader, opts Options) (Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", name)
	}

	var read readFunc
	switch ext := strings.ToLower(filepath.Ext(name)); {
	case ext == ".xlsx" || bytes.HasPrefix(data, []byte("PK\x03\x04")):
		read = xlsxBytes(data, opts.Sheet)
	case ext == ".tsv":
		read = csvBytes(data, '\t')
	default:
		read = csvBytes(data, ',')
	}
	return newTable(name, read, opts)
}

// ReadAll drains a Source into a slice.
func ReadAll(ctx context.Context, src Source) ([]model.Record, error) {
	recCh, errCh := src.Stream(ctx)
	var records []model.Record
	for rec := range recCh {
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return records, err
	}
	return records, nil
}

type table struct {
	name   string
	read   readFunc
	layout layout
}

func newTable(name string, read readFunc, opts Options) (*table, error) {
	header, err := readHeader(read)
	if err != nil {
		return nil, &model.InputFormatError{Input: name, Reason: err.Error()}
	}
	if len(header) == 0 {
		return nil, &model.InputFormatError{Input: name, Reason: "input is empty"}
	}

	l, err := resolve(header, opts)
	if err != nil {
		return nil, &model.InputFormatError{Input: name, Reason: err.Error()}
	}
	return &table{name: name, read: read, layout: l}, nil
}

func (t *table) Name() string { return t.name }

func (t *table) Header() []string { return append([]string(nil), t.layout.header...) }

// Stream emits one Record per non-blank data row. Both channels are closed
// when the input is exhausted or ctx is cancelled.
func (t *table) Stream(ctx context.Context) (<-chan model.Record, <-chan error) {
	recCh := make(chan model.Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		rows := make(chan []string, 64)
		readErr := make(chan error, 1)
		go func() {
			defer close(rows)
			readErr <- t.read(ctx, rows)
		}()

		first := true
		idx := 0
		for row := range rows {
			if first {
				first = false
				continue
			}
			if blank(row) {
				continue
			}
			select {
			case recCh <- t.layout.record(idx, row):
				idx++
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "source: context cancelled")
				return
			}
		}
		if err := <-readErr; err != nil {
			errCh <- eris.Wrapf(err, "source: read %s", t.name)
		}
	}()

	return recCh, errCh
}

// readHeader returns the first row of the table, or nil for empty input.
func readHeader(read readFunc) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan []string)
	errc := make(chan error, 1)
	go func() { errc <- read(ctx, out) }()

	select {
	case row := <-out:
		return row, nil
	case err := <-errc:
		return nil, err
	}
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// NormalizeURL trims a website cell and prepends https:// when no scheme
// is present. Blank input stays blank.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "://") {
		u = "https://" + u
	}
	return u
}
