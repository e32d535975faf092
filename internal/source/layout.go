package source

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-analyzer/internal/model"
)

// layout maps header positions to Record fields.
type layout struct {
	header  []string
	company int
	url     int
}

func resolve(header []string, opts Options) (layout, error) {
	clean := make([]string, len(header))
	for i, h := range header {
		clean[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	company, err := findColumn(clean, "company", opts.CompanyColumn, companyAliases)
	if err != nil {
		return layout{}, err
	}
	url, err := findColumn(clean, "website", opts.URLColumn, urlAliases)
	if err != nil {
		return layout{}, err
	}
	if company == url {
		return layout{}, eris.Errorf("column %q cannot be both company and website", clean[company])
	}
	return layout{header: uniqueNames(clean), company: company, url: url}, nil
}

// uniqueNames gives every column a distinct name so pass-through values
// never shadow each other. Blank headers become "Column N" (1-based) and
// repeats get a " (2)", " (3)" suffix. Names compare case-insensitively.
func uniqueNames(header []string) []string {
	reserved := make(map[string]bool, len(header))
	for _, h := range header {
		if h != "" {
			reserved[strings.ToLower(h)] = true
		}
	}

	used := make(map[string]bool, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		base := h
		if base == "" {
			base = "Column " + strconv.Itoa(i+1)
		}
		name := base
		for n := 2; used[strings.ToLower(name)] || (name != h && reserved[strings.ToLower(name)]); n++ {
			name = base + " (" + strconv.Itoa(n) + ")"
		}
		used[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

// findColumn matches case-insensitively. A configured name disables the
// aliases; otherwise aliases are tried in priority order.
func findColumn(header []string, role, configured string, aliases []string) (int, error) {
	candidates := aliases
	if configured != "" {
		candidates = []string{configured}
	}
	for _, want := range candidates {
		for i, h := range header {
			if strings.EqualFold(h, strings.TrimSpace(want)) {
				return i, nil
			}
		}
	}
	return -1, eris.Errorf("missing %s column (looked for %s)", role, strings.Join(quoted(candidates), ", "))
}

func quoted(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}

func (l layout) record(idx int, row []string) model.Record {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	rec := model.Record{
		Index:   idx,
		Company: cell(l.company),
		URL:     NormalizeURL(cell(l.url)),
	}
	for i, name := range l.header {
		if i == l.company || i == l.url {
			continue
		}
		rec.Extra = append(rec.Extra, model.Field{Name: name, Value: cell(i)})
	}
	return rec
}
