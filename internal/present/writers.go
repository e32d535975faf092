package present

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rotisserie/eris"

	"github.com/sells-group/site-analyzer/internal/model"
)

// cellWidth caps terminal columns; longer answers wrap.
const cellWidth = 48

// WriteTable renders the view as a terminal table.
func WriteTable(w io.Writer, v View) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Options.SeparateRows = true

	header := make(table.Row, len(v.Header))
	configs := make([]table.ColumnConfig, len(v.Header))
	for i, h := range v.Header {
		header[i] = h
		configs[i] = table.ColumnConfig{
			Number:           i + 1,
			WidthMax:         cellWidth,
			WidthMaxEnforcer: text.WrapSoft,
		}
	}
	t.AppendHeader(header)
	t.SetColumnConfigs(configs)

	failed := 0
	for _, r := range v.Rows {
		row := make(table.Row, len(r))
		for i, c := range r {
			row[i] = c
		}
		if r[len(r)-1] != StatusOK {
			failed++
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{"Total", len(v.Rows), fmt.Sprintf("%d failed", failed)})

	t.Render()
	return nil
}

// WriteCSV writes the view with a header row.
func WriteCSV(w io.Writer, v View) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(v.Header); err != nil {
		return eris.Wrap(err, "present: write csv header")
	}
	if err := cw.WriteAll(v.Rows); err != nil {
		return eris.Wrap(err, "present: write csv rows")
	}
	return nil
}

type jsonDocument struct {
	Questions []model.Question `json:"questions"`
	Results   []jsonResult     `json:"results"`
}

type jsonResult struct {
	Index   int             `json:"index"`
	Company string          `json:"company"`
	Website string          `json:"website"`
	Extra   []model.Field   `json:"extra,omitempty"`
	Answers []model.QA      `json:"answers"`
	Error   *model.RowError `json:"error,omitempty"`
	Status  string          `json:"status"`
}

// WriteJSON writes the table as an indented JSON document. Only row content
// is included, so repeated runs over the same input produce the same bytes
// whether or not answers came from the cache.
func WriteJSON(w io.Writer, t model.ResultTable) error {
	doc := jsonDocument{
		Questions: t.Questions.Questions,
		Results:   make([]jsonResult, len(t.Results)),
	}
	if doc.Questions == nil {
		doc.Questions = []model.Question{}
	}
	for i, res := range t.Results {
		answers := res.Answers
		if answers == nil {
			answers = []model.QA{}
		}
		doc.Results[i] = jsonResult{
			Index:   res.Record.Index,
			Company: res.Record.Company,
			Website: res.Record.URL,
			Extra:   res.Record.Extra,
			Answers: answers,
			Error:   res.Error,
			Status:  Status(res),
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return eris.Wrap(err, "present: write json")
	}
	return nil
}

// Write renders t in the named format: table, csv or json.
func Write(w io.Writer, format string, t model.ResultTable) error {
	switch format {
	case "", "table":
		return WriteTable(w, Project(t))
	case "csv":
		return WriteCSV(w, Project(t))
	case "json":
		return WriteJSON(w, t)
	default:
		return eris.Errorf("present: unknown format %q", format)
	}
}
