// Package present turns a ResultTable into flat, column-aligned output for
// terminals, CSV files and JSON consumers.
package present

import (
	"strconv"
	"strings"

	"github.com/sells-group/site-analyzer/internal/model"
)

// Fixed column headers.
const (
	ColumnCompany = "Company"
	ColumnWebsite = "Website"
	ColumnStatus  = "Status"
)

// StatusOK marks a row whose questions were all answered.
const StatusOK = "OK"

// View is a rectangular projection of a ResultTable. Every row has exactly
// len(Header) cells.
type View struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Project lays out one row per result: Company, Website, pass-through
// columns in first-seen order, one column per question, then Status.
// Failed rows have empty answer cells. The table is not modified.
//
// Pass-through columns never share a header with each other or with the
// fixed and question columns: a repeated name gets " (2)", and a name that
// matches a fixed or question column gets " (input)".
func Project(t model.ResultTable) View {
	extras := extraColumns(t.Results)
	questions := t.Questions.Texts()
	nq := t.Questions.Len()

	header := make([]string, 0, 3+len(extras)+nq)
	header = append(header, ColumnCompany, ColumnWebsite)
	header = append(header, extraLabels(extras, questions)...)
	header = append(header, questions...)
	header = append(header, ColumnStatus)

	rows := make([][]string, len(t.Results))
	for i, res := range t.Results {
		row := make([]string, 0, len(header))
		row = append(row, res.Record.Company, res.Record.URL)
		values := extraValues(res.Record)
		for _, key := range extras {
			row = append(row, values[key])
		}
		for q := range nq {
			var cell string
			if res.Error == nil && q < len(res.Answers) {
				cell = res.Answers[q].Answer
			}
			row = append(row, cell)
		}
		row = append(row, Status(res))
		rows[i] = row
	}
	return View{Header: header, Rows: rows}
}

// Status renders the Status cell for one result.
func Status(res model.AnswerResult) string {
	if res.Error != nil {
		return "ERROR: " + res.Error.String()
	}
	return StatusOK
}

// extraKey identifies the nth column with a given name in a record, so
// repeated names stay distinct.
type extraKey struct {
	name string
	nth  int
}

func extraValues(rec model.Record) map[extraKey]string {
	values := make(map[extraKey]string, len(rec.Extra))
	counts := make(map[string]int, len(rec.Extra))
	for _, f := range rec.Extra {
		counts[f.Name]++
		values[extraKey{f.Name, counts[f.Name]}] = f.Value
	}
	return values
}

func extraColumns(results []model.AnswerResult) []extraKey {
	var keys []extraKey
	seen := make(map[extraKey]bool)
	for _, res := range results {
		counts := make(map[string]int, len(res.Record.Extra))
		for _, f := range res.Record.Extra {
			counts[f.Name]++
			key := extraKey{f.Name, counts[f.Name]}
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys
}

func extraLabels(keys []extraKey, questions []string) []string {
	reserved := make(map[string]bool, 3+len(questions))
	for _, h := range append([]string{ColumnCompany, ColumnWebsite, ColumnStatus}, questions...) {
		reserved[strings.ToLower(h)] = true
	}

	used := make(map[string]bool, len(keys))
	labels := make([]string, len(keys))
	for i, key := range keys {
		base := key.name
		if key.nth > 1 {
			base += " (" + strconv.Itoa(key.nth) + ")"
		}
		if reserved[strings.ToLower(base)] {
			base += " (input)"
		}
		label := base
		for n := 2; used[strings.ToLower(label)] || reserved[strings.ToLower(label)]; n++ {
			label = base + " (" + strconv.Itoa(n) + ")"
		}
		used[strings.ToLower(label)] = true
		labels[i] = label
	}
	return labels
}
