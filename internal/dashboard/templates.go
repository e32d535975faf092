package dashboard

import (
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/model"
)

type indexData struct {
	Questions   []string
	Runs        []runSummary
	MaxUploadMB int64
}

type runData struct {
	Run     model.Run
	Running bool
	Done    int
	Header  []string
	Rows    [][]string
}

var funcs = template.FuncMap{
	"isError": func(s string) bool { return strings.HasPrefix(s, "ERROR:") },
	"last":    func(row []string) string { return row[len(row)-1] },
}

const layout = `{{define "head"}}<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Website Analyzer</title>
{{if .}}<meta http-equiv="refresh" content="2">{{end}}
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; margin-top: 1rem; }
th, td { border: 1px solid #ccc; padding: .35rem .6rem; vertical-align: top; text-align: left; max-width: 28rem; }
th { background: #f3f3f3; }
tr.error td { background: #fff1f0; }
.muted { color: #777; }
form.inline { display: inline; }
</style>
</head>
<body>
<h1><a href="/">Website Analyzer</a></h1>
{{end}}`

var indexPage = template.Must(template.New("index").Funcs(funcs).Parse(layout + `
{{template "head" false}}
<h2>Analyze websites</h2>
<form action="/runs" method="post" enctype="multipart/form-data">
<p>Upload a CSV or XLSX file with a company name column and a website column (up to {{.MaxUploadMB}} MB).</p>
<input type="file" name="file" accept=".csv,.tsv,.xlsx" required>
<button type="submit">Start analysis</button>
</form>

<h2>Questions</h2>
<ol>{{range .Questions}}<li>{{.}}</li>{{end}}</ol>

<h2>Runs</h2>
{{if .Runs}}
<table>
<tr><th>Started</th><th>Input</th><th>Status</th><th>Rows</th></tr>
{{range .Runs}}<tr>
<td><a href="/runs/{{.ID}}">{{.CreatedAt.Format "2006-01-02 15:04:05"}}</a></td>
<td>{{.Input}}</td><td>{{.Status}}</td><td>{{.Done}} / {{.Rows}}</td>
</tr>{{end}}
</table>
{{else}}<p class="muted">No runs yet.</p>{{end}}
</body></html>`))

var runPage = template.Must(template.New("run").Funcs(funcs).Parse(layout + `
{{template "head" .Running}}
<h2>{{.Run.Input}}</h2>
<p>Status: <strong>{{.Run.Status}}</strong>, {{.Done}} of {{.Run.Rows}} rows finished.</p>
{{if .Running}}
<form class="inline" action="/runs/{{.Run.ID}}/cancel" method="post"><button type="submit">Cancel run</button></form>
{{end}}
<a href="/runs/{{.Run.ID}}/results.csv">Download CSV</a> |
<a href="/runs/{{.Run.ID}}/results.json">Download JSON</a>
<table>
<tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr{{if isError (last .)}} class="error"{{end}}>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}
</table>
</body></html>`))

func render(w http.ResponseWriter, t *template.Template, data any) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		zap.L().Error("dashboard: render page failed", zap.String("page", t.Name()), zap.Error(err))
		http.Error(w, "could not render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(b.String())) //nolint:errcheck
}
