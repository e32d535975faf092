package answer

import (
	"strings"
	"text/template"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-analyzer/internal/model"
)

const defaultSystemPrompt = `You are a research analyst who reads the text of a company's website and answers questions about that company. Base every answer only on the provided text. When the text does not contain the information, say that it is not stated. Respond with a single valid JSON object and nothing else.`

// defaultUserTemplate lists questions as "N. [id] text". The offline stub
// client reads the ids back from that layout.
const defaultUserTemplate = `Company: {{.Company}}
Website: {{.URL}}

Website content{{if .Truncated}} (truncated){{end}}:
---
{{.Content}}
---

Answer each of the following questions:
{{range .Questions}}{{.Number}}. [{{.ID}}] {{.Text}}{{if .YesNo}} Answer "Yes" or "No".{{end}}{{if .Instructions}} {{.Instructions}}{{end}}
{{end}}
Respond with JSON of the form {"answers":[{"id":"<question id>","answer":"<answer>"}]} with exactly {{len .Questions}} answers, in the same order as the questions. Keep each answer concise.`

type promptQuestion struct {
	Number       int
	ID           string
	Text         string
	YesNo        bool
	Instructions string
}

type promptData struct {
	Company   string
	URL       string
	Content   string
	Truncated bool
	Empty     bool
	Questions []promptQuestion
}

type prompter struct {
	system   *template.Template
	user     *template.Template
	maxChars int
	empty    string
}

func newPrompter(cfg Config) (*prompter, error) {
	systemText := cfg.SystemPrompt
	if strings.TrimSpace(systemText) == "" {
		systemText = defaultSystemPrompt
	}
	userText := cfg.UserTemplate
	if strings.TrimSpace(userText) == "" {
		userText = defaultUserTemplate
	}

	system, err := template.New("system").Option("missingkey=error").Parse(systemText)
	if err != nil {
		return nil, eris.Wrap(err, "answer: parse system prompt")
	}
	user, err := template.New("user").Option("missingkey=error").Parse(userText)
	if err != nil {
		return nil, eris.Wrap(err, "answer: parse user template")
	}
	return &prompter{system: system, user: user, maxChars: cfg.MaxContentChars, empty: cfg.EmptyMarker}, nil
}

// render builds the system and user messages for one record.
func (p *prompter) render(rec model.Record, text string, qs model.QuestionSet) (string, string, error) {
	data := promptData{Company: rec.Company, URL: rec.URL}

	data.Content, data.Truncated = truncate(strings.TrimSpace(text), p.maxChars)
	if data.Content == "" {
		data.Empty = true
		data.Content = p.empty
	}
	for i, q := range qs.Questions {
		data.Questions = append(data.Questions, promptQuestion{
			Number:       i + 1,
			ID:           q.ID,
			Text:         q.Text,
			YesNo:        q.Type == model.QuestionYesNo,
			Instructions: q.Instructions,
		})
	}

	var sys, user strings.Builder
	if err := p.system.Execute(&sys, data); err != nil {
		return "", "", eris.Wrap(err, "answer: render system prompt")
	}
	if err := p.user.Execute(&user, data); err != nil {
		return "", "", eris.Wrap(err, "answer: render user prompt")
	}
	return sys.String(), user.String(), nil
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) (string, bool) {
	if n <= 0 || len(s) <= n {
		return s, false
	}
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}
