// Package registry loads the QuestionSet asked about every website.
package registry

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/site-analyzer/internal/config"
	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/pkg/notion"
)

// Builtin returns the default questions.
func Builtin() model.QuestionSet {
	return model.QuestionSet{Questions: []model.Question{
		{
			ID:   "is_consultancy_agency_outsourcing",
			Type: model.QuestionYesNo,
			Text: "Based on the website content, does this company primarily operate as a consultancy, " +
				"an agency, or an outsourcing firm that provides custom digital, software, or data solutions " +
				"and services to other businesses/clients, rather than focusing on selling its own distinct product(s)?",
		},
		{
			ID:   "main_product_service",
			Type: model.QuestionText,
			Text: "What is the main product or service offered by this company according to the website content?",
		},
		{
			ID:   "technologies_industries",
			Type: model.QuestionText,
			Text: "Are there any specific technologies or industries mentioned that this company focuses on according to the website?",
		},
	}}
}

// Load resolves the configured question source.
func Load(ctx context.Context, cfg config.QuestionsConfig, nc config.NotionConfig) (model.QuestionSet, error) {
	switch cfg.Source {
	case "", "builtin":
		return Builtin(), nil
	case "file":
		return LoadFile(cfg.File)
	case "notion":
		client := notion.NewClient(nc.Token)
		return LoadNotion(ctx, client, nc.QuestionDB)
	default:
		return model.QuestionSet{}, eris.Errorf("registry: unknown question source %q", cfg.Source)
	}
}

// LoadFile reads a QuestionSet from YAML or JSON. Both a top-level list and
// a {"questions": [...]} document are accepted.
func LoadFile(path string) (model.QuestionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.QuestionSet{}, eris.Wrap(err, "registry: read questions file")
	}

	var qs model.QuestionSet
	if err := yaml.Unmarshal(data, &qs); err != nil || len(qs.Questions) == 0 {
		var list []model.Question
		if lerr := yaml.Unmarshal(data, &list); lerr != nil {
			if err == nil {
				err = lerr
			}
			return model.QuestionSet{}, eris.Wrapf(err, "registry: parse %s", path)
		}
		qs.Questions = list
	}

	return Normalize(qs)
}

var idSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// Normalize validates a QuestionSet and fills defaults: missing IDs become
// q1, q2, ... and a missing type becomes text. Order is preserved.
func Normalize(qs model.QuestionSet) (model.QuestionSet, error) {
	if len(qs.Questions) == 0 {
		return qs, eris.New("registry: question set is empty")
	}

	out := model.QuestionSet{Questions: make([]model.Question, 0, len(qs.Questions))}
	seen := make(map[string]bool, len(qs.Questions))
	for i, q := range qs.Questions {
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			return qs, eris.Errorf("registry: question %d has no text", i+1)
		}

		q.ID = idSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(q.ID)), "_")
		if q.ID == "" {
			q.ID = fmt.Sprintf("q%d", i+1)
		}
		if seen[q.ID] {
			return qs, eris.Errorf("registry: duplicate question id %q", q.ID)
		}
		seen[q.ID] = true

		switch q.Type {
		case "":
			q.Type = model.QuestionText
		case model.QuestionText, model.QuestionYesNo:
		case "json_yes_no", "yesno", "boolean":
			q.Type = model.QuestionYesNo
		default:
			return qs, eris.Errorf("registry: question %q has unknown type %q", q.ID, q.Type)
		}
		out.Questions = append(out.Questions, q)
	}

	zap.L().Debug("registry: question set loaded", zap.Int("questions", out.Len()))
	return out, nil
}
