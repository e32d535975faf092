package registry

import (
	"context"
	"sort"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/pkg/notion"
)

// LoadNotion queries a Notion question database for active questions. Each
// page is one question: Question (title), Key (rich text), Type (select),
// Instructions (rich text), Order (number) and Status (status).
func LoadNotion(ctx context.Context, client notion.Client, dbID string) (model.QuestionSet, error) {
	if dbID == "" {
		return model.QuestionSet{}, eris.New("registry: notion question database id is empty")
	}

	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: "Active",
			},
		},
	}

	pages, err := notion.QueryAll(ctx, client, dbID, filter)
	if err != nil {
		return model.QuestionSet{}, eris.Wrap(err, "registry: load notion questions")
	}

	type ordered struct {
		q     model.Question
		order float64
	}
	var rows []ordered
	for _, p := range pages {
		q, order, err := parseQuestionPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed question page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		rows = append(rows, ordered{q: q, order: order})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].order < rows[j].order })

	var qs model.QuestionSet
	for _, r := range rows {
		qs.Questions = append(qs.Questions, r.q)
	}
	return Normalize(qs)
}

func parseQuestionPage(p notionapi.Page) (model.Question, float64, error) {
	var q model.Question
	var order float64

	if tp, ok := p.Properties["Question"].(*notionapi.TitleProperty); ok {
		q.Text = notion.PlainText(tp.Title)
	}
	if rtp, ok := p.Properties["Key"].(*notionapi.RichTextProperty); ok {
		q.ID = notion.PlainText(rtp.RichText)
	}
	if sp, ok := p.Properties["Type"].(*notionapi.SelectProperty); ok {
		q.Type = model.QuestionType(sp.Select.Name)
	}
	if rtp, ok := p.Properties["Instructions"].(*notionapi.RichTextProperty); ok {
		q.Instructions = notion.PlainText(rtp.RichText)
	}
	if np, ok := p.Properties["Order"].(*notionapi.NumberProperty); ok {
		order = np.Number
	}

	if q.Text == "" {
		return q, 0, eris.New("missing Question property")
	}
	return q, order, nil
}
