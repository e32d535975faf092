package registry

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-analyzer/internal/model"
)

func questionPage(id, text, key, qtype string, order float64) notionapi.Page {
	props := notionapi.Properties{
		"Question": &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: text}}},
		"Key":      &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: key}}},
		"Order":    &notionapi.NumberProperty{Number: order},
		"Status":   &notionapi.StatusProperty{Status: notionapi.Status{Name: "Active"}},
	}
	if qtype != "" {
		props["Type"] = &notionapi.SelectProperty{Select: notionapi.Option{Name: qtype}}
	}
	return notionapi.Page{ID: notionapi.ObjectID(id), Properties: props}
}

func TestLoadNotion(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "qdb", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == "Status" && pf.Status != nil && pf.Status.Equals == "Active"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{
			questionPage("p2", "What do they sell?", "product", "text", 2),
			questionPage("p1", "Is this an agency?", "agency", "yes_no", 1),
			{ID: "p3", Properties: notionapi.Properties{}},
		},
	}, nil).Once()

	qs, err := LoadNotion(ctx, mc, "qdb")
	require.NoError(t, err)
	require.Equal(t, 2, qs.Len())
	assert.Equal(t, "agency", qs.Questions[0].ID)
	assert.Equal(t, model.QuestionYesNo, qs.Questions[0].Type)
	assert.Equal(t, "product", qs.Questions[1].ID)
	mc.AssertExpectations(t)
}

func TestLoadNotion_Errors(t *testing.T) {
	_, err := LoadNotion(context.Background(), new(mockNotionClient), "")
	assert.Error(t, err)

	mc := new(mockNotionClient)
	mc.On("QueryDatabase", mock.Anything, "qdb", mock.Anything).Return(nil, assert.AnError).Once()
	_, err = LoadNotion(context.Background(), mc, "qdb")
	assert.Error(t, err)
}
