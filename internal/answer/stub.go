package answer

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-analyzer/pkg/anthropic"
)

var questionLine = regexp.MustCompile(`(?m)^\d+\. \[([^\]]+)\]`)

// questionsMarker introduces the question list in the default user template.
const questionsMarker = "Answer each of the following questions:"

// StubClient answers without calling the API. It reads question ids back
// out of the prompt and replies with a fixed placeholder, which makes
// offline runs and dry runs deterministic.
type StubClient struct {
	Answer string
}

// NewStubClient returns a StubClient with the default placeholder answer.
func NewStubClient() *StubClient {
	return &StubClient{Answer: "offline: not analysed"}
}

// CreateMessage implements anthropic.Client.
func (s *StubClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "stub: create message")
	}

	var prompt strings.Builder
	for _, m := range req.Messages {
		if m.Role == "user" {
			prompt.WriteString(m.Content)
			prompt.WriteByte('\n')
		}
	}

	questions := prompt.String()
	if idx := strings.LastIndex(questions, questionsMarker); idx >= 0 {
		questions = questions[idx+len(questionsMarker):]
	}

	answers := []replyAnswer{}
	for _, m := range questionLine.FindAllStringSubmatch(questions, -1) {
		value, _ := json.Marshal(s.Answer)
		answers = append(answers, replyAnswer{ID: m[1], Answer: value})
	}
	body, err := json.Marshal(reply{Answers: answers})
	if err != nil {
		return nil, eris.Wrap(err, "stub: encode reply")
	}

	return &anthropic.MessageResponse{
		ID:         "stub",
		Model:      req.Model,
		Content:    []anthropic.ContentBlock{{Type: "text", Text: string(body)}},
		StopReason: "end_turn",
		Usage: anthropic.TokenUsage{
			InputTokens:  int64(utf8.RuneCountInString(req.System+prompt.String()) / 4),
			OutputTokens: int64(len(body) / 4),
		},
	}, nil
}
