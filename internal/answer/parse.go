package answer

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rotisserie/eris"

	"github.com/sells-group/site-analyzer/internal/model"
)

type replyAnswer struct {
	ID     string          `json:"id"`
	Answer json.RawMessage `json:"answer"`
}

type reply struct {
	Answers []replyAnswer `json:"answers"`
}

// parseAnswers maps a model reply onto the question set by position. Any
// mismatch fails the whole reply; partial answers are never returned.
func parseAnswers(text string, qs model.QuestionSet) ([]model.QA, error) {
	answers, err := decodeReply(text)
	if err != nil {
		return nil, err
	}
	if len(answers) != qs.Len() {
		return nil, eris.Errorf("reply has %d answers for %d questions", len(answers), qs.Len())
	}

	out := make([]model.QA, len(answers))
	for i, a := range answers {
		q := qs.Questions[i]
		if a.ID != "" && !strings.EqualFold(strings.TrimSpace(a.ID), q.ID) {
			return nil, eris.Errorf("answer %d is for %q, expected %q", i+1, a.ID, q.ID)
		}
		if len(a.Answer) == 0 || string(a.Answer) == "null" {
			return nil, eris.Errorf("answer %d (%s) has no value", i+1, q.ID)
		}
		value := rawString(a.Answer)
		if q.Type == model.QuestionYesNo {
			value = normalizeYesNo(value)
		}
		out[i] = model.QA{Question: q.Text, Answer: value}
	}
	return out, nil
}

func decodeReply(text string) ([]replyAnswer, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("empty reply")
	}

	answers, err := unmarshalAnswers(cleaned)
	if err == nil {
		return answers, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(cleaned)
	if repairErr != nil {
		return nil, eris.Wrap(err, "reply is not JSON")
	}
	answers, err = unmarshalAnswers(repaired)
	if err != nil {
		return nil, eris.Wrap(err, "reply is not JSON")
	}
	return answers, nil
}

// unmarshalAnswers accepts {"answers":[...]} or a bare array. In both forms
// an element is either an answer object or a plain value.
func unmarshalAnswers(s string) ([]replyAnswer, error) {
	if strings.HasPrefix(s, "[") {
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(s), &arr); err != nil {
			return nil, err
		}
		return fromArray(arr)
	}

	var r struct {
		Answers []json.RawMessage `json:"answers"`
	}
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, err
	}
	if r.Answers == nil {
		return nil, eris.New(`reply has no "answers" array`)
	}
	return fromArray(r.Answers)
}

// fromArray decodes answer elements. An object must carry an "answer" key;
// any other value is the answer itself.
func fromArray(arr []json.RawMessage) ([]replyAnswer, error) {
	out := make([]replyAnswer, len(arr))
	for i, raw := range arr {
		trimmed := bytes.TrimSpace(raw)
		if !bytes.HasPrefix(trimmed, []byte("{")) {
			out[i] = replyAnswer{Answer: trimmed}
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, err
		}
		value, ok := fields["answer"]
		if !ok {
			return nil, eris.Errorf(`answer %d has no "answer" field`, i+1)
		}
		var id string
		if rawID, ok := fields["id"]; ok {
			id = rawString(rawID)
		}
		out[i] = replyAnswer{ID: id, Answer: value}
	}
	return out, nil
}

// rawString renders a JSON answer value as display text.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

// normalizeYesNo maps answers whose first word is yes/no (or true/false)
// to "Yes"/"No" and leaves anything else alone.
func normalizeYesNo(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return !unicode.IsLetter(r) })
	if len(words) == 0 {
		return s
	}
	switch words[0] {
	case "yes", "true":
		return "Yes"
	case "no", "false":
		return "No"
	}
	return s
}

// cleanJSON strips code fences and surrounding prose from a model reply.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if rest, ok := strings.CutPrefix(text, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		if idx := strings.LastIndex(rest, "```"); idx >= 0 {
			rest = rest[:idx]
		}
		text = strings.TrimSpace(rest)
	}

	opener, closer := "{", "}"
	obj, arr := strings.Index(text, "{"), strings.Index(text, "[")
	if arr >= 0 && (obj < 0 || arr < obj) {
		opener, closer = "[", "]"
	}
	start := strings.Index(text, opener)
	end := strings.LastIndex(text, closer)
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
