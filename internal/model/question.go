package model

// QuestionType controls how an answer is normalised.
type QuestionType string

const (
	QuestionText  QuestionType = "text"
	QuestionYesNo QuestionType = "yes_no"
)

// Question is one entry of the fixed QuestionSet.
type Question struct {
	ID           string       `json:"id" yaml:"id"`
	Text         string       `json:"text" yaml:"text"`
	Type         QuestionType `json:"type,omitempty" yaml:"type,omitempty"`
	Instructions string       `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// QuestionSet is the ordered, process-wide list of questions. It is loaded
// once and never mutated.
type QuestionSet struct {
	Questions []Question `json:"questions" yaml:"questions"`
}

// Len returns the number of questions.
func (qs QuestionSet) Len() int { return len(qs.Questions) }

// Texts returns the question texts in order.
func (qs QuestionSet) Texts() []string {
	out := make([]string, len(qs.Questions))
	for i, q := range qs.Questions {
		out[i] = q.Text
	}
	return out
}

// QA pairs a question with its answer.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// AnswerResult is the terminal per-record outcome. Either Error is set and
// Answers is empty, or Answers holds exactly one pair per question in
// QuestionSet order.
type AnswerResult struct {
	Record    Record     `json:"record"`
	Answers   []QA       `json:"answers"`
	Error     *RowError  `json:"error,omitempty"`
	Pages     int        `json:"pages,omitempty"`
	Usage     TokenUsage `json:"usage"`
	FromCache bool       `json:"from_cache,omitempty"`
}

// Failed reports whether the row carries an error.
func (r AnswerResult) Failed() bool { return r.Error != nil }

// Failure builds an error-carrying result with no answers.
func Failure(rec Record, err *RowError) AnswerResult {
	return AnswerResult{Record: rec, Answers: []QA{}, Error: err}
}

// ResultTable holds one AnswerResult per input row, in input order.
type ResultTable struct {
	Questions QuestionSet    `json:"questions"`
	Results   []AnswerResult `json:"results"`
}

// Counts tallies succeeded and failed rows.
func (t ResultTable) Counts() (succeeded, failed int) {
	for _, r := range t.Results {
		if r.Failed() {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.Cost += other.Cost
}
