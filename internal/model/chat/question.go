package chat

// QuestionType 问卷题型。
type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionText           QuestionType = "text"
)

// QuestionOption 选择题选项。
type QuestionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question 问卷中的一道题。
type Question struct {
	ID       string           `json:"id"`
	Text     string           `json:"text"`
	Type     QuestionType     `json:"type"`
	Required bool             `json:"required"`
	Options  []QuestionOption `json:"options,omitempty"`
}

// Clone returns a deep copy of the question.
func (q Question) Clone() Question {
	out := q
	if q.Options != nil {
		out.Options = append([]QuestionOption(nil), q.Options...)
	}
	return out
}
