package questionnaire

import "github.com/zhouzirui/qinghe-assistant/internal/model/chat"

// Questionnaire 诊断前问卷，按诊断类型区分。
type Questionnaire struct {
	DiagnosisType string          `json:"diagnosisType"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Questions     []chat.Question `json:"questions"`
}

func single(id, text string, options ...string) chat.Question {
	return choice(id, text, chat.QuestionSingleChoice, options...)
}

func multiple(id, text string, options ...string) chat.Question {
	return choice(id, text, chat.QuestionMultipleChoice, options...)
}

func choice(id, text string, kind chat.QuestionType, options ...string) chat.Question {
	q := chat.Question{ID: id, Text: text, Type: kind, Required: true}
	for i, opt := range options {
		q.Options = append(q.Options, chat.QuestionOption{ID: string(rune('a' + i)), Text: opt})
	}
	return q
}

// Seed 默认的诊断前问卷。
func Seed() []Questionnaire {
	return []Questionnaire{
		{
			DiagnosisType: "tongue",
			Title:         "舌诊前问卷",
			Description:   "拍摄舌象前，先了解一下你最近的身体状况。",
			Questions: []chat.Question{
				single("q1", "最近一周的睡眠质量如何？", "很好", "一般", "较差"),
				single("q2", "是否经常口干口苦？", "经常", "偶尔", "没有"),
				multiple("q3", "近期是否有以下情况？", "食欲不振", "大便不成形", "容易疲劳", "手脚冰凉"),
				{ID: "q4", Text: "拍摄前是否刚进食或饮用有色饮料？", Type: chat.QuestionText},
			},
		},
		{
			DiagnosisType: "face",
			Title:         "面诊前问卷",
			Description:   "拍摄面部前，先回答几个简单的问题。",
			Questions: []chat.Question{
				single("q1", "最近是否经常熬夜？", "经常", "偶尔", "没有"),
				single("q2", "面部是否容易出油或长痘？", "是", "否"),
				multiple("q3", "近期是否有以下情况？", "面色发黄", "眼圈发黑", "口唇偏淡", "容易上火"),
			},
		},
	}
}
