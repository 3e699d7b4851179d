package questionnaire

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

// ErrIncomplete 必答题未作答。
var ErrIncomplete = errors.New("请完成所有必填问题")

// Merge 合并单值答案与多选答案，多选的选项 id 排序后以逗号拼接。
func Merge(single map[string]string, multiple map[string][]string) map[string]string {
	out := make(map[string]string, len(single)+len(multiple))
	for id, v := range single {
		out[id] = v
	}
	for id, selected := range multiple {
		if len(selected) == 0 {
			continue
		}
		sorted := append([]string(nil), selected...)
		sort.Strings(sorted)
		out[id] = strings.Join(sorted, ",")
	}
	return out
}

// Validate 校验必答题均已作答，且选择题答案引用的是已知选项。
func Validate(questions []chat.Question, answers map[string]string) error {
	for _, q := range questions {
		value := strings.TrimSpace(answers[q.ID])
		if value == "" {
			if q.Required {
				return fmt.Errorf("%w: %s", ErrIncomplete, q.ID)
			}
			continue
		}
		if q.Type == chat.QuestionText || len(q.Options) == 0 {
			continue
		}
		picked := []string{value}
		if q.Type == chat.QuestionMultipleChoice {
			picked = strings.Split(value, ",")
		}
		for _, p := range picked {
			if !hasOption(q, p) {
				return fmt.Errorf("question %s: unknown option %q", q.ID, p)
			}
		}
	}
	return nil
}

func hasOption(q chat.Question, id string) bool {
	for _, opt := range q.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}
