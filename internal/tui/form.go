package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
)

// form 是逐题作答的问卷状态。
type form struct {
	messageID     string
	diagnosisType string
	questions     []chat.Question

	index    int
	cursor   int
	selected map[string]map[string]bool
	answers  map[string]string
}

func newForm(messageID, diagnosisType string, questions []chat.Question) *form {
	return &form{
		messageID:     messageID,
		diagnosisType: diagnosisType,
		questions:     questions,
		selected:      make(map[string]map[string]bool),
		answers:       make(map[string]string),
	}
}

func (f *form) current() (chat.Question, bool) {
	if f.index < 0 || f.index >= len(f.questions) {
		return chat.Question{}, false
	}
	return f.questions[f.index], true
}

func (f *form) move(delta int) {
	q, ok := f.current()
	if !ok || len(q.Options) == 0 {
		return
	}
	f.cursor = (f.cursor + delta + len(q.Options)) % len(q.Options)
}

// toggle 切换多选题当前光标处的选项。
func (f *form) toggle() {
	q, ok := f.current()
	if !ok || q.Type != chat.QuestionMultipleChoice || len(q.Options) == 0 {
		return
	}
	id := q.Options[f.cursor].ID
	set := f.selected[q.ID]
	if set == nil {
		set = make(map[string]bool)
		f.selected[q.ID] = set
	}
	set[id] = !set[id]
}

func (f *form) isSelected(questionID, optionID string) bool {
	return f.selected[questionID][optionID]
}

// confirm 记录当前题的答案并前进，最后一题确认后返回 done。
func (f *form) confirm(text string) (done bool, err error) {
	q, ok := f.current()
	if !ok {
		return true, nil
	}

	var value string
	switch q.Type {
	case chat.QuestionSingleChoice:
		if len(q.Options) > 0 {
			value = q.Options[f.cursor].ID
		}
	case chat.QuestionMultipleChoice:
		picked := make([]string, 0, len(f.selected[q.ID]))
		for id, on := range f.selected[q.ID] {
			if on {
				picked = append(picked, id)
			}
		}
		sort.Strings(picked)
		value = strings.Join(picked, ",")
	default:
		value = strings.TrimSpace(text)
	}

	if value == "" {
		if q.Required {
			return false, fmt.Errorf("%w: %s", questionnaire.ErrIncomplete, q.Text)
		}
		delete(f.answers, q.ID)
	} else {
		f.answers[q.ID] = value
	}

	f.index++
	f.cursor = 0
	return f.index >= len(f.questions), nil
}

func (f *form) back() {
	if f.index > 0 {
		f.index--
		f.cursor = 0
	}
}

func (f *form) progress() string {
	return fmt.Sprintf("%d/%d", min(f.index+1, len(f.questions)), len(f.questions))
}

func (f *form) result() map[string]string {
	out := make(map[string]string, len(f.answers))
	for k, v := range f.answers {
		out[k] = v
	}
	return out
}
