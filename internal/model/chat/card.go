package chat

import (
	"fmt"
	"strings"
)

// CardType 动作卡片类型。
type CardType string

const (
	CardQuestionnaire   CardType = "questionnaire"
	CardTongueDiagnosis CardType = "tongue_diagnosis"
	CardFaceDiagnosis   CardType = "face_diagnosis"
)

// DiagnosisCardType 返回某诊断类型对应的拍摄卡片类型，例如 tongue -> tongue_diagnosis。
func DiagnosisCardType(diagnosisType string) CardType {
	return CardType(diagnosisType + "_diagnosis")
}

// ButtonType 按钮样式。
type ButtonType string

const (
	ButtonPrimary   ButtonType = "primary"
	ButtonSecondary ButtonType = "secondary"
	ButtonCompleted ButtonType = "completed"
)

// CardButton 卡片上的一个按钮。
type CardButton struct {
	Text       string     `json:"text"`
	Type       ButtonType `json:"type"`
	Action     string     `json:"action"`
	IsDisabled bool       `json:"isDisabled,omitempty"`
}

// ActionCard 嵌入在助手消息中的交互卡片（问卷、拍照等）。
type ActionCard struct {
	Type          CardType     `json:"type"`
	DiagnosisType string       `json:"diagnosisType,omitempty"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Reason        string       `json:"reason,omitempty"`
	Icon          string       `json:"icon,omitempty"`
	Buttons       []CardButton `json:"buttons"`
	Tips          []string     `json:"tips,omitempty"`
	IsCompleted   bool         `json:"isCompleted,omitempty"`
}

// Clone returns a deep copy of the card.
func (c ActionCard) Clone() ActionCard {
	out := c
	if c.Buttons != nil {
		out.Buttons = append([]CardButton(nil), c.Buttons...)
	}
	if c.Tips != nil {
		out.Tips = append([]string(nil), c.Tips...)
	}
	return out
}

// Primary returns the primary button, if any.
func (c ActionCard) Primary() (CardButton, bool) {
	for _, b := range c.Buttons {
		if b.Type == ButtonPrimary || b.Type == ButtonCompleted {
			return b, true
		}
	}
	return CardButton{}, false
}

// Validate 检查卡片最多只有一个主按钮。
func (c ActionCard) Validate() error {
	primaries := 0
	for _, b := range c.Buttons {
		if b.Type == ButtonPrimary {
			primaries++
		}
	}
	if primaries > 1 {
		return fmt.Errorf("card %q has %d primary buttons", c.Title, primaries)
	}
	return nil
}

// Action 是卡片按钮触发的动作。字符串动作码只在边界处解析一次。
type Action int

const (
	ActionUnknown Action = iota
	ActionStartQuestionnaire
	ActionStartTongueDiagnosis
	ActionStartFaceDiagnosis
	ActionDismiss
	ActionCompleted
)

var actionCodes = map[string]Action{
	"start_questionnaire":    ActionStartQuestionnaire,
	"start_tongue_diagnosis": ActionStartTongueDiagnosis,
	"start_face_diagnosis":   ActionStartFaceDiagnosis,
	"dismiss":                ActionDismiss,
	"later":                  ActionDismiss,
	"completed":              ActionCompleted,
}

// ParseAction converts a backend action code into an Action.
func ParseAction(code string) (Action, error) {
	if a, ok := actionCodes[strings.ToLower(strings.TrimSpace(code))]; ok {
		return a, nil
	}
	return ActionUnknown, fmt.Errorf("unknown card action %q", code)
}

// Code 返回动作对应的后端动作码。
func (a Action) Code() string {
	switch a {
	case ActionStartQuestionnaire:
		return "start_questionnaire"
	case ActionStartTongueDiagnosis:
		return "start_tongue_diagnosis"
	case ActionStartFaceDiagnosis:
		return "start_face_diagnosis"
	case ActionDismiss:
		return "dismiss"
	case ActionCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

func (a Action) String() string {
	return a.Code()
}

// CaptureAction 返回某诊断类型的拍摄动作。
func CaptureAction(diagnosisType string) Action {
	switch diagnosisType {
	case "tongue":
		return ActionStartTongueDiagnosis
	case "face":
		return ActionStartFaceDiagnosis
	default:
		return ActionUnknown
	}
}
