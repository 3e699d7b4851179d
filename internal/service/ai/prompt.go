package ai

import (
	"fmt"
	"strings"

	analysis "github.com/zhouzirui/qinghe-assistant/internal/analysis/intent"
	"github.com/zhouzirui/qinghe-assistant/internal/service/intent"
)

// PromptTemplate 健康助手的系统提示词。
type PromptTemplate struct {
	SystemPrompt string
	Hints        []string
	Rules        []string
}

// DefaultTemplate 是健康助手默认的提示词。
func DefaultTemplate() PromptTemplate {
	return PromptTemplate{
		SystemPrompt: `你是"青禾"健康助手，熟悉中医体质辨识与日常养生，能结合舌象、面色给出调理建议。你说话温和、专业、简洁。`,
		Hints: []string{
			"先回应用户的具体困扰，再给出可执行的生活建议",
			"涉及体质判断时说明依据，例如舌苔、面色、睡眠、饮食",
			"建议以饮食、作息、运动为主，不开具处方药",
			"回答控制在 200 字以内，可以使用简短的分点",
		},
		Rules: []string{
			"不做确定性诊断，提醒用户症状持续或加重时及时就医",
			"需要更准确判断时，可以建议用户完成问卷并拍摄舌象或面部照片",
			"出现胸痛、呼吸困难、意识障碍等急症征兆时，直接建议立即就医",
		},
	}
}

// BuildSystemPrompt 组装系统提示词，并附上意图识别给出的引导。
func BuildSystemPrompt(tpl PromptTemplate, guidance *intent.Guidance) string {
	var b strings.Builder
	b.WriteString(tpl.SystemPrompt)
	b.WriteString("\n\n回复要点：\n- ")
	b.WriteString(strings.Join(tpl.Hints, "\n- "))
	b.WriteString("\n\n必须遵守：\n- ")
	b.WriteString(strings.Join(tpl.Rules, "\n- "))

	if guidance == nil {
		return b.String()
	}

	switch guidance.Decision.Intent {
	case analysis.Tongue:
		b.WriteString("\n\n本轮用户的描述与脾胃、湿气或体质相关，请在回复结尾建议用户先填写舌诊前问卷，再拍摄舌象。")
	case analysis.Face:
		b.WriteString("\n\n本轮用户的描述与面色、气色相关，请在回复结尾建议用户先填写面诊前问卷，再拍摄面部照片。")
	case analysis.Urgent:
		b.WriteString("\n\n用户描述中可能存在急症征兆，请首先明确建议其立即就医或拨打急救电话，不要给出居家调理方案。")
	}
	if guidance.Reason != "" && guidance.Reason != intent.ReasonFallback {
		b.WriteString(fmt.Sprintf("\n判断理由：%s", guidance.Reason))
	}
	return b.String()
}
