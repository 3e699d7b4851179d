package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/qinghe-assistant/internal/conversation"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

// markdown 渲染助手消息，*glamour.TermRenderer 满足该接口。
type markdown interface {
	Render(in string) (string, error)
}

// selection 是当前聚焦的卡片与按钮。
type selection struct {
	messageID string
	button    int
}

func renderTranscript(st Styles, md markdown, v conversation.View, sel selection, width int) string {
	if len(v.Messages) == 0 {
		return st.Subtle.Render("（暂无消息）")
	}

	blocks := make([]string, 0, len(v.Messages))
	for _, m := range v.Messages {
		blocks = append(blocks, renderMessage(st, md, m, sel, width))
	}
	return strings.Join(blocks, "\n\n")
}

func renderMessage(st Styles, md markdown, m conversation.MessageView, sel selection, width int) string {
	stamp := st.Subtle.Render(m.Timestamp.Local().Format("15:04"))

	var b strings.Builder
	if m.IsUser() {
		b.WriteString(st.UserLabel.Render("你") + " " + stamp + "\n")
		b.WriteString(st.User.Width(max(width-2, 10)).Render(m.Text))
		return b.String()
	}

	b.WriteString(st.AssistLabel.Render("青禾") + " " + stamp + "\n")
	b.WriteString(renderBody(md, m))

	if m.CardVisible && m.ActionCard != nil {
		active := sel.messageID == m.ID
		b.WriteString("\n")
		b.WriteString(renderCard(st, m.ActionCard, m.CardState, active, sel.button))
	}
	return b.String()
}

// 打字机进行中的文本不走 markdown，避免半截语法闪烁。
func renderBody(md markdown, m conversation.MessageView) string {
	if m.Revealing || md == nil {
		return m.Text + cursorIf(m.Revealing)
	}
	out, err := md.Render(m.Text)
	if err != nil {
		return m.Text
	}
	return strings.Trim(out, "\n")
}

func cursorIf(on bool) string {
	if on {
		return "▍"
	}
	return ""
}

func renderCard(st Styles, card *chat.ActionCard, state conversation.CardState, active bool, button int) string {
	var b strings.Builder
	b.WriteString(st.CardTitle.Render(card.Title))
	if card.Description != "" {
		b.WriteString("\n" + card.Description)
	}
	if card.Reason != "" {
		b.WriteString("\n" + st.Subtle.Render(card.Reason))
	}
	for _, tip := range card.Tips {
		b.WriteString("\n" + st.Subtle.Render("· "+tip))
	}

	b.WriteString("\n")
	if state == conversation.CardCompleted {
		b.WriteString(st.Completed.Render("✓ 已完成"))
	} else {
		buttons := make([]string, 0, len(card.Buttons))
		for i, btn := range card.Buttons {
			style := st.Button
			if active && i == button {
				style = st.ButtonFocus
			}
			if btn.IsDisabled {
				style = st.Subtle
			}
			buttons = append(buttons, style.Render("["+btn.Text+"]"))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, buttons...))
	}

	box := st.Card
	if active {
		box = st.CardActive
	}
	return box.Render(b.String())
}

func renderForm(st Styles, f *form, input string) string {
	q, ok := f.current()
	if !ok {
		return st.Subtle.Render("正在提交…")
	}

	var b strings.Builder
	b.WriteString(st.Title.Render(fmt.Sprintf("问卷 %s", f.progress())))
	b.WriteString("\n\n" + q.Text)
	if q.Required {
		b.WriteString(st.Alert.Render(" *"))
	}
	b.WriteString("\n\n")

	switch q.Type {
	case chat.QuestionSingleChoice, chat.QuestionMultipleChoice:
		for i, opt := range q.Options {
			pointer := "  "
			if i == f.cursor {
				pointer = st.Cursor.Render("› ")
			}
			mark := ""
			if q.Type == chat.QuestionMultipleChoice {
				mark = "[ ] "
				if f.isSelected(q.ID, opt.ID) {
					mark = "[x] "
				}
			}
			b.WriteString(pointer + mark + opt.Text + "\n")
		}
		hint := "↑/↓ 选择 · Enter 确认 · Shift+Tab 上一题 · Esc 取消"
		if q.Type == chat.QuestionMultipleChoice {
			hint = "↑/↓ 移动 · 空格 勾选 · Enter 确认 · Esc 取消"
		}
		b.WriteString("\n" + st.Subtle.Render(hint))
	default:
		b.WriteString(input)
		b.WriteString("\n\n" + st.Subtle.Render("输入后按 Enter 确认 · Esc 取消"))
	}
	return b.String()
}

func renderCapture(st Styles, c *captureState) string {
	var b strings.Builder
	name := "舌象"
	if c.diagnosisType == "face" {
		name = "面部"
	}
	b.WriteString(st.Title.Render("拍摄" + name))
	b.WriteString("\n\n")
	switch {
	case c.err != "":
		b.WriteString(st.Alert.Render(c.err))
		b.WriteString("\n\n" + st.Subtle.Render("Enter 重试 · Esc 返回对话"))
	case c.submitted:
		b.WriteString("照片已上传，正在分析…")
		b.WriteString("\n\n" + st.Subtle.Render("Esc 返回对话，结果会自动出现在对话中"))
	default:
		b.WriteString("请将" + name + "置于取景框中央。")
		b.WriteString("\n\n" + st.Subtle.Render("Enter 拍摄 · Esc 返回对话"))
	}
	return b.String()
}

func renderConversations(st Styles, items []chat.ConversationSummary, cursor int) string {
	var b strings.Builder
	b.WriteString(st.Title.Render("历史对话"))
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString(st.Subtle.Render("暂无历史对话"))
	}
	for i, item := range items {
		pointer := "  "
		if i == cursor {
			pointer = st.Cursor.Render("› ")
		}
		title := item.Title
		if title == "" {
			title = "新对话"
		}
		b.WriteString(fmt.Sprintf("%s%s  %s\n", pointer, title, st.Subtle.Render(item.LastMessageAt.Local().Format("01-02 15:04"))))
		if last := item.LastMessage(); last != "" {
			b.WriteString("    " + st.Subtle.Render(last) + "\n")
		}
	}
	b.WriteString("\n" + st.Subtle.Render("Enter 打开 · d 删除 · Esc 返回"))
	return b.String()
}

func renderReport(st Styles, r chat.DiagnosisReport) string {
	var b strings.Builder
	b.WriteString(st.Title.Render("诊断报告"))
	b.WriteString(fmt.Sprintf("\n\n体质：%s\n%s", r.Constitution, r.Summary))
	for i, s := range r.Suggestions {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, s))
	}
	b.WriteString("\n\n" + st.Subtle.Render("Esc 返回"))
	return b.String()
}
