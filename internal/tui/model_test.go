package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/qinghe-assistant/internal/conversation"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

type fakeEngine struct {
	events    chan conversation.Event
	view      conversation.View
	directive conversation.Directive

	submitted  []string
	actions    []chat.Action
	answers    map[string]string
	captures   []string
	began      string
	closed     int
	switched   string
	deleted    string
	background int
	foreground int
	convs      []chat.ConversationSummary
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan conversation.Event, 8)}
}

func (f *fakeEngine) Events() <-chan conversation.Event { return f.events }
func (f *fakeEngine) View() conversation.View           { return f.view }
func (f *fakeEngine) Start(context.Context) error       { return nil }

func (f *fakeEngine) Submit(_ context.Context, text string) error {
	f.submitted = append(f.submitted, text)
	return nil
}

func (f *fakeEngine) HandleCardAction(_ string, action chat.Action) (conversation.Directive, error) {
	f.actions = append(f.actions, action)
	return f.directive, nil
}

func (f *fakeEngine) SubmitQuestionnaire(_ context.Context, _ string, answers map[string]string) error {
	f.answers = answers
	return nil
}

func (f *fakeEngine) BeginCapture(dt string) { f.began = dt }

func (f *fakeEngine) RunCapture(_ context.Context, dt string) error {
	f.captures = append(f.captures, dt)
	return nil
}

func (f *fakeEngine) CaptureClosed(context.Context) (conversation.CloseResult, error) {
	f.closed++
	return conversation.Refreshed, nil
}

func (f *fakeEngine) SwitchConversation(_ context.Context, id string) error {
	f.switched = id
	return nil
}

func (f *fakeEngine) Conversations(context.Context) ([]chat.ConversationSummary, error) {
	return f.convs, nil
}

func (f *fakeEngine) DeleteConversation(_ context.Context, id string) error {
	f.deleted = id
	return nil
}

func (f *fakeEngine) EnterBackground(time.Time) { f.background++ }

func (f *fakeEngine) EnterForeground(context.Context, time.Time) (bool, error) {
	f.foreground++
	return false, nil
}

func (f *fakeEngine) ViewDiagnosisReport(_ context.Context, id string) (chat.DiagnosisReport, error) {
	return chat.DiagnosisReport{ID: id, Constitution: "平和质"}, nil
}

func newTestModel(t *testing.T, eng *fakeEngine) Model {
	t.Helper()
	m := New(Options{Engine: eng})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func keyMsg(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return m
}

func TestModelSubmitsTypedText(t *testing.T) {
	eng := newFakeEngine()
	m := newTestModel(t, eng)

	m = typeText(t, m, "最近总是失眠")
	m, cmd := update(t, m, keyMsg(tea.KeyEnter))
	require.NotNil(t, cmd)
	assert.Empty(t, m.input.Value())

	msg := cmd()
	assert.Equal(t, opDoneMsg{op: "submit"}, msg)
	assert.Equal(t, []string{"最近总是失眠"}, eng.submitted)
}

func TestModelCardButtonOpensCapture(t *testing.T) {
	eng := newFakeEngine()
	eng.view = conversation.View{Messages: []conversation.MessageView{cardMessage("m1", conversation.CardCreated)}}
	eng.directive = conversation.Directive{Kind: conversation.DirectiveOpenCapture, MessageID: "m1", DiagnosisType: "tongue"}
	m := newTestModel(t, eng)

	m, _ = update(t, m, keyMsg(tea.KeyTab))
	assert.Equal(t, "m1", m.sel.messageID)

	m, _ = update(t, m, keyMsg(tea.KeyEnter))
	require.Equal(t, []chat.Action{chat.ActionStartQuestionnaire}, eng.actions)
	assert.Equal(t, modeCapture, m.mode)
	assert.Equal(t, "tongue", eng.began)
	assert.Contains(t, m.View(), "拍摄舌象")

	m, cmd := update(t, m, keyMsg(tea.KeyEnter))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.True(t, m.capture.submitted)
	assert.Equal(t, []string{"tongue"}, eng.captures)

	m, cmd = update(t, m, keyMsg(tea.KeyEsc))
	assert.Equal(t, modeChat, m.mode)
	require.NotNil(t, cmd)
	_, ok := cmd().(captureClosedMsg)
	assert.True(t, ok)
	assert.Equal(t, 1, eng.closed)
}

func TestModelSecondaryButton(t *testing.T) {
	eng := newFakeEngine()
	eng.view = conversation.View{Messages: []conversation.MessageView{cardMessage("m1", conversation.CardCreated)}}
	m := newTestModel(t, eng)

	m, _ = update(t, m, keyMsg(tea.KeyTab))
	m, _ = update(t, m, keyMsg(tea.KeyRight))
	assert.Equal(t, 1, m.sel.button)
	m, _ = update(t, m, keyMsg(tea.KeyEnter))

	assert.Equal(t, []chat.Action{chat.ActionDismiss}, eng.actions)
	assert.Equal(t, modeChat, m.mode)
	assert.Empty(t, m.sel.messageID)
}

func TestModelTabWithoutCards(t *testing.T) {
	m := newTestModel(t, newFakeEngine())
	m, _ = update(t, m, keyMsg(tea.KeyTab))
	assert.Empty(t, m.sel.messageID)
	assert.Contains(t, m.notice, "没有可操作的卡片")
}

func TestModelQuestionnaireForm(t *testing.T) {
	eng := newFakeEngine()
	eng.view = conversation.View{Messages: []conversation.MessageView{cardMessage("m1", conversation.CardCreated)}}
	eng.directive = conversation.Directive{
		Kind:          conversation.DirectiveOpenQuestionnaire,
		MessageID:     "m1",
		DiagnosisType: "tongue",
		Questions:     sampleQuestions()[:1],
	}
	m := newTestModel(t, eng)

	m, _ = update(t, m, keyMsg(tea.KeyTab))
	m, _ = update(t, m, keyMsg(tea.KeyEnter))
	require.Equal(t, modeForm, m.mode)
	assert.Contains(t, m.View(), "舌苔颜色")

	m, _ = update(t, m, keyMsg(tea.KeyDown))
	m, cmd := update(t, m, keyMsg(tea.KeyEnter))
	assert.Equal(t, modeChat, m.mode)
	require.NotNil(t, cmd)

	m, _ = update(t, m, cmd())
	assert.Equal(t, map[string]string{"q1": "b"}, eng.answers)
	assert.Equal(t, "问卷已提交", m.notice)
}

func TestModelFormEscCancels(t *testing.T) {
	eng := newFakeEngine()
	m := newTestModel(t, eng)
	m.openForm(conversation.Directive{MessageID: "m1"}, sampleQuestions())
	require.Equal(t, modeForm, m.mode)

	m, _ = update(t, m, keyMsg(tea.KeyEsc))
	assert.Equal(t, modeChat, m.mode)
	assert.Nil(t, m.form)
	assert.Nil(t, eng.answers)
}

func TestModelConversationList(t *testing.T) {
	eng := newFakeEngine()
	eng.convs = []chat.ConversationSummary{{ID: "c1", Title: "一"}, {ID: "c2", Title: "二"}}
	m := newTestModel(t, eng)

	m = typeText(t, m, "/list")
	m, cmd := update(t, m, keyMsg(tea.KeyEnter))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	require.Equal(t, modeList, m.mode)

	m, _ = update(t, m, keyMsg(tea.KeyDown))
	m, cmd = update(t, m, keyMsg(tea.KeyEnter))
	assert.Equal(t, modeChat, m.mode)
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, "c2", eng.switched)
}

func TestModelDeleteFromList(t *testing.T) {
	eng := newFakeEngine()
	m := newTestModel(t, eng)
	m, _ = update(t, m, conversationsMsg{items: []chat.ConversationSummary{{ID: "c1"}, {ID: "c2"}}})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, "c1", eng.deleted)
	require.Len(t, m.list, 1)
	assert.Equal(t, "c2", m.list[0].ID)
}

func TestModelReportCommand(t *testing.T) {
	m := newTestModel(t, newFakeEngine())
	m = typeText(t, m, "/report r1")
	m, cmd := update(t, m, keyMsg(tea.KeyEnter))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, modeReport, m.mode)
	assert.Contains(t, m.View(), "平和质")

	m, _ = update(t, m, keyMsg(tea.KeyEsc))
	assert.Equal(t, modeChat, m.mode)
}

func TestModelFocusLifecycle(t *testing.T) {
	eng := newFakeEngine()
	m := newTestModel(t, eng)

	m, _ = update(t, m, tea.BlurMsg{})
	assert.Equal(t, 1, eng.background)

	_, cmd := update(t, m, tea.FocusMsg{})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 1, eng.foreground)
}

func TestModelEvents(t *testing.T) {
	m := newTestModel(t, newFakeEngine())

	m, _ = update(t, m, eventMsg{Kind: conversation.EventUpgrade})
	assert.Contains(t, m.View(), conversation.TextUpgradePrompt)

	m, _ = update(t, m, eventMsg{Kind: conversation.EventAlert, Text: "网络异常"})
	assert.Contains(t, m.View(), "网络异常")

	m, _ = update(t, m, eventMsg{Kind: conversation.EventConversation})
	assert.NotContains(t, m.View(), "网络异常")
}

func TestModelBusyNotice(t *testing.T) {
	m := newTestModel(t, newFakeEngine())
	m, _ = update(t, m, opDoneMsg{op: "submit", err: conversation.ErrBusy})
	assert.Contains(t, m.notice, "处理中")
}
