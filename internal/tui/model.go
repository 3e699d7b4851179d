package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/conversation"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
)

var _ Engine = (*conversation.Engine)(nil)

// Engine 是界面驱动的对话引擎。
type Engine interface {
	Events() <-chan conversation.Event
	View() conversation.View
	Start(ctx context.Context) error
	Submit(ctx context.Context, text string) error
	HandleCardAction(messageID string, action chat.Action) (conversation.Directive, error)
	SubmitQuestionnaire(ctx context.Context, messageID string, answers map[string]string) error
	BeginCapture(diagnosisType string)
	RunCapture(ctx context.Context, diagnosisType string) error
	CaptureClosed(ctx context.Context) (conversation.CloseResult, error)
	SwitchConversation(ctx context.Context, conversationID string) error
	Conversations(ctx context.Context) ([]chat.ConversationSummary, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	EnterBackground(now time.Time)
	EnterForeground(ctx context.Context, now time.Time) (bool, error)
	ViewDiagnosisReport(ctx context.Context, reportID string) (chat.DiagnosisReport, error)
}

// QuestionnaireSource 在卡片没有附带题目时拉取问卷。
type QuestionnaireSource interface {
	GetQuestionnaire(ctx context.Context, diagnosisType string) (questionnaire.Questionnaire, error)
}

// Options 构造 Model 所需的依赖。
type Options struct {
	Context        context.Context
	Engine         Engine
	Questionnaires QuestionnaireSource
	Logger         *zap.Logger
	Now            func() time.Time
}

type mode int

const (
	modeChat mode = iota
	modeForm
	modeCapture
	modeList
	modeReport
)

type captureState struct {
	diagnosisType string
	submitted     bool
	busy          bool
	err           string
}

type (
	eventMsg  conversation.Event
	opDoneMsg struct {
		op  string
		err error
	}
	questionsMsg struct {
		directive conversation.Directive
		questions []chat.Question
		err       error
	}
	captureSubmittedMsg struct{ err error }
	captureClosedMsg    struct {
		result conversation.CloseResult
		err    error
	}
	conversationsMsg struct {
		items []chat.ConversationSummary
		err   error
	}
	reportMsg struct {
		report chat.DiagnosisReport
		err    error
	}
)

// Model 是健康助手的终端界面。
type Model struct {
	ctx            context.Context
	engine         Engine
	questionnaires QuestionnaireSource
	logger         *zap.Logger
	now            func() time.Time

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	styles   Styles
	renderer markdown

	width, height int
	ready         bool

	mode       mode
	form       *form
	capture    *captureState
	list       []chat.ConversationSummary
	listCursor int
	report     *chat.DiagnosisReport

	sel        selection
	notice     string
	alert      string
	upgrade    bool
	lastScroll uint64
}

// New creates the TUI model.
func New(opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	styles := DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = "描述一下你的身体状况…（Enter 发送，/help 查看命令）"
	ti.Prompt = "│ "
	ti.CharLimit = 2000
	ti.Width = 80
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(78))
	m := Model{
		ctx:            opts.Context,
		engine:         opts.Engine,
		questionnaires: opts.Questionnaires,
		logger:         opts.Logger.Named("tui"),
		now:            opts.Now,
		input:          ti,
		viewport:       viewport.New(80, 20),
		spinner:        sp,
		help:           help.New(),
		styles:         styles,
	}
	if err == nil {
		m.renderer = renderer
	} else {
		m.logger.Warn("markdown renderer unavailable", zap.Error(err))
	}
	return m
}

// Init starts the first conversation and begins listening to engine events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.waitEvent(),
		m.run("start", func(ctx context.Context) error { return m.engine.Start(ctx) }),
	)
}

func (m Model) waitEvent() tea.Cmd {
	ch := m.engine.Events()
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case tea.BlurMsg:
		m.engine.EnterBackground(m.now())
		return m, nil

	case tea.FocusMsg:
		now := m.now()
		return m, m.run("foreground", func(ctx context.Context) error {
			_, err := m.engine.EnterForeground(ctx, now)
			return err
		})

	case eventMsg:
		switch msg.Kind {
		case conversation.EventAlert:
			m.alert = msg.Text
		case conversation.EventUpgrade:
			m.upgrade = true
		case conversation.EventConversation:
			m.sel = selection{}
			m.alert = ""
		}
		m.refresh()
		return m, m.waitEvent()

	case opDoneMsg:
		m.handleOpDone(msg)
		m.refresh()
		return m, nil

	case questionsMsg:
		if msg.err != nil {
			m.notice = "问卷加载失败，请稍后重试"
			return m, nil
		}
		m.openForm(msg.directive, msg.questions)
		return m, nil

	case captureSubmittedMsg:
		if m.capture != nil {
			m.capture.busy = false
			if msg.err != nil {
				m.capture.err = "上传失败，请重试"
			} else {
				m.capture.submitted = true
				m.capture.err = ""
			}
		}
		return m, nil

	case captureClosedMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.notice = "同步诊断结果失败，可通过 /list 重新打开对话"
		}
		m.refresh()
		return m, nil

	case conversationsMsg:
		if msg.err != nil {
			m.notice = "获取历史对话失败"
			return m, nil
		}
		m.list = msg.items
		m.listCursor = 0
		m.mode = modeList
		return m, nil

	case reportMsg:
		if msg.err != nil {
			m.notice = "诊断报告获取失败"
			return m, nil
		}
		m.report = &msg.report
		m.mode = modeReport
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
		switch m.mode {
		case modeForm:
			return m.updateForm(msg)
		case modeCapture:
			return m.updateCapture(msg)
		case modeList:
			return m.updateList(msg)
		case modeReport:
			if key.Matches(msg, keys.Escape, keys.Send) {
				m.mode = modeChat
				m.report = nil
			}
			return m, nil
		}
		model, cmd, handled := m.updateChatKey(msg)
		if handled {
			return model, cmd
		}
		m = model
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleOpDone(msg opDoneMsg) {
	err := msg.err
	switch {
	case err == nil:
		if msg.op == "questionnaire" {
			m.notice = "问卷已提交"
		}
	case errors.Is(err, context.Canceled):
	case errors.Is(err, conversation.ErrBusy):
		m.notice = "上一条消息还在处理中，请稍候"
	case errors.Is(err, questionnaire.ErrIncomplete):
		m.notice = questionnaire.ErrIncomplete.Error()
	default:
		m.logger.Warn("operation failed", zap.String("op", msg.op), zap.Error(err))
		switch msg.op {
		case "start":
			m.alert = "无法连接健康助手服务，请检查网络后输入 /new 重试"
		case "questionnaire":
			m.notice = "问卷提交失败，请稍后重试"
		default:
			m.notice = "操作失败，请稍后重试"
		}
	}
}

// updateChatKey 处理对话模式下的按键，handled 为 false 时交给输入框和视图。
func (m Model) updateChatKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, keys.NextCard):
		m.cycleCard(1)
		m.refresh()
		return m, nil, true
	case key.Matches(msg, keys.PrevCard):
		m.cycleCard(-1)
		m.refresh()
		return m, nil, true
	case key.Matches(msg, keys.Left, keys.Right):
		if m.sel.messageID != "" && m.input.Value() == "" {
			delta := 1
			if key.Matches(msg, keys.Left) {
				delta = -1
			}
			m.moveButton(delta)
			m.refresh()
			return m, nil, true
		}
	case key.Matches(msg, keys.Escape):
		if m.sel.messageID != "" {
			m.sel = selection{}
			m.refresh()
			return m, nil, true
		}
		m.notice, m.alert = "", ""
		return m, nil, true
	case key.Matches(msg, keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			if m.sel.messageID != "" {
				model, cmd := m.pressButton()
				return model, cmd, true
			}
			return m, nil, true
		}
		m.input.Reset()
		m.notice = ""
		if strings.HasPrefix(text, "/") {
			model, cmd := m.command(text)
			return model, cmd, true
		}
		return m, m.run("submit", func(ctx context.Context) error { return m.engine.Submit(ctx, text) }), true
	}
	return m, nil, false
}

func (m Model) command(text string) (Model, tea.Cmd) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/new":
		m.upgrade = false
		return m, m.run("start", func(ctx context.Context) error { return m.engine.Start(ctx) })
	case "/list", "/history":
		ctx := m.ctx
		return m, func() tea.Msg {
			items, err := m.engine.Conversations(ctx)
			return conversationsMsg{items: items, err: err}
		}
	case "/report":
		id := ""
		if len(fields) > 1 {
			id = fields[1]
		} else {
			id = m.latestAssistantServerID()
		}
		if id == "" {
			m.notice = "没有可查看的诊断报告"
			return m, nil
		}
		ctx := m.ctx
		return m, func() tea.Msg {
			report, err := m.engine.ViewDiagnosisReport(ctx, id)
			return reportMsg{report: report, err: err}
		}
	default:
		m.notice = "命令：/new 新对话 · /list 历史对话 · /report [消息编号] 诊断报告 · /quit 退出 · Tab 选择卡片"
		return m, nil
	}
}

func (m Model) latestAssistantServerID() string {
	msgs := m.engine.View().Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].IsUser() && msgs[i].ServerMessageID != "" {
			return msgs[i].ServerMessageID
		}
	}
	return ""
}

// actionableCards 返回可以操作的卡片消息，按时间正序。
func actionableCards(v conversation.View) []conversation.MessageView {
	var out []conversation.MessageView
	for _, msg := range v.Messages {
		if msg.CardVisible && msg.CardState == conversation.CardCreated {
			out = append(out, msg)
		}
	}
	return out
}

// cycleCard 从最新的卡片开始轮换选择。
func (m *Model) cycleCard(delta int) {
	cards := actionableCards(m.engine.View())
	if len(cards) == 0 {
		m.sel = selection{}
		m.notice = "当前没有可操作的卡片"
		return
	}
	idx := -1
	for i, c := range cards {
		if c.ID == m.sel.messageID {
			idx = i
		}
	}
	if idx < 0 {
		idx = len(cards) - 1
	} else {
		idx = (idx - delta + len(cards)) % len(cards)
	}
	m.sel = selection{messageID: cards[idx].ID}
}

func (m *Model) moveButton(delta int) {
	for _, c := range actionableCards(m.engine.View()) {
		if c.ID == m.sel.messageID && len(c.ActionCard.Buttons) > 0 {
			n := len(c.ActionCard.Buttons)
			m.sel.button = (m.sel.button + delta + n) % n
			return
		}
	}
}

func (m Model) pressButton() (Model, tea.Cmd) {
	var target *conversation.MessageView
	for _, c := range actionableCards(m.engine.View()) {
		if c.ID == m.sel.messageID {
			c := c
			target = &c
		}
	}
	if target == nil || m.sel.button >= len(target.ActionCard.Buttons) {
		m.sel = selection{}
		m.refresh()
		return m, nil
	}

	btn := target.ActionCard.Buttons[m.sel.button]
	action, err := chat.ParseAction(btn.Action)
	if err != nil {
		m.notice = "暂不支持该操作"
		return m, nil
	}

	directive, err := m.engine.HandleCardAction(target.ID, action)
	if err != nil {
		m.logger.Warn("card action failed", zap.String("messageId", target.ID), zap.Error(err))
		m.notice = "暂不支持该操作"
		return m, nil
	}
	m.sel = selection{}

	switch directive.Kind {
	case conversation.DirectiveOpenQuestionnaire:
		if len(directive.Questions) == 0 && m.questionnaires != nil {
			ctx := m.ctx
			return m, func() tea.Msg {
				q, err := m.questionnaires.GetQuestionnaire(ctx, directive.DiagnosisType)
				return questionsMsg{directive: directive, questions: q.Questions, err: err}
			}
		}
		m.openForm(directive, directive.Questions)
	case conversation.DirectiveOpenCapture:
		m.engine.BeginCapture(directive.DiagnosisType)
		m.capture = &captureState{diagnosisType: directive.DiagnosisType}
		m.mode = modeCapture
	case conversation.DirectiveNone:
		m.refresh()
	}
	return m, nil
}

func (m *Model) openForm(d conversation.Directive, questions []chat.Question) {
	if len(questions) == 0 {
		m.notice = "问卷暂无题目"
		return
	}
	m.form = newForm(d.MessageID, d.DiagnosisType, questions)
	m.mode = modeForm
	m.input.Reset()
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	f := m.form
	q, _ := f.current()
	textQuestion := q.Type != chat.QuestionSingleChoice && q.Type != chat.QuestionMultipleChoice

	switch {
	case key.Matches(msg, keys.Escape):
		m.form = nil
		m.mode = modeChat
		m.input.Reset()
		return m, nil
	case key.Matches(msg, keys.Up):
		f.move(-1)
		return m, nil
	case key.Matches(msg, keys.Down):
		f.move(1)
		return m, nil
	case key.Matches(msg, keys.Back):
		f.back()
		m.input.Reset()
		return m, nil
	case !textQuestion && key.Matches(msg, keys.Toggle):
		f.toggle()
		return m, nil
	case key.Matches(msg, keys.Send):
		done, err := f.confirm(m.input.Value())
		if err != nil {
			m.notice = questionnaire.ErrIncomplete.Error()
			return m, nil
		}
		m.notice = ""
		m.input.Reset()
		if !done {
			return m, nil
		}
		answers, messageID := f.result(), f.messageID
		m.form = nil
		m.mode = modeChat
		return m, m.run("questionnaire", func(ctx context.Context) error {
			return m.engine.SubmitQuestionnaire(ctx, messageID, answers)
		})
	}

	if textQuestion {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateCapture(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	c := m.capture
	switch {
	case key.Matches(msg, keys.Send):
		if c.busy || c.submitted {
			return m, nil
		}
		c.busy = true
		ctx, dt := m.ctx, c.diagnosisType
		return m, func() tea.Msg {
			return captureSubmittedMsg{err: m.engine.RunCapture(ctx, dt)}
		}
	case key.Matches(msg, keys.Escape):
		m.capture = nil
		m.mode = modeChat
		ctx := m.ctx
		return m, func() tea.Msg {
			result, err := m.engine.CaptureClosed(ctx)
			return captureClosedMsg{result: result, err: err}
		}
	}
	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Escape):
		m.mode = modeChat
		return m, nil
	case key.Matches(msg, keys.Up):
		if m.listCursor > 0 {
			m.listCursor--
		}
		return m, nil
	case key.Matches(msg, keys.Down):
		if m.listCursor < len(m.list)-1 {
			m.listCursor++
		}
		return m, nil
	case key.Matches(msg, keys.Send):
		if len(m.list) == 0 {
			m.mode = modeChat
			return m, nil
		}
		id := m.list[m.listCursor].ID
		m.mode = modeChat
		return m, m.run("switch", func(ctx context.Context) error { return m.engine.SwitchConversation(ctx, id) })
	case key.Matches(msg, keys.Delete):
		if len(m.list) > 0 {
			id := m.list[m.listCursor].ID
			m.list = append(m.list[:m.listCursor:m.listCursor], m.list[m.listCursor+1:]...)
			m.listCursor = max(min(m.listCursor, len(m.list)-1), 0)
			return m, m.run("delete", func(ctx context.Context) error { return m.engine.DeleteConversation(ctx, id) })
		}
	}
	return m, nil
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	const header, footer = 2, 5
	vpHeight := max(height-header-footer, 3)
	if !m.ready {
		m.viewport = viewport.New(max(width-2, 10), vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = max(width-2, 10)
		m.viewport.Height = vpHeight
	}
	m.input.Width = max(width-4, 10)
	m.help.Width = width

	if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(max(width-6, 20))); err == nil {
		m.renderer = r
	}
}

// refresh 从引擎读取快照重绘对话区。
func (m *Model) refresh() {
	v := m.engine.View()
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderTranscript(m.styles, m.renderer, v, m.sel, m.viewport.Width))
	if v.ScrollTrigger != m.lastScroll || v.Typing || atBottom {
		m.viewport.GotoBottom()
	}
	m.lastScroll = v.ScrollTrigger
}

// View implements tea.Model.
func (m Model) View() string {
	switch m.mode {
	case modeForm:
		return m.frame(renderForm(m.styles, m.form, m.input.View()))
	case modeCapture:
		return m.frame(renderCapture(m.styles, m.capture))
	case modeList:
		return m.frame(renderConversations(m.styles, m.list, m.listCursor))
	case modeReport:
		if m.report != nil {
			return m.frame(renderReport(m.styles, *m.report))
		}
	}

	v := m.engine.View()
	status := ""
	if v.Sending {
		status = m.spinner.View() + " 正在思考…"
	}
	var lines []string
	if m.upgrade {
		lines = append(lines, m.styles.Upgrade.Render("★ "+conversation.TextUpgradePrompt))
	}
	if m.alert != "" {
		lines = append(lines, m.styles.Alert.Render(m.alert))
	}
	if m.notice != "" {
		lines = append(lines, m.styles.Subtle.Render(m.notice))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(v),
		m.viewport.View(),
		strings.Join(append(lines, status), "\n"),
		m.input.View(),
		m.help.View(keys),
	)
}

func (m Model) header(v conversation.View) string {
	title := m.styles.Title.Render("青禾健康助手")
	if v.ConversationID != "" {
		id := v.ConversationID
		if len(id) > 8 {
			id = id[:8]
		}
		title += " " + m.styles.Subtle.Render("#"+id)
	}
	return title
}

func (m Model) frame(body string) string {
	if m.notice != "" {
		body += "\n\n" + m.styles.Alert.Render(m.notice)
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(body)
}
