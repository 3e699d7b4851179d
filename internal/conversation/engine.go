package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
)

// Backend 引擎依赖的健康对话后端接口。
type Backend interface {
	JobAPI
	HistoryAPI
	CreateConversation(ctx context.Context) (chat.Conversation, error)
	SendMessage(ctx context.Context, text, conversationID string) (chat.SendResult, error)
	ListConversations(ctx context.Context, page, limit int) ([]chat.ConversationSummary, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	SaveQuestionnaireAnswers(ctx context.Context, conversationID string, answers map[string]string) error
	QuestionnaireCompleted(ctx context.Context, conversationID, diagnosisType string) (*chat.FollowUp, error)
	SubmitDiagnosis(ctx context.Context, conversationID, diagnosisType string) error
	GetDiagnosisReport(ctx context.Context, reportID string) (chat.DiagnosisReport, error)
}

// Config 引擎的时序参数。
type Config struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	TypewriterBatch int
	TypewriterDelay time.Duration
	RefreshDelay    time.Duration
	BackgroundReset time.Duration
	Sleeper         Sleeper
	EventBuffer     int
}

// DefaultConfig 返回生产环境的默认参数。
func DefaultConfig() Config {
	return Config{
		PollInterval:    DefaultPollInterval,
		PollMaxAttempts: DefaultPollMaxAttempts,
		TypewriterBatch: DefaultTypewriterBatch,
		TypewriterDelay: DefaultTypewriterDelay,
		RefreshDelay:    DefaultRefreshDelay,
		BackgroundReset: 30 * time.Minute,
		EventBuffer:     64,
	}
}

type EventKind int

const (
	EventMessages EventKind = iota
	EventTyping
	EventSending
	EventConversation
	EventAlert
	EventUpgrade
)

// Event 通知展示层重新读取 View。
type Event struct {
	Kind EventKind
	Text string
}

// DirectiveKind 点击卡片后界面需要打开的页面。
type DirectiveKind int

const (
	DirectiveNone DirectiveKind = iota
	DirectiveOpenQuestionnaire
	DirectiveOpenCapture
)

// Directive HandleCardAction 的结果。
type Directive struct {
	Kind          DirectiveKind
	MessageID     string
	DiagnosisType string
	Questions     []chat.Question
}

// MessageView 展示层需要绘制的消息。
type MessageView struct {
	chat.Message
	Text        string
	Revealing   bool
	CardState   CardState
	CardVisible bool
}

// View 会话的一致性快照。
type View struct {
	ConversationID string
	Messages       []MessageView
	Sending        bool
	Typing         bool
	ScrollTrigger  uint64
}

// Engine 会话的唯一逻辑执行者。
//
// 它持有消息列表、发送中状态以及按会话划分的取消作用域，
// 并把轮询器、打字机、卡片管理和结果对账串联起来。
type Engine struct {
	backend    Backend
	cfg        Config
	logger     *zap.Logger
	store      *Store
	cards      *CardManager
	poller     *Poller
	typewriter *Typewriter
	reconciler *Reconciler
	events     chan Event
	now        func() time.Time

	root       context.Context
	rootCancel context.CancelFunc

	mu             sync.Mutex
	conversationID string
	gen            uint64
	convCtx        context.Context
	convCancel     context.CancelFunc
	sending        bool
	backgroundAt   time.Time
	captureType    string
}

// NewEngine 基于 backend 组装引擎。
func NewEngine(backend Backend, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	sleep := cfg.Sleeper
	if sleep == nil {
		sleep = Sleep
	}

	root, cancel := context.WithCancel(context.Background())
	e := &Engine{
		backend:    backend,
		cfg:        cfg,
		logger:     logger.Named("engine"),
		store:      NewStore(),
		events:     make(chan Event, cfg.EventBuffer),
		now:        time.Now,
		root:       root,
		rootCancel: cancel,
		convCtx:    root,
		convCancel: func() {},
	}
	e.cards = NewCardManager(e.store, logger)
	e.poller = NewPoller(backend, logger,
		WithPollInterval(cfg.PollInterval),
		WithMaxAttempts(cfg.PollMaxAttempts),
		WithSleeper(sleep))
	e.typewriter = NewTypewriter(cfg.TypewriterBatch, cfg.TypewriterDelay, sleep, TypewriterHooks{
		OnProgress: func(string, string) { e.emit(Event{Kind: EventTyping}) },
		OnDone: func(_ string, completed bool) {
			if completed {
				e.store.BumpScroll()
			}
			e.emit(Event{Kind: EventTyping})
		},
	})
	e.reconciler = NewReconciler(e.store, e.cards, backend, cfg.RefreshDelay, sleep, logger)
	e.reconciler.commit = e.commitRefresh
	return e
}

// Events 返回变更通知。读取过慢会丢失事件但不会阻塞引擎，View 始终是最新状态。
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) Store() *Store { return e.store }

func (e *Engine) Cards() *CardManager { return e.cards }

func (e *Engine) Typewriter() *Typewriter { return e.typewriter }

// ConversationID 返回当前会话 id。
func (e *Engine) ConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID
}

// Sending 是否有消息在等待回复。
func (e *Engine) Sending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sending
}

// Close 取消所有进行中的操作。
func (e *Engine) Close() {
	e.rootCancel()
	e.typewriter.Stop()
	e.typewriter.Wait()
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

// activateLocked 切换到 conversationID 并取消上一个会话的全部操作，调用方需持有 e.mu。
func (e *Engine) activateLocked(conversationID string) uint64 {
	e.convCancel()
	e.typewriter.Stop()
	e.gen++
	e.conversationID = conversationID
	e.convCtx, e.convCancel = context.WithCancel(e.root)
	e.sending = false
	e.captureType = ""
	e.store.Reset()
	e.reconciler.BeginRound()
	return e.gen
}

// opContext 派生的 context 在调用方或当前会话作用域任一结束时结束。
func (e *Engine) opContext(ctx context.Context, scope context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(scope)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// Start 创建新会话并显示欢迎语。
func (e *Engine) Start(ctx context.Context) error {
	conv, err := e.backend.CreateConversation(ctx)
	if err != nil {
		e.logger.Error("create conversation failed", zap.Error(err))
		return fmt.Errorf("create conversation: %w", err)
	}

	e.mu.Lock()
	gen := e.activateLocked(conv.ID)
	e.mu.Unlock()
	e.logger.Info("conversation started", zap.String("conversationId", conv.ID))
	e.emit(Event{Kind: EventConversation})

	if conv.WelcomeMessage != "" {
		e.appendAssistant(gen, Reply{Content: conv.WelcomeMessage}, false)
	}
	return nil
}

// Submit 以用户身份发送 text，阻塞到回复（或兜底文案）写入消息列表。
// 可恢复的失败以助手消息展示，不返回错误。
func (e *Engine) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if e.conversationID == "" {
		e.mu.Unlock()
		return ErrNoConversation
	}
	if e.sending {
		e.mu.Unlock()
		return ErrBusy
	}
	gen, conversationID, scope := e.gen, e.conversationID, e.convCtx
	e.store.Append(chat.Message{
		ID:        newID(),
		Content:   text,
		Sender:    chat.SenderUser,
		Timestamp: e.now(),
	})
	e.sending = true
	e.mu.Unlock()
	e.emit(Event{Kind: EventMessages})
	e.emit(Event{Kind: EventSending})

	opCtx, cancel := e.opContext(ctx, scope)
	defer cancel()

	log := e.logger.With(zap.String("conversationId", conversationID))
	res, err := e.backend.SendMessage(opCtx, text, conversationID)
	if err != nil {
		if opCtx.Err() != nil {
			e.clearSending(gen)
			return opCtx.Err()
		}
		if IsUsageLimit(err) {
			log.Warn("usage limit reached", zap.Error(err))
			e.appendAssistant(gen, Reply{Content: TextUpgradePrompt}, true)
			e.emit(Event{Kind: EventUpgrade, Text: err.Error()})
			return nil
		}
		log.Error("send message failed", zap.Error(err))
		e.appendAssistant(gen, Reply{Content: TextSendFailed}, true)
		return nil
	}

	sub := submissionFrom(res)
	if sub.Immediate != nil {
		if sub.Immediate.Content == "" {
			log.Warn("send returned neither job nor reply")
			e.clearSending(gen)
			return nil
		}
		log.Debug("immediate reply received")
		e.appendAssistant(gen, *sub.Immediate, true)
		return nil
	}

	log.Info("message queued", zap.String("jobId", sub.JobID))
	outcome := e.poller.Poll(opCtx, sub.JobID)
	switch outcome.Kind {
	case OutcomeCompleted:
		if outcome.Reply.Content == "" {
			log.Warn("job completed without reply", zap.String("jobId", sub.JobID))
			e.clearSending(gen)
			return nil
		}
		e.appendAssistant(gen, outcome.Reply, true)
	case OutcomeFailed:
		e.appendAssistant(gen, Reply{Content: TextJobFailed}, true)
	case OutcomeTimedOut:
		e.appendAssistant(gen, Reply{Content: TextTimedOut}, true)
	case OutcomeTransportError:
		e.appendAssistant(gen, Reply{Content: TextPollFailed}, true)
	case OutcomeCanceled:
		e.clearSending(gen)
		return outcome.Err
	}
	return nil
}

func (e *Engine) clearSending(gen uint64) {
	e.mu.Lock()
	changed := e.gen == gen && e.sending
	if changed {
		e.sending = false
	}
	e.mu.Unlock()
	if changed {
		e.emit(Event{Kind: EventSending})
	}
}

// appendAssistant 按需清除发送中状态，追加回复并开始逐字显示。
// 期间会话已切换则什么都不做。
func (e *Engine) appendAssistant(gen uint64, reply Reply, clearSending bool) bool {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		e.logger.Debug("stale reply dropped")
		return false
	}
	if clearSending {
		e.sending = false
	}
	msg := chat.Message{
		ID:                     newID(),
		ServerMessageID:        reply.ServerMessageID,
		Content:                reply.Content,
		Sender:                 chat.SenderAssistant,
		Timestamp:              e.now(),
		SupplementaryMaterials: reply.SupplementaryMaterials,
		ActionCard:             reply.ActionCard,
		Questions:              reply.Questions,
	}
	if card := reply.ActionCard; card != nil {
		msg.DiagnosisType = card.DiagnosisType
		msg.IsQuestionnaire = card.Type == chat.CardQuestionnaire
	}
	e.store.Append(msg)
	e.typewriter.Reveal(e.convCtx, msg.ID, msg.Content)
	e.mu.Unlock()

	if clearSending {
		e.emit(Event{Kind: EventSending})
	}
	e.emit(Event{Kind: EventMessages})
	return true
}

// HandleCardAction 处理卡片按钮点击，隐藏或冻结的卡片返回 DirectiveNone。
func (e *Engine) HandleCardAction(messageID string, action chat.Action) (Directive, error) {
	msg, ok := e.store.Get(messageID)
	if !ok || msg.ActionCard == nil {
		return Directive{}, ErrCardNotFound
	}
	if e.typewriter.IsRevealing(messageID) || StateOf(msg) != CardCreated {
		return Directive{}, nil
	}

	card := msg.ActionCard
	diagnosisType := card.DiagnosisType
	if diagnosisType == "" {
		diagnosisType = msg.DiagnosisType
	}

	switch action {
	case chat.ActionStartQuestionnaire:
		return Directive{
			Kind:          DirectiveOpenQuestionnaire,
			MessageID:     messageID,
			DiagnosisType: diagnosisType,
			Questions:     msg.Questions,
		}, nil
	case chat.ActionStartTongueDiagnosis:
		return Directive{Kind: DirectiveOpenCapture, MessageID: messageID, DiagnosisType: "tongue"}, nil
	case chat.ActionStartFaceDiagnosis:
		return Directive{Kind: DirectiveOpenCapture, MessageID: messageID, DiagnosisType: "face"}, nil
	case chat.ActionDismiss:
		if _, changed := e.cards.Dismiss(*card, messageID); changed {
			e.emit(Event{Kind: EventMessages})
		}
		return Directive{}, nil
	case chat.ActionCompleted:
		return Directive{}, nil
	case chat.ActionUnknown:
		return Directive{}, ErrUnknownAction
	default:
		return Directive{}, fmt.Errorf("%w: %d", ErrUnknownAction, int(action))
	}
}

// DismissCard 在不知道消息 id 时按类型和标题关闭卡片。
func (e *Engine) DismissCard(card chat.ActionCard) bool {
	_, changed := e.cards.Dismiss(card, "")
	if changed {
		e.emit(Event{Kind: EventMessages})
	}
	return changed
}

// SubmitQuestionnaire 校验并保存 messageID 上问卷卡片的答案，然后标记完成。
func (e *Engine) SubmitQuestionnaire(ctx context.Context, messageID string, answers map[string]string) error {
	msg, ok := e.store.Get(messageID)
	if !ok || msg.ActionCard == nil || msg.ActionCard.Type != chat.CardQuestionnaire {
		return ErrCardNotFound
	}
	if err := questionnaire.Validate(msg.Questions, answers); err != nil {
		return err
	}

	conversationID := e.ConversationID()
	if err := e.backend.SaveQuestionnaireAnswers(ctx, conversationID, answers); err != nil {
		e.logger.Error("save questionnaire answers failed", zap.Error(err))
		return fmt.Errorf("save questionnaire answers: %w", err)
	}

	diagnosisType := msg.ActionCard.DiagnosisType
	if diagnosisType == "" {
		diagnosisType = msg.DiagnosisType
	}
	return e.CompleteQuestionnaire(ctx, diagnosisType)
}

// CompleteQuestionnaire 问卷完成回调：标记最新的匹配问卷卡片，
// 后端返回后续卡片时追加到消息列表。
func (e *Engine) CompleteQuestionnaire(ctx context.Context, diagnosisType string) error {
	e.mu.Lock()
	gen, conversationID := e.gen, e.conversationID
	e.mu.Unlock()
	if conversationID == "" {
		return ErrNoConversation
	}

	if _, changed := e.cards.MarkCompleted(QuestionnaireDone(diagnosisType)); changed {
		e.emit(Event{Kind: EventMessages})
	}

	followUp, err := e.backend.QuestionnaireCompleted(ctx, conversationID, diagnosisType)
	if err != nil {
		e.logger.Error("questionnaire completion request failed", zap.Error(err))
		return fmt.Errorf("questionnaire completed: %w", err)
	}
	if followUp != nil && followUp.Message != "" {
		e.appendAssistant(gen, Reply{
			Content:         followUp.Message,
			ServerMessageID: followUp.MessageID,
			ActionCard:      followUp.ActionCard,
		}, false)
	}
	return nil
}

// BeginCapture 开始 diagnosisType 的一轮拍摄。
func (e *Engine) BeginCapture(diagnosisType string) {
	e.mu.Lock()
	e.captureType = diagnosisType
	e.reconciler.BeginRound()
	e.mu.Unlock()
	e.logger.Info("capture started", zap.String("diagnosisType", diagnosisType))
}

// RunCapture 请求后端分析当前会话的拍摄，结果经 HandleDiagnosisEvent 到达。
func (e *Engine) RunCapture(ctx context.Context, diagnosisType string) error {
	conversationID := e.ConversationID()
	if conversationID == "" {
		return ErrNoConversation
	}
	if err := e.backend.SubmitDiagnosis(ctx, conversationID, diagnosisType); err != nil {
		return fmt.Errorf("submit diagnosis: %w", err)
	}
	return nil
}

// HandleDiagnosisEvent 应用推送的诊断结果，返回是否占用了本轮。
func (e *Engine) HandleDiagnosisEvent(ev chat.DiagnosisEvent) bool {
	e.mu.Lock()
	if ev.DiagnosisType == "" {
		ev.DiagnosisType = e.captureType
	}
	claimed := e.reconciler.HandlePush(e.conversationID, ev)
	e.mu.Unlock()
	if claimed {
		e.emit(Event{Kind: EventMessages})
	}
	return claimed
}

// CaptureClosed 处理拍摄页关闭。
func (e *Engine) CaptureClosed(ctx context.Context) (CloseResult, error) {
	e.mu.Lock()
	conversationID, scope := e.conversationID, e.convCtx
	e.captureType = ""
	e.mu.Unlock()
	if conversationID == "" {
		return RefreshDiscarded, ErrNoConversation
	}

	opCtx, cancel := e.opContext(ctx, scope)
	defer cancel()
	result, err := e.reconciler.CaptureClosed(opCtx, conversationID)
	if err != nil {
		e.logger.Warn("post-capture refresh failed", zap.Error(err))
	}
	return result, err
}

func (e *Engine) commitRefresh(conversationID string, msgs []chat.Message) bool {
	e.mu.Lock()
	if e.conversationID != conversationID {
		e.mu.Unlock()
		return false
	}
	e.typewriter.Stop()
	e.store.ReplaceAll(msgs)
	e.mu.Unlock()
	e.emit(Event{Kind: EventMessages})
	return true
}

// SwitchConversation 切换到 conversationID 并加载历史，上一个会话的轮询和逐字显示会被取消。
func (e *Engine) SwitchConversation(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	gen := e.activateLocked(conversationID)
	e.mu.Unlock()
	e.emit(Event{Kind: EventConversation})

	history, err := e.backend.GetConversationMessages(ctx, conversationID, 1, refreshPageSize)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return nil
	}
	e.store.ReplaceAll(MessagesFromHistory(history, e.now()))
	e.emit(Event{Kind: EventMessages})
	return nil
}

// Conversations 列出用户的会话。
func (e *Engine) Conversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	return e.backend.ListConversations(ctx, 1, 50)
}

// DeleteConversation 删除会话，删除当前会话时会新建一个。
func (e *Engine) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := e.backend.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if conversationID == e.ConversationID() {
		return e.Start(ctx)
	}
	return nil
}

// EnterBackground 记录进入后台的时间。
func (e *Engine) EnterBackground(now time.Time) {
	e.mu.Lock()
	e.backgroundAt = now
	e.mu.Unlock()
}

// EnterForeground 在后台停留超过重置时长时新建会话，返回是否新建。
func (e *Engine) EnterForeground(ctx context.Context, now time.Time) (bool, error) {
	e.mu.Lock()
	since := e.backgroundAt
	e.backgroundAt = time.Time{}
	e.mu.Unlock()

	if since.IsZero() || now.Sub(since) < e.cfg.BackgroundReset {
		return false, nil
	}
	e.logger.Info("back from long background, starting new conversation", zap.Duration("away", now.Sub(since)))
	return true, e.Start(ctx)
}

// ViewDiagnosisReport 获取诊断报告，失败时弹出提示，不改动消息列表。
func (e *Engine) ViewDiagnosisReport(ctx context.Context, reportID string) (chat.DiagnosisReport, error) {
	report, err := e.backend.GetDiagnosisReport(ctx, reportID)
	if err != nil {
		e.logger.Warn("diagnosis report fetch failed", zap.String("reportId", reportID), zap.Error(err))
		e.emit(Event{Kind: EventAlert, Text: TextReportFailed})
		return chat.DiagnosisReport{}, err
	}
	return report, nil
}

// View 返回供展示层使用的快照。
func (e *Engine) View() View {
	e.mu.Lock()
	conversationID, sending := e.conversationID, e.sending
	e.mu.Unlock()

	msgs := e.store.Snapshot()
	typingID := e.typewriter.TypingMessageID()
	displayed := e.typewriter.Displayed()

	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := MessageView{Message: m, Text: m.Content, CardState: StateOf(m)}
		if typingID != "" && m.ID == typingID {
			v.Revealing = true
			v.Text = displayed
		}
		v.CardVisible = m.ActionCard != nil && !m.IsCardDismissed && !v.Revealing
		views = append(views, v)
	}

	return View{
		ConversationID: conversationID,
		Messages:       views,
		Sending:        sending,
		Typing:         typingID != "",
		ScrollTrigger:  e.store.ScrollTrigger(),
	}
}
