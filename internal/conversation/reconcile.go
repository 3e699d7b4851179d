package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

const (
	DefaultRefreshDelay = time.Second
	refreshPageSize     = 50
)

var newID = uuid.NewString

// HistoryAPI 加载服务端历史消息。
type HistoryAPI interface {
	GetConversationMessages(ctx context.Context, conversationID string, page, limit int) ([]chat.HistoryMessage, error)
}

// CloseResult 拍摄页关闭时的处理结果。
type CloseResult int

const (
	RefreshSuppressed CloseResult = iota
	Refreshed
	RefreshDiscarded
)

func (r CloseResult) String() string {
	switch r {
	case RefreshSuppressed:
		return "suppressed"
	case Refreshed:
		return "refreshed"
	default:
		return "discarded"
	}
}

// Reconciler 保证每轮拍摄的诊断结果只合并一次。
//
// 推送到达时占用本轮；拍摄页关闭时取走占用，没有占用则从服务端刷新消息。
// 占用是容量为 1 的 channel，取走是一次原子操作。
type Reconciler struct {
	store   *Store
	cards   *CardManager
	history HistoryAPI
	delay   time.Duration
	sleep   Sleeper
	logger  *zap.Logger
	claim   chan struct{}
	commit  func(conversationID string, msgs []chat.Message) bool
}

// NewReconciler 创建写入 store 的对账器。
func NewReconciler(store *Store, cards *CardManager, history HistoryAPI, delay time.Duration, sleep Sleeper, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sleep == nil {
		sleep = Sleep
	}
	if delay < 0 {
		delay = DefaultRefreshDelay
	}
	r := &Reconciler{
		store:   store,
		cards:   cards,
		history: history,
		delay:   delay,
		sleep:   sleep,
		logger:  logger.Named("reconcile"),
		claim:   make(chan struct{}, 1),
	}
	r.commit = func(_ string, msgs []chat.Message) bool {
		r.store.ReplaceAll(msgs)
		return true
	}
	return r
}

// HandlePush 应用 activeID 的诊断推送，其他会话的事件直接丢弃。返回是否占用了本轮。
func (r *Reconciler) HandlePush(activeID string, ev chat.DiagnosisEvent) bool {
	log := r.logger.With(zap.String("conversationId", ev.ConversationID), zap.String("messageId", ev.MessageID))
	if activeID == "" || ev.ConversationID != activeID {
		log.Info("diagnosis push for inactive conversation discarded", zap.String("active", activeID))
		return false
	}

	if r.store.HasServerMessage(ev.MessageID) {
		log.Info("diagnosis message already present")
	} else {
		r.store.Append(messageFromEvent(ev))
	}
	if ev.DiagnosisType != "" {
		r.cards.MarkCompleted(DiagnosisDone(ev.DiagnosisType))
	}

	select {
	case r.claim <- struct{}{}:
	default:
	}
	log.Info("diagnosis push applied")
	return true
}

// TakeClaim 取走占用，本轮已有推送时返回 true。
func (r *Reconciler) TakeClaim() bool {
	select {
	case <-r.claim:
		return true
	default:
		return false
	}
}

// BeginRound 清除没有拍摄页时遗留的推送占用。
func (r *Reconciler) BeginRound() {
	if r.TakeClaim() {
		r.logger.Debug("stale diagnosis claim dropped")
	}
}

// CaptureClosed 处理 conversationID 的拍摄页关闭。
func (r *Reconciler) CaptureClosed(ctx context.Context, conversationID string) (CloseResult, error) {
	if r.TakeClaim() {
		r.logger.Info("refresh suppressed, diagnosis already applied", zap.String("conversationId", conversationID))
		return RefreshSuppressed, nil
	}

	if err := r.sleep(ctx, r.delay); err != nil {
		return RefreshDiscarded, err
	}

	history, err := r.history.GetConversationMessages(ctx, conversationID, 1, refreshPageSize)
	if err != nil {
		return RefreshDiscarded, fmt.Errorf("refresh conversation %s: %w", conversationID, err)
	}
	if err := ctx.Err(); err != nil {
		return RefreshDiscarded, err
	}

	if !r.commit(conversationID, MessagesFromHistory(history, time.Now())) {
		r.logger.Info("refresh result discarded, conversation changed", zap.String("conversationId", conversationID))
		return RefreshDiscarded, nil
	}
	// 延迟期间到达的推送已包含在刷新后的历史中
	r.TakeClaim()
	r.logger.Info("conversation refreshed", zap.String("conversationId", conversationID), zap.Int("messages", len(history)))
	return Refreshed, nil
}

func messageFromEvent(ev chat.DiagnosisEvent) chat.Message {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return chat.Message{
		ID:                     newID(),
		ServerMessageID:        ev.MessageID,
		Content:                ev.DiagnosisMessage,
		Sender:                 chat.SenderAssistant,
		Timestamp:              ts,
		SupplementaryMaterials: ev.SupplementaryMaterials,
		ActionCard:             ev.ActionCard,
		DiagnosisType:          ev.DiagnosisType,
	}
}

// MessagesFromHistory 将服务端历史转换为消息列表。
func MessagesFromHistory(history []chat.HistoryMessage, now time.Time) []chat.Message {
	out := make([]chat.Message, 0, len(history))
	for _, h := range history {
		sender := chat.SenderAssistant
		if h.IsUser() {
			sender = chat.SenderUser
		}
		ts, ok := h.Time()
		if !ok {
			ts = now
		}
		out = append(out, chat.Message{
			ID:                     newID(),
			ServerMessageID:        h.ID,
			Content:                h.Content,
			Sender:                 sender,
			Timestamp:              ts,
			SupplementaryMaterials: h.SupplementaryMaterials,
		})
	}
	return out
}
