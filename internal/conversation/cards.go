package conversation

import (
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

// CardState 行动卡片所处的生命周期阶段。
type CardState int

const (
	CardNone CardState = iota
	CardCreated
	CardDismissed
	CardCompleted
)

func (s CardState) String() string {
	switch s {
	case CardCreated:
		return "created"
	case CardDismissed:
		return "dismissed"
	case CardCompleted:
		return "completed"
	default:
		return "none"
	}
}

// StateOf 推导消息上卡片的状态，Dismissed 和 Completed 为终态。
func StateOf(m chat.Message) CardState {
	switch {
	case m.ActionCard == nil:
		return CardNone
	case m.ActionCard.IsCompleted:
		return CardCompleted
	case m.IsCardDismissed:
		return CardDismissed
	default:
		return CardCreated
	}
}

const questionnaireMarker = "问卷"

var completedLabels = map[chat.CardType]string{
	chat.CardQuestionnaire:   "已完成问卷",
	chat.CardTongueDiagnosis: "已完成拍摄",
	chat.CardFaceDiagnosis:   "已完成拍摄",
}

// CompletionTarget 指向外部流程刚完成的卡片。
type CompletionTarget struct {
	Questionnaire bool
	DiagnosisType string
}

// QuestionnaireDone 指向某诊断类型的问卷卡片。
func QuestionnaireDone(diagnosisType string) CompletionTarget {
	return CompletionTarget{Questionnaire: true, DiagnosisType: diagnosisType}
}

// DiagnosisDone 指向某诊断类型的拍摄卡片。
func DiagnosisDone(diagnosisType string) CompletionTarget {
	return CompletionTarget{DiagnosisType: diagnosisType}
}

func (t CompletionTarget) matches(m chat.Message) bool {
	card := m.ActionCard
	if card == nil {
		return false
	}
	if t.Questionnaire {
		if card.Type != chat.CardQuestionnaire {
			return false
		}
		return (t.DiagnosisType != "" && card.DiagnosisType == t.DiagnosisType) ||
			strings.Contains(card.Title, questionnaireMarker)
	}
	return card.Type == chat.DiagnosisCardType(t.DiagnosisType)
}

// CardManager 管理卡片状态流转：Created -> Dismissed | Completed。
type CardManager struct {
	store  *Store
	logger *zap.Logger
}

func NewCardManager(store *Store, logger *zap.Logger) *CardManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CardManager{store: store, logger: logger.Named("cards")}
}

// Dismiss 隐藏卡片。传入 messageID 时精确定位；否则按存储顺序取第一条
// 类型和标题相同的卡片，不论其当前状态。已冻结的卡片不变，返回被关闭的消息 id。
func (m *CardManager) Dismiss(card chat.ActionCard, messageID string) (string, bool) {
	changed := false
	apply := func(msg *chat.Message) {
		if StateOf(*msg) != CardCreated {
			return
		}
		msg.IsCardDismissed = true
		changed = true
	}

	if messageID != "" {
		if !m.store.MutateCard(messageID, apply) {
			m.logger.Warn("dismiss target not found", zap.String("messageId", messageID))
			return "", false
		}
		if changed {
			m.logger.Debug("card dismissed", zap.String("messageId", messageID))
		}
		return messageID, changed
	}

	id, found := m.store.UpdateFirst(func(msg chat.Message) bool {
		return msg.ActionCard != nil && msg.ActionCard.Type == card.Type && msg.ActionCard.Title == card.Title
	}, apply)
	if !found {
		m.logger.Warn("dismiss fallback found no card",
			zap.String("type", string(card.Type)),
			zap.String("title", card.Title))
		return "", false
	}
	if changed {
		m.logger.Debug("card dismissed by fallback", zap.String("messageId", id))
	}
	return id, changed
}

// MarkCompleted 将最新一张匹配的卡片标记为完成，更早的匹配保持不变。
func (m *CardManager) MarkCompleted(target CompletionTarget) (string, bool) {
	changed := false
	id, found := m.store.UpdateLast(target.matches, func(msg *chat.Message) {
		if StateOf(*msg) != CardCreated {
			return
		}
		completeCard(msg.ActionCard)
		changed = true
	})
	if !found {
		m.logger.Debug("no card to complete",
			zap.Bool("questionnaire", target.Questionnaire),
			zap.String("diagnosisType", target.DiagnosisType))
		return "", false
	}
	if changed {
		m.logger.Info("card completed", zap.String("messageId", id), zap.String("diagnosisType", target.DiagnosisType))
	}
	return id, changed
}

func completeCard(card *chat.ActionCard) {
	label, ok := completedLabels[card.Type]
	if !ok {
		label = "已完成"
	}
	buttons := make([]chat.CardButton, 0, 1)
	for _, b := range card.Buttons {
		switch b.Type {
		case chat.ButtonSecondary:
			continue
		case chat.ButtonPrimary, chat.ButtonCompleted:
			b.Text = label
			b.Type = chat.ButtonCompleted
			b.Action = chat.ActionCompleted.Code()
			b.IsDisabled = true
		}
		buttons = append(buttons, b)
	}
	card.Buttons = buttons
	card.IsCompleted = true
}
