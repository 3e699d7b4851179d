package chat

import "time"

// Sender 标识消息的发送方。
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message 是对话记录中的一条消息。
// 除 ActionCard / IsCardDismissed 外，消息创建后不再修改。
type Message struct {
	ID                     string      `json:"id"`
	ServerMessageID        string      `json:"serverMessageId,omitempty"`
	Content                string      `json:"content"`
	Sender                 Sender      `json:"sender"`
	Timestamp              time.Time   `json:"timestamp"`
	SupplementaryMaterials []string    `json:"supplementaryMaterials,omitempty"`
	ActionCard             *ActionCard `json:"actionCard,omitempty"`
	IsCardDismissed        bool        `json:"isCardDismissed,omitempty"`
	IsQuestionnaire        bool        `json:"isQuestionnaire,omitempty"`
	Questions              []Question  `json:"questions,omitempty"`
	DiagnosisType          string      `json:"diagnosisType,omitempty"`
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool {
	return m.Sender == SenderUser
}

// HasCard 表示消息是否携带动作卡片。
func (m Message) HasCard() bool {
	return m.ActionCard != nil
}

// Clone 返回深拷贝，避免调用方修改存储中的卡片。
func (m Message) Clone() Message {
	out := m
	if m.SupplementaryMaterials != nil {
		out.SupplementaryMaterials = append([]string(nil), m.SupplementaryMaterials...)
	}
	if m.Questions != nil {
		out.Questions = make([]Question, len(m.Questions))
		for i, q := range m.Questions {
			out.Questions[i] = q.Clone()
		}
	}
	if m.ActionCard != nil {
		card := m.ActionCard.Clone()
		out.ActionCard = &card
	}
	return out
}

// HistoryMessage 是服务端历史记录中的一条消息。
type HistoryMessage struct {
	ID                     string   `json:"id"`
	ConversationID         string   `json:"conversationId,omitempty"`
	Role                   string   `json:"role"`
	Content                string   `json:"content"`
	CreatedAt              string   `json:"createdAt,omitempty"`
	Timestamp              string   `json:"timestamp,omitempty"`
	SupplementaryMaterials []string `json:"supplementaryMaterials,omitempty"`
}

// IsUser 兼容后端 role 字段。
func (h HistoryMessage) IsUser() bool {
	return h.Role == string(SenderUser)
}

// Time 解析 createdAt，缺失时回退到 timestamp 字段。
func (h HistoryMessage) Time() (time.Time, bool) {
	for _, raw := range []string{h.CreatedAt, h.Timestamp} {
		if raw == "" {
			continue
		}
		if t, ok := ParseTime(raw); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
}

// ParseTime accepts the timestamp layouts the backend is known to emit.
func ParseTime(raw string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
