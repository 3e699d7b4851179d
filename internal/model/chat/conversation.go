package chat

import "time"

// Conversation 是一次对话。同一时刻只有一个处于活跃状态。
type Conversation struct {
	ID             string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
	WelcomeMessage string    `json:"welcomeMessage,omitempty"`
}

// ConversationSummary 用于会话列表展示。
type ConversationSummary struct {
	ID              string    `json:"conversationId"`
	Title           string    `json:"title,omitempty"`
	LastUserMessage string    `json:"lastUserMessage,omitempty"`
	LastAIReply     string    `json:"lastAiReply,omitempty"`
	MessageCount    int       `json:"messageCount"`
	StartedAt       time.Time `json:"startedAt"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
	Status          string    `json:"status,omitempty"`
}

const summaryPreviewRunes = 50

// LastMessage 优先展示 AI 回复的前 50 个字符，否则展示用户最后一条消息。
func (s ConversationSummary) LastMessage() string {
	if s.LastAIReply != "" {
		runes := []rune(s.LastAIReply)
		if len(runes) > summaryPreviewRunes {
			return string(runes[:summaryPreviewRunes]) + "..."
		}
		return s.LastAIReply
	}
	return s.LastUserMessage
}

// Pagination 描述分页信息。
type Pagination struct {
	CurrentPage  int  `json:"currentPage"`
	TotalPages   int  `json:"totalPages"`
	TotalRecords int  `json:"totalRecords"`
	HasMore      bool `json:"hasMore"`
}
