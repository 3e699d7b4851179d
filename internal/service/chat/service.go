package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrQuotaExceeded        = errors.New("今日对话次数已达上限")
	ErrEmptyContent         = errors.New("message content is required")
)

// DefaultWelcome 新对话的欢迎语。
const DefaultWelcome = "您好，我是您的健康助手。可以和我聊聊最近的身体状况，我会结合中医舌诊、面诊帮您分析体质。"

type conversationRecord struct {
	conv     chat.Conversation
	messages []chat.HistoryMessage
}

// Service 管理对话与消息，全部保存在内存中。
type Service struct {
	mu            sync.RWMutex
	conversations map[string]*conversationRecord
	welcome       string
	now           func() time.Time

	quotaMu    sync.Mutex
	dailyLimit int
	quotaDay   string
	quotaUsed  int
}

// Option 配置 Service。
type Option func(*Service)

// WithDailyLimit 设置每日可发送的消息数，0 表示不限。
func WithDailyLimit(limit int) Option {
	return func(s *Service) { s.dailyLimit = limit }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithWelcome overrides the welcome message.
func WithWelcome(text string) Option {
	return func(s *Service) { s.welcome = text }
}

// NewService bootstraps the in-memory chat service.
func NewService(opts ...Option) *Service {
	s := &Service{
		conversations: make(map[string]*conversationRecord),
		welcome:       DefaultWelcome,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateConversation 新建对话，欢迎语同时作为第一条助手消息保存。
func (s *Service) CreateConversation(_ context.Context) (chat.Conversation, error) {
	now := s.now().UTC()
	conv := chat.Conversation{
		ID:             uuid.NewString(),
		CreatedAt:      now,
		WelcomeMessage: s.welcome,
	}

	rec := &conversationRecord{conv: conv, messages: make([]chat.HistoryMessage, 0, 16)}
	if s.welcome != "" {
		rec.messages = append(rec.messages, chat.HistoryMessage{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Role:           string(chat.SenderAssistant),
			Content:        s.welcome,
			CreatedAt:      now.Format(time.RFC3339Nano),
		})
	}

	s.mu.Lock()
	s.conversations[conv.ID] = rec
	s.mu.Unlock()
	return conv, nil
}

// Exists reports whether the conversation is known.
func (s *Service) Exists(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[conversationID]
	return ok
}

// SaveMessage appends a message to the conversation and returns the stored copy.
func (s *Service) SaveMessage(_ context.Context, msg chat.HistoryMessage) (chat.HistoryMessage, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return chat.HistoryMessage{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[msg.ConversationID]
	if !ok {
		return chat.HistoryMessage{}, ErrConversationNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = s.now().UTC().Format(time.RFC3339Nano)
	}
	rec.messages = append(rec.messages, msg)
	return msg, nil
}

// Messages 返回分页后的消息。第 1 页是最新的 limit 条，页内按时间正序。
func (s *Service) Messages(_ context.Context, conversationID string, page, limit int) ([]chat.HistoryMessage, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return nil, 0, ErrConversationNotFound
	}

	page, limit = normalizePage(page, limit)
	total := len(rec.messages)
	end := total - (page-1)*limit
	if end <= 0 {
		return []chat.HistoryMessage{}, total, nil
	}
	start := max(end-limit, 0)

	out := make([]chat.HistoryMessage, end-start)
	copy(out, rec.messages[start:end])
	return out, total, nil
}

// History 返回最近 limit 条消息，供模型构造上下文。
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]chat.HistoryMessage, error) {
	msgs, _, err := s.Messages(ctx, conversationID, 1, limit)
	return msgs, err
}

// List 按最后消息时间倒序列出对话。
func (s *Service) List(_ context.Context, page, limit int) ([]chat.ConversationSummary, chat.Pagination) {
	s.mu.RLock()
	summaries := make([]chat.ConversationSummary, 0, len(s.conversations))
	for _, rec := range s.conversations {
		summaries = append(summaries, summarize(rec))
	}
	s.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
	})

	page, limit = normalizePage(page, limit)
	total := len(summaries)
	totalPages := (total + limit - 1) / limit
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	return summaries[start:end], chat.Pagination{
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalRecords: total,
		HasMore:      end < total,
	}
}

// Delete 删除对话。
func (s *Service) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return ErrConversationNotFound
	}
	delete(s.conversations, conversationID)
	return nil
}

// ConsumeQuota 记一次对话，超过每日上限时返回 ErrQuotaExceeded。
func (s *Service) ConsumeQuota(_ context.Context) error {
	if s.dailyLimit <= 0 {
		return nil
	}

	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()

	day := s.now().Format("2006-01-02")
	if day != s.quotaDay {
		s.quotaDay = day
		s.quotaUsed = 0
	}
	if s.quotaUsed >= s.dailyLimit {
		return ErrQuotaExceeded
	}
	s.quotaUsed++
	return nil
}

func summarize(rec *conversationRecord) chat.ConversationSummary {
	sum := chat.ConversationSummary{
		ID:            rec.conv.ID,
		MessageCount:  len(rec.messages),
		StartedAt:     rec.conv.CreatedAt,
		LastMessageAt: rec.conv.CreatedAt,
		Status:        "active",
	}
	for _, m := range rec.messages {
		if t, ok := m.Time(); ok && t.After(sum.LastMessageAt) {
			sum.LastMessageAt = t
		}
		if m.IsUser() {
			sum.LastUserMessage = m.Content
			if sum.Title == "" {
				sum.Title = truncate(m.Content, 20)
			}
		} else {
			sum.LastAIReply = m.Content
		}
	}
	return sum
}

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
