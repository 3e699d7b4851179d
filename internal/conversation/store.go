package conversation

import (
	"sync"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

// Store 当前会话的有序消息列表。
//
// 消息按插入顺序保存且不去重，调用方不能重复插入同一内容。
// 每次 Append 和 ReplaceAll 都会递增 ScrollTrigger，展示层据此滚动到底部。
type Store struct {
	mu            sync.RWMutex
	messages      []chat.Message
	scrollTrigger uint64
}

func NewStore() *Store {
	return &Store{messages: make([]chat.Message, 0, 32)}
}

// Append 追加消息到末尾。
func (s *Store) Append(msg chat.Message) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg.Clone())
	s.scrollTrigger++
	return s.scrollTrigger
}

// ReplaceAll 整体替换消息列表，用于服务端全量刷新。
func (s *Store) ReplaceAll(msgs []chat.Message) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		s.messages = append(s.messages, m.Clone())
	}
	s.scrollTrigger++
	return s.scrollTrigger
}

// Reset 清空消息，不触发滚动。
func (s *Store) Reset() {
	s.mu.Lock()
	s.messages = s.messages[:0]
	s.mu.Unlock()
}

// MutateCard 对本地 id 对应的消息执行 transform，消息不存在时返回 false。
func (s *Store) MutateCard(messageID string, transform func(*chat.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			transform(&s.messages[i])
			return true
		}
	}
	return false
}

// UpdateFirst 按存储顺序对第一条 match 为 true 的消息执行 transform。
func (s *Store) UpdateFirst(match func(chat.Message) bool, transform func(*chat.Message)) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if match(s.messages[i]) {
			transform(&s.messages[i])
			return s.messages[i].ID, true
		}
	}
	return "", false
}

// UpdateLast 与 UpdateFirst 相同，但从最新一条开始查找。
func (s *Store) UpdateLast(match func(chat.Message) bool, transform func(*chat.Message)) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if match(s.messages[i]) {
			transform(&s.messages[i])
			return s.messages[i].ID, true
		}
	}
	return "", false
}

// Get 返回本地 id 对应消息的副本。
func (s *Store) Get(messageID string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == messageID {
			return m.Clone(), true
		}
	}
	return chat.Message{}, false
}

// Last 返回最新一条消息的副本。
func (s *Store) Last() (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return chat.Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// Snapshot 返回消息列表的深拷贝。
func (s *Store) Snapshot() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ScrollTrigger 当前滚动计数。
func (s *Store) ScrollTrigger() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scrollTrigger
}

// BumpScroll 只递增滚动计数，不改动消息。
func (s *Store) BumpScroll() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrollTrigger++
	return s.scrollTrigger
}

// HasServerMessage 判断服务端消息 serverMessageID 是否已在列表中。
func (s *Store) HasServerMessage(serverMessageID string) bool {
	if serverMessageID == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ServerMessageID == serverMessageID {
			return true
		}
	}
	return false
}
