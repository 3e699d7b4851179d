package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/service/intent"
)

// Responder 生成助手回复。
type Responder interface {
	Reply(ctx context.Context, history []chat.HistoryMessage, userMessage string, guidance *intent.Guidance) (string, error)
}

const historyLimit = 10

// Service 使用大模型生成回复。
type Service struct {
	chatModel model.ChatModel
	template  PromptTemplate
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *zap.Logger
}

// NewService creates the AI service on top of chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		template:  DefaultTemplate(),
		chain:     runnable,
		logger:    logger.Named("ai"),
	}, nil
}

// Reply implements Responder.
func (s *Service) Reply(ctx context.Context, history []chat.HistoryMessage, userMessage string, guidance *intent.Guidance) (string, error) {
	input := map[string]any{
		"system":  BuildSystemPrompt(s.template, guidance),
		"history": buildHistoryMessages(history),
		"query":   userMessage,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	s.logger.Info("response generated", zap.Int("length", len([]rune(response.Content))))
	return response.Content, nil
}

// ChatModel 返回底层的聊天模型，意图识别服务复用它。
func (s *Service) ChatModel() model.ChatModel {
	return s.chatModel
}

func buildHistoryMessages(messages []chat.HistoryMessage) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	start := max(len(messages)-historyLimit, 0)
	history := make([]*schema.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		switch chat.Sender(msg.Role) {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
