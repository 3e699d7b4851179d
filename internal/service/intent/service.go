package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	analysis "github.com/zhouzirui/qinghe-assistant/internal/analysis/intent"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

// Config 控制意图识别服务的行为。
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// ReasonFallback 标记结果来自关键词规则。
const ReasonFallback = "fallback"

// Guidance 表示意图识别结果。
type Guidance struct {
	Decision   analysis.Decision
	Confidence float32
	Reason     string
}

// Service 使用大模型判断是否需要引导用户做舌诊/面诊，失败时回退到关键词规则。
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(user, assistant string) analysis.Decision
	historyLimit int
	logger       *zap.Logger
}

// NewService 创建意图识别服务。chatModel 为 nil 时只使用规则。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     analysis.Analyze,
		historyLimit: historyLimit,
		logger:       logger.Named("intent"),
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(intentSystemPrompt),
		schema.UserMessage(intentUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile intent classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回大模型分类器是否启用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Analyze 根据上下文判断用户意图。assistantMessage 可为空。
func (s *Service) Analyze(ctx context.Context, history []chat.HistoryMessage, userMessage, assistantMessage string) Guidance {
	if !s.Enabled() {
		return s.fallbackGuidance(userMessage, assistantMessage)
	}

	msg, err := s.classifier.Invoke(ctx, map[string]any{
		"transcript": formatHistory(history, s.historyLimit),
		"question":   strings.TrimSpace(userMessage),
		"draft":      strings.TrimSpace(assistantMessage),
	})
	if err != nil {
		s.logger.Warn("classifier invoke failed, use fallback", zap.Error(err))
		return s.fallbackGuidance(userMessage, assistantMessage)
	}
	if msg == nil {
		return s.fallbackGuidance(userMessage, assistantMessage)
	}

	v, err := decodeVerdict(msg.Content)
	if err != nil {
		s.logger.Warn("classifier output parse failed, use fallback", zap.Error(err))
		return s.fallbackGuidance(userMessage, assistantMessage)
	}

	label, ok := analysis.ParseLabel(v.Intent)
	if !ok {
		return s.fallbackGuidance(userMessage, assistantMessage)
	}

	confidence := v.Confidence
	switch {
	case confidence <= 0:
		confidence = 0.6
	case confidence > 1:
		confidence = 1
	}

	return Guidance{
		Decision:   analysis.Decision{Intent: label, Score: int(confidence * 10)},
		Confidence: confidence,
		Reason:     strings.TrimSpace(v.Reason),
	}
}

func (s *Service) fallbackGuidance(userMessage, assistantMessage string) Guidance {
	g := Guidance{Decision: s.fallback(userMessage, assistantMessage), Confidence: 0.3, Reason: ReasonFallback}
	if g.Decision.Intent != analysis.None {
		g.Confidence = 0.55
	}
	return g
}

var errNoVerdict = errors.New("classifier returned no json object")

// decodeVerdict 取出回复中第一个 { 到最后一个 } 之间的 JSON，模型常在前后加说明文字。
func decodeVerdict(content string) (verdict, error) {
	var v verdict
	lo, hi := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if lo < 0 || hi <= lo {
		return v, errNoVerdict
	}
	if err := json.Unmarshal([]byte(content[lo:hi+1]), &v); err != nil {
		return v, fmt.Errorf("decode verdict: %w", err)
	}
	return v, nil
}

func formatHistory(messages []chat.HistoryMessage, limit int) string {
	if len(messages) == 0 {
		return "无历史对话"
	}
	limit = max(limit, 1)
	start := max(len(messages)-limit, 0)

	lines := make([]string, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := "AI"
		if msg.IsUser() {
			role = "用户"
		}
		lines = append(lines, role+": "+content)
	}
	if len(lines) == 0 {
		return "无历史对话"
	}
	return strings.Join(lines, "\n")
}

type verdict struct {
	Intent     string  `json:"intent"`
	Confidence float32 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const intentSystemPrompt = "你是一名中医健康咨询分诊助手。请阅读历史对话、用户输入以及（可选的）AI 草稿，判断是否应该引导用户进行舌诊或面诊。\n输出要求：只返回一个 JSON 对象，字段如下：intent (必须是 none/tongue/face/urgent 之一，出现急症征兆时为 urgent)、confidence (0~1 之间的小数)、reason (简要中文理由)。不得输出多余文本。"

const intentUserPrompt = "最近对话：\n{transcript}\n\n用户最新输入：\n{question}\n\nAI 预期回复草稿（可能为空）：\n{draft}\n\n请基于这些信息给出 JSON。"
