package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/metrics"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
	"github.com/zhouzirui/qinghe-assistant/internal/service/ai"
	chatservice "github.com/zhouzirui/qinghe-assistant/internal/service/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/service/diagnosis"
	"github.com/zhouzirui/qinghe-assistant/internal/service/intent"
	"github.com/zhouzirui/qinghe-assistant/internal/service/jobs"
)

// ChatStore 是助手依赖的对话存储。
type ChatStore interface {
	CreateConversation(ctx context.Context) (chat.Conversation, error)
	Exists(conversationID string) bool
	ConsumeQuota(ctx context.Context) error
	SaveMessage(ctx context.Context, msg chat.HistoryMessage) (chat.HistoryMessage, error)
	History(ctx context.Context, conversationID string, limit int) ([]chat.HistoryMessage, error)
}

// Guide 判断回复是否需要携带问卷卡片。
type Guide interface {
	Analyze(ctx context.Context, history []chat.HistoryMessage, userMessage, assistantMessage string) intent.Guidance
}

// JobQueue 异步执行回复生成。
type JobQueue interface {
	Submit(task jobs.Task) (string, error)
	Get(id string) (chat.Job, error)
}

// Config 助手参数。
type Config struct {
	UseQueue     bool
	HistoryLimit int
	Metrics      *metrics.Metrics
}

// Service 串起一次对话回合：保存用户消息、生成回复、按意图附加卡片。
type Service struct {
	cfg            Config
	chats          ChatStore
	responder      ai.Responder
	guide          Guide
	queue          JobQueue
	questionnaires questionnaire.Store
	logger         *zap.Logger
}

// NewService wires the assistant. queue may be nil, in which case every reply is synchronous.
func NewService(cfg Config, chats ChatStore, responder ai.Responder, guide Guide, queue JobQueue, questionnaires questionnaire.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Service{
		cfg:            cfg,
		chats:          chats,
		responder:      responder,
		guide:          guide,
		queue:          queue,
		questionnaires: questionnaires,
		logger:         logger.Named("assistant"),
	}
}

// Send 处理一条用户消息。conversationID 为空时新建对话。
func (s *Service) Send(ctx context.Context, conversationID, text string) (chat.SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.SendResult{}, chatservice.ErrEmptyContent
	}

	if conversationID == "" {
		conv, err := s.chats.CreateConversation(ctx)
		if err != nil {
			return chat.SendResult{}, err
		}
		conversationID = conv.ID
	} else if !s.chats.Exists(conversationID) {
		return chat.SendResult{}, chatservice.ErrConversationNotFound
	}

	if err := s.chats.ConsumeQuota(ctx); err != nil {
		if errors.Is(err, chatservice.ErrQuotaExceeded) {
			s.cfg.Metrics.QuotaRejected()
		}
		return chat.SendResult{}, err
	}

	userMsg, err := s.chats.SaveMessage(ctx, chat.HistoryMessage{
		ConversationID: conversationID,
		Role:           string(chat.SenderUser),
		Content:        text,
	})
	if err != nil {
		return chat.SendResult{}, err
	}

	log := s.logger.With(zap.String("conversationId", conversationID))

	if s.cfg.UseQueue && s.queue != nil {
		jobID, err := s.queue.Submit(func(ctx context.Context) (chat.JobResult, error) {
			return s.generate(ctx, conversationID, text)
		})
		if err != nil {
			return chat.SendResult{}, fmt.Errorf("enqueue reply: %w", err)
		}
		log.Info("reply queued", zap.String("jobId", jobID))
		return chat.SendResult{
			ConversationID: conversationID,
			MessageID:      userMsg.ID,
			JobID:          jobID,
			Status:         string(chat.JobProcessing),
			UserMessage:    text,
			EstimatedTime:  "5-15秒",
			UseQueue:       true,
		}, nil
	}

	result, err := s.generate(ctx, conversationID, text)
	if err != nil {
		return chat.SendResult{}, err
	}
	log.Info("reply generated inline", zap.String("messageId", result.MessageID))
	return chat.SendResult{
		ConversationID:         conversationID,
		MessageID:              result.MessageID,
		Response:               result.AIReply,
		Status:                 string(chat.JobCompleted),
		UserMessage:            text,
		SupplementaryMaterials: result.SupplementaryMaterials,
		ActionCard:             result.ActionCard,
		Questions:              result.Questions,
	}, nil
}

// Job 返回异步任务快照。
func (s *Service) Job(jobID string) (chat.Job, error) {
	if s.queue == nil {
		return chat.Job{}, jobs.ErrJobNotFound
	}
	return s.queue.Get(jobID)
}

func (s *Service) generate(ctx context.Context, conversationID, text string) (chat.JobResult, error) {
	history, err := s.chats.History(ctx, conversationID, s.cfg.HistoryLimit)
	if err != nil {
		return chat.JobResult{}, err
	}
	// 当前这条用户消息已经入库，作为 query 单独传给模型。
	if n := len(history); n > 0 && history[n-1].IsUser() && history[n-1].Content == text {
		history = history[:n-1]
	}

	guidance := s.guide.Analyze(ctx, history, text, "")
	reply, err := s.responder.Reply(ctx, history, text, &guidance)
	if err != nil {
		return chat.JobResult{}, err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return chat.JobResult{}, fmt.Errorf("empty reply")
	}

	final := s.guide.Analyze(ctx, history, text, reply)

	result := chat.JobResult{Success: true, ConversationID: conversationID, AIReply: reply}
	if final.Decision.CardWorthy() {
		dt := string(final.Decision.Intent)
		reason := final.Reason
		if reason == intent.ReasonFallback {
			reason = ""
		}
		result.ActionCard = diagnosis.QuestionnaireCard(dt, reason)
		if q, ok := s.questionnaires.FindByType(dt); ok {
			result.Questions = q.Questions
		}
	}

	saved, err := s.chats.SaveMessage(ctx, chat.HistoryMessage{
		ConversationID: conversationID,
		Role:           string(chat.SenderAssistant),
		Content:        reply,
	})
	if err != nil {
		return chat.JobResult{}, err
	}
	result.MessageID = saved.ID

	s.logger.Debug("reply ready",
		zap.String("conversationId", conversationID),
		zap.String("intent", string(final.Decision.Intent)),
		zap.Bool("card", result.ActionCard != nil))
	return result, nil
}
