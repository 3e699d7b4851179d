package chat

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	chatService "github.com/zhouzirui/qinghe-assistant/internal/service/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/service/jobs"
	"github.com/zhouzirui/qinghe-assistant/pkg/utils"
)

// Conversations 对话存储。
type Conversations interface {
	CreateConversation(ctx context.Context) (chat.Conversation, error)
	Messages(ctx context.Context, conversationID string, page, limit int) ([]chat.HistoryMessage, int, error)
	List(ctx context.Context, page, limit int) ([]chat.ConversationSummary, chat.Pagination)
	Delete(ctx context.Context, conversationID string) error
}

// Assistant 处理用户消息。
type Assistant interface {
	Send(ctx context.Context, conversationID, text string) (chat.SendResult, error)
	Job(jobID string) (chat.Job, error)
}

// Handler 健康对话的HTTP处理器
type Handler struct {
	conversations Conversations
	assistant     Assistant
	logger        *zap.Logger
}

// New 创建对话处理器
func New(conversations Conversations, assistant Assistant, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		conversations: conversations,
		assistant:     assistant,
		logger:        logger.Named("chat-handler"),
	}
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/health/chat/new", h.handleCreateConversation)
	r.Post("/health/chat", h.handleSend)
	r.Get("/health/chat/job/{jobID}", h.handleJob)
	r.Get("/health/chat/history", h.handleHistory)
	r.Delete("/health/chat/conversation/{conversationID}", h.handleDelete)
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversations.CreateConversation(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message        string `json:"message"`
		ConversationID string `json:"conversationId"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.assistant.Send(r.Context(), payload.ConversationID, payload.Message)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if res.UseQueue {
		status = http.StatusAccepted
	}
	utils.RespondJSON(w, status, res)
}

func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.assistant.Job(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, job)
}

// handleHistory 带 conversationId 时返回消息，否则返回对话列表。
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	limit := queryInt(q.Get("limit"), 20)

	if conversationID := q.Get("conversationId"); conversationID != "" {
		msgs, total, err := h.conversations.Messages(r.Context(), conversationID, page, limit)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"conversationId": conversationID,
			"messages":       msgs,
			"total":          total,
		})
		return
	}

	summaries, pagination := h.conversations.List(r.Context(), page, limit)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversations": summaries,
		"pagination":    pagination,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.Delete(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "对话已删除", nil)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrEmptyContent):
		utils.RespondError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, chatService.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, jobs.ErrJobNotFound):
		utils.RespondError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, chatService.ErrQuotaExceeded):
		utils.RespondError(w, http.StatusTooManyRequests, chatService.ErrQuotaExceeded.Error())
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrQueueClosed):
		utils.RespondError(w, http.StatusServiceUnavailable, "服务繁忙，请稍后重试")
	default:
		h.logger.Error("chat request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
