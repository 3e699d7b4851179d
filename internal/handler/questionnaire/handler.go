package questionnaire

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
	chatService "github.com/zhouzirui/qinghe-assistant/internal/service/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/service/diagnosis"
	"github.com/zhouzirui/qinghe-assistant/pkg/utils"
)

// Service 问卷相关的业务接口。
type Service interface {
	Questionnaire(diagnosisType string) (questionnaire.Questionnaire, error)
	SaveAnswers(ctx context.Context, conversationID string, answers map[string]string) error
	Completed(ctx context.Context, conversationID, diagnosisType string) (*chat.FollowUp, error)
}

// Handler 问卷服务的HTTP处理器
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New 创建问卷处理器
func New(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger.Named("questionnaire-handler")}
}

// RegisterRoutes 注册问卷相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health/questionnaire/{diagnosisType}", h.handleGet)
	r.Post("/health/questionnaire/answers", h.handleAnswers)
	r.Post("/health/questionnaire/completed", h.handleCompleted)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.Questionnaire(chi.URLParam(r, "diagnosisType"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, q)
}

func (h *Handler) handleAnswers(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID string            `json:"conversationId"`
		Answers        map[string]string `json:"answers"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.ConversationID) == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	if err := h.svc.SaveAnswers(r.Context(), payload.ConversationID, payload.Answers); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "答案已保存", nil)
}

func (h *Handler) handleCompleted(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID string `json:"conversationId"`
		DiagnosisType  string `json:"diagnosisType"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ConversationID == "" || payload.DiagnosisType == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId and diagnosisType are required")
		return
	}

	followUp, err := h.svc.Completed(r.Context(), payload.ConversationID, payload.DiagnosisType)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, followUp)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, diagnosis.ErrUnsupportedType):
		utils.RespondError(w, http.StatusNotFound, "questionnaire not found")
	case errors.Is(err, chatService.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, questionnaire.ErrIncomplete):
		utils.RespondError(w, http.StatusBadRequest, questionnaire.ErrIncomplete.Error())
	default:
		h.logger.Error("questionnaire request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
