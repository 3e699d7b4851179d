package diagnosis

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	chatService "github.com/zhouzirui/qinghe-assistant/internal/service/chat"
	diagnosisService "github.com/zhouzirui/qinghe-assistant/internal/service/diagnosis"
	"github.com/zhouzirui/qinghe-assistant/pkg/utils"
)

// Service 诊断业务接口。
type Service interface {
	Submit(ctx context.Context, conversationID, diagnosisType string) error
	Report(reportID string) (chat.DiagnosisReport, error)
}

// Hub 接管推送连接。
type Hub interface {
	Attach(ctx context.Context, conn *websocket.Conn, conversationID string) error
}

// Handler 诊断与推送的HTTP处理器
type Handler struct {
	svc      Service
	hub      Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New 创建诊断处理器
func New(svc Service, hub Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("diagnosis-handler"),
	}
}

// RegisterRoutes 注册诊断相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/health/diagnosis/{diagnosisType}", h.handleSubmit)
	r.Get("/health/diagnosis/report/{reportID}", h.handleReport)
	r.Get("/health/events", h.handleEvents)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID string `json:"conversationId"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ConversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	diagnosisType := chi.URLParam(r, "diagnosisType")
	if err := h.svc.Submit(r.Context(), payload.ConversationID, diagnosisType); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusAccepted, "图片已上传，正在分析", map[string]string{
		"conversationId": payload.ConversationID,
		"diagnosisType":  diagnosisType,
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Report(chi.URLParam(r, "reportID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, report)
}

// handleEvents 升级为 WebSocket，推送诊断结果。
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "push unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := h.hub.Attach(r.Context(), conn, r.URL.Query().Get("conversationId")); err != nil {
		h.logger.Debug("push connection ended", zap.Error(err))
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, diagnosisService.ErrUnsupportedType):
		utils.RespondError(w, http.StatusBadRequest, "unsupported diagnosis type")
	case errors.Is(err, chatService.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, diagnosisService.ErrReportNotFound):
		utils.RespondError(w, http.StatusNotFound, "report not found")
	case errors.Is(err, diagnosisService.ErrBusy), errors.Is(err, diagnosisService.ErrNotRunning):
		utils.RespondError(w, http.StatusServiceUnavailable, "诊断服务繁忙，请稍后重试")
	default:
		h.logger.Error("diagnosis request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
