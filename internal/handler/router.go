package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/handler/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/handler/diagnosis"
	"github.com/zhouzirui/qinghe-assistant/internal/handler/questionnaire"
	"github.com/zhouzirui/qinghe-assistant/internal/metrics"
	middlewarePkg "github.com/zhouzirui/qinghe-assistant/internal/middleware"
	"github.com/zhouzirui/qinghe-assistant/pkg/utils"
)

// Services 路由依赖的业务服务。
type Services struct {
	Conversations  chat.Conversations
	Assistant      chat.Assistant
	Questionnaires questionnaire.Service
	Diagnosis      diagnosis.Service
	Hub            diagnosis.Hub
	// Metrics 为 nil 时不挂载 /metrics。
	Metrics *metrics.Metrics
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svcs Services, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	if svcs.Metrics != nil {
		r.Use(middlewarePkg.Instrument(svcs.Metrics))
	}
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(svcs.Conversations, svcs.Assistant, logger)
	questionnaireHandler := questionnaire.New(svcs.Questionnaires, logger)
	diagnosisHandler := diagnosis.New(svcs.Diagnosis, svcs.Hub, logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"service": "qinghe-assistant"})
		})

		chatHandler.RegisterRoutes(api)
		questionnaireHandler.RegisterRoutes(api)
		diagnosisHandler.RegisterRoutes(api)
	})

	if svcs.Metrics != nil {
		r.Handle("/metrics", svcs.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "route not found")
	})

	return r
}
