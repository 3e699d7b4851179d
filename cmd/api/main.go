package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/qinghe-assistant/internal/config"
	"github.com/zhouzirui/qinghe-assistant/internal/handler"
	"github.com/zhouzirui/qinghe-assistant/internal/logging"
	"github.com/zhouzirui/qinghe-assistant/internal/metrics"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
	"github.com/zhouzirui/qinghe-assistant/internal/service/ai"
	"github.com/zhouzirui/qinghe-assistant/internal/service/assistant"
	"github.com/zhouzirui/qinghe-assistant/internal/service/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/service/diagnosis"
	"github.com/zhouzirui/qinghe-assistant/internal/service/intent"
	"github.com/zhouzirui/qinghe-assistant/internal/service/jobs"
	"github.com/zhouzirui/qinghe-assistant/internal/service/push"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var m *metrics.Metrics
	if cfg.Server.Metrics {
		m = metrics.New()
	}

	questionnaires := questionnaire.NewMemoryStore(questionnaire.Seed())
	chatService := chat.NewService(chat.WithDailyLimit(cfg.Quota.DailyLimit))

	// Initialize AI service
	var (
		responder ai.Responder = ai.FallbackResponder{}
		chatModel model.ChatModel
	)
	if cfg.AI.Enabled() {
		cm, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize chat model, using rule-based replies", zap.Error(err))
		} else if aiService, err := ai.NewService(ctx, cm, logger); err != nil {
			logger.Warn("failed to initialize AI service, using rule-based replies", zap.Error(err))
		} else {
			responder = aiService
			chatModel = aiService.ChatModel()
			logger.Info("AI service initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Info("Ark 凭证未配置，使用规则回复")
	}

	intentService, err := intent.NewService(ctx, chatModel, intent.Config{
		Enabled:      cfg.AI.IntentLLMEnabled,
		HistoryLimit: cfg.AI.IntentHistoryLimit,
	}, logger)
	if err != nil {
		return fmt.Errorf("init intent service: %w", err)
	}
	if cfg.AI.IntentLLMEnabled && !intentService.Enabled() {
		logger.Info("intent classifier requested but chat model unavailable, falling back to keywords")
	}

	queue := jobs.NewQueue(jobs.Config{
		Workers:    cfg.Jobs.Workers,
		QueueSize:  cfg.Jobs.QueueSize,
		MinLatency: cfg.Jobs.MinLatency,
		Metrics:    m,
	}, logger)

	hubOpts := push.DefaultOptions()
	hubOpts.Metrics = m
	hub := push.NewHub(hubOpts, logger)
	diagnosisService := diagnosis.NewService(diagnosis.Config{
		Delay:     cfg.Diagnosis.Delay,
		QueueSize: cfg.Diagnosis.QueueSize,
		Metrics:   m,
	}, chatService, questionnaires, hub, logger)

	assistantService := assistant.NewService(assistant.Config{UseQueue: cfg.Jobs.UseQueue, Metrics: m},
		chatService, responder, intentService, queue, questionnaires, logger)

	router := handler.NewRouter(handler.Services{
		Conversations:  chatService,
		Assistant:      assistantService,
		Questionnaires: diagnosisService,
		Diagnosis:      diagnosisService,
		Hub:            hub,
		Metrics:        m,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(ctx) })
	g.Go(func() error { return diagnosisService.Run(ctx) })
	g.Go(func() error {
		logger.Info("health assistant backend listening", zap.String("addr", srv.Addr))
		return runServer(ctx, srv, hub)
	})
	return g.Wait()
}

func runServer(ctx context.Context, srv *http.Server, hub *push.Hub) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// 推送连接已被劫持，Shutdown 不会等待它们。
		hub.CloseAll()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
