package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Jobs      JobsConfig
	Quota     QuotaConfig
	Diagnosis DiagnosisConfig
	Client    ClientConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	jobs, err := loadJobsConfig()
	if err != nil {
		return nil, err
	}

	quota, err := loadQuotaConfig()
	if err != nil {
		return nil, err
	}

	diagnosis, err := loadDiagnosisConfig()
	if err != nil {
		return nil, err
	}

	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Jobs: jobs, Quota: quota, Diagnosis: diagnosis, Client: client, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// Metrics 为 true 时暴露 /metrics。
	Metrics bool
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	metrics, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return ServerConfig{}, err
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, Metrics: metrics}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, Metrics: metrics}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey             string
	AccessKey          string
	SecretKey          string
	Model              string
	BaseURL            string
	Region             string
	Temperature        *float64
	TopP               *float64
	MaxTokens          *int
	IntentLLMEnabled   bool
	IntentHistoryLimit int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	intentEnabled, err := parseBoolEnv("AI_INTENT_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	intentHistory := 6
	if historyOverride, err := parseOptionalIntEnv("AI_INTENT_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if historyOverride != nil {
		intentHistory = max(*historyOverride, 1)
	}

	return AIConfig{
		APIKey:             strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:          strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:          strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:              strings.TrimSpace(os.Getenv("Model")),
		BaseURL:            getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:             getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:        temperature,
		TopP:               topP,
		MaxTokens:          maxTokens,
		IntentLLMEnabled:   intentEnabled,
		IntentHistoryLimit: intentHistory,
	}, nil
}

// JobsConfig 描述异步任务队列。
type JobsConfig struct {
	Workers   int
	QueueSize int
	// UseQueue 为 false 时发送接口同步返回回复。
	UseQueue   bool
	MinLatency time.Duration
}

func loadJobsConfig() (JobsConfig, error) {
	workers, err := parseIntEnv("JOBS_WORKERS", 4)
	if err != nil {
		return JobsConfig{}, err
	}
	queueSize, err := parseIntEnv("JOBS_QUEUE_SIZE", 64)
	if err != nil {
		return JobsConfig{}, err
	}
	useQueue, err := parseBoolEnv("JOBS_USE_QUEUE", true)
	if err != nil {
		return JobsConfig{}, err
	}
	latency, err := parseDurationEnv("JOBS_MIN_LATENCY", 1500*time.Millisecond)
	if err != nil {
		return JobsConfig{}, err
	}

	return JobsConfig{
		Workers:    max(workers, 1),
		QueueSize:  max(queueSize, 1),
		UseQueue:   useQueue,
		MinLatency: latency,
	}, nil
}

// QuotaConfig 每日免费对话次数，0 表示不限。
type QuotaConfig struct {
	DailyLimit int
}

func loadQuotaConfig() (QuotaConfig, error) {
	limit, err := parseIntEnv("QUOTA_DAILY_LIMIT", 20)
	if err != nil {
		return QuotaConfig{}, err
	}
	if limit < 0 {
		return QuotaConfig{}, fmt.Errorf("invalid QUOTA_DAILY_LIMIT value %d", limit)
	}
	return QuotaConfig{DailyLimit: limit}, nil
}

// DiagnosisConfig 拍摄诊断的模拟参数。
type DiagnosisConfig struct {
	Delay     time.Duration
	QueueSize int
}

func loadDiagnosisConfig() (DiagnosisConfig, error) {
	delay, err := parseDurationEnv("DIAGNOSIS_DELAY", 3*time.Second)
	if err != nil {
		return DiagnosisConfig{}, err
	}
	size, err := parseIntEnv("DIAGNOSIS_QUEUE_SIZE", 16)
	if err != nil {
		return DiagnosisConfig{}, err
	}
	return DiagnosisConfig{Delay: delay, QueueSize: max(size, 1)}, nil
}

// ClientConfig 描述终端客户端的连接与节奏参数。
type ClientConfig struct {
	BaseURL         string
	EventsURL       string
	Token           string
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
	TypewriterBatch int
	TypewriterDelay time.Duration
	RefreshDelay    time.Duration
	BackgroundReset time.Duration
}

func loadClientConfig() (ClientConfig, error) {
	var (
		cfg ClientConfig
		err error
	)
	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("HEALTHCHAT_BASE_URL", "http://localhost:8080/api"), "/")
	cfg.EventsURL = getEnvOrDefault("HEALTHCHAT_EVENTS_URL", "")
	cfg.Token = strings.TrimSpace(os.Getenv("HEALTHCHAT_TOKEN"))

	if cfg.RequestTimeout, err = parseDurationEnv("HEALTHCHAT_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return ClientConfig{}, err
	}
	if cfg.PollInterval, err = parseDurationEnv("HEALTHCHAT_POLL_INTERVAL", time.Second); err != nil {
		return ClientConfig{}, err
	}
	if cfg.PollMaxAttempts, err = parseIntEnv("HEALTHCHAT_POLL_MAX_ATTEMPTS", 120); err != nil {
		return ClientConfig{}, err
	}
	if cfg.TypewriterBatch, err = parseIntEnv("HEALTHCHAT_TYPEWRITER_BATCH", 3); err != nil {
		return ClientConfig{}, err
	}
	if cfg.TypewriterDelay, err = parseDurationEnv("HEALTHCHAT_TYPEWRITER_DELAY", 50*time.Millisecond); err != nil {
		return ClientConfig{}, err
	}
	if cfg.RefreshDelay, err = parseDurationEnv("HEALTHCHAT_REFRESH_DELAY", time.Second); err != nil {
		return ClientConfig{}, err
	}
	if cfg.BackgroundReset, err = parseDurationEnv("HEALTHCHAT_BACKGROUND_RESET", 30*time.Minute); err != nil {
		return ClientConfig{}, err
	}
	if cfg.PollMaxAttempts < 1 {
		return ClientConfig{}, fmt.Errorf("invalid HEALTHCHAT_POLL_MAX_ATTEMPTS value %d", cfg.PollMaxAttempts)
	}
	return cfg, nil
}

// LogConfig 日志配置。
type LogConfig struct {
	Level       string
	Development bool
	File        string
}

func loadLogConfig() (LogConfig, error) {
	dev, err := parseBoolEnv("LOG_DEVELOPMENT", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:       getEnvOrDefault("LOG_LEVEL", "info"),
		Development: dev,
		File:        getEnvOrDefault("HEALTHCHAT_LOG_FILE", ""),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: negative duration", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
