package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/client/healthapi"
	"github.com/zhouzirui/qinghe-assistant/internal/config"
	"github.com/zhouzirui/qinghe-assistant/internal/conversation"
	"github.com/zhouzirui/qinghe-assistant/internal/logging"
)

var (
	baseURL      string
	token        string
	pollInterval time.Duration
	noTypewriter bool
	verbose      bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "healthchat",
	Short: "青禾健康助手终端客户端",
	Long: `healthchat 连接健康助手服务，在终端中进行健康咨询、填写问卷并拍摄舌象或面部进行诊断。

不带参数运行时进入交互式对话界面。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envErr := godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		applyFlags(cmd, &cfg.Client)

		// 交互界面占用终端，日志只能写文件。
		logFile := cfg.Log.File
		if logFile == "" && cmd == cmd.Root() {
			logFile = filepath.Join(os.TempDir(), "healthchat.log")
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(logging.Options{Level: level, Development: cfg.Log.Development, File: logFile})
		if err != nil {
			return err
		}
		zap.ReplaceGlobals(logger)
		if envErr != nil {
			logger.Debug("no .env file loaded", zap.Error(envErr))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "API root, overrides HEALTHCHAT_BASE_URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token, overrides HEALTHCHAT_TOKEN")
	rootCmd.PersistentFlags().DurationVar(&pollInterval, "poll-interval", 0, "job polling interval")
	rootCmd.PersistentFlags().BoolVar(&noTypewriter, "no-typewriter", false, "show replies at once")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(sendCmd, historyCmd, questionnaireCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func applyFlags(cmd *cobra.Command, c *config.ClientConfig) {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		c.BaseURL = baseURL
	}
	if flags.Changed("token") {
		c.Token = token
	}
	if flags.Changed("poll-interval") && pollInterval > 0 {
		c.PollInterval = pollInterval
	}
	if noTypewriter {
		c.TypewriterDelay = 0
	}
}

func newClient() *healthapi.Client {
	return healthapi.New(cfg.Client.BaseURL,
		healthapi.WithToken(cfg.Client.Token),
		healthapi.WithTimeout(cfg.Client.RequestTimeout),
		healthapi.WithLogger(logger))
}

func newEngine(client *healthapi.Client) *conversation.Engine {
	engineCfg := conversation.DefaultConfig()
	c := cfg.Client
	if c.PollInterval > 0 {
		engineCfg.PollInterval = c.PollInterval
	}
	if c.PollMaxAttempts > 0 {
		engineCfg.PollMaxAttempts = c.PollMaxAttempts
	}
	if c.TypewriterBatch > 0 {
		engineCfg.TypewriterBatch = c.TypewriterBatch
	}
	engineCfg.TypewriterDelay = c.TypewriterDelay
	if c.RefreshDelay > 0 {
		engineCfg.RefreshDelay = c.RefreshDelay
	}
	if c.BackgroundReset > 0 {
		engineCfg.BackgroundReset = c.BackgroundReset
	}
	return conversation.NewEngine(client, engineCfg, logger)
}

func eventsURL() (string, error) {
	if cfg.Client.EventsURL != "" {
		return cfg.Client.EventsURL, nil
	}
	return healthapi.EventsURL(cfg.Client.BaseURL)
}
