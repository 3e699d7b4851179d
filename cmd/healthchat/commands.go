package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/qinghe-assistant/internal/client/healthapi"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/tui"
)

// runInteractive 启动终端界面，并行订阅诊断结果推送。
func runInteractive(ctx context.Context) error {
	client := newClient()
	engine := newEngine(client)
	defer engine.Close()

	wsURL, err := eventsURL()
	if err != nil {
		return err
	}
	subscriber := healthapi.NewSubscriber(wsURL, cfg.Client.Token, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.New(tui.Options{
		Context:        ctx,
		Engine:         engine,
		Questionnaires: client,
		Logger:         logger,
	})
	program := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithReportFocus(),
		tea.WithContext(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		if errors.Is(err, tea.ErrProgramKilled) && gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return subscriber.Run(gctx, func(ev chat.DiagnosisEvent) {
			if engine.HandleDiagnosisEvent(ev) {
				logger.Info("diagnosis result received",
					zap.String("conversationId", ev.ConversationID),
					zap.String("diagnosisType", ev.DiagnosisType))
			}
		})
	})
	return g.Wait()
}

var sendConversation string

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "发送一条消息并打印助手回复",
	Long: `发送一条消息并等待助手回复，适合脚本调用。

Example:
  healthchat send "最近总是失眠怎么办"
  healthchat send --conversation <id> "还有其他建议吗"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine := newEngine(newClient())
		defer engine.Close()

		if sendConversation != "" {
			if err := engine.SwitchConversation(ctx, sendConversation); err != nil {
				return fmt.Errorf("open conversation: %w", err)
			}
		} else if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("start conversation: %w", err)
		}

		before := len(engine.View().Messages)
		if err := engine.Submit(ctx, strings.Join(args, " ")); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		view := engine.View()
		for _, msg := range view.Messages[min(before, len(view.Messages)):] {
			if msg.IsUser() {
				continue
			}
			fmt.Fprintln(out, msg.Content)
			if msg.CardVisible && msg.ActionCard != nil {
				fmt.Fprintf(out, "\n[%s] %s\n", msg.ActionCard.Title, msg.ActionCard.Description)
			}
		}
		fmt.Fprintf(out, "\nconversation: %s\n", view.ConversationID)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "列出历史对话",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := newEngine(newClient())
		defer engine.Close()

		items, err := engine.Conversations(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "暂无历史对话")
			return nil
		}
		for _, item := range items {
			title := item.Title
			if title == "" {
				title = "新对话"
			}
			fmt.Fprintf(out, "%s  %s  %s\n", item.ID, item.LastMessageAt.Local().Format("2006-01-02 15:04"), title)
			if last := item.LastMessage(); last != "" {
				fmt.Fprintf(out, "    %s\n", last)
			}
		}
		return nil
	},
}

var questionnaireCmd = &cobra.Command{
	Use:       "questionnaire [tongue|face]",
	Short:     "查看诊断前问卷",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"tongue", "face"},
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newClient().GetQuestionnaire(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, q.Title)
		for i, question := range q.Questions {
			mark := ""
			if question.Required {
				mark = " *"
			}
			fmt.Fprintf(out, "%d. %s%s\n", i+1, question.Text, mark)
			for _, opt := range question.Options {
				fmt.Fprintf(out, "   %s) %s\n", opt.ID, opt.Text)
			}
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendConversation, "conversation", "c", "", "continue an existing conversation")
}
