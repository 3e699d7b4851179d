package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
)

func startedEngine(t *testing.T, fb *fakeBackend, cfg Config) *Engine {
	t.Helper()
	e := newTestEngine(t, fb, cfg)
	require.NoError(t, e.Start(context.Background()))
	return e
}

func contents(v View) []string {
	out := make([]string, 0, len(v.Messages))
	for _, m := range v.Messages {
		out = append(out, m.Content)
	}
	return out
}

func drainEvents(e *Engine) []Event {
	var out []Event
	for {
		select {
		case ev := <-e.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(events []Event, kind EventKind) (Event, bool) {
	for _, ev := range events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

func TestStartShowsWelcome(t *testing.T) {
	fb := newFakeBackend()
	fb.welcome = "您好，我是您的健康助手。"
	e := startedEngine(t, fb, testConfig())
	e.Typewriter().Wait()

	v := e.View()
	assert.Equal(t, "conv-1", v.ConversationID)
	assert.Equal(t, []string{"您好，我是您的健康助手。"}, contents(v))
	assert.False(t, v.Typing)
}

func TestSubmitImmediateReply(t *testing.T) {
	fb := newFakeBackend()
	fb.send = func(text, conversationID string) (chat.SendResult, error) {
		return chat.SendResult{
			ConversationID: conversationID,
			MessageID:      "srv-1",
			Response:       "气血充足通常表现为面色红润、精力充沛。",
			Status:         "completed",
		}, nil
	}
	e := startedEngine(t, fb, testConfig())

	require.NoError(t, e.Submit(context.Background(), "怎么判断气血充足"))
	e.Typewriter().Wait()

	v := e.View()
	require.Len(t, v.Messages, 2)
	assert.Equal(t, chat.SenderUser, v.Messages[0].Sender)
	assert.Equal(t, "怎么判断气血充足", v.Messages[0].Content)
	assert.Equal(t, chat.SenderAssistant, v.Messages[1].Sender)
	assert.Equal(t, "srv-1", v.Messages[1].ServerMessageID)
	assert.Equal(t, v.Messages[1].Content, v.Messages[1].Text)
	assert.False(t, v.Sending)

	_, jobs, _ := fb.counts()
	assert.Zero(t, jobs)
}

func TestSubmitPollsQueuedJob(t *testing.T) {
	fb := newFakeBackend()
	fb.send = func(string, string) (chat.SendResult, error) {
		return chat.SendResult{JobID: "job-1", Status: "queued", UseQueue: true}, nil
	}
	fb.job = func(call int) (chat.Job, error) {
		if call < 3 {
			return chat.Job{JobID: "job-1", Status: chat.JobProcessing}, nil
		}
		return chat.Job{JobID: "job-1", Status: chat.JobCompleted, Result: &chat.JobResult{
			Success:    true,
			AIReply:    "建议先做一份舌诊前问卷。",
			ActionCard: questionnaireCard("舌诊前问卷", "tongue"),
			Questions:  questionnaire.Seed()[0].Questions,
		}}, nil
	}
	e := startedEngine(t, fb, testConfig())

	require.NoError(t, e.Submit(context.Background(), "最近总是很累"))
	e.Typewriter().Wait()

	_, jobs, _ := fb.counts()
	assert.Equal(t, 3, jobs)

	v := e.View()
	require.Len(t, v.Messages, 2)
	reply := v.Messages[1]
	assert.Equal(t, "建议先做一份舌诊前问卷。", reply.Content)
	assert.True(t, reply.IsQuestionnaire)
	assert.Equal(t, "tongue", reply.DiagnosisType)
	assert.Equal(t, CardCreated, reply.CardState)
	assert.True(t, reply.CardVisible)
}

func TestSubmitFailureTexts(t *testing.T) {
	tests := []struct {
		name string
		send func(string, string) (chat.SendResult, error)
		job  func(int) (chat.Job, error)
		want string
	}{
		{
			name: "send error",
			send: func(string, string) (chat.SendResult, error) {
				return chat.SendResult{}, errors.New("dial tcp: refused")
			},
			want: TextSendFailed,
		},
		{
			name: "job failed",
			job:  func(int) (chat.Job, error) { return chat.Job{Status: chat.JobFailed}, nil },
			want: TextJobFailed,
		},
		{
			name: "job transport error",
			job:  func(int) (chat.Job, error) { return chat.Job{}, errors.New("502 bad gateway") },
			want: TextPollFailed,
		},
		{
			name: "timeout",
			want: TextTimedOut,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend()
			fb.send = tt.send
			if fb.send == nil {
				fb.send = func(string, string) (chat.SendResult, error) {
					return chat.SendResult{JobID: "job-x", Status: "queued"}, nil
				}
			}
			fb.job = tt.job
			e := startedEngine(t, fb, testConfig())

			require.NoError(t, e.Submit(context.Background(), "你好"))
			e.Typewriter().Wait()

			v := e.View()
			assert.Equal(t, []string{"你好", tt.want}, contents(v))
			assert.False(t, v.Sending)
		})
	}
}

func TestSubmitTimeoutPollsExactlyMaxAttempts(t *testing.T) {
	fb := newFakeBackend()
	fb.send = func(string, string) (chat.SendResult, error) {
		return chat.SendResult{JobID: "job-slow", Status: "queued"}, nil
	}
	e := startedEngine(t, fb, testConfig())

	require.NoError(t, e.Submit(context.Background(), "在吗"))
	_, jobs, _ := fb.counts()
	assert.Equal(t, 120, jobs)
}

func TestSubmitUsageLimit(t *testing.T) {
	fb := newFakeBackend()
	fb.send = func(string, string) (chat.SendResult, error) {
		return chat.SendResult{}, errors.New("今日对话次数已达上限")
	}
	e := startedEngine(t, fb, testConfig())
	drainEvents(e)

	require.NoError(t, e.Submit(context.Background(), "你好"))
	e.Typewriter().Wait()

	assert.Equal(t, []string{"你好", TextUpgradePrompt}, contents(e.View()))
	ev, ok := hasEvent(drainEvents(e), EventUpgrade)
	require.True(t, ok)
	assert.Contains(t, ev.Text, "次数已达上限")
}

func TestSubmitCompletedWithoutReply(t *testing.T) {
	fb := newFakeBackend()
	fb.send = func(string, string) (chat.SendResult, error) {
		return chat.SendResult{JobID: "job-empty", Status: "queued"}, nil
	}
	fb.job = func(int) (chat.Job, error) { return chat.Job{Status: chat.JobCompleted}, nil }
	e := startedEngine(t, fb, testConfig())

	require.NoError(t, e.Submit(context.Background(), "你好"))
	v := e.View()
	assert.Equal(t, []string{"你好"}, contents(v))
	assert.False(t, v.Sending)
}

func TestSubmitImmediateEmptyReplyAppendsNothing(t *testing.T) {
	fb := newFakeBackend()
	fb.send = func(string, string) (chat.SendResult, error) {
		return chat.SendResult{Status: "completed"}, nil
	}
	e := startedEngine(t, fb, testConfig())

	require.NoError(t, e.Submit(context.Background(), "你好"))
	e.Typewriter().Wait()

	v := e.View()
	assert.Equal(t, []string{"你好"}, contents(v))
	assert.False(t, v.Sending)
	assert.False(t, v.Typing)
	_, jobs, _ := fb.counts()
	assert.Zero(t, jobs)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	fb := newFakeBackend()
	e := newTestEngine(t, fb, testConfig())

	assert.ErrorIs(t, e.Submit(context.Background(), "你好"), ErrNoConversation)
	require.NoError(t, e.Start(context.Background()))
	assert.ErrorIs(t, e.Submit(context.Background(), "   "), ErrEmptyMessage)

	send, _, _ := fb.counts()
	assert.Zero(t, send)
	assert.Zero(t, e.Store().Len())
}

func TestTranscriptOrdering(t *testing.T) {
	fb := newFakeBackend()
	fb.send = func(text, _ string) (chat.SendResult, error) {
		return chat.SendResult{Response: "回复:" + text}, nil
	}
	e := startedEngine(t, fb, testConfig())

	for _, text := range []string{"一", "二", "三"} {
		require.NoError(t, e.Submit(context.Background(), text))
	}
	e.Typewriter().Wait()

	assert.Equal(t, []string{"一", "回复:一", "二", "回复:二", "三", "回复:三"}, contents(e.View()))
}

// blockingJobs 让每次轮询都停在 sleeper 里，直到引擎取消。
func blockingJobs(fb *fakeBackend) <-chan struct{} {
	started := make(chan struct{})
	var once sync.Once
	fb.send = func(string, string) (chat.SendResult, error) {
		return chat.SendResult{JobID: "job-wait", Status: "queued"}, nil
	}
	fb.onJob = func(int) { once.Do(func() { close(started) }) }
	return started
}

func TestSubmitWhileSendingIsBusy(t *testing.T) {
	fb := newFakeBackend()
	started := blockingJobs(fb)
	cfg := testConfig()
	cfg.Sleeper = gateSleeper(make(chan struct{}))
	e := startedEngine(t, fb, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Submit(ctx, "第一条") }()
	<-started

	assert.True(t, e.Sending())
	assert.ErrorIs(t, e.Submit(context.Background(), "第二条"), ErrBusy)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.False(t, e.Sending())
	assert.Equal(t, []string{"第一条"}, contents(e.View()))
}

func TestSwitchConversationCancelsPolling(t *testing.T) {
	fb := newFakeBackend()
	started := blockingJobs(fb)
	fb.history["conv-9"] = []chat.HistoryMessage{
		{ID: "h1", Role: "user", Content: "旧问题"},
		{ID: "h2", Role: "assistant", Content: "旧回答"},
	}
	cfg := testConfig()
	cfg.Sleeper = gateSleeper(make(chan struct{}))
	e := startedEngine(t, fb, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Submit(context.Background(), "新问题") }()
	<-started

	require.NoError(t, e.SwitchConversation(context.Background(), "conv-9"))
	assert.ErrorIs(t, <-errCh, context.Canceled)

	v := e.View()
	assert.Equal(t, "conv-9", v.ConversationID)
	assert.Equal(t, []string{"旧问题", "旧回答"}, contents(v))
	assert.False(t, v.Sending)
}

func TestCardHiddenWhileRevealing(t *testing.T) {
	fb := newFakeBackend()
	fb.send = func(string, string) (chat.SendResult, error) {
		return chat.SendResult{
			Response:   "请先完成舌诊前问卷，帮助我更准确地判断。",
			ActionCard: questionnaireCard("舌诊前问卷", "tongue"),
			Questions:  questionnaire.Seed()[0].Questions,
		}, nil
	}
	gate := make(chan struct{})
	cfg := testConfig()
	cfg.Sleeper = gateSleeper(gate)
	e := startedEngine(t, fb, cfg)

	require.NoError(t, e.Submit(context.Background(), "帮我看看体质"))

	v := e.View()
	require.Len(t, v.Messages, 2)
	card := v.Messages[1]
	assert.True(t, card.Revealing)
	assert.False(t, card.CardVisible)
	assert.NotEqual(t, card.Content, card.Text)

	d, err := e.HandleCardAction(card.ID, chat.ActionStartQuestionnaire)
	require.NoError(t, err)
	assert.Equal(t, DirectiveNone, d.Kind)

	close(gate)
	e.Typewriter().Wait()

	card = e.View().Messages[1]
	assert.False(t, card.Revealing)
	assert.True(t, card.CardVisible)

	d, err = e.HandleCardAction(card.ID, chat.ActionStartQuestionnaire)
	require.NoError(t, err)
	assert.Equal(t, DirectiveOpenQuestionnaire, d.Kind)
	assert.Equal(t, "tongue", d.DiagnosisType)
	assert.Len(t, d.Questions, 4)
}

func TestHandleCardActionDismissAndCapture(t *testing.T) {
	fb := newFakeBackend()
	e := startedEngine(t, fb, testConfig())
	e.Store().Append(chat.Message{ID: "q", Sender: chat.SenderAssistant, ActionCard: questionnaireCard("舌诊前问卷", "tongue")})
	e.Store().Append(chat.Message{ID: "c", Sender: chat.SenderAssistant, ActionCard: captureCard("face")})

	action, err := chat.ParseAction("later")
	require.NoError(t, err)
	d, err := e.HandleCardAction("q", action)
	require.NoError(t, err)
	assert.Equal(t, DirectiveNone, d.Kind)

	v := e.View()
	assert.Equal(t, CardDismissed, v.Messages[0].CardState)
	assert.False(t, v.Messages[0].CardVisible)

	d, err = e.HandleCardAction("q", chat.ActionStartQuestionnaire)
	require.NoError(t, err)
	assert.Equal(t, DirectiveNone, d.Kind, "dismissed card is inert")

	d, err = e.HandleCardAction("c", chat.ActionStartFaceDiagnosis)
	require.NoError(t, err)
	assert.Equal(t, DirectiveOpenCapture, d.Kind)
	assert.Equal(t, "face", d.DiagnosisType)

	_, err = e.HandleCardAction("c", chat.ActionUnknown)
	assert.ErrorIs(t, err, ErrUnknownAction)
	_, err = e.HandleCardAction("missing", chat.ActionDismiss)
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestDismissCardFallback(t *testing.T) {
	fb := newFakeBackend()
	e := startedEngine(t, fb, testConfig())
	e.Store().Append(chat.Message{ID: "first", ActionCard: questionnaireCard("舌诊前问卷", "tongue")})
	e.Store().Append(chat.Message{ID: "second", ActionCard: questionnaireCard("舌诊前问卷", "tongue")})

	assert.True(t, e.DismissCard(chat.ActionCard{Type: chat.CardQuestionnaire, Title: "舌诊前问卷"}))

	first, _ := e.Store().Get("first")
	second, _ := e.Store().Get("second")
	assert.True(t, first.IsCardDismissed)
	assert.False(t, second.IsCardDismissed)

	// 兜底匹配按存储顺序取第一条，已关闭的也算
	assert.False(t, e.DismissCard(chat.ActionCard{Type: chat.CardQuestionnaire, Title: "舌诊前问卷"}))
	second, _ = e.Store().Get("second")
	assert.False(t, second.IsCardDismissed)
}

func TestSubmitQuestionnaire(t *testing.T) {
	fb := newFakeBackend()
	fb.followUp = &chat.FollowUp{
		MessageID:  "srv-follow",
		Message:    "问卷已完成，接下来请拍摄舌象。",
		ActionCard: captureCard("tongue"),
	}
	e := startedEngine(t, fb, testConfig())
	e.Store().Append(chat.Message{ID: "old", ActionCard: questionnaireCard("舌诊前问卷", "tongue"), Questions: questionnaire.Seed()[0].Questions})
	e.Store().Append(chat.Message{ID: "new", ActionCard: questionnaireCard("舌诊前问卷", "tongue"), Questions: questionnaire.Seed()[0].Questions})

	err := e.SubmitQuestionnaire(context.Background(), "new", map[string]string{"q1": "a"})
	assert.ErrorIs(t, err, questionnaire.ErrIncomplete)

	answers := map[string]string{"q1": "a", "q2": "c", "q3": "a,c"}
	require.NoError(t, e.SubmitQuestionnaire(context.Background(), "new", answers))
	e.Typewriter().Wait()

	assert.Equal(t, answers, fb.saved)
	assert.Equal(t, []string{"tongue"}, fb.completed)

	v := e.View()
	require.Len(t, v.Messages, 3)
	assert.Equal(t, CardCreated, v.Messages[0].CardState, "older attempt stays untouched")
	assert.Equal(t, CardCompleted, v.Messages[1].CardState)
	assert.Equal(t, "已完成问卷", v.Messages[1].ActionCard.Buttons[0].Text)
	assert.Equal(t, "srv-follow", v.Messages[2].ServerMessageID)
	assert.Equal(t, chat.CardTongueDiagnosis, v.Messages[2].ActionCard.Type)
}

func TestDiagnosisPushSuppressesRefresh(t *testing.T) {
	fb := newFakeBackend()
	e := startedEngine(t, fb, testConfig())
	e.Store().Append(chat.Message{ID: "cap", ActionCard: captureCard("tongue")})

	e.BeginCapture("tongue")
	require.NoError(t, e.RunCapture(context.Background(), "tongue"))
	ev := diagnosisEvent("conv-1")
	ev.DiagnosisType = ""
	require.True(t, e.HandleDiagnosisEvent(ev))

	res, err := e.CaptureClosed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RefreshSuppressed, res)

	_, _, history := fb.counts()
	assert.Zero(t, history)
	assert.Equal(t, []string{"tongue"}, fb.diagnoses)

	v := e.View()
	require.Len(t, v.Messages, 2)
	assert.Equal(t, CardCompleted, v.Messages[0].CardState)
	assert.Equal(t, "舌淡红，苔薄白，属平和质。", v.Messages[1].Content)
}

func TestCaptureClosedWithoutPushRefreshes(t *testing.T) {
	fb := newFakeBackend()
	fb.history["conv-1"] = []chat.HistoryMessage{{ID: "h1", Role: "assistant", Content: "诊断结果已生成。"}}
	e := startedEngine(t, fb, testConfig())
	e.Store().Append(chat.Message{ID: "local", Content: "本地"})

	e.BeginCapture("face")
	res, err := e.CaptureClosed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Refreshed, res)
	assert.Equal(t, []string{"诊断结果已生成。"}, contents(e.View()))
}

func TestDiagnosisPushForInactiveConversation(t *testing.T) {
	fb := newFakeBackend()
	e := startedEngine(t, fb, testConfig())

	assert.False(t, e.HandleDiagnosisEvent(diagnosisEvent("conv-other")))
	assert.Zero(t, e.Store().Len())
	assert.False(t, e.commitRefresh("conv-other", []chat.Message{{ID: "x"}}))
}

func TestForegroundAfterLongBackgroundStartsNewConversation(t *testing.T) {
	fb := newFakeBackend()
	e := startedEngine(t, fb, testConfig())
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	e.EnterBackground(t0)
	reset, err := e.EnterForeground(context.Background(), t0.Add(29*time.Minute))
	require.NoError(t, err)
	assert.False(t, reset)
	assert.Equal(t, "conv-1", e.ConversationID())

	e.EnterBackground(t0)
	reset, err = e.EnterForeground(context.Background(), t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, reset)
	assert.Equal(t, "conv-2", e.ConversationID())

	reset, err = e.EnterForeground(context.Background(), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, reset, "foreground without background is a no-op")
}

func TestDeleteConversation(t *testing.T) {
	fb := newFakeBackend()
	e := startedEngine(t, fb, testConfig())

	require.NoError(t, e.DeleteConversation(context.Background(), "conv-old"))
	assert.Equal(t, "conv-1", e.ConversationID())

	require.NoError(t, e.DeleteConversation(context.Background(), "conv-1"))
	assert.Equal(t, "conv-2", e.ConversationID())
	assert.Equal(t, []string{"conv-old", "conv-1"}, fb.deleted)
}

func TestViewDiagnosisReportFailureRaisesAlert(t *testing.T) {
	fb := newFakeBackend()
	e := startedEngine(t, fb, testConfig())
	e.Store().Append(chat.Message{ID: "x", Content: "诊断完成"})
	drainEvents(e)

	report, err := e.ViewDiagnosisReport(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "平和质", report.Constitution)

	fb.reportErr = errors.New("not found")
	_, err = e.ViewDiagnosisReport(context.Background(), "r-2")
	require.Error(t, err)

	ev, ok := hasEvent(drainEvents(e), EventAlert)
	require.True(t, ok)
	assert.Equal(t, TextReportFailed, ev.Text)
	assert.Equal(t, 1, e.Store().Len())
}
