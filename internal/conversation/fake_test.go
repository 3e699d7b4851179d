package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// gateSleeper 每次暂停都阻塞到 gate 关闭。
func gateSleeper(gate <-chan struct{}) Sleeper {
	return func(ctx context.Context, _ time.Duration) error {
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type fakeBackend struct {
	mu sync.Mutex

	welcome string
	convSeq int

	send      func(text, conversationID string) (chat.SendResult, error)
	sendCalls int

	job      func(call int) (chat.Job, error)
	jobCalls int
	onJob    func(call int)

	history      map[string][]chat.HistoryMessage
	historyErr   error
	historyCalls int

	summaries []chat.ConversationSummary
	deleted   []string

	saved     map[string]string
	followUp  *chat.FollowUp
	completed []string

	diagnoses []string
	reportErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{history: map[string][]chat.HistoryMessage{}}
}

func (f *fakeBackend) CreateConversation(context.Context) (chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convSeq++
	return chat.Conversation{ID: fmt.Sprintf("conv-%d", f.convSeq), WelcomeMessage: f.welcome}, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, text, conversationID string) (chat.SendResult, error) {
	f.mu.Lock()
	f.sendCalls++
	send := f.send
	f.mu.Unlock()
	if send == nil {
		return chat.SendResult{ConversationID: conversationID, Response: "好的"}, nil
	}
	return send(text, conversationID)
}

func (f *fakeBackend) GetJobStatus(ctx context.Context, jobID string) (chat.Job, error) {
	f.mu.Lock()
	f.jobCalls++
	call := f.jobCalls
	job, hook := f.job, f.onJob
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return chat.Job{}, err
	}
	if job == nil {
		return chat.Job{JobID: jobID, Status: chat.JobProcessing}, nil
	}
	return job(call)
}

func (f *fakeBackend) GetConversationMessages(_ context.Context, conversationID string, _, _ int) ([]chat.HistoryMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]chat.HistoryMessage(nil), f.history[conversationID]...), nil
}

func (f *fakeBackend) ListConversations(context.Context, int, int) ([]chat.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaries, nil
}

func (f *fakeBackend) DeleteConversation(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, conversationID)
	return nil
}

func (f *fakeBackend) SaveQuestionnaireAnswers(_ context.Context, _ string, answers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = answers
	return nil
}

func (f *fakeBackend) QuestionnaireCompleted(_ context.Context, _ string, diagnosisType string) (*chat.FollowUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, diagnosisType)
	return f.followUp, nil
}

func (f *fakeBackend) SubmitDiagnosis(_ context.Context, _ string, diagnosisType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diagnoses = append(f.diagnoses, diagnosisType)
	return nil
}

func (f *fakeBackend) GetDiagnosisReport(_ context.Context, reportID string) (chat.DiagnosisReport, error) {
	if f.reportErr != nil {
		return chat.DiagnosisReport{}, f.reportErr
	}
	return chat.DiagnosisReport{ID: reportID, DiagnosisType: "tongue", Constitution: "平和质"}, nil
}

func (f *fakeBackend) counts() (send, jobs, history int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls, f.jobCalls, f.historyCalls
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Sleeper = noSleep
	cfg.TypewriterDelay = 0
	cfg.RefreshDelay = 0
	return cfg
}

func newTestEngine(t *testing.T, fb *fakeBackend, cfg Config) *Engine {
	t.Helper()
	e := NewEngine(fb, cfg, nil)
	t.Cleanup(e.Close)
	return e
}

func questionnaireCard(title, diagnosisType string) *chat.ActionCard {
	return &chat.ActionCard{
		Type:          chat.CardQuestionnaire,
		DiagnosisType: diagnosisType,
		Title:         title,
		Buttons: []chat.CardButton{
			{Text: "开始填写", Type: chat.ButtonPrimary, Action: "start_questionnaire"},
			{Text: "稍后", Type: chat.ButtonSecondary, Action: "dismiss"},
		},
	}
}

func captureCard(diagnosisType string) *chat.ActionCard {
	return &chat.ActionCard{
		Type:          chat.DiagnosisCardType(diagnosisType),
		DiagnosisType: diagnosisType,
		Title:         "拍照诊断",
		Buttons: []chat.CardButton{
			{Text: "开始拍摄", Type: chat.ButtonPrimary, Action: chat.CaptureAction(diagnosisType).Code()},
			{Text: "稍后", Type: chat.ButtonSecondary, Action: "later"},
		},
	}
}
