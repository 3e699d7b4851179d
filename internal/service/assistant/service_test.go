package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
	"github.com/zhouzirui/qinghe-assistant/internal/service/ai"
	chatservice "github.com/zhouzirui/qinghe-assistant/internal/service/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/service/intent"
	"github.com/zhouzirui/qinghe-assistant/internal/service/jobs"
)

type failingResponder struct{}

func (failingResponder) Reply(context.Context, []chat.HistoryMessage, string, *intent.Guidance) (string, error) {
	return "", errors.New("model unavailable")
}

func newAssistant(t *testing.T, cfg Config, responder ai.Responder, queue JobQueue, opts ...chatservice.Option) (*Service, *chatservice.Service) {
	t.Helper()
	chats := chatservice.NewService(opts...)
	guide, err := intent.NewService(context.Background(), nil, intent.Config{}, nil)
	require.NoError(t, err)
	store := questionnaire.NewMemoryStore(questionnaire.Seed())
	return NewService(cfg, chats, responder, guide, queue, store, nil), chats
}

func startQueue(t *testing.T) *jobs.Queue {
	t.Helper()
	q := jobs.NewQueue(jobs.Config{Workers: 1, QueueSize: 4}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		_, err := q.Submit(func(context.Context) (chat.JobResult, error) { return chat.JobResult{}, nil })
		return err == nil
	}, time.Second, 5*time.Millisecond)
	return q
}

func TestSendInlineReply(t *testing.T) {
	svc, chats := newAssistant(t, Config{}, ai.FallbackResponder{}, nil)
	conv, err := chats.CreateConversation(context.Background())
	require.NoError(t, err)

	res, err := svc.Send(context.Background(), conv.ID, "怎么判断气血充足")
	require.NoError(t, err)
	assert.Equal(t, "completed", res.Status)
	assert.Empty(t, res.JobID)
	assert.Contains(t, res.Response, "面色红润")
	assert.NotEmpty(t, res.MessageID)

	msgs, err := chats.History(context.Background(), conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "怎么判断气血充足", msgs[1].Content)
	assert.Equal(t, res.MessageID, msgs[2].ID)
}

func TestSendAttachesQuestionnaireCard(t *testing.T) {
	svc, _ := newAssistant(t, Config{}, ai.FallbackResponder{}, nil)

	res, err := svc.Send(context.Background(), "", "最近舌苔很厚，胃口也不好")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ConversationID)
	require.NotNil(t, res.ActionCard)
	assert.Equal(t, chat.CardQuestionnaire, res.ActionCard.Type)
	assert.Equal(t, "tongue", res.ActionCard.DiagnosisType)
	assert.Equal(t, "舌诊前问卷", res.ActionCard.Title)
	assert.Empty(t, res.ActionCard.Reason)
	assert.Len(t, res.Questions, 4)
}

func TestSendWithoutIntentHasNoCard(t *testing.T) {
	svc, _ := newAssistant(t, Config{}, ai.FallbackResponder{}, nil)
	res, err := svc.Send(context.Background(), "", "你好")
	require.NoError(t, err)
	assert.Nil(t, res.ActionCard)
	assert.Empty(t, res.Questions)
}

func TestSendQueued(t *testing.T) {
	queue := startQueue(t)
	svc, _ := newAssistant(t, Config{UseQueue: true}, ai.FallbackResponder{}, queue)

	res, err := svc.Send(context.Background(), "", "失眠怎么办")
	require.NoError(t, err)
	assert.True(t, res.UseQueue)
	assert.Equal(t, "processing", res.Status)
	require.NotEmpty(t, res.JobID)

	var job chat.Job
	require.Eventually(t, func() bool {
		job, err = svc.Job(res.JobID)
		return err == nil && job.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, chat.JobCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Contains(t, job.Result.AIReply, "作息")
	assert.Equal(t, job.Result.AIReply, job.Response)
}

func TestSendQueuedFailure(t *testing.T) {
	queue := startQueue(t)
	svc, _ := newAssistant(t, Config{UseQueue: true}, failingResponder{}, queue)

	res, err := svc.Send(context.Background(), "", "你好")
	require.NoError(t, err)

	var job chat.Job
	require.Eventually(t, func() bool {
		job, err = svc.Job(res.JobID)
		return err == nil && job.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, chat.JobFailed, job.Status)
	assert.Contains(t, job.Error, "model unavailable")
}

func TestSendErrors(t *testing.T) {
	svc, _ := newAssistant(t, Config{}, ai.FallbackResponder{}, nil, chatservice.WithDailyLimit(1))

	_, err := svc.Send(context.Background(), "", "   ")
	assert.ErrorIs(t, err, chatservice.ErrEmptyContent)

	_, err = svc.Send(context.Background(), "missing", "你好")
	assert.ErrorIs(t, err, chatservice.ErrConversationNotFound)

	_, err = svc.Send(context.Background(), "", "你好")
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), "", "你好")
	assert.ErrorIs(t, err, chatservice.ErrQuotaExceeded)

	_, err = svc.Job("nope")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}
