package conversation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

const (
	DefaultPollInterval    = time.Second
	DefaultPollMaxAttempts = 120
)

// JobAPI 轮询器依赖的任务状态接口。
type JobAPI interface {
	GetJobStatus(ctx context.Context, jobID string) (chat.Job, error)
}

// Sleeper 暂停 d 或直到 ctx 结束。
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep 基于 timer 的默认 Sleeper。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reply 从发送响应或已完成任务中提取的助手回复。
type Reply struct {
	Content                string
	ServerMessageID        string
	SupplementaryMaterials []string
	ActionCard             *chat.ActionCard
	Questions              []chat.Question
}

// SubmissionResult 要么是即时回复，要么是待轮询的任务。
type SubmissionResult struct {
	Immediate *Reply
	JobID     string
}

func submissionFrom(res chat.SendResult) SubmissionResult {
	if res.JobID != "" {
		return SubmissionResult{JobID: res.JobID}
	}
	return SubmissionResult{Immediate: &Reply{
		Content:                res.Response,
		ServerMessageID:        res.MessageID,
		SupplementaryMaterials: res.SupplementaryMaterials,
		ActionCard:             res.ActionCard,
		Questions:              res.Questions,
	}}
}

// OutcomeKind 一次轮询的终态。
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeFailed
	OutcomeTimedOut
	OutcomeTransportError
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind     OutcomeKind
	Reply    Reply
	Attempts int
	Err      error
}

// Poller 轮询后端任务直到终态。
//
// completed/failed/error 以外的状态继续轮询直到次数上限，传输错误第一次出现即结束。
type Poller struct {
	api         JobAPI
	interval    time.Duration
	maxAttempts int
	sleep       Sleeper
	logger      *zap.Logger
}

type PollerOption func(*Poller)

// WithPollInterval 设置轮询间隔。
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithMaxAttempts 设置最大轮询次数。
func WithMaxAttempts(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithSleeper 替换默认的等待实现，主要用于测试。
func WithSleeper(s Sleeper) PollerOption {
	return func(p *Poller) {
		if s != nil {
			p.sleep = s
		}
	}
}

// NewPoller 创建轮询器，默认间隔 1s、最多 120 次。
func NewPoller(api JobAPI, logger *zap.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		api:         api,
		interval:    DefaultPollInterval,
		maxAttempts: DefaultPollMaxAttempts,
		sleep:       Sleep,
		logger:      logger.Named("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll 轮询 jobID，所有结束方式都体现在 Outcome 中。
func (p *Poller) Poll(ctx context.Context, jobID string) Outcome {
	log := p.logger.With(zap.String("jobId", jobID))

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: OutcomeCanceled, Attempts: attempt - 1, Err: err}
		}

		job, err := p.api.GetJobStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Kind: OutcomeCanceled, Attempts: attempt, Err: ctx.Err()}
			}
			log.Warn("job status request failed", zap.Int("attempt", attempt), zap.Error(err))
			return Outcome{Kind: OutcomeTransportError, Attempts: attempt, Err: err}
		}

		switch status := job.Status.Normalize(); status {
		case chat.JobCompleted:
			log.Info("job completed", zap.Int("attempts", attempt))
			return Outcome{Kind: OutcomeCompleted, Reply: replyFromJob(job), Attempts: attempt}
		case chat.JobFailed, chat.JobError:
			log.Warn("job failed", zap.String("status", string(status)), zap.String("error", job.Error))
			return Outcome{Kind: OutcomeFailed, Attempts: attempt}
		case chat.JobProcessing, chat.JobActive, chat.JobPending:
			log.Debug("job still running", zap.String("status", string(status)), zap.Int("attempt", attempt))
		default:
			log.Warn("unknown job status, keep waiting", zap.String("status", string(job.Status)))
		}

		if attempt == p.maxAttempts {
			break
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return Outcome{Kind: OutcomeCanceled, Attempts: attempt, Err: err}
		}
	}

	log.Warn("job polling timed out", zap.Int("attempts", p.maxAttempts))
	return Outcome{Kind: OutcomeTimedOut, Attempts: p.maxAttempts}
}

func replyFromJob(job chat.Job) Reply {
	reply := Reply{Content: job.Response}
	if r := job.Result; r != nil {
		if r.AIReply != "" {
			reply.Content = r.AIReply
		}
		reply.ServerMessageID = r.MessageID
		reply.SupplementaryMaterials = r.SupplementaryMaterials
		reply.ActionCard = r.ActionCard
		reply.Questions = r.Questions
	}
	return reply
}
