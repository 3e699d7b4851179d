package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/qinghe-assistant/internal/metrics"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is not running")
)

// Task 生成一条回复。返回的错误会让任务进入 failed 状态。
type Task func(ctx context.Context) (chat.JobResult, error)

type pending struct {
	id   string
	task Task
}

// Config 控制队列容量与 worker 数量。
type Config struct {
	Workers   int
	QueueSize int
	// MinLatency 保证任务至少处于 active 这么久，模拟真实模型耗时。
	MinLatency time.Duration
	// Retention 完成的任务保留多久可查询。
	Retention time.Duration
	Metrics   *metrics.Metrics
}

// Queue 是内存中的异步任务队列。
type Queue struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	pending chan pending

	mu      sync.RWMutex
	jobs    map[string]*record
	running bool
}

type record struct {
	job      chat.Job
	finished time.Time
}

// NewQueue creates a queue. Call Run to start workers.
func NewQueue(cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * time.Minute
	}
	return &Queue{
		cfg:     cfg,
		logger:  logger.Named("jobs"),
		now:     time.Now,
		sleep:   sleepCtx,
		pending: make(chan pending, cfg.QueueSize),
		jobs:    make(map[string]*record),
	}
}

// Submit 入队一个任务，返回 jobId。
func (q *Queue) Submit(task Task) (string, error) {
	id := uuid.NewString()

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return "", ErrQueueClosed
	}

	select {
	case q.pending <- pending{id: id, task: task}:
	default:
		return "", ErrQueueFull
	}
	q.jobs[id] = &record{job: chat.Job{JobID: id, Status: chat.JobPending}}
	return id, nil
}

// Get 返回任务快照。
func (q *Queue) Get(id string) (chat.Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	rec, ok := q.jobs[id]
	if !ok {
		return chat.Job{}, ErrJobNotFound
	}
	job := rec.job
	if job.Result != nil {
		res := *job.Result
		job.Result = &res
	}
	return job, nil
}

// Run starts the workers and blocks until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			q.work(ctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		q.sweep(ctx)
		return nil
	})

	q.logger.Info("job workers started", zap.Int("workers", q.cfg.Workers))
	return g.Wait()
}

func (q *Queue) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-q.pending:
			q.process(ctx, worker, p)
		}
	}
}

func (q *Queue) process(ctx context.Context, worker int, p pending) {
	log := q.logger.With(zap.String("jobId", p.id), zap.Int("worker", worker))
	q.update(p.id, func(job *chat.Job) { job.Status = chat.JobActive })

	start := q.now()
	result, err := runTask(ctx, p.task)
	if wait := q.cfg.MinLatency - q.now().Sub(start); wait > 0 {
		if sleepErr := q.sleep(ctx, wait); sleepErr != nil && err == nil {
			err = sleepErr
		}
	}

	if err != nil {
		log.Warn("job failed", zap.Error(err))
		q.cfg.Metrics.JobFinished(string(chat.JobFailed), q.now().Sub(start))
		q.finish(p.id, func(job *chat.Job) {
			job.Status = chat.JobFailed
			job.Error = err.Error()
		})
		return
	}

	log.Info("job completed", zap.Duration("elapsed", q.now().Sub(start)))
	q.cfg.Metrics.JobFinished(string(chat.JobCompleted), q.now().Sub(start))
	q.finish(p.id, func(job *chat.Job) {
		job.Status = chat.JobCompleted
		job.Response = result.AIReply
		job.Result = &result
	})
}

// runTask 把 panic 转成任务失败，worker 不退出。
func runTask(ctx context.Context, task Task) (res chat.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task(ctx)
}

func (q *Queue) update(id string, fn func(*chat.Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec, ok := q.jobs[id]; ok {
		fn(&rec.job)
	}
}

func (q *Queue) finish(id string, fn func(*chat.Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec, ok := q.jobs[id]; ok {
		fn(&rec.job)
		rec.finished = q.now()
	}
}

func (q *Queue) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.purge()
		}
	}
}

func (q *Queue) purge() int {
	cutoff := q.now().Add(-q.cfg.Retention)
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, rec := range q.jobs {
		if !rec.finished.IsZero() && rec.finished.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		q.logger.Debug("expired jobs purged", zap.Int("count", removed))
	}
	return removed
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
