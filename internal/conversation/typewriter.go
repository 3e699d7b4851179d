package conversation

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultTypewriterBatch = 3
	DefaultTypewriterDelay = 50 * time.Millisecond
)

// TypewriterHooks 接收逐字显示的进度，均在显示协程中调用，不可阻塞。
// OnDone 的 completed 为 false 表示显示被取消，文本未完整展示。
type TypewriterHooks struct {
	OnProgress func(messageID, displayed string)
	OnDone     func(messageID string, completed bool)
}

// Typewriter 每次追加几个字符，模拟打字效果。
//
// 同一时刻只有一条消息在显示：新的 Reveal 会取消上一条并覆盖共享缓冲。
type Typewriter struct {
	batch int
	delay time.Duration
	sleep Sleeper
	hooks TypewriterHooks

	mu        sync.Mutex
	gen       uint64
	displayed []rune
	typing    bool
	messageID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewTypewriter 创建打字机，零值回退到每批 3 个字符、间隔 50ms。
func NewTypewriter(batch int, delay time.Duration, sleep Sleeper, hooks TypewriterHooks) *Typewriter {
	if batch <= 0 {
		batch = DefaultTypewriterBatch
	}
	if delay < 0 {
		delay = DefaultTypewriterDelay
	}
	if sleep == nil {
		sleep = Sleep
	}
	closed := make(chan struct{})
	close(closed)
	return &Typewriter{batch: batch, delay: delay, sleep: sleep, hooks: hooks, done: closed}
}

// Reveal 开始显示 messageID 的文本，立即返回。
func (t *Typewriter) Reveal(ctx context.Context, messageID, text string) {
	runCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.gen++
	gen := t.gen
	t.displayed = t.displayed[:0]
	t.typing = true
	t.messageID = messageID
	t.cancel = cancel
	done := make(chan struct{})
	t.done = done
	t.mu.Unlock()

	go t.run(runCtx, cancel, gen, messageID, []rune(text), done)
}

func (t *Typewriter) run(ctx context.Context, cancel context.CancelFunc, gen uint64, messageID string, text []rune, done chan struct{}) {
	defer close(done)
	defer cancel()

	completed := ctx.Err() == nil
	for start := 0; completed && start < len(text); start += t.batch {
		if ctx.Err() != nil {
			completed = false
			break
		}
		end := min(start+t.batch, len(text))

		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.displayed = append(t.displayed, text[start:end]...)
		shown := string(t.displayed)
		t.mu.Unlock()

		if t.hooks.OnProgress != nil {
			t.hooks.OnProgress(messageID, shown)
		}

		if end == len(text) {
			break
		}
		if err := t.sleep(ctx, t.delay); err != nil {
			completed = false
			break
		}
	}

	t.mu.Lock()
	current := t.gen == gen
	if current {
		t.typing = false
		t.cancel = nil
	}
	t.mu.Unlock()

	if current && t.hooks.OnDone != nil {
		t.hooks.OnDone(messageID, completed)
	}
}

// Stop 取消当前的显示。
func (t *Typewriter) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait 阻塞到最近一次显示结束。
func (t *Typewriter) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	<-done
}

// Displayed 返回已显示的文本。
func (t *Typewriter) Displayed() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.displayed)
}

func (t *Typewriter) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// TypingMessageID 返回正在显示的消息 id，空闲时为 ""。
func (t *Typewriter) TypingMessageID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.typing {
		return ""
	}
	return t.messageID
}

// IsRevealing 判断 messageID 是否正在显示，期间其卡片保持隐藏。
func (t *Typewriter) IsRevealing(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing && t.messageID == messageID
}
