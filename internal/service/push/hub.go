package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/qinghe-assistant/internal/metrics"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

// FrameDiagnosisResult 诊断结果推送帧类型。
const FrameDiagnosisResult = "diagnosis_result"

// Frame 是推送给客户端的一帧。
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Options 连接参数。
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	Metrics      *metrics.Metrics
}

// DefaultOptions 默认连接参数。
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   16,
	}
}

type client struct {
	id             string
	conversationID string
	conn           *websocket.Conn
	send           chan []byte
}

// Hub 管理所有推送连接。
type Hub struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates an empty hub.
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	return &Hub{
		opts:    opts,
		logger:  logger.Named("push"),
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// Attach 接管一个已升级的连接，直到连接关闭或 ctx 结束。
// conversationID 为空时接收所有对话的事件。
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn, conversationID string) error {
	c := &client{
		id:             uuid.NewString(),
		conversationID: conversationID,
		conn:           conn,
		send:           make(chan []byte, h.opts.SendBuffer),
	}
	h.add(c)
	defer h.remove(c.id)

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log := h.logger.With(zap.String("client", c.id), zap.String("conversationId", conversationID))
	log.Info("push client attached")

	conn.SetReadDeadline(h.now().Add(h.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(h.now().Add(h.opts.ReadTimeout))
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return h.readLoop(c)
	})
	g.Go(func() error {
		return h.writeLoop(gctx, c)
	})

	err := g.Wait()
	log.Info("push client detached", zap.Error(err))
	if err == nil || isClosed(err) || parent.Err() != nil {
		return nil
	}
	return err
}

// 客户端只会发 pong 和 close，读循环负责驱动控制帧。
func (h *Hub) readLoop(c *client) error {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) error {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := h.now().Add(h.opts.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil
		case payload := <-c.send:
			c.conn.SetWriteDeadline(h.now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(h.now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

// Publish 把诊断结果推给订阅了该对话的连接，返回投递数。
// 发送缓冲已满的连接会丢弃这一帧，客户端关闭拍摄页后的刷新会补齐。
func (h *Hub) Publish(ev chat.DiagnosisEvent) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}
	payload, err := json.Marshal(Frame{
		Type:      FrameDiagnosisResult,
		Data:      ev,
		Timestamp: ev.Timestamp.UnixMilli(),
	})
	if err != nil {
		h.logger.Error("encode diagnosis frame", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.clients {
		if c.conversationID != "" && c.conversationID != ev.ConversationID {
			continue
		}
		select {
		case c.send <- payload:
			delivered++
			h.opts.Metrics.PushFrame("delivered")
		default:
			h.opts.Metrics.PushFrame("dropped")
			h.logger.Warn("push buffer full, frame dropped",
				zap.String("client", c.id), zap.String("messageId", ev.MessageID))
		}
	}
	return delivered
}

// Count 返回当前连接数。
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll 关闭所有连接。
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.conn.Close()
		delete(h.clients, id)
		h.opts.Metrics.PushClientRemoved()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.opts.Metrics.PushClientAdded()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		h.opts.Metrics.PushClientRemoved()
	}
}

func isClosed(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent)
}
