package healthapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

// FrameDiagnosisResult 是诊断结果推送帧的类型。
const FrameDiagnosisResult = "diagnosis_result"

// Frame 推送通道上的一帧。
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// EventsURL derives the websocket push endpoint from the HTTP API root.
func EventsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path += "/health/events"
	return u.String(), nil
}

// Subscriber 订阅诊断结果推送，断线后自动重连。
type Subscriber struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	backoff time.Duration
	logger  *zap.Logger
}

// NewSubscriber creates a subscriber for the websocket url.
func NewSubscriber(wsURL, token string, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Subscriber{
		url:     wsURL,
		header:  header,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: 2 * time.Second,
		logger:  logger.Named("push"),
	}
}

// Run delivers diagnosis events to handle until ctx is done.
func (s *Subscriber) Run(ctx context.Context, handle func(chat.DiagnosisEvent)) error {
	for {
		err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("push connection lost, reconnecting", zap.Error(err), zap.Duration("backoff", s.backoff))

		timer := time.NewTimer(s.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Subscriber) session(ctx context.Context, handle func(chat.DiagnosisEvent)) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: http %d: %w", s.url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("push connected", zap.String("url", s.url))

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}
		if frame.Type != FrameDiagnosisResult {
			s.logger.Debug("push frame ignored", zap.String("type", frame.Type))
			continue
		}

		var ev chat.DiagnosisEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			s.logger.Warn("bad diagnosis frame", zap.Error(err))
			continue
		}
		if ev.Timestamp.IsZero() && frame.Timestamp > 0 {
			ev.Timestamp = time.UnixMilli(frame.Timestamp)
		}
		handle(ev)
	}
}
