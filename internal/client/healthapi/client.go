// Package healthapi talks to the health assistant backend over HTTP.
package healthapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/conversation"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
)

var _ conversation.Backend = (*Client)(nil)

// APIError 是服务端返回的业务错误或非 2xx 响应。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("health api: http %d", e.StatusCode)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

type envelope struct {
	Status  string          `json:"status"`
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	if e.Success != nil {
		return *e.Success
	}
	return strings.EqualFold(e.Status, "success")
}

// Client 实现 conversation.Backend。
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	logger  *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for baseURL, e.g. "http://localhost:8080/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("healthapi")
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	c.logger.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.ok() {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s data: %w", method, path, err)
	}
	return nil
}

// CreateConversation 开始新对话。
func (c *Client) CreateConversation(ctx context.Context) (chat.Conversation, error) {
	var conv chat.Conversation
	if err := c.do(ctx, http.MethodPost, "/health/chat/new", nil, nil, &conv); err != nil {
		return chat.Conversation{}, err
	}
	if conv.ID == "" {
		return chat.Conversation{}, errors.New("create conversation: empty conversationId")
	}
	return conv, nil
}

type sendRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// SendMessage 发送一条用户消息。
func (c *Client) SendMessage(ctx context.Context, text, conversationID string) (chat.SendResult, error) {
	var res chat.SendResult
	err := c.do(ctx, http.MethodPost, "/health/chat", nil, sendRequest{Message: text, ConversationID: conversationID}, &res)
	return res, err
}

// GetJobStatus 查询对话任务状态。
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (chat.Job, error) {
	var job chat.Job
	err := c.do(ctx, http.MethodGet, "/health/chat/job/"+url.PathEscape(jobID), nil, nil, &job)
	return job, err
}

// wireHistoryMessage 兼容 id / messageId 两种字段名。
type wireHistoryMessage struct {
	chat.HistoryMessage
	MessageID string `json:"messageId,omitempty"`
}

type messagesPage struct {
	ConversationID string               `json:"conversationId"`
	Messages       []wireHistoryMessage `json:"messages"`
	Total          int                  `json:"total"`
}

// GetConversationMessages 获取指定对话的消息记录。
func (c *Client) GetConversationMessages(ctx context.Context, conversationID string, page, limit int) ([]chat.HistoryMessage, error) {
	q := url.Values{}
	q.Set("conversationId", conversationID)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var data messagesPage
	if err := c.do(ctx, http.MethodGet, "/health/chat/history", q, nil, &data); err != nil {
		return nil, err
	}

	out := make([]chat.HistoryMessage, 0, len(data.Messages))
	for _, m := range data.Messages {
		msg := m.HistoryMessage
		if msg.ID == "" {
			msg.ID = m.MessageID
		}
		out = append(out, msg)
	}
	return out, nil
}

type conversationsPage struct {
	Conversations []chat.ConversationSummary `json:"conversations"`
	Pagination    chat.Pagination            `json:"pagination"`
}

// ListConversations 获取对话历史列表。
func (c *Client) ListConversations(ctx context.Context, page, limit int) ([]chat.ConversationSummary, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var data conversationsPage
	if err := c.do(ctx, http.MethodGet, "/health/chat/history", q, nil, &data); err != nil {
		return nil, err
	}
	return data.Conversations, nil
}

// DeleteConversation 删除对话。
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/health/chat/conversation/"+url.PathEscape(conversationID), nil, nil, nil)
}

type answersRequest struct {
	ConversationID string            `json:"conversationId"`
	Answers        map[string]string `json:"answers"`
}

// SaveQuestionnaireAnswers 保存问卷答案。
func (c *Client) SaveQuestionnaireAnswers(ctx context.Context, conversationID string, answers map[string]string) error {
	return c.do(ctx, http.MethodPost, "/health/questionnaire/answers", nil, answersRequest{ConversationID: conversationID, Answers: answers}, nil)
}

type completedRequest struct {
	ConversationID string `json:"conversationId"`
	DiagnosisType  string `json:"diagnosisType"`
}

// QuestionnaireCompleted 通知问卷完成，返回后续拍摄卡片消息（可能为空）。
func (c *Client) QuestionnaireCompleted(ctx context.Context, conversationID, diagnosisType string) (*chat.FollowUp, error) {
	var followUp chat.FollowUp
	if err := c.do(ctx, http.MethodPost, "/health/questionnaire/completed", nil,
		completedRequest{ConversationID: conversationID, DiagnosisType: diagnosisType}, &followUp); err != nil {
		return nil, err
	}
	if followUp.Message == "" && followUp.ActionCard == nil {
		return nil, nil
	}
	return &followUp, nil
}

// GetQuestionnaire 获取诊断前问卷。
func (c *Client) GetQuestionnaire(ctx context.Context, diagnosisType string) (questionnaire.Questionnaire, error) {
	var q questionnaire.Questionnaire
	err := c.do(ctx, http.MethodGet, "/health/questionnaire/"+url.PathEscape(diagnosisType), nil, nil, &q)
	return q, err
}

type diagnosisRequest struct {
	ConversationID string `json:"conversationId"`
}

// SubmitDiagnosis 提交一次拍摄，结果通过推送到达。
func (c *Client) SubmitDiagnosis(ctx context.Context, conversationID, diagnosisType string) error {
	return c.do(ctx, http.MethodPost, "/health/diagnosis/"+url.PathEscape(diagnosisType), nil,
		diagnosisRequest{ConversationID: conversationID}, nil)
}

// GetDiagnosisReport 获取诊断报告详情。
func (c *Client) GetDiagnosisReport(ctx context.Context, reportID string) (chat.DiagnosisReport, error) {
	var report chat.DiagnosisReport
	err := c.do(ctx, http.MethodGet, "/health/diagnosis/report/"+url.PathEscape(reportID), nil, nil, &report)
	return report, err
}
