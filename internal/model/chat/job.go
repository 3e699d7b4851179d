package chat

import (
	"strings"
	"time"
)

// JobStatus 后端异步任务状态。未知取值一律视为仍在处理中。
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobActive     JobStatus = "active"
	JobPending    JobStatus = "pending"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobError      JobStatus = "error"
)

// Normalize lowercases the raw status string.
func (s JobStatus) Normalize() JobStatus {
	return JobStatus(strings.ToLower(strings.TrimSpace(string(s))))
}

// Terminal reports whether the status ends polling.
func (s JobStatus) Terminal() bool {
	switch s.Normalize() {
	case JobCompleted, JobFailed, JobError:
		return true
	default:
		return false
	}
}

// TokenUsage 模型用量。
type TokenUsage struct {
	Prompt     int `json:"prompt,omitempty"`
	Completion int `json:"completion,omitempty"`
	Total      int `json:"total,omitempty"`
}

// JobResult 任务完成后的结果。
type JobResult struct {
	Success                bool        `json:"success"`
	ConversationID         string      `json:"conversationId,omitempty"`
	AIReply                string      `json:"aiReply,omitempty"`
	MessageID              string      `json:"messageId,omitempty"`
	SupplementaryMaterials []string    `json:"supplementaryMaterials,omitempty"`
	ActionCard             *ActionCard `json:"actionCard,omitempty"`
	Questions              []Question  `json:"questions,omitempty"`
	TokenUsage             *TokenUsage `json:"tokenUsage,omitempty"`
}

// Job 是 getJobStatus 返回的任务快照。
type Job struct {
	JobID    string     `json:"jobId"`
	Status   JobStatus  `json:"status"`
	Response string     `json:"response,omitempty"`
	Error    string     `json:"error,omitempty"`
	Result   *JobResult `json:"result,omitempty"`
}

// SendResult 是发送消息接口的返回：要么直接带回复，要么带 jobId。
type SendResult struct {
	ConversationID         string      `json:"conversationId"`
	MessageID              string      `json:"messageId,omitempty"`
	Response               string      `json:"response,omitempty"`
	JobID                  string      `json:"jobId,omitempty"`
	Status                 string      `json:"status"`
	UserMessage            string      `json:"userMessage,omitempty"`
	EstimatedTime          string      `json:"estimatedTime,omitempty"`
	UseQueue               bool        `json:"useQueue"`
	SupplementaryMaterials []string    `json:"supplementaryMaterials,omitempty"`
	ActionCard             *ActionCard `json:"actionCard,omitempty"`
	Questions              []Question  `json:"questions,omitempty"`
}

// DiagnosisEvent 是服务端推送的诊断结果事件。
type DiagnosisEvent struct {
	ConversationID         string      `json:"conversationId"`
	MessageID              string      `json:"messageId"`
	DiagnosisMessage       string      `json:"diagnosisMessage"`
	DiagnosisType          string      `json:"diagnosisType,omitempty"`
	Timestamp              time.Time   `json:"timestamp"`
	SupplementaryMaterials []string    `json:"supplementaryMaterials,omitempty"`
	ActionCard             *ActionCard `json:"actionCard,omitempty"`
}

// DiagnosisReport 诊断报告详情，仅用于报告查看，不进入对话记录。
type DiagnosisReport struct {
	ID            string    `json:"id"`
	DiagnosisType string    `json:"diagnosisType"`
	Constitution  string    `json:"constitution"`
	Summary       string    `json:"summary"`
	Suggestions   []string  `json:"suggestions,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
