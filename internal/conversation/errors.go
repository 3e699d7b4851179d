package conversation

import (
	"errors"
	"strings"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoConversation = errors.New("no active conversation")
	ErrBusy           = errors.New("a message is already being sent")
	ErrCardNotFound   = errors.New("action card not found")
	ErrUnknownAction  = errors.New("unknown card action")
)

// 操作失败时插入的助手文案。
const (
	TextSendFailed    = "抱歉，消息发送失败，请稍后重试。"
	TextJobFailed     = "抱歉，处理您的问题时出现了错误，请稍后重试。"
	TextPollFailed    = "抱歉，获取响应时出现了错误，请稍后重试。"
	TextTimedOut      = "抱歉，响应超时，请稍后重试。"
	TextUpgradePrompt = "今日免费对话次数已用完，升级会员即可继续与健康助手畅聊。"
	TextReportFailed  = "获取诊断详情失败，请稍后重试。"
)

var usageLimitPhrases = []string{
	"次数已达上限",
	"次数已用完",
	"使用次数",
	"额度已用完",
	"quota exceeded",
	"usage limit",
	"rate limit exceeded",
}

// IsUsageLimit 判断 err 是否为每日次数用尽。后端只在错误文本里体现这一点。
func IsUsageLimit(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, phrase := range usageLimitPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
