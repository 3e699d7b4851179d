package chat

// FollowUp 是问卷完成后服务端返回的后续消息（通常带一张拍照卡片）。
type FollowUp struct {
	MessageID  string      `json:"messageId,omitempty"`
	Message    string      `json:"message"`
	ActionCard *ActionCard `json:"actionCard,omitempty"`
}
