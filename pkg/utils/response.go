package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Envelope 是所有接口的统一返回格式。
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// RespondJSON 发送成功响应
func RespondJSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Status: "success", Data: data})
}

// RespondMessage 发送带提示语的成功响应
func RespondMessage(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Status: "success", Message: message, Data: data})
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	write(w, status, Envelope{Status: "error", Message: message})
}

// DecodeJSON 解析请求体，限制 1MB。
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(dst)
}

func write(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}
